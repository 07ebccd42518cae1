package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/local/deckupload/internal/classifier"
	"github.com/local/deckupload/internal/metrics"
	"github.com/local/deckupload/internal/records"
)

// RunAssisted converts a presentation, skips it when it has fewer than
// MinPages pages, and otherwise lets the classifier supply its metadata.
func (o *Orchestrator) RunAssisted(ctx context.Context, u Upload) (res Result, err error) {
	r := o.newRun(ctx, pipelineAssisted)
	defer func() {
		if err != nil {
			r.finish(ctx, StageFailed, "Processing failed", err)
		}
	}()

	mime, err := o.screen(ctx, u)
	if err != nil {
		return Result{}, err
	}

	dir, input, err := r.stageUpload(ctx, u)
	defer r.release(dir)
	if err != nil {
		return Result{}, err
	}

	conv, err := r.convert(ctx, dir, input)
	if err != nil {
		return Result{}, err
	}
	if pages := conv.PageCount(); pages < o.opts.MinPages {
		reason := fmt.Sprintf("Presentation has %d pages, at least %d are required", pages, o.opts.MinPages)
		r.finish(ctx, StageSkipped, reason, nil)
		return Result{UploadID: r.id, FileName: u.FileName, PageCount: pages, Skipped: true, SkipReason: reason}, nil
	}

	meta, err := r.classify(ctx, input, u.FileName)
	if err != nil {
		return Result{}, err
	}

	base := meta.Slug
	if base == "" {
		base = meta.Title
	}
	res, err = r.persist(ctx, persistRequest{
		file: records.NewFile{
			Title:       meta.Title,
			Slug:        o.slugs.Next(base),
			Description: meta.Description,
			Category:    meta.Category,
			Subcategory: meta.Subcategory,
			Tags:        meta.Tags,
			FileName:    u.FileName,
			FileSize:    int64(len(u.Data)),
			FileType:    u.Ext(),
			PageCount:   conv.PageCount(),
			CreatedAt:   o.now().UTC(),
		},
		original:    u.Data,
		contentType: mime,
		previews:    fileBlobs(conv.Previews),
		thumbnails:  fileBlobs(conv.Thumbnails),
	})
	if err != nil {
		return Result{}, err
	}

	r.finish(ctx, StageDone, "Processing complete", nil)
	r.announce(ctx, res)
	return res, nil
}

// classify extracts the staged presentation's text and asks the model for its metadata.
func (r *run) classify(ctx context.Context, input, fileName string) (classifier.Result, error) {
	o := r.o
	r.enter(ctx, StageClassifying, "Extracting text")
	start := time.Now()
	text, err := o.deps.Extractor.ExtractText(ctx, input)
	metrics.ObserveConverter("extract", err, time.Since(start))
	if err != nil {
		return classifier.Result{}, err
	}

	r.log.Debug().Int("chars", len(text)).Msg("text extracted, classifying")
	start = time.Now()
	meta, err := o.deps.Classifier.Classify(ctx, text, fileName)
	metrics.ObserveClassifier(o.opts.ClassifierEngine, o.opts.ClassifierModel, err, time.Since(start))
	if err != nil {
		return classifier.Result{}, err
	}

	meta.Title = sanitize(meta.Title)
	meta.Description = sanitize(meta.Description)
	for i, t := range meta.Tags {
		meta.Tags[i] = sanitize(t)
	}
	meta.Tags = dedupeTags(meta.Tags)
	return meta, nil
}

// ClassifyText classifies free text without touching storage.
func (o *Orchestrator) ClassifyText(ctx context.Context, text, fileName string) (classifier.Result, error) {
	if text == "" {
		return classifier.Result{}, invalid("text", "text is required")
	}
	start := time.Now()
	meta, err := o.deps.Classifier.Classify(ctx, text, fileName)
	metrics.ObserveClassifier(o.opts.ClassifierEngine, o.opts.ClassifierModel, err, time.Since(start))
	return meta, err
}

func (o *Orchestrator) handleAssisted(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := o.parseMultipart(w, r, formMemory); err != nil {
		writeError(w, err)
		return
	}
	defer r.MultipartForm.RemoveAll()
	name, data, err := readFile(r)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := o.RunAssisted(context.WithoutCancel(r.Context()), Upload{FileName: name, Data: data})
	if err != nil {
		writeError(w, err)
		return
	}
	if res.Skipped {
		writeJSON(w, http.StatusOK, map[string]any{
			"skipped":  true,
			"reason":   res.SkipReason,
			"fileName": res.FileName,
		})
		return
	}

	previewKeys := make([]string, len(res.Previews))
	thumbKeys := make([]string, len(res.Previews))
	for i, p := range res.Previews {
		previewKeys[i] = p.PreviewKey
		thumbKeys[i] = p.ThumbnailKey
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"id":            res.ID,
		"uploadId":      res.UploadID,
		"title":         res.Title,
		"slug":          res.Slug,
		"description":   res.Description,
		"category":      res.Category,
		"subcategory":   res.Subcategory,
		"tags":          res.Tags,
		"fileName":      res.FileName,
		"fileSize":      res.FileSize,
		"pageCount":     res.PageCount,
		"r2FileKey":     res.FileKey,
		"thumbnailKey":  res.ThumbnailKey,
		"previewKeys":   previewKeys,
		"thumbnailKeys": thumbKeys,
		"fileUrl":       o.fileURL(res.FileKey),
	})
}
