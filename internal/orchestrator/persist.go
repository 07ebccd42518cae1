package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/local/deckupload/internal/events"
	"github.com/local/deckupload/internal/filetype"
	"github.com/local/deckupload/internal/metrics"
	"github.com/local/deckupload/internal/records"
	"github.com/local/deckupload/internal/storage"
)

// compensateTimeout bounds the delete of an incomplete file row.
const compensateTimeout = 10 * time.Second

// blob is an image either already in memory or on disk inside the workspace.
type blob struct {
	path        string
	data        []byte
	ext         string
	contentType string
}

func fileBlobs(paths []string) []blob {
	out := make([]blob, len(paths))
	for i, p := range paths {
		out[i] = blob{path: p}
	}
	return out
}

// load reads the bytes if needed and derives the extension and content type from them.
func (b blob) load() (blob, error) {
	if b.data == nil {
		data, err := os.ReadFile(b.path)
		if err != nil {
			return b, fmt.Errorf("read %s: %w", filepath.Base(b.path), err)
		}
		b.data = data
	}
	if b.ext != "" && b.contentType != "" {
		return b, nil
	}
	ext, ct, err := filetype.DetectImage(b.data)
	if err != nil {
		ext = strings.TrimPrefix(strings.ToLower(filepath.Ext(b.path)), ".")
		ct = "application/octet-stream"
	}
	b.ext, b.contentType = ext, ct
	return b, nil
}

// Result is the outcome of one pipeline.
type Result struct {
	UploadID     string            `json:"uploadId"`
	ID           string            `json:"id,omitempty"`
	Slug         string            `json:"slug,omitempty"`
	Title        string            `json:"title,omitempty"`
	Description  string            `json:"description,omitempty"`
	Category     string            `json:"category,omitempty"`
	Subcategory  string            `json:"subcategory,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	FileName     string            `json:"fileName"`
	FileSize     int64             `json:"fileSize,omitempty"`
	FileType     string            `json:"fileType,omitempty"`
	PageCount    int               `json:"pageCount"`
	FileKey      string            `json:"r2FileKey,omitempty"`
	ThumbnailKey string            `json:"thumbnailKey,omitempty"`
	Previews     []records.Preview `json:"previews,omitempty"`
	CreatedAt    time.Time         `json:"createdAt,omitempty"`
	Skipped      bool              `json:"skipped,omitempty"`
	SkipReason   string            `json:"reason,omitempty"`
}

// persistRequest is everything the shared persist step needs.
type persistRequest struct {
	file        records.NewFile
	original    []byte
	contentType string
	previews    []blob
	thumbnails  []blob
}

// persist writes the file row, every blob, the preview rows and finally the
// storage keys. Any failure after the row exists deletes it again.
func (r *run) persist(ctx context.Context, req persistRequest) (res Result, err error) {
	o := r.o
	if len(req.previews) != len(req.thumbnails) {
		return Result{}, fmt.Errorf("previews/thumbnails length mismatch: %d != %d", len(req.previews), len(req.thumbnails))
	}

	r.enter(ctx, StagePersistingPrimary, "Saving presentation record")
	id, err := o.deps.Records.InsertFile(ctx, req.file)
	if err != nil {
		return Result{}, err
	}
	r.fileID = id
	r.slug = req.file.Slug
	defer func() {
		if err != nil {
			r.compensate(id)
		}
	}()

	r.enter(ctx, StageUploadingAssets, fmt.Sprintf("Uploading %d pages", len(req.previews)))
	fileKey := storage.OriginalKey(o.opts.Namespace, id, req.file.FileName)
	err = o.deps.Blobs.Put(ctx, fileKey, req.original, req.contentType)
	metrics.IncAsset("original", err)
	if err != nil {
		return Result{}, err
	}

	var thumbKey string
	if len(req.thumbnails) > 0 {
		first, lerr := req.thumbnails[0].load()
		if lerr != nil {
			return Result{}, lerr
		}
		thumbKey = storage.ThumbnailKey(o.opts.Namespace, id, first.ext)
		err = o.deps.Blobs.Put(ctx, thumbKey, first.data, first.contentType)
		metrics.IncAsset("thumbnail", err)
		if err != nil {
			return Result{}, err
		}
	}

	rows, err := r.uploadPages(ctx, id, req.previews, req.thumbnails)
	if err != nil {
		return Result{}, err
	}

	if len(rows) > 0 {
		r.enter(ctx, StagePersistingPreviews, "Saving page previews")
		if err = o.deps.Records.InsertPreviews(ctx, rows); err != nil {
			return Result{}, err
		}
	}

	r.enter(ctx, StageFinalizing, "Finalizing")
	if err = o.deps.Records.UpdateFile(ctx, id, records.FilePatch{FileKey: fileKey, ThumbnailKey: thumbKey}); err != nil {
		return Result{}, err
	}

	return Result{
		UploadID:     r.id,
		ID:           id,
		Slug:         req.file.Slug,
		Title:        req.file.Title,
		Description:  req.file.Description,
		Category:     req.file.Category,
		Subcategory:  req.file.Subcategory,
		Tags:         req.file.Tags,
		FileName:     req.file.FileName,
		FileSize:     req.file.FileSize,
		FileType:     req.file.FileType,
		PageCount:    req.file.PageCount,
		FileKey:      fileKey,
		ThumbnailKey: thumbKey,
		Previews:     rows,
		CreatedAt:    req.file.CreatedAt,
	}, nil
}

// uploadPages stores each page's preview and thumbnail concurrently. rows[i]
// is always page i+1, whatever order the uploads complete in.
func (r *run) uploadPages(ctx context.Context, fileID string, previews, thumbs []blob) ([]records.Preview, error) {
	o := r.o
	rows := make([]records.Preview, len(previews))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.UploadConcurrency)

	for i := range previews {
		page := i + 1
		g.Go(func() error {
			prev, err := previews[i].load()
			if err != nil {
				return err
			}
			thumb, err := thumbs[i].load()
			if err != nil {
				return err
			}
			prevKey := storage.PreviewKey(o.opts.Namespace, fileID, page, prev.ext)
			err = o.deps.Blobs.Put(gctx, prevKey, prev.data, prev.contentType)
			metrics.IncAsset("preview", err)
			if err != nil {
				return err
			}
			thumbKey := storage.PreviewThumbKey(o.opts.Namespace, fileID, page, thumb.ext)
			err = o.deps.Blobs.Put(gctx, thumbKey, thumb.data, thumb.contentType)
			metrics.IncAsset("preview_thumbnail", err)
			if err != nil {
				return err
			}
			rows[i] = records.Preview{FileID: fileID, PageNumber: page, PreviewKey: prevKey, ThumbnailKey: thumbKey}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rows, nil
}

// compensate removes a file row whose pipeline failed. Blobs stay behind under
// the abandoned id, which is never reused.
func (r *run) compensate(fileID string) {
	ctx, cancel := context.WithTimeout(context.Background(), compensateTimeout)
	defer cancel()
	if err := r.o.deps.Records.DeleteFile(ctx, fileID); err != nil {
		r.log.Error().Err(err).Str("file_id", fileID).Msg("failed to delete incomplete file record")
		return
	}
	r.log.Warn().Str("file_id", fileID).Msg("deleted incomplete file record")
	r.fileID = ""
}

// announce publishes the completion event. Failures never fail the upload.
func (r *run) announce(ctx context.Context, res Result) {
	if r.o.deps.Events == nil {
		return
	}
	err := r.o.deps.Events.PublishUploaded(ctx, events.Uploaded{
		FileID:      res.ID,
		Slug:        res.Slug,
		Title:       res.Title,
		Category:    res.Category,
		Subcategory: res.Subcategory,
		PageCount:   res.PageCount,
		FileKey:     res.FileKey,
		Pipeline:    r.pipeline,
		At:          r.o.now(),
	})
	if err != nil {
		r.log.Warn().Err(err).Msg("failed to publish upload event")
	}
}
