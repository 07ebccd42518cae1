package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/local/deckupload/internal/records"
)

// DirectUpload is a presentation whose previews were rendered by the client.
type DirectUpload struct {
	Upload
	Previews   []string
	Thumbnails []string
}

// RunDirect stores a presentation with client supplied previews. Nothing is
// converted, so no workspace is used and the page count is the number of previews.
func (o *Orchestrator) RunDirect(ctx context.Context, u DirectUpload) (res Result, err error) {
	r := o.newRun(ctx, pipelineDirect)
	defer func() {
		if err != nil {
			r.finish(ctx, StageFailed, "Upload failed", err)
		}
	}()

	mime, err := o.screen(ctx, u.Upload)
	if err != nil {
		return Result{}, err
	}
	if err := checkMetadata(&u.Upload); err != nil {
		return Result{}, err
	}
	if len(u.Previews) != len(u.Thumbnails) {
		return Result{}, invalid("previews", fmt.Sprintf("got %d previews but %d thumbnails", len(u.Previews), len(u.Thumbnails)))
	}
	previews, err := decodeAll(u.Previews, "previews")
	if err != nil {
		return Result{}, err
	}
	thumbs, err := decodeAll(u.Thumbnails, "thumbnails")
	if err != nil {
		return Result{}, err
	}

	res, err = r.persist(ctx, persistRequest{
		file: records.NewFile{
			Title:       u.Title,
			Slug:        o.slugs.Next(u.Title),
			Description: u.Description,
			Category:    u.Category,
			Subcategory: u.Subcategory,
			Tags:        u.Tags,
			FileName:    u.FileName,
			FileSize:    int64(len(u.Data)),
			FileType:    u.Ext(),
			PageCount:   len(previews),
			CreatedAt:   o.now().UTC(),
		},
		original:    u.Data,
		contentType: mime,
		previews:    previews,
		thumbnails:  thumbs,
	})
	if err != nil {
		return Result{}, err
	}

	r.finish(ctx, StageDone, "Upload complete", nil)
	r.announce(ctx, res)
	return res, nil
}

func decodeAll(urls []string, field string) ([]blob, error) {
	out := make([]blob, len(urls))
	for i, s := range urls {
		b, err := decodeDataURL(s)
		if err != nil {
			return nil, invalid(field, fmt.Sprintf("%s[%d]: %v", field, i, err))
		}
		out[i] = b
	}
	return out, nil
}

type directData struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	FileName  string    `json:"fileName"`
	FileURL   string    `json:"fileUrl"`
	FileSize  int64     `json:"fileSize"`
	FileType  string    `json:"fileType"`
	CreatedAt time.Time `json:"createdAt"`
}

type directResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    *directData `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func (o *Orchestrator) handleDirect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	fail := func(err error) {
		status, msg := describe(err)
		writeJSON(w, status, directResponse{Success: false, Message: msg, Error: err.Error()})
	}

	// previews and thumbnails arrive as text fields and can fill the whole body
	u, err := o.uploadForm(w, r, o.bodyLimit())
	if err != nil {
		fail(err)
		return
	}
	previews, err := decodeList(r.FormValue("previews"), "previews")
	if err != nil {
		fail(err)
		return
	}
	thumbs, err := decodeList(r.FormValue("thumbnails"), "thumbnails")
	if err != nil {
		fail(err)
		return
	}

	res, err := o.RunDirect(context.WithoutCancel(r.Context()), DirectUpload{Upload: u, Previews: previews, Thumbnails: thumbs})
	if err != nil {
		fail(err)
		return
	}
	writeJSON(w, http.StatusCreated, directResponse{
		Success: true,
		Message: "File uploaded successfully",
		Data: &directData{
			ID:        res.ID,
			Title:     res.Title,
			FileName:  res.FileName,
			FileURL:   o.fileURL(res.FileKey),
			FileSize:  res.FileSize,
			FileType:  res.FileType,
			CreatedAt: res.CreatedAt,
		},
	})
}
