package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/local/deckupload/internal/records"
)

// FileDetails is a stored presentation with its pages in order.
type FileDetails struct {
	records.File
	FileURL  string            `json:"fileUrl,omitempty"`
	Previews []records.Preview `json:"previews"`
}

// GetFile reads back a stored presentation.
func (o *Orchestrator) GetFile(ctx context.Context, id string) (FileDetails, error) {
	f, err := o.deps.Records.GetFile(ctx, id)
	if err != nil {
		return FileDetails{}, err
	}
	previews, err := o.deps.Records.ListPreviews(ctx, id)
	if err != nil {
		return FileDetails{}, err
	}
	if previews == nil {
		previews = []records.Preview{}
	}
	return FileDetails{File: f, FileURL: o.fileURL(f.FileKey), Previews: previews}, nil
}

func (o *Orchestrator) handleGetFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/files/"), "/")
	if id == "" {
		writeError(w, invalid("id", "file id is required"))
		return
	}
	details, err := o.GetFile(r.Context(), id)
	if errors.Is(err, records.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "File not found"})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (o *Orchestrator) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/uploads/")
	id = strings.Trim(strings.TrimSuffix(id, "/status"), "/")
	if id == "" {
		writeError(w, invalid("id", "upload id is required"))
		return
	}
	if o.deps.Status == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "Upload status tracking is disabled"})
		return
	}
	st, ok, err := o.deps.Status.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Upload not found"})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (o *Orchestrator) handleHealth(w http.ResponseWriter, r *http.Request) {
	if o.deps.Health == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
		return
	}
	sum := o.deps.Health.Summary(r.Context())
	status := http.StatusOK
	if !sum.Ready() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, sum)
}
