package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/deckupload/internal/metrics"
)

// ExtractText returns the text of a .pptx upload. The file is staged in its
// own workspace, which is removed before returning.
func (o *Orchestrator) ExtractText(ctx context.Context, u Upload) (string, error) {
	if u.FileName != "" && u.Ext() != "pptx" {
		return "", invalid("file", "only .pptx files are supported")
	}
	if _, err := o.screen(ctx, u); err != nil {
		return "", err
	}

	dir, err := o.deps.Workspace.Acquire()
	if err != nil {
		return "", fmt.Errorf("acquire workspace: %w", err)
	}
	defer func() {
		if err := o.deps.Workspace.Release(dir); err != nil {
			log.Error().Err(err).Str("workspace", dir).Msg("failed to remove workspace")
		}
	}()

	input := filepath.Join(dir, "input.pptx")
	if err := os.WriteFile(input, u.Data, 0o600); err != nil {
		return "", fmt.Errorf("stage upload: %w", err)
	}
	start := time.Now()
	text, err := o.deps.Extractor.ExtractText(ctx, input)
	metrics.ObserveConverter("extract", err, time.Since(start))
	return text, err
}

type classifyRequest struct {
	Text     string `json:"text"`
	Filename string `json:"filename"`
}

func (o *Orchestrator) handleClassifyText(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req classifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, invalid("", "invalid JSON body"))
		return
	}
	meta, err := o.ClassifyText(context.WithoutCancel(r.Context()), req.Text, req.Filename)
	if err != nil {
		log.Error().Err(err).Str("file", req.Filename).Msg("text classification failed")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (o *Orchestrator) handleExtractText(w http.ResponseWriter, r *http.Request) {
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

	text, err := o.ExtractText(context.WithoutCancel(r.Context()), Upload{FileName: name, Data: data})
	if err != nil {
		log.Error().Err(err).Str("file", name).Msg("text extraction failed")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}
