package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/local/deckupload/internal/converter"
	"github.com/local/deckupload/internal/metrics"
)

// screen runs the checks every uploaded presentation goes through before any
// side effect: size, name, extension, content sniffing and the optional malware scan.
func (o *Orchestrator) screen(ctx context.Context, u Upload) (string, error) {
	mime, err := o.checkFile(u)
	if err != nil {
		return "", err
	}
	if o.deps.Scanner != nil {
		if err := o.deps.Scanner.Scan(ctx, u.Data); err != nil {
			return "", err
		}
	}
	return mime, nil
}

// stageUpload acquires a workspace and writes the upload into it. The caller must
// release the returned directory, also on error.
func (r *run) stageUpload(ctx context.Context, u Upload) (string, string, error) {
	r.enter(ctx, StageStaging, "Saving uploaded file")
	dir, err := r.o.deps.Workspace.Acquire()
	if err != nil {
		return "", "", fmt.Errorf("acquire workspace: %w", err)
	}
	input := filepath.Join(dir, "input."+u.Ext())
	if err := os.WriteFile(input, u.Data, 0o600); err != nil {
		return dir, "", fmt.Errorf("stage upload: %w", err)
	}
	r.log.Debug().Str("workspace", dir).Int("bytes", len(u.Data)).Msg("upload staged")
	return dir, input, nil
}

// release removes the workspace. It runs on every exit path after stage.
func (r *run) release(dir string) {
	if dir == "" {
		return
	}
	if err := r.o.deps.Workspace.Release(dir); err != nil {
		r.log.Error().Err(err).Str("workspace", dir).Msg("failed to remove workspace")
	}
}

// convert rasterizes the staged input into <workspace>/output.
func (r *run) convert(ctx context.Context, dir, input string) (converter.Result, error) {
	r.enter(ctx, StageConverting, "Converting presentation")
	start := time.Now()
	res, err := r.o.deps.Converter.Convert(ctx, input, filepath.Join(dir, "output"))
	metrics.ObserveConverter("convert", err, time.Since(start))
	if err != nil {
		return converter.Result{}, err
	}
	if len(res.Previews) != len(res.Thumbnails) {
		return converter.Result{}, &converter.OutputError{
			Err: fmt.Errorf("previews/thumbnails length mismatch: %d != %d", len(res.Previews), len(res.Thumbnails)),
		}
	}
	metrics.AddPages(res.PageCount())
	r.log.Info().Int("pages", res.PageCount()).Dur("duration", time.Since(start)).Msg("presentation converted")
	return res, nil
}

// fileURL is the public address of key, or empty when no public base is configured.
func (o *Orchestrator) fileURL(key string) string {
	if o.opts.PublicBaseURL == "" || key == "" {
		return ""
	}
	return strings.TrimRight(o.opts.PublicBaseURL, "/") + "/" + key
}
