package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// LibreOffice converts office documents to PDF with a headless soffice binary.
type LibreOffice struct {
	binary    string
	semaphore chan struct{}
}

// Job represents a document conversion job
type Job struct {
	InputPath string
	OutputDir string
	Timeout   time.Duration
}

// PDFResult is the outcome of one soffice run.
type PDFResult struct {
	Success    bool
	OutputPath string
	ExitCode   int
	Error      string
	Duration   time.Duration
}

// NewLibreOffice creates a converter that allows at most maxWorkers concurrent soffice processes.
func NewLibreOffice(binary string, maxWorkers int) *LibreOffice {
	if binary == "" {
		binary = "soffice"
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &LibreOffice{
		binary:    binary,
		semaphore: make(chan struct{}, maxWorkers),
	}
}

// CheckInstallation verifies the binary can be found on PATH.
func (l *LibreOffice) CheckInstallation() error {
	if _, err := exec.LookPath(l.binary); err != nil {
		return fmt.Errorf("%w: %s not found in PATH: %v", ErrConversionUnavailable, l.binary, err)
	}
	return nil
}

// ConvertToPDF converts a document to PDF format
func (l *LibreOffice) ConvertToPDF(ctx context.Context, job Job) PDFResult {
	startTime := time.Now()

	select {
	case l.semaphore <- struct{}{}:
	case <-ctx.Done():
		return PDFResult{Error: ctx.Err().Error(), ExitCode: -1, Duration: time.Since(startTime)}
	}
	defer func() { <-l.semaphore }()

	log.Info().Str("input", job.InputPath).Str("outdir", job.OutputDir).Msg("starting conversion")

	if err := validateInput(job.InputPath); err != nil {
		return PDFResult{
			Error:    fmt.Sprintf("input validation failed: %v", err),
			ExitCode: -1,
			Duration: time.Since(startTime),
		}
	}

	// Each run gets its own profile; soffice refuses concurrent use of one.
	profileDir := filepath.Join(os.TempDir(), fmt.Sprintf("libreoffice_profile_%s", uuid.New().String()))
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return PDFResult{
			Error:    fmt.Sprintf("failed to create profile directory: %v", err),
			ExitCode: -1,
			Duration: time.Since(startTime),
		}
	}
	defer os.RemoveAll(profileDir)

	if err := os.MkdirAll(job.OutputDir, 0o755); err != nil {
		return PDFResult{
			Error:    fmt.Sprintf("failed to create output directory: %v", err),
			ExitCode: -1,
			Duration: time.Since(startTime),
		}
	}

	timeout := job.Timeout
	if timeout == 0 {
		timeout = 180 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx,
		l.binary,
		fmt.Sprintf("-env:UserInstallation=file://%s", profileDir),
		"--headless",
		"--convert-to", "pdf",
		"--outdir", job.OutputDir,
		job.InputPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	log.Debug().Str("cmd", strings.Join(cmd.Args, " ")).Msg("LibreOffice command")

	if err := cmd.Run(); err != nil {
		res := PDFResult{
			Error:    fmt.Sprintf("conversion failed: %v: %s", err, strings.TrimSpace(stderr.String())),
			ExitCode: -1,
			Duration: time.Since(startTime),
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		if runCtx.Err() == context.DeadlineExceeded {
			res.Error = fmt.Sprintf("conversion timeout after %v", timeout)
		}
		return res
	}

	output := expectedOutputPath(job.InputPath, job.OutputDir)
	if _, err := os.Stat(output); err != nil {
		return PDFResult{
			Error:    fmt.Sprintf("output file not created: %v: %s", err, strings.TrimSpace(stderr.String())),
			ExitCode: 0,
			Duration: time.Since(startTime),
		}
	}

	log.Info().Str("output", output).Dur("duration", time.Since(startTime)).Msg("conversion successful")

	return PDFResult{
		Success:    true,
		OutputPath: output,
		Duration:   time.Since(startTime),
	}
}

func validateInput(filePath string) error {
	info, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("file not found: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("path is a directory, not a file")
	}
	if info.Size() == 0 {
		return fmt.Errorf("file is empty")
	}
	return nil
}

// expectedOutputPath is where soffice writes its PDF: the input's base name with a .pdf extension.
func expectedOutputPath(inputPath, outputDir string) string {
	baseName := filepath.Base(inputPath)
	nameWithoutExt := strings.TrimSuffix(baseName, filepath.Ext(baseName))
	return filepath.Join(outputDir, nameWithoutExt+".pdf")
}
