package converter

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// Native converts in-process: soffice for PDF, pdfcpu for the page count and
// go-fitz for rasterization and text.
type Native struct {
	office  *LibreOffice
	render  RenderOptions
	timeout time.Duration
}

// NewNative creates a native converter around the given soffice binary.
func NewNative(binary string, maxWorkers int, timeout time.Duration) *Native {
	return &Native{
		office:  NewLibreOffice(binary, maxWorkers),
		render:  DefaultRenderOptions,
		timeout: timeout,
	}
}

// Convert produces the PDF inside outputDir and rasterizes every page from it.
func (n *Native) Convert(ctx context.Context, inputPath, outputDir string) (Result, error) {
	if err := n.office.CheckInstallation(); err != nil {
		return Result{}, err
	}
	pdf := n.office.ConvertToPDF(ctx, Job{InputPath: inputPath, OutputDir: outputDir, Timeout: n.timeout})
	if !pdf.Success {
		return Result{}, &ConversionFailedError{ExitCode: pdf.ExitCode, Stderr: pdf.Error}
	}

	pages, err := PageCount(pdf.OutputPath)
	if err != nil {
		log.Warn().Err(err).Str("pdf", pdf.OutputPath).Msg("pdfcpu could not count pages, relying on renderer")
	}

	res, err := RenderPages(pdf.OutputPath, outputDir, n.render)
	if err != nil {
		return Result{}, &OutputError{Err: err}
	}
	if pages > 0 && pages != res.PageCount() {
		log.Warn().Int("pdfcpu_pages", pages).Int("rendered", res.PageCount()).Msg("page count mismatch")
	}
	return res, nil
}

// ExtractText converts to PDF next to the input and reads the page text back.
// The input lives in the caller's workspace, so nothing is left outside it.
func (n *Native) ExtractText(ctx context.Context, inputPath string) (string, error) {
	if err := n.office.CheckInstallation(); err != nil {
		return "", err
	}
	dir := filepath.Join(filepath.Dir(inputPath), "text")
	defer os.RemoveAll(dir)

	pdf := n.office.ConvertToPDF(ctx, Job{InputPath: inputPath, OutputDir: dir, Timeout: n.timeout})
	if !pdf.Success {
		return "", &ExtractionFailedError{ExitCode: pdf.ExitCode, Stderr: pdf.Error}
	}
	text, err := PDFText(pdf.OutputPath)
	if err != nil {
		return "", &ExtractionFailedError{ExitCode: 0, Stderr: err.Error()}
	}
	return text, nil
}

// Available reports whether soffice can be found.
func (n *Native) Available() error {
	return n.office.CheckInstallation()
}
