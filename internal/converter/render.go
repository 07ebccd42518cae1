package converter

import (
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
)

// RenderOptions controls rasterization of PDF pages.
type RenderOptions struct {
	DPI            int
	PreviewQuality int
	ThumbQuality   int
	ThumbMaxSide   int
}

// DefaultRenderOptions matches the image sizes the viewer expects.
var DefaultRenderOptions = RenderOptions{
	DPI:            200,
	PreviewQuality: 95,
	ThumbQuality:   85,
	ThumbMaxSide:   480,
}

// PageCount returns the number of pages in a PDF.
func PageCount(pdfPath string) (int, error) {
	n, err := api.PageCountFile(pdfPath)
	if err != nil {
		return 0, fmt.Errorf("pdf page count failed: %w", err)
	}
	return n, nil
}

// RenderPages writes previews/page-N.jpg and thumbnails/page-N-thumb.jpg under
// outputDir for every page of the PDF, in page order.
func RenderPages(pdfPath, outputDir string, opts RenderOptions) (Result, error) {
	doc, err := fitz.New(pdfPath)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	previewDir := filepath.Join(outputDir, "previews")
	thumbDir := filepath.Join(outputDir, "thumbnails")
	for _, d := range []string{previewDir, thumbDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return Result{}, fmt.Errorf("create %s: %w", d, err)
		}
	}

	pages := doc.NumPage()
	res := Result{
		Previews:   make([]string, 0, pages),
		Thumbnails: make([]string, 0, pages),
	}
	for i := 0; i < pages; i++ {
		// go-fitz uses 0-based indexing
		img, err := doc.ImageDPI(i, float64(opts.DPI))
		if err != nil {
			return Result{}, fmt.Errorf("failed to render page %d: %w", i+1, err)
		}

		preview := filepath.Join(previewDir, fmt.Sprintf("page-%d.jpg", i+1))
		if err := writeJPEG(preview, img, opts.PreviewQuality); err != nil {
			return Result{}, err
		}
		thumb := filepath.Join(thumbDir, fmt.Sprintf("page-%d-thumb.jpg", i+1))
		if err := writeJPEG(thumb, fit(img, opts.ThumbMaxSide), opts.ThumbQuality); err != nil {
			return Result{}, err
		}

		log.Debug().
			Int("page", i+1).
			Int("width", img.Bounds().Dx()).
			Int("height", img.Bounds().Dy()).
			Msg("rendered page")

		res.Previews = append(res.Previews, preview)
		res.Thumbnails = append(res.Thumbnails, thumb)
	}
	return res, nil
}

// PDFText returns the text of every page joined by newlines.
func PDFText(pdfPath string) (string, error) {
	doc, err := fitz.New(pdfPath)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	parts := make([]string, 0, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		text, err := doc.Text(i)
		if err != nil {
			log.Warn().Err(err).Int("page", i+1).Msg("failed to extract text from page")
			continue
		}
		if t := strings.TrimSpace(text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n"), nil
}

// fit scales img down so neither side exceeds maxSide. Smaller images are returned as is.
func fit(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxSide <= 0 || (w <= maxSide && h <= maxSide) {
		return img
	}
	nw, nh := maxSide, maxSide
	if w >= h {
		nh = max(1, h*maxSide/w)
	} else {
		nw = max(1, w*maxSide/h)
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

func writeJPEG(path string, img image.Image, quality int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: quality}); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return f.Close()
}
