package orchestrator

import (
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"

	"github.com/local/deckupload/internal/classifier"
	"github.com/local/deckupload/internal/filetype"
)

// Upload is a presentation received from a client.
type Upload struct {
	FileName    string
	Data        []byte
	Title       string
	Description string
	Category    string
	Subcategory string
	Tags        []string
}

func (u Upload) Ext() string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(u.FileName), "."))
}

// fileRules apply to every pipeline.
type fileRules struct {
	FileName string `validate:"required,max=255"`
	Ext      string `validate:"oneof=ppt pptx"`
	Size     int    `validate:"gt=0"`
}

// metadataRules apply when the client supplies the metadata itself.
type metadataRules struct {
	Title       string   `validate:"required,max=300"`
	Description string   `validate:"max=5000"`
	Category    string   `validate:"required"`
	Subcategory string   `validate:"max=100"`
	Tags        []string `validate:"max=20,dive,max=50"`
}

var (
	validate = newValidator()
	strict   = bluemonday.StrictPolicy()
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		m := sl.Current().Interface().(metadataRules)
		if m.Category != "" && !classifier.Valid(m.Category, m.Subcategory) {
			sl.ReportError(m.Category, "Category", "Category", "taxonomy", "")
		}
	}, metadataRules{})
	return v
}

var fieldMessages = map[string]string{
	"required": "is required",
	"oneof":    "must be a .ppt or .pptx file",
	"gt":       "must not be empty",
	"max":      "is too long",
	"taxonomy": "is not a known category/subcategory combination",
}

// toValidationError turns the first validator failure into a ValidationError.
func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	msg, ok := fieldMessages[fe.Tag()]
	if !ok {
		msg = "is invalid"
	}
	if field == "ext" {
		field = "file"
	}
	if field == "size" {
		field = "file"
		msg = "is empty"
	}
	return invalid(field, fmt.Sprintf("%s %s", field, msg))
}

// checkFile validates name, extension and size, then sniffs the content.
// It returns the presentation MIME type.
func (o *Orchestrator) checkFile(u Upload) (string, error) {
	if int64(len(u.Data)) > o.opts.MaxUploadBytes {
		return "", &ValidationError{
			Status:  http.StatusRequestEntityTooLarge,
			Field:   "file",
			Message: fmt.Sprintf("file exceeds the %d MB limit", o.opts.MaxUploadBytes>>20),
		}
	}
	if u.FileName == "" {
		return "", invalid("file", "file is required")
	}
	if err := validate.Struct(fileRules{FileName: u.FileName, Ext: u.Ext(), Size: len(u.Data)}); err != nil {
		return "", toValidationError(err)
	}
	info, err := filetype.DetectPresentation(u.Data, u.Ext())
	if err != nil {
		return "", invalid("file", "file content does not match its extension")
	}
	return info.MIMEType, nil
}

// checkMetadata validates and sanitizes client supplied metadata in place.
func checkMetadata(u *Upload) error {
	u.Title = sanitize(u.Title)
	u.Description = sanitize(u.Description)
	u.Category = strings.TrimSpace(u.Category)
	u.Subcategory = strings.TrimSpace(u.Subcategory)
	for i, t := range u.Tags {
		u.Tags[i] = sanitize(t)
	}
	u.Tags = dedupeTags(u.Tags)

	err := validate.Struct(metadataRules{
		Title:       u.Title,
		Description: u.Description,
		Category:    u.Category,
		Subcategory: u.Subcategory,
		Tags:        u.Tags,
	})
	if err != nil {
		return toValidationError(err)
	}
	return nil
}

// maxSanitizePasses bounds how many layers of entity escaping sanitize unwraps.
const maxSanitizePasses = 8

// sanitize strips markup and keeps the text readable. Entities are decoded only
// once the decoded text sanitizes to itself, so escaped markup cannot come back.
func sanitize(s string) string {
	for i := 0; i < maxSanitizePasses; i++ {
		next := html.UnescapeString(strict.Sanitize(s))
		if next == s {
			return strings.TrimSpace(s)
		}
		s = next
	}
	return strings.TrimSpace(strict.Sanitize(s))
}

// ParseTags splits a comma separated list.
func ParseTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func dedupeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := tags[:0]
	for _, t := range tags {
		k := strings.ToLower(t)
		if t == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, t)
	}
	return out
}

// decodeDataURL decodes data:<mime>;base64,<payload> and checks the payload is an image.
func decodeDataURL(s string) (blob, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), "data:")
	if !ok {
		return blob{}, errors.New("not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return blob{}, errors.New("data URL is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return blob{}, fmt.Errorf("decode data URL: %w", err)
	}
	ext, ct, err := filetype.DetectImage(data)
	if err != nil {
		return blob{}, err
	}
	return blob{data: data, ext: ext, contentType: ct}, nil
}

// readFile pulls the "file" part out of a parsed multipart form.
func readFile(r *http.Request) (string, []byte, error) {
	f, hdr, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", nil, invalid("file", "file is required")
		}
		return "", nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return "", nil, err
	}
	return filepath.Base(hdr.Filename), data, nil
}

// formMemory is how much of a file-only form ParseMultipartForm keeps in memory.
const formMemory = 32 << 20

// bodyLimit leaves room for the other form fields and multipart framing.
func (o *Orchestrator) bodyLimit() int64 {
	return o.opts.MaxUploadBytes + (8 << 20)
}

// parseMultipart caps the body and parses the form. Oversize bodies become a 413.
// Text fields may use at most maxMemory+10 MiB, so forms that carry page images
// as fields must pass the body limit.
func (o *Orchestrator) parseMultipart(w http.ResponseWriter, r *http.Request, maxMemory int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, o.bodyLimit())
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &ValidationError{
				Status:  http.StatusRequestEntityTooLarge,
				Field:   "file",
				Message: fmt.Sprintf("file exceeds the %d MB limit", o.opts.MaxUploadBytes>>20),
			}
		}
		return invalid("", "invalid multipart form")
	}
	return nil
}
