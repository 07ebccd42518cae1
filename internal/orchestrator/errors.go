package orchestrator

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/local/deckupload/internal/classifier"
	"github.com/local/deckupload/internal/converter"
	"github.com/local/deckupload/internal/records"
	"github.com/local/deckupload/internal/scan"
	"github.com/local/deckupload/internal/storage"
)

// ValidationError is raised before any side effect and is safe to show to the caller.
type ValidationError struct {
	Status  int
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Message)
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

func invalid(field, msg string) *ValidationError {
	return &ValidationError{Status: http.StatusBadRequest, Field: field, Message: msg}
}

// describe maps an error to an HTTP status and a message fit for users.
// The technical detail is err.Error().
func describe(err error) (int, string) {
	var (
		ve       *ValidationError
		infected *scan.InfectedError
		conflict *records.ConflictError
		rejected *records.RejectedError
		unreach  *classifier.UnreachableError
		badJSON  *classifier.MalformedJSONError
		convFail *converter.ConversionFailedError
		outErr   *converter.OutputError
		extFail  *converter.ExtractionFailedError
		storeErr *storage.UnavailableError
		tooLarge *http.MaxBytesError
	)
	switch {
	case errors.As(err, &ve):
		return ve.Status, ve.Message
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, "File is too large"
	case errors.As(err, &infected):
		return http.StatusUnprocessableEntity, "File was rejected by the malware scanner"
	case errors.As(err, &conflict):
		return http.StatusConflict, "A presentation with the same slug already exists"
	case errors.As(err, &rejected):
		return http.StatusUnprocessableEntity, "Presentation metadata was rejected"
	case errors.As(err, &unreach), errors.As(err, &badJSON), errors.Is(err, classifier.ErrBadResponse):
		return http.StatusBadGateway, "Failed to classify presentation"
	case errors.Is(err, converter.ErrConversionUnavailable):
		return http.StatusServiceUnavailable, "Converter is unavailable"
	case errors.Is(err, converter.ErrMissingDependency):
		return http.StatusServiceUnavailable, "Text extractor is not installed correctly"
	case errors.As(err, &convFail), errors.As(err, &outErr):
		return http.StatusInternalServerError, "Failed to convert presentation"
	case errors.As(err, &extFail):
		return http.StatusInternalServerError, "Failed to extract text"
	case errors.As(err, &storeErr):
		return http.StatusBadGateway, "Failed to store presentation assets"
	default:
		return http.StatusInternalServerError, "Failed to process presentation"
	}
}
