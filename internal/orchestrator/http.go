package orchestrator

import (
	"encoding/json"
	"errors"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the {error, details} shape of the process, classify and extract endpoints.
type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// writeError reports err as {error, details}. Validation messages are shown as is
// and carry no details.
func writeError(w http.ResponseWriter, err error) {
	status, msg := describe(err)
	body := errorBody{Error: msg}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		body.Details = err.Error()
	}
	writeJSON(w, status, body)
}

// uploadForm reads the presentation and the shared metadata fields of a multipart upload.
func (o *Orchestrator) uploadForm(w http.ResponseWriter, r *http.Request, maxMemory int64) (Upload, error) {
	if err := o.parseMultipart(w, r, maxMemory); err != nil {
		return Upload{}, err
	}
	defer r.MultipartForm.RemoveAll()

	name, data, err := readFile(r)
	if err != nil {
		return Upload{}, err
	}
	return Upload{
		FileName:    name,
		Data:        data,
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Category:    r.FormValue("category"),
		Subcategory: r.FormValue("subcategory"),
		Tags:        ParseTags(r.FormValue("tags")),
	}, nil
}

// decodeList parses a form field holding a JSON array of strings. A missing field is an empty list.
func decodeList(raw, field string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, invalid(field, field+" must be a JSON array of data URLs")
	}
	return out, nil
}
