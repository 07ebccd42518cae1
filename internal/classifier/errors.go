package classifier

import (
	"errors"
	"fmt"
)

// ErrBadResponse means the endpoint answered but produced no usable classification.
var ErrBadResponse = errors.New("classifier returned no usable content")

// UnreachableError covers transport failures and non-2xx answers. Status is 0
// when no HTTP response was received.
type UnreachableError struct {
	Status int
	Body   string
	Err    error
}

func (e *UnreachableError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("classifier unreachable: %v", e.Err)
	}
	return fmt.Sprintf("classifier unreachable: HTTP %d: %s", e.Status, e.Body)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// MalformedJSONError carries the content that failed to parse.
type MalformedJSONError struct {
	Content string
	Err     error
}

func (e *MalformedJSONError) Error() string {
	return fmt.Sprintf("classifier returned malformed JSON: %v", e.Err)
}

func (e *MalformedJSONError) Unwrap() error { return e.Err }
