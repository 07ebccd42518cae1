package converter

import (
	"errors"
	"fmt"
)

var (
	// ErrConversionUnavailable means the converter could not be started at all.
	ErrConversionUnavailable = errors.New("converter unavailable")
	// ErrMissingDependency means the extractor runs but a library it needs is not installed.
	ErrMissingDependency = errors.New("text extractor dependency missing")
)

// ConversionFailedError represents a converter run that exited non-zero.
type ConversionFailedError struct {
	ExitCode int
	Stderr   string
}

func (e *ConversionFailedError) Error() string {
	return fmt.Sprintf("conversion failed (exit %d): %s", e.ExitCode, tail(e.Stderr))
}

// OutputError represents a converter run that exited cleanly but whose
// trailing JSON result was missing, unparseable or inconsistent.
type OutputError struct {
	Stdout string
	Stderr string
	Err    error
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("converter output invalid: %v", e.Err)
}

func (e *OutputError) Unwrap() error { return e.Err }

// ExtractionFailedError represents a failed text extraction run.
type ExtractionFailedError struct {
	ExitCode int
	Stderr   string
	Missing  bool
}

func (e *ExtractionFailedError) Error() string {
	if e.Missing {
		return fmt.Sprintf("text extraction failed: dependency missing: %s", tail(e.Stderr))
	}
	return fmt.Sprintf("text extraction failed (exit %d): %s", e.ExitCode, tail(e.Stderr))
}

func (e *ExtractionFailedError) Unwrap() error {
	if e.Missing {
		return ErrMissingDependency
	}
	return nil
}

// tail keeps error strings readable when stderr carries a long traceback.
func tail(s string) string {
	const max = 2000
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}
