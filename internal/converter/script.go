package converter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Result is the ordered set of images a conversion produced. Previews[i] and
// Thumbnails[i] both belong to page i+1.
type Result struct {
	Previews   []string `json:"previews"`
	Thumbnails []string `json:"thumbnails"`
}

// PageCount is derived from the previews, never taken from the converter's own claim.
func (r Result) PageCount() int { return len(r.Previews) }

// Script runs external converter and extractor programs as child processes.
// argv is [Interpreter] Script input [outputDir].
type Script struct {
	Interpreter   string
	ConvertScript string
	ExtractScript string
	Timeout       time.Duration
}

// NewScript creates a script-backed converter.
func NewScript(interpreter, convertScript, extractScript string, timeout time.Duration) *Script {
	return &Script{
		Interpreter:   interpreter,
		ConvertScript: convertScript,
		ExtractScript: extractScript,
		Timeout:       timeout,
	}
}

// Convert rasterizes inputPath into outputDir and returns the produced image paths.
func (s *Script) Convert(ctx context.Context, inputPath, outputDir string) (Result, error) {
	start := time.Now()
	stdout, stderr, err := s.run(ctx, s.ConvertScript, inputPath, outputDir)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{}, &ConversionFailedError{ExitCode: exitErr.ExitCode(), Stderr: stderr}
		}
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("conversion aborted: %w", ctx.Err())
		}
		return Result{}, fmt.Errorf("%w: %v", ErrConversionUnavailable, err)
	}

	res, err := parseResult(stdout, stderr)
	if err != nil {
		return Result{}, err
	}
	log.Info().
		Str("input", inputPath).
		Int("pages", res.PageCount()).
		Dur("duration", time.Since(start)).
		Msg("conversion finished")
	return res, nil
}

// ExtractText returns all text runs of the presentation at inputPath.
func (s *Script) ExtractText(ctx context.Context, inputPath string) (string, error) {
	stdout, stderr, err := s.run(ctx, s.ExtractScript, inputPath)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", &ExtractionFailedError{
				ExitCode: exitErr.ExitCode(),
				Stderr:   stderr,
				Missing:  missingDependency(stderr),
			}
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("extraction aborted: %w", ctx.Err())
		}
		return "", fmt.Errorf("%w: %v", ErrConversionUnavailable, err)
	}

	text := strings.TrimRight(stdout, "\r\n")
	// The extractor reports its own failures on stdout with a zero exit code.
	if strings.HasPrefix(text, "Error processing PPTX file:") || strings.HasPrefix(text, "Error: ") {
		return "", &ExtractionFailedError{ExitCode: 0, Stderr: text, Missing: missingDependency(text)}
	}
	return text, nil
}

// Available reports whether the configured programs can be started.
func (s *Script) Available() error {
	if s.Interpreter != "" {
		if _, err := exec.LookPath(s.Interpreter); err != nil {
			return fmt.Errorf("%w: %v", ErrConversionUnavailable, err)
		}
	}
	for _, p := range []string{s.ConvertScript, s.ExtractScript} {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%w: %v", ErrConversionUnavailable, err)
		}
	}
	return nil
}

// run executes the script and waits until both streams are drained and the exit is observed.
func (s *Script) run(ctx context.Context, script string, args ...string) (string, string, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	name := script
	argv := args
	if s.Interpreter != "" {
		name = s.Interpreter
		argv = append([]string{script}, args...)
	}

	cmd := exec.CommandContext(ctx, name, argv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Grandchildren holding the pipes open must not outlive a cancelled run.
	cmd.WaitDelay = 2 * time.Second

	log.Debug().Str("cmd", strings.Join(cmd.Args, " ")).Msg("running converter process")
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// parseResult decodes the last non-empty stdout line; earlier lines are converter logs.
func parseResult(stdout, stderr string) (Result, error) {
	line := lastNonEmptyLine(stdout)
	if line == "" {
		return Result{}, &OutputError{Stdout: stdout, Stderr: stderr, Err: errors.New("converter produced no result")}
	}

	var res Result
	if err := json.Unmarshal([]byte(line), &res); err != nil {
		return Result{}, &OutputError{Stdout: stdout, Stderr: stderr, Err: fmt.Errorf("decode result: %w", err)}
	}
	if len(res.Previews) != len(res.Thumbnails) {
		return Result{}, &OutputError{
			Stdout: stdout,
			Stderr: stderr,
			Err:    fmt.Errorf("previews/thumbnails length mismatch: %d != %d", len(res.Previews), len(res.Thumbnails)),
		}
	}
	return res, nil
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

func missingDependency(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "modulenotfounderror") ||
		strings.Contains(s, "no module named") ||
		strings.Contains(s, "importerror")
}
