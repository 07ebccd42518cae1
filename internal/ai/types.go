package ai

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Request is a single-turn chat completion request.
type Request struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	// JSON asks the provider to constrain output to a JSON object where supported.
	JSON    bool
	Timeout time.Duration
}

type Response struct {
	Text      string
	TokensIn  int
	TokensOut int
}

// Client interface for providers like OpenAI, Anthropic.
type Client interface {
	Name() string
	Do(ctx context.Context, req Request) (Response, error)
}

var (
	ErrRateLimited = errors.New("rate_limited")
	ErrMissingKey  = errors.New("missing api key")
	ErrNoContent   = errors.New("no content")
)

// HTTPError represents an HTTP status error from AI provider
type HTTPError struct {
	StatusCode int
	Body       string
	Provider   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d from %s: %s", e.StatusCode, e.Provider, e.Body)
}

func IsRateLimited(err error) bool { return errors.Is(err, ErrRateLimited) }

// Config holds connection settings shared by the provider clients.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// New returns the client for engine ("openai" or "anthropic").
func New(engine string, cfg Config) (Client, error) {
	switch engine {
	case "", "openai":
		return NewOpenAIClient(cfg), nil
	case "anthropic":
		return NewAnthropicClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown classifier engine %q", engine)
	}
}
