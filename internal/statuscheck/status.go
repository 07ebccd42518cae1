package statuscheck

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Pinger is the minimal capability a backing service needs for status checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Availabler reports whether a local tool can run.
type Availabler interface {
	Available() error
}

// Checker aggregates health checks for the services the upload pipelines use.
type Checker struct {
	database   Pinger
	storage    Pinger
	converter  Availabler
	redis      Pinger
	nats       Pinger
	clamav     Pinger
	httpClient *http.Client
	engine     string
	apiKey     string
	baseURL    string
}

// Options configures the Checker. Redis, NATS and ClamAV are optional.
type Options struct {
	Database   Pinger
	Storage    Pinger
	Converter  Availabler
	Redis      Pinger
	NATS       Pinger
	ClamAV     Pinger
	HTTPClient *http.Client
	// Classifier endpoint; Engine is "openai" or "anthropic".
	Engine  string
	APIKey  string
	BaseURL string
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Summary bundles all subsystem statuses. Optional services are nil when not configured.
type Summary struct {
	Database   Status  `json:"database"`
	Storage    Status  `json:"storage"`
	Converter  Status  `json:"converter"`
	Classifier Status  `json:"classifier"`
	Redis      *Status `json:"redis,omitempty"`
	NATS       *Status `json:"nats,omitempty"`
	ClamAV     *Status `json:"clamav,omitempty"`
}

// Ready is true when every configured subsystem is OK.
func (s Summary) Ready() bool {
	ok := s.Database.OK && s.Storage.OK && s.Converter.OK && s.Classifier.OK
	for _, opt := range []*Status{s.Redis, s.NATS, s.ClamAV} {
		if opt != nil && !opt.OK {
			ok = false
		}
	}
	return ok
}

// New creates a new Checker with the provided options.
func New(opts Options) *Checker {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	engine := strings.ToLower(strings.TrimSpace(opts.Engine))
	if engine == "" {
		engine = "openai"
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
		if engine == "anthropic" {
			baseURL = "https://api.anthropic.com/v1"
		}
	}
	return &Checker{
		database:   opts.Database,
		storage:    opts.Storage,
		converter:  opts.Converter,
		redis:      opts.Redis,
		nats:       opts.NATS,
		clamav:     opts.ClamAV,
		httpClient: client,
		engine:     engine,
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
	}
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
	s := Summary{
		Database:   c.ping(ctx, c.database, 2*time.Second),
		Storage:    c.ping(ctx, c.storage, 5*time.Second),
		Converter:  c.checkConverter(),
		Classifier: c.checkClassifier(ctx),
	}
	if c.redis != nil {
		st := c.ping(ctx, c.redis, 2*time.Second)
		s.Redis = &st
	}
	if c.nats != nil {
		st := c.ping(ctx, c.nats, 2*time.Second)
		s.NATS = &st
	}
	if c.clamav != nil {
		st := c.ping(ctx, c.clamav, 2*time.Second)
		s.ClamAV = &st
	}
	return s
}

func (c *Checker) ping(ctx context.Context, p Pinger, timeout time.Duration) Status {
	if p == nil {
		return Status{OK: false, Message: "client unavailable"}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkConverter() Status {
	if c.converter == nil {
		return Status{OK: false, Message: "Not configured"}
	}
	if err := c.converter.Available(); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Available"}
}

func (c *Checker) checkClassifier(ctx context.Context) Status {
	if c.apiKey == "" {
		return Status{OK: false, Message: "API key missing"}
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models?limit=1", nil)
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	if c.engine == "anthropic" {
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("anthropic-version", "2023-06-01")
	} else {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Status{OK: false, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
	return Status{OK: true, Message: "Available"}
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
