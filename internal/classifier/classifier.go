package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/deckupload/internal/ai"
)

// MaxTextRunes bounds how much extracted text is sent to the model.
const MaxTextRunes = 3000

// Result is the metadata the model assigns to a presentation.
type Result struct {
	Title       string   `json:"title"`
	Slug        string   `json:"slug"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Subcategory string   `json:"subcategory"`
	Tags        []string `json:"tags,omitempty"`
}

// Classifier turns extracted text into a Result with a single model call.
type Classifier struct {
	client  ai.Client
	model   string
	timeout time.Duration
}

// New creates a classifier on top of a chat-completion client.
func New(client ai.Client, model string, timeout time.Duration) *Classifier {
	return &Classifier{client: client, model: model, timeout: timeout}
}

// Classify sends filename and the leading text to the model. It never retries.
func (c *Classifier) Classify(ctx context.Context, text, filename string) (Result, error) {
	start := time.Now()
	resp, err := c.client.Do(ctx, ai.Request{
		Model:        c.model,
		SystemPrompt: SystemPrompt(),
		UserPrompt:   UserPrompt(text, filename),
		MaxTokens:    1024,
		JSON:         true,
		Timeout:      c.timeout,
	})
	if err != nil {
		var herr *ai.HTTPError
		if errors.As(err, &herr) {
			return Result{}, &UnreachableError{Status: herr.StatusCode, Body: herr.Body, Err: err}
		}
		if errors.Is(err, ai.ErrNoContent) {
			return Result{}, ErrBadResponse
		}
		return Result{}, &UnreachableError{Err: err}
	}

	res, err := Parse(resp.Text)
	if err != nil {
		return Result{}, err
	}
	log.Debug().
		Str("provider", c.client.Name()).
		Str("file", filename).
		Str("category", res.Category).
		Int("tokens_in", resp.TokensIn).
		Int("tokens_out", resp.TokensOut).
		Dur("duration", time.Since(start)).
		Msg("classified presentation")
	return res, nil
}

// Parse decodes model content into a Result and checks it against the taxonomy.
func Parse(content string) (Result, error) {
	content = stripFences(content)
	if content == "" {
		return Result{}, ErrBadResponse
	}
	var res Result
	if err := json.Unmarshal([]byte(content), &res); err != nil {
		return Result{}, &MalformedJSONError{Content: content, Err: err}
	}
	res.Title = strings.TrimSpace(res.Title)
	res.Slug = strings.TrimSpace(res.Slug)
	if res.Title == "" {
		return Result{}, fmt.Errorf("%w: missing title", ErrBadResponse)
	}
	if !Valid(res.Category, res.Subcategory) {
		return Result{}, fmt.Errorf("%w: %q/%q is not in taxonomy %s", ErrBadResponse, res.Category, res.Subcategory, TaxonomyVersion)
	}
	return res, nil
}

// SystemPrompt instructs the model to answer with one JSON object constrained to the taxonomy.
func SystemPrompt() string {
	var sb strings.Builder
	sb.WriteString("You classify presentation decks for a public library.\n")
	sb.WriteString("Answer with a single valid JSON object and nothing else. It must have exactly these fields: ")
	sb.WriteString(`"title", "slug", "description", "category", "subcategory".` + "\n")
	sb.WriteString("title: a short human readable title.\n")
	sb.WriteString("slug: lowercase words separated by hyphens, ASCII only.\n")
	sb.WriteString("description: one or two sentences summarising the deck.\n")
	sb.WriteString("category and subcategory must be copied exactly from this list:\n")
	for _, c := range Taxonomy {
		sb.WriteString("- ")
		sb.WriteString(c.Name)
		sb.WriteString(": ")
		sb.WriteString(strings.Join(c.Subcategories, ", "))
		sb.WriteString("\n")
	}
	return sb.String()
}

// UserPrompt carries the filename and at most MaxTextRunes runes of text.
func UserPrompt(text, filename string) string {
	return fmt.Sprintf("Filename: %s\n\nExtracted text:\n%s", filename, truncateRunes(text, MaxTextRunes))
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// stripFences removes a ```json ... ``` wrapper some models add despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
