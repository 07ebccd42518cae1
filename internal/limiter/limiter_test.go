package limiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/deckupload/internal/ai"
	"github.com/local/deckupload/internal/classifier"
)

type stubClassifier struct {
	mu       sync.Mutex
	errs     []error
	calls    atomic.Int32
	inflight atomic.Int32
	peak     atomic.Int32
	hold     time.Duration
}

func (s *stubClassifier) Classify(context.Context, string, string) (classifier.Result, error) {
	s.calls.Add(1)
	n := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(s.hold)

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errs) == 0 {
		return classifier.Result{Title: "ok"}, nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return classifier.Result{}, err
}

func rateLimited() error {
	herr := &ai.HTTPError{StatusCode: 429, Body: "slow down", Provider: "openai"}
	return &classifier.UnreachableError{Status: 429, Body: "slow down", Err: fmt.Errorf("%w: %w", ai.ErrRateLimited, herr)}
}

func TestBackoff(t *testing.T) {
	base, ceiling := 30*time.Second, 5*time.Minute
	assert.Equal(t, 30*time.Second, backoff(base, ceiling, 1))
	assert.Equal(t, 60*time.Second, backoff(base, ceiling, 2))
	assert.Equal(t, 240*time.Second, backoff(base, ceiling, 4))
	assert.Equal(t, ceiling, backoff(base, ceiling, 5))
	assert.Equal(t, ceiling, backoff(base, ceiling, 50))
}

func TestGuard_OpensOnRateLimitAndFailsFast(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	br := NewMemoryBreaker(30*time.Second, 5*time.Minute)
	br.now = func() time.Time { return now }
	stub := &stubClassifier{errs: []error{rateLimited()}}
	g := NewGuard(stub, br, "openai", "gpt-4.1-mini", 2)

	_, err := g.Classify(context.Background(), "text", "a.pptx")
	require.True(t, ai.IsRateLimited(err))

	_, err = g.Classify(context.Background(), "text", "a.pptx")
	assert.ErrorIs(t, err, ErrCoolingDown)
	var ue *classifier.UnreachableError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, 429, ue.Status)
	assert.Equal(t, int32(1), stub.calls.Load(), "no provider call while cooling down")

	now = now.Add(31 * time.Second)
	res, err := g.Classify(context.Background(), "text", "a.pptx")
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Title)
	assert.False(t, br.IsOpen(context.Background(), "openai", "gpt-4.1-mini"))
}

func TestGuard_OtherErrorsDoNotOpen(t *testing.T) {
	br := NewMemoryBreaker(time.Minute, time.Hour)
	stub := &stubClassifier{errs: []error{&classifier.UnreachableError{Status: 500}, classifier.ErrBadResponse}}
	g := NewGuard(stub, br, "anthropic", "claude", 1)

	_, err := g.Classify(context.Background(), "", "")
	require.Error(t, err)
	_, err = g.Classify(context.Background(), "", "")
	require.True(t, errors.Is(err, classifier.ErrBadResponse))
	assert.False(t, br.IsOpen(context.Background(), "anthropic", "claude"))
}

func TestGuard_BoundsInflight(t *testing.T) {
	stub := &stubClassifier{hold: 20 * time.Millisecond}
	g := NewGuard(stub, NewMemoryBreaker(time.Minute, time.Hour), "openai", "m", 2)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = g.Classify(context.Background(), "", "")
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(8), stub.calls.Load())
	assert.LessOrEqual(t, stub.peak.Load(), int32(2))
}

func TestGuard_CancelledWhileWaiting(t *testing.T) {
	stub := &stubClassifier{hold: 200 * time.Millisecond}
	g := NewGuard(stub, NewMemoryBreaker(time.Minute, time.Hour), "openai", "m", 1)
	go func() { _, _ = g.Classify(context.Background(), "", "") }()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := g.Classify(ctx, "", "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBreakerKey(t *testing.T) {
	assert.Equal(t, "cb:openai:gpt-4.1-mini", breakerKey("OpenAI", "GPT-4.1-mini"))
}
