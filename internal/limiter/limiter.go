package limiter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/local/deckupload/internal/ai"
	"github.com/local/deckupload/internal/classifier"
)

// ErrCoolingDown is returned without calling the provider while its breaker is open.
var ErrCoolingDown = errors.New("classifier provider is cooling down after rate limiting")

// Breaker keeps a cooldown per provider:model after rate limiting.
type Breaker interface {
	IsOpen(ctx context.Context, provider, model string) bool
	// Open starts or extends the cooldown and returns its length.
	Open(ctx context.Context, provider, model string) time.Duration
	Close(ctx context.Context, provider, model string)
}

func breakerKey(provider, model string) string {
	return fmt.Sprintf("cb:%s:%s", strings.ToLower(provider), strings.ToLower(model))
}

// backoff doubles per consecutive failure: base, 2*base, 4*base ... up to ceiling.
func backoff(base, ceiling time.Duration, failures int) time.Duration {
	d := base
	for i := 1; i < failures && d < ceiling; i++ {
		d *= 2
	}
	return min(d, ceiling)
}

// RedisBreaker shares breaker state between instances through Redis hashes.
type RedisBreaker struct {
	rdb  *redis.Client
	base time.Duration
	max  time.Duration
}

func NewRedisBreaker(redisURL string, base, max time.Duration) (*RedisBreaker, error) {
	ro, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(ro)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &RedisBreaker{rdb: c, base: base, max: max}, nil
}

func (b *RedisBreaker) Open(ctx context.Context, provider, model string) time.Duration {
	key := breakerKey(provider, model)
	failures, _ := b.rdb.HIncrBy(ctx, key, "failures", 1).Result()
	d := backoff(b.base, b.max, int(failures))
	b.rdb.HSet(ctx, key, map[string]interface{}{
		"state":    "open",
		"retry_at": time.Now().Add(d).Unix(),
	})
	b.rdb.Expire(ctx, key, b.max+time.Minute)
	return d
}

func (b *RedisBreaker) IsOpen(ctx context.Context, provider, model string) bool {
	res, err := b.rdb.HMGet(ctx, breakerKey(provider, model), "state", "retry_at").Result()
	if err != nil || len(res) != 2 {
		// Redis trouble never blocks classification.
		return false
	}
	state, _ := res[0].(string)
	retryAt, _ := res[1].(string)
	if state != "open" {
		return false
	}
	ts, _ := strconv.ParseInt(retryAt, 10, 64)
	return time.Now().Unix() < ts
}

func (b *RedisBreaker) Close(ctx context.Context, provider, model string) {
	b.rdb.Del(ctx, breakerKey(provider, model))
}

func (b *RedisBreaker) CloseClient() error { return b.rdb.Close() }

// MemoryBreaker keeps breaker state in process.
type MemoryBreaker struct {
	mu    sync.Mutex
	base  time.Duration
	max   time.Duration
	state map[string]memoryState
	now   func() time.Time
}

type memoryState struct {
	failures int
	retryAt  time.Time
}

func NewMemoryBreaker(base, max time.Duration) *MemoryBreaker {
	return &MemoryBreaker{base: base, max: max, state: map[string]memoryState{}, now: time.Now}
}

func (b *MemoryBreaker) Open(_ context.Context, provider, model string) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := breakerKey(provider, model)
	st := b.state[key]
	st.failures++
	d := backoff(b.base, b.max, st.failures)
	st.retryAt = b.now().Add(d)
	b.state[key] = st
	return d
}

func (b *MemoryBreaker) IsOpen(_ context.Context, provider, model string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.state[breakerKey(provider, model)]
	return ok && b.now().Before(st.retryAt)
}

func (b *MemoryBreaker) Close(_ context.Context, provider, model string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.state, breakerKey(provider, model))
}

// Classifier is the call the guard protects.
type Classifier interface {
	Classify(ctx context.Context, text, filename string) (classifier.Result, error)
}

// Guard bounds concurrent classifier calls per provider:model and fails fast
// while the provider is cooling down. It never retries.
type Guard struct {
	next     Classifier
	breaker  Breaker
	provider string
	model    string
	slots    chan struct{}
}

func NewGuard(next Classifier, breaker Breaker, provider, model string, maxInflight int) *Guard {
	if maxInflight <= 0 {
		maxInflight = 2
	}
	return &Guard{
		next:     next,
		breaker:  breaker,
		provider: provider,
		model:    model,
		slots:    make(chan struct{}, maxInflight),
	}
}

func (g *Guard) Classify(ctx context.Context, text, filename string) (classifier.Result, error) {
	if g.breaker.IsOpen(ctx, g.provider, g.model) {
		return classifier.Result{}, &classifier.UnreachableError{
			Status: http.StatusTooManyRequests,
			Body:   "provider cooling down",
			Err:    ErrCoolingDown,
		}
	}

	select {
	case g.slots <- struct{}{}:
	case <-ctx.Done():
		return classifier.Result{}, &classifier.UnreachableError{Err: ctx.Err()}
	}
	defer func() { <-g.slots }()

	res, err := g.next.Classify(ctx, text, filename)
	switch {
	case err == nil:
		g.breaker.Close(ctx, g.provider, g.model)
	case ai.IsRateLimited(err):
		d := g.breaker.Open(ctx, g.provider, g.model)
		log.Warn().
			Str("provider", g.provider).
			Str("model", g.model).
			Dur("cooldown", d).
			Msg("classifier rate limited, breaker opened")
	}
	return res, err
}
