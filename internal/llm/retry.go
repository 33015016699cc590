package llm

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/time/rate"
)

// rateLimitRetry retries a request for as long as the backend reports
// ErrRateLimited, waiting a fixed backoff between attempts. Any other error
// is returned as is.
type rateLimitRetry struct {
	inner   Provider
	backoff time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
}

// RetryOnRateLimit wraps p so rate-limited requests are retried indefinitely
// after backoff. Only ctx cancellation ends the loop early.
func RetryOnRateLimit(p Provider, backoff time.Duration) Provider {
	return &rateLimitRetry{inner: p, backoff: backoff, sleep: sleepCtx}
}

func (r *rateLimitRetry) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	for attempt := 1; ; attempt++ {
		text, err := r.inner.Generate(ctx, prompt, maxTokens)
		if err == nil {
			return text, nil
		}
		if !errors.Is(err, ErrRateLimited) {
			return "", err
		}
		log.Printf("Generation rate limited (attempt %d), retrying in %s", attempt, r.backoff)
		if err := r.sleep(ctx, r.backoff); err != nil {
			return "", err
		}
	}
}

func (r *rateLimitRetry) IsConfigured() bool {
	return r.inner.IsConfigured()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// paced spaces requests out client-side so bursts from the summarization
// pool stay under a backend's published quota.
type paced struct {
	inner   Provider
	limiter *rate.Limiter
}

// Paced limits p to requestsPerMinute. Zero or less returns p unchanged.
func Paced(p Provider, requestsPerMinute int) Provider {
	if requestsPerMinute <= 0 {
		return p
	}
	return &paced{
		inner:   p,
		limiter: rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60), 1),
	}
}

func (p *paced) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return p.inner.Generate(ctx, prompt, maxTokens)
}

func (p *paced) IsConfigured() bool {
	return p.inner.IsConfigured()
}
