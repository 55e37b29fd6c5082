// Package refresher is the Token Refresher: a bounded-concurrency
// worker that exchanges a refresh token for a new access token against
// a provider's OAuth endpoint, with in-flight de-duplication and
// bounded retry on transient failure.
package refresher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// PermanentError marks an OAuth failure (invalid_grant or equivalent)
// that will never succeed on retry; the Scheduler disables the
// credential rather than re-queueing it.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Exchanger performs exactly one OAuth token-refresh HTTP round trip
// for a credential key. Implementations live per-provider (Gemini via
// golang.org/x/oauth2, Codex via a direct form POST).
type Exchanger interface {
	Exchange(ctx context.Context, refreshToken string, extra map[string]string) (accessToken string, expiresAt time.Time, err error)
}

type outcome struct {
	accessToken string
	expiresAt   time.Time
	err         error
}

type inflight struct {
	done chan struct{}
	out  outcome
}

// Refresher bounds refresh concurrency to targetRate*2 (the burst
// bound) and shapes submission rate to targetRate per second,
// de-duplicating concurrent requests for the same credential key.
type Refresher struct {
	limiter  *rate.Limiter
	sem      *semaphore.Weighted
	retryMax int
	log      *slog.Logger

	mu    sync.Mutex
	inFly map[string]*inflight
}

// New constructs a Refresher. targetRate is refreshes/sec (oauth_tps);
// burst is 2x that. retryMax bounds transient-failure retries
// (REFRESH_RETRY_MAX, default 3).
func New(targetRate float64, retryMax int, log *slog.Logger) *Refresher {
	if targetRate <= 0 {
		targetRate = 5
	}
	if retryMax <= 0 {
		retryMax = 3
	}
	burst := int(targetRate * 2)
	if burst < 1 {
		burst = 1
	}
	return &Refresher{
		limiter:  rate.NewLimiter(rate.Limit(targetRate), burst),
		sem:      semaphore.NewWeighted(int64(burst)),
		retryMax: retryMax,
		log:      log,
		inFly:    make(map[string]*inflight),
	}
}

// Refresh exchanges refreshToken for a fresh access token, de-duplicating
// concurrent calls for the same key and retrying transient failures up
// to retryMax times with exponential backoff.
func (r *Refresher) Refresh(ctx context.Context, key string, exchanger Exchanger, refreshToken string, extra map[string]string) (string, time.Time, error) {
	r.mu.Lock()
	if f, ok := r.inFly[key]; ok {
		r.mu.Unlock()
		<-f.done
		return f.out.accessToken, f.out.expiresAt, f.out.err
	}
	f := &inflight{done: make(chan struct{})}
	r.inFly[key] = f
	r.mu.Unlock()

	token, exp, err := r.doRefresh(ctx, exchanger, refreshToken, extra)

	r.mu.Lock()
	delete(r.inFly, key)
	r.mu.Unlock()

	f.out = outcome{accessToken: token, expiresAt: exp, err: err}
	close(f.done)
	return token, exp, err
}

func (r *Refresher) doRefresh(ctx context.Context, exchanger Exchanger, refreshToken string, extra map[string]string) (string, time.Time, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return "", time.Time{}, fmt.Errorf("refresher: acquire slot: %w", err)
	}
	defer r.sem.Release(1)

	if err := r.limiter.Wait(ctx); err != nil {
		return "", time.Time{}, fmt.Errorf("refresher: rate limit wait: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= r.retryMax; attempt++ {
		token, exp, err := exchanger.Exchange(ctx, refreshToken, extra)
		if err == nil {
			return token, exp, nil
		}
		var perm *PermanentError
		if errors.As(err, &perm) {
			return "", time.Time{}, err
		}
		lastErr = err
		if attempt == r.retryMax {
			break
		}
		backoff := jitteredBackoff(attempt)
		r.log.Debug("refresh attempt failed, retrying", "attempt", attempt, "backoff", backoff, "err", err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return "", time.Time{}, ctx.Err()
		}
	}
	return "", time.Time{}, fmt.Errorf("refresher: exhausted %d retries: %w", r.retryMax, lastErr)
}
