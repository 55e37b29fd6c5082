package refresher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type fakeExchanger struct {
	calls     int32
	failUntil int32
	permanent bool
	delay     time.Duration
}

func (f *fakeExchanger) Exchange(ctx context.Context, refreshToken string, extra map[string]string) (string, time.Time, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if n <= f.failUntil {
		if f.permanent {
			return "", time.Time{}, &PermanentError{Err: errors.New("invalid_grant")}
		}
		return "", time.Time{}, errors.New("transient network error")
	}
	return "tok-" + fmt.Sprint(n), time.Now().Add(time.Hour), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRefreshRetriesTransientFailures(t *testing.T) {
	r := New(100, 3, testLogger())
	ex := &fakeExchanger{failUntil: 2}
	tok, _, err := r.Refresh(context.Background(), "cred-1", ex, "rt", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok == "" {
		t.Fatalf("expected non-empty token")
	}
	if atomic.LoadInt32(&ex.calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", ex.calls)
	}
}

func TestRefreshStopsOnPermanentError(t *testing.T) {
	r := New(100, 5, testLogger())
	ex := &fakeExchanger{failUntil: 10, permanent: true}
	_, _, err := r.Refresh(context.Background(), "cred-1", ex, "rt", nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	var perm *PermanentError
	if !errors.As(err, &perm) {
		t.Fatalf("expected PermanentError, got %v", err)
	}
	if atomic.LoadInt32(&ex.calls) != 1 {
		t.Fatalf("expected exactly one attempt on permanent failure, got %d", ex.calls)
	}
}

func TestRefreshExhaustsRetries(t *testing.T) {
	r := New(100, 2, testLogger())
	ex := &fakeExchanger{failUntil: 100}
	_, _, err := r.Refresh(context.Background(), "cred-1", ex, "rt", nil)
	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if atomic.LoadInt32(&ex.calls) != 3 {
		t.Fatalf("expected retryMax+1=3 attempts, got %d", ex.calls)
	}
}

func TestRefreshDeduplicatesConcurrentCallsForSameKey(t *testing.T) {
	r := New(100, 3, testLogger())
	ex := &fakeExchanger{delay: 50 * time.Millisecond}

	results := make(chan string, 5)
	for i := 0; i < 5; i++ {
		go func() {
			tok, _, err := r.Refresh(context.Background(), "shared-key", ex, "rt", nil)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			results <- tok
		}()
	}

	first := <-results
	for i := 0; i < 4; i++ {
		if got := <-results; got != first {
			t.Fatalf("expected all callers to see the same dedup'd result, got %q vs %q", got, first)
		}
	}
	if atomic.LoadInt32(&ex.calls) != 1 {
		t.Fatalf("expected exactly one underlying exchange call, got %d", ex.calls)
	}
}
