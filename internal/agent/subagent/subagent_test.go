package subagent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Samrat2803/cognitive-core/internal/agent"
)

func TestRetrierRetriesTransientErrors(t *testing.T) {
	r := Retrier{Timeout: time.Second, MaxRetries: 2, Backoff: time.Millisecond}

	calls := 0
	inv := r.Invoke(context.Background(), "brave_search", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &agent.TransientError{Agent: "brave_search", Err: errors.New("429")}
		}
		return nil
	})
	if inv.Failed() {
		t.Fatalf("invocation failed: %v", inv.Err)
	}
	if inv.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", inv.Attempts)
	}
}

func TestRetrierDoesNotRetryFinalErrors(t *testing.T) {
	r := Retrier{Timeout: time.Second, MaxRetries: 3, Backoff: time.Millisecond}

	calls := 0
	inv := r.Invoke(context.Background(), "llm_analyzer", func(ctx context.Context) error {
		calls++
		return &agent.InvocationError{Agent: "llm_analyzer", Err: errors.New("bad request")}
	})
	if !inv.Failed() {
		t.Fatalf("expected failure")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetrierStopsAtMaxRetries(t *testing.T) {
	r := Retrier{Timeout: time.Second, MaxRetries: 2, Backoff: time.Millisecond}

	calls := 0
	inv := r.Invoke(context.Background(), "serper_search", func(ctx context.Context) error {
		calls++
		return &agent.TransientError{Agent: "serper_search", Err: errors.New("503")}
	})
	if !inv.Failed() {
		t.Fatalf("expected failure after retries")
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want initial + 2 retries", calls)
	}
	if !agent.IsTransient(inv.Err) {
		t.Fatalf("last error should stay transient: %v", inv.Err)
	}
}

func TestRetrierHonorsCancelledContext(t *testing.T) {
	r := Retrier{Timeout: time.Second, MaxRetries: 5, Backoff: 50 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	inv := r.Invoke(ctx, "brave_search", func(ctx context.Context) error {
		calls++
		return &agent.TransientError{Agent: "brave_search", Err: errors.New("timeout")}
	})
	if !inv.Failed() {
		t.Fatalf("expected failure")
	}
	if !errors.Is(inv.Err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", inv.Err)
	}
	if calls > 2 {
		t.Fatalf("kept retrying after cancellation: %d calls", calls)
	}
}

func TestRetrierAppliesPerCallTimeout(t *testing.T) {
	r := Retrier{Timeout: 10 * time.Millisecond, MaxRetries: 0, Backoff: time.Millisecond}

	inv := r.Invoke(context.Background(), "chromedp_crawler", func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return &agent.TransientError{Agent: "chromedp_crawler", Err: ctx.Err()}
		}
	})
	if !inv.Failed() {
		t.Fatalf("expected timeout failure")
	}
	if inv.Duration < 10*time.Millisecond || inv.Duration > 500*time.Millisecond {
		t.Fatalf("call was not bounded by timeout: %s", inv.Duration)
	}
}

func TestRetrierRecordsElapsedDuration(t *testing.T) {
	r := Retrier{Timeout: time.Second, MaxRetries: 0, Backoff: time.Millisecond}

	inv := r.Invoke(context.Background(), "readability_extractor", func(ctx context.Context) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	if inv.Failed() {
		t.Fatalf("unexpected failure: %v", inv.Err)
	}
	if inv.Duration < 40*time.Millisecond {
		t.Fatalf("Duration = %s, want at least the call's elapsed time", inv.Duration)
	}
}
