package metricsapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(baseURL string, maxConcurrent int) *Client {
	return New(&Config{
		BaseURL:       baseURL,
		APIKey:        "test-key",
		MaxConcurrent: maxConcurrent,
		QuotaBuffer:   5,
		MaxRetries:    3,
		Timeout:       5 * time.Second,
		Backoff:       []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond},
	}, nil)
}

// TestCallSuccess verifies a plain request and the quota reading from headers
func TestCallSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected Authorization header: %s", got)
		}
		w.Header().Set("X-Quota-Remaining", "42")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"monitors":[]}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 3)
	resp, err := client.Call(context.Background(), &Request{Path: "/monitors"})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("unexpected status: got %d, want 200", resp.StatusCode)
	}
	if string(resp.Body) != `{"monitors":[]}` {
		t.Errorf("unexpected body: %s", resp.Body)
	}

	remaining, _ := client.RemainingQuota()
	if remaining != 42 {
		t.Errorf("quota not tracked from headers: got %d, want 42", remaining)
	}
}

// TestCallConcurrencyCap verifies that in-flight requests never exceed the
// configured maximum even with many concurrent callers
func TestCallConcurrencyCap(t *testing.T) {
	var inFlight, maxInFlight int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := atomic.AddInt64(&inFlight, 1)
		for {
			max := atomic.LoadInt64(&maxInFlight)
			if current <= max || atomic.CompareAndSwapInt64(&maxInFlight, max, current) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 3)

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := client.Call(context.Background(), &Request{Path: "/monitors"}); err != nil {
				t.Errorf("Call failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&maxInFlight); got > 3 {
		t.Errorf("concurrency cap violated: %d requests in flight, want <= 3", got)
	}
}

// TestCallThrottledExhaustsRetries verifies bounded retries on 429 responses
func TestCallThrottledExhaustsRetries(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 3)
	_, err := client.Call(context.Background(), &Request{Path: "/monitors"})
	if !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected ErrThrottled, got %v", err)
	}
	if got := atomic.LoadInt64(&hits); got != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", got)
	}
}

// TestCallThrottledThenRecovers verifies a single 429 is retried and the
// request ultimately succeeds
func TestCallThrottledThenRecovers(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&hits, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 3)
	resp, err := client.Call(context.Background(), &Request{Path: "/monitors"})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("unexpected status: %d", resp.StatusCode)
	}
	if got := atomic.LoadInt64(&hits); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
}

// TestCallQuotaWaitBlocksUntilReset verifies calls block before dispatch when
// the last quota reading is below the safety buffer, and that the stale
// reading is forgotten once the window rolls over
func TestCallQuotaWaitBlocksUntilReset(t *testing.T) {
	var hits int64
	resetAt := time.Now().Add(2 * time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&hits, 1) == 1 {
			w.Header().Set("X-Quota-Remaining", "2")
			w.Header().Set("X-Quota-Reset", strconv.FormatInt(resetAt.Unix(), 10))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 3)

	// Prime the quota state from the first response.
	if _, err := client.Call(context.Background(), &Request{Path: "/monitors"}); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if remaining, _ := client.RemainingQuota(); remaining != 2 {
		t.Fatalf("quota not primed from headers: got %d, want 2", remaining)
	}

	// Below the buffer the next call must wait; a short deadline proves it
	// never reaches the server.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := client.Call(ctx, &Request{Path: "/monitors"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline error, got %v", err)
	}
	if got := atomic.LoadInt64(&hits); got != 1 {
		t.Fatalf("blocked call reached the server: %d hits, want 1", got)
	}

	// Without a deadline the call waits out the window, then dispatches.
	start := time.Now()
	if _, err := client.Call(context.Background(), &Request{Path: "/monitors"}); err != nil {
		t.Fatalf("Call failed after reset: %v", err)
	}
	if waited := time.Since(start); waited < 500*time.Millisecond {
		t.Errorf("call dispatched after %s, expected to wait for the reset", waited)
	}
	if got := atomic.LoadInt64(&hits); got != 2 {
		t.Errorf("got %d hits, want 2", got)
	}

	// The second response carried no quota headers, so the reading is unknown
	// again rather than stuck at the stale value.
	if remaining, _ := client.RemainingQuota(); remaining != -1 {
		t.Errorf("stale quota reading kept after reset: got %d, want -1", remaining)
	}
}

// TestCallTransientExhaustsRetries verifies network failures surface as
// ErrTransient after bounded retries
func TestCallTransientExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := newTestClient(url, 3)
	_, err := client.Call(context.Background(), &Request{Path: "/monitors"})
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
}

// TestCallContextCancelled verifies cancellation wins over retries
func TestCallContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := New(&Config{
		BaseURL:    srv.URL,
		APIKey:     "test-key",
		MaxRetries: 3,
		Backoff:    []time.Duration{time.Minute},
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Call(ctx, &Request{Path: "/monitors"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline error, got %v", err)
	}
}
