package fetch

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkgfast/pkgfast/internal/pool"
	pkgerrors "github.com/pkgfast/pkgfast/pkg/errors"
	"github.com/pkgfast/pkgfast/pkg/retry"
)

func testClientConfig() ClientConfig {
	return ClientConfig{
		Pool: pool.Config{
			MaxPerHost:     4,
			ReuseWindow:    time.Minute,
			AcquireTimeout: 2 * time.Second,
		},
		DefaultTimeout: 2 * time.Second,
		FlushDelay:     time.Millisecond,
		MaxBatchSize:   8,
		Retry:          retry.Config{MaxAttempts: 1},
	}
}

func TestClientFetchEndToEnd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"versions":{"1.0.0":{}}}`))
	}))
	defer server.Close()

	c := NewClient(testClientConfig(), nil, nil)
	defer c.Close()

	resp, err := c.Fetch(context.Background(), server.URL+"/left-pad", Options{})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("unexpected status %d", resp.StatusCode)
	}
	if resp.Parsed == nil {
		t.Error("expected parsed JSON payload")
	}
}

func TestClientCoalescesIdenticalConcurrentFetches(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(50 * time.Millisecond)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	c := NewClient(testClientConfig(), nil, nil)
	defer c.Close()

	const callers = 10
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Fetch(context.Background(), server.URL+"/react", Options{}); err != nil {
				t.Errorf("Fetch failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if hits.Load() != 1 {
		t.Errorf("expected one network hit for %d identical fetches, got %d", callers, hits.Load())
	}
}

func TestClientHTTPErrorStatusIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := NewClient(testClientConfig(), nil, nil)
	defer c.Close()

	resp, err := c.Fetch(context.Background(), server.URL+"/missing", Options{})
	if err != nil {
		t.Fatalf("status codes are payload, not transport failures: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestClientRetriesTransportFailures(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			// Kill the connection mid-response to force a transport error.
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Error("server does not support hijacking")
				return
			}
			conn, _, _ := hj.Hijack()
			_ = conn.Close()
			return
		}
		_, _ = w.Write([]byte("recovered"))
	}))
	defer server.Close()

	config := testClientConfig()
	config.Retry = retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond}
	c := NewClient(config, nil, nil)
	defer c.Close()

	resp, err := c.Fetch(context.Background(), server.URL+"/flaky", Options{})
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if string(resp.Body) != "recovered" {
		t.Errorf("unexpected body %q", resp.Body)
	}
	if hits.Load() < 2 {
		t.Errorf("expected at least 2 attempts, got %d", hits.Load())
	}
}

func TestClientInvalidURL(t *testing.T) {
	c := NewClient(testClientConfig(), nil, nil)
	defer c.Close()

	_, err := c.Fetch(context.Background(), "not a url", Options{})
	if !stderrors.Is(err, pkgerrors.New(pkgerrors.ErrCodeNetwork, "")) {
		t.Errorf("expected NETWORK_ERROR for an unparseable target, got %v", err)
	}
}

func TestClientCloseFailsSubsequentFetch(t *testing.T) {
	c := NewClient(testClientConfig(), nil, nil)
	c.Close()

	_, err := c.Fetch(context.Background(), "https://registry.test/left-pad", Options{})
	if !stderrors.Is(err, pkgerrors.New(pkgerrors.ErrCodePoolClosed, "")) {
		t.Errorf("expected POOL_CLOSED after Close, got %v", err)
	}
}
