package pool

import (
	"context"
	stderrors "errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	pkgerrors "github.com/pkgfast/pkgfast/pkg/errors"
)

type fakeTransport struct {
	protocol Protocol
	closed   atomic.Bool
}

func (t *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return nil, stderrors.New("fake transport")
}

func (t *fakeTransport) Protocol() Protocol { return t.protocol }

func (t *fakeTransport) Close() { t.closed.Store(true) }

func newTestPool(config Config) (*ConnectionPool, *atomic.Int64) {
	p := NewConnectionPool(config, nil)
	var created atomic.Int64
	p.transportFactory = func(hostKey string) Transport {
		created.Add(1)
		return &fakeTransport{protocol: ProtocolHTTP1}
	}
	return p, &created
}

func TestAcquireCreatesAndReuses(t *testing.T) {
	p, created := newTestPool(Config{MaxPerHost: 2, ReuseWindow: time.Minute})
	defer p.Close()

	conn, err := p.Acquire(context.Background(), "https://registry.test")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	p.Release(conn)

	conn2, err := p.Acquire(context.Background(), "https://registry.test")
	if err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}
	if conn2 != conn {
		t.Error("expected the idle connection to be reused")
	}
	if created.Load() != 1 {
		t.Errorf("expected 1 transport created, got %d", created.Load())
	}
}

func TestAcquireNeverExceedsCeiling(t *testing.T) {
	const ceiling = 3
	p, created := newTestPool(Config{
		MaxPerHost:     ceiling,
		ReuseWindow:    time.Minute,
		AcquireTimeout: 2 * time.Second,
	})
	defer p.Close()

	const host = "https://registry.test"
	var wg sync.WaitGroup
	var maxLive atomic.Int64

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := p.Acquire(context.Background(), host)
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			if live := int64(p.LiveConnections(host)); live > maxLive.Load() {
				maxLive.Store(live)
			}
			time.Sleep(time.Millisecond)
			p.Release(conn)
		}()
	}
	wg.Wait()

	if maxLive.Load() > ceiling {
		t.Errorf("live connections exceeded ceiling: %d > %d", maxLive.Load(), ceiling)
	}
	if created.Load() > ceiling {
		t.Errorf("created more transports than the ceiling: %d", created.Load())
	}
}

func TestWaiterReceivesReleasedConnectionFIFO(t *testing.T) {
	p, _ := newTestPool(Config{
		MaxPerHost:     1,
		ReuseWindow:    time.Minute,
		AcquireTimeout: 2 * time.Second,
	})
	defer p.Close()

	const host = "https://registry.test"
	conn, err := p.Acquire(context.Background(), host)
	if err != nil {
		t.Fatal(err)
	}

	order := make(chan int, 2)
	var wg sync.WaitGroup
	for i := 1; i <= 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := p.Acquire(context.Background(), host)
			if err != nil {
				t.Errorf("waiter %d failed: %v", i, err)
				return
			}
			order <- i
			p.Release(got)
		}(i)
		// Stagger so the queue order is deterministic.
		time.Sleep(20 * time.Millisecond)
	}

	p.Release(conn)
	wg.Wait()
	close(order)

	first := <-order
	if first != 1 {
		t.Errorf("expected the longest-waiting caller to be woken first, got waiter %d", first)
	}
}

func TestWaiterDeadlineTimesOut(t *testing.T) {
	p, _ := newTestPool(Config{
		MaxPerHost:     1,
		ReuseWindow:    time.Minute,
		AcquireTimeout: 50 * time.Millisecond,
	})
	defer p.Close()

	const host = "https://registry.test"
	conn, err := p.Acquire(context.Background(), host)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Release(conn)

	start := time.Now()
	_, err = p.Acquire(context.Background(), host)
	if err == nil {
		t.Fatal("expected timeout while the only connection is busy")
	}
	if !stderrors.Is(err, pkgerrors.New(pkgerrors.ErrCodeConnectionTimeout, "")) {
		t.Errorf("expected CONNECTION_TIMEOUT, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("timed out too early: %v", elapsed)
	}

	// The timed-out waiter is removed: releasing now must not panic or
	// deliver to it.
	p.Release(conn)
	conn2, err := p.Acquire(context.Background(), host)
	if err != nil {
		t.Fatalf("Acquire after timeout failed: %v", err)
	}
	p.Release(conn2)
}

func TestStaleConnectionSkippedForPickup(t *testing.T) {
	p, created := newTestPool(Config{
		MaxPerHost:  2,
		ReuseWindow: 30 * time.Millisecond,
	})
	defer p.Close()

	const host = "https://registry.test"
	conn, err := p.Acquire(context.Background(), host)
	if err != nil {
		t.Fatal(err)
	}
	p.Release(conn)

	time.Sleep(50 * time.Millisecond)

	conn2, err := p.Acquire(context.Background(), host)
	if err != nil {
		t.Fatal(err)
	}
	if conn2 == conn {
		t.Error("expected a stale connection to be skipped for opportunistic pickup")
	}
	if created.Load() != 2 {
		t.Errorf("expected a fresh transport to be created, got %d creations", created.Load())
	}
	// The stale entry stays pooled until Close.
	if p.LiveConnections(host) != 2 {
		t.Errorf("expected stale entry to remain pooled, live=%d", p.LiveConnections(host))
	}
}

func TestCloseDestroysTransportsAndFailsWaiters(t *testing.T) {
	p := NewConnectionPool(Config{MaxPerHost: 1, AcquireTimeout: 2 * time.Second}, nil)
	transport := &fakeTransport{protocol: ProtocolHTTP1}
	p.transportFactory = func(hostKey string) Transport { return transport }

	const host = "https://registry.test"
	if _, err := p.Acquire(context.Background(), host); err != nil {
		t.Fatal(err)
	}

	waiterErr := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background(), host)
		waiterErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	p.Close()

	if err := <-waiterErr; !stderrors.Is(err, pkgerrors.New(pkgerrors.ErrCodePoolClosed, "")) {
		t.Errorf("expected POOL_CLOSED for queued waiter, got %v", err)
	}
	if !transport.closed.Load() {
		t.Error("expected pooled transport to be destroyed on Close")
	}
	if _, err := p.Acquire(context.Background(), host); err == nil {
		t.Error("expected Acquire after Close to fail")
	}
}

func TestDiscardFreesSlot(t *testing.T) {
	p, _ := newTestPool(Config{MaxPerHost: 1, ReuseWindow: time.Minute})
	defer p.Close()

	const host = "https://registry.test"
	conn, err := p.Acquire(context.Background(), host)
	if err != nil {
		t.Fatal(err)
	}

	p.Discard(conn)
	if p.LiveConnections(host) != 0 {
		t.Errorf("expected 0 live after discard, got %d", p.LiveConnections(host))
	}

	if _, err := p.Acquire(context.Background(), host); err != nil {
		t.Errorf("expected capacity after discard, got %v", err)
	}
}
