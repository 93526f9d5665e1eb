// Package pool manages per-host sets of reusable HTTP transports with a
// capped size, an idle-reuse window, and a FIFO wait queue for callers when
// a host is at its ceiling.
package pool

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pkgfast/pkgfast/pkg/errors"
)

// Connection is one pooled transport handle. A connection is busy for at
// most one caller at a time.
type Connection struct {
	hostKey    string
	transport  Transport
	busy       bool
	lastUsedAt time.Time
}

// Transport returns the capability negotiated for this connection.
func (c *Connection) Transport() Transport { return c.transport }

// HostKey returns the host bucket this connection belongs to.
func (c *Connection) HostKey() string { return c.hostKey }

// Protocol returns the protocol chosen at creation time.
func (c *Connection) Protocol() Protocol { return c.transport.Protocol() }

type acquireResult struct {
	conn *Connection
	err  error
}

type waiter struct {
	ch         chan acquireResult
	enqueuedAt time.Time
}

type hostPool struct {
	conns   []*Connection
	waiters []*waiter
	live    int // pooled connections plus in-flight creations
}

// Config holds the pool settings.
type Config struct {
	MaxPerHost         int
	ReuseWindow        time.Duration
	AcquireTimeout     time.Duration
	EnableHTTP2        bool
	InsecureSkipVerify bool
}

// Stats tracks pool counters.
type Stats struct {
	Created   int64 `json:"created"`
	Reused    int64 `json:"reused"`
	TimedOut  int64 `json:"timed_out"`
	Discarded int64 `json:"discarded"`
}

// ConnectionPool is the per-host transport pool.
type ConnectionPool struct {
	mu     sync.Mutex
	hosts  map[string]*hostPool
	config Config
	logger logrus.FieldLogger
	closed bool
	stats  Stats

	// Overridable for tests.
	transportFactory func(hostKey string) Transport
}

// NewConnectionPool creates a pool. Zero config fields get defaults.
func NewConnectionPool(config Config, logger logrus.FieldLogger) *ConnectionPool {
	if config.MaxPerHost <= 0 {
		config.MaxPerHost = 6
	}
	if config.ReuseWindow <= 0 {
		config.ReuseWindow = 60 * time.Second
	}
	if config.AcquireTimeout <= 0 {
		config.AcquireTimeout = 30 * time.Second
	}

	p := &ConnectionPool{
		hosts:  make(map[string]*hostPool),
		config: config,
		logger: logger,
	}
	p.transportFactory = p.newTransport
	return p
}

// HostKey derives the pool bucket for a URL: scheme plus host.
func HostKey(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}

// Acquire returns an idle connection for hostKey, creating one when the
// host is under its ceiling. At the ceiling the caller joins a FIFO wait
// queue; if no connection is released before the acquire deadline, Acquire
// fails with a timeout error and the waiter is removed. Idle connections
// past the reuse window are skipped for pickup but stay pooled until Close.
func (p *ConnectionPool) Acquire(ctx context.Context, hostKey string) (*Connection, error) {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		return nil, errors.New(errors.ErrCodePoolClosed, "connection pool is closed").
			WithComponent("pool").WithOperation("acquire")
	}

	h := p.hosts[hostKey]
	if h == nil {
		h = &hostPool{}
		p.hosts[hostKey] = h
	}

	// Opportunistic reuse of a fresh idle connection.
	now := time.Now()
	for _, conn := range h.conns {
		if !conn.busy && now.Sub(conn.lastUsedAt) <= p.config.ReuseWindow {
			conn.busy = true
			p.stats.Reused++
			p.mu.Unlock()
			return conn, nil
		}
	}

	// Under the ceiling: create. The slot is reserved before unlocking so
	// concurrent acquires cannot overshoot the ceiling during the dial.
	if h.live < p.config.MaxPerHost {
		h.live++
		p.mu.Unlock()

		transport := p.transportFactory(hostKey)
		conn := &Connection{
			hostKey:    hostKey,
			transport:  transport,
			busy:       true,
			lastUsedAt: time.Now(),
		}

		p.mu.Lock()
		if p.closed {
			h.live--
			p.mu.Unlock()
			transport.Close()
			return nil, errors.New(errors.ErrCodePoolClosed, "connection pool is closed").
				WithComponent("pool").WithOperation("acquire")
		}
		h.conns = append(h.conns, conn)
		p.stats.Created++
		p.mu.Unlock()
		return conn, nil
	}

	// At the ceiling: wait FIFO for a release.
	w := &waiter{ch: make(chan acquireResult, 1), enqueuedAt: now}
	h.waiters = append(h.waiters, w)
	p.mu.Unlock()

	timer := time.NewTimer(p.config.AcquireTimeout)
	defer timer.Stop()

	select {
	case res := <-w.ch:
		return res.conn, res.err
	case <-timer.C:
		if p.removeWaiter(hostKey, w) {
			p.mu.Lock()
			p.stats.TimedOut++
			p.mu.Unlock()
			return nil, errors.Newf(errors.ErrCodeConnectionTimeout,
				"timed out waiting for a connection to %s", hostKey).
				WithComponent("pool").WithOperation("acquire")
		}
		// A connection was delivered concurrently with the timeout.
		res := <-w.ch
		return res.conn, res.err
	case <-ctx.Done():
		if p.removeWaiter(hostKey, w) {
			return nil, errors.Wrap(errors.ErrCodeConnectionTimeout,
				"context canceled while waiting for a connection", ctx.Err()).
				WithComponent("pool").WithOperation("acquire")
		}
		res := <-w.ch
		if res.err == nil && res.conn != nil {
			// Delivered after cancellation; hand the connection back.
			p.Release(res.conn)
			return nil, errors.Wrap(errors.ErrCodeConnectionTimeout,
				"context canceled while waiting for a connection", ctx.Err()).
				WithComponent("pool").WithOperation("acquire")
		}
		return res.conn, res.err
	}
}

// removeWaiter detaches w from the host queue. Returns false when the
// waiter was already handed a result.
func (p *ConnectionPool) removeWaiter(hostKey string, w *waiter) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	h := p.hosts[hostKey]
	if h == nil {
		return false
	}
	for i, candidate := range h.waiters {
		if candidate == w {
			h.waiters = append(h.waiters[:i], h.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// Release marks conn idle and hands it to the longest-waiting caller, if
// any.
func (p *ConnectionPool) Release(conn *Connection) {
	if conn == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	conn.busy = false
	conn.lastUsedAt = time.Now()

	h := p.hosts[conn.hostKey]
	if h == nil || len(h.waiters) == 0 {
		return
	}

	w := h.waiters[0]
	h.waiters = h.waiters[1:]
	conn.busy = true
	p.stats.Reused++
	w.ch <- acquireResult{conn: conn}
}

// Discard removes a broken connection from the pool, freeing its slot.
func (p *ConnectionPool) Discard(conn *Connection) {
	if conn == nil {
		return
	}

	p.mu.Lock()
	h := p.hosts[conn.hostKey]
	if h != nil {
		for i, candidate := range h.conns {
			if candidate == conn {
				h.conns = append(h.conns[:i], h.conns[i+1:]...)
				h.live--
				break
			}
		}
	}
	p.stats.Discarded++
	p.mu.Unlock()

	conn.transport.Close()
}

// Close destroys every pooled transport across all hosts and fails all
// queued waiters. Subsequent Acquire calls are invalid.
func (p *ConnectionPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	var transports []Transport
	for _, h := range p.hosts {
		for _, conn := range h.conns {
			transports = append(transports, conn.transport)
		}
		for _, w := range h.waiters {
			w.ch <- acquireResult{err: errors.New(errors.ErrCodePoolClosed,
				"connection pool closed while waiting").
				WithComponent("pool").WithOperation("acquire")}
		}
		h.conns = nil
		h.waiters = nil
		h.live = 0
	}
	p.hosts = make(map[string]*hostPool)
	p.mu.Unlock()

	for _, transport := range transports {
		transport.Close()
	}
}

// Stats returns a snapshot of the pool counters.
func (p *ConnectionPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// LiveConnections returns the live connection count for a host.
func (p *ConnectionPool) LiveConnections(hostKey string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h := p.hosts[hostKey]; h != nil {
		return h.live
	}
	return 0
}

// newTransport chooses the transport capability for a new connection:
// HTTP/2 when the target is HTTPS, HTTP/2 is enabled, and ALPN negotiation
// selects h2; a keep-alive HTTP/1.1 agent otherwise. Fallback is logged.
func (p *ConnectionPool) newTransport(hostKey string) Transport {
	secure := strings.HasPrefix(hostKey, "https://")
	if !secure || !p.config.EnableHTTP2 {
		return newHTTP1Transport(p.config.InsecureSkipVerify)
	}

	host := strings.TrimPrefix(hostKey, "https://")
	if !strings.Contains(host, ":") {
		host += ":443"
	}

	negotiated, err := negotiateALPN(host, p.config.InsecureSkipVerify, 10*time.Second)
	if err != nil || !negotiated {
		if p.logger != nil {
			entry := p.logger.WithField("host", hostKey)
			if err != nil {
				entry = entry.WithField("error", err.Error())
			}
			entry.Warn("HTTP/2 negotiation failed, falling back to HTTP/1.1")
		}
		return newHTTP1Transport(p.config.InsecureSkipVerify)
	}

	return newHTTP2Transport(p.config.InsecureSkipVerify)
}
