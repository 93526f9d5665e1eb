package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkgfast/pkgfast/pkg/errors"
)

// dispatchFunc performs the network operation for one buffered request.
type dispatchFunc func(ctx context.Context, target string, opts Options) (*Response, error)

// pendingRequest is one coalesced flight. All co-waiters share it and
// observe the identical settlement.
type pendingRequest struct {
	fingerprint string
	target      string
	opts        Options
	enqueuedAt  time.Time

	done chan struct{}
	resp *Response
	err  error
}

func (p *pendingRequest) settle(resp *Response, err error) {
	p.resp = resp
	p.err = err
	close(p.done)
}

// BatchDeduper coalesces identical concurrent requests into a single
// in-flight operation and batches dispatch on a delay/size trigger. A
// flush detaches up to MaxBatchSize buffered entries and dispatches them
// concurrently; each fingerprint's dedup entry is cleared exactly once,
// after its flight settles.
type BatchDeduper struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
	buffer  []*pendingRequest
	timer   *time.Timer

	flushDelay   time.Duration
	maxBatchSize int
	dispatch     dispatchFunc
}

// NewBatchDeduper creates a deduper that dispatches through fn.
func NewBatchDeduper(flushDelay time.Duration, maxBatchSize int, fn dispatchFunc) *BatchDeduper {
	if flushDelay <= 0 {
		flushDelay = 10 * time.Millisecond
	}
	if maxBatchSize <= 0 {
		maxBatchSize = 32
	}
	return &BatchDeduper{
		pending:      make(map[string]*pendingRequest),
		flushDelay:   flushDelay,
		maxBatchSize: maxBatchSize,
		dispatch:     fn,
	}
}

// Fingerprint derives the dedup key from the target and options. The
// serialization is deterministic: method, URL, sorted header pairs, and a
// hash of the body.
func Fingerprint(target string, opts Options) string {
	var b strings.Builder
	b.WriteString(opts.Method)
	b.WriteByte('\n')
	b.WriteString(target)
	b.WriteByte('\n')

	keys := make([]string, 0, len(opts.Header))
	for key := range opts.Header {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&b, "%s=%s\n", key, strings.Join(opts.Header[key], ","))
	}

	if len(opts.Body) > 0 {
		bodySum := sha256.Sum256(opts.Body)
		b.WriteString(hex.EncodeToString(bodySum[:]))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Request coalesces the call with any identical concurrent request. The
// first buffered entry after an empty buffer arms the flush delay; the
// buffer flushes on that delay or upon reaching MaxBatchSize, whichever
// comes first.
func (d *BatchDeduper) Request(ctx context.Context, target string, opts Options) (*Response, error) {
	fingerprint := Fingerprint(target, opts)

	d.mu.Lock()
	if existing, ok := d.pending[fingerprint]; ok {
		d.mu.Unlock()
		return existing.wait(ctx)
	}

	p := &pendingRequest{
		fingerprint: fingerprint,
		target:      target,
		opts:        opts,
		enqueuedAt:  time.Now(),
		done:        make(chan struct{}),
	}
	d.pending[fingerprint] = p
	d.buffer = append(d.buffer, p)

	if len(d.buffer) >= d.maxBatchSize {
		batch := d.detachLocked()
		d.mu.Unlock()
		go d.dispatchBatch(batch)
		return p.wait(ctx)
	}

	if d.timer == nil {
		d.timer = time.AfterFunc(d.flushDelay, d.flushOnTimer)
	}
	d.mu.Unlock()

	return p.wait(ctx)
}

// InFlight returns the number of fingerprints currently pending.
func (d *BatchDeduper) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (p *pendingRequest) wait(ctx context.Context) (*Response, error) {
	select {
	case <-p.done:
		return p.resp, p.err
	case <-ctx.Done():
		// The flight itself continues; only this caller gives up.
		return nil, errors.Wrap(errors.ErrCodeRequestTimeout,
			"canceled while waiting for a coalesced request", ctx.Err()).
			WithComponent("deduper")
	}
}

// flushOnTimer drains the buffer when the flush delay elapses.
func (d *BatchDeduper) flushOnTimer() {
	d.mu.Lock()
	d.timer = nil
	batch := d.detachLocked()
	// Entries beyond the batch size stay buffered; re-arm for them.
	if len(d.buffer) > 0 {
		d.timer = time.AfterFunc(d.flushDelay, d.flushOnTimer)
	}
	d.mu.Unlock()

	if len(batch) > 0 {
		d.dispatchBatch(batch)
	}
}

// detachLocked removes up to maxBatchSize entries from the buffer.
func (d *BatchDeduper) detachLocked() []*pendingRequest {
	n := len(d.buffer)
	if n > d.maxBatchSize {
		n = d.maxBatchSize
	}
	batch := d.buffer[:n:n]
	d.buffer = d.buffer[n:]
	return batch
}

// dispatchBatch fans the batch out concurrently. If dispatch setup fails
// before the per-request flights are wired, every entry in the flush is
// rejected and its dedup entry cleared, so no caller is left pending.
func (d *BatchDeduper) dispatchBatch(batch []*pendingRequest) {
	wired := false
	defer func() {
		if r := recover(); r != nil && !wired {
			err := errors.Newf(errors.ErrCodeInternal, "batch dispatch failed: %v", r).
				WithComponent("deduper")
			for _, p := range batch {
				d.clear(p)
				p.settle(nil, err)
			}
		}
	}()

	if d.dispatch == nil {
		panic("batch deduper has no dispatch function")
	}
	wired = true

	for _, p := range batch {
		go func(p *pendingRequest) {
			resp, err := d.dispatch(context.Background(), p.target, p.opts)
			d.clear(p)
			p.settle(resp, err)
		}(p)
	}
}

// clear removes the dedup entry for a settled flight. A new identical
// request afterwards starts fresh.
func (d *BatchDeduper) clear(p *pendingRequest) {
	d.mu.Lock()
	delete(d.pending, p.fingerprint)
	d.mu.Unlock()
}
