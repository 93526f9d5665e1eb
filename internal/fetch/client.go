// Package fetch implements the HTTP fetch pipeline: a request executor over
// pooled transports, a batching deduplicator in front of it, and the Client
// facade that ties them together with retry and metrics.
package fetch

import (
	"context"
	stderrors "errors"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pkgfast/pkgfast/internal/metrics"
	"github.com/pkgfast/pkgfast/internal/pool"
	"github.com/pkgfast/pkgfast/pkg/errors"
	"github.com/pkgfast/pkgfast/pkg/retry"
)

// ClientConfig holds the fetch pipeline settings.
type ClientConfig struct {
	Pool           pool.Config
	DefaultTimeout time.Duration
	FlushDelay     time.Duration
	MaxBatchSize   int
	Retry          retry.Config
}

// Client is the fetch facade. Every request passes through the deduper, so
// identical concurrent fetches share one network operation; the dispatch
// path acquires a pooled connection, executes with retry, and returns the
// connection on every outcome.
type Client struct {
	pool     *pool.ConnectionPool
	executor *Executor
	deduper  *BatchDeduper
	retryer  *retry.Retryer
	logger   logrus.FieldLogger
	metrics  *metrics.Collector
}

// NewClient builds the pipeline from config.
func NewClient(config ClientConfig, logger logrus.FieldLogger, collector *metrics.Collector) *Client {
	c := &Client{
		pool:     pool.NewConnectionPool(config.Pool, logger),
		executor: NewExecutor(config.DefaultTimeout),
		retryer:  retry.New(config.Retry),
		logger:   logger,
		metrics:  collector,
	}
	c.deduper = NewBatchDeduper(config.FlushDelay, config.MaxBatchSize, c.fetchDirect)
	return c
}

// Fetch issues a request through the dedup/batch layer. Callers with the
// same method, URL, headers, and body while a flight is pending receive the
// identical settlement.
func (c *Client) Fetch(ctx context.Context, target string, opts Options) (*Response, error) {
	timer := c.metrics.Start("fetch")
	resp, err := c.deduper.Request(ctx, target, opts)
	timer.End(err)
	return resp, err
}

// fetchDirect is the deduper's dispatch path: one real network operation.
func (c *Client) fetchDirect(ctx context.Context, target string, opts Options) (*Response, error) {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return nil, errors.Wrap(errors.ErrCodeNetwork, "invalid target URL", err).
			WithComponent("fetch").WithContext("url", target)
	}
	hostKey := pool.HostKey(u)

	var resp *Response
	err = c.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		conn, acquireErr := c.pool.Acquire(ctx, hostKey)
		if acquireErr != nil {
			return acquireErr
		}

		r, execErr := c.executor.Execute(ctx, conn, target, opts)
		if execErr != nil {
			// A transport-level failure poisons the connection; timeouts and
			// payload errors leave it reusable.
			if stderrors.Is(execErr, errors.New(errors.ErrCodeNetwork, "")) {
				c.pool.Discard(conn)
			} else {
				c.pool.Release(conn)
			}
			return execErr
		}

		c.pool.Release(conn)
		resp = r
		return nil
	})

	c.metrics.SetPoolConnections(hostKey, c.pool.LiveConnections(hostKey))
	if err != nil {
		if c.logger != nil {
			c.logger.WithFields(logrus.Fields{
				"url":   target,
				"error": err.Error(),
			}).Debug("fetch failed")
		}
		return nil, err
	}
	return resp, nil
}

// PoolStats returns the connection pool counters.
func (c *Client) PoolStats() pool.Stats {
	return c.pool.Stats()
}

// InFlight returns the number of deduplicated requests currently pending.
func (c *Client) InFlight() int {
	return c.deduper.InFlight()
}

// Close shuts the connection pool down. Pending pool waiters fail; deduped
// flights already dispatched settle with whatever their execution produced.
func (c *Client) Close() {
	c.pool.Close()
}
