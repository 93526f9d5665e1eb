package metrics

import (
	stderrors "errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTimerRecordsDurationAndErrors(t *testing.T) {
	c, err := NewCollector(Config{})
	if err != nil {
		t.Fatal(err)
	}

	timer := c.Start("fetch")
	timer.End(nil)

	timer = c.Start("fetch")
	timer.End(stderrors.New("boom"))

	if got := testutil.ToFloat64(c.operationErrors.WithLabelValues("fetch")); got != 1 {
		t.Errorf("expected 1 recorded error, got %v", got)
	}
	if got := testutil.CollectAndCount(c.operationDuration); got == 0 {
		t.Error("expected duration observations to be collected")
	}
}

func TestCacheAndTaskCounters(t *testing.T) {
	c, err := NewCollector(Config{})
	if err != nil {
		t.Fatal(err)
	}

	c.RecordCacheEvent("memory", "hit")
	c.RecordCacheEvent("memory", "hit")
	c.RecordCacheEvent("file", "miss")
	c.RecordTask("success")
	c.SetPoolConnections("https://registry.test", 3)

	if got := testutil.ToFloat64(c.cacheEvents.WithLabelValues("memory", "hit")); got != 2 {
		t.Errorf("memory hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.cacheEvents.WithLabelValues("file", "miss")); got != 1 {
		t.Errorf("file misses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.poolConnections.WithLabelValues("https://registry.test")); got != 3 {
		t.Errorf("pool gauge = %v, want 3", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector

	timer := c.Start("anything")
	timer.End(stderrors.New("ignored"))
	c.RecordCacheEvent("memory", "hit")
	c.RecordTask("success")
	c.SetPoolConnections("host", 1)
	if c.Registry() != nil {
		t.Error("nil collector should expose a nil registry")
	}
	if err := c.StartServer(); err != nil {
		t.Errorf("nil collector StartServer should be a no-op, got %v", err)
	}
}

func TestDuplicateRegistrationFails(t *testing.T) {
	c, err := NewCollector(Config{Namespace: "dup"})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.registry.Register(c.operationErrors); err == nil {
		t.Error("registering the same collector twice must fail")
	}
}
