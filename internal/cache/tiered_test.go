package cache

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func newTieredForTest(t *testing.T, maxEntries int, ttl time.Duration) (*TieredCache, *test.Hook) {
	t.Helper()
	file, err := NewFileCache(t.TempDir(), ttl)
	if err != nil {
		t.Fatal(err)
	}
	logger, hook := test.NewNullLogger()
	return NewTieredCache(NewMemoryCache(maxEntries), file, logger), hook
}

func TestTieredCache_MemoryHitSkipsDisk(t *testing.T) {
	tiered, _ := newTieredForTest(t, 10, time.Minute)

	tiered.Set("k", []byte("v"))
	if _, ok := tiered.Get("k"); !ok {
		t.Fatal("expected hit")
	}

	// Second read comes from memory; the file tier saw only the first miss
	// path never being taken (file Get untouched).
	if stats := tiered.FileStats(); stats.Hits != 0 {
		t.Errorf("expected file tier untouched on memory hit, got %d hits", stats.Hits)
	}
}

func TestTieredCache_FileHitPromotesToMemory(t *testing.T) {
	file, err := NewFileCache(t.TempDir(), time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	memory := NewMemoryCache(10)
	tiered := NewTieredCache(memory, file, nil)

	// Populate only the durable tier.
	if err := file.Set("k", []byte("v")); err != nil {
		t.Fatal(err)
	}

	value, ok := tiered.Get("k")
	if !ok || !bytes.Equal(value, []byte("v")) {
		t.Fatalf("expected file-tier hit, got %q ok=%v", value, ok)
	}

	if _, ok := memory.Get("k"); !ok {
		t.Error("expected file-tier hit to be promoted into memory")
	}
}

func TestTieredCache_DoubleMiss(t *testing.T) {
	tiered, _ := newTieredForTest(t, 10, time.Minute)
	if _, ok := tiered.Get("unknown"); ok {
		t.Error("expected double miss")
	}
}

func TestTieredCache_DeleteClearsBothTiers(t *testing.T) {
	file, err := NewFileCache(t.TempDir(), time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	memory := NewMemoryCache(10)
	tiered := NewTieredCache(memory, file, nil)

	tiered.Set("k", []byte("v"))
	tiered.Delete("k")

	if _, ok := memory.Get("k"); ok {
		t.Error("expected memory tier cleared")
	}
	if _, ok := file.Get("k"); ok {
		t.Error("expected file tier cleared")
	}
}

// A durable-tier write failure surfaces as a warning but does not
// invalidate the memory write.
func TestTieredCache_DiskWriteFailureWarnsButMemorySucceeds(t *testing.T) {
	dir := t.TempDir()
	file, err := NewFileCache(dir, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	logger, hook := test.NewNullLogger()
	tiered := NewTieredCache(NewMemoryCache(10), file, logger)

	// Break the durable tier.
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}

	tiered.Set("k", []byte("v"))

	if value, ok := tiered.Get("k"); !ok || !bytes.Equal(value, []byte("v")) {
		t.Error("expected memory tier to serve the value despite disk failure")
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.WarnLevel {
		t.Error("expected a warning log for the failed durable write")
	}
}

func TestTieredCache_ExpiredFileEntryIsMiss(t *testing.T) {
	tiered, _ := newTieredForTest(t, 1, 50*time.Millisecond)

	tiered.Set("a", []byte("1"))
	// Push a out of the single-slot memory tier, leaving only the file copy.
	tiered.Set("b", []byte("2"))

	time.Sleep(80 * time.Millisecond)

	if _, ok := tiered.Get("a"); ok {
		t.Error("expected miss once the durable entry expired")
	}
}
