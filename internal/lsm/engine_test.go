package lsm

import (
	"testing"
	"time"
)

func TestEnginePutGetDelete(t *testing.T) {
	e, err := Open(DefaultOptions(t.TempDir()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	if err := e.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, ok := e.Get([]byte("a"))
	if !ok || string(v) != "1" {
		t.Fatalf("expected a=1, got %q ok=%v", v, ok)
	}

	if err := e.Delete([]byte("a")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := e.Get([]byte("a")); ok {
		t.Fatal("expected key gone after delete")
	}
}

func TestEngineGetMissingKey(t *testing.T) {
	e, err := Open(DefaultOptions(t.TempDir()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	if _, ok := e.Get([]byte("missing")); ok {
		t.Fatal("expected miss for key never written")
	}
}

func TestEngineFlushPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(DefaultOptions(dir))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := e.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := e.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(DefaultOptions(dir))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	v, ok := reopened.Get([]byte("k"))
	if !ok || string(v) != "v" {
		t.Fatalf("expected k=v after reopen, got %q ok=%v", v, ok)
	}
}

func TestEngineForcesFlushWhenMemTableFull(t *testing.T) {
	opts := DefaultOptions(t.TempDir())
	opts.MemTableMaxBytes = 64
	e, err := Open(opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	for i := 0; i < 20; i++ {
		key := []byte{byte(i)}
		if err := e.Put(key, []byte("some-moderately-sized-value")); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}

	// Give the async flush worker a moment to drain; Flush() itself only
	// forces the *current* MemTable, not ones already handed off above.
	time.Sleep(50 * time.Millisecond)

	v, ok := e.Get([]byte{0})
	if !ok || string(v) != "some-moderately-sized-value" {
		t.Fatalf("expected key 0 readable after forced flush, got %q ok=%v", v, ok)
	}
}

func TestEngineAllLiveEntriesExcludesTombstones(t *testing.T) {
	e, err := Open(DefaultOptions(t.TempDir()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	e.Put([]byte("a"), []byte("1"))
	e.Put([]byte("b"), []byte("2"))
	e.Delete([]byte("a"))

	entries, err := e.AllLiveEntries()
	if err != nil {
		t.Fatalf("AllLiveEntries: %v", err)
	}
	if len(entries) != 1 || string(entries[0]) != "2" {
		t.Fatalf("expected only b=2 live, got %+v", entries)
	}
}

func TestEnginePutNilValueDeletes(t *testing.T) {
	e, err := Open(DefaultOptions(t.TempDir()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	e.Put([]byte("a"), []byte("1"))
	if err := e.Put([]byte("a"), nil); err != nil {
		t.Fatalf("Put nil value: %v", err)
	}
	if _, ok := e.Get([]byte("a")); ok {
		t.Fatal("expected nil-value Put to behave as delete")
	}
}
