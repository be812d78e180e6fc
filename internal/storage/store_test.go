package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"distkv/internal/op"
)

func newTestStore(t *testing.T, cacheBytes int64) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), cacheBytes)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t, 1<<20)

	if !s.Put("r1", "c1", []byte("hello"), op.NoLock) {
		t.Fatal("Put failed")
	}
	v, ok := s.Get("r1", "c1", op.NoLock)
	if !ok || string(v) != "hello" {
		t.Fatalf("Get = %q, %v, want hello, true", v, ok)
	}
}

func TestGetMissingKey(t *testing.T) {
	s := newTestStore(t, 1<<20)
	if _, ok := s.Get("nope", "nope", op.NoLock); ok {
		t.Fatal("Get on missing key should report false")
	}
}

func TestCPutSucceedsOnMatch(t *testing.T) {
	s := newTestStore(t, 1<<20)
	s.Put("r", "c", []byte("old"), op.NoLock)

	if !s.CPut("r", "c", []byte("old"), []byte("new"), op.NoLock) {
		t.Fatal("CPut should succeed when current value matches")
	}
	v, _ := s.Get("r", "c", op.NoLock)
	if string(v) != "new" {
		t.Fatalf("value after CPut = %q, want new", v)
	}
}

func TestCPutFailsOnMismatch(t *testing.T) {
	s := newTestStore(t, 1<<20)
	s.Put("r", "c", []byte("old"), op.NoLock)

	if s.CPut("r", "c", []byte("wrong"), []byte("new"), op.NoLock) {
		t.Fatal("CPut should fail when current value does not match")
	}
	v, _ := s.Get("r", "c", op.NoLock)
	if string(v) != "old" {
		t.Fatalf("value should be unchanged, got %q", v)
	}
}

func TestDeleteRemovesFromCacheAndDisk(t *testing.T) {
	s := newTestStore(t, 1<<20)
	s.Put("r", "c", []byte("v"), op.NoLock)

	if !s.Delete("r", "c", op.NoLock) {
		t.Fatal("Delete should succeed")
	}
	if _, ok := s.Get("r", "c", op.NoLock); ok {
		t.Fatal("value should be gone after Delete")
	}
}

func TestWriteThroughOnOversizedValue(t *testing.T) {
	s := newTestStore(t, 64) // smaller than entryOverheadBytes + value

	big := bytes.Repeat([]byte("x"), 1024)
	if !s.Put("r", "c", big, op.NoLock) {
		t.Fatal("Put of oversized value should still succeed via write-through")
	}

	v, ok := s.Get("r", "c", op.NoLock)
	if !ok || !bytes.Equal(v, big) {
		t.Fatal("oversized value should be retrievable via disk fallback")
	}

	path := filepath.Join(s.dir, "r", "c.dat")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected on-disk file at %s: %v", path, err)
	}
}

func TestLockExcludesOtherLockID(t *testing.T) {
	s := newTestStore(t, 1<<20)
	if !s.SetNX("r", "lockA") {
		t.Fatal("SetNX should succeed on an unlocked row")
	}

	if s.Put("r", "c", []byte("v"), "lockB") {
		t.Fatal("Put under a different lock id should be rejected")
	}
	if !s.Put("r", "c", []byte("v"), "lockA") {
		t.Fatal("Put under the holder's lock id should succeed")
	}
}

func TestLockBypassIgnoresLock(t *testing.T) {
	s := newTestStore(t, 1<<20)
	s.SetNX("r", "lockA")

	if !s.Put("r", "c", []byte("v"), op.LockBypass) {
		t.Fatal("Put with LockBypass should ignore any held lock")
	}
}

func TestDelReleasesLock(t *testing.T) {
	s := newTestStore(t, 1<<20)
	s.SetNX("r", "lockA")
	s.Del("r")

	if !s.Put("r", "c", []byte("v"), "lockB") {
		t.Fatal("Put should succeed once the lock is released")
	}
}

func TestGetAllRowsAndColsInRow(t *testing.T) {
	s := newTestStore(t, 1<<20)
	s.Put("r1", "c1", []byte("a"), op.NoLock)
	s.Put("r1", "c2", []byte("b"), op.NoLock)
	s.Put("r2", "c1", []byte("c"), op.NoLock)

	rows := s.GetAllRows()
	sort.Strings(rows)
	if len(rows) != 2 || rows[0] != "r1" || rows[1] != "r2" {
		t.Fatalf("GetAllRows = %v, want [r1 r2]", rows)
	}

	cols, ok := s.GetColsInRow("r1", op.NoLock)
	if !ok {
		t.Fatal("GetColsInRow should find r1")
	}
	sort.Strings(cols)
	if len(cols) != 2 || cols[0] != "c1" || cols[1] != "c2" {
		t.Fatalf("GetColsInRow(r1) = %v, want [c1 c2]", cols)
	}

	if _, ok := s.GetColsInRow("missing", op.NoLock); ok {
		t.Fatal("GetColsInRow on a missing row should report false")
	}
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	// Capacity fits exactly two ~"x"-sized entries once overhead is
	// accounted for; inserting a third should evict the first.
	valueSize := int64(8)
	s := newTestStore(t, 2*(entryOverheadBytes+valueSize))

	s.Put("r1", "c1", bytes.Repeat([]byte("a"), int(valueSize)), op.NoLock)
	s.Put("r2", "c1", bytes.Repeat([]byte("b"), int(valueSize)), op.NoLock)
	// touch r1 so r2 becomes the LRU entry
	s.Get("r1", "c1", op.NoLock)
	s.Put("r3", "c1", bytes.Repeat([]byte("c"), int(valueSize)), op.NoLock)

	if _, ok := s.cache.get("r2", "c1"); ok {
		t.Fatal("r2 should have been evicted as least recently used")
	}
	// r2's value must have been written back to disk by eviction.
	if _, ok := s.Get("r2", "c1", op.NoLock); !ok {
		t.Fatal("evicted value should still be retrievable from disk")
	}
}
