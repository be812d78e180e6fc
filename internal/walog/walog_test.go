package walog

import (
	"path/filepath"
	"testing"

	"distkv/internal/op"
)

func TestFreshDirIsNotRecoverable(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "missing"))
	if l.Recoverable() {
		t.Fatal("a log directory that doesn't exist should not be recoverable")
	}
}

func TestLogThenReplayInOrder(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)

	ops := []*op.Op{
		{Kind: op.Put, Row: "r1", Col: "c1", NewValue: []byte("a"), RequestID: "req-1"},
		{Kind: op.Put, Row: "r1", Col: "c2", NewValue: []byte("b"), RequestID: "req-2"},
		{Kind: op.Delete, Row: "r1", Col: "c1", RequestID: "req-3"},
	}
	for i, o := range ops {
		if err := l.Log(o, i+1); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	replay := New(dir)
	if !replay.Recoverable() {
		t.Fatal("directory with logged ops should be recoverable")
	}

	seq, ok := replay.RecoverGlobalSeq()
	if !ok || seq != len(ops) {
		t.Fatalf("RecoverGlobalSeq = %d, %v, want %d, true", seq, ok, len(ops))
	}

	var recovered []*op.Op
	for replay.HasNextOp() {
		o, err := replay.RecoverOp()
		if err != nil {
			t.Fatalf("RecoverOp: %v", err)
		}
		recovered = append(recovered, o)
	}

	if len(recovered) != len(ops) {
		t.Fatalf("recovered %d ops, want %d", len(recovered), len(ops))
	}
	for i, o := range recovered {
		if o.RequestID != ops[i].RequestID {
			t.Fatalf("recovered[%d].RequestID = %q, want %q", i, o.RequestID, ops[i].RequestID)
		}
	}
}

func TestAppendAfterRecoveryContinuesCounter(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	l.Log(&op.Op{Kind: op.Put, RequestID: "req-1"}, 1)
	l.Log(&op.Op{Kind: op.Put, RequestID: "req-2"}, 2)

	reopened := New(dir)
	reopened.Recoverable()
	if err := reopened.Log(&op.Op{Kind: op.Put, RequestID: "req-3"}, 3); err != nil {
		t.Fatalf("Log after recovery: %v", err)
	}

	fresh := New(dir)
	fresh.Recoverable()
	var ids []string
	for fresh.HasNextOp() {
		o, err := fresh.RecoverOp()
		if err != nil {
			t.Fatalf("RecoverOp: %v", err)
		}
		ids = append(ids, o.RequestID)
	}
	want := []string{"req-1", "req-2", "req-3"}
	if len(ids) != len(want) {
		t.Fatalf("recovered %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("recovered[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}
