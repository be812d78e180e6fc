package kvserver

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"distkv/internal/op"
	"distkv/internal/paxos"
	"distkv/internal/storage"
	"distkv/internal/walog"
)

// localPeer wires a paxos.Peer directly to another Paxos instance in the
// same process, standing in for a network transport in tests.
type localPeer struct {
	target *paxos.Paxos
}

func (l *localPeer) Prepare(ctx context.Context, args *paxos.PrepareArgs) (*paxos.PrepareReply, error) {
	return l.target.Prepare(ctx, args)
}
func (l *localPeer) Accept(ctx context.Context, args *paxos.AcceptArgs) (*paxos.AcceptReply, error) {
	return l.target.Accept(ctx, args)
}
func (l *localPeer) Decide(ctx context.Context, args *paxos.DecideArgs) (*paxos.DecideReply, error) {
	return l.target.Decide(ctx, args)
}

// newClusterWired builds n kvservers whose Paxos instances are fully
// wired to each other. Each server gets its own data directory, so these
// are independent replicas rather than a single shared store.
func newClusterWired(t *testing.T, n int) []*Server {
	t.Helper()

	peerSlices := make([][]paxos.Peer, n)
	for i := range peerSlices {
		peerSlices[i] = make([]paxos.Peer, n)
	}

	paxoses := make([]*paxos.Paxos, n)
	for i := 0; i < n; i++ {
		paxoses[i] = paxos.New(i, peerSlices[i])
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j {
				peerSlices[i][j] = &localPeer{target: paxoses[j]}
			}
		}
	}

	servers := make([]*Server, n)
	for i := 0; i < n; i++ {
		dir := t.TempDir()
		store, err := storage.NewStore(filepath.Join(dir, "data"), 1<<20)
		if err != nil {
			t.Fatalf("NewStore: %v", err)
		}
		wal := walog.New(filepath.Join(dir, "log"))
		servers[i] = New(i, paxoses[i], store, wal)
	}
	return servers
}

func TestPutGetThroughConsensus(t *testing.T) {
	servers := newClusterWired(t, 3)

	out := servers[0].Put("row1", "col1", []byte("hello"), "req-1", op.NoLock)
	if !out.Success {
		t.Fatal("Put should succeed")
	}

	got := servers[1].Get("row1", "col1", "req-2", op.NoLock)
	if !got.Success || !bytes.Equal(got.Value, []byte("hello")) {
		t.Fatalf("Get on replica 1 = %+v, want hello", got)
	}
}

func TestCPutAndDeleteThroughConsensus(t *testing.T) {
	servers := newClusterWired(t, 3)

	servers[0].Put("r", "c", []byte("v1"), "req-1", op.NoLock)
	out := servers[0].CPut("r", "c", []byte("v1"), []byte("v2"), "req-2", op.NoLock)
	if !out.Success {
		t.Fatal("CPut should succeed on matching current value")
	}

	got := servers[2].Get("r", "c", "req-3", op.NoLock)
	if string(got.Value) != "v2" {
		t.Fatalf("Get after CPut = %q, want v2", got.Value)
	}

	del := servers[1].Delete("r", "c", "req-4", op.NoLock)
	if !del.Success {
		t.Fatal("Delete should succeed")
	}
	got = servers[0].Get("r", "c", "req-5", op.NoLock)
	if got.Success {
		t.Fatal("Get after Delete should fail")
	}
}

func TestLockProtocolAcrossReplicas(t *testing.T) {
	servers := newClusterWired(t, 3)

	lock := servers[0].SetNX("row", "req-1", "ownerA")
	if !lock.Success {
		t.Fatal("SetNX should succeed on an unlocked row")
	}

	blocked := servers[1].Put("row", "c", []byte("v"), "req-2", "ownerB")
	if blocked.Success {
		t.Fatal("Put under a different lock id should be rejected")
	}

	released := servers[2].Del("row", "req-3", "ownerA")
	if !released.Success {
		t.Fatal("Del should release the lock")
	}

	allowed := servers[0].Put("row", "c", []byte("v"), "req-4", "ownerB")
	if !allowed.Success {
		t.Fatal("Put should succeed once the lock is released")
	}
}

func TestGetAllRowsByIPBypassesLock(t *testing.T) {
	servers := newClusterWired(t, 3)

	servers[0].SetNX("row", "req-1", "ownerA")
	servers[0].Put("row", "c", []byte("v"), "req-2", "ownerA")

	out := servers[0].GetAllRowsByIP()
	if !out.Success {
		t.Fatal("GetAllRowsByIP should succeed regardless of locks")
	}
	found := false
	for _, r := range out.Values {
		if r == "row" {
			found = true
		}
	}
	if !found {
		t.Fatalf("GetAllRowsByIP = %v, want to contain row", out.Values)
	}
}

func TestGetColsInRowByIPHonorsLock(t *testing.T) {
	servers := newClusterWired(t, 3)

	servers[0].Put("row", "c", []byte("v"), "req-1", op.NoLock)
	servers[0].SetNX("row", "req-2", "ownerA")

	blocked := servers[0].GetColsInRowByIP("row", "ownerB")
	if blocked.Success {
		t.Fatal("GetColsInRowByIP should honor the row's lock")
	}

	allowed := servers[0].GetColsInRowByIP("row", "ownerA")
	if !allowed.Success {
		t.Fatal("GetColsInRowByIP should succeed for the lock holder")
	}
}

func TestCrashRecoveryReplaysAppliedOps(t *testing.T) {
	dataDir := t.TempDir()
	logDir := t.TempDir()

	build := func() *Server {
		store, err := storage.NewStore(dataDir, 1<<20)
		if err != nil {
			t.Fatalf("NewStore: %v", err)
		}
		wal := walog.New(logDir)
		return New(0, paxos.New(0, make([]paxos.Peer, 1)), store, wal)
	}

	s1 := build()
	s1.Put("r", "c1", []byte("v1"), "req-1", op.NoLock)
	s1.Put("r", "c2", []byte("v2"), "req-2", op.NoLock)

	s2 := build()
	got := s2.Get("r", "c1", "req-3", op.NoLock)
	if !got.Success || string(got.Value) != "v1" {
		t.Fatalf("recovered Get(c1) = %+v, want v1", got)
	}
	got = s2.Get("r", "c2", "req-4", op.NoLock)
	if !got.Success || string(got.Value) != "v2" {
		t.Fatalf("recovered Get(c2) = %+v, want v2", got)
	}
}
