package paxos

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"distkv/internal/op"
)

// localPeer wires a Peer directly to another Paxos instance in the same
// process, standing in for a network transport in tests.
type localPeer struct {
	target *Paxos
}

func (l *localPeer) Prepare(ctx context.Context, args *PrepareArgs) (*PrepareReply, error) {
	return l.target.Prepare(ctx, args)
}
func (l *localPeer) Accept(ctx context.Context, args *AcceptArgs) (*AcceptReply, error) {
	return l.target.Accept(ctx, args)
}
func (l *localPeer) Decide(ctx context.Context, args *DecideArgs) (*DecideReply, error) {
	return l.target.Decide(ctx, args)
}

// cluster wires n Paxos replicas to each other via localPeer.
func newCluster(n int) []*Paxos {
	replicas := make([]*Paxos, n)
	for i := 0; i < n; i++ {
		replicas[i] = New(i, make([]Peer, n))
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			replicas[i].peers[j] = &localPeer{target: replicas[j]}
		}
	}
	return replicas
}

func waitDecided(t *testing.T, replicas []*Paxos, seq int, timeout time.Duration) *op.Op {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		count := 0
		var v *op.Op
		for _, r := range replicas {
			if dv, ok := r.Status(seq); ok {
				count++
				v = dv
			}
		}
		if count > len(replicas)/2 {
			return v
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("seq %d not decided by majority within %v", seq, timeout)
	return nil
}

func TestSingleProposerDecides(t *testing.T) {
	replicas := newCluster(3)
	want := &op.Op{Kind: op.Put, Row: "r", Col: "c", RequestID: "req-1"}

	replicas[0].Start(0, want)

	got := waitDecided(t, replicas, 0, 2*time.Second)
	if got.RequestID != want.RequestID {
		t.Fatalf("decided value RequestID = %q, want %q", got.RequestID, want.RequestID)
	}
}

func TestConcurrentProposersAgree(t *testing.T) {
	replicas := newCluster(5)

	var wg sync.WaitGroup
	for i := 0; i < len(replicas); i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := &op.Op{Kind: op.Put, Row: "r", Col: "c", RequestID: fmt.Sprintf("req-from-%d", i)}
			replicas[i].Start(0, v)
		}()
	}
	wg.Wait()

	first := waitDecided(t, replicas, 0, 3*time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		allAgree := true
		for _, r := range replicas {
			v, ok := r.Status(0)
			if !ok || v.RequestID != first.RequestID {
				allAgree = false
				break
			}
		}
		if allAgree {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("replicas disagree on decided value for seq 0")
}

func TestManyConflictingProposals(t *testing.T) {
	replicas := newCluster(5)

	const rounds = 20
	for seq := 0; seq < rounds; seq++ {
		var wg sync.WaitGroup
		for i := 0; i < len(replicas); i++ {
			i, seq := i, seq
			wg.Add(1)
			go func() {
				defer wg.Done()
				v := &op.Op{Kind: op.Put, Row: "r", Col: fmt.Sprintf("c%d", seq), RequestID: fmt.Sprintf("req-%d-%d", seq, i)}
				replicas[i].Start(seq, v)
			}()
		}
		wg.Wait()
		waitDecided(t, replicas, seq, 3*time.Second)
	}

	for seq := 0; seq < rounds; seq++ {
		var want *op.Op
		for _, r := range replicas {
			v, ok := r.Status(seq)
			if !ok {
				t.Fatalf("seq %d not decided on all replicas", seq)
			}
			if want == nil {
				want = v
			} else if v.RequestID != want.RequestID {
				t.Fatalf("seq %d: disagreement %q vs %q", seq, v.RequestID, want.RequestID)
			}
		}
	}
}

func TestDoneAdvancesMinKnownSeq(t *testing.T) {
	replicas := newCluster(3)

	for seq := 0; seq < 3; seq++ {
		v := &op.Op{Kind: op.Put, Row: "r", RequestID: fmt.Sprintf("req-%d", seq)}
		replicas[0].Start(seq, v)
		waitDecided(t, replicas, seq, 2*time.Second)
	}

	for _, r := range replicas {
		r.Done(2)
	}

	// Replica 0 learns a peer's Done value only from the done field that
	// peer piggybacks on its own Prepare, so replicas 1 and 2 each propose
	// one more slot.
	replicas[1].Start(3, &op.Op{Kind: op.Put, Row: "r", RequestID: "req-3"})
	waitDecided(t, replicas, 3, 2*time.Second)
	replicas[2].Start(4, &op.Op{Kind: op.Put, Row: "r", RequestID: "req-4"})
	waitDecided(t, replicas, 4, 2*time.Second)

	min := replicas[0].MinKnownSeq()
	if min != 3 {
		t.Fatalf("MinKnownSeq() = %d, want 3 after all peers Done(2)", min)
	}
}

func TestMaxKnownSeqTracksStart(t *testing.T) {
	replicas := newCluster(3)
	if got := replicas[0].MaxKnownSeq(); got != -1 {
		t.Fatalf("MaxKnownSeq() before any Start = %d, want -1", got)
	}

	replicas[0].Start(5, &op.Op{Kind: op.Get, Row: "r", RequestID: "req"})
	waitDecided(t, replicas, 5, 2*time.Second)

	if got := replicas[0].MaxKnownSeq(); got != 5 {
		t.Fatalf("MaxKnownSeq() = %d, want 5", got)
	}
}
