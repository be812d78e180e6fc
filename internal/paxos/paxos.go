// Package paxos implements a single-decree-per-slot Multi-Paxos consensus
// protocol: an unbounded sequence of independently agreed slots, each
// carrying one op.Op value, tolerant of peer crashes, message loss and
// duplication as long as a majority of peers are reachable.
package paxos

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"distkv/internal/metrics"
	"distkv/internal/op"
	"distkv/rpc/common"
)

// peerIDBits is the number of low bits of a proposal number reserved for
// the proposing peer's index, so that proposal numbers from distinct
// peers never collide even when generated from the same seen-so-far value.
const peerIDBits = 8

// Peer is the outbound RPC surface paxos needs from every other replica.
// Implementations carry the transport; paxos itself has none.
type Peer interface {
	Prepare(ctx context.Context, args *PrepareArgs) (*PrepareReply, error)
	Accept(ctx context.Context, args *AcceptArgs) (*AcceptReply, error)
	Decide(ctx context.Context, args *DecideArgs) (*DecideReply, error)
}

// PrepareArgs is the phase-1 request.
type PrepareArgs struct {
	Seq    int
	N      int
	Sender int
	Done   int
}

// PrepareReply is the phase-1 response. Value/Na are only meaningful when OK.
type PrepareReply struct {
	OK    bool
	Na    int
	Value *op.Op
	Done  int
}

// AcceptArgs is the phase-2 request.
type AcceptArgs struct {
	Seq   int
	N     int
	Value *op.Op
}

// AcceptReply is the phase-2 response.
type AcceptReply struct {
	OK bool
	N  int
}

// DecideArgs is the phase-3 request.
type DecideArgs struct {
	Seq   int
	Value *op.Op
}

// DecideReply is the phase-3 response.
type DecideReply struct {
	OK bool
}

// instance holds one slot's acceptor and/or learner state. The same struct
// doubles as both depending on which map it lives in, mirroring the
// original's single Instance type shared by instances_ and acceptorIns_.
type instance struct {
	highestAcN  int
	highestAcV  *op.Op
	highestSeen int
	decided     bool
	decidedV    *op.Op
}

// Paxos runs one replica's share of the consensus protocol across a fixed
// peer set. The zero value is not usable; construct with New.
type Paxos struct {
	mu    sync.Mutex
	me    int
	peers []Peer // peers[me] is nil; self-calls go straight to the handlers.

	instances   map[int]*instance // learner state: decided slots
	acceptorIns map[int]*instance // acceptor state: promises made
	highestSeen int               // highest seq number Start has seen
	peerDone    map[int]int       // peerDone[i] = highest seq peer i is done with
	doneFreed   int               // highest seq already garbage collected

	log     common.Logger
	metrics *metrics.Set
}

// SetMetrics attaches a metrics.Set this replica reports proposal and
// garbage-collection counts to. Optional.
func (p *Paxos) SetMetrics(m *metrics.Set) {
	p.metrics = m
}

// New constructs a Paxos replica. peers[me] is ignored and may be nil;
// self-calls are dispatched to the RPC handlers directly.
func New(me int, peers []Peer) *Paxos {
	p := &Paxos{
		me:          me,
		peers:       peers,
		instances:   make(map[int]*instance),
		acceptorIns: make(map[int]*instance),
		highestSeen: -1,
		peerDone:    make(map[int]int),
		log:         common.GetLogger("paxos"),
	}
	for i := range peers {
		p.peerDone[i] = -1
	}
	return p
}

// Start begins proposing v for slot seq. It returns immediately; the
// proposal runs to completion (or gives up because seq was already
// garbage collected) in the background. Call Status to learn the outcome.
func (p *Paxos) Start(seq int, v *op.Op) {
	if seq < p.MinKnownSeq() {
		p.log.Infof("ignoring seq %d < min known seq", seq)
		return
	}

	p.mu.Lock()
	if seq > p.highestSeen {
		p.highestSeen = seq
	}
	if inst, ok := p.instances[seq]; ok && inst.decided {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.ProposalsStarted.Inc()
	}
	go p.propose(seq, v)
}

// Status reports whether seq has been decided, and its value if so.
func (p *Paxos) Status(seq int) (*op.Op, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	inst, ok := p.instances[seq]
	if !ok || !inst.decided {
		return nil, false
	}
	return inst.decidedV, true
}

// Done records that the local application has applied every slot <= seq
// and no longer needs paxos to remember them.
func (p *Paxos) Done(seq int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if seq > p.peerDone[p.me] {
		p.peerDone[p.me] = seq
	}
}

// MaxKnownSeq returns the highest seq number this replica has seen via
// Start, or -1 if none.
func (p *Paxos) MaxKnownSeq() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.highestSeen
}

// MinKnownSeq returns the lowest seq number no longer forgotten: every
// slot below it has been Done by every peer and may be garbage collected.
// As a side effect it runs garbage collection.
func (p *Paxos) MinKnownSeq() int {
	p.mu.Lock()
	minSeq := p.getMinSeqNum()
	p.mu.Unlock()

	p.collectGarbage()
	return minSeq
}

// --------------------------------------------------------------------------
// RPC handlers
// --------------------------------------------------------------------------

// Prepare handles a phase-1 request from a proposer, either local or remote.
func (p *Paxos) Prepare(ctx context.Context, args *PrepareArgs) (*PrepareReply, error) {
	p.mu.Lock()

	acc := p.acceptorIns[args.Seq]
	if acc == nil {
		acc = &instance{highestSeen: -1, highestAcN: -1}
	}

	reply := &PrepareReply{}
	if args.N > acc.highestSeen {
		acc.highestSeen = args.N
		p.acceptorIns[args.Seq] = acc

		reply.OK = true
		reply.Na = acc.highestAcN
		reply.Value = acc.highestAcV

		p.log.Debugf("prepare ok: me %d, n %d, na %d", p.me, args.N, reply.Na)
	} else {
		reply.OK = false
		p.log.Debugf("prepare reject: me %d, n %d, highestSeen %d", p.me, args.N, acc.highestSeen)
	}

	reply.Done = p.peerDone[p.me]

	if args.Done > p.peerDone[args.Sender] {
		p.peerDone[args.Sender] = args.Done
	}
	p.mu.Unlock()

	p.collectGarbage()
	return reply, nil
}

// Accept handles a phase-2 request from a proposer, either local or remote.
func (p *Paxos) Accept(ctx context.Context, args *AcceptArgs) (*AcceptReply, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	acc := p.acceptorIns[args.Seq]
	if acc == nil {
		acc = &instance{highestSeen: -1, highestAcN: -1}
	}

	reply := &AcceptReply{}
	if args.N >= acc.highestSeen {
		acc.highestSeen = args.N
		acc.highestAcN = args.N
		acc.highestAcV = args.Value
		p.acceptorIns[args.Seq] = acc

		reply.OK = true
		reply.N = args.N
		p.log.Debugf("accept ok: me %d, n %d", p.me, args.N)
	} else {
		reply.OK = false
		p.log.Debugf("accept reject: me %d, n %d, highestSeen %d", p.me, args.N, acc.highestSeen)
	}

	return reply, nil
}

// Decide handles a phase-3 notification, marking seq as decided.
func (p *Paxos) Decide(ctx context.Context, args *DecideArgs) (*DecideReply, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	inst := p.instances[args.Seq]
	if inst == nil {
		inst = &instance{}
		p.instances[args.Seq] = inst
	}
	inst.decided = true
	inst.decidedV = args.Value

	p.log.Debugf("decide ok: me %d, seq %d", p.me, args.Seq)

	if p.metrics != nil {
		p.metrics.ProposalsDecided.Inc()
	}
	return &DecideReply{OK: true}, nil
}

// --------------------------------------------------------------------------
// Proposer
// --------------------------------------------------------------------------

// sharedPrepareState accumulates phase-1 replies across the fan-out
// goroutines; update is a no-op after done is set so stragglers can't
// corrupt a result the proposer has already moved past.
type sharedPrepareState struct {
	mu            sync.Mutex
	highestNAcc   int
	okCount       int
	allResponse   int
	nextPhaseV    *op.Op
	done          bool
}

func newSharedPrepareState(v *op.Op) *sharedPrepareState {
	return &sharedPrepareState{highestNAcc: -1, nextPhaseV: v}
}

func (s *sharedPrepareState) markDone() {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
}

func (s *sharedPrepareState) update(reply *PrepareReply, reachable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.allResponse++
	if reachable && reply.OK {
		s.okCount++
		if reply.Na > s.highestNAcc {
			s.highestNAcc = reply.Na
			s.nextPhaseV = reply.Value
		}
	}
}

func (s *sharedPrepareState) snapshot() (int, int, *op.Op) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.okCount, s.allResponse, s.nextPhaseV
}

// sharedAcceptState accumulates phase-2 replies the same way.
type sharedAcceptState struct {
	mu          sync.Mutex
	highestNObs int
	okCount     int
	allResponse int
	done        bool
}

func newSharedAcceptState() *sharedAcceptState {
	return &sharedAcceptState{highestNObs: -1}
}

func (s *sharedAcceptState) markDone() {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
}

func (s *sharedAcceptState) update(reply *AcceptReply, reachable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.allResponse++
	if reachable && reply.OK {
		s.okCount++
		if reply.N > s.highestNObs {
			s.highestNObs = reply.N
		}
	}
}

func (s *sharedAcceptState) snapshot() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.okCount, s.allResponse
}

// propose drives one slot through prepare/accept/decide until it is
// decided or this replica has garbage collected the slot out from under
// itself, backing off between rounds to let a competing proposer win.
func (p *Paxos) propose(seq int, v *op.Op) {
	penalty := 10 * time.Millisecond
	first := true

	for {
		p.collectGarbage()

		if !first {
			penalty = time.Duration(float64(penalty) * 1.5)
			if penalty > 50*time.Millisecond {
				penalty = 50 * time.Millisecond
			}
			sleep := penalty + time.Duration(rand.Int63n(int64(penalty)+1))
			p.log.Debugf("backing off %v (penalty %v), seq %d, proposer %d", sleep, penalty, seq, p.me)
			time.Sleep(sleep)
		}
		first = false

		p.mu.Lock()
		if inst := p.instances[seq]; inst != nil && inst.decided {
			p.mu.Unlock()
			return
		}
		if seq < p.getMinSeqNum() {
			p.mu.Unlock()
			return
		}
		acc := p.acceptorIns[seq]
		highestSeen := -1
		if acc != nil {
			highestSeen = acc.highestSeen
		}
		myDone := p.peerDone[p.me]
		peerCount := len(p.peers)
		majority := peerCount/2 + 1
		p.mu.Unlock()

		n := generateUniqueN(highestSeen, p.me)
		p.log.Debugf("phase 1 prepare: seq %d, n %d, proposer %d", seq, n, p.me)

		prepState := newSharedPrepareState(v)
		prepArgs := &PrepareArgs{Seq: seq, N: n, Sender: p.me, Done: myDone}

		selfReply, _ := p.Prepare(context.Background(), prepArgs)
		prepState.update(selfReply, true)

		var wg sync.WaitGroup
		for i := 0; i < peerCount; i++ {
			if i == p.me {
				continue
			}
			i := i
			wg.Add(1)
			go func() {
				defer wg.Done()
				reply, err := p.peers[i].Prepare(context.Background(), prepArgs)
				if err != nil {
					prepState.update(&PrepareReply{}, false)
					return
				}
				prepState.update(reply, true)

				p.mu.Lock()
				if reply.Done > p.peerDone[i] {
					p.peerDone[i] = reply.Done
				}
				p.mu.Unlock()
			}()
		}
		wg.Wait()
		prepState.markDone()

		okCount, _, actualV := prepState.snapshot()
		p.log.Debugf("phase 1 done: okCount %d, seq %d, proposer %d, n %d", okCount, seq, p.me, n)

		if okCount < majority {
			continue
		}

		/* Accept Phase */
		p.log.Debugf("phase 2 accept: seq %d, n %d, proposer %d", seq, n, p.me)

		accState := newSharedAcceptState()
		accArgs := &AcceptArgs{Seq: seq, N: n, Value: actualV}

		selfAccReply, _ := p.Accept(context.Background(), accArgs)
		accState.update(selfAccReply, true)

		var accWg sync.WaitGroup
		for i := 0; i < peerCount; i++ {
			if i == p.me {
				continue
			}
			i := i
			accWg.Add(1)
			go func() {
				defer accWg.Done()
				reply, err := p.peers[i].Accept(context.Background(), accArgs)
				if err != nil {
					accState.update(&AcceptReply{}, false)
					return
				}
				accState.update(reply, true)
			}()
		}
		accWg.Wait()
		accState.markDone()

		accOKCount, _ := accState.snapshot()
		if accOKCount < majority {
			continue
		}

		/* Decide Phase */
		p.log.Debugf("phase 3 decide: seq %d, proposer %d, n %d", seq, p.me, n)

		decideArgs := &DecideArgs{Seq: seq, Value: actualV}
		_, _ = p.Decide(context.Background(), decideArgs)

		for i := 0; i < peerCount; i++ {
			if i == p.me {
				continue
			}
			i := i
			go p.decideUntilAcked(i, decideArgs)
		}

		p.collectGarbage()
		return
	}
}

// decideUntilAcked retries Decide against peer i until it succeeds,
// matching the original's unconditional "everyone must eventually learn
// the decision" guarantee.
func (p *Paxos) decideUntilAcked(i int, args *DecideArgs) {
	for {
		reply, err := p.peers[i].Decide(context.Background(), args)
		if err == nil && reply != nil && reply.OK {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// collectGarbage frees memory for every slot below the current min-done
// seq, idempotently: it is a no-op once the free frontier has already
// caught up.
func (p *Paxos) collectGarbage() {
	p.mu.Lock()
	defer p.mu.Unlock()

	currMin := p.getMinSeqNum()
	if currMin <= p.doneFreed {
		return
	}

	p.log.Debugf("running garbage collection for seq < %d", currMin)

	for seq := range p.instances {
		if seq < currMin {
			delete(p.instances, seq)
		}
	}
	for seq := range p.acceptorIns {
		if seq < currMin {
			delete(p.acceptorIns, seq)
		}
	}
	if p.metrics != nil {
		p.metrics.GCRuns.Inc()
		p.metrics.GCSlotsFreed.Add(currMin - p.doneFreed)
	}
	p.doneFreed = currMin
}

// getMinSeqNum returns one past the lowest Done value across every known
// peer. Caller must hold p.mu.
func (p *Paxos) getMinSeqNum() int {
	min := int(^uint(0) >> 1) // max int
	for _, done := range p.peerDone {
		if done < min {
			min = done
		}
	}
	return min + 1
}

// generateUniqueN builds a proposal number strictly greater than
// highestSeen, tagged with the proposing peer's index in its low bits so
// that concurrent proposers never generate colliding numbers.
func generateUniqueN(highestSeen, me int) int {
	n := (highestSeen >> peerIDBits) + 1
	return (n << peerIDBits) | me
}
