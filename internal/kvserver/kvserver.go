// Package kvserver implements the replicated state machine: it turns the
// consensus layer's agreed-upon operation stream into the actual
// key-value store's state, durably logging each operation before
// applying it so a crash can never lose an operation the cluster already
// agreed to.
package kvserver

import (
	"sync"
	"time"

	"distkv/internal/metrics"
	"distkv/internal/op"
	"distkv/internal/paxos"
	"distkv/internal/storage"
	"distkv/internal/walog"
	"distkv/rpc/common"
)

// Output is the result of applying one operation to the store.
type Output struct {
	Success bool
	Value   []byte
	Values  []string
}

// Server ties one replica's Paxos instance, storage engine, and
// write-ahead log into a single linearized state machine. All mutating
// calls go through makeAgreementAndApply, so every replica that
// eventually applies operation N has applied exactly the same operations
// 0..N-1 beforehand.
type Server struct {
	me int

	mu        sync.Mutex
	paxos     *paxos.Paxos
	store     *storage.Store
	log       *walog.Log
	globalSeq int
	visited   map[string]Output

	logger  common.Logger
	metrics *metrics.Set
}

// SetMetrics attaches a metrics.Set this server reports applied-operation
// counts to. Optional.
func (s *Server) SetMetrics(m *metrics.Set) {
	s.metrics = m
}

// New constructs a Server and replays any operations left in the
// write-ahead log from a previous run before returning.
func New(me int, p *paxos.Paxos, store *storage.Store, l *walog.Log) *Server {
	s := &Server{
		me:        me,
		paxos:     p,
		store:     store,
		log:       l,
		globalSeq: -1,
		visited:   make(map[string]Output),
		logger:    common.GetLogger("kvserver"),
	}
	s.recover()
	return s
}

// recover replays every operation the write-ahead log remembers from
// before the process last exited, bringing the store back to the state
// it was in just before a crash (or a clean shutdown).
func (s *Server) recover() {
	if !s.log.Recoverable() {
		return
	}
	if seq, ok := s.log.RecoverGlobalSeq(); ok {
		s.globalSeq = seq
	}
	for s.log.HasNextOp() {
		recovered, err := s.log.RecoverOp()
		if err != nil {
			s.logger.Errorf("recover op: %v", err)
			return
		}
		s.applyChange(recovered)
	}
	s.logger.Infof("server %d recovered to global seq %d", s.me, s.globalSeq)
}

// --------------------------------------------------------------------------
// RPC-shaped operations (§6.1)
// --------------------------------------------------------------------------

// Put writes row/col to newValue.
func (s *Server) Put(row, col string, newValue []byte, requestID, lockID string) Output {
	return s.dispatch(&op.Op{Kind: op.Put, Row: row, Col: col, NewValue: newValue, RequestID: requestID, LockID: lockID})
}

// CPut writes row/col to newValue only if its current value is currValue.
func (s *Server) CPut(row, col string, currValue, newValue []byte, requestID, lockID string) Output {
	return s.dispatch(&op.Op{Kind: op.CPut, Row: row, Col: col, CurrValue: currValue, NewValue: newValue, RequestID: requestID, LockID: lockID})
}

// Delete removes row/col.
func (s *Server) Delete(row, col, requestID, lockID string) Output {
	return s.dispatch(&op.Op{Kind: op.Delete, Row: row, Col: col, RequestID: requestID, LockID: lockID})
}

// Get reads row/col's value.
func (s *Server) Get(row, col, requestID, lockID string) Output {
	return s.dispatch(&op.Op{Kind: op.Get, Row: row, Col: col, RequestID: requestID, LockID: lockID})
}

// SetNX acquires an advisory lock on row.
func (s *Server) SetNX(row, requestID, lockID string) Output {
	return s.dispatch(&op.Op{Kind: op.SetNX, Row: row, RequestID: requestID, LockID: lockID})
}

// Del releases row's advisory lock.
func (s *Server) Del(row, requestID, lockID string) Output {
	return s.dispatch(&op.Op{Kind: op.Del, Row: row, RequestID: requestID, LockID: lockID})
}

// GetAllRows lists every row in the store, through consensus.
func (s *Server) GetAllRows(requestID string) Output {
	return s.dispatch(&op.Op{Kind: op.GetAllRows, RequestID: requestID})
}

// GetAllRowsByIP lists every row by reading this replica's store
// directly, bypassing consensus and lock enforcement; it answers from
// whatever state this specific replica currently has.
func (s *Server) GetAllRowsByIP() Output {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Output{Success: true, Values: s.store.GetAllRows()}
}

// GetColsInRow lists every column under row, through consensus.
func (s *Server) GetColsInRow(row, requestID, lockID string) Output {
	return s.dispatch(&op.Op{Kind: op.GetColsInRow, Row: row, RequestID: requestID, LockID: lockID})
}

// GetColsInRowByIP lists every column under row by reading this
// replica's store directly, bypassing consensus but still honoring
// row's lock with the caller's lockID.
func (s *Server) GetColsInRowByIP(row, lockID string) Output {
	s.mu.Lock()
	defer s.mu.Unlock()
	cols, ok := s.store.GetColsInRow(row, lockID)
	return Output{Success: ok, Values: cols}
}

// dispatch is the single entry point every RPC-shaped operation funnels
// through: take the server lock, reach agreement, apply.
func (s *Server) dispatch(o *op.Op) Output {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.makeAgreementAndApply(o)
}

// --------------------------------------------------------------------------
// The replication protocol
// --------------------------------------------------------------------------

// makeAgreementAndApply proposes o for the next free slot, retrying at
// successive slots until the cluster agrees o itself (rather than some
// other replica's competing proposal) occupies one of them. It then
// catches up on any slots between the last applied one and the winning
// slot before logging and applying o. Caller must hold s.mu.
func (s *Server) makeAgreementAndApply(o *op.Op) Output {
	seq := s.globalSeq + 1

	for {
		s.logger.Infof("server %d proposing seq %d for %s", s.me, seq, o.RequestID)
		s.paxos.Start(seq, o)
		agreed := s.waitForAgreement(seq)
		if agreed.RequestID == o.RequestID {
			break
		}
		seq++
	}

	for i := s.globalSeq + 1; i < seq; i++ {
		missed := s.waitForAgreement(i)
		if err := s.log.Log(missed, i); err != nil {
			s.logger.Errorf("log catch-up op: %v", err)
		}
		s.applyChange(missed)
	}

	if err := s.log.Log(o, seq); err != nil {
		s.logger.Errorf("log op: %v", err)
	}
	output := s.applyChange(o)

	s.globalSeq = seq
	s.paxos.Done(seq)

	return output
}

// waitForAgreement blocks until paxos decides seq, polling at a fixed
// interval; paxos itself runs the proposal loop in the background.
func (s *Server) waitForAgreement(seq int) *op.Op {
	for {
		if v, ok := s.paxos.Status(seq); ok {
			return v
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// applyChange performs o against the store and records its outcome; a Get
// is performed without being recorded. Caller must hold s.mu.
func (s *Server) applyChange(o *op.Op) Output {
	if o.Kind == op.Get {
		v, ok := s.store.Get(o.Row, o.Col, o.LockID)
		return Output{Success: ok, Value: v}
	}

	s.logger.Infof("server %d applying op %s (%s)", s.me, o.RequestID, o.Kind)

	var output Output
	switch o.Kind {
	case op.Put:
		output.Success = s.store.Put(o.Row, o.Col, o.NewValue, o.LockID)
	case op.CPut:
		output.Success = s.store.CPut(o.Row, o.Col, o.CurrValue, o.NewValue, o.LockID)
	case op.Delete:
		output.Success = s.store.Delete(o.Row, o.Col, o.LockID)
	case op.SetNX:
		output.Success = s.store.SetNX(o.Row, o.LockID)
	case op.Del:
		output.Success = s.store.Del(o.Row)
	case op.GetAllRows:
		output.Values = s.store.GetAllRows()
		output.Success = true
	case op.GetColsInRow:
		cols, ok := s.store.GetColsInRow(o.Row, o.LockID)
		output.Values = cols
		output.Success = ok
	default:
		output.Success = false
	}

	s.visited[o.RequestID] = output
	if s.metrics != nil {
		s.metrics.OpsApplied.Inc()
	}
	return output
}
