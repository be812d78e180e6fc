// Package op defines the Op record, the unit of consensus shared by the
// paxos, storage, and kvserver packages.
package op

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"sync/atomic"
	"time"
)

// Kind tags the operation carried by an Op.
type Kind uint8

const (
	Get Kind = iota
	Put
	CPut
	Delete
	SetNX
	Del
	GetAllRows
	GetColsInRow
)

func (k Kind) String() string {
	switch k {
	case Get:
		return "GET"
	case Put:
		return "PUT"
	case CPut:
		return "CPUT"
	case Delete:
		return "DELETE"
	case SetNX:
		return "SETNX"
	case Del:
		return "DEL"
	case GetAllRows:
		return "GETALLROWS"
	case GetColsInRow:
		return "GETCOLSINROW"
	default:
		return "UNKNOWN"
	}
}

const (
	// NoLock is the sentinel lock_id meaning "no lock asserted".
	NoLock = "-"
	// LockBypass disables lock enforcement for trusted internal callers.
	LockBypass = "LOCK_BYPASS"
)

// Op is the tagged record that is the value of a consensus slot.
type Op struct {
	Kind       Kind
	Row        string
	Col        string
	NewValue   []byte
	CurrValue  []byte
	RequestID  string
	LockID     string
}

// Encode serializes the Op with gob, the log's on-disk format (§4.4/§4.3
// "any stable binary encoding works, provided log round-trip is exact").
func (o *Op) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(o); err != nil {
		return nil, fmt.Errorf("op: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode deserializes an Op previously produced by Encode.
func Decode(b []byte) (*Op, error) {
	var o Op
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&o); err != nil {
		return nil, fmt.Errorf("op: decode: %w", err)
	}
	return &o, nil
}

// IDGenerator produces request IDs of the form
// <clientID>-<wallclock>-<monotonicTxnID>-<random64>, globally unique with
// very high probability (§3).
type IDGenerator struct {
	ClientID uint64
	txnID    uint64
}

// Next returns the next request ID for this generator, advancing the
// client's monotonic transaction counter.
func (g *IDGenerator) Next() string {
	n := atomic.AddUint64(&g.txnID, 1)
	return fmt.Sprintf("%d-%d-%d-%d", g.ClientID, time.Now().UnixNano(), n, nrand())
}

// nrand returns a cryptographically random uint64, used only to reduce the
// probability of request-id collisions across clients; it carries no
// security weight.
func nrand() uint64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint64(b[:])
}
