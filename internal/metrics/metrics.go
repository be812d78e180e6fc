// Package metrics exposes this replica's operational counters in
// Prometheus text format, so an operator can watch consensus and storage
// health without reading logs.
package metrics

import (
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// Set groups every counter and histogram one replica emits. The metric
// names are namespaced by replica id so a single process scraping several
// replicas (as cmd/serve's host-controller mode does) doesn't collide.
type Set struct {
	set *metrics.Set

	ProposalsStarted  *metrics.Counter
	ProposalsDecided  *metrics.Counter
	ProposalRounds    *metrics.Histogram
	GCRuns            *metrics.Counter
	GCSlotsFreed      *metrics.Counter
	CacheHits         *metrics.Counter
	CacheMisses       *metrics.Counter
	CacheEvictions    *metrics.Counter
	OpsApplied        *metrics.Counter
	WALWriteLatency   *metrics.Histogram
}

// New builds a Set of metrics namespaced by replicaID, registered in a
// private metrics.Set rather than the global default so multiple
// replicas in one process (as in tests) never collide.
func New(replicaID uint64) *Set {
	s := metrics.NewSet()
	m := &Set{set: s}
	tags := func(name string) string {
		return name + `{replica="` + itoa(replicaID) + `"}`
	}

	m.ProposalsStarted = s.NewCounter(tags("distkv_proposals_started_total"))
	m.ProposalsDecided = s.NewCounter(tags("distkv_proposals_decided_total"))
	m.ProposalRounds = s.NewHistogram(tags("distkv_proposal_rounds"))
	m.GCRuns = s.NewCounter(tags("distkv_paxos_gc_runs_total"))
	m.GCSlotsFreed = s.NewCounter(tags("distkv_paxos_gc_slots_freed_total"))
	m.CacheHits = s.NewCounter(tags("distkv_cache_hits_total"))
	m.CacheMisses = s.NewCounter(tags("distkv_cache_misses_total"))
	m.CacheEvictions = s.NewCounter(tags("distkv_cache_evictions_total"))
	m.OpsApplied = s.NewCounter(tags("distkv_ops_applied_total"))
	m.WALWriteLatency = s.NewHistogram(tags("distkv_wal_write_seconds"))

	return m
}

// WritePrometheus renders every metric in this set in Prometheus text
// exposition format, for mounting under an HTTP /metrics handler.
func (m *Set) WritePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
