package metrics

import (
	"bytes"
	"strings"
	"testing"
)

func TestCountersAppearInPrometheusOutput(t *testing.T) {
	m := New(7)
	m.ProposalsStarted.Inc()
	m.CacheHits.Inc()
	m.CacheHits.Inc()

	var buf bytes.Buffer
	m.WritePrometheus(&buf)

	out := buf.String()
	if !strings.Contains(out, "distkv_proposals_started_total") {
		t.Fatal("expected proposals_started_total in output")
	}
	if !strings.Contains(out, `replica="7"`) {
		t.Fatal("expected replica label in output")
	}
}

func TestSeparateSetsDoNotCollide(t *testing.T) {
	a := New(1)
	b := New(2)

	a.OpsApplied.Inc()
	b.OpsApplied.Inc()
	b.OpsApplied.Inc()

	if a.OpsApplied.Get() != 1 {
		t.Fatalf("a.OpsApplied = %d, want 1", a.OpsApplied.Get())
	}
	if b.OpsApplied.Get() != 2 {
		t.Fatalf("b.OpsApplied = %d, want 2", b.OpsApplied.Get())
	}
}
