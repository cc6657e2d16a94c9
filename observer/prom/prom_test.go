package prom

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInstrumentsRecordCounters(t *testing.T) {
	inst := New()

	inst.ExtractionRequests.WithLabelValues("gpt-4o-mini").Inc()
	inst.EmbedRequests.WithLabelValues("text-embedding-3-small").Add(2)
	inst.SubqueryExecutions.WithLabelValues("vector").Inc()
	inst.IngestExecutions.Inc()

	if got := testutil.ToFloat64(inst.ExtractionRequests.WithLabelValues("gpt-4o-mini")); got != 1 {
		t.Errorf("ExtractionRequests = %f, want 1", got)
	}
	if got := testutil.ToFloat64(inst.EmbedRequests.WithLabelValues("text-embedding-3-small")); got != 2 {
		t.Errorf("EmbedRequests = %f, want 2", got)
	}
	if got := testutil.ToFloat64(inst.IngestExecutions); got != 1 {
		t.Errorf("IngestExecutions = %f, want 1", got)
	}
}

func TestInstrumentsRegisteredOnOwnRegistry(t *testing.T) {
	inst := New()
	mfs, err := inst.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatal("expected at least one registered metric family")
	}
}
