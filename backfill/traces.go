package backfill

import (
	"context"
	"fmt"

	"github.com/solenoidlabs/recall/core"
	"github.com/solenoidlabs/recall/memory"
)

// TraceSource lists the existing activity traces to backfill.
// The order must be deterministic so resume points stay meaningful.
type TraceSource interface {
	ListTraces(ctx context.Context) ([]core.Trace, error)
}

// TraceIndexer embeds all existing activity traces. At most one run is
// active at a time; concurrent starts are refused, not queued.
type TraceIndexer struct {
	service *memory.Service
	source  TraceSource
	runner  *runner
}

// NewTraceIndexer creates the trace backfill job.
func NewTraceIndexer(service *memory.Service, source TraceSource, states StateStore, cfg *Config) *TraceIndexer {
	return &TraceIndexer{
		service: service,
		source:  source,
		runner:  newRunner(JobTraces, states, service.Enabled, cfg),
	}
}

// IsRunning reports whether a run is active.
func (ix *TraceIndexer) IsRunning() bool {
	return ix.runner.isRunning()
}

// Start runs the backfill until done or ctx is cancelled. Cancellation
// is observed between traces, never mid-trace.
func (ix *TraceIndexer) Start(ctx context.Context) (Progress, error) {
	var traces []core.Trace

	list := func(ctx context.Context) ([]string, error) {
		var err error
		traces, err = ix.source.ListTraces(ctx)
		if err != nil {
			return nil, fmt.Errorf("list traces: %w", err)
		}
		ids := make([]string, len(traces))
		for i, t := range traces {
			ids[i] = t.ID
		}
		return ids, nil
	}

	process := func(ctx context.Context, i int, id string) error {
		t := traces[i]
		return ix.service.EmbedTrace(ctx, &t)
	}

	return ix.runner.run(ctx, list, process)
}
