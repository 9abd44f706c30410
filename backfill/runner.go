package backfill

import (
	"context"
	"log"
	"runtime"
	"sync/atomic"
	"time"
)

// DefaultSaveInterval is how many processed items pass between progress
// checkpoints. An aborted run resumes from the last checkpoint, so up to
// DefaultSaveInterval-1 items may be re-processed after an abort.
const DefaultSaveInterval = 10

// Config holds shared backfill job configuration.
type Config struct {
	// SaveInterval is the number of items between progress checkpoints.
	SaveInterval int
}

// DefaultConfig uses DefaultSaveInterval.
var DefaultConfig = &Config{SaveInterval: DefaultSaveInterval}

// runner drives the shared backfill state machine:
// Idle -> Running -> {Completed | Aborted | Error}.
type runner struct {
	job          string
	states       StateStore
	saveInterval int
	enabled      func() bool
	running      atomic.Bool
}

func newRunner(job string, states StateStore, enabled func() bool, cfg *Config) *runner {
	if cfg == nil {
		cfg = DefaultConfig
	}
	interval := cfg.SaveInterval
	if interval <= 0 {
		interval = DefaultSaveInterval
	}
	return &runner{
		job:          job,
		states:       states,
		saveInterval: interval,
		enabled:      enabled,
	}
}

// isRunning reports whether a run is active.
func (r *runner) isRunning() bool {
	return r.running.Load()
}

// run executes one backfill pass. list fetches the deterministically
// ordered item ids; process handles one item by position and id.
//
// A start is refused with zero progress when a run is already active,
// the embedding capability is off, or a prior run completed. Per-item
// failures are logged and counted as processed; only a failing list
// query is fatal. Cancellation is observed at item boundaries only.
func (r *runner) run(ctx context.Context, list func(context.Context) ([]string, error), process func(context.Context, int, string) error) (Progress, error) {
	if !r.running.CompareAndSwap(false, true) {
		log.Printf("[BACKFILL] %s: already running, start refused", r.job)
		return Progress{}, nil
	}
	defer r.running.Store(false)

	if !r.enabled() {
		log.Printf("[BACKFILL] %s: embedding disabled, start refused", r.job)
		return Progress{}, nil
	}

	prev, err := r.states.LoadState(ctx, r.job)
	if err != nil {
		log.Printf("[BACKFILL] %s: load state: %v", r.job, err)
		prev = nil
	}
	if prev != nil && prev.Status == StatusCompleted {
		log.Printf("[BACKFILL] %s: already completed, start refused", r.job)
		return Progress{}, nil
	}

	ids, err := list(ctx)
	if err != nil {
		state := State{
			Status:       StatusError,
			StartedAt:    time.Now(),
			ErrorMessage: err.Error(),
		}
		if prev != nil {
			state.LastProcessedItemID = prev.LastProcessedItemID
			state.ProcessedItems = prev.ProcessedItems
		}
		if saveErr := r.states.SaveState(ctx, r.job, state); saveErr != nil {
			log.Printf("[BACKFILL] %s: save error state: %v", r.job, saveErr)
		}
		log.Printf("[BACKFILL] %s: listing items failed: %v", r.job, err)
		return Progress{}, err
	}

	state := State{
		TotalItems: len(ids),
		Status:     StatusRunning,
		StartedAt:  time.Now(),
	}
	start := 0
	if prev != nil {
		if !prev.StartedAt.IsZero() {
			state.StartedAt = prev.StartedAt
		}
		if prev.LastProcessedItemID != "" {
			// Resume just past the checkpoint; a vanished checkpoint
			// item restarts from scratch.
			for i, id := range ids {
				if id == prev.LastProcessedItemID {
					start = i + 1
					state.ProcessedItems = prev.ProcessedItems
					state.LastProcessedItemID = prev.LastProcessedItemID
					break
				}
			}
		}
	}

	log.Printf("[BACKFILL] %s: %d items, starting at %d", r.job, len(ids), start)

	for i := start; i < len(ids); i++ {
		select {
		case <-ctx.Done():
			log.Printf("[BACKFILL] %s: aborted after %d items", r.job, state.ProcessedItems)
			return Progress{Total: state.TotalItems, Processed: state.ProcessedItems}, ctx.Err()
		default:
		}

		if err := process(ctx, i, ids[i]); err != nil {
			// Item stays counted; it will be retried on the next full
			// re-index, not this run.
			log.Printf("[BACKFILL] %s: item %s: %v", r.job, ids[i], err)
		}
		state.ProcessedItems++
		state.LastProcessedItemID = ids[i]

		if state.ProcessedItems%r.saveInterval == 0 {
			if err := r.states.SaveState(ctx, r.job, state); err != nil {
				log.Printf("[BACKFILL] %s: checkpoint: %v", r.job, err)
			}
		}

		// Yield so a long backfill cannot starve the host.
		runtime.Gosched()
	}

	state.Status = StatusCompleted
	state.CompletedAt = time.Now()
	if err := r.states.SaveState(ctx, r.job, state); err != nil {
		log.Printf("[BACKFILL] %s: save final state: %v", r.job, err)
	}
	log.Printf("[BACKFILL] %s: completed, %d/%d items", r.job, state.ProcessedItems, state.TotalItems)
	return Progress{Total: state.TotalItems, Processed: state.ProcessedItems}, nil
}
