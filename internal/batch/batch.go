// Package batch drives parsers through resumable, fixed-size slices of work.
//
// A run repeatedly asks a Parser for the batch at the current position and
// processes each item, advancing the cursor held in a caller-owned State.
// The state is JSON-serialisable so a run can be resumed across requests,
// processes or queue tasks:
//
//	st := batch.NewState[string](p.ItemCount())
//	for !st.Done {
//	    if err := batch.Step(ctx, p, st, opts); err != nil {
//	        return err
//	    }
//	}
//
// A batch shorter than the parser's batch size means the source is
// exhausted and completes the run, whatever the reported item count.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrBatchNotFound is returned when no progress is recorded for a batch id.
var ErrBatchNotFound = errors.New("batch not found")

// Parser is a batch-driven source of work items.
type Parser[T, R any] interface {
	// ItemCount returns the total number of items to process.
	ItemCount() int
	// BatchSize returns the number of items per invocation.
	BatchSize() int
	// NextBatch returns up to BatchSize items starting at position.
	NextBatch(ctx context.Context, position int) ([]T, error)
	// ProcessItem handles one item. The sandbox carries values between
	// items and invocations of the same run.
	ProcessItem(ctx context.Context, item T, sandbox map[string]string) (R, error)
}

// State is the cursor of a run.
type State[R any] struct {
	Progress  int               `json:"progress"`
	ItemCount int               `json:"item_count"`
	Results   []R               `json:"results"`
	Sandbox   map[string]string `json:"sandbox"`
	Finished  float64           `json:"finished"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	LastError string            `json:"last_error,omitempty"`
	Done      bool              `json:"done"`
}

// NewState creates the cursor of a new run.
func NewState[R any](itemCount int) *State[R] {
	return &State[R]{ItemCount: itemCount, Sandbox: make(map[string]string)}
}

// Observer receives run events, typically to record metrics.
type Observer interface {
	ItemProcessed(parser string, err error)
	RunFinished(parser string, succeeded, failed int)
}

// Options configures how items are processed.
type Options struct {
	// Name labels the parser in logs and metrics.
	Name string
	// Strict aborts the run on the first failed item. Otherwise the item is
	// recorded as a zero result and counted as failed.
	Strict bool
	// Logger receives per-step and per-failure records.
	Logger *slog.Logger
	// Observer is notified of processed items and finished runs.
	Observer Observer
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Step runs one invocation: it fetches the batch at st.Progress, processes
// each item and advances the cursor.
func Step[T, R any](ctx context.Context, p Parser[T, R], st *State[R], opts Options) error {
	if st.Done {
		return nil
	}
	if st.Sandbox == nil {
		st.Sandbox = make(map[string]string)
	}

	items, err := p.NextBatch(ctx, st.Progress)
	if err != nil {
		return fmt.Errorf("next batch at %d: %w", st.Progress, err)
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		r, err := p.ProcessItem(ctx, item, st.Sandbox)
		if opts.Observer != nil {
			opts.Observer.ItemProcessed(opts.Name, err)
		}
		if err != nil {
			if opts.Strict {
				return fmt.Errorf("process item %d: %w", st.Progress, err)
			}
			opts.logger().Warn("batch item failed", "parser", opts.Name, "position", st.Progress, "error", err)
			var zero R
			r = zero
			st.Failed++
			st.LastError = err.Error()
		} else {
			st.Succeeded++
		}
		st.Results = append(st.Results, r)
		st.Progress++
	}

	size := p.BatchSize()
	if size <= 0 {
		size = 1
	}
	if len(items) < size || st.Progress >= st.ItemCount {
		st.complete()
		if opts.Observer != nil {
			opts.Observer.RunFinished(opts.Name, st.Succeeded, st.Failed)
		}
	} else {
		st.Finished = float64(st.Progress) / float64(st.ItemCount)
	}

	opts.logger().Debug("batch step",
		"parser", opts.Name,
		"progress", st.Progress,
		"item_count", st.ItemCount,
		"done", st.Done,
	)
	return nil
}

func (st *State[R]) complete() {
	st.Finished = 1
	st.Done = true
}

// Run steps until the run is done.
func Run[T, R any](ctx context.Context, p Parser[T, R], st *State[R], opts Options) error {
	for !st.Done {
		if err := Step(ctx, p, st, opts); err != nil {
			return err
		}
	}
	return nil
}
