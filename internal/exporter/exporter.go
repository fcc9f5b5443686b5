// Package exporter flattens events and their nested results into CSV and
// XLSX documents.
//
// Each event becomes one row keyed by human labels. Nested results are
// prefixed with their result type ("Leafleting - Participant count"), and
// values that share a label are collapsed: numbers are summed, text is
// joined. Export runs through the same batch protocol as imports.
package exporter

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/JonMunkholm/activism/internal/core"
	"github.com/JonMunkholm/activism/internal/entity"
)

// DefaultBatchSize is the number of events per batch.
const DefaultBatchSize = 50

// Option configures a CSVExporter.
type Option func(*CSVExporter)

// WithWindow restricts the export to events starting within [from, to].
// A zero bound is open.
func WithWindow(from, to time.Time) Option {
	return func(x *CSVExporter) {
		x.from, x.to = from, to
	}
}

// WithIgnore replaces the fields left out of the export.
func WithIgnore(fields ...string) Option {
	return func(x *CSVExporter) {
		x.unpacker.ignore = ignoreSet(fields)
	}
}

// WithBatchSize sets the number of events per batch.
func WithBatchSize(n int) Option {
	return func(x *CSVExporter) {
		if n > 0 {
			x.batchSize = n
		}
	}
}

// WithLogger sets the exporter's logger.
func WithLogger(l *slog.Logger) Option {
	return func(x *CSVExporter) {
		if l != nil {
			x.unpacker.logger = l
		}
	}
}

// CSVExporter exports the events of one group.
type CSVExporter struct {
	groupID   string
	from, to  time.Time
	batchSize int
	unpacker  *unpacker
	ids       []string
}

// NewCSVExporter creates an exporter and lists the group's events.
func NewCSVExporter(ctx context.Context, adapter *entity.Adapter, groupID string, opts ...Option) (*CSVExporter, error) {
	x := &CSVExporter{
		groupID:   groupID,
		batchSize: DefaultBatchSize,
		unpacker: &unpacker{
			registry:    adapter.Registry(),
			store:       adapter.Store(),
			resultTypes: adapter.ResultTypes(),
			ignore:      ignoreSet(DefaultIgnore),
			logger:      slog.Default(),
		},
	}
	for _, opt := range opts {
		opt(x)
	}

	ids, err := x.ItemIDs(ctx)
	if err != nil {
		return nil, err
	}
	x.ids = ids
	return x, nil
}

// ItemIDs queries the ids of every event of the group within the window,
// ordered by start date.
func (x *CSVExporter) ItemIDs(ctx context.Context) ([]string, error) {
	events, err := x.unpacker.store.Query(ctx, core.Query{
		Type:       core.TypeEvent,
		Conditions: []core.Condition{{Field: core.EventParent, Value: x.groupID}},
	})
	if err != nil {
		return nil, fmt.Errorf("list events of group %s: %w", x.groupID, err)
	}

	var kept []*core.Entity
	for _, e := range events {
		if x.inWindow(e) {
			kept = append(kept, e)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Value(core.EventStartDate) < kept[j].Value(core.EventStartDate)
	})

	ids := make([]string, len(kept))
	for i, e := range kept {
		ids[i] = e.ID
	}
	return ids, nil
}

func (x *CSVExporter) inWindow(e *core.Entity) bool {
	if x.from.IsZero() && x.to.IsZero() {
		return true
	}
	start, ok := core.ParseStorageDate(e.Value(core.EventStartDate))
	if !ok {
		return false
	}
	if !x.from.IsZero() && start.Before(x.from) {
		return false
	}
	if !x.to.IsZero() && start.After(x.to) {
		return false
	}
	return true
}

// ItemCount returns the number of listed events.
func (x *CSVExporter) ItemCount() int { return len(x.ids) }

// BatchSize returns the number of events per batch.
func (x *CSVExporter) BatchSize() int { return x.batchSize }

// NextBatch loads up to BatchSize events starting at position.
func (x *CSVExporter) NextBatch(ctx context.Context, position int) ([]*core.Entity, error) {
	if position >= len(x.ids) {
		return nil, nil
	}
	end := position + x.batchSize
	if end > len(x.ids) {
		end = len(x.ids)
	}

	batch := make([]*core.Entity, 0, end-position)
	for _, id := range x.ids[position:end] {
		e, err := x.unpacker.store.Load(ctx, core.TypeEvent, id)
		if err != nil {
			return nil, fmt.Errorf("load event %s: %w", id, err)
		}
		batch = append(batch, e)
	}
	return batch, nil
}

// ProcessItem flattens one event into a row.
func (x *CSVExporter) ProcessItem(ctx context.Context, e *core.Entity, _ map[string]string) (map[string]string, error) {
	return x.Unpack(ctx, e)
}

// Unpack flattens an entity and everything it references into one row of
// collapsed cells keyed by label.
func (x *CSVExporter) Unpack(ctx context.Context, e *core.Entity) (map[string]string, error) {
	c, err := x.unpacker.unpack(ctx, e, 0)
	if err != nil {
		return nil, err
	}
	return c.collapse(), nil
}
