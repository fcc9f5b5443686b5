package service

// scheduler.go re-runs iCalendar imports in the background.
//
// Every icalendar import record is re-imported from its source feed on a
// fixed interval. Events already imported are skipped by UID, so a re-run
// only adds what is new in the feed. Failures are logged and do not stop
// the scheduler.

import (
	"context"
	"errors"
	"time"

	"github.com/JonMunkholm/activism/internal/core"
)

// StartResync re-imports every iCalendar feed now and then every interval,
// until ctx is done.
func (s *Service) StartResync(ctx context.Context, interval time.Duration) {
	s.logger.Info("ical resync scheduler started", "interval", interval)

	s.Resync(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("ical resync scheduler stopped")
			return
		case <-ticker.C:
			s.Resync(ctx)
		}
	}
}

// Resync performs one pass over the iCalendar import records and returns
// the runs it started.
func (s *Service) Resync(ctx context.Context) []Run {
	start := time.Now()
	records, err := s.adapter.Store().Query(ctx, core.Query{Type: core.TypeImport, Bundle: core.ImportICalendar})
	if err != nil {
		s.logger.Error("list ical imports failed", "error", err)
		return nil
	}

	var runs []Run
	for _, record := range records {
		if ctx.Err() != nil {
			break
		}
		groupID, url := record.TargetID("parent"), record.Value("source")
		if groupID == "" || url == "" {
			continue
		}
		run, err := s.importICal(ctx, groupID, url, record.ID)
		if err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				s.logger.Warn("ical resync rejected", "import_id", record.ID, "url", url, "message", ve.Message)
			} else {
				s.logger.Error("ical resync failed", "import_id", record.ID, "url", url, "error", err)
			}
			continue
		}
		runs = append(runs, run)
	}

	s.logger.Info("ical resync completed",
		"feeds", len(records),
		"started", len(runs),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return runs
}
