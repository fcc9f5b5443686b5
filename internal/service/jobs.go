package service

import (
	"context"

	"github.com/JonMunkholm/activism/internal/batch"
	"github.com/JonMunkholm/activism/internal/codec"
	"github.com/JonMunkholm/activism/internal/core"
	"github.com/JonMunkholm/activism/internal/importer"
)

// RegisterJobs registers the import job kinds on q. Each queued step
// rebuilds its parser from the job parameters; sources were validated
// before the job was enqueued, so the parsers are not validated again.
func (s *Service) RegisterJobs(q *batch.Queue) {
	opts := s.batchOptions("", nil)

	batch.Register(q, KindCSV, func(ctx context.Context, job batch.Job) (batch.Parser[*codec.Row, string], error) {
		ic, err := s.jobContext(ctx, job)
		if err != nil {
			return nil, err
		}
		return s.csvParser(ic, job.Params[ParamPath])
	}, s.finishJob, opts)

	batch.Register(q, KindICal, func(ctx context.Context, job batch.Job) (batch.Parser[*importer.VEvent, string], error) {
		ic, err := s.jobContext(ctx, job)
		if err != nil {
			return nil, err
		}
		return s.icalParser(ic, job.Params[ParamPath])
	}, s.finishJob, opts)
}

func (s *Service) jobContext(ctx context.Context, job batch.Job) (core.ImportContext, error) {
	return core.LoadImportContext(ctx, s.adapter.Store(), job.Params[ParamGroupID], job.Params[ParamImport])
}

func (s *Service) finishJob(_ context.Context, job batch.Job, st *batch.State[string], err error) error {
	s.finish(job)
	if err != nil {
		s.logger.Warn("import ended early", "import_id", job.Params[ParamImport], "kind", job.Kind, "error", err)
		return nil
	}
	s.logger.Info("import finished",
		"import_id", job.Params[ParamImport],
		"kind", job.Kind,
		"succeeded", st.Succeeded,
		"failed", st.Failed,
	)
	return nil
}
