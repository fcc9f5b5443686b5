// Package service runs imports and exports for groups.
//
// Imports are validated synchronously; a valid source starts a batch run
// that executes either on the task queue, when one is configured, or in a
// background goroutine bounded by a RunLimiter. Exports run to completion
// in the caller's goroutine.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/JonMunkholm/activism/internal/batch"
	"github.com/JonMunkholm/activism/internal/codec"
	"github.com/JonMunkholm/activism/internal/core"
	"github.com/JonMunkholm/activism/internal/entity"
	"github.com/JonMunkholm/activism/internal/exporter"
	"github.com/JonMunkholm/activism/internal/importer"
	"github.com/JonMunkholm/activism/internal/logging"
	"github.com/JonMunkholm/activism/internal/metrics"
)

// Job kinds.
const (
	KindCSV    = "csv"
	KindICal   = "ical"
	KindExport = "export"
)

// Job parameters.
const (
	ParamGroupID = "group_id"
	ParamImport  = "import_id"
	ParamPath    = "path"
	ParamURL     = "url"
	ParamCleanup = "cleanup"
)

// Config tunes parsers and runs.
type Config struct {
	BatchSize     int
	Strict        bool
	UploadDir     string
	MaxConcurrent int
	MaxWait       time.Duration
}

// ValidationError reports a rejected import source. Message is the
// translated parser message.
type ValidationError struct {
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("import rejected: %s", e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Run identifies a started import run.
type Run struct {
	BatchID  string `json:"batch_id"`
	ImportID string `json:"import_id"`
	Items    int    `json:"item_count"`
}

// Service orchestrates parsers, the batch driver and import records.
type Service struct {
	adapter    *entity.Adapter
	validator  core.AddressValidator
	auth       core.Authorizer
	translator core.Translator
	client     *retryablehttp.Client
	progress   batch.ProgressStore
	queue      *batch.Queue
	limiter    *RunLimiter
	metrics    *metrics.Metrics
	cfg        Config
	logger     *slog.Logger

	wg sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithQueue runs imports on the task queue instead of in-process.
func WithQueue(q *batch.Queue) Option {
	return func(s *Service) { s.queue = q }
}

// WithProgressStore sets where in-process runs record progress.
func WithProgressStore(p batch.ProgressStore) Option {
	return func(s *Service) { s.progress = p }
}

// WithMetrics records item and run counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAuthorizer sets the import permission check.
func WithAuthorizer(a core.Authorizer) Option {
	return func(s *Service) { s.auth = a }
}

// WithTranslator sets the language of validation messages.
func WithTranslator(t core.Translator) Option {
	return func(s *Service) { s.translator = t }
}

// WithHTTPClient sets the client used to fetch iCalendar feeds.
func WithHTTPClient(c *retryablehttp.Client) Option {
	return func(s *Service) { s.client = c }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a Service.
func New(adapter *entity.Adapter, validator core.AddressValidator, cfg Config, opts ...Option) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = importer.DefaultBatchSize
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = os.TempDir()
	}
	s := &Service{
		adapter:    adapter,
		validator:  validator,
		auth:       core.AllowAll{},
		translator: core.DefaultTranslator,
		progress:   batch.NewMemoryProgress(),
		cfg:        cfg,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.limiter = NewRunLimiter(cfg.MaxConcurrent, cfg.MaxWait)
	return s
}

// Limiter returns the in-process run limiter.
func (s *Service) Limiter() *RunLimiter { return s.limiter }

// Template returns the CSV import template: the header line.
func Template() string {
	return codec.EncodeHeader(importer.CSVHeader) + exporter.LineSeparator
}

// ImportCSVFile validates the CSV file at path and starts its import. The
// file is left in place.
func (s *Service) ImportCSVFile(ctx context.Context, groupID, path string) (Run, error) {
	return s.importCSV(ctx, groupID, path, false)
}

// ImportCSVUpload stores r in the upload directory, validates it and starts
// its import. The stored copy is removed when the run finishes.
func (s *Service) ImportCSVUpload(ctx context.Context, groupID string, r io.Reader) (Run, error) {
	path, err := s.store(r, ".csv")
	if err != nil {
		return Run{}, err
	}
	run, err := s.importCSV(ctx, groupID, path, true)
	if err != nil {
		s.remove(path)
	}
	return run, err
}

func (s *Service) importCSV(ctx context.Context, groupID, path string, cleanup bool) (Run, error) {
	record := s.newRecord(core.ImportCSV, groupID, filepath.Base(path))
	ic, err := core.LoadImportContext(ctx, s.adapter.Store(), groupID, record.ID)
	if err != nil {
		return Run{}, err
	}

	p, err := s.csvParser(ic, path)
	if err != nil {
		return Run{}, err
	}
	if !p.Validate(ctx) {
		s.rejected(KindCSV, p.Err(), p.ErrorMessage())
		return Run{}, &ValidationError{Message: p.ErrorMessage(), Err: p.Err()}
	}
	if err := s.adapter.Store().Save(ctx, record); err != nil {
		return Run{}, fmt.Errorf("save import record: %w", err)
	}

	job := batch.Job{Kind: KindCSV, Params: map[string]string{
		ParamGroupID: groupID,
		ParamImport:  record.ID,
		ParamPath:    path,
	}}
	if cleanup {
		job.Params[ParamCleanup] = "true"
	}
	return s.start(ctx, job, p.ItemCount(), func(ctx context.Context, id string) error {
		return runLocal(ctx, s, id, job, batch.Parser[*codec.Row, string](p))
	})
}

// ImportICal fetches and validates the feed at url and starts its import.
func (s *Service) ImportICal(ctx context.Context, groupID, url string) (Run, error) {
	return s.importICal(ctx, groupID, url, "")
}

// importICal imports a feed under an existing import record when importID
// is set, otherwise under a new one.
func (s *Service) importICal(ctx context.Context, groupID, url, importID string) (Run, error) {
	var record *core.Entity
	if importID == "" {
		record = s.newRecord(core.ImportICalendar, groupID, importer.FeedURL(url))
		importID = record.ID
	}
	ic, err := core.LoadImportContext(ctx, s.adapter.Store(), groupID, importID)
	if err != nil {
		return Run{}, err
	}

	p := importer.NewICalParser(ctx, url, ic, s.adapter, s.validator, s.parserOptions()...)
	if !p.Validate(ctx) {
		s.rejected(KindICal, p.Err(), p.ErrorMessage())
		return Run{}, &ValidationError{Message: p.ErrorMessage(), Err: p.Err()}
	}

	// Queued steps read the stored copy so the feed is fetched once per run.
	path, err := s.store(strings.NewReader(p.Document()), ".ics")
	if err != nil {
		return Run{}, err
	}
	if record != nil {
		if err := s.adapter.Store().Save(ctx, record); err != nil {
			s.remove(path)
			return Run{}, fmt.Errorf("save import record: %w", err)
		}
	}

	job := batch.Job{Kind: KindICal, Params: map[string]string{
		ParamGroupID: groupID,
		ParamImport:  importID,
		ParamPath:    path,
		ParamURL:     p.URL(),
		ParamCleanup: "true",
	}}
	run, err := s.start(ctx, job, p.ItemCount(), func(ctx context.Context, id string) error {
		return runLocal(ctx, s, id, job, batch.Parser[*importer.VEvent, string](p))
	})
	if err != nil {
		s.remove(path)
	}
	return run, err
}

// Export flattens the group's events into a document.
func (s *Service) Export(ctx context.Context, groupID string, opts ...exporter.Option) (*exporter.Document, error) {
	opts = append([]exporter.Option{exporter.WithLogger(s.logger), exporter.WithBatchSize(s.cfg.BatchSize)}, opts...)
	x, err := exporter.NewCSVExporter(ctx, s.adapter, groupID, opts...)
	if err != nil {
		return nil, err
	}

	st := batch.NewState[map[string]string](x.ItemCount())
	bopts := s.batchOptions(KindExport, s.logger.With("group_id", groupID))
	bopts.Strict = true
	if err := batch.Run[*core.Entity, map[string]string](ctx, x, st, bopts); err != nil {
		return nil, fmt.Errorf("export group %s: %w", groupID, err)
	}

	doc := exporter.NewDocument()
	for _, row := range st.Results {
		if len(row) > 0 {
			doc.Add(row)
		}
	}
	return doc, nil
}

// Progress returns the latest snapshot of a run.
func (s *Service) Progress(ctx context.Context, batchID string) (batch.Progress, error) {
	if s.queue != nil {
		return s.queue.Progress(ctx, batchID)
	}
	return s.progress.Get(ctx, batchID)
}

// Wait blocks until every in-process run has finished or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// start hands job to the queue, or runs local in a background goroutine
// holding a limiter slot.
func (s *Service) start(ctx context.Context, job batch.Job, items int, local func(ctx context.Context, id string) error) (Run, error) {
	run := Run{ImportID: job.Params[ParamImport], Items: items}
	if s.queue != nil {
		id, err := s.queue.Enqueue(ctx, job)
		if err != nil {
			return Run{}, err
		}
		run.BatchID = id
		return run, nil
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return Run{}, err
	}
	run.BatchID = uuid.NewString()
	if err := s.progress.Save(ctx, batch.Progress{ID: run.BatchID, Kind: job.Kind, ItemCount: items}); err != nil {
		s.limiter.Release()
		return Run{}, err
	}

	runCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.limiter.Release()
		if s.metrics != nil {
			defer s.metrics.RunStarted()()
		}
		if err := local(runCtx, run.BatchID); err != nil {
			s.logger.Error("batch run failed", "batch_id", run.BatchID, "kind", job.Kind, "error", err)
		}
	}()
	return run, nil
}

// runLocal steps p to completion, saving a snapshot after every step.
func runLocal[T, R any](ctx context.Context, s *Service, id string, job batch.Job, p batch.Parser[T, R]) error {
	defer s.finish(job)

	ctx, logger := logging.WithBatch(logging.NewContext(ctx, s.logger), id, job.Kind, job.Params[ParamGroupID])
	opts := s.batchOptions(job.Kind, logger)
	st := batch.NewState[R](p.ItemCount())
	for !st.Done {
		if err := batch.Step(ctx, p, st, opts); err != nil {
			snap := batch.Snapshot(id, job.Kind, st)
			snap.Error = err.Error()
			snap.Done = true
			if serr := s.progress.Save(ctx, snap); serr != nil {
				logger.Error("save progress failed", "error", serr)
			}
			return err
		}
		if err := s.progress.Save(ctx, batch.Snapshot(id, job.Kind, st)); err != nil {
			return fmt.Errorf("save progress: %w", err)
		}
	}
	logger.Info("batch finished", "succeeded", st.Succeeded, "failed", st.Failed)
	return nil
}

func (s *Service) batchOptions(kind string, logger *slog.Logger) batch.Options {
	opts := batch.Options{Name: kind, Strict: s.cfg.Strict, Logger: logger}
	if s.metrics != nil {
		opts.Observer = s.metrics
	}
	return opts
}

func (s *Service) parserOptions() []importer.Option {
	opts := []importer.Option{
		importer.WithBatchSize(s.cfg.BatchSize),
		importer.WithAuthorizer(s.auth),
		importer.WithTranslator(s.translator),
		importer.WithLogger(s.logger),
	}
	if s.client != nil {
		opts = append(opts, importer.WithHTTPClient(s.client))
	}
	return opts
}

func (s *Service) csvParser(ic core.ImportContext, path string) (*importer.CSVParser, error) {
	p, err := importer.NewCSVParser(importer.FileOpener(path), ic, s.adapter, s.validator, s.parserOptions()...)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	return p, nil
}

func (s *Service) icalParser(ic core.ImportContext, path string) (*importer.ICalParser, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feed copy: %w", err)
	}
	return importer.NewICalParserFromBytes(body, ic, s.adapter, s.validator, s.parserOptions()...), nil
}

// newRecord creates an unsaved import record with its id assigned, so the
// run's entities can reference it before validation completes.
func (s *Service) newRecord(bundle, groupID, source string) *core.Entity {
	record := core.NewImportRecord(bundle, groupID, source)
	record.ID = uuid.NewString()
	return record
}

func (s *Service) rejected(kind string, err error, message string) {
	if s.metrics != nil {
		s.metrics.ValidationFailed(kind, err)
	}
	s.logger.Info("import rejected", "kind", kind, "message", message)
}

// store copies r into a new file in the upload directory.
func (s *Service) store(r io.Reader, ext string) (string, error) {
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(s.cfg.UploadDir, uuid.NewString()+ext)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		s.remove(path)
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := f.Close(); err != nil {
		s.remove(path)
		return "", fmt.Errorf("write upload: %w", err)
	}
	return path, nil
}

// finish removes the run's stored source when the service owns it.
func (s *Service) finish(job batch.Job) {
	if job.Params[ParamCleanup] == "true" {
		s.remove(job.Params[ParamPath])
	}
}

func (s *Service) remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("remove upload failed", "path", path, "error", err)
	}
}
