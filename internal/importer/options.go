// Package importer reads CSV files and iCalendar feeds into events.
//
// Both parsers follow the same lifecycle. Validate runs once over the whole
// source and stops at the first failure; on success the batch driver pages
// through the source with NextBatch and ProcessItem.
package importer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/JonMunkholm/activism/internal/core"
)

// DefaultBatchSize is the number of items handed out per batch invocation.
const DefaultBatchSize = 50

// LatestEventKey is the sandbox key carrying the most recently imported
// event between batch invocations.
const LatestEventKey = "latest_event"

// State is the validation state of a parser.
type State int

const (
	StateUnopened State = iota
	StateValidating
	StateValid
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateValidating:
		return "validating"
	case StateValid:
		return "valid"
	case StateInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Opener opens the import source. Parsers open and close the source within
// each operation that reads it.
type Opener func() (io.ReadCloser, error)

// FileOpener opens a file on disk.
func FileOpener(path string) Opener {
	return func() (io.ReadCloser, error) {
		return os.Open(path)
	}
}

// BytesOpener serves an in-memory source.
func BytesOpener(b []byte) Opener {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	}
}

// decode strips a UTF-8 byte order mark and replaces invalid sequences.
func decode(r io.Reader) io.Reader {
	return transform.NewReader(r, unicode.UTF8BOM.NewDecoder())
}

type options struct {
	batchSize  int
	auth       core.Authorizer
	translator core.Translator
	client     *retryablehttp.Client
	logger     *slog.Logger
}

// Option configures a parser.
type Option func(*options)

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithAuthorizer checks the caller's permission to import into the group.
func WithAuthorizer(a core.Authorizer) Option {
	return func(o *options) { o.auth = a }
}

// WithTranslator sets the translator for validation messages.
func WithTranslator(t core.Translator) Option {
	return func(o *options) { o.translator = t }
}

// WithHTTPClient sets the client used to fetch calendar feeds.
func WithHTTPClient(c *retryablehttp.Client) Option {
	return func(o *options) { o.client = c }
}

// WithLogger sets the parser logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{
		batchSize:  DefaultBatchSize,
		auth:       core.AllowAll{},
		translator: core.DefaultTranslator,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.client == nil {
		o.client = NewHTTPClient(0, 0)
	}
	return o
}

// validation tracks the outcome of Validate.
type validation struct {
	state   State
	err     error
	message string
}

func (v *validation) finish(err error, t core.Translator) bool {
	if err == nil {
		v.state = StateValid
		v.err = nil
		v.message = ""
		return true
	}

	v.state = StateInvalid
	v.err = err
	var pe *core.ParserError
	if errors.As(err, &pe) {
		v.message = pe.Message(t)
	} else {
		v.message = core.FormatUserError(err)
	}
	return false
}

// checkPermission asks the authorizer whether the group accepts imports.
func checkPermission(ctx context.Context, auth core.Authorizer, groupID string) error {
	ok, err := auth.CanImport(ctx, groupID)
	if err != nil {
		return err
	}
	if !ok {
		return core.NewParserError(core.PermissionDenied, 0, 0, groupID)
	}
	return nil
}
