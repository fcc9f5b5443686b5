package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/JonMunkholm/activism/internal/codec"
	"github.com/JonMunkholm/activism/internal/core"
	"github.com/JonMunkholm/activism/internal/entity"
)

// CSV import columns.
const (
	ColStartDate   = "start_date"
	ColEndDate     = "end_date"
	ColAddress     = "address"
	ColAddressInfo = "address_extra_information"
	ColTitle       = "title"
	ColDescription = "description"
	ColResults     = "results"
)

// CSVHeader is the required first line of a CSV import file.
var CSVHeader = []string{ColStartDate, ColEndDate, ColAddress, ColAddressInfo, ColTitle, ColDescription, ColResults}

// MinResultFields is the minimum number of pipe-separated fields in a results cell.
const MinResultFields = 5

// CSVParser imports events from a CSV file.
type CSVParser struct {
	open      Opener
	ic        core.ImportContext
	adapter   *entity.Adapter
	validator core.AddressValidator
	opts      options
	itemCount int
	validation
}

// NewCSVParser creates a parser and counts the file's lines.
func NewCSVParser(open Opener, ic core.ImportContext, adapter *entity.Adapter, validator core.AddressValidator, opts ...Option) (*CSVParser, error) {
	p := &CSVParser{
		open:      open,
		ic:        ic,
		adapter:   adapter,
		validator: validator,
		opts:      buildOptions(opts),
	}
	if err := p.setItemCount(); err != nil {
		return nil, err
	}
	return p, nil
}

// setItemCount counts every record of the file, header included.
func (p *CSVParser) setItemCount() error {
	n := 0
	err := p.scan(func(r *csv.Reader, record []string) error {
		n++
		return nil
	})
	if err != nil {
		return fmt.Errorf("count lines: %w", err)
	}
	p.itemCount = n
	return nil
}

// scan opens the file and calls fn for each record until fn returns
// errStop or an error.
func (p *CSVParser) scan(fn func(r *csv.Reader, record []string) error) error {
	f, err := p.open()
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(decode(f))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	for {
		record, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(r, record); err != nil {
			if errors.Is(err, errStop) {
				return nil
			}
			return err
		}
	}
}

var errStop = errors.New("stop")

// ItemCount returns the raw record count, header included.
func (p *CSVParser) ItemCount() int { return p.itemCount }

// BatchSize returns the number of rows per batch.
func (p *CSVParser) BatchSize() int { return p.opts.batchSize }

// State returns the validation state.
func (p *CSVParser) State() State { return p.state }

// Err returns the validation failure, if any.
func (p *CSVParser) Err() error { return p.err }

// ErrorMessage returns the translated validation failure.
func (p *CSVParser) ErrorMessage() string { return p.message }

// Validate checks permission, the header and every row, stopping at the
// first failure.
func (p *CSVParser) Validate(ctx context.Context) bool {
	p.state = StateValidating
	err := p.validate(ctx)
	if err != nil {
		p.opts.logger.Info("csv import rejected", "group_id", p.ic.GroupID, "error", err)
	}
	return p.finish(err, p.opts.translator)
}

func (p *CSVParser) validate(ctx context.Context) error {
	if err := checkPermission(ctx, p.opts.auth, p.ic.GroupID); err != nil {
		return err
	}

	first := true
	err := p.scan(func(r *csv.Reader, record []string) error {
		line, _ := r.FieldPos(0)
		if first {
			first = false
			if !codec.EqualHeaders(record, CSVHeader) {
				return core.NewParserError(core.InvalidHeaders, line, 0, strings.Join(record, ","))
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return p.validateRow(ctx, line, record)
	})
	if err != nil {
		var pe *core.ParserError
		if errors.As(err, &pe) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("read csv: %w", err)
	}
	if first {
		return core.NewParserError(core.InvalidHeaders, 1, 0, "")
	}
	return nil
}

func (p *CSVParser) validateRow(ctx context.Context, line int, record []string) error {
	if len(record) != len(CSVHeader) {
		return core.NewParserError(core.WrongRowCount, line, 0, strings.Join(record, ",")).
			WithExtra(fmt.Sprintf("expected %d columns, got %d", len(CSVHeader), len(record)))
	}

	for i, value := range record {
		column := i + 1
		switch CSVHeader[i] {
		case ColStartDate, ColEndDate:
			if value == "" {
				continue
			}
			if _, ok := core.ParseImportDate(value); !ok {
				return core.NewParserError(core.InvalidDate, line, column, value)
			}
		case ColAddress:
			if value == "" {
				continue
			}
			if err := p.validateAddress(ctx, line, column, value); err != nil {
				return err
			}
		case ColResults:
			if value == "" {
				continue
			}
			if err := p.validateResult(ctx, line, column, value); err != nil {
				return err
			}
		}
	}

	row := codec.Zip(CSVHeader, record)
	if !isEvent(row) {
		return nil
	}
	violations := p.adapter.ValidateEvent(eventValues(row), core.EventResults, core.EventParent, core.EventImport)
	if len(violations) > 0 {
		return core.NewParserError(core.InvalidEvent, line, 0, "").WithExtra(violations[0].Error())
	}
	return nil
}

func (p *CSVParser) validateAddress(ctx context.Context, line, column int, value string) error {
	ok, err := p.validator.ValidateAddress(ctx, value)
	if err != nil {
		p.opts.logger.Warn("address validation failed", "address", value, "error", err)
	}
	if ok {
		return nil
	}

	pe := core.NewParserError(core.InvalidLocation, line, column, value)
	pe.Err = err
	suggestions, serr := p.validator.AddressSuggestions(ctx, value)
	if serr != nil {
		p.opts.logger.Warn("address suggestions failed", "address", value, "error", serr)
	}
	pe.Suggestions = suggestions
	return pe
}

func (p *CSVParser) validateResult(ctx context.Context, line, column int, value string) error {
	parts := SplitResult(value)
	if len(parts) < MinResultFields {
		return core.NewParserError(core.InvalidResult, line, column, value).
			WithExtra(fmt.Sprintf("expected at least %d fields, got %d", MinResultFields, len(parts)))
	}

	rt, err := p.adapter.ResultTypes().ResultTypeByImportName(ctx, parts[0], p.ic.OrganizationID)
	if err != nil {
		if core.IsNotFound(err) {
			return core.NewParserError(core.InvalidResult, line, column, value)
		}
		return err
	}
	if !rt.AllowsGroup(p.ic.GroupID) {
		return core.NewParserError(core.InvalidResult, line, column, value)
	}

	values := entity.Strings(parts...)
	if v := p.adapter.ValidateResult(rt, values, entity.SubEntityFields(rt)...); len(v) > 0 {
		return core.NewParserError(core.InvalidResult, line, column, value).WithExtra(v[0].Error())
	}

	fields, err := p.adapter.Fields(rt.Descriptor())
	if err != nil {
		return err
	}
	for i, field := range fields {
		if i >= len(parts) || parts[i] == "" {
			continue
		}
		switch {
		case core.IsDataField(field):
			for _, dt := range rt.DataTypes {
				if dt.FieldName() != field {
					continue
				}
				if v := p.adapter.ValidateData(dt, entity.Strings(parts[i])); len(v) > 0 {
					return core.NewParserError(core.InvalidData, line, column, parts[i])
				}
			}
		case core.IsTagsField(field):
			vocabulary := strings.TrimPrefix(field, core.TagsPrefix)
			for _, name := range entity.TermNames(core.Scalar(parts[i])) {
				if v := p.adapter.ValidateTerm(vocabulary, entity.Strings(name)); len(v) > 0 {
					return core.NewParserError(core.InvalidResult, line, column, value).WithExtra(v[0].Error())
				}
			}
		}
	}
	return nil
}

// NextBatch returns up to BatchSize data rows starting at position. The
// file is re-read from the start on every call.
func (p *CSVParser) NextBatch(ctx context.Context, position int) ([]*codec.Row, error) {
	var batch []*codec.Row
	index := -1 // header
	err := p.scan(func(_ *csv.Reader, record []string) error {
		if index++; index == 0 {
			return nil
		}
		if index-1 < position {
			return nil
		}
		if len(batch) == p.opts.batchSize {
			return errStop
		}
		batch = append(batch, codec.Zip(CSVHeader, record))
		return ctx.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("read batch at %d: %w", position, err)
	}
	return batch, nil
}

// ProcessItem imports one row. A row with a start date creates an event,
// together with its result when the results cell is set. A row without a
// start date adds its result to the latest event of the run. Returns the id
// of the event acted upon.
//
// Saves are not transactional: the result is saved before the event that
// references it, so a failed event save leaves the result unreferenced.
func (p *CSVParser) ProcessItem(ctx context.Context, row *codec.Row, sandbox map[string]string) (string, error) {
	if isEvent(row) {
		values := eventValues(row)
		resultID := ""
		if cell := row.Value(ColResults); cell != "" {
			result, err := p.adapter.ImportResult(ctx, p.ic, entity.Strings(SplitResult(cell)...))
			if err != nil {
				return "", err
			}
			resultID = result.ID
			values = append(values, core.Refs(result.ID))
		}
		event, err := p.adapter.ImportEvent(ctx, p.ic, values)
		if err != nil {
			if resultID != "" {
				p.opts.logger.Warn("event save failed, result left unreferenced",
					"import_id", p.ic.ImportID, "result_id", resultID, "error", err)
			}
			return "", err
		}
		sandbox[LatestEventKey] = event.ID
		return event.ID, nil
	}

	latest := sandbox[LatestEventKey]
	cell := row.Value(ColResults)
	if latest == "" || cell == "" {
		return "", nil
	}
	result, err := p.adapter.ImportResult(ctx, p.ic, entity.Strings(SplitResult(cell)...))
	if err != nil {
		return "", err
	}
	if _, err := p.adapter.AttachResult(ctx, latest, result.ID); err != nil {
		return "", err
	}
	return latest, nil
}

// SplitResult splits a results cell on pipes and trims each field.
func SplitResult(cell string) []string {
	parts := strings.Split(cell, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func isEvent(row *codec.Row) bool {
	return row.Value(ColStartDate) != ""
}

// eventValues maps a row to the leading event fields: start, end, location,
// title, description.
func eventValues(row *codec.Row) entity.Values {
	return entity.Values{
		storageDate(row.Value(ColStartDate)),
		storageDate(row.Value(ColEndDate)),
		core.AddressValue(row.Value(ColAddress), row.Value(ColAddressInfo)),
		core.Scalar(row.Value(ColTitle)),
		core.Scalar(row.Value(ColDescription)),
	}
}

func storageDate(s string) core.FieldValue {
	t, ok := core.ParseImportDate(s)
	if !ok {
		return core.Scalar(s)
	}
	return core.Scalar(core.StorageDate(t))
}
