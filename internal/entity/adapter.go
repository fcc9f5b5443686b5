// Package entity maps flat, positional value arrays to and from domain
// entities. It is the only place that knows how results expand into data
// points and taxonomy terms.
package entity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/JonMunkholm/activism/internal/core"
)

// ErrTooManyValues is returned when a value array is longer than the
// descriptor's field list.
var ErrTooManyValues = errors.New("more values than fields")

// Values is a flat value array, zipped positionally with a field list.
type Values []core.FieldValue

// Strings builds scalar values. Empty strings become absent values.
func Strings(ss ...string) Values {
	v := make(Values, len(ss))
	for i, s := range ss {
		v[i] = core.Scalar(s)
	}
	return v
}

// Adapter imports and validates entities from value arrays.
type Adapter struct {
	registry    *core.Registry
	store       core.EntityStore
	resultTypes core.ResultTypeResolver
	terms       core.TermStore
	geocoder    core.Geocoder
	logger      *slog.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithGeocoder annotates imported event locations with coordinates.
func WithGeocoder(g core.Geocoder) Option {
	return func(a *Adapter) { a.geocoder = g }
}

// WithLogger sets the adapter logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an adapter over the given collaborators.
func New(reg *core.Registry, store core.EntityStore, resultTypes core.ResultTypeResolver, terms core.TermStore, opts ...Option) *Adapter {
	a := &Adapter{
		registry:    reg,
		store:       store,
		resultTypes: resultTypes,
		terms:       terms,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Registry returns the schema registry.
func (a *Adapter) Registry() *core.Registry {
	return a.registry
}

// Store returns the entity store.
func (a *Adapter) Store() core.EntityStore {
	return a.store
}

// ResultTypes returns the result type resolver.
func (a *Adapter) ResultTypes() core.ResultTypeResolver {
	return a.resultTypes
}

// Fields returns the positional field list of a descriptor.
func (a *Adapter) Fields(d core.Descriptor) ([]string, error) {
	return a.registry.FieldNames(d)
}

// Combine zips values with the descriptor's fields into a transient entity.
// Values missing at the end of the array leave their fields absent.
func (a *Adapter) Combine(d core.Descriptor, values Values) (*core.Entity, error) {
	fields, err := a.Fields(d)
	if err != nil {
		return nil, err
	}
	if len(values) > len(fields) {
		return nil, fmt.Errorf("%s: %d values for %d fields: %w", d, len(values), len(fields), ErrTooManyValues)
	}
	e := core.NewEntity(d)
	for i, v := range values {
		e.Set(fields[i], v)
	}
	return e, nil
}

// ValidateEvent validates an event built from values.
func (a *Adapter) ValidateEvent(values Values, excluded ...string) []core.Violation {
	return a.validate(core.Event, values, excluded)
}

// ValidateResult validates a result of the given type. The first value is
// the type's import name; it is replaced by the type's id before validation.
func (a *Adapter) ValidateResult(rt core.ResultType, values Values, excluded ...string) []core.Violation {
	a.registry.RegisterResultType(rt)
	vals := append(Values(nil), values...)
	if len(vals) > 0 {
		vals[0] = core.Refs(rt.ID)
	}
	return a.validate(rt.Descriptor(), vals, excluded)
}

// ValidateData validates one data point.
func (a *Adapter) ValidateData(dt core.DataType, values Values, excluded ...string) []core.Violation {
	a.registry.Put(dt.Schema())
	return a.validate(dt.Descriptor(), values, excluded)
}

// ValidateTerm validates one taxonomy term.
func (a *Adapter) ValidateTerm(vocabulary string, values Values, excluded ...string) []core.Violation {
	return a.validate(core.Term(vocabulary), values, excluded)
}

func (a *Adapter) validate(d core.Descriptor, values Values, excluded []string) []core.Violation {
	e, err := a.Combine(d, values)
	if err != nil {
		return []core.Violation{{Message: err.Error()}}
	}
	return a.registry.Validate(e, excluded...)
}

// SubEntityFields returns the result fields validated as separate entities
// rather than as references.
func SubEntityFields(rt core.ResultType) []string {
	var names []string
	for _, dt := range rt.DataTypes {
		names = append(names, dt.FieldName())
	}
	if rt.Vocabulary != "" {
		names = append(names, core.TagsPrefix+rt.Vocabulary)
	}
	return names
}

// ImportEvent creates an event in the import context's group. A failed save
// returns a nil entity and the error.
func (a *Adapter) ImportEvent(ctx context.Context, ic core.ImportContext, values Values) (*core.Entity, error) {
	e, err := a.Combine(core.Event, values)
	if err != nil {
		return nil, err
	}
	e.Set(core.EventParent, core.Refs(ic.GroupID))
	if ic.ImportID != "" {
		e.Set(core.EventImport, core.Refs(ic.ImportID))
	}
	a.geocode(ctx, e)
	return a.save(ctx, e)
}

// ImportResult creates a result and its data points and terms. The first
// value is the result type's import name, resolved within the import
// context's organization.
func (a *Adapter) ImportResult(ctx context.Context, ic core.ImportContext, values Values) (*core.Entity, error) {
	if len(values) == 0 {
		return nil, errors.New("import result: no values")
	}
	name := values[0].String()
	rt, err := a.resultTypes.ResultTypeByImportName(ctx, name, ic.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("import result: %w", err)
	}
	a.registry.RegisterResultType(rt)

	fields, err := a.Fields(rt.Descriptor())
	if err != nil {
		return nil, err
	}
	if len(values) > len(fields) {
		return nil, fmt.Errorf("import result %s: %d values for %d fields: %w", name, len(values), len(fields), ErrTooManyValues)
	}

	e := core.NewEntity(rt.Descriptor())
	for i, field := range fields {
		var v core.FieldValue
		if i < len(values) {
			v = values[i]
		}

		switch {
		case field == core.ResultTypeField:
			v = core.Refs(rt.ID)
		case core.IsDataField(field):
			v, err = a.importDataField(ctx, rt, field, v)
		case core.IsTagsField(field):
			v, err = a.importTagsField(ctx, strings.TrimPrefix(field, core.TagsPrefix), v)
		}
		if err != nil {
			return nil, err
		}
		e.Set(field, v)
	}
	return a.save(ctx, e)
}

func (a *Adapter) importDataField(ctx context.Context, rt core.ResultType, field string, v core.FieldValue) (core.FieldValue, error) {
	if v.IsEmpty() {
		return nil, nil
	}
	for _, dt := range rt.DataTypes {
		if dt.FieldName() != field {
			continue
		}
		d, err := a.ImportData(ctx, dt, Values{v})
		if err != nil {
			return nil, err
		}
		return core.Refs(d.ID), nil
	}
	return nil, fmt.Errorf("import result %s: no data type for %s", rt.ImportName, field)
}

func (a *Adapter) importTagsField(ctx context.Context, vocabulary string, v core.FieldValue) (core.FieldValue, error) {
	var ids []string
	for _, name := range TermNames(v) {
		term, err := a.ImportTerm(ctx, vocabulary, Strings(name))
		if err != nil {
			return nil, err
		}
		ids = append(ids, term.ID)
	}
	return core.Refs(ids...), nil
}

// TermNames splits a tags value into trimmed, non-empty term names.
func TermNames(v core.FieldValue) []string {
	var names []string
	for _, it := range v {
		for _, name := range strings.Split(it[core.PropValue], ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}

// ImportData creates a data point.
func (a *Adapter) ImportData(ctx context.Context, dt core.DataType, values Values) (*core.Entity, error) {
	a.registry.Put(dt.Schema())
	e, err := a.Combine(dt.Descriptor(), values)
	if err != nil {
		return nil, err
	}
	return a.save(ctx, e)
}

// ImportTerm returns the existing term with the given name in the
// vocabulary, creating it when absent.
func (a *Adapter) ImportTerm(ctx context.Context, vocabulary string, values Values) (*core.Entity, error) {
	if len(values) == 0 || values[0].String() == "" {
		return nil, errors.New("import term: empty name")
	}
	existing, err := a.terms.FindTerm(ctx, vocabulary, values[0].String())
	if err == nil {
		return existing, nil
	}
	if !core.IsNotFound(err) {
		return nil, err
	}

	e, err := a.Combine(core.Term(vocabulary), values)
	if err != nil {
		return nil, err
	}
	return a.save(ctx, e)
}

// AttachResult appends a result to an event and saves the event.
func (a *Adapter) AttachResult(ctx context.Context, eventID, resultID string) (*core.Entity, error) {
	e, err := a.store.Load(ctx, core.TypeEvent, eventID)
	if err != nil {
		return nil, err
	}
	e.AppendRef(core.EventResults, resultID)
	return a.save(ctx, e)
}

func (a *Adapter) save(ctx context.Context, e *core.Entity) (*core.Entity, error) {
	if violations := a.registry.Validate(e); len(violations) > 0 {
		return nil, fmt.Errorf("save %s: %s: %w", e.Descriptor(), violations[0], core.ErrInvalidEntity)
	}
	if err := a.store.Save(ctx, e); err != nil {
		return nil, fmt.Errorf("save %s: %w", e.Descriptor(), err)
	}
	return e, nil
}

func (a *Adapter) geocode(ctx context.Context, e *core.Entity) {
	if a.geocoder == nil {
		return
	}
	loc := e.Get(core.EventLocation)
	if len(loc) == 0 || loc[0][core.PropAddress] == "" {
		return
	}
	c, ok, err := a.geocoder.Geocode(ctx, loc[0][core.PropAddress])
	if err != nil {
		a.logger.Warn("geocode failed", "address", loc[0][core.PropAddress], "error", err)
		return
	}
	if ok {
		e.Set(core.EventLocation, core.WithCoordinates(loc, c))
	}
}
