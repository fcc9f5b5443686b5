package core

// collaborators.go declares the external services the parsers call into.
//
// The parsers never reach a database or network directly: every lookup goes
// through one of these interfaces, injected through constructors.

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Condition matches entities whose field carries an item with the given
// value or target id.
type Condition struct {
	Field string
	Value string
}

// Query selects entities of one type, optionally narrowed to a bundle.
type Query struct {
	Type       string
	Bundle     string
	Conditions []Condition
	Limit      int // Zero means no limit
}

// Matches reports whether the entity satisfies the query.
func (q Query) Matches(e *Entity) bool {
	if e.Type != q.Type {
		return false
	}
	if q.Bundle != "" && e.Bundle != q.Bundle {
		return false
	}
	for _, c := range q.Conditions {
		if !fieldHas(e.Get(c.Field), c.Value) {
			return false
		}
	}
	return true
}

func fieldHas(fv FieldValue, v string) bool {
	for _, it := range fv {
		if it[PropValue] == v || it[PropTargetID] == v {
			return true
		}
	}
	return false
}

// EntityStore loads and persists entities.
type EntityStore interface {
	// Load returns the entity or an error wrapping ErrNotFound.
	Load(ctx context.Context, typ, id string) (*Entity, error)
	// Save creates or updates the entity, assigning an ID when it has none.
	Save(ctx context.Context, e *Entity) error
	// Query returns matching entities in creation order.
	Query(ctx context.Context, q Query) ([]*Entity, error)
}

// AddressValidator checks free-text addresses against a geocoding service.
type AddressValidator interface {
	ValidateAddress(ctx context.Context, address string) (bool, error)
	AddressSuggestions(ctx context.Context, address string) ([]string, error)
}

// Geocoder resolves an address to coordinates. Address validators that also
// implement Geocoder get imported locations annotated with lat/lon.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (Coordinates, bool, error)
}

// ResultTypeResolver looks up result types by import name within an organization.
type ResultTypeResolver interface {
	ResultTypeByImportName(ctx context.Context, importName, organizationID string) (ResultType, error)
	ResultTypeByID(ctx context.Context, id string) (ResultType, error)
}

// TermStore looks up taxonomy terms by vocabulary and name.
type TermStore interface {
	// FindTerm returns the term or an error wrapping ErrNotFound.
	FindTerm(ctx context.Context, vocabulary, name string) (*Entity, error)
}

// Authorizer decides whether the current caller may import into a group.
type Authorizer interface {
	CanImport(ctx context.Context, groupID string) (bool, error)
}

// AllowAll is an Authorizer that permits every import.
type AllowAll struct{}

func (AllowAll) CanImport(context.Context, string) (bool, error) { return true, nil }

// ImportContext binds every entity created during one run to its group and
// import record.
type ImportContext struct {
	GroupID        string
	OrganizationID string
	ImportID       string
}

// LoadImportContext resolves the organization of a group.
func LoadImportContext(ctx context.Context, store EntityStore, groupID, importID string) (ImportContext, error) {
	e, err := store.Load(ctx, TypeGroup, groupID)
	if err != nil {
		return ImportContext{}, fmt.Errorf("load group %s: %w", groupID, err)
	}
	g := GroupFromEntity(e)
	return ImportContext{GroupID: g.ID, OrganizationID: g.OrganizationID, ImportID: importID}, nil
}

// NewImportRecord creates the audit record of an import run.
func NewImportRecord(bundle, groupID, source string) *Entity {
	e := NewEntity(Descriptor{Type: TypeImport, Bundle: bundle})
	e.Set("parent", Refs(groupID))
	e.Set("source", Scalar(source))
	e.Set("created", Scalar(StorageDate(time.Now().UTC())))
	return e
}

// StoreResultTypes resolves result types from result_type entities and keeps
// the registry's result and data bundles in sync with what it loads.
type StoreResultTypes struct {
	Store    EntityStore
	Registry *Registry
}

func (s StoreResultTypes) ResultTypeByImportName(ctx context.Context, importName, organizationID string) (ResultType, error) {
	found, err := s.Store.Query(ctx, Query{
		Type: TypeResultType,
		Conditions: []Condition{
			{Field: "import_name", Value: importName},
			{Field: "organization", Value: organizationID},
		},
		Limit: 1,
	})
	if err != nil {
		return ResultType{}, fmt.Errorf("query result type %q: %w", importName, err)
	}
	if len(found) == 0 {
		return ResultType{}, fmt.Errorf("result type %q: %w", importName, ErrNotFound)
	}
	return s.build(ctx, found[0])
}

func (s StoreResultTypes) ResultTypeByID(ctx context.Context, id string) (ResultType, error) {
	e, err := s.Store.Load(ctx, TypeResultType, id)
	if err != nil {
		return ResultType{}, fmt.Errorf("load result type %s: %w", id, err)
	}
	return s.build(ctx, e)
}

func (s StoreResultTypes) build(ctx context.Context, e *Entity) (ResultType, error) {
	var dataTypes []DataType
	for _, id := range e.Get("datatypes").TargetIDs() {
		dte, err := s.Store.Load(ctx, TypeDataType, id)
		if err != nil {
			return ResultType{}, fmt.Errorf("load data type %s: %w", id, err)
		}
		dataTypes = append(dataTypes, DataTypeFromEntity(dte))
	}
	rt := ResultTypeFromEntity(e, dataTypes)
	if s.Registry != nil {
		s.Registry.RegisterResultType(rt)
	}
	return rt, nil
}

// StoreTerms finds taxonomy terms in the entity store.
type StoreTerms struct {
	Store EntityStore
}

func (s StoreTerms) FindTerm(ctx context.Context, vocabulary, name string) (*Entity, error) {
	found, err := s.Store.Query(ctx, Query{
		Type:       TypeTerm,
		Bundle:     vocabulary,
		Conditions: []Condition{{Field: "name", Value: name}},
		Limit:      1,
	})
	if err != nil {
		return nil, fmt.Errorf("query term %q: %w", name, err)
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("term %q in %s: %w", name, vocabulary, ErrNotFound)
	}
	return found[0], nil
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
