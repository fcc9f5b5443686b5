package core

import (
	"strconv"
	"strings"
)

// Descriptor identifies a kind of domain object by entity type and bundle.
// An empty Bundle addresses the type-level schema.
type Descriptor struct {
	Type   string `json:"type"`
	Bundle string `json:"bundle,omitempty"`
}

func (d Descriptor) String() string {
	if d.Bundle == "" {
		return d.Type
	}
	return d.Type + ":" + d.Bundle
}

// FieldKind describes how a field's items are shaped.
type FieldKind int

const (
	KindValue FieldKind = iota
	KindDateTime
	KindReference
	KindAddress
	KindMeta
)

// Item property names.
const (
	PropValue    = "value"
	PropTargetID = "target_id"
	PropAddress  = "address"
	PropExtra    = "extra_information"
	PropLat      = "lat"
	PropLon      = "lon"
)

// FieldDef describes a single field of a schema.
type FieldDef struct {
	Name     string     // Machine name: "start_date", "data_leaflets"
	Label    string     // Human label used in exports: "Start date"
	Kind     FieldKind  // Shape of the field's items
	Target   Descriptor // Referenced descriptor for KindReference (Bundle may be empty)
	Multiple bool       // Field accepts more than one item
	Required bool       // Field must carry at least one non-empty item
	Numeric  bool       // Scalar value must parse as a number
}

// Schema is the ordered field list of a descriptor.
type Schema struct {
	Descriptor Descriptor
	Label      string
	// LabelField names the field holding the entity's display label. Exports
	// collapse references to such entities into their label.
	LabelField  string
	Fields      []FieldDef
	Constraints []Constraint
}

// Constraint is an entity-level rule spanning more than one field.
type Constraint func(e *Entity) []Violation

// Field returns the named field definition.
func (s Schema) Field(name string) (FieldDef, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDef{}, false
}

// Item is one value of a field, keyed by property name.
type Item map[string]string

// FieldValue is the ordered item list of a field.
type FieldValue []Item

// Scalar returns a single-item value, or nil for an empty string.
func Scalar(v string) FieldValue {
	if v == "" {
		return nil
	}
	return FieldValue{{PropValue: v}}
}

// Refs returns a reference value for the given target ids, skipping empty ids.
func Refs(ids ...string) FieldValue {
	var fv FieldValue
	for _, id := range ids {
		if id != "" {
			fv = append(fv, Item{PropTargetID: id})
		}
	}
	return fv
}

// AddressValue returns a compound address value, or nil when both parts are empty.
func AddressValue(address, extra string) FieldValue {
	if address == "" && extra == "" {
		return nil
	}
	return FieldValue{{PropAddress: address, PropExtra: extra}}
}

// String returns the first item's scalar value.
func (fv FieldValue) String() string {
	if len(fv) == 0 {
		return ""
	}
	return fv[0][PropValue]
}

// TargetIDs returns the target ids of a reference value.
func (fv FieldValue) TargetIDs() []string {
	ids := make([]string, 0, len(fv))
	for _, it := range fv {
		if id := it[PropTargetID]; id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// IsEmpty reports whether the value has no non-empty property.
func (fv FieldValue) IsEmpty() bool {
	for _, it := range fv {
		for _, v := range it {
			if strings.TrimSpace(v) != "" {
				return false
			}
		}
	}
	return true
}

// Entity is a stored or transient domain object.
type Entity struct {
	ID     string                `json:"id"`
	Type   string                `json:"type"`
	Bundle string                `json:"bundle"`
	Fields map[string]FieldValue `json:"fields"`
}

// NewEntity creates an unsaved entity for the descriptor.
func NewEntity(d Descriptor) *Entity {
	return &Entity{
		Type:   d.Type,
		Bundle: d.Bundle,
		Fields: make(map[string]FieldValue),
	}
}

// Descriptor returns the entity's type and bundle.
func (e *Entity) Descriptor() Descriptor {
	return Descriptor{Type: e.Type, Bundle: e.Bundle}
}

// Get returns the field value, or nil when absent.
func (e *Entity) Get(field string) FieldValue {
	if e.Fields == nil {
		return nil
	}
	return e.Fields[field]
}

// Set replaces the field value. A nil value removes the field.
func (e *Entity) Set(field string, v FieldValue) {
	if e.Fields == nil {
		e.Fields = make(map[string]FieldValue)
	}
	if v == nil {
		delete(e.Fields, field)
		return
	}
	e.Fields[field] = v
}

// Value returns the first scalar value of a field.
func (e *Entity) Value(field string) string {
	return e.Get(field).String()
}

// TargetID returns the first target id of a reference field.
func (e *Entity) TargetID(field string) string {
	ids := e.Get(field).TargetIDs()
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// AppendRef adds a target id to a reference field.
func (e *Entity) AppendRef(field, id string) {
	e.Set(field, append(e.Get(field), Item{PropTargetID: id}))
}

// Clone returns a deep copy of the entity.
func (e *Entity) Clone() *Entity {
	c := &Entity{ID: e.ID, Type: e.Type, Bundle: e.Bundle, Fields: make(map[string]FieldValue, len(e.Fields))}
	for name, fv := range e.Fields {
		cp := make(FieldValue, len(fv))
		for i, it := range fv {
			cp[i] = make(Item, len(it))
			for k, v := range it {
				cp[i][k] = v
			}
		}
		c.Fields[name] = cp
	}
	return c
}

// Violation is a single entity validation failure.
type Violation struct {
	Path    string // Field name the violation applies to
	Value   string // The offending value
	Message string // Human-readable message
}

func (v Violation) Error() string {
	if v.Path != "" {
		return v.Path + ": " + v.Message
	}
	return v.Message
}

// Coordinates is a geocoded position.
type Coordinates struct {
	Lat float64
	Lon float64
}

func (c Coordinates) format() (string, string) {
	return strconv.FormatFloat(c.Lat, 'f', -1, 64), strconv.FormatFloat(c.Lon, 'f', -1, 64)
}

// WithCoordinates returns a copy of the address value carrying lat/lon.
func WithCoordinates(fv FieldValue, c Coordinates) FieldValue {
	if len(fv) == 0 {
		return fv
	}
	lat, lon := c.format()
	out := make(FieldValue, len(fv))
	for i, it := range fv {
		cp := make(Item, len(it)+2)
		for k, v := range it {
			cp[k] = v
		}
		cp[PropLat] = lat
		cp[PropLon] = lon
		out[i] = cp
	}
	return out
}
