package core

import (
	"fmt"
	"sort"
	"sync"
)

// MaxDepth bounds every recursive walk over nested references.
const MaxDepth = 8

// Blacklist holds the fields excluded from positional import/export mapping.
var Blacklist = []string{
	"id",
	"uuid",
	"revision_id",
	"langcode",
	"user_id",
	"created",
	"changed",
	"status",
}

// baseFields are prepended to every registered schema.
var baseFields = func() []FieldDef {
	defs := make([]FieldDef, len(Blacklist))
	for i, name := range Blacklist {
		defs[i] = FieldDef{Name: name, Kind: KindMeta}
	}
	return defs
}()

// IsBlacklisted reports whether a field is excluded from positional mapping.
func IsBlacklisted(name string) bool {
	for _, b := range Blacklist {
		if b == name {
			return true
		}
	}
	return false
}

// Registry maps descriptors to their schemas. It replaces runtime schema
// discovery: every parser resolves field lists through it.
type Registry struct {
	mu      sync.RWMutex
	schemas map[Descriptor]Schema
}

// NewRegistry creates a registry holding the built-in domain schemas.
func NewRegistry() *Registry {
	r := &Registry{schemas: make(map[Descriptor]Schema)}
	for _, s := range builtinSchemas() {
		r.Register(s)
	}
	return r
}

// Register adds a schema to the registry.
// Panics if a schema with the same descriptor is already registered.
func (r *Registry) Register(s Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schemas[s.Descriptor]; exists {
		panic(fmt.Sprintf("schema already registered: %s", s.Descriptor))
	}
	r.schemas[s.Descriptor] = withBaseFields(s)
}

// Put adds or replaces a schema. Used for bundles derived from stored
// configuration (result types, data types) that may change between runs.
func (r *Registry) Put(s Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[s.Descriptor] = withBaseFields(s)
}

// Get returns the schema for a descriptor. A bundle without its own schema
// falls back to the type-level schema.
func (r *Registry) Get(d Descriptor) (Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.schemas[d]; ok {
		return s, true
	}
	s, ok := r.schemas[Descriptor{Type: d.Type}]
	if ok {
		s.Descriptor = d
	}
	return s, ok
}

// Fields returns the descriptor's fields minus the blacklist, in declaration order.
func (r *Registry) Fields(d Descriptor) ([]FieldDef, error) {
	s, ok := r.Get(d)
	if !ok {
		return nil, fmt.Errorf("unknown entity type %s", d)
	}
	fields := make([]FieldDef, 0, len(s.Fields))
	for _, f := range s.Fields {
		if f.Kind == KindMeta || IsBlacklisted(f.Name) {
			continue
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// FieldNames returns the names of Fields(d).
func (r *Registry) FieldNames(d Descriptor) ([]string, error) {
	fields, err := r.Fields(d)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names, nil
}

// All returns all registered schemas sorted by type then bundle.
func (r *Registry) All() []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Schema, 0, len(r.schemas))
	for _, s := range r.schemas {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Descriptor.Type != result[j].Descriptor.Type {
			return result[i].Descriptor.Type < result[j].Descriptor.Type
		}
		return result[i].Descriptor.Bundle < result[j].Descriptor.Bundle
	})
	return result
}

func withBaseFields(s Schema) Schema {
	fields := make([]FieldDef, 0, len(baseFields)+len(s.Fields))
	fields = append(fields, baseFields...)
	for _, f := range s.Fields {
		if IsBlacklisted(f.Name) {
			continue
		}
		fields = append(fields, f)
	}
	s.Fields = fields
	return s
}
