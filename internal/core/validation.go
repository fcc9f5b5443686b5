package core

// validation.go provides entity-level validation against registered schemas.
//
// Validation checks, per field:
//  1. Required fields carry a non-empty item
//  2. Single-valued fields carry at most one item
//  3. Datetime, numeric and reference items are well formed
//
// Schema constraints run last and may span several fields. Callers that
// validate sub-entities separately pass those field names as excluded paths.

import (
	"fmt"
	"sort"
	"strconv"
)

// Validate checks the entity against its schema and returns all violations.
func (r *Registry) Validate(e *Entity, excluded ...string) []Violation {
	s, ok := r.Get(e.Descriptor())
	if !ok {
		return []Violation{{Message: fmt.Sprintf("unknown entity type %s", e.Descriptor())}}
	}

	skip := make(map[string]bool, len(excluded))
	for _, name := range excluded {
		skip[name] = true
	}

	var violations []Violation
	add := func(v Violation) {
		if !skip[v.Path] {
			violations = append(violations, v)
		}
	}

	known := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		known[f.Name] = true
		if f.Kind == KindMeta {
			continue
		}
		for _, v := range validateField(f, e.Get(f.Name)) {
			add(v)
		}
	}

	// Report unknown fields in a stable order
	var unknown []string
	for name := range e.Fields {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		add(Violation{Path: name, Message: "unknown field"})
	}

	for _, c := range s.Constraints {
		for _, v := range c(e) {
			add(v)
		}
	}

	return violations
}

func validateField(f FieldDef, fv FieldValue) []Violation {
	if fv.IsEmpty() {
		if f.Required {
			return []Violation{{Path: f.Name, Message: "required field is empty"}}
		}
		return nil
	}

	var violations []Violation
	if !f.Multiple && len(fv) > 1 {
		violations = append(violations, Violation{Path: f.Name, Message: "only one value allowed"})
	}

	for _, it := range fv {
		switch f.Kind {
		case KindDateTime:
			if _, ok := ParseStorageDate(it[PropValue]); !ok {
				violations = append(violations, Violation{Path: f.Name, Value: it[PropValue], Message: "invalid date"})
			}
		case KindReference:
			if it[PropTargetID] == "" {
				violations = append(violations, Violation{Path: f.Name, Message: "invalid reference"})
			}
		case KindAddress:
			if it[PropAddress] == "" && it[PropExtra] == "" {
				violations = append(violations, Violation{Path: f.Name, Message: "empty address"})
			}
		default:
			if f.Numeric {
				if _, err := strconv.ParseFloat(it[PropValue], 64); err != nil {
					violations = append(violations, Violation{Path: f.Name, Value: it[PropValue], Message: "invalid number"})
				}
			}
		}
	}
	return violations
}
