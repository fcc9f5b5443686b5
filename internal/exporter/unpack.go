package exporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/JonMunkholm/activism/internal/core"
)

// Address column labels.
const (
	LabelAddress     = "Address"
	LabelAddressInfo = "Address extra information"
	LabelLatitude    = "Latitude"
	LabelLongitude   = "Longitude"
)

// DefaultIgnore lists the fields left out of every export.
var DefaultIgnore = []string{core.EventImport, core.EventExternalUID}

// ErrTooDeep is returned when nested references exceed core.MaxDepth.
var ErrTooDeep = errors.New("reference nesting too deep")

// cells collects the values observed under each label before collapsing.
type cells struct {
	keys   []string
	values map[string][]string
}

func newCells() *cells {
	return &cells{values: make(map[string][]string)}
}

func (c *cells) add(label string, values ...string) {
	if _, ok := c.values[label]; !ok {
		c.keys = append(c.keys, label)
	}
	c.values[label] = append(c.values[label], values...)
}

// collapse reduces every label to one cell.
func (c *cells) collapse() map[string]string {
	row := make(map[string]string, len(c.keys))
	for _, k := range c.keys {
		row[k] = Collapse(c.values[k])
	}
	return row
}

// Collapse reduces the values of one label to a single cell. Numeric values
// are summed; otherwise the values are comma-joined without duplicates.
// Empty values are ignored.
func Collapse(values []string) string {
	var present []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			present = append(present, v)
		}
	}
	if len(present) == 0 {
		return ""
	}
	if len(present) == 1 {
		return present[0]
	}

	sum := 0.0
	numeric := true
	for _, v := range present {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			numeric = false
			break
		}
		sum += n
	}
	if numeric {
		return strconv.FormatFloat(sum, 'f', -1, 64)
	}

	joined := ""
	for _, v := range present {
		if joined != "" && containsPart(joined, v) {
			continue
		}
		if joined == "" {
			joined = v
		} else {
			joined += ", " + v
		}
	}
	return joined
}

func containsPart(joined, v string) bool {
	for _, part := range strings.Split(joined, ",") {
		if strings.TrimSpace(part) == v {
			return true
		}
	}
	return false
}

// Nest prefixes a child label with its parent's. Coinciding labels are
// kept as one.
func Nest(parent, child string) string {
	if parent == "" || parent == child {
		return child
	}
	return parent + " - " + child
}

// unpacker flattens an entity graph into labelled cells.
type unpacker struct {
	registry    *core.Registry
	store       core.EntityStore
	resultTypes core.ResultTypeResolver
	ignore      map[string]bool
	logger      *slog.Logger
}

// unpack walks every non-blacklisted field of e. Value fields map to their
// label, address fields expand into four columns, references to labelled
// entities collapse to the label and other references recurse with their
// schema label as prefix.
func (u *unpacker) unpack(ctx context.Context, e *core.Entity, depth int) (*cells, error) {
	if depth > core.MaxDepth {
		return nil, fmt.Errorf("%s %s: %w", e.Descriptor(), e.ID, ErrTooDeep)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s, err := u.schema(ctx, e)
	if err != nil {
		return nil, err
	}
	out := newCells()
	for _, f := range s.Fields {
		if f.Kind == core.KindMeta || core.IsBlacklisted(f.Name) || u.ignore[f.Name] {
			continue
		}
		v := e.Get(f.Name)
		switch f.Kind {
		case core.KindAddress:
			for _, it := range v {
				out.add(LabelAddress, it[core.PropAddress])
				out.add(LabelAddressInfo, it[core.PropExtra])
				out.add(LabelLatitude, it[core.PropLat])
				out.add(LabelLongitude, it[core.PropLon])
			}
		case core.KindReference:
			if err := u.reference(ctx, out, f, v, depth); err != nil {
				return nil, err
			}
		case core.KindDateTime:
			for _, it := range v {
				out.add(f.Label, exportDate(it[core.PropValue]))
			}
		default:
			for _, it := range v {
				out.add(f.Label, it[core.PropValue])
			}
		}
	}
	return out, nil
}

func (u *unpacker) reference(ctx context.Context, out *cells, f core.FieldDef, v core.FieldValue, depth int) error {
	for _, id := range v.TargetIDs() {
		target, err := u.store.Load(ctx, f.Target.Type, id)
		if err != nil {
			if core.IsNotFound(err) {
				u.logger.Warn("export skipped missing reference", "field", f.Name, "id", id)
				continue
			}
			return fmt.Errorf("load %s %s: %w", f.Target.Type, id, err)
		}
		s, err := u.schema(ctx, target)
		if err != nil {
			return err
		}
		if s.LabelField != "" {
			out.add(f.Label, target.Value(s.LabelField))
			continue
		}

		child, err := u.unpack(ctx, target, depth+1)
		if err != nil {
			return err
		}
		parent := s.Label
		if parent == "" {
			parent = f.Label
		}
		for _, k := range child.keys {
			out.add(Nest(parent, k), child.values[k]...)
		}
	}
	return nil
}

// schema returns the entity's schema, registering the bundle of a result
// before it is read.
func (u *unpacker) schema(ctx context.Context, e *core.Entity) (core.Schema, error) {
	if e.Type == core.TypeResult && u.resultTypes != nil {
		if id := e.TargetID(core.ResultTypeField); id != "" {
			if _, err := u.resultTypes.ResultTypeByID(ctx, id); err != nil && !core.IsNotFound(err) {
				return core.Schema{}, fmt.Errorf("resolve result type: %w", err)
			}
		}
	}
	s, ok := u.registry.Get(e.Descriptor())
	if !ok {
		return core.Schema{}, fmt.Errorf("unknown entity type %s", e.Descriptor())
	}
	return s, nil
}

// exportDate renders a stored datetime in the import format so exported
// files can be edited and imported again.
func exportDate(s string) string {
	t, ok := core.ParseStorageDate(s)
	if !ok {
		return s
	}
	return t.Format(core.ImportDateLayout)
}

func ignoreSet(fields []string) map[string]bool {
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
