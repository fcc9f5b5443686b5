// Package codec converts between ordered rows of named cells and CSV lines.
package codec

import (
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strings"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// Row is an ordered mapping from column name to cell value. Order matters
// only when a row is encoded without an explicit header list.
type Row struct {
	keys   []string
	values map[string]string
}

// NewRow creates an empty row.
func NewRow() *Row {
	return &Row{values: make(map[string]string)}
}

// Set stores a cell, keeping the position of an existing key.
func (r *Row) Set(key, value string) {
	if r.values == nil {
		r.values = make(map[string]string)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Get returns a cell. The second result is false for a missing column.
func (r *Row) Get(key string) (string, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Value returns a cell, or the empty string for a missing column.
func (r *Row) Value(key string) string {
	return r.values[key]
}

// Keys returns the column names in insertion order.
func (r *Row) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of cells.
func (r *Row) Len() int {
	return len(r.keys)
}

// Values returns the cells in insertion order.
func (r *Row) Values() []string {
	out := make([]string, len(r.keys))
	for i, k := range r.keys {
		out[i] = r.values[k]
	}
	return out
}

// NormalizeSpace collapses every run of whitespace to a single space.
func NormalizeSpace(s string) string {
	return whitespaceRun.ReplaceAllString(s, " ")
}

// Escape prepares one cell for output: whitespace runs collapse to one
// space, and values containing a comma, semicolon or double quote are
// wrapped in double quotes with internal quotes doubled.
func Escape(v string) string {
	v = NormalizeSpace(v)
	if strings.ContainsAny(v, `,;"`) {
		return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
	}
	return v
}

// EncodeRow renders the row as one CSV line with one cell per header, in
// header order. Missing cells render empty.
func EncodeRow(row *Row, headers []string) string {
	cells := make([]string, len(headers))
	for i, h := range headers {
		cells[i] = Escape(row.Value(h))
	}
	return strings.Join(cells, ",")
}

// EncodeHeader renders the header line.
func EncodeHeader(headers []string) string {
	cells := make([]string, len(headers))
	for i, h := range headers {
		cells[i] = Escape(h)
	}
	return strings.Join(cells, ",")
}

// DecodeRow parses one CSV record and zips it with headers. Headers beyond
// the record's last cell are left missing; extra cells are dropped.
func DecodeRow(line string, headers []string) (*Row, error) {
	record, err := ParseRecord(line)
	if err != nil {
		return nil, err
	}
	return Zip(headers, record), nil
}

// ParseRecord parses one CSV record with RFC 4180 quoting.
func ParseRecord(line string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	record, err := r.Read()
	if err == io.EOF {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("parse record: %w", err)
	}
	return record, nil
}

// Zip pairs headers with cells positionally.
func Zip(headers, cells []string) *Row {
	row := NewRow()
	for i, h := range headers {
		if i >= len(cells) {
			break
		}
		row.Set(h, cells[i])
	}
	return row
}

// EqualHeaders reports whether got matches want exactly: same names in the
// same order.
func EqualHeaders(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
