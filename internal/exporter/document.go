package exporter

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/activism/internal/codec"
)

// PriorityHeader lists the columns that lead every export, in order.
var PriorityHeader = []string{
	"Group",
	"Start date",
	"End date",
	LabelAddress,
	LabelAddressInfo,
	LabelLatitude,
	LabelLongitude,
	"Title",
	"Description",
}

// LineSeparator terminates every exported line.
const LineSeparator = "\n"

// Document accumulates exported rows.
type Document struct {
	rows []map[string]string
}

// NewDocument creates a document holding rows.
func NewDocument(rows ...map[string]string) *Document {
	d := &Document{}
	for _, r := range rows {
		d.Add(r)
	}
	return d
}

// Add appends a row.
func (d *Document) Add(row map[string]string) {
	if row == nil {
		return
	}
	d.rows = append(d.rows, row)
}

// Len returns the number of rows.
func (d *Document) Len() int { return len(d.rows) }

// Header returns the priority columns followed by every other observed
// column in alphabetical order.
func (d *Document) Header() []string {
	priority := make(map[string]bool, len(PriorityHeader))
	for _, h := range PriorityHeader {
		priority[h] = true
	}
	rest := make(map[string]bool)
	for _, row := range d.rows {
		for k := range row {
			if !priority[k] {
				rest[k] = true
			}
		}
	}

	header := make([]string, 0, len(PriorityHeader)+len(rest))
	header = append(header, PriorityHeader...)
	return append(header, sortedKeys(rest)...)
}

// Rows returns the rows re-ordered to the header. Missing cells are empty.
func (d *Document) Rows(header []string) []*codec.Row {
	out := make([]*codec.Row, len(d.rows))
	for i, r := range d.rows {
		row := codec.NewRow()
		for _, h := range header {
			row.Set(h, r[h])
		}
		out[i] = row
	}
	return out
}

// String renders the document as CSV text.
func (d *Document) String() string {
	var b strings.Builder
	_ = d.WriteCSV(&b)
	return b.String()
}

// WriteCSV writes the header line then one line per row.
func (d *Document) WriteCSV(w io.Writer) error {
	header := d.Header()
	if _, err := io.WriteString(w, codec.EncodeHeader(header)+LineSeparator); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range d.Rows(header) {
		if _, err := io.WriteString(w, codec.EncodeRow(row, header)+LineSeparator); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	return nil
}

// SheetName is the worksheet holding an XLSX export.
const SheetName = "Events"

// WriteXLSX writes the document as a single-sheet workbook.
func (d *Document) WriteXLSX(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(SheetName)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})

	header := d.Header()
	for i, h := range header {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		f.SetCellValue(SheetName, cell, h)
		f.SetCellStyle(SheetName, cell, cell, headerStyle)
	}

	for r, row := range d.Rows(header) {
		for c, v := range row.Values() {
			if v == "" {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return err
			}
			f.SetCellValue(SheetName, cell, v)
		}
	}

	f.DeleteSheet("Sheet1")
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
