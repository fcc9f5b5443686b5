package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/JonMunkholm/activism/internal/codec"
	"github.com/JonMunkholm/activism/internal/core"
	"github.com/JonMunkholm/activism/internal/entity"
)

const header = "start_date,end_date,address,address_extra_information,title,description,results"

func newCSV(t *testing.T, f *fixture, content string, opts ...Option) *CSVParser {
	t.Helper()
	p, err := NewCSVParser(BytesOpener([]byte(content)), f.ic, f.adapter, f.validator, opts...)
	if err != nil {
		t.Fatalf("NewCSVParser() error = %v", err)
	}
	return p
}

func parserKind(t *testing.T, err error) *core.ParserError {
	t.Helper()
	var pe *core.ParserError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want *core.ParserError", err)
	}
	return pe
}

func TestCSVParser_HeaderExactness(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"reordered", "end_date,start_date,address,address_extra_information,title,description,results"},
		{"missing column", "start_date,end_date,address,title,description,results"},
		{"extra column", header + ",notes"},
		{"capitalized", "Start_date,end_date,address,address_extra_information,title,description,results"},
		{"empty file", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			p := newCSV(t, f, tt.header+"\n")
			if p.Validate(context.Background()) {
				t.Fatal("Validate() = true, want false")
			}
			if pe := parserKind(t, p.Err()); pe.Kind != core.InvalidHeaders {
				t.Errorf("kind = %s, want INVALID_HEADERS", pe.Kind)
			}
			if p.State() != StateInvalid {
				t.Errorf("State() = %s, want invalid", p.State())
			}
			if p.ErrorMessage() == "" {
				t.Error("ErrorMessage() is empty")
			}
		})
	}
}

func TestCSVParser_BOMIsStripped(t *testing.T) {
	f := newFixture(t)
	p := newCSV(t, f, "\xEF\xBB\xBF"+header+"\n")
	if !p.Validate(context.Background()) {
		t.Errorf("Validate() = false: %s", p.ErrorMessage())
	}
}

func TestCSVParser_InvalidDate(t *testing.T) {
	f := newFixture(t)
	content := header + "\n" +
		"2024-01-01 10:00,2024-01-01 12:00,,,Tabling event,,\n" +
		"2024-01-01 25:00,2024-01-01 12:00,,,Late event,,\n"
	p := newCSV(t, f, content)

	if p.Validate(context.Background()) {
		t.Fatal("Validate() = true, want false")
	}
	pe := parserKind(t, p.Err())
	if pe.Kind != core.InvalidDate {
		t.Errorf("kind = %s, want INVALID_DATE", pe.Kind)
	}
	if pe.Line != 3 || pe.Column != 1 {
		t.Errorf("position = line %d, column %d; want line 3, column 1", pe.Line, pe.Column)
	}
	if pe.Value != "2024-01-01 25:00" {
		t.Errorf("value = %q", pe.Value)
	}
	if !strings.Contains(p.ErrorMessage(), "Line 3, column 1") {
		t.Errorf("ErrorMessage() = %q", p.ErrorMessage())
	}
}

func TestCSVParser_ValidateRows(t *testing.T) {
	tests := []struct {
		name     string
		row      string
		wantKind core.ErrorKind
		wantCol  int
	}{
		{
			name:     "result with four fields",
			row:      "2024-01-01 10:00,2024-01-01 12:00,,,t,,leafleting|3|60|0",
			wantKind: core.InvalidResult,
			wantCol:  7,
		},
		{
			name:     "result with one field",
			row:      "2024-01-01 10:00,2024-01-01 12:00,,,t,,leafleting",
			wantKind: core.InvalidResult,
			wantCol:  7,
		},
		{
			name:     "unknown result type",
			row:      "2024-01-01 10:00,2024-01-01 12:00,,,t,,petitioning|3|60|0|0",
			wantKind: core.InvalidResult,
			wantCol:  7,
		},
		{
			name:     "result type of another group",
			row:      "2024-01-01 10:00,2024-01-01 12:00,,,t,,canvassing|3|60|0|0",
			wantKind: core.InvalidResult,
			wantCol:  7,
		},
		{
			name:     "non-numeric data",
			row:      "2024-01-01 10:00,2024-01-01 12:00,,,t,,leafleting|3|60|0|0|many",
			wantKind: core.InvalidData,
			wantCol:  7,
		},
		{
			name:     "too many result fields",
			row:      "2024-01-01 10:00,2024-01-01 12:00,,,t,,leafleting|3|60|0|0|5|x|y",
			wantKind: core.InvalidResult,
			wantCol:  7,
		},
		{
			name:     "unknown address",
			row:      "2024-01-01 10:00,2024-01-01 12:00,Rådhuspladsen,,t,,",
			wantKind: core.InvalidLocation,
			wantCol:  3,
		},
		{
			name:     "end before start",
			row:      "2024-01-01 12:00,2024-01-01 10:00,,,t,,",
			wantKind: core.InvalidEvent,
		},
		{
			name:     "start without end",
			row:      "2024-01-01 12:00,,,,t,,",
			wantKind: core.InvalidEvent,
		},
		{
			name:     "short row",
			row:      "2024-01-01 12:00,2024-01-01 14:00,,,t",
			wantKind: core.WrongRowCount,
		},
		{
			name:     "malformed end date",
			row:      "2024-01-01 10:00,01/01/2024 12:00,,,t,,",
			wantKind: core.InvalidDate,
			wantCol:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			p := newCSV(t, f, header+"\n"+tt.row+"\n")
			if p.Validate(context.Background()) {
				t.Fatal("Validate() = true, want false")
			}
			pe := parserKind(t, p.Err())
			if pe.Kind != tt.wantKind {
				t.Errorf("kind = %s, want %s (%v)", pe.Kind, tt.wantKind, pe)
			}
			if pe.Line != 2 {
				t.Errorf("line = %d, want 2", pe.Line)
			}
			if tt.wantCol != 0 && pe.Column != tt.wantCol {
				t.Errorf("column = %d, want %d", pe.Column, tt.wantCol)
			}
		})
	}
}

func TestCSVParser_LocationSuggestions(t *testing.T) {
	f := newFixture(t)
	p := newCSV(t, f, header+"\n2024-01-01 10:00,2024-01-01 12:00,Rådhuspladsen,,t,,\n")
	p.Validate(context.Background())

	pe := parserKind(t, p.Err())
	if len(pe.Suggestions) != 1 || pe.Suggestions[0] != knownAddress {
		t.Errorf("Suggestions = %v, want [%s]", pe.Suggestions, knownAddress)
	}
	if !strings.Contains(p.ErrorMessage(), knownAddress) {
		t.Errorf("ErrorMessage() = %q, want suggestion", p.ErrorMessage())
	}
}

func TestCSVParser_PermissionDenied(t *testing.T) {
	f := newFixture(t)
	p := newCSV(t, f, header+"\n", WithAuthorizer(denyAll{}))
	if p.Validate(context.Background()) {
		t.Fatal("Validate() = true, want false")
	}
	if pe := parserKind(t, p.Err()); pe.Kind != core.PermissionDenied {
		t.Errorf("kind = %s, want PERMISSION_DENIED", pe.Kind)
	}
}

func TestCSVParser_TablingEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	content := header + "\n" + `2024-01-01 10:00,2024-01-01 12:00,,,"Tabling event","Handed out flyers",` + "\n"
	p := newCSV(t, f, content)

	if !p.Validate(ctx) {
		t.Fatalf("Validate() = false: %s", p.ErrorMessage())
	}
	if p.ItemCount() != 2 {
		t.Errorf("ItemCount() = %d, want 2 (header included)", p.ItemCount())
	}

	sandbox := map[string]string{}
	rows, err := p.NextBatch(ctx, 0)
	if err != nil {
		t.Fatalf("NextBatch() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("NextBatch() returned %d rows, want 1", len(rows))
	}
	id, err := p.ProcessItem(ctx, rows[0], sandbox)
	if err != nil {
		t.Fatalf("ProcessItem() error = %v", err)
	}

	events, _ := f.store.Query(ctx, core.Query{Type: core.TypeEvent})
	if len(events) != 1 {
		t.Fatalf("event count = %d, want 1", len(events))
	}
	e := events[0]
	if e.ID != id {
		t.Errorf("ProcessItem() id = %q, want %q", id, e.ID)
	}
	if got := e.Value(core.EventTitle); got != "Tabling event" {
		t.Errorf("title = %q", got)
	}
	if got := e.Value(core.EventDescription); got != "Handed out flyers" {
		t.Errorf("description = %q", got)
	}
	if got := e.Value(core.EventStartDate); got != "2024-01-01T10:00:00" {
		t.Errorf("start_date = %q", got)
	}
	if len(e.Get(core.EventResults)) != 0 {
		t.Errorf("results = %v, want none", e.Get(core.EventResults))
	}
	if e.TargetID(core.EventImport) != "import-1" {
		t.Errorf("import = %q", e.TargetID(core.EventImport))
	}
	if f.store.Count(core.TypeResult) != 0 {
		t.Error("a result was created")
	}
	if sandbox[LatestEventKey] != id {
		t.Errorf("sandbox latest event = %q, want %q", sandbox[LatestEventKey], id)
	}
}

func TestCSVParser_BareResultAttachesToLatestEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	content := header + "\n" +
		`2024-01-01 10:00,2024-01-01 12:00,"` + knownAddress + `",,Tabling,,leafleting|2|120|||300` + "\n" +
		`,,,,,,leafleting|1|60|||150` + "\n"
	p := newCSV(t, f, content)
	if !p.Validate(ctx) {
		t.Fatalf("Validate() = false: %s", p.ErrorMessage())
	}

	sandbox := map[string]string{}
	rows, _ := p.NextBatch(ctx, 0)
	var ids []string
	for _, row := range rows {
		id, err := p.ProcessItem(ctx, row, sandbox)
		if err != nil {
			t.Fatalf("ProcessItem() error = %v", err)
		}
		ids = append(ids, id)
	}

	if len(ids) != 2 || ids[0] != ids[1] {
		t.Fatalf("ids = %v, want the same event twice", ids)
	}
	event, _ := f.store.Load(ctx, core.TypeEvent, ids[0])
	if got := len(event.Get(core.EventResults)); got != 2 {
		t.Errorf("results = %d, want 2", got)
	}
	if got := f.store.Count(core.TypeData); got != 2 {
		t.Errorf("data points = %d, want 2", got)
	}
	loc := event.Get(core.EventLocation)
	if loc[0][core.PropAddress] != knownAddress {
		t.Errorf("address = %q", loc[0][core.PropAddress])
	}
}

// rejectEvents fails every event save.
type rejectEvents struct {
	core.EntityStore
}

var errEventSave = errors.New("disk full")

func (s rejectEvents) Save(ctx context.Context, e *core.Entity) error {
	if e.Type == core.TypeEvent {
		return errEventSave
	}
	return s.EntityStore.Save(ctx, e)
}

func TestCSVParser_FailedEventSaveLogsResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	content := header + "\n" +
		`2024-01-01 10:00,2024-01-01 12:00,"` + knownAddress + `",,Tabling,,leafleting|2|120|||300` + "\n"
	p := newCSV(t, f, content)
	if !p.Validate(ctx) {
		t.Fatalf("Validate() = false: %s", p.ErrorMessage())
	}
	rows, _ := p.NextBatch(ctx, 0)

	var buf bytes.Buffer
	store := rejectEvents{f.store}
	reg := core.NewRegistry()
	adapter := entity.New(reg, store, core.StoreResultTypes{Store: store, Registry: reg}, core.StoreTerms{Store: store})
	failing := &CSVParser{open: p.open, ic: f.ic, adapter: adapter, validator: f.validator,
		opts: buildOptions([]Option{WithLogger(slog.New(slog.NewTextHandler(&buf, nil)))})}

	if _, err := failing.ProcessItem(ctx, rows[0], map[string]string{}); !errors.Is(err, errEventSave) {
		t.Fatalf("ProcessItem() error = %v, want the save error", err)
	}
	results, _ := f.store.Query(ctx, core.Query{Type: core.TypeResult})
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1 unreferenced result", len(results))
	}
	out := buf.String()
	if !strings.Contains(out, "result left unreferenced") || !strings.Contains(out, results[0].ID) {
		t.Errorf("log = %q, want a warning naming result %s", out, results[0].ID)
	}
}

func TestCSVParser_BareResultWithoutEventIsIgnored(t *testing.T) {
	f := newFixture(t)
	p := newCSV(t, f, header+"\n,,,,,,leafleting|1|60||\n")
	rows, _ := p.NextBatch(context.Background(), 0)

	id, err := p.ProcessItem(context.Background(), rows[0], map[string]string{})
	if err != nil || id != "" {
		t.Errorf("ProcessItem() = %q, %v; want empty id", id, err)
	}
	if f.store.Count(core.TypeResult) != 0 {
		t.Error("a result was created without an event")
	}
}

func TestCSVParser_Batches(t *testing.T) {
	f := newFixture(t)
	var b strings.Builder
	b.WriteString(header + "\n")
	for i := 0; i < 7; i++ {
		fmt.Fprintf(&b, "2024-01-%02d 10:00,2024-01-%02d 12:00,,,Event %d,,\n", i+1, i+1, i)
	}
	p := newCSV(t, f, b.String(), WithBatchSize(3))

	if p.ItemCount() != 8 {
		t.Errorf("ItemCount() = %d, want 8", p.ItemCount())
	}

	var titles []string
	calls := drain(t, p.ItemCount(), p.BatchSize(),
		func(pos int) ([]*codec.Row, error) { return p.NextBatch(context.Background(), pos) },
		func(row *codec.Row) error {
			titles = append(titles, row.Value(ColTitle))
			return nil
		})

	if calls != 3 {
		t.Errorf("batch calls = %d, want 3", calls)
	}
	if len(titles) != 7 || titles[0] != "Event 0" || titles[6] != "Event 6" {
		t.Errorf("titles = %v", titles)
	}
}
