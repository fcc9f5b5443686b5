package postgres

import (
	"strings"
	"testing"

	"github.com/JonMunkholm/activism/internal/core"
)

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name     string
		q        core.Query
		wantSQL  []string
		wantArgs int
	}{
		{
			name:     "type only",
			q:        core.Query{Type: core.TypeEvent},
			wantSQL:  []string{"WHERE type = $1", "ORDER BY seq"},
			wantArgs: 1,
		},
		{
			name:     "bundle and limit",
			q:        core.Query{Type: core.TypeTerm, Bundle: "topics", Limit: 1},
			wantSQL:  []string{"AND bundle = $2", "LIMIT $3"},
			wantArgs: 3,
		},
		{
			name: "conditions",
			q: core.Query{Type: core.TypeEvent, Conditions: []core.Condition{
				{Field: core.EventParent, Value: "g1"},
				{Field: core.EventExternalUID, Value: "uid-1"},
			}},
			wantSQL: []string{
				"fields -> $2::text @> $3::jsonb OR fields -> $2::text @> $4::jsonb",
				"fields -> $5::text @> $6::jsonb OR fields -> $5::text @> $7::jsonb",
			},
			wantArgs: 7,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := buildQuery(tt.q)
			if err != nil {
				t.Fatalf("buildQuery() error = %v", err)
			}
			for _, want := range tt.wantSQL {
				if !strings.Contains(sql, want) {
					t.Errorf("sql = %q, missing %q", sql, want)
				}
			}
			if len(args) != tt.wantArgs {
				t.Errorf("args = %d, want %d", len(args), tt.wantArgs)
			}
		})
	}
}

func TestBuildQuery_ConditionArgs(t *testing.T) {
	_, args, err := buildQuery(core.Query{
		Type:       core.TypeEvent,
		Conditions: []core.Condition{{Field: core.EventParent, Value: "g1"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := string(args[2].([]byte)); got != `[{"value":"g1"}]` {
		t.Errorf("value arg = %s", got)
	}
	if got := string(args[3].([]byte)); got != `[{"target_id":"g1"}]` {
		t.Errorf("target arg = %s", got)
	}
}

func TestBuildQuery_RequiresType(t *testing.T) {
	if _, _, err := buildQuery(core.Query{}); err == nil {
		t.Error("buildQuery() without type succeeded")
	}
}

func TestDecode(t *testing.T) {
	e, err := decode("e1", core.TypeEvent, "", []byte(`{"title":[{"value":"Tabling"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if e.Value(core.EventTitle) != "Tabling" || e.ID != "e1" {
		t.Errorf("decode() = %+v", e)
	}
	if _, err := decode("e1", core.TypeEvent, "", []byte(`not json`)); err == nil {
		t.Error("decode() of invalid JSON succeeded")
	}
}
