package core

import (
	"reflect"
	"strings"
	"testing"
)

func testResultType() ResultType {
	return ResultType{
		ID:             "rt-1",
		ImportName:     "leafleting",
		Label:          "Leafleting",
		OrganizationID: "org-1",
		DataTypes: []DataType{
			{ID: "dt-1", ImportName: "leaflets", Label: "Leaflets"},
			{ID: "dt-2", ImportName: "signatures", Label: "Signatures"},
		},
		Vocabulary: "topics",
	}
}

func TestRegistry_FieldsSkipBlacklist(t *testing.T) {
	reg := NewRegistry()

	got, err := reg.FieldNames(Event)
	if err != nil {
		t.Fatalf("FieldNames() error = %v", err)
	}
	want := []string{
		EventStartDate, EventEndDate, EventLocation, EventTitle, EventDescription,
		EventResults, EventParent, EventImport, EventExternalUID,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FieldNames(event) = %v, want %v", got, want)
	}

	// Stable across calls
	again, _ := reg.FieldNames(Event)
	if !reflect.DeepEqual(got, again) {
		t.Errorf("FieldNames(event) changed between calls: %v vs %v", got, again)
	}
}

func TestRegistry_ResultTypeSchema(t *testing.T) {
	reg := NewRegistry()
	rt := testResultType()
	reg.RegisterResultType(rt)

	got, err := reg.FieldNames(rt.Descriptor())
	if err != nil {
		t.Fatalf("FieldNames() error = %v", err)
	}
	want := []string{
		ResultTypeField, ResultParticipants, ResultDurationMinutes, ResultDurationHours, ResultDurationDays,
		"data_leaflets", "data_signatures", "tags_topics",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FieldNames(result) = %v, want %v", got, want)
	}

	data, ok := reg.Get(Descriptor{Type: TypeData, Bundle: "leaflets"})
	if !ok {
		t.Fatal("data bundle not registered")
	}
	f, _ := data.Field("value")
	if f.Label != "Leaflets" {
		t.Errorf("data value label = %q, want %q", f.Label, "Leaflets")
	}
}

func TestRegistry_GetFallsBackToType(t *testing.T) {
	reg := NewRegistry()

	s, ok := reg.Get(Term("topics"))
	if !ok {
		t.Fatal("Get(taxonomy_term:topics) not found")
	}
	if s.Descriptor != Term("topics") {
		t.Errorf("Descriptor = %v, want %v", s.Descriptor, Term("topics"))
	}
	if s.LabelField != "name" {
		t.Errorf("LabelField = %q, want %q", s.LabelField, "name")
	}
}

func TestRegistry_RegisterDuplicatePanics(t *testing.T) {
	reg := NewRegistry()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("Register() did not panic on duplicate")
		}
		if !strings.Contains(r.(string), "already registered") {
			t.Errorf("panic = %v", r)
		}
	}()
	reg.Register(Schema{Descriptor: Event})
}

func TestRegistry_UnknownDescriptor(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Fields(Descriptor{Type: "petition"}); err == nil {
		t.Error("Fields(petition) error = nil, want error")
	}
}

func TestResultType_AllowsGroup(t *testing.T) {
	open := ResultType{}
	if !open.AllowsGroup("any") {
		t.Error("unrestricted type should allow every group")
	}

	limited := ResultType{GroupIDs: []string{"g1", "g2"}}
	if !limited.AllowsGroup("g2") {
		t.Error("AllowsGroup(g2) = false, want true")
	}
	if limited.AllowsGroup("g3") {
		t.Error("AllowsGroup(g3) = true, want false")
	}
}

func TestResultType_EntityRoundTrip(t *testing.T) {
	rt := testResultType()
	rt.GroupIDs = []string{"g1"}

	got := ResultTypeFromEntity(rt.Entity(), rt.DataTypes)
	if !reflect.DeepEqual(got, rt) {
		t.Errorf("ResultTypeFromEntity() = %+v, want %+v", got, rt)
	}
}
