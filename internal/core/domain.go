package core

import (
	"strings"
	"time"
)

// Entity types.
const (
	TypeOrganization = "organization"
	TypeGroup        = "group"
	TypeEvent        = "event"
	TypeResult       = "result"
	TypeData         = "data"
	TypeTerm         = "taxonomy_term"
	TypeResultType   = "result_type"
	TypeDataType     = "data_type"
	TypeImport       = "import"
)

// Import bundles.
const (
	ImportCSV       = "csv"
	ImportICalendar = "icalendar"
)

// Event fields, in declaration order.
const (
	EventStartDate   = "start_date"
	EventEndDate     = "end_date"
	EventLocation    = "location"
	EventTitle       = "title"
	EventDescription = "description"
	EventResults     = "results"
	EventParent      = "parent"
	EventImport      = "import"
	EventExternalUID = "external_uid"
)

// Result base fields and generated field prefixes.
const (
	ResultTypeField       = "type"
	ResultParticipants    = "participant_count"
	ResultDurationMinutes = "duration_minutes"
	ResultDurationHours   = "duration_hours"
	ResultDurationDays    = "duration_days"

	DataPrefix = "data_"
	TagsPrefix = "tags_"
)

// Event is the descriptor of the event entity type.
var Event = Descriptor{Type: TypeEvent}

// Term returns the descriptor of a vocabulary's terms.
func Term(vocabulary string) Descriptor {
	return Descriptor{Type: TypeTerm, Bundle: vocabulary}
}

func builtinSchemas() []Schema {
	return []Schema{
		{
			Descriptor: Descriptor{Type: TypeOrganization},
			Label:      "Organization",
			LabelField: "title",
			Fields: []FieldDef{
				{Name: "title", Label: "Title", Required: true},
			},
		},
		{
			Descriptor: Descriptor{Type: TypeGroup},
			Label:      "Group",
			LabelField: "title",
			Fields: []FieldDef{
				{Name: "title", Label: "Title", Required: true},
				{Name: "organization", Label: "Organization", Kind: KindReference, Target: Descriptor{Type: TypeOrganization}, Required: true},
			},
		},
		{
			Descriptor: Event,
			Label:      "Event",
			LabelField: EventTitle,
			Fields: []FieldDef{
				{Name: EventStartDate, Label: "Start date", Kind: KindDateTime, Required: true},
				{Name: EventEndDate, Label: "End date", Kind: KindDateTime, Required: true},
				{Name: EventLocation, Label: "Address", Kind: KindAddress},
				{Name: EventTitle, Label: "Title"},
				{Name: EventDescription, Label: "Description"},
				{Name: EventResults, Label: "Results", Kind: KindReference, Target: Descriptor{Type: TypeResult}, Multiple: true},
				{Name: EventParent, Label: "Group", Kind: KindReference, Target: Descriptor{Type: TypeGroup}, Required: true},
				{Name: EventImport, Label: "Import", Kind: KindReference, Target: Descriptor{Type: TypeImport}},
				{Name: EventExternalUID, Label: "External ID"},
			},
			Constraints: []Constraint{endAfterStart},
		},
		{
			Descriptor: Descriptor{Type: TypeResult},
			Label:      "Result",
			Fields:     resultBaseFields(),
		},
		{
			Descriptor: Descriptor{Type: TypeData},
			Label:      "Data",
			Fields: []FieldDef{
				{Name: "value", Label: "Value", Required: true, Numeric: true},
			},
		},
		{
			Descriptor: Descriptor{Type: TypeTerm},
			Label:      "Term",
			LabelField: "name",
			Fields: []FieldDef{
				{Name: "name", Label: "Name", Required: true},
			},
		},
		{
			Descriptor: Descriptor{Type: TypeResultType},
			Label:      "Result type",
			LabelField: "label",
			Fields: []FieldDef{
				{Name: "label", Label: "Label", Required: true},
				{Name: "import_name", Label: "Import name", Required: true},
				{Name: "organization", Label: "Organization", Kind: KindReference, Target: Descriptor{Type: TypeOrganization}, Required: true},
				{Name: "groups", Label: "Groups", Kind: KindReference, Target: Descriptor{Type: TypeGroup}, Multiple: true},
				{Name: "datatypes", Label: "Data types", Kind: KindReference, Target: Descriptor{Type: TypeDataType}, Multiple: true},
				{Name: "vocabulary", Label: "Tags vocabulary"},
			},
		},
		{
			Descriptor: Descriptor{Type: TypeDataType},
			Label:      "Data type",
			LabelField: "label",
			Fields: []FieldDef{
				{Name: "label", Label: "Label", Required: true},
				{Name: "import_name", Label: "Import name", Required: true},
				{Name: "organization", Label: "Organization", Kind: KindReference, Target: Descriptor{Type: TypeOrganization}},
			},
		},
		{
			Descriptor: Descriptor{Type: TypeImport},
			Label:      "Import",
			LabelField: "source",
			Fields: []FieldDef{
				{Name: "parent", Label: "Group", Kind: KindReference, Target: Descriptor{Type: TypeGroup}, Required: true},
				{Name: "source", Label: "Source", Required: true},
			},
		},
	}
}

func resultBaseFields() []FieldDef {
	return []FieldDef{
		{Name: ResultTypeField, Label: "Type", Kind: KindReference, Target: Descriptor{Type: TypeResultType}, Required: true},
		{Name: ResultParticipants, Label: "Participant count", Numeric: true, Required: true},
		{Name: ResultDurationMinutes, Label: "Duration (minutes)", Numeric: true},
		{Name: ResultDurationHours, Label: "Duration (hours)", Numeric: true},
		{Name: ResultDurationDays, Label: "Duration (days)", Numeric: true},
	}
}

// endAfterStart rejects events that end before they start.
func endAfterStart(e *Entity) []Violation {
	start, err1 := time.Parse(StorageLayout, e.Value(EventStartDate))
	end, err2 := time.Parse(StorageLayout, e.Value(EventEndDate))
	if err1 != nil || err2 != nil {
		return nil
	}
	if end.Before(start) {
		return []Violation{{Path: EventEndDate, Value: e.Value(EventEndDate), Message: "end date must not be before start date"}}
	}
	return nil
}

// Group is a read view of a group entity.
type Group struct {
	ID             string
	Title          string
	OrganizationID string
}

// GroupFromEntity builds a Group view.
func GroupFromEntity(e *Entity) Group {
	return Group{
		ID:             e.ID,
		Title:          e.Value("title"),
		OrganizationID: e.TargetID("organization"),
	}
}

// DataType is a kind of data point recorded on results ("leaflets", "signatures").
type DataType struct {
	ID         string
	ImportName string
	Label      string
}

// Descriptor returns the data bundle descriptor.
func (dt DataType) Descriptor() Descriptor {
	return Descriptor{Type: TypeData, Bundle: dt.ImportName}
}

// FieldName returns the result field that references this data type.
func (dt DataType) FieldName() string {
	return DataPrefix + dt.ImportName
}

// Schema returns the data bundle schema. The value field carries the data
// type's label so exports show "Leaflets" rather than "Value".
func (dt DataType) Schema() Schema {
	return Schema{
		Descriptor: dt.Descriptor(),
		Label:      dt.Label,
		Fields: []FieldDef{
			{Name: "value", Label: dt.Label, Required: true, Numeric: true},
		},
	}
}

// DataTypeFromEntity builds a DataType view.
func DataTypeFromEntity(e *Entity) DataType {
	return DataType{ID: e.ID, ImportName: e.Value("import_name"), Label: e.Value("label")}
}

// ResultType describes a kind of activity result and the data it records.
type ResultType struct {
	ID             string
	ImportName     string
	Label          string
	OrganizationID string
	GroupIDs       []string
	DataTypes      []DataType
	Vocabulary     string
}

// Descriptor returns the result bundle descriptor.
func (rt ResultType) Descriptor() Descriptor {
	return Descriptor{Type: TypeResult, Bundle: rt.ImportName}
}

// AllowsGroup reports whether results of this type may be recorded for the
// group. A type without group restrictions is available to every group.
func (rt ResultType) AllowsGroup(groupID string) bool {
	if len(rt.GroupIDs) == 0 {
		return true
	}
	for _, id := range rt.GroupIDs {
		if id == groupID {
			return true
		}
	}
	return false
}

// Schema returns the result bundle schema: base fields, one data field per
// data type, then the tags field when a vocabulary is configured.
func (rt ResultType) Schema() Schema {
	fields := resultBaseFields()
	for _, dt := range rt.DataTypes {
		fields = append(fields, FieldDef{
			Name:   dt.FieldName(),
			Label:  dt.Label,
			Kind:   KindReference,
			Target: dt.Descriptor(),
		})
	}
	if rt.Vocabulary != "" {
		fields = append(fields, FieldDef{
			Name:     TagsPrefix + rt.Vocabulary,
			Label:    "Tags",
			Kind:     KindReference,
			Target:   Term(rt.Vocabulary),
			Multiple: true,
		})
	}
	return Schema{Descriptor: rt.Descriptor(), Label: rt.Label, Fields: fields}
}

// Entity converts the result type to its stored form.
func (rt ResultType) Entity() *Entity {
	e := NewEntity(Descriptor{Type: TypeResultType})
	e.ID = rt.ID
	e.Set("label", Scalar(rt.Label))
	e.Set("import_name", Scalar(rt.ImportName))
	e.Set("organization", Refs(rt.OrganizationID))
	e.Set("groups", Refs(rt.GroupIDs...))
	ids := make([]string, len(rt.DataTypes))
	for i, dt := range rt.DataTypes {
		ids[i] = dt.ID
	}
	e.Set("datatypes", Refs(ids...))
	e.Set("vocabulary", Scalar(rt.Vocabulary))
	return e
}

// ResultTypeFromEntity builds a ResultType view from its entity and loaded data types.
func ResultTypeFromEntity(e *Entity, dataTypes []DataType) ResultType {
	return ResultType{
		ID:             e.ID,
		ImportName:     e.Value("import_name"),
		Label:          e.Value("label"),
		OrganizationID: e.TargetID("organization"),
		GroupIDs:       e.Get("groups").TargetIDs(),
		DataTypes:      dataTypes,
		Vocabulary:     e.Value("vocabulary"),
	}
}

// RegisterResultType adds or refreshes the result and data bundles of a result type.
func (r *Registry) RegisterResultType(rt ResultType) {
	for _, dt := range rt.DataTypes {
		r.Put(dt.Schema())
	}
	r.Put(rt.Schema())
}

// IsDataField reports whether a result field references a data point.
func IsDataField(name string) bool {
	return strings.HasPrefix(name, DataPrefix)
}

// IsTagsField reports whether a result field references taxonomy terms.
func IsTagsField(name string) bool {
	return strings.HasPrefix(name, TagsPrefix)
}
