package importer

import (
	"context"
	"testing"

	"github.com/JonMunkholm/activism/internal/core"
	"github.com/JonMunkholm/activism/internal/entity"
	"github.com/JonMunkholm/activism/internal/geocode"
	"github.com/JonMunkholm/activism/internal/store/memory"
)

const knownAddress = "Rådhuspladsen 1, 1550 København, Denmark"

type fixture struct {
	store     *memory.Store
	adapter   *entity.Adapter
	validator *geocode.Static
	ic        core.ImportContext
	rt        core.ResultType
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	reg := core.NewRegistry()

	org := save(t, store, core.Descriptor{Type: core.TypeOrganization}, map[string]core.FieldValue{
		"title": core.Scalar("Animal Rights Now"),
	})
	group := save(t, store, core.Descriptor{Type: core.TypeGroup}, map[string]core.FieldValue{
		"title":        core.Scalar("Copenhagen"),
		"organization": core.Refs(org.ID),
	})
	leaflets := save(t, store, core.Descriptor{Type: core.TypeDataType}, map[string]core.FieldValue{
		"label":       core.Scalar("Leaflets"),
		"import_name": core.Scalar("leaflets"),
	})

	rt := core.ResultType{
		ImportName:     "leafleting",
		Label:          "Leafleting",
		OrganizationID: org.ID,
		DataTypes:      []core.DataType{core.DataTypeFromEntity(leaflets)},
	}
	rte := rt.Entity()
	if err := store.Save(context.Background(), rte); err != nil {
		t.Fatal(err)
	}
	rt.ID = rte.ID

	// A result type reserved for another group
	other := core.ResultType{ImportName: "canvassing", Label: "Canvassing", OrganizationID: org.ID, GroupIDs: []string{"other-group"}}
	if err := store.Save(context.Background(), other.Entity()); err != nil {
		t.Fatal(err)
	}

	adapter := entity.New(reg, store, core.StoreResultTypes{Store: store, Registry: reg}, core.StoreTerms{Store: store})
	validator := geocode.NewStatic(map[string]core.Coordinates{knownAddress: {Lat: 55.6761, Lon: 12.5683}})

	return &fixture{
		store:     store,
		adapter:   adapter,
		validator: validator,
		ic:        core.ImportContext{GroupID: group.ID, OrganizationID: org.ID, ImportID: "import-1"},
		rt:        rt,
	}
}

func save(t *testing.T, s *memory.Store, d core.Descriptor, fields map[string]core.FieldValue) *core.Entity {
	t.Helper()
	e := core.NewEntity(d)
	for k, v := range fields {
		e.Set(k, v)
	}
	if err := s.Save(context.Background(), e); err != nil {
		t.Fatalf("Save(%s) error = %v", d, err)
	}
	return e
}

// drain runs every batch of a parser the way the batch driver does.
func drain[T any](t *testing.T, count int, size int, next func(int) ([]T, error), process func(T) error) int {
	t.Helper()
	calls := 0
	progress := 0
	for progress < count {
		items, err := next(progress)
		if err != nil {
			t.Fatalf("NextBatch(%d) error = %v", progress, err)
		}
		calls++
		for _, it := range items {
			if err := process(it); err != nil {
				t.Fatalf("ProcessItem() error = %v", err)
			}
			progress++
		}
		if len(items) < size {
			break
		}
	}
	return calls
}

type denyAll struct{}

func (denyAll) CanImport(context.Context, string) (bool, error) { return false, nil }
