package repo

import (
	"errors"
	"testing"

	"github.com/lumenstage/lumen/internal/model"
)

func TestRepoT1_CreateGetFixtureModel(t *testing.T) {
	r := NewInMemory()
	fm := model.FixtureModel{ID: "m1", Brand: "Acme", Model: "Par64", Channels: map[model.ChannelRole]int{model.RoleDimmer: 1}}
	created, err := r.FixtureModels.Create(fm)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.Revision != 1 {
		t.Fatalf("expected revision 1 on create, got %d", created.Revision)
	}
	got, err := r.FixtureModels.Get("m1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Brand != "Acme" {
		t.Fatalf("unexpected fixture model: %+v", got)
	}
}

func TestRepoT2_DuplicateCreateConflicts(t *testing.T) {
	r := NewInMemory()
	fm := model.FixtureModel{ID: "m1"}
	if _, err := r.FixtureModels.Create(fm); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := r.FixtureModels.Create(fm)
	var repoErr *Error
	if !errors.As(err, &repoErr) || repoErr.Code != ErrConflict {
		t.Fatalf("expected CONFLICT, got %v", err)
	}
}

func TestRepoT3_GetMissingIsNotFound(t *testing.T) {
	r := NewInMemory()
	_, err := r.Fixtures.Get("nope")
	var repoErr *Error
	if !errors.As(err, &repoErr) || repoErr.Code != ErrNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestRepoT4_UpdateRequiresMatchingRevision(t *testing.T) {
	r := NewInMemory()
	g, err := r.Groups.Create(model.Group{ID: "g1", Name: "All"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g.Name = "Renamed"
	updated, err := r.Groups.Update(g)
	if err != nil {
		t.Fatalf("unexpected error on valid update: %v", err)
	}
	if updated.Revision != 2 {
		t.Fatalf("expected revision to bump to 2, got %d", updated.Revision)
	}

	// now try updating the stale copy again, revision 1 no longer matches
	_, err = r.Groups.Update(g)
	var repoErr *Error
	if !errors.As(err, &repoErr) || repoErr.Code != ErrConflict {
		t.Fatalf("expected CONFLICT on stale revision, got %v", err)
	}
}

func TestRepoT5_GraphCreateRejectsDuplicateNodeIDs(t *testing.T) {
	r := NewInMemory()
	g := model.Graph{
		ID:    "graph1",
		Nodes: []model.Node{{ID: "n1", Type: "Time"}, {ID: "n1", Type: "Time"}},
	}
	_, err := r.Graphs.Create(g)
	var repoErr *Error
	if !errors.As(err, &repoErr) || repoErr.Code != ErrValidation {
		t.Fatalf("expected VALIDATION for duplicate node ids, got %v", err)
	}
}

func TestRepoT6_ListIsSortedAndStable(t *testing.T) {
	r := NewInMemory()
	for _, id := range []string{"c", "a", "b"} {
		if _, err := r.Inputs.Create(model.Input{ID: id, Kind: model.InputFader}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	list, err := r.Inputs.List()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 3 || list[0].ID != "a" || list[1].ID != "b" || list[2].ID != "c" {
		t.Fatalf("expected sorted ids a,b,c, got %v", list)
	}
}

func TestRepoT7_DeleteMissingIsNotFound(t *testing.T) {
	r := NewInMemory()
	err := r.Fixtures.Delete("nope")
	var repoErr *Error
	if !errors.As(err, &repoErr) || repoErr.Code != ErrNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestRepoT8_OnChangeFiresOnCreateUpdateAndDelete(t *testing.T) {
	r := NewInMemory()
	calls := 0
	r.OnChange = func() { calls++ }

	fm, err := r.FixtureModels.Create(model.FixtureModel{ID: "m1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected OnChange to fire once on create, got %d calls", calls)
	}

	fm.Channels = map[model.ChannelRole]int{model.RoleDimmer: 1}
	if _, err := r.FixtureModels.Update(fm); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected OnChange to fire once on update, got %d calls", calls)
	}

	if err := r.FixtureModels.Delete("m1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected OnChange to fire once on delete, got %d calls", calls)
	}
}
