package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/groupinstall/installportal/internal/domain"
)

func TestMemoryStore_VersionedUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	created, err := s.Create(ctx, domain.Case{ID: "CASE-1", ClientName: "Acme"})
	if err != nil {
		t.Fatalf("Create() err=%v", err)
	}
	if created.Version != 1 {
		t.Fatalf("Version=%d, want 1", created.Version)
	}
	if _, err := s.Create(ctx, domain.Case{ID: "CASE-1"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("Create(dup) err=%v, want ErrConflict", err)
	}

	c := created.Case
	c.ClientName = "Acme Corp"
	updated, err := s.Update(ctx, c, created.Version)
	if err != nil {
		t.Fatalf("Update() err=%v", err)
	}
	if updated.Version != 2 || updated.Case.ClientName != "Acme Corp" {
		t.Fatalf("Update()=%+v", updated)
	}
	if _, err := s.Update(ctx, c, created.Version); !errors.Is(err, ErrConflict) {
		t.Fatalf("Update(stale) err=%v, want ErrConflict", err)
	}
	if _, err := s.Update(ctx, domain.Case{ID: "CASE-9"}, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update(missing) err=%v, want ErrNotFound", err)
	}
}

func TestMemoryStore_IsolatesCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	in := domain.Case{ID: "CASE-1", Plans: []domain.Plan{{ID: "p1"}}}
	if _, err := s.Create(ctx, in); err != nil {
		t.Fatalf("Create() err=%v", err)
	}
	in.Plans[0].Selected = true

	got, err := s.Get(ctx, "CASE-1")
	if err != nil {
		t.Fatalf("Get() err=%v", err)
	}
	if got.Case.Plans[0].Selected {
		t.Fatalf("stored case shares memory with caller")
	}
	if _, err := s.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) err=%v, want ErrNotFound", err)
	}
}

func TestMemoryStore_List(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, c := range []domain.Case{
		{ID: "C-3", AssignedTeam: "West"},
		{ID: "C-1", AssignedTeam: "East"},
		{ID: "C-2", AssignedTeam: "east"},
	} {
		if _, err := s.Create(ctx, c); err != nil {
			t.Fatalf("Create() err=%v", err)
		}
	}
	got, _ := s.List(ctx, CaseFilter{AssignedTeam: "East"})
	if len(got) != 2 || got[0].Case.ID != "C-1" || got[1].Case.ID != "C-2" {
		t.Fatalf("List(East)=%+v", got)
	}
	got, _ = s.List(ctx, CaseFilter{Limit: 1})
	if len(got) != 1 || got[0].Case.ID != "C-1" {
		t.Fatalf("List(limit 1)=%+v", got)
	}
}
