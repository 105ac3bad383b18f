package sqlstore

import (
	"context"
	"testing"

	"github.com/zulandar/callsheet/internal/db"
	"github.com/zulandar/callsheet/internal/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	gdb, err := db.Connect(db.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	// :memory: is per connection; pin the pool to one.
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	if _, err := db.SeedDrivers(gdb, []models.Driver{
		{ID: "d2", Name: "Boris", Status: "new", About: "Flatbed", Trailer: true},
		{ID: "d1", Name: "Anna"},
		{ID: "d3", Name: "Viktor", Date: "2026-01-15", Notes: "Call after 5pm"},
	}); err != nil {
		t.Fatalf("SeedDrivers: %v", err)
	}
	s, err := New(gdb)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNew_RequiresDB(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestListTargets_SortedByName(t *testing.T) {
	s := testStore(t)
	targets, err := s.ListTargets(context.Background())
	if err != nil {
		t.Fatalf("ListTargets: %v", err)
	}
	if len(targets) != 3 {
		t.Fatalf("targets = %d, want 3", len(targets))
	}
	want := []string{"Anna", "Boris", "Viktor"}
	for i, name := range want {
		if targets[i].Name != name {
			t.Errorf("targets[%d] = %q, want %q", i, targets[i].Name, name)
		}
	}
}

func TestGetTarget(t *testing.T) {
	s := testStore(t)
	d, err := s.GetTarget(context.Background(), "d2")
	if err != nil {
		t.Fatalf("GetTarget: %v", err)
	}
	if d == nil || d.Name != "Boris" || d.Status != "new" || d.About != "Flatbed" || !d.Trailer {
		t.Errorf("detail = %+v", d)
	}
}

func TestGetTarget_Absent(t *testing.T) {
	s := testStore(t)
	d, err := s.GetTarget(context.Background(), "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != nil {
		t.Errorf("detail = %+v, want nil", d)
	}
}

func TestAppendAndListComments(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, text := range []string{"first call", "Great candidate, hire"} {
		if err := s.AppendComment(ctx, "d1", text); err != nil {
			t.Fatalf("AppendComment: %v", err)
		}
	}
	comments, err := s.ListComments(ctx, "d1")
	if err != nil {
		t.Fatalf("ListComments: %v", err)
	}
	if len(comments) != 2 {
		t.Fatalf("comments = %d, want 2", len(comments))
	}
	if comments[0].Text != "first call" || comments[1].Text != "Great candidate, hire" {
		t.Errorf("comments = %+v", comments)
	}
	if comments[0].CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	other, _ := s.ListComments(ctx, "d2")
	if len(other) != 0 {
		t.Errorf("d2 comments = %d, want 0", len(other))
	}
}

func TestAppendComment_UnknownDriver(t *testing.T) {
	s := testStore(t)
	if err := s.AppendComment(context.Background(), "ghost", "hello"); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
