package repository

import (
	"context"
	"testing"

	"github.com/hitoshi/iceblink/internal/database/dbtest"
	"github.com/hitoshi/iceblink/internal/model"
)

func TestSQLUserRepo_Upsert_CreatesOnce(t *testing.T) {
	db := dbtest.NewSQLite(t)
	repo := NewSQLUserRepo(db)
	ctx := context.Background()

	first, err := repo.Upsert(ctx, "sub-123")
	if err != nil {
		t.Fatalf("first Upsert failed: %v", err)
	}
	if first.ID != "sub-123" {
		t.Errorf("ID = %q, want sub-123", first.ID)
	}

	second, err := repo.Upsert(ctx, "sub-123")
	if err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed on second upsert: %v -> %v", first.CreatedAt, second.CreatedAt)
	}

	var count int
	if err := db.QueryRow("SELECT count(*) FROM users").Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("user count = %d, want 1", count)
	}
}

func TestSQLUserRepo_FindByID_NotFound(t *testing.T) {
	repo := NewSQLUserRepo(dbtest.NewSQLite(t))

	user, err := repo.FindByID(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user != nil {
		t.Fatalf("expected nil, got %+v", user)
	}
}

func TestSQLUserRepo_DeleteWithCodes(t *testing.T) {
	db := dbtest.NewSQLite(t)
	users := NewSQLUserRepo(db)
	codes := NewSQLCodeRepo(db)
	ctx := context.Background()

	for _, id := range []string{"alice", "bob"} {
		if _, err := users.Upsert(ctx, id); err != nil {
			t.Fatalf("Upsert(%s) failed: %v", id, err)
		}
	}
	for _, c := range []*model.Code{
		{ID: "AAAAAAAAAAAAAAA1", OwnerID: "alice", Content: "a1", DisplayName: "a1"},
		{ID: "AAAAAAAAAAAAAAA2", OwnerID: "alice", Content: "a2", DisplayName: "a2"},
		{ID: "BBBBBBBBBBBBBBB1", OwnerID: "bob", Content: "b1", DisplayName: "b1"},
	} {
		if err := codes.Create(ctx, c); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	found, err := users.DeleteWithCodes(ctx, "alice")
	if err != nil {
		t.Fatalf("DeleteWithCodes failed: %v", err)
	}
	if !found {
		t.Fatal("expected alice to be found")
	}

	if u, _ := users.FindByID(ctx, "alice"); u != nil {
		t.Error("alice should be deleted")
	}
	aliceCodes, _ := codes.ListByOwner(ctx, "alice")
	if len(aliceCodes) != 0 {
		t.Errorf("alice codes = %d, want 0", len(aliceCodes))
	}
	bobCodes, _ := codes.ListByOwner(ctx, "bob")
	if len(bobCodes) != 1 {
		t.Errorf("bob codes = %d, want 1", len(bobCodes))
	}

	found, err = users.DeleteWithCodes(ctx, "alice")
	if err != nil {
		t.Fatalf("second DeleteWithCodes failed: %v", err)
	}
	if found {
		t.Error("second delete should report not found")
	}
}
