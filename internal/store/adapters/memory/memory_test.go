package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/tunneljohn/internal/domain/repository"
)

func createAccount(t *testing.T, repo repository.AccountRepository, name string, requesterID int64) *repository.Account {
	t.Helper()
	acc, err := repo.Create(context.Background(), repository.CreateAccountInput{
		RequesterID:    requesterID,
		Name:           name,
		SecretHash:     "$2a$04$fakefakefakefakefakefak",
		ExpiresAt:      time.Now().UTC().Add(24 * time.Hour),
		MaxConnections: 3,
	})
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	return acc
}

func TestCreateEnforcesUniqueness(t *testing.T) {
	st := New()
	repo := st.Accounts()
	ctx := context.Background()

	createAccount(t, repo, "alice", 1)

	// Nombre duplicado, case-insensitive.
	if _, err := repo.Create(ctx, repository.CreateAccountInput{
		Name: "ALICE", ExpiresAt: time.Now().Add(time.Hour),
	}); !repository.IsConflict(err) {
		t.Fatalf("expected ErrConflict for duplicate name, got %v", err)
	}

	// Requester duplicado.
	if _, err := repo.Create(ctx, repository.CreateAccountInput{
		RequesterID: 1, Name: "other", ExpiresAt: time.Now().Add(time.Hour),
	}); !repository.IsConflict(err) {
		t.Fatalf("expected ErrConflict for duplicate requester, got %v", err)
	}

	// Requester 0 (admin-created) puede repetirse.
	createAccount(t, repo, "second", 0)
	createAccount(t, repo, "third", 0)
}

func TestUpdateOptimisticVersioning(t *testing.T) {
	st := New()
	repo := st.Accounts()
	ctx := context.Background()

	acc := createAccount(t, repo, "bob", 0)
	if acc.Version != 1 {
		t.Fatalf("fresh account version: %d", acc.Version)
	}

	notes := "first"
	updated, err := repo.Update(ctx, acc.ID, repository.AccountPatch{Notes: &notes}, acc.Version)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Version != 2 || updated.Notes != "first" {
		t.Fatalf("updated: %+v", updated)
	}

	// La versión stale pierde.
	stale := "stale write"
	if _, err := repo.Update(ctx, acc.ID, repository.AccountPatch{Notes: &stale}, acc.Version); !repository.IsVersionConflict(err) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	got, _ := repo.FindByID(ctx, acc.ID)
	if got.Notes != "first" {
		t.Fatalf("stale write must not land: %q", got.Notes)
	}

	if _, err := repo.Update(ctx, uuid.New(), repository.AccountPatch{Notes: &notes}, 1); !repository.IsNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPatchSemantics(t *testing.T) {
	st := New()
	repo := st.Accounts()
	ctx := context.Background()

	acc := createAccount(t, repo, "carol", 0)

	now := time.Now().UTC()
	inactive := false
	bytesIn := int64(100)
	updated, err := repo.Update(ctx, acc.ID, repository.AccountPatch{
		Active:      &inactive,
		ConnectedAt: &now,
		BytesIn:     &bytesIn,
	}, acc.Version)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Active || updated.ConnectedAt == nil || updated.BytesIn != 100 {
		t.Fatalf("patch did not land: %+v", updated)
	}

	// ClearConnected pone connected_at en nil sin tocar lo demás.
	cleared, err := repo.Update(ctx, acc.ID, repository.AccountPatch{ClearConnected: true}, updated.Version)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if cleared.ConnectedAt != nil {
		t.Fatal("connected_at should be cleared")
	}
	if cleared.BytesIn != 100 {
		t.Fatal("other fields must be untouched")
	}
}

func TestFindExpiredActive(t *testing.T) {
	st := New()
	repo := st.Accounts()
	ctx := context.Background()

	now := time.Now().UTC()
	past := now.Add(-time.Hour)

	expired := createAccount(t, repo, "expired", 0)
	if _, err := repo.Update(ctx, expired.ID, repository.AccountPatch{ExpiresAt: &past}, expired.Version); err != nil {
		t.Fatalf("expire: %v", err)
	}

	// Expirada pero ya inactiva: no debe listarse.
	done := createAccount(t, repo, "done", 0)
	inactive := false
	if _, err := repo.Update(ctx, done.ID, repository.AccountPatch{ExpiresAt: &past, Active: &inactive}, done.Version); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	createAccount(t, repo, "alive", 0)

	got, err := repo.FindExpiredActive(ctx, now)
	if err != nil {
		t.Fatalf("FindExpiredActive: %v", err)
	}
	if len(got) != 1 || got[0].Name != "expired" {
		t.Fatalf("expected only the expired-active account, got %+v", got)
	}
}

func TestDeleteFreesName(t *testing.T) {
	st := New()
	repo := st.Accounts()
	ctx := context.Background()

	acc := createAccount(t, repo, "dave", 0)
	if err := repo.Delete(ctx, acc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.Delete(ctx, acc.ID); !repository.IsNotFound(err) {
		t.Fatalf("second delete: %v", err)
	}
	createAccount(t, repo, "dave", 0)
}

func TestClonesDoNotAlias(t *testing.T) {
	st := New()
	repo := st.Accounts()
	ctx := context.Background()

	acc := createAccount(t, repo, "erin", 0)
	acc.Name = "mutated"
	acc.Active = false

	got, err := repo.FindByID(ctx, acc.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.Name != "erin" || !got.Active {
		t.Fatal("returned account must be a copy, not an alias")
	}
}

func TestConnectionLogsAndAudit(t *testing.T) {
	st := New()
	ctx := context.Background()

	accID := uuid.New()
	logs := st.ConnectionLogs()
	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		if err := logs.Append(ctx, repository.ConnectionLog{
			AccountID:   accID,
			ConnectedAt: now.Add(time.Duration(-i) * time.Hour),
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	got, err := logs.ListByAccount(ctx, accID, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("limit: %d", len(got))
	}

	removed, err := logs.DeleteOlderThan(ctx, now.Add(-90*time.Minute))
	if err != nil || removed != 1 {
		t.Fatalf("prune: removed=%d err=%v", removed, err)
	}

	aud := st.Audit()
	for i := 0; i < 5; i++ {
		if err := aud.Append(ctx, repository.AuditEntry{Actor: "admin", Action: "account.create"}); err != nil {
			t.Fatalf("audit append: %v", err)
		}
	}
	entries, err := aud.ListRecent(ctx, 3)
	if err != nil || len(entries) != 3 {
		t.Fatalf("audit tail: n=%d err=%v", len(entries), err)
	}
}
