package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dropDatabas3/tunneljohn/internal/domain/repository"
	"github.com/dropDatabas3/tunneljohn/internal/provision"
	"github.com/dropDatabas3/tunneljohn/internal/secrets"
	"github.com/dropDatabas3/tunneljohn/internal/store/adapters/memory"
	"github.com/dropDatabas3/tunneljohn/internal/validation"
)

const validSecret = "Sup3rSecret"

func newTestOrchestrator(t *testing.T) (*Orchestrator, *memory.Store, *provision.Fake) {
	t.Helper()
	st := memory.New()
	fake := provision.NewFake()
	o := New(st.Accounts(), fake, nil, Config{
		Validity:       30 * 24 * time.Hour,
		MaxConnections: 3,
		BcryptCost:     4, // bcrypt.MinCost, que los tests no tarden
	})
	return o, st, fake
}

func TestCreateProvisionsEverything(t *testing.T) {
	o, _, fake := newTestOrchestrator(t)
	ctx := context.Background()

	before := time.Now().UTC()
	acc, err := o.Create(ctx, CreateParams{RequesterID: 42, Name: "alice_01", Secret: validSecret})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !acc.Active {
		t.Fatal("new account should be active")
	}
	if acc.ProfilePath == "" {
		t.Fatal("profile path should be set")
	}
	wantExp := before.Add(30 * 24 * time.Hour)
	if acc.ExpiresAt.Before(wantExp.Add(-time.Minute)) || acc.ExpiresAt.After(wantExp.Add(time.Minute)) {
		t.Fatalf("expires_at off: %v", acc.ExpiresAt)
	}
	if !fake.Enabled("alice_01") {
		t.Fatal("credential should exist and be enabled")
	}
	if !secrets.Verify(acc.SecretHash, validSecret) {
		t.Fatal("stored hash should verify against the plaintext secret")
	}
	if acc.MaxConnections != 3 {
		t.Fatalf("max connections: %d", acc.MaxConnections)
	}
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	if _, err := o.Create(ctx, CreateParams{Name: "a!", Secret: validSecret}); !validation.IsFieldError(err) {
		t.Fatalf("expected field error for bad name, got %v", err)
	}
	if _, err := o.Create(ctx, CreateParams{Name: "alice", Secret: "short"}); !validation.IsFieldError(err) {
		t.Fatalf("expected field error for bad secret, got %v", err)
	}
}

func TestCreateDuplicateName(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	if _, err := o.Create(ctx, CreateParams{Name: "bob", Secret: validSecret}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := o.Create(ctx, CreateParams{RequesterID: 7, Name: "Bob", Secret: validSecret})
	if !IsDuplicateName(err) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
}

func TestCreatePartialFailureKeepsInactiveRow(t *testing.T) {
	o, st, fake := newTestOrchestrator(t)
	ctx := context.Background()

	fake.FailGenerateProfile = errors.New("disk full")
	_, err := o.Create(ctx, CreateParams{Name: "carol", Secret: validSecret})
	if err == nil {
		t.Fatal("expected profile failure")
	}
	var pErr *provision.Error
	if !errors.As(err, &pErr) || pErr.Step != "profile" {
		t.Fatalf("expected profile step error, got %v", err)
	}

	// La fila queda, inactiva, con el nombre reservado.
	acc, err := st.Accounts().FindByName(ctx, "carol")
	if err != nil {
		t.Fatalf("row should survive the failure: %v", err)
	}
	if acc.Active {
		t.Fatal("half-provisioned account must be inactive")
	}
	if _, err := o.Create(ctx, CreateParams{Name: "carol", Secret: validSecret}); !IsDuplicateName(err) {
		t.Fatalf("name should stay reserved, got %v", err)
	}

	// FinishProvisioning retoma desde el paso fallido.
	fake.FailGenerateProfile = nil
	finished, err := o.FinishProvisioning(ctx, acc.ID, validSecret, "admin")
	if err != nil {
		t.Fatalf("FinishProvisioning: %v", err)
	}
	if !finished.Active || finished.ProfilePath == "" {
		t.Fatalf("account should be fully provisioned: %+v", finished)
	}
}

func TestFinishProvisioningOnActiveAccount(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	acc, err := o.Create(ctx, CreateParams{Name: "dave", Secret: validSecret})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := o.FinishProvisioning(ctx, acc.ID, validSecret, "admin"); !errors.Is(err, ErrAlreadyProvisioned) {
		t.Fatalf("expected ErrAlreadyProvisioned, got %v", err)
	}
}

func TestSetActiveDisableEnable(t *testing.T) {
	o, _, fake := newTestOrchestrator(t)
	ctx := context.Background()

	acc, err := o.Create(ctx, CreateParams{Name: "erin", Secret: validSecret})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	disabled, err := o.SetActive(ctx, acc.ID, false, "admin")
	if err != nil {
		t.Fatalf("disable: %v", err)
	}
	if disabled.Active || fake.Enabled("erin") {
		t.Fatal("account and credential should be disabled")
	}

	// Idempotente: repetir no falla ni toca el provisioner.
	again, err := o.SetActive(ctx, acc.ID, false, "admin")
	if err != nil {
		t.Fatalf("second disable: %v", err)
	}
	if again.Active {
		t.Fatal("still disabled")
	}

	enabled, err := o.SetActive(ctx, acc.ID, true, "admin")
	if err != nil {
		t.Fatalf("enable: %v", err)
	}
	if !enabled.Active || !fake.Enabled("erin") {
		t.Fatal("account and credential should be enabled")
	}
}

func TestSetActiveExpiredAccount(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	acc, err := o.Create(ctx, CreateParams{Name: "frank", Secret: validSecret})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := o.SetActive(ctx, acc.ID, false, "admin"); err != nil {
		t.Fatalf("disable: %v", err)
	}

	// Adelantar el reloj más allá de la expiración.
	o.now = func() time.Time { return acc.ExpiresAt.Add(time.Hour) }
	if _, err := o.SetActive(ctx, acc.ID, true, "admin"); !IsAlreadyExpired(err) {
		t.Fatalf("expected ErrAlreadyExpired, got %v", err)
	}
}

func TestSetActiveRollsBackOnCredentialFailure(t *testing.T) {
	o, st, fake := newTestOrchestrator(t)
	ctx := context.Background()

	acc, err := o.Create(ctx, CreateParams{Name: "grace", Secret: validSecret})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	fake.FailDisableFor["grace"] = 1
	if _, err := o.SetActive(ctx, acc.ID, false, "admin"); err == nil {
		t.Fatal("expected credential failure")
	}

	// La fila debe seguir anunciando el estado real de la credencial.
	got, err := st.Accounts().FindByID(ctx, acc.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if !got.Active {
		t.Fatal("row should be rolled back to active")
	}
	if !fake.Enabled("grace") {
		t.Fatal("credential untouched")
	}
}

func TestDeleteAlwaysRemovesRow(t *testing.T) {
	o, st, fake := newTestOrchestrator(t)
	ctx := context.Background()

	acc, err := o.Create(ctx, CreateParams{Name: "heidi", Secret: validSecret})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Simular que la credencial desapareció por fuera: el delete del
	// provisioner fallará, pero la fila debe borrarse igual.
	delete(fake.Credentials, "heidi")
	if err := o.Delete(ctx, acc.ID, "admin"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := st.Accounts().FindByID(ctx, acc.ID); !repository.IsNotFound(err) {
		t.Fatalf("row should be gone, got %v", err)
	}

	// El nombre queda libre de nuevo.
	if _, err := o.Create(ctx, CreateParams{Name: "heidi", Secret: validSecret}); err != nil {
		t.Fatalf("name should be reusable: %v", err)
	}
}

func TestRegenerateSwapsProfileAtomically(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	acc, err := o.Create(ctx, CreateParams{Name: "ivan", Secret: validSecret})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	oldPath := acc.ProfilePath

	updated, prev, err := o.Regenerate(ctx, acc.ID, "admin")
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	if prev != oldPath {
		t.Fatalf("previous path: got %q want %q", prev, oldPath)
	}
	if updated.ProfilePath == oldPath || updated.ProfilePath == "" {
		t.Fatalf("profile path should change: %q", updated.ProfilePath)
	}
}

func TestExtendExpiredAccountCountsFromNow(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	acc, err := o.Create(ctx, CreateParams{Name: "judy", Secret: validSecret})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	frozen := acc.ExpiresAt.Add(48 * time.Hour)
	o.now = func() time.Time { return frozen }

	updated, err := o.Extend(ctx, acc.ID, 24*time.Hour, "admin")
	if err != nil {
		t.Fatalf("Extend: %v", err)
	}
	want := frozen.Add(24 * time.Hour)
	if !updated.ExpiresAt.Equal(want) {
		t.Fatalf("expires_at: got %v want %v", updated.ExpiresAt, want)
	}
}
