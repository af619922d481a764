package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dropDatabas3/tunneljohn/internal/domain/repository"
	"github.com/dropDatabas3/tunneljohn/internal/lifecycle"
	"github.com/dropDatabas3/tunneljohn/internal/provision"
	"github.com/dropDatabas3/tunneljohn/internal/store/adapters/memory"
)

const (
	testAPIKey  = "test-api-key"
	validSecret = "Sup3rSecret"
)

func newTestServer(t *testing.T) (*Server, *memory.Store, *lifecycle.Orchestrator) {
	t.Helper()
	st := memory.New()
	fake := provision.NewFake()
	orch := lifecycle.New(st.Accounts(), fake, nil, lifecycle.Config{BcryptCost: 4})
	srv := &Server{
		Accounts:    st.Accounts(),
		ConnLogs:    st.ConnectionLogs(),
		AuditRepo:   st.Audit(),
		APIKey:      testAPIKey,
		TokenSecret: []byte("0123456789abcdef0123456789abcdef"),
		TokenTTL:    time.Minute,
	}
	return srv, st, orch
}

func doReq(t *testing.T, h http.Handler, method, path, apiKey string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if apiKey != "" {
		req.Header.Set("X-Admin-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doReq(t, srv.Router(), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
}

func TestAPIKeyRequired(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Router()

	if rec := doReq(t, h, http.MethodGet, "/api/accounts", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no key: %d", rec.Code)
	}
	if rec := doReq(t, h, http.MethodGet, "/api/accounts", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key: %d", rec.Code)
	}
	if rec := doReq(t, h, http.MethodGet, "/api/accounts", testAPIKey); rec.Code != http.StatusOK {
		t.Fatalf("good key: %d", rec.Code)
	}
}

func TestAPIKeyUnconfiguredClosesSurface(t *testing.T) {
	srv, _, _ := newTestServer(t)
	srv.APIKey = ""
	rec := doReq(t, srv.Router(), http.MethodGet, "/api/accounts", "anything")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status: %d", rec.Code)
	}
}

func TestListAndGetAccounts(t *testing.T) {
	srv, _, orch := newTestServer(t)
	ctx := context.Background()
	if _, err := orch.Create(ctx, lifecycle.CreateParams{Name: "alice", Secret: validSecret}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h := srv.Router()

	rec := doReq(t, h, http.MethodGet, "/api/accounts", testAPIKey)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d", rec.Code)
	}
	var list struct {
		Accounts []accountDTO `json:"accounts"`
		Total    int          `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Total != 1 || list.Accounts[0].Name != "alice" {
		t.Fatalf("list body: %+v", list)
	}
	// El hash del secreto no debe filtrarse por ningún campo.
	if raw := rec.Body.String(); len(raw) > 0 && (containsAny(raw, "secret", "hash", "$2a$", "$2b$")) {
		t.Fatalf("secret material leaked: %s", raw)
	}

	rec = doReq(t, h, http.MethodGet, "/api/accounts/alice", testAPIKey)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: %d", rec.Code)
	}
	rec = doReq(t, h, http.MethodGet, "/api/accounts/nobody", testAPIKey)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing account: %d", rec.Code)
	}
}

func TestProfileLinkFlow(t *testing.T) {
	srv, st, orch := newTestServer(t)
	ctx := context.Background()

	acc, err := orch.Create(ctx, lifecycle.CreateParams{Name: "bob", Secret: validSecret})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	// El Fake genera paths ficticios: apuntar el perfil a un archivo real.
	dir := t.TempDir()
	profile := filepath.Join(dir, "bob_1.ovpn")
	if err := os.WriteFile(profile, []byte("client\ndev tun\n"), 0o600); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	fresh, _ := st.Accounts().FindByID(ctx, acc.ID)
	if _, err := st.Accounts().Update(ctx, acc.ID,
		repository.AccountPatch{ProfilePath: &profile}, fresh.Version); err != nil {
		t.Fatalf("point profile: %v", err)
	}

	h := srv.Router()
	rec := doReq(t, h, http.MethodPost, "/api/accounts/bob/profile-link", testAPIKey)
	if rec.Code != http.StatusCreated {
		t.Fatalf("mint: %d %s", rec.Code, rec.Body.String())
	}
	var mint struct {
		Token string `json:"token"`
		Path  string `json:"path"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &mint); err != nil {
		t.Fatalf("decode mint: %v", err)
	}

	// La descarga no necesita API key: el token es la autorización.
	rec = doReq(t, h, http.MethodGet, mint.Path, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("download: %d %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "client\ndev tun\n" {
		t.Fatalf("profile body: %q", rec.Body.String())
	}

	// Token truchado: rechazado.
	rec = doReq(t, h, http.MethodGet, "/api/profile/not-a-token", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", rec.Code)
	}

	// Cuenta desactivada después de emitir el link: la descarga revalida.
	if _, err := orch.SetActive(ctx, acc.ID, false, "admin"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	rec = doReq(t, h, http.MethodGet, mint.Path, "")
	if rec.Code != http.StatusGone {
		t.Fatalf("download after disable: %d", rec.Code)
	}
}

func TestMintLinkRejectsInactiveAccount(t *testing.T) {
	srv, _, orch := newTestServer(t)
	ctx := context.Background()

	acc, err := orch.Create(ctx, lifecycle.CreateParams{Name: "carol", Secret: validSecret})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := orch.SetActive(ctx, acc.ID, false, "admin"); err != nil {
		t.Fatalf("disable: %v", err)
	}

	rec := doReq(t, srv.Router(), http.MethodPost, "/api/accounts/carol/profile-link", testAPIKey)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status: %d", rec.Code)
	}
}

func TestAuditTail(t *testing.T) {
	srv, st, _ := newTestServer(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := st.Audit().Append(ctx, repository.AuditEntry{
			Actor: "admin", Action: "account.create", Success: true,
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	rec := doReq(t, srv.Router(), http.MethodGet, "/api/audit?limit=2", testAPIKey)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var body struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 2 {
		t.Fatalf("limit ignored: %+v", body)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
