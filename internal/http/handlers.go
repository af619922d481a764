package http

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/tunneljohn/internal/audit"
	"github.com/dropDatabas3/tunneljohn/internal/domain/repository"
	"github.com/dropDatabas3/tunneljohn/internal/telemetry"
)

// accountDTO es la vista pública de una cuenta. El hash del secreto nunca
// sale por este surface.
type accountDTO struct {
	ID             string     `json:"id"`
	RequesterID    int64      `json:"requester_id,omitempty"`
	Name           string     `json:"name"`
	Active         bool       `json:"active"`
	IsAdmin        bool       `json:"is_admin,omitempty"`
	HasProfile     bool       `json:"has_profile"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	LastSeenAt     *time.Time `json:"last_seen_at,omitempty"`
	ConnectedAt    *time.Time `json:"connected_at,omitempty"`
	BytesIn        int64      `json:"bytes_in"`
	BytesOut       int64      `json:"bytes_out"`
	MaxConnections int        `json:"max_connections"`
	Notes          string     `json:"notes,omitempty"`
}

func toDTO(a *repository.Account) accountDTO {
	return accountDTO{
		ID:             a.ID.String(),
		RequesterID:    a.RequesterID,
		Name:           a.Name,
		Active:         a.Active,
		IsAdmin:        a.IsAdmin,
		HasProfile:     a.ProfilePath != "",
		CreatedAt:      a.CreatedAt,
		ExpiresAt:      a.ExpiresAt,
		LastSeenAt:     a.LastSeenAt,
		ConnectedAt:    a.ConnectedAt,
		BytesIn:        a.BytesIn,
		BytesOut:       a.BytesOut,
		MaxConnections: a.MaxConnections,
		Notes:          a.Notes,
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.Accounts.List(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	out := make([]accountDTO, 0, len(accounts))
	for i := range accounts {
		out = append(out, toDTO(&accounts[i]))
	}
	WriteJSON(w, http.StatusOK, map[string]any{"accounts": out, "total": len(out)})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.findAccount(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, toDTO(acc))
}

func (s *Server) handleAccountConnections(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.findAccount(w, r)
	if !ok {
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	logs, err := s.ConnLogs.ListByAccount(r.Context(), acc.ID, limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"connections": logs, "total": len(logs)})
}

// handleVPNStatus sirve el último snapshot de telemetría. Con cache miss
// cae a una lectura directa del status source.
func (s *Server) handleVPNStatus(w http.ResponseWriter, r *http.Request) {
	if s.Cache != nil {
		if raw, ok := s.Cache.Get(telemetry.StatusCacheKey); ok {
			var snap telemetry.Snapshot
			if err := json.Unmarshal(raw, &snap); err == nil {
				WriteJSON(w, http.StatusOK, snap)
				return
			}
		}
	}
	if s.Status == nil {
		WriteError(w, http.StatusServiceUnavailable, "status_unavailable", "no status source configured")
		return
	}
	clients, err := s.Status.ConnectedClients(r.Context())
	if err != nil {
		WriteError(w, http.StatusBadGateway, "status_error", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, telemetry.Snapshot{TakenAt: s.now().UTC(), Clients: clients})
}

func (s *Server) handleAuditTail(w http.ResponseWriter, r *http.Request) {
	if s.AuditRepo == nil {
		WriteError(w, http.StatusNotFound, "audit_unavailable", "audit trail not persisted on this backend")
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	entries, err := s.AuditRepo.ListRecent(r.Context(), limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"entries": entries, "total": len(entries)})
}

// handleMintProfileLink emite un link de descarga temporal para el perfil
// actual de la cuenta.
func (s *Server) handleMintProfileLink(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.findAccount(w, r)
	if !ok {
		return
	}
	if !acc.Active || acc.Expired(s.now()) {
		WriteError(w, http.StatusConflict, "account_unavailable", "account is inactive or expired")
		return
	}
	if acc.ProfilePath == "" {
		WriteError(w, http.StatusConflict, "no_profile", "account has no profile artifact")
		return
	}

	token, exp, err := s.mintProfileToken(acc.Name)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "token_error", err.Error())
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]any{
		"token":      token,
		"path":       "/api/profile/" + token,
		"expires_at": exp,
	})
}

// handleProfileDownload sirve el artefacto .ovpn. El token firmado es la
// única autorización; la cuenta se revalida en el momento de la descarga.
func (s *Server) handleProfileDownload(w http.ResponseWriter, r *http.Request) {
	name, err := s.parseProfileToken(chi.URLParam(r, "token"))
	if err != nil {
		WriteError(w, http.StatusUnauthorized, "invalid_token", "")
		return
	}

	acc, err := s.Accounts.FindByName(r.Context(), name)
	if err != nil {
		WriteError(w, http.StatusNotFound, "not_found", "")
		return
	}
	if !acc.Active || acc.Expired(s.now()) || acc.ProfilePath == "" {
		WriteError(w, http.StatusGone, "profile_unavailable", "account is no longer serviceable")
		return
	}

	raw, err := os.ReadFile(acc.ProfilePath)
	if err != nil {
		WriteError(w, http.StatusGone, "profile_unavailable", "profile artifact missing")
		return
	}

	s.Sink.Record(r.Context(), audit.ActorSystem, audit.ActionProfileFetch, &acc.ID,
		"name="+acc.Name, true)

	w.Header().Set("Content-Type", "application/x-openvpn-profile")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(acc.ProfilePath)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (s *Server) findAccount(w http.ResponseWriter, r *http.Request) (*repository.Account, bool) {
	name := chi.URLParam(r, "name")
	acc, err := s.Accounts.FindByName(r.Context(), name)
	if err != nil {
		if repository.IsNotFound(err) {
			WriteError(w, http.StatusNotFound, "not_found", "no account named "+name)
		} else {
			WriteError(w, http.StatusInternalServerError, "store_error", err.Error())
		}
		return nil, false
	}
	return acc, true
}
