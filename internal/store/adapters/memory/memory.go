// Package memory implementa los repositorios en RAM. Se usa en tests y en
// despliegues de un solo nodo sin Postgres.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/tunneljohn/internal/domain/repository"
)

type Store struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]*repository.Account
	byName   map[string]uuid.UUID

	logMu sync.Mutex
	logs  []repository.ConnectionLog

	auditMu sync.Mutex
	audits  []repository.AuditEntry
}

func New() *Store {
	return &Store{
		accounts: make(map[uuid.UUID]*repository.Account),
		byName:   make(map[string]uuid.UUID),
	}
}

func (s *Store) Accounts() repository.AccountRepository             { return (*accountRepo)(s) }
func (s *Store) ConnectionLogs() repository.ConnectionLogRepository { return (*connLogRepo)(s) }
func (s *Store) Audit() repository.AuditRepository                  { return (*auditRepo)(s) }

func (s *Store) Close() error { return nil }

// ─── AccountRepository ───

type accountRepo Store

func normName(name string) string { return strings.ToLower(name) }

func clone(a *repository.Account) *repository.Account {
	cp := *a
	if a.LastSeenAt != nil {
		t := *a.LastSeenAt
		cp.LastSeenAt = &t
	}
	if a.ConnectedAt != nil {
		t := *a.ConnectedAt
		cp.ConnectedAt = &t
	}
	return &cp
}

func (r *accountRepo) Create(ctx context.Context, in repository.CreateAccountInput) (*repository.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byName[normName(in.Name)]; taken {
		return nil, repository.ErrConflict
	}
	if in.RequesterID != 0 {
		for _, acc := range r.accounts {
			if acc.RequesterID == in.RequesterID {
				return nil, repository.ErrConflict
			}
		}
	}

	now := time.Now().UTC()
	acc := &repository.Account{
		ID:             uuid.New(),
		RequesterID:    in.RequesterID,
		Name:           in.Name,
		SecretHash:     in.SecretHash,
		Active:         true,
		IsAdmin:        in.IsAdmin,
		CreatedAt:      now,
		ExpiresAt:      in.ExpiresAt,
		MaxConnections: in.MaxConnections,
		Notes:          in.Notes,
		Version:        1,
	}
	r.accounts[acc.ID] = acc
	r.byName[normName(in.Name)] = acc.ID
	return clone(acc), nil
}

func (r *accountRepo) FindByID(ctx context.Context, id uuid.UUID) (*repository.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acc, ok := r.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clone(acc), nil
}

func (r *accountRepo) FindByName(ctx context.Context, name string) (*repository.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[normName(name)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clone(r.accounts[id]), nil
}

func (r *accountRepo) FindByRequester(ctx context.Context, requesterID int64) (*repository.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, acc := range r.accounts {
		if acc.RequesterID == requesterID {
			return clone(acc), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *accountRepo) FindExpiredActive(ctx context.Context, now time.Time) ([]repository.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []repository.Account
	for _, acc := range r.accounts {
		if acc.Active && acc.Expired(now) {
			out = append(out, *clone(acc))
		}
	}
	sortAccounts(out)
	return out, nil
}

func (r *accountRepo) List(ctx context.Context) ([]repository.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]repository.Account, 0, len(r.accounts))
	for _, acc := range r.accounts {
		out = append(out, *clone(acc))
	}
	sortAccounts(out)
	return out, nil
}

func (r *accountRepo) Update(ctx context.Context, id uuid.UUID, patch repository.AccountPatch, expectedVersion int64) (*repository.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if acc.Version != expectedVersion {
		return nil, repository.ErrVersionConflict
	}

	if patch.Active != nil {
		acc.Active = *patch.Active
	}
	if patch.SecretHash != nil {
		acc.SecretHash = *patch.SecretHash
	}
	if patch.ProfilePath != nil {
		acc.ProfilePath = *patch.ProfilePath
	}
	if patch.ExpiresAt != nil {
		acc.ExpiresAt = *patch.ExpiresAt
	}
	if patch.LastSeenAt != nil {
		t := *patch.LastSeenAt
		acc.LastSeenAt = &t
	}
	if patch.ConnectedAt != nil {
		t := *patch.ConnectedAt
		acc.ConnectedAt = &t
	}
	if patch.ClearConnected {
		acc.ConnectedAt = nil
	}
	if patch.BytesIn != nil {
		acc.BytesIn = *patch.BytesIn
	}
	if patch.BytesOut != nil {
		acc.BytesOut = *patch.BytesOut
	}
	if patch.Notes != nil {
		acc.Notes = *patch.Notes
	}
	acc.Version++
	return clone(acc), nil
}

func (r *accountRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	delete(r.byName, normName(acc.Name))
	delete(r.accounts, id)
	return nil
}

// Más recientes primero, igual que los adapters SQL.
func sortAccounts(accs []repository.Account) {
	sort.Slice(accs, func(i, j int) bool {
		if accs[i].CreatedAt.Equal(accs[j].CreatedAt) {
			return accs[i].Name < accs[j].Name
		}
		return accs[i].CreatedAt.After(accs[j].CreatedAt)
	})
}

// ─── ConnectionLogRepository ───

type connLogRepo Store

func (r *connLogRepo) Append(ctx context.Context, entry repository.ConnectionLog) error {
	r.logMu.Lock()
	defer r.logMu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	r.logs = append(r.logs, entry)
	return nil
}

func (r *connLogRepo) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]repository.ConnectionLog, error) {
	r.logMu.Lock()
	defer r.logMu.Unlock()
	var out []repository.ConnectionLog
	for i := len(r.logs) - 1; i >= 0; i-- {
		if r.logs[i].AccountID == accountID {
			out = append(out, r.logs[i])
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (r *connLogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.logMu.Lock()
	defer r.logMu.Unlock()
	kept := r.logs[:0]
	var removed int64
	for _, e := range r.logs {
		if e.ConnectedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	r.logs = kept
	return removed, nil
}

// ─── AuditRepository ───

type auditRepo Store

func (r *auditRepo) Append(ctx context.Context, entry repository.AuditEntry) error {
	r.auditMu.Lock()
	defer r.auditMu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	r.audits = append(r.audits, entry)
	return nil
}

func (r *auditRepo) ListRecent(ctx context.Context, limit int) ([]repository.AuditEntry, error) {
	r.auditMu.Lock()
	defer r.auditMu.Unlock()
	if limit <= 0 || limit > len(r.audits) {
		limit = len(r.audits)
	}
	out := make([]repository.AuditEntry, 0, limit)
	for i := len(r.audits) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.audits[i])
	}
	return out, nil
}
