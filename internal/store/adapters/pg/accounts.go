package pg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/tunneljohn/internal/domain/repository"
)

type accountRepo struct{ pool *pgxpool.Pool }

const accountColumns = `
	id, requester_id, name, secret_hash, active, is_admin, profile_path,
	created_at, expires_at, last_seen_at, connected_at,
	bytes_in, bytes_out, max_connections, notes, version
`

func scanAccount(row pgx.Row) (*repository.Account, error) {
	var acc repository.Account
	err := row.Scan(
		&acc.ID, &acc.RequesterID, &acc.Name, &acc.SecretHash, &acc.Active,
		&acc.IsAdmin, &acc.ProfilePath, &acc.CreatedAt, &acc.ExpiresAt,
		&acc.LastSeenAt, &acc.ConnectedAt, &acc.BytesIn, &acc.BytesOut,
		&acc.MaxConnections, &acc.Notes, &acc.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (r *accountRepo) Create(ctx context.Context, in repository.CreateAccountInput) (*repository.Account, error) {
	query := `
		INSERT INTO vpn_account
			(id, requester_id, name, secret_hash, active, is_admin, created_at,
			 expires_at, max_connections, notes, version)
		VALUES ($1, $2, $3, $4, TRUE, $5, NOW(), $6, $7, $8, 1)
		RETURNING ` + accountColumns
	row := r.pool.QueryRow(ctx, query,
		uuid.New(), in.RequesterID, in.Name, in.SecretHash, in.IsAdmin,
		in.ExpiresAt, in.MaxConnections, in.Notes,
	)
	acc, err := scanAccount(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, repository.ErrConflict
		}
		return nil, err
	}
	return acc, nil
}

func (r *accountRepo) FindByID(ctx context.Context, id uuid.UUID) (*repository.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM vpn_account WHERE id = $1`
	return scanAccount(r.pool.QueryRow(ctx, query, id))
}

func (r *accountRepo) FindByName(ctx context.Context, name string) (*repository.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM vpn_account WHERE lower(name) = lower($1)`
	return scanAccount(r.pool.QueryRow(ctx, query, name))
}

func (r *accountRepo) FindByRequester(ctx context.Context, requesterID int64) (*repository.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM vpn_account WHERE requester_id = $1`
	return scanAccount(r.pool.QueryRow(ctx, query, requesterID))
}

func (r *accountRepo) FindExpiredActive(ctx context.Context, now time.Time) ([]repository.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM vpn_account
		WHERE active AND expires_at < $1
		ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAccounts(rows)
}

func (r *accountRepo) List(ctx context.Context) ([]repository.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM vpn_account ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAccounts(rows)
}

func collectAccounts(rows pgx.Rows) ([]repository.Account, error) {
	var out []repository.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *acc)
	}
	return out, rows.Err()
}

func (r *accountRepo) Update(ctx context.Context, id uuid.UUID, patch repository.AccountPatch, expectedVersion int64) (*repository.Account, error) {
	sets := []string{"version = version + 1"}
	args := []any{id, expectedVersion}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if patch.Active != nil {
		sets = append(sets, "active = "+arg(*patch.Active))
	}
	if patch.SecretHash != nil {
		sets = append(sets, "secret_hash = "+arg(*patch.SecretHash))
	}
	if patch.ProfilePath != nil {
		sets = append(sets, "profile_path = "+arg(*patch.ProfilePath))
	}
	if patch.ExpiresAt != nil {
		sets = append(sets, "expires_at = "+arg(*patch.ExpiresAt))
	}
	if patch.LastSeenAt != nil {
		sets = append(sets, "last_seen_at = "+arg(*patch.LastSeenAt))
	}
	if patch.ConnectedAt != nil {
		sets = append(sets, "connected_at = "+arg(*patch.ConnectedAt))
	}
	if patch.ClearConnected {
		sets = append(sets, "connected_at = NULL")
	}
	if patch.BytesIn != nil {
		sets = append(sets, "bytes_in = "+arg(*patch.BytesIn))
	}
	if patch.BytesOut != nil {
		sets = append(sets, "bytes_out = "+arg(*patch.BytesOut))
	}
	if patch.Notes != nil {
		sets = append(sets, "notes = "+arg(*patch.Notes))
	}

	query := `
		UPDATE vpn_account SET ` + strings.Join(sets, ", ") + `
		WHERE id = $1 AND version = $2
		RETURNING ` + accountColumns
	acc, err := scanAccount(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, repository.ErrNotFound) {
		// Distinguir fila ausente de versión stale.
		var exists bool
		if qErr := r.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM vpn_account WHERE id = $1)`, id,
		).Scan(&exists); qErr == nil && exists {
			return nil, repository.ErrVersionConflict
		}
		return nil, repository.ErrNotFound
	}
	return acc, err
}

func (r *accountRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM vpn_account WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
