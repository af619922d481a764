package pg

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/tunneljohn/internal/domain/repository"
)

// ─── ConnectionLogRepository ───

type connLogRepo struct{ pool *pgxpool.Pool }

func (r *connLogRepo) Append(ctx context.Context, log repository.ConnectionLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	const query = `
		INSERT INTO connection_log
			(id, account_id, connected_at, disconnected_at, bytes_in, bytes_out, client_addr, protocol)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		log.ID, log.AccountID, log.ConnectedAt, log.DisconnectedAt,
		log.BytesIn, log.BytesOut, log.ClientAddr, log.Protocol,
	)
	return err
}

func (r *connLogRepo) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]repository.ConnectionLog, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
		SELECT id, account_id, connected_at, disconnected_at, bytes_in, bytes_out, client_addr, protocol
		FROM connection_log
		WHERE account_id = $1
		ORDER BY connected_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.ConnectionLog
	for rows.Next() {
		var l repository.ConnectionLog
		if err := rows.Scan(
			&l.ID, &l.AccountID, &l.ConnectedAt, &l.DisconnectedAt,
			&l.BytesIn, &l.BytesOut, &l.ClientAddr, &l.Protocol,
		); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *connLogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM connection_log WHERE connected_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ─── AuditRepository ───

type auditRepo struct{ pool *pgxpool.Pool }

func (r *auditRepo) Append(ctx context.Context, entry repository.AuditEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	const query = `
		INSERT INTO system_log (id, actor, action, target_id, detail, success, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`
	_, err := r.pool.Exec(ctx, query,
		entry.ID, entry.Actor, entry.Action, entry.TargetID, entry.Detail, entry.Success,
	)
	return err
}

func (r *auditRepo) ListRecent(ctx context.Context, limit int) ([]repository.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
		SELECT id, actor, action, target_id, detail, success, created_at
		FROM system_log
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.AuditEntry
	for rows.Next() {
		var e repository.AuditEntry
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.TargetID, &e.Detail, &e.Success, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
