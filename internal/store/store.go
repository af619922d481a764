// Package store selecciona el backend de persistencia según configuración.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/dropDatabas3/tunneljohn/internal/domain/repository"
	"github.com/dropDatabas3/tunneljohn/internal/store/adapters/memory"
	"github.com/dropDatabas3/tunneljohn/internal/store/adapters/pg"
)

// Stores agrupa los repositorios abiertos sobre un mismo backend.
type Stores struct {
	Accounts       repository.AccountRepository
	ConnectionLogs repository.ConnectionLogRepository
	Audit          repository.AuditRepository

	Close func() error
}

// Config describe el backend a abrir.
type Config struct {
	Driver string // "postgres" | "memory"
	DSN    string
}

// Open abre el backend configurado. Para Postgres aplica además las
// migraciones embebidas antes de devolver los repositorios.
func Open(ctx context.Context, cfg Config) (*Stores, error) {
	switch strings.ToLower(cfg.Driver) {
	case "postgres", "pg", "postgresql":
		st, err := pg.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("store: open postgres: %w", err)
		}
		if err := Migrate(ctx, st.Pool()); err != nil {
			st.Close()
			return nil, fmt.Errorf("store: migrate: %w", err)
		}
		return &Stores{
			Accounts:       st.Accounts(),
			ConnectionLogs: st.ConnectionLogs(),
			Audit:          st.Audit(),
			Close:          st.Close,
		}, nil
	case "memory", "mem":
		st := memory.New()
		return &Stores{
			Accounts:       st.Accounts(),
			ConnectionLogs: st.ConnectionLogs(),
			Audit:          st.Audit(),
			Close:          st.Close,
		}, nil
	default:
		return nil, fmt.Errorf("store: unsupported driver: %s", cfg.Driver)
	}
}
