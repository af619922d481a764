// Package audit emite el audit trail de acciones administrativas.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/tunneljohn/internal/domain/repository"
	"github.com/dropDatabas3/tunneljohn/internal/observability/logger"
)

// Actores bien conocidos.
const (
	ActorSystem = "system"
	ActorAdmin  = "admin"
)

// RequesterActor arma el actor para una identidad externa.
func RequesterActor(requesterID int64) string {
	return fmt.Sprintf("requester:%d", requesterID)
}

// Acciones auditadas.
const (
	ActionCreate       = "account.create"
	ActionDelete       = "account.delete"
	ActionEnable       = "account.enable"
	ActionDisable      = "account.disable"
	ActionRegenerate   = "account.regenerate"
	ActionFinishProv   = "account.finish_provisioning"
	ActionExpireSweep  = "reconcile.expire"
	ActionExtend       = "account.extend"
	ActionProfileFetch = "profile.fetch"
)

// Sink recibe eventos de auditoría. Las implementaciones no deben fallar
// la operación del caller: registrar el error y seguir.
type Sink interface {
	Record(ctx context.Context, actor, action string, target *uuid.UUID, detail string, success bool)
}

// StoreSink persiste eventos via AuditRepository, con fallback a log.
type StoreSink struct {
	Repo repository.AuditRepository
}

func (s *StoreSink) Record(ctx context.Context, actor, action string, target *uuid.UUID, detail string, success bool) {
	entry := repository.AuditEntry{
		ID:        uuid.New(),
		Actor:     actor,
		Action:    action,
		TargetID:  target,
		Detail:    detail,
		Success:   success,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.Repo.Append(ctx, entry); err != nil {
		logger.Named("audit").Warn("audit append failed, falling back to log",
			logger.Err(err),
			logger.String("action", action),
			logger.Actor(actor),
		)
		logEntry(entry)
	}
}

// LogSink escribe eventos solo al logger. Usado cuando no hay base de datos
// (driver memory) o como sink de desarrollo.
type LogSink struct{}

func (LogSink) Record(_ context.Context, actor, action string, target *uuid.UUID, detail string, success bool) {
	logEntry(repository.AuditEntry{
		Actor:     actor,
		Action:    action,
		TargetID:  target,
		Detail:    detail,
		Success:   success,
		CreatedAt: time.Now().UTC(),
	})
}

func logEntry(e repository.AuditEntry) {
	l := logger.Named("audit").With(
		logger.Actor(e.Actor),
		logger.String("action", e.Action),
		logger.Bool("success", e.Success),
	)
	if e.TargetID != nil {
		l = l.With(logger.AccountID(e.TargetID.String()))
	}
	if e.Detail != "" {
		l = l.With(logger.String("detail", e.Detail))
	}
	l.Info("audit")
}
