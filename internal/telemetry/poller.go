// Package telemetry observa el status del servidor VPN y lo vuelca sobre
// las cuentas: última actividad, conexión en curso, bytes transferidos y el
// historial de conexiones.
package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/tunneljohn/internal/cache"
	"github.com/dropDatabas3/tunneljohn/internal/domain/repository"
	"github.com/dropDatabas3/tunneljohn/internal/observability/logger"
	"github.com/dropDatabas3/tunneljohn/internal/provision"
)

// StatusCacheKey es la clave bajo la que se cachea el último snapshot.
const StatusCacheKey = "vpn:status"

// Snapshot es lo que se publica en el cache para el surface HTTP.
type Snapshot struct {
	TakenAt time.Time                   `json:"taken_at"`
	Clients []provision.ConnectedClient `json:"clients"`
}

// Poller sincroniza el estado observado con el repositorio.
//
// El status log es la única fuente: un nombre que desaparece entre dos
// pasadas se interpreta como desconexión y produce un ConnectionLog.
type Poller struct {
	accounts repository.AccountRepository
	logs     repository.ConnectionLogRepository
	source   provision.StatusSource
	cache    cache.Cache
	interval time.Duration

	// prev es el snapshot de la pasada anterior, por common name.
	prev map[string]provision.ConnectedClient

	// now es inyectable en tests.
	now func() time.Time
}

// New crea un Poller. c puede ser nil (no se publica snapshot).
func New(accounts repository.AccountRepository, logs repository.ConnectionLogRepository, source provision.StatusSource, c cache.Cache, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{
		accounts: accounts,
		logs:     logs,
		source:   source,
		cache:    c,
		interval: interval,
		prev:     make(map[string]provision.ConnectedClient),
		now:      time.Now,
	}
}

// Run sondea periódicamente hasta que ctx termine.
func (p *Poller) Run(ctx context.Context) {
	log := logger.Named("telemetry")
	tick := time.NewTicker(p.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if err := p.PollOnce(ctx); err != nil {
				log.Warn("status poll failed", logger.Err(err))
			}
		}
	}
}

// PollOnce lee el status una vez y aplica las diferencias.
func (p *Poller) PollOnce(ctx context.Context) error {
	clients, err := p.source.ConnectedClients(ctx)
	if err != nil {
		return err
	}
	now := p.now().UTC()

	current := make(map[string]provision.ConnectedClient, len(clients))
	for _, cl := range clients {
		current[cl.CommonName] = cl
		p.applyConnected(ctx, cl, now)
	}

	// Lo que estaba y ya no está se registra como desconexión.
	for name, was := range p.prev {
		if _, still := current[name]; !still {
			p.applyDisconnected(ctx, name, was, now)
		}
	}
	p.prev = current

	if p.cache != nil {
		if raw, err := json.Marshal(Snapshot{TakenAt: now, Clients: clients}); err == nil {
			p.cache.Set(StatusCacheKey, raw, 2*p.interval)
		}
	}
	return nil
}

func (p *Poller) applyConnected(ctx context.Context, cl provision.ConnectedClient, now time.Time) {
	log := logger.Named("telemetry").With(logger.AccountName(cl.CommonName))

	acc, err := p.accounts.FindByName(ctx, cl.CommonName)
	if err != nil {
		if repository.IsNotFound(err) {
			// Un common name sin cuenta es ruido del servidor, no un error.
			log.Debug("connected client without account")
			return
		}
		log.Warn("account lookup failed", logger.Err(err))
		return
	}

	patch := repository.AccountPatch{
		LastSeenAt: &now,
		BytesIn:    &cl.BytesReceived,
		BytesOut:   &cl.BytesSent,
	}
	if acc.ConnectedAt == nil || !acc.ConnectedAt.Equal(cl.ConnectedSince) {
		since := cl.ConnectedSince
		patch.ConnectedAt = &since
	}
	p.patchWithRetry(ctx, acc, patch, log)
}

func (p *Poller) applyDisconnected(ctx context.Context, name string, was provision.ConnectedClient, now time.Time) {
	log := logger.Named("telemetry").With(logger.AccountName(name))

	acc, err := p.accounts.FindByName(ctx, name)
	if err != nil {
		if !repository.IsNotFound(err) {
			log.Warn("account lookup failed", logger.Err(err))
		}
		return
	}

	disconnectedAt := now
	if err := p.logs.Append(ctx, repository.ConnectionLog{
		AccountID:      acc.ID,
		ConnectedAt:    was.ConnectedSince,
		DisconnectedAt: &disconnectedAt,
		BytesIn:        was.BytesReceived,
		BytesOut:       was.BytesSent,
		ClientAddr:     was.RealAddress,
	}); err != nil {
		log.Warn("connection log append failed", logger.Err(err))
	}

	p.patchWithRetry(ctx, acc, repository.AccountPatch{
		LastSeenAt:     &now,
		ClearConnected: true,
	}, log)
}

// patchWithRetry aplica el patch tolerando una colisión de versión: la
// telemetría compite con admin y reconciler por la misma fila.
func (p *Poller) patchWithRetry(ctx context.Context, acc *repository.Account, patch repository.AccountPatch, log *zap.Logger) {
	if _, err := p.accounts.Update(ctx, acc.ID, patch, acc.Version); err != nil {
		if !repository.IsVersionConflict(err) {
			log.Warn("telemetry update failed", logger.Err(err))
			return
		}
		fresh, ferr := p.accounts.FindByID(ctx, acc.ID)
		if ferr != nil {
			return
		}
		if _, err := p.accounts.Update(ctx, acc.ID, patch, fresh.Version); err != nil {
			log.Warn("telemetry update failed after retry", logger.Err(err))
		}
	}
}
