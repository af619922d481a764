// Package reconcile contiene los loops de fondo: el reconciler que
// desactiva cuentas expiradas y el sweeper de retención de artefactos y
// logs de conexión.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/tunneljohn/internal/audit"
	"github.com/dropDatabas3/tunneljohn/internal/domain/repository"
	"github.com/dropDatabas3/tunneljohn/internal/metrics"
	"github.com/dropDatabas3/tunneljohn/internal/notify"
	"github.com/dropDatabas3/tunneljohn/internal/observability/logger"
	"github.com/dropDatabas3/tunneljohn/internal/provision"
)

// ErrPassInProgress indica que ya hay una pasada corriendo.
var ErrPassInProgress = errors.New("reconcile pass already in progress")

// Report resume una pasada del reconciler.
type Report struct {
	Scanned     int
	Deactivated int
	Failed      int
}

// Reconciler desactiva las cuentas activas cuya expiración ya pasó.
//
// Las pasadas nunca se solapan: si el intervalo vence con una pasada aún
// corriendo, el tick se salta. Un fallo sobre una cuenta no aborta la
// pasada; la cuenta queda activa y se reintenta en la siguiente.
type Reconciler struct {
	accounts repository.AccountRepository
	prov     provision.Provisioner
	sink     audit.Sink
	notifier notify.Notifier
	interval time.Duration

	running atomic.Bool

	// now es inyectable en tests.
	now func() time.Time
}

// New crea un Reconciler. sink y notifier pueden ser nil.
func New(accounts repository.AccountRepository, prov provision.Provisioner, sink audit.Sink, notifier notify.Notifier, interval time.Duration) *Reconciler {
	if sink == nil {
		sink = audit.LogSink{}
	}
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &Reconciler{
		accounts: accounts,
		prov:     prov,
		sink:     sink,
		notifier: notifier,
		interval: interval,
		now:      time.Now,
	}
}

// Run ejecuta una pasada inmediata y después una por intervalo, hasta que
// ctx termine.
func (r *Reconciler) Run(ctx context.Context) {
	log := logger.Named("reconcile")
	r.pass(ctx, log)

	tick := time.NewTicker(r.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			r.pass(ctx, log)
		}
	}
}

func (r *Reconciler) pass(ctx context.Context, log *zap.Logger) {
	rep, err := r.RunOnce(ctx)
	switch {
	case errors.Is(err, ErrPassInProgress):
		log.Warn("previous pass still running, skipping tick")
	case err != nil:
		log.Error("reconcile pass failed", logger.Err(err))
	case rep.Deactivated > 0 || rep.Failed > 0:
		log.Info("reconcile pass done",
			logger.Int("scanned", rep.Scanned),
			logger.Int("deactivated", rep.Deactivated),
			logger.Int("failed", rep.Failed),
		)
	}
}

// RunOnce ejecuta una sola pasada. Retorna ErrPassInProgress si otra sigue
// corriendo.
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	if !r.running.CompareAndSwap(false, true) {
		return Report{}, ErrPassInProgress
	}
	defer r.running.Store(false)

	now := r.now().UTC()
	expired, err := r.accounts.FindExpiredActive(ctx, now)
	if err != nil {
		return Report{}, err
	}

	rep := Report{Scanned: len(expired)}
	log := logger.Named("reconcile")
	for i := range expired {
		acc := &expired[i]
		if err := r.deactivate(ctx, acc, now); err != nil {
			rep.Failed++
			log.Warn("could not deactivate expired account",
				logger.AccountName(acc.Name), logger.Err(err))
			continue
		}
		rep.Deactivated++
		metrics.ReconcileDeactivated.Inc()
		// Mismo rastro que una desactivación administrativa, más el motivo.
		r.sink.Record(ctx, audit.ActorSystem, audit.ActionDisable, &acc.ID, "name="+acc.Name, true)
		r.sink.Record(ctx, audit.ActorSystem, audit.ActionExpireSweep, &acc.ID,
			fmt.Sprintf("name=%s expired_at=%s", acc.Name, acc.ExpiresAt.Format(time.RFC3339)), true)
	}
	metrics.ReconcilePasses.Inc()

	if rep.Deactivated > 0 && r.notifier != nil {
		r.notifier.ReconcileSummary(ctx, rep.Scanned, rep.Deactivated, rep.Failed)
	}
	return rep, nil
}

// deactivate apaga primero la credencial y recién entonces la fila. Si la
// credencial no se pudo apagar, la fila queda activa y la cuenta vuelve a
// ser elegible en la próxima pasada.
func (r *Reconciler) deactivate(ctx context.Context, acc *repository.Account, now time.Time) error {
	if !r.prov.DisableCredential(ctx, acc.Name) {
		metrics.ProvisioningFailures.WithLabelValues("disable").Inc()
		return &provision.Error{Step: "disable", Name: acc.Name, Err: errors.New("disable credential failed")}
	}

	inactive := false
	patch := repository.AccountPatch{Active: &inactive}
	_, err := r.accounts.Update(ctx, acc.ID, patch, acc.Version)
	if repository.IsVersionConflict(err) {
		// Alguien tocó la cuenta entre el scan y acá. Releer y decidir.
		fresh, ferr := r.accounts.FindByID(ctx, acc.ID)
		if ferr != nil {
			return ferr
		}
		if fresh.Active && fresh.Expired(now) {
			_, err = r.accounts.Update(ctx, acc.ID, patch, fresh.Version)
		} else {
			// La extendieron o la desactivaron por otra vía; si sigue
			// activa, deshacer el apagado de credencial.
			if fresh.Active {
				r.prov.EnableCredential(ctx, acc.Name)
			}
			return nil
		}
	}
	if repository.IsNotFound(err) {
		// Borrada en el medio; nada que reconciliar.
		return nil
	}
	return err
}
