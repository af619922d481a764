package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Métricas Prometheus del ciclo de vida de cuentas. Paquete standalone para
// evitar import cycles entre lifecycle, reconcile y HTTP.

var (
	AccountsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tunneljohn_accounts_created_total",
		Help: "Cuentas creadas exitosamente",
	})

	AccountsDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tunneljohn_accounts_deleted_total",
		Help: "Cuentas eliminadas",
	})

	ProvisioningFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tunneljohn_provisioning_failures_total",
		Help: "Fallos de provisioning por paso (credential|profile|enable|disable)",
	}, []string{"step"})

	ReconcilePasses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tunneljohn_reconcile_passes_total",
		Help: "Pasadas completadas del reconciler de expiración",
	})

	ReconcileDeactivated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tunneljohn_reconcile_deactivated_total",
		Help: "Cuentas desactivadas por expiración",
	})

	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tunneljohn_sessions_active",
		Help: "Sesiones de registro conversacional vivas",
	})

	SessionsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tunneljohn_sessions_expired_total",
		Help: "Sesiones de registro caídas por idle timeout",
	})
)

// Register registra las métricas en el registry dado (o el default si es nil).
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		AccountsCreated,
		AccountsDeleted,
		ProvisioningFailures,
		ReconcilePasses,
		ReconcileDeactivated,
		SessionsActive,
		SessionsExpired,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
