// Package notify avisa al operador de eventos relevantes del ciclo de vida.
package notify

import "context"

// Notifier recibe los eventos. Las implementaciones no deben fallar al
// caller: registrar el error y seguir.
type Notifier interface {
	// AccountCreated avisa que una cuenta quedó provisionada.
	AccountCreated(ctx context.Context, name string, requesterID int64)

	// ReconcileSummary resume una pasada del reconciler que desactivó algo.
	ReconcileSummary(ctx context.Context, scanned, deactivated, failed int)

	// ProvisioningStuck avisa que una cuenta quedó con provisioning a
	// medias y necesita intervención.
	ProvisioningStuck(ctx context.Context, name, step string)
}

// Nop descarta todos los eventos.
type Nop struct{}

func (Nop) AccountCreated(context.Context, string, int64)     {}
func (Nop) ReconcileSummary(context.Context, int, int, int)   {}
func (Nop) ProvisioningStuck(context.Context, string, string) {}
