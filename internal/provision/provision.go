// Package provision define la capability de provisioning de recursos
// externos: la credencial a nivel de sistema operativo y el artefacto de
// perfil de conexión. El orquestador depende solo de esta interfaz.
package provision

import (
	"context"
	"fmt"
	"time"
)

// Provisioner crea y destruye los recursos externos de una cuenta.
//
// Ninguna operación toca la base de datos; la consistencia entre el registro
// persistido y estos recursos la maneja internal/lifecycle.
type Provisioner interface {
	// CreateCredential crea (o resetea, si ya existe) la credencial del
	// sistema para name/secret y retorna una referencia opaca.
	CreateCredential(ctx context.Context, name, secret string) (string, error)

	// DeleteCredential elimina la credencial. Retorna false si no pudo.
	DeleteCredential(ctx context.Context, name string) bool

	// EnableCredential habilita la credencial. Retorna false si no pudo.
	EnableCredential(ctx context.Context, name string) bool

	// DisableCredential deshabilita la credencial. Retorna false si no pudo.
	DisableCredential(ctx context.Context, name string) bool

	// GenerateProfile genera un artefacto de perfil nuevo para la cuenta y
	// retorna su referencia (path). No borra artefactos previos.
	GenerateProfile(ctx context.Context, name string) (string, error)

	// CleanupArtifacts elimina todos los artefactos de la cuenta.
	// Retorna false si algo no pudo eliminarse.
	CleanupArtifacts(ctx context.Context, name string) bool
}

// ConnectedClient es un cliente observado en el status del servidor VPN.
type ConnectedClient struct {
	CommonName     string
	RealAddress    string
	BytesReceived  int64
	BytesSent      int64
	ConnectedSince time.Time
}

// StatusSource expone el estado de conexiones del servidor VPN.
type StatusSource interface {
	ConnectedClients(ctx context.Context) ([]ConnectedClient, error)
}

// Error envuelve el fallo de un paso de provisioning con contexto suficiente
// para reintentar solo ese paso.
type Error struct {
	Step string // "credential" | "profile" | "enable" | "disable" | "cleanup"
	Name string // nombre de la cuenta
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provision %s for %q: %v", e.Step, e.Name, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
