package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Account representa una cuenta VPN con acceso acotado en el tiempo.
type Account struct {
	ID          uuid.UUID
	RequesterID int64 // identidad externa del dueño (0 = creada por admin, sin requester)
	Name        string
	SecretHash  string // hash bcrypt del secreto; nunca el plaintext
	Active      bool
	IsAdmin     bool
	ProfilePath string // artefacto .ovpn más reciente; puede estar vacío o stale
	CreatedAt   time.Time
	ExpiresAt   time.Time

	// Telemetría de conexión (producida por internal/telemetry).
	LastSeenAt  *time.Time
	ConnectedAt *time.Time
	BytesIn     int64
	BytesOut    int64

	MaxConnections int
	Notes          string

	// Version es el contador de versión optimista. Cada Update exitoso lo
	// incrementa; un Update con expectedVersion distinto falla con
	// ErrVersionConflict.
	Version int64
}

// Expired indica si la cuenta ya pasó su fecha de expiración.
func (a *Account) Expired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}

// CreateAccountInput contiene los datos para crear una cuenta.
type CreateAccountInput struct {
	RequesterID    int64
	Name           string
	SecretHash     string
	IsAdmin        bool
	ExpiresAt      time.Time
	MaxConnections int
	Notes          string
}

// AccountPatch contiene los campos actualizables de una cuenta.
// Los punteros nil se ignoran.
type AccountPatch struct {
	Active      *bool
	SecretHash  *string
	ProfilePath *string
	ExpiresAt   *time.Time

	LastSeenAt  *time.Time
	ConnectedAt *time.Time
	// ClearConnected pone connected_at en NULL (desconexión observada).
	ClearConnected bool
	BytesIn        *int64
	BytesOut       *int64
	Notes          *string
}

// AccountRepository define operaciones sobre cuentas.
//
// El constraint de unicidad de Name lo aplica la capa de storage: el chequeo
// previo que hacen los callers es una optimización, no la fuente de verdad.
type AccountRepository interface {
	// FindByID busca una cuenta por ID. Retorna ErrNotFound si no existe.
	FindByID(ctx context.Context, id uuid.UUID) (*Account, error)

	// FindByName busca una cuenta por nombre. Retorna ErrNotFound si no existe.
	FindByName(ctx context.Context, name string) (*Account, error)

	// FindByRequester busca la cuenta del requester externo.
	// Retorna ErrNotFound si no existe.
	FindByRequester(ctx context.Context, requesterID int64) (*Account, error)

	// FindExpiredActive retorna las cuentas activas cuya expiración ya pasó.
	FindExpiredActive(ctx context.Context, now time.Time) ([]Account, error)

	// List retorna todas las cuentas, más recientes primero.
	List(ctx context.Context) ([]Account, error)

	// Create persiste una cuenta nueva con Active=true y Version=1.
	// Retorna ErrConflict si el nombre o el requester ya existen.
	Create(ctx context.Context, input CreateAccountInput) (*Account, error)

	// Update aplica un patch con versión optimista. Retorna la cuenta
	// actualizada, ErrNotFound si no existe, o ErrVersionConflict si
	// expectedVersion no coincide.
	Update(ctx context.Context, id uuid.UUID, patch AccountPatch, expectedVersion int64) (*Account, error)

	// Delete elimina la cuenta (hard delete). Retorna ErrNotFound si no existe.
	Delete(ctx context.Context, id uuid.UUID) error
}

// ConnectionLog representa una sesión VPN observada.
type ConnectionLog struct {
	ID             uuid.UUID
	AccountID      uuid.UUID
	ConnectedAt    time.Time
	DisconnectedAt *time.Time
	BytesIn        int64
	BytesOut       int64
	ClientAddr     string
	Protocol       string
}

// ConnectionLogRepository define operaciones sobre el historial de conexiones.
type ConnectionLogRepository interface {
	Append(ctx context.Context, log ConnectionLog) error
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]ConnectionLog, error)
	// DeleteOlderThan borra entradas anteriores al cutoff y retorna cuántas.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditEntry es un registro append-only de una acción administrativa.
type AuditEntry struct {
	ID        uuid.UUID
	Actor     string // "admin", "system", "requester:<id>"
	Action    string
	TargetID  *uuid.UUID
	Detail    string
	Success   bool
	CreatedAt time.Time
}

// AuditRepository persiste el audit trail.
type AuditRepository interface {
	Append(ctx context.Context, entry AuditEntry) error
	ListRecent(ctx context.Context, limit int) ([]AuditEntry, error)
}
