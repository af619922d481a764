// Package lifecycle orquesta el ciclo de vida de las cuentas: el registro
// persistido, la credencial del sistema y el artefacto de perfil avanzan
// juntos, y los fallos parciales quedan en un estado recuperable.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/tunneljohn/internal/audit"
	"github.com/dropDatabas3/tunneljohn/internal/domain/repository"
	"github.com/dropDatabas3/tunneljohn/internal/metrics"
	"github.com/dropDatabas3/tunneljohn/internal/notify"
	"github.com/dropDatabas3/tunneljohn/internal/observability/logger"
	"github.com/dropDatabas3/tunneljohn/internal/provision"
	"github.com/dropDatabas3/tunneljohn/internal/secrets"
	"github.com/dropDatabas3/tunneljohn/internal/validation"
)

// Config son los parámetros de negocio del orquestador.
type Config struct {
	// Validity es la vigencia por defecto de una cuenta nueva.
	Validity time.Duration
	// MaxConnections es el cupo de conexiones simultáneas por defecto.
	MaxConnections int
	// BcryptCost es el costo de hashing de secretos.
	BcryptCost int
}

// Orchestrator coordina repositorio y provisioner.
//
// Regla de orden: el registro se persiste antes de tocar recursos externos,
// de modo que el nombre queda reservado aunque el provisioning falle. Una
// cuenta con provisioning a medias queda Active=false y se retoma con
// FinishProvisioning.
type Orchestrator struct {
	accounts repository.AccountRepository
	prov     provision.Provisioner
	sink     audit.Sink
	notifier notify.Notifier
	cfg      Config

	// now es inyectable en tests.
	now func() time.Time
}

// SetNotifier cambia el notificador de operador (por defecto notify.Nop).
func (o *Orchestrator) SetNotifier(n notify.Notifier) {
	if n != nil {
		o.notifier = n
	}
}

// New crea un Orchestrator. sink puede ser nil (se usa LogSink).
func New(accounts repository.AccountRepository, prov provision.Provisioner, sink audit.Sink, cfg Config) *Orchestrator {
	if sink == nil {
		sink = audit.LogSink{}
	}
	if cfg.Validity <= 0 {
		cfg.Validity = 30 * 24 * time.Hour
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 3
	}
	return &Orchestrator{
		accounts: accounts,
		prov:     prov,
		sink:     sink,
		notifier: notify.Nop{},
		cfg:      cfg,
		now:      time.Now,
	}
}

// CreateParams son los datos de una cuenta nueva.
type CreateParams struct {
	RequesterID int64
	Name        string
	Secret      string
	IsAdmin     bool

	// Validity y MaxConnections en cero usan los defaults del Config.
	Validity       time.Duration
	MaxConnections int
	Actor          string
	Notes          string
}

// Create valida, persiste y provisiona una cuenta nueva.
//
// Si el provisioning falla después de persistir, la fila queda Active=false
// con el nombre reservado y se retorna el error del paso fallido; la
// credencial ya creada no se revierte para que FinishProvisioning pueda
// retomar desde ahí.
func (o *Orchestrator) Create(ctx context.Context, p CreateParams) (*repository.Account, error) {
	if err := validation.ValidateName(p.Name); err != nil {
		return nil, err
	}
	if err := validation.ValidateSecret(p.Secret); err != nil {
		return nil, err
	}

	// Chequeo previo barato; la fuente de verdad es el unique del storage.
	if _, err := o.accounts.FindByName(ctx, p.Name); err == nil {
		return nil, ErrDuplicateName
	} else if !repository.IsNotFound(err) {
		return nil, err
	}

	hash, err := secrets.Hash(p.Secret, o.cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	validity := p.Validity
	if validity <= 0 {
		validity = o.cfg.Validity
	}
	maxConns := p.MaxConnections
	if maxConns <= 0 {
		maxConns = o.cfg.MaxConnections
	}

	acc, err := o.accounts.Create(ctx, repository.CreateAccountInput{
		RequesterID:    p.RequesterID,
		Name:           p.Name,
		SecretHash:     hash,
		IsAdmin:        p.IsAdmin,
		ExpiresAt:      o.now().UTC().Add(validity),
		MaxConnections: maxConns,
		Notes:          p.Notes,
	})
	if err != nil {
		if repository.IsConflict(err) {
			return nil, ErrDuplicateName
		}
		return nil, err
	}

	log := logger.Named("lifecycle").With(
		logger.AccountID(acc.ID.String()),
		logger.AccountName(acc.Name),
	)

	if _, err := o.prov.CreateCredential(ctx, acc.Name, p.Secret); err != nil {
		return nil, o.failCreate(ctx, acc, p.Actor, err)
	}

	profilePath, err := o.prov.GenerateProfile(ctx, acc.Name)
	if err != nil {
		return nil, o.failCreate(ctx, acc, p.Actor, err)
	}

	updated, err := o.accounts.Update(ctx, acc.ID,
		repository.AccountPatch{ProfilePath: &profilePath}, acc.Version)
	if err != nil {
		return nil, o.failCreate(ctx, acc, p.Actor, err)
	}

	log.Info("account provisioned",
		logger.String("profile", profilePath),
		logger.Requester(p.RequesterID),
	)
	metrics.AccountsCreated.Inc()
	o.record(ctx, p.Actor, audit.ActionCreate, &acc.ID, "name="+acc.Name, true)
	o.notifier.AccountCreated(ctx, acc.Name, p.RequesterID)
	return updated, nil
}

// failCreate deja la fila inactiva tras un fallo parcial de provisioning.
// El registro persiste para que el nombre siga reservado y la operación se
// pueda retomar con FinishProvisioning.
func (o *Orchestrator) failCreate(ctx context.Context, acc *repository.Account, actor string, cause error) error {
	inactive := false
	if _, err := o.accounts.Update(ctx, acc.ID,
		repository.AccountPatch{Active: &inactive}, acc.Version); err != nil {
		logger.Named("lifecycle").Error("could not mark half-provisioned account inactive",
			logger.AccountID(acc.ID.String()), logger.Err(err))
	}
	metrics.ProvisioningFailures.WithLabelValues(failStep(cause)).Inc()
	o.record(ctx, actor, audit.ActionCreate, &acc.ID,
		fmt.Sprintf("name=%s error=%v", acc.Name, cause), false)
	o.notifier.ProvisioningStuck(ctx, acc.Name, failStep(cause))
	return cause
}

// Delete elimina el registro y hace limpieza best-effort de los recursos
// externos. La fila se borra aunque la limpieza falle: un recurso huérfano
// es preferible a una cuenta fantasma que bloquea el nombre.
func (o *Orchestrator) Delete(ctx context.Context, id uuid.UUID, actor string) error {
	acc, err := o.accounts.FindByID(ctx, id)
	if err != nil {
		return err
	}

	credOK := o.prov.DeleteCredential(ctx, acc.Name)
	artOK := o.prov.CleanupArtifacts(ctx, acc.Name)
	cleanOK := credOK && artOK
	if !cleanOK {
		logger.Named("lifecycle").Warn("cleanup incomplete on delete",
			logger.AccountName(acc.Name),
			logger.Bool("credential", credOK),
			logger.Bool("artifacts", artOK),
		)
	}

	if err := o.accounts.Delete(ctx, id); err != nil {
		return err
	}
	metrics.AccountsDeleted.Inc()
	o.record(ctx, actor, audit.ActionDelete, &id, "name="+acc.Name, cleanOK)
	return nil
}

// SetActive habilita o deshabilita la cuenta. Idempotente: si el estado ya
// es el pedido, no toca nada. Reactivar una cuenta expirada retorna
// ErrAlreadyExpired; hay que extenderla primero.
func (o *Orchestrator) SetActive(ctx context.Context, id uuid.UUID, active bool, actor string) (*repository.Account, error) {
	acc, err := o.accounts.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if active && acc.Expired(o.now()) {
		return nil, ErrAlreadyExpired
	}
	if acc.Active == active {
		return acc, nil
	}

	updated, err := o.accounts.Update(ctx, id,
		repository.AccountPatch{Active: &active}, acc.Version)
	if err != nil {
		return nil, err
	}

	var ok bool
	var step string
	if active {
		ok, step = o.prov.EnableCredential(ctx, acc.Name), "enable"
	} else {
		ok, step = o.prov.DisableCredential(ctx, acc.Name), "disable"
	}
	action := audit.ActionDisable
	if active {
		action = audit.ActionEnable
	}
	if !ok {
		// Revertir la fila: el registro no debe anunciar un estado que la
		// credencial no tiene.
		prev := acc.Active
		if _, rbErr := o.accounts.Update(ctx, id,
			repository.AccountPatch{Active: &prev}, updated.Version); rbErr != nil {
			logger.Named("lifecycle").Error("rollback after credential failure failed",
				logger.AccountID(id.String()), logger.Err(rbErr))
		}
		metrics.ProvisioningFailures.WithLabelValues(step).Inc()
		pErr := &provision.Error{Step: step, Name: acc.Name, Err: errCredentialToggle}
		o.record(ctx, actor, action, &id, "name="+acc.Name+" error="+pErr.Error(), false)
		return nil, pErr
	}

	o.record(ctx, actor, action, &id, "name="+acc.Name, true)
	return updated, nil
}

// Extend corre la expiración de la cuenta hacia adelante. Si la cuenta ya
// expiró, la nueva vigencia cuenta desde ahora; la cuenta sigue inactiva
// hasta que el operador la habilite.
func (o *Orchestrator) Extend(ctx context.Context, id uuid.UUID, d time.Duration, actor string) (*repository.Account, error) {
	if d <= 0 {
		return nil, repository.ErrInvalidInput
	}
	acc, err := o.accounts.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	base := acc.ExpiresAt
	if now := o.now().UTC(); base.Before(now) {
		base = now
	}
	newExp := base.Add(d)
	updated, err := o.accounts.Update(ctx, id,
		repository.AccountPatch{ExpiresAt: &newExp}, acc.Version)
	if err != nil {
		return nil, err
	}
	o.record(ctx, actor, audit.ActionExtend, &id,
		fmt.Sprintf("name=%s until=%s", acc.Name, newExp.Format(time.RFC3339)), true)
	return updated, nil
}

// Regenerate genera un artefacto de perfil nuevo y recién entonces apunta
// la fila a él; el path anterior queda válido hasta ese momento. Retorna la
// cuenta actualizada y el path anterior (el sweeper de artefactos lo
// recogerá cuando envejezca).
func (o *Orchestrator) Regenerate(ctx context.Context, id uuid.UUID, actor string) (*repository.Account, string, error) {
	acc, err := o.accounts.FindByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if acc.Expired(o.now()) {
		return nil, "", ErrAlreadyExpired
	}

	path, err := o.prov.GenerateProfile(ctx, acc.Name)
	if err != nil {
		metrics.ProvisioningFailures.WithLabelValues(failStep(err)).Inc()
		o.record(ctx, actor, audit.ActionRegenerate, &id, "name="+acc.Name+" error="+err.Error(), false)
		return nil, "", err
	}

	updated, err := o.accounts.Update(ctx, id,
		repository.AccountPatch{ProfilePath: &path}, acc.Version)
	if err != nil {
		return nil, "", err
	}
	o.record(ctx, actor, audit.ActionRegenerate, &id, "name="+acc.Name, true)
	return updated, acc.ProfilePath, nil
}

// FinishProvisioning retoma una cuenta que quedó a medias: credencial y
// perfil se (re)crean y la fila pasa a Active=true. Requiere un secreto
// nuevo porque el plaintext original nunca se guarda.
func (o *Orchestrator) FinishProvisioning(ctx context.Context, id uuid.UUID, secret, actor string) (*repository.Account, error) {
	acc, err := o.accounts.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if acc.Active {
		return nil, ErrAlreadyProvisioned
	}
	if acc.Expired(o.now()) {
		return nil, ErrAlreadyExpired
	}
	if err := validation.ValidateSecret(secret); err != nil {
		return nil, err
	}
	hash, err := secrets.Hash(secret, o.cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	if _, err := o.prov.CreateCredential(ctx, acc.Name, secret); err != nil {
		metrics.ProvisioningFailures.WithLabelValues(failStep(err)).Inc()
		o.record(ctx, actor, audit.ActionFinishProv, &id, "name="+acc.Name+" error="+err.Error(), false)
		return nil, err
	}
	path, err := o.prov.GenerateProfile(ctx, acc.Name)
	if err != nil {
		metrics.ProvisioningFailures.WithLabelValues(failStep(err)).Inc()
		o.record(ctx, actor, audit.ActionFinishProv, &id, "name="+acc.Name+" error="+err.Error(), false)
		return nil, err
	}

	active := true
	updated, err := o.accounts.Update(ctx, id, repository.AccountPatch{
		Active:      &active,
		SecretHash:  &hash,
		ProfilePath: &path,
	}, acc.Version)
	if err != nil {
		return nil, err
	}
	o.record(ctx, actor, audit.ActionFinishProv, &id, "name="+acc.Name, true)
	return updated, nil
}

func (o *Orchestrator) record(ctx context.Context, actor, action string, target *uuid.UUID, detail string, success bool) {
	if actor == "" {
		actor = audit.ActorSystem
	}
	o.sink.Record(ctx, actor, action, target, detail, success)
}

// failStep extrae el paso fallido de un error de provisioning.
func failStep(err error) string {
	var pErr *provision.Error
	if errors.As(err, &pErr) {
		return pErr.Step
	}
	return "store"
}
