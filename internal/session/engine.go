// Package session implementa el diálogo de registro conversacional: una
// sesión por requester que recoge nombre y secreto por pasos y termina
// provisionando la cuenta.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dropDatabas3/tunneljohn/internal/audit"
	"github.com/dropDatabas3/tunneljohn/internal/domain/repository"
	"github.com/dropDatabas3/tunneljohn/internal/lifecycle"
	"github.com/dropDatabas3/tunneljohn/internal/metrics"
	"github.com/dropDatabas3/tunneljohn/internal/observability/logger"
	"github.com/dropDatabas3/tunneljohn/internal/validation"
)

// Step es el paso actual del diálogo.
type Step int

const (
	// StepName espera el nombre de la cuenta.
	StepName Step = iota
	// StepSecret espera el secreto.
	StepSecret
)

func (s Step) String() string {
	switch s {
	case StepName:
		return "awaiting_name"
	case StepSecret:
		return "awaiting_secret"
	default:
		return "unknown"
	}
}

var (
	// ErrNoSession indica que el requester no tiene sesión viva.
	ErrNoSession = errors.New("no active session")

	// ErrSessionExists indica que ya hay un diálogo en curso.
	ErrSessionExists = errors.New("session already in progress")

	// ErrSessionExpired indica que la sesión llegó a su deadline.
	ErrSessionExpired = errors.New("session expired")

	// ErrAlreadyRegistered indica que el requester ya tiene cuenta.
	ErrAlreadyRegistered = errors.New("requester already has an account")

	// ErrBusy indica que un input anterior sigue procesándose.
	ErrBusy = errors.New("previous input still processing")
)

// Creator provisiona la cuenta al final del diálogo. Lo satisface
// *lifecycle.Orchestrator.
type Creator interface {
	Create(ctx context.Context, p lifecycle.CreateParams) (*repository.Account, error)
}

// Reply es el resultado de un paso del diálogo.
type Reply struct {
	// Step es el paso en que quedó la sesión tras procesar el input.
	Step Step
	// Done indica que el diálogo terminó y Account está poblado.
	Done bool
	// Account es la cuenta provisionada (solo con Done).
	Account *repository.Account
}

type convo struct {
	step Step
	name string
	// startedAt fija el deadline de la sesión: startedAt + timeout,
	// sin importar cuánta actividad haya después.
	startedAt time.Time
	// busy marca un Submit en curso; la sesión no expira ni acepta otro
	// input mientras tanto.
	busy bool
}

// Engine mantiene a lo sumo una sesión viva por requester.
//
// La expiración es perezosa (cada operación chequea el deadline) más una
// pasada periódica via Run, para que las sesiones abandonadas disparen el
// callback aunque el requester nunca vuelva.
type Engine struct {
	mu     sync.Mutex
	convos map[int64]*convo

	creator  Creator
	accounts repository.AccountRepository
	timeout  time.Duration

	// OnExpired se invoca (fuera del lock) por cada sesión vencida.
	OnExpired func(requesterID int64)

	// now es inyectable en tests.
	now func() time.Time
}

// New crea un Engine. timeout en cero usa 5 minutos.
func New(creator Creator, accounts repository.AccountRepository, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Engine{
		convos:   make(map[int64]*convo),
		creator:  creator,
		accounts: accounts,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Start abre un diálogo nuevo para el requester. Falla con
// ErrSessionExists si ya hay uno vivo y con ErrAlreadyRegistered si el
// requester ya tiene cuenta.
func (e *Engine) Start(ctx context.Context, requesterID int64) error {
	if _, err := e.accounts.FindByRequester(ctx, requesterID); err == nil {
		return ErrAlreadyRegistered
	} else if !repository.IsNotFound(err) {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.convos[requesterID]; ok {
		if c.busy || !e.expiredLocked(c) {
			return ErrSessionExists
		}
		e.dropLocked(requesterID, true)
	}
	e.convos[requesterID] = &convo{step: StepName, startedAt: e.now()}
	metrics.SessionsActive.Inc()
	return nil
}

// Submit procesa el siguiente input del requester.
//
// Un input inválido deja la sesión en el mismo paso y retorna el error de
// validación; el requester puede reintentar. Un nombre que resulte
// duplicado también vuelve a StepName. El paso final llama al Creator y
// cierra la sesión.
func (e *Engine) Submit(ctx context.Context, requesterID int64, input string) (Reply, error) {
	e.mu.Lock()
	c, ok := e.convos[requesterID]
	if !ok {
		e.mu.Unlock()
		return Reply{}, ErrNoSession
	}
	if c.busy {
		e.mu.Unlock()
		return Reply{Step: c.step}, ErrBusy
	}
	if e.expiredLocked(c) {
		e.dropLocked(requesterID, true)
		e.mu.Unlock()
		e.notifyExpired(requesterID)
		return Reply{}, ErrSessionExpired
	}
	c.busy = true
	step, name := c.step, c.name
	e.mu.Unlock()

	// El trabajo del paso (lookups, bcrypt, provisioning) corre sin el
	// lock del engine; solo la transición de estado vuelve a tomarlo.
	reply, nextStep, nextName, done, err := e.advance(ctx, requesterID, step, name, input)

	e.mu.Lock()
	// Cancel pudo habernos sacado del mapa mientras corríamos.
	if cur, ok := e.convos[requesterID]; ok && cur == c {
		c.busy = false
		if done {
			e.dropLocked(requesterID, false)
		} else {
			c.step, c.name = nextStep, nextName
		}
	}
	e.mu.Unlock()
	return reply, err
}

// advance ejecuta un paso del diálogo y propone la transición.
func (e *Engine) advance(ctx context.Context, requesterID int64, step Step, name, input string) (Reply, Step, string, bool, error) {
	switch step {
	case StepName:
		if err := validation.ValidateName(input); err != nil {
			return Reply{Step: StepName}, StepName, "", false, err
		}
		// Chequeo temprano para no pedir el secreto en vano; el unique
		// del storage sigue siendo la fuente de verdad.
		if _, err := e.accounts.FindByName(ctx, input); err == nil {
			return Reply{Step: StepName}, StepName, "", false, lifecycle.ErrDuplicateName
		} else if !repository.IsNotFound(err) {
			return Reply{Step: StepName}, StepName, "", false, err
		}
		return Reply{Step: StepSecret}, StepSecret, input, false, nil

	case StepSecret:
		if err := validation.ValidateSecret(input); err != nil {
			return Reply{Step: StepSecret}, StepSecret, name, false, err
		}
		acc, err := e.creator.Create(ctx, lifecycle.CreateParams{
			RequesterID: requesterID,
			Name:        name,
			Secret:      input,
			Actor:       audit.RequesterActor(requesterID),
		})
		if err != nil {
			if lifecycle.IsDuplicateName(err) {
				// Alguien ganó la carrera por el nombre: volver a pedirlo.
				return Reply{Step: StepName}, StepName, "", false, err
			}
			return Reply{Step: StepSecret}, StepSecret, name, false, err
		}
		return Reply{Step: StepSecret, Done: true, Account: acc}, step, name, true, nil

	default:
		return Reply{}, step, name, false, ErrNoSession
	}
}

// Cancel cierra el diálogo del requester si existe.
func (e *Engine) Cancel(requesterID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.convos[requesterID]; !ok {
		return false
	}
	e.dropLocked(requesterID, false)
	return true
}

// Active reporta si el requester tiene una sesión viva (sin tocarla).
func (e *Engine) Active(requesterID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.convos[requesterID]
	return ok && (c.busy || !e.expiredLocked(c))
}

// SweepExpired cierra las sesiones vencidas y retorna cuántas.
// El callback OnExpired se invoca fuera del lock.
func (e *Engine) SweepExpired() int {
	e.mu.Lock()
	var expired []int64
	for id, c := range e.convos {
		if !c.busy && e.expiredLocked(c) {
			e.dropLocked(id, true)
			expired = append(expired, id)
		}
	}
	e.mu.Unlock()

	for _, id := range expired {
		e.notifyExpired(id)
	}
	return len(expired)
}

// Run barre sesiones expiradas periódicamente hasta que ctx termine.
func (e *Engine) Run(ctx context.Context) {
	log := logger.Named("session")
	tick := time.NewTicker(e.timeout / 2)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if n := e.SweepExpired(); n > 0 {
				log.Info("sessions expired", logger.Count(n))
			}
		}
	}
}

// expiredLocked compara contra el deadline fijo de la sesión; la actividad
// posterior a Start no lo corre.
func (e *Engine) expiredLocked(c *convo) bool {
	return e.now().Sub(c.startedAt) > e.timeout
}

// dropLocked saca la sesión del mapa. Requiere e.mu tomado.
func (e *Engine) dropLocked(requesterID int64, byTimeout bool) {
	delete(e.convos, requesterID)
	metrics.SessionsActive.Dec()
	if byTimeout {
		metrics.SessionsExpired.Inc()
	}
}

func (e *Engine) notifyExpired(requesterID int64) {
	if e.OnExpired != nil {
		e.OnExpired(requesterID)
	}
}
