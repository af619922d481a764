package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dropDatabas3/tunneljohn/internal/domain/repository"
	"github.com/dropDatabas3/tunneljohn/internal/observability/logger"
)

// Sweeper aplica las políticas de retención: artefactos de perfil viejos,
// archivos temporales y logs de conexión antiguos.
type Sweeper struct {
	accounts repository.AccountRepository
	logs     repository.ConnectionLogRepository

	// ArtifactDir es el directorio de perfiles .ovpn; solo se borran los
	// que ya no referencia ninguna cuenta.
	ArtifactDir string
	// TempDir se limpia completo por edad.
	TempDir string

	// ArtifactMaxAge es la edad mínima para borrar un artefacto huérfano.
	ArtifactMaxAge time.Duration
	// LogRetention es la ventana de retención de connection logs.
	LogRetention time.Duration
	// Interval es el período entre barridos de Run.
	Interval time.Duration

	// now es inyectable en tests.
	now func() time.Time
}

// NewSweeper crea un Sweeper con defaults razonables.
func NewSweeper(accounts repository.AccountRepository, logs repository.ConnectionLogRepository) *Sweeper {
	return &Sweeper{
		accounts:       accounts,
		logs:           logs,
		ArtifactMaxAge: time.Hour,
		LogRetention:   30 * 24 * time.Hour,
		Interval:       time.Hour,
		now:            time.Now,
	}
}

// Run barre periódicamente hasta que ctx termine.
func (s *Sweeper) Run(ctx context.Context) {
	tick := time.NewTicker(s.Interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce ejecuta las tres políticas. Los errores se loguean y no se
// propagan: la próxima pasada reintenta.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	log := logger.Named("sweeper")

	if n, err := s.SweepArtifacts(ctx); err != nil {
		log.Warn("artifact sweep failed", logger.Err(err))
	} else if n > 0 {
		log.Info("orphan artifacts removed", logger.Count(n))
	}

	if n, err := s.SweepTemp(); err != nil {
		log.Warn("temp sweep failed", logger.Err(err))
	} else if n > 0 {
		log.Info("temp files removed", logger.Count(n))
	}

	if s.LogRetention > 0 {
		cutoff := s.now().UTC().Add(-s.LogRetention)
		if n, err := s.logs.DeleteOlderThan(ctx, cutoff); err != nil {
			log.Warn("connection log pruning failed", logger.Err(err))
		} else if n > 0 {
			log.Info("old connection logs pruned", logger.Int("removed", int(n)))
		}
	}
}

// SweepArtifacts borra los .ovpn del ArtifactDir que superan la edad máxima
// y que ninguna cuenta referencia como perfil actual.
func (s *Sweeper) SweepArtifacts(ctx context.Context) (int, error) {
	if s.ArtifactDir == "" {
		return 0, nil
	}
	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return 0, err
	}
	inUse := make(map[string]struct{}, len(accounts))
	for _, acc := range accounts {
		if acc.ProfilePath != "" {
			inUse[filepath.Clean(acc.ProfilePath)] = struct{}{}
		}
	}

	entries, err := os.ReadDir(s.ArtifactDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := s.now().Add(-s.ArtifactMaxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".ovpn") {
			continue
		}
		path := filepath.Join(s.ArtifactDir, e.Name())
		if _, ok := inUse[filepath.Clean(path)]; ok {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err == nil {
			removed++
		}
	}
	return removed, nil
}

// SweepTemp borra cualquier archivo del TempDir más viejo que la edad
// máxima de artefactos.
func (s *Sweeper) SweepTemp() (int, error) {
	if s.TempDir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(s.TempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	cutoff := s.now().Add(-s.ArtifactMaxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.TempDir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
