// Package http expone el surface de inspección y descarga de perfiles:
// estado del servicio, cuentas, telemetría, audit trail y links de perfil
// de un solo uso acotados por token.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dropDatabas3/tunneljohn/internal/audit"
	"github.com/dropDatabas3/tunneljohn/internal/cache"
	"github.com/dropDatabas3/tunneljohn/internal/domain/repository"
	"github.com/dropDatabas3/tunneljohn/internal/observability/logger"
	"github.com/dropDatabas3/tunneljohn/internal/provision"
)

// Server arma el router HTTP sobre las dependencias ya abiertas.
type Server struct {
	Accounts  repository.AccountRepository
	ConnLogs  repository.ConnectionLogRepository
	AuditRepo repository.AuditRepository
	Sink      audit.Sink
	Cache     cache.Cache
	Status    provision.StatusSource

	// APIKey protege los endpoints administrativos (header X-Admin-API-Key).
	APIKey string

	// TokenSecret firma los tokens de descarga de perfil; TokenTTL acota
	// su vigencia.
	TokenSecret []byte
	TokenTTL    time.Duration

	// Gatherer alimenta /metrics. nil desactiva el endpoint.
	Gatherer prometheus.Gatherer

	// now es inyectable en tests.
	now func() time.Time
}

// Router construye el router chi con todas las rutas montadas.
func (s *Server) Router() http.Handler {
	if s.now == nil {
		s.now = time.Now
	}
	if s.Sink == nil {
		s.Sink = audit.LogSink{}
	}
	if s.TokenTTL <= 0 {
		s.TokenTTL = 15 * time.Minute
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealthz)
	if s.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(api chi.Router) {
		// El token es la autorización: sin API key.
		api.Get("/profile/{token}", s.handleProfileDownload)

		api.Group(func(priv chi.Router) {
			priv.Use(s.requireAPIKey)
			priv.Get("/accounts", s.handleListAccounts)
			priv.Get("/accounts/{name}", s.handleGetAccount)
			priv.Get("/accounts/{name}/connections", s.handleAccountConnections)
			priv.Post("/accounts/{name}/profile-link", s.handleMintProfileLink)
			priv.Get("/vpn/status", s.handleVPNStatus)
			priv.Get("/audit", s.handleAuditTail)
		})
	})
	return r
}

// Run sirve hasta que ctx termine; el shutdown espera a las conexiones en
// vuelo con un límite de 10 segundos.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Named("http").Info("listening", logger.String("addr", addr))

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
