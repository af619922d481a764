package http

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/dropDatabas3/tunneljohn/internal/observability/logger"
)

// requireAPIKey exige el header X-Admin-API-Key. Sin clave configurada el
// surface administrativo queda cerrado por completo.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.APIKey == "" {
			WriteError(w, http.StatusForbidden, "admin_api_disabled", "no admin API key configured")
			return
		}
		got := r.Header.Get("X-Admin-API-Key")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.APIKey)) != 1 {
			WriteError(w, http.StatusUnauthorized, "invalid_api_key", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// logRequests loguea cada request con método, ruta, status y duración.
func (s *Server) logRequests(next http.Handler) http.Handler {
	log := logger.Named("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug("request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", ww.Status()),
			logger.Duration(time.Since(start)),
		)
	})
}
