// Package cache provee un cache TTL chico con backends memory y redis.
//
// Usado por telemetry y el surface HTTP para amortiguar lecturas del status
// log de OpenVPN. No es fuente de verdad de nada.
package cache

import "time"

// Cache define las operaciones del cache. El backend (memory o redis) lo
// elige el caller según configuración.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
	Delete(key string)
}
