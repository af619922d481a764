// Package repository define los contratos de persistencia del dominio.
//
// Las implementaciones viven en internal/store. Los callers (lifecycle,
// session, reconcile, telemetry) dependen solo de estas interfaces y de los
// errores sentinel de errors.go.
package repository
