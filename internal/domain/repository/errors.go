package repository

import "errors"

var (
	// ErrNotFound indica que el recurso solicitado no existe.
	ErrNotFound = errors.New("not found")

	// ErrConflict indica un conflicto (nombre duplicado, requester ya registrado).
	ErrConflict = errors.New("conflict")

	// ErrVersionConflict indica que el update perdió la carrera de versión
	// optimista: otro writer modificó el registro entre el read y el update.
	ErrVersionConflict = errors.New("version conflict")

	// ErrInvalidInput indica que los datos de entrada son inválidos.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoDatabase indica que no hay base de datos configurada.
	ErrNoDatabase = errors.New("no database configured")
)

// IsNotFound verifica si el error es ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict verifica si el error es ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsVersionConflict verifica si el error es ErrVersionConflict.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
