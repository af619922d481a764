package lifecycle

import "errors"

var (
	// ErrDuplicateName indica que ya existe una cuenta con ese nombre.
	ErrDuplicateName = errors.New("account name already taken")

	// ErrAlreadyExpired indica que la operación no aplica sobre una cuenta
	// cuya expiración ya pasó.
	ErrAlreadyExpired = errors.New("account already expired")

	// ErrAlreadyProvisioned indica que la cuenta no tiene provisioning
	// pendiente que retomar.
	ErrAlreadyProvisioned = errors.New("account already provisioned")

	// errCredentialToggle es la causa interna cuando el provisioner no pudo
	// habilitar/deshabilitar la credencial.
	errCredentialToggle = errors.New("credential state change failed")
)

// IsDuplicateName indica si err es un conflicto de nombre.
func IsDuplicateName(err error) bool { return errors.Is(err, ErrDuplicateName) }

// IsAlreadyExpired indica si err corresponde a una cuenta expirada.
func IsAlreadyExpired(err error) bool { return errors.Is(err, ErrAlreadyExpired) }
