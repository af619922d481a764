// Package validation contiene validadores de forma para inputs de usuario.
package validation

import "fmt"

// Límites de forma. Mismos valores que aplica el constraint de la tabla.
const (
	NameMinLen = 3
	NameMaxLen = 20

	SecretMinLen = 8
	SecretMaxLen = 128
)

// FieldError es un error de validación con mensaje apto para el usuario final.
type FieldError struct {
	Field string
	Msg   string
}

func (e *FieldError) Error() string { return e.Field + ": " + e.Msg }

// IsFieldError verifica si err es un error de validación.
func IsFieldError(err error) bool {
	_, ok := err.(*FieldError)
	return ok
}

// ValidateName valida un nombre de cuenta candidato.
// Reglas: 3-20 caracteres, solo [a-zA-Z0-9_].
func ValidateName(name string) error {
	if len(name) < NameMinLen || len(name) > NameMaxLen {
		return &FieldError{
			Field: "name",
			Msg:   fmt.Sprintf("must be %d-%d characters long", NameMinLen, NameMaxLen),
		}
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'a' && c <= 'z' {
			continue
		}
		if c >= 'A' && c <= 'Z' {
			continue
		}
		if c >= '0' && c <= '9' {
			continue
		}
		if c == '_' {
			continue
		}
		return &FieldError{
			Field: "name",
			Msg:   "may only contain letters, numbers, and underscores",
		}
	}
	return nil
}

// ValidateSecret valida un secreto candidato.
// Reglas: 8-128 caracteres, al menos una mayúscula, una minúscula y un dígito.
func ValidateSecret(secret string) error {
	if len(secret) < SecretMinLen {
		return &FieldError{
			Field: "secret",
			Msg:   fmt.Sprintf("must be at least %d characters long", SecretMinLen),
		}
	}
	if len(secret) > SecretMaxLen {
		return &FieldError{
			Field: "secret",
			Msg:   fmt.Sprintf("must not exceed %d characters", SecretMaxLen),
		}
	}
	var upper, lower, digit bool
	for i := 0; i < len(secret); i++ {
		c := secret[i]
		switch {
		case c >= 'A' && c <= 'Z':
			upper = true
		case c >= 'a' && c <= 'z':
			lower = true
		case c >= '0' && c <= '9':
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return &FieldError{
			Field: "secret",
			Msg:   "must contain at least one uppercase letter, one lowercase letter, and one number",
		}
	}
	return nil
}
