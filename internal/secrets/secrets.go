// Package secrets maneja el hashing de secretos de cuenta.
package secrets

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost es el costo bcrypt por defecto del deployment.
const DefaultCost = 12

const (
	passwordLower   = "abcdefghijklmnopqrstuvwxyz"
	passwordUpper   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	passwordDigits  = "0123456789"
	passwordSymbols = "!@#$%^&*"
	passwordCharset = passwordLower + passwordUpper + passwordDigits + passwordSymbols
)

// Hash calcula el hash bcrypt del secreto con el costo dado.
// Un costo fuera de rango cae a DefaultCost.
func Hash(secret string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(b), nil
}

// Verify compara un secreto en plaintext contra su hash.
func Verify(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// GeneratePassword genera un password aleatorio de la longitud dada,
// usable cuando el operador crea cuentas sin secreto explícito. Garantiza
// al menos una mayúscula, una minúscula y un dígito, que es lo que la
// validación de secretos exige.
func GeneratePassword(length int) (string, error) {
	if length < 4 {
		length = 12
	}
	out := make([]byte, 0, length)
	for _, set := range []string{passwordUpper, passwordLower, passwordDigits} {
		c, err := randByte(set)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < length {
		c, err := randByte(passwordCharset)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	// Shuffle para que las posiciones de los caracteres garantizados no
	// sean predecibles.
	for i := len(out) - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		j := n.Int64()
		out[i], out[j] = out[j], out[i]
	}
	return string(out), nil
}

func randByte(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, fmt.Errorf("generate password: %w", err)
	}
	return set[n.Int64()], nil
}
