package http

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "tunneljohn"

var errNoSecret = errors.New("profile token secret not configured")

// mintProfileToken firma un token HS256 con el nombre de la cuenta como
// subject. El path del perfil no viaja en el token: se resuelve al momento
// de la descarga, así un regenerate no invalida los links vivos.
func (s *Server) mintProfileToken(name string) (string, time.Time, error) {
	if len(s.TokenSecret) == 0 {
		return "", time.Time{}, errNoSecret
	}
	now := s.now().UTC()
	exp := now.Add(s.TokenTTL)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   name,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := tok.SignedString(s.TokenSecret)
	return signed, exp, err
}

// parseProfileToken valida el token y retorna el nombre de cuenta.
func (s *Server) parseProfileToken(raw string) (string, error) {
	if len(s.TokenSecret) == 0 {
		return "", errNoSecret
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (any, error) { return s.TokenSecret, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}
