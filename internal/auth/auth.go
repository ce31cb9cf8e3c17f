// Package auth guards the mutating admin routes with a shared bearer token.
//
// It has no notion of users or scopes. An empty token disables the guard.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

type Validator interface {
	Validate(token string) error
}

// StaticToken accepts exactly one configured token.
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(token string) error {
	if s.Token == "" || token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// Open accepts everything; used when no admin token is configured.
type Open struct{}

func (Open) Validate(string) error {
	return nil
}

// ForToken returns Open for an empty token and StaticToken otherwise.
func ForToken(token string) Validator {
	token = strings.TrimSpace(token)
	if token == "" {
		return Open{}
	}
	return StaticToken{Token: token}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
