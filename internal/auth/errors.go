package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthenticated is returned for unknown tenants, unknown users and
	// wrong passwords alike so callers cannot tell which one failed.
	ErrNotAuthenticated = errors.New("auth: invalid credentials")
	ErrInvalidToken     = errors.New("auth: invalid token")
	ErrForbidden        = errors.New("auth: forbidden")
	// ErrUnavailable marks infrastructure failures (store faults, ambiguous
	// data, signing errors). It must never be reported as a credential error.
	ErrUnavailable  = errors.New("auth: unavailable")
	ErrNotFound     = errors.New("auth: not found")
	ErrAmbiguous    = errors.New("auth: ambiguous match")
	ErrInvalidInput = errors.New("auth: invalid input")
)

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
