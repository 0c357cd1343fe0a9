package auth

import (
	"time"

	"github.com/google/uuid"
)

// Principal is the caller described by a validated token.
type Principal struct {
	SubjectID   string
	TokenID     string
	Username    string
	UserID      uuid.UUID
	TenantID    uuid.UUID
	Permissions PermissionSet
	ExpiresAt   time.Time
}

// NewPrincipal builds a principal from validated claims.
func NewPrincipal(claims *Claims) Principal {
	p := Principal{
		SubjectID:   claims.Subject,
		TokenID:     claims.ID,
		Username:    claims.Username,
		UserID:      claims.UserID,
		TenantID:    claims.TenantID,
		Permissions: NewPermissionSet(claims.Permissions...),
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p
}

// HasPermission reports whether the principal can execute action identified by key.
func (p Principal) HasPermission(key string) bool {
	return p.Permissions.Has(key)
}
