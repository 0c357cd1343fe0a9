package auth

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is a company that owns isolated business data.
type Tenant struct {
	ID   uuid.UUID
	Name string
}

// Credential is the login record of a user inside one tenant.
type Credential struct {
	UserID       uuid.UUID
	TenantID     uuid.UUID
	Username     string
	PasswordHash string
	FirstName    string
	LastName     string
	LanguageID   *uuid.UUID
}

// TenantProfile is loaded after a successful password check.
type TenantProfile struct {
	TenantID          uuid.UUID
	Name              string
	LanguageID        *uuid.UUID
	CountryLanguageID *uuid.UUID
}

// Identity is the authenticated user together with its tenant context.
type Identity struct {
	UserID            uuid.UUID
	Username          string
	FirstName         string
	LastName          string
	TenantID          uuid.UUID
	TenantName        string
	UserLanguageID    *uuid.UUID
	TenantLanguageID  *uuid.UUID
	CountryLanguageID *uuid.UUID
}

// EffectiveLanguageID picks the user language, then the tenant language,
// then the language of the tenant's country.
func (i Identity) EffectiveLanguageID() *uuid.UUID {
	for _, id := range []*uuid.UUID{i.UserLanguageID, i.TenantLanguageID, i.CountryLanguageID} {
		if id != nil {
			return id
		}
	}
	return nil
}

// LoginRequest carries the three login inputs.
type LoginRequest struct {
	TenantName string
	Username   string
	Password   string
}

// Session is the outcome of a successful login.
type Session struct {
	Identity    Identity
	Permissions []string
	Token       string
	TokenID     string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	CursorID    uuid.UUID
}
