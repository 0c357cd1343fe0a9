package auth

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/codes"
)

// Authenticator verifies (tenant, username, password) triples.
type Authenticator struct {
	store  CredentialStore
	hasher PasswordHasher
}

// NewAuthenticator constructs an authenticator. A nil hasher selects bcrypt
// at DefaultPasswordCost.
func NewAuthenticator(store CredentialStore, hasher PasswordHasher) *Authenticator {
	if hasher == nil {
		hasher = NewBcryptHasher(DefaultPasswordCost)
	}
	return &Authenticator{store: store, hasher: hasher}
}

// Authenticate resolves the tenant by exact name, the user inside it, checks
// the password and side-loads the tenant profile.
//
// Unknown tenant, unknown user and wrong password all yield
// ErrNotAuthenticated. Ambiguous tenant names and store faults yield
// ErrUnavailable.
func (a *Authenticator) Authenticate(ctx context.Context, tenantName, username, password string) (Identity, error) {
	if strings.TrimSpace(tenantName) == "" || strings.TrimSpace(username) == "" || strings.TrimSpace(password) == "" {
		return Identity{}, ErrNotAuthenticated
	}

	ctx, span := tracer.Start(ctx, "auth.Authenticate")
	defer span.End()

	id, err := a.authenticate(ctx, tenantName, username, password)
	if err != nil && !errors.Is(err, ErrNotAuthenticated) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "authenticate")
	}
	return id, err
}

func (a *Authenticator) authenticate(ctx context.Context, tenantName, username, password string) (Identity, error) {
	tenant, err := a.store.FindTenantByName(ctx, tenantName)
	switch {
	case errors.Is(err, ErrNotFound):
		return Identity{}, ErrNotAuthenticated
	case err != nil:
		return Identity{}, unavailable("find tenant", err)
	}

	cred, err := a.store.FindCredential(ctx, tenant.ID, username)
	switch {
	case errors.Is(err, ErrNotFound):
		return Identity{}, ErrNotAuthenticated
	case err != nil:
		return Identity{}, unavailable("find user", err)
	}

	if !a.hasher.Verify(password, cred.PasswordHash) {
		return Identity{}, ErrNotAuthenticated
	}

	profile, err := a.store.LoadTenantProfile(ctx, tenant.ID)
	if err != nil {
		return Identity{}, unavailable("load tenant profile", err)
	}

	return Identity{
		UserID:            cred.UserID,
		Username:          cred.Username,
		FirstName:         cred.FirstName,
		LastName:          cred.LastName,
		TenantID:          tenant.ID,
		TenantName:        profile.Name,
		UserLanguageID:    cred.LanguageID,
		TenantLanguageID:  profile.LanguageID,
		CountryLanguageID: profile.CountryLanguageID,
	}, nil
}
