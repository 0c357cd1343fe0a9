package auth

import (
	"context"

	"github.com/google/uuid"
)

// CredentialStore looks up login data. Implementations only return rows
// whose deleted_at is null and report misses as ErrNotFound.
type CredentialStore interface {
	// FindTenantByName returns ErrAmbiguous when more than one live tenant
	// carries the name.
	FindTenantByName(ctx context.Context, name string) (Tenant, error)
	FindCredential(ctx context.Context, tenantID uuid.UUID, username string) (Credential, error)
	LoadTenantProfile(ctx context.Context, tenantID uuid.UUID) (TenantProfile, error)
}

// PermissionStore exposes the two grant paths. Every link and every linked
// entity must be live for a key to be returned.
type PermissionStore interface {
	DirectPermissionKeys(ctx context.Context, userID uuid.UUID) ([]string, error)
	UserGroupIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	GroupPermissionKeys(ctx context.Context, groupID uuid.UUID) ([]string, error)
}

// Store is everything the auth service needs from persistence.
type Store interface {
	CredentialStore
	PermissionStore
	Ping(ctx context.Context) error
}
