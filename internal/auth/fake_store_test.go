package auth

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type fakeStore struct {
	mu    sync.Mutex
	calls []string

	tenant        Tenant
	tenantErr     error
	credential    Credential
	credentialErr error
	profile       TenantProfile
	profileErr    error

	direct      map[uuid.UUID][]string
	directErr   error
	groups      map[uuid.UUID][]uuid.UUID
	groupsErr   error
	groupKeys   map[uuid.UUID][]string
	groupKeyErr error
	pingErr     error
}

func (f *fakeStore) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeStore) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeStore) FindTenantByName(_ context.Context, _ string) (Tenant, error) {
	f.record("tenant")
	return f.tenant, f.tenantErr
}

func (f *fakeStore) FindCredential(_ context.Context, _ uuid.UUID, _ string) (Credential, error) {
	f.record("user")
	return f.credential, f.credentialErr
}

func (f *fakeStore) LoadTenantProfile(_ context.Context, _ uuid.UUID) (TenantProfile, error) {
	f.record("profile")
	return f.profile, f.profileErr
}

func (f *fakeStore) DirectPermissionKeys(_ context.Context, userID uuid.UUID) ([]string, error) {
	f.record("direct")
	return f.direct[userID], f.directErr
}

func (f *fakeStore) UserGroupIDs(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	f.record("groups")
	return f.groups[userID], f.groupsErr
}

func (f *fakeStore) GroupPermissionKeys(_ context.Context, groupID uuid.UUID) ([]string, error) {
	f.record("group-keys")
	return f.groupKeys[groupID], f.groupKeyErr
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }
