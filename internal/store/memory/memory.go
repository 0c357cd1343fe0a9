// Package memory is an in-process implementation of the auth and audit
// stores with the same soft-delete semantics as the Postgres store.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatarra.io/internal/audit"
	"chatarra.io/internal/auth"
)

// Company is a tenant row.
type Company struct {
	ID         uuid.UUID
	Name       string
	CountryID  *uuid.UUID
	LanguageID *uuid.UUID
	DeletedAt  *time.Time
}

// Country is a country row; only its language matters here.
type Country struct {
	ID         uuid.UUID
	Name       string
	LanguageID *uuid.UUID
	DeletedAt  *time.Time
}

// User is a user row.
type User struct {
	ID           uuid.UUID
	CompanyID    uuid.UUID
	Username     string
	PasswordHash string
	FirstName    string
	LastName     string
	LanguageID   *uuid.UUID
	DeletedAt    *time.Time
}

// Group is a named set of users inside a company.
type Group struct {
	ID        uuid.UUID
	CompanyID uuid.UUID
	Name      string
	DeletedAt *time.Time
}

// Permission is a named capability.
type Permission struct {
	ID        uuid.UUID
	Key       string
	DeletedAt *time.Time
}

type link struct {
	from, to  uuid.UUID
	deletedAt *time.Time
}

// Store keeps every table in maps guarded by one RWMutex.
type Store struct {
	mu sync.RWMutex

	companies   map[uuid.UUID]Company
	countries   map[uuid.UUID]Country
	users       map[uuid.UUID]User
	groups      map[uuid.UUID]Group
	permissions map[uuid.UUID]Permission

	userPermissions  []link
	userGroups       []link
	groupPermissions []link

	audit []audit.Record
}

var (
	_ auth.Store  = (*Store)(nil)
	_ audit.Store = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{
		companies:   make(map[uuid.UUID]Company),
		countries:   make(map[uuid.UUID]Country),
		users:       make(map[uuid.UUID]User),
		groups:      make(map[uuid.UUID]Group),
		permissions: make(map[uuid.UUID]Permission),
	}
}

func (s *Store) PutCompany(c Company) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.companies[c.ID] = c
}

func (s *Store) PutCountry(c Country) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countries[c.ID] = c
}

func (s *Store) PutUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *Store) PutGroup(g Group) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[g.ID] = g
}

func (s *Store) PutPermission(p Permission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permissions[p.ID] = p
}

// GrantUser links a permission directly to a user.
func (s *Store) GrantUser(userID, permissionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userPermissions = append(s.userPermissions, link{from: userID, to: permissionID})
}

// AddMember puts a user into a group.
func (s *Store) AddMember(userID, groupID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userGroups = append(s.userGroups, link{from: userID, to: groupID})
}

// GrantGroup links a permission to a group.
func (s *Store) GrantGroup(groupID, permissionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groupPermissions = append(s.groupPermissions, link{from: groupID, to: permissionID})
}

// RevokeUser soft-deletes the direct grant of permissionID to userID.
func (s *Store) RevokeUser(userID, permissionID uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	markLinks(s.userPermissions, userID, permissionID, at)
}

// RemoveMember soft-deletes the membership of userID in groupID.
func (s *Store) RemoveMember(userID, groupID uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	markLinks(s.userGroups, userID, groupID, at)
}

// RevokeGroup soft-deletes the grant of permissionID to groupID.
func (s *Store) RevokeGroup(groupID, permissionID uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	markLinks(s.groupPermissions, groupID, permissionID, at)
}

// SoftDelete stamps deleted_at on the entity with id, whatever its table.
// It reports whether a live row was found.
func (s *Store) SoftDelete(id uuid.UUID, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.companies[id]; ok && c.DeletedAt == nil {
		c.DeletedAt = &at
		s.companies[id] = c
		return true
	}
	if c, ok := s.countries[id]; ok && c.DeletedAt == nil {
		c.DeletedAt = &at
		s.countries[id] = c
		return true
	}
	if u, ok := s.users[id]; ok && u.DeletedAt == nil {
		u.DeletedAt = &at
		s.users[id] = u
		return true
	}
	if g, ok := s.groups[id]; ok && g.DeletedAt == nil {
		g.DeletedAt = &at
		s.groups[id] = g
		return true
	}
	if p, ok := s.permissions[id]; ok && p.DeletedAt == nil {
		p.DeletedAt = &at
		s.permissions[id] = p
		return true
	}
	return false
}

func markLinks(links []link, from, to uuid.UUID, at time.Time) {
	for i := range links {
		if links[i].from == from && links[i].to == to && links[i].deletedAt == nil {
			links[i].deletedAt = &at
		}
	}
}

// FindTenantByName implements auth.CredentialStore.
func (s *Store) FindTenantByName(_ context.Context, name string) (auth.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found []Company
	for _, c := range s.companies {
		if c.DeletedAt == nil && c.Name == name {
			found = append(found, c)
		}
	}
	switch len(found) {
	case 0:
		return auth.Tenant{}, auth.ErrNotFound
	case 1:
		return auth.Tenant{ID: found[0].ID, Name: found[0].Name}, nil
	default:
		return auth.Tenant{}, auth.ErrAmbiguous
	}
}

// FindCredential implements auth.CredentialStore. When several live users
// share the username the lowest id wins, as in the Postgres store.
func (s *Store) FindCredential(_ context.Context, tenantID uuid.UUID, username string) (auth.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var match *User
	for _, u := range s.users {
		if u.DeletedAt != nil || u.CompanyID != tenantID || u.Username != username {
			continue
		}
		if match == nil || lessID(u.ID, match.ID) {
			match = &u
		}
	}
	if match == nil {
		return auth.Credential{}, auth.ErrNotFound
	}
	return auth.Credential{
		UserID:       match.ID,
		TenantID:     match.CompanyID,
		Username:     match.Username,
		PasswordHash: match.PasswordHash,
		FirstName:    match.FirstName,
		LastName:     match.LastName,
		LanguageID:   match.LanguageID,
	}, nil
}

// LoadTenantProfile implements auth.CredentialStore.
func (s *Store) LoadTenantProfile(_ context.Context, tenantID uuid.UUID) (auth.TenantProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.companies[tenantID]
	if !ok || c.DeletedAt != nil {
		return auth.TenantProfile{}, auth.ErrNotFound
	}
	profile := auth.TenantProfile{TenantID: c.ID, Name: c.Name, LanguageID: c.LanguageID}
	if c.CountryID != nil {
		if country, ok := s.countries[*c.CountryID]; ok && country.DeletedAt == nil {
			profile.CountryLanguageID = country.LanguageID
		}
	}
	return profile, nil
}

// DirectPermissionKeys implements auth.PermissionStore.
func (s *Store) DirectPermissionKeys(_ context.Context, userID uuid.UUID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.liveUser(userID) {
		return nil, nil
	}
	return s.keysFor(s.userPermissions, userID), nil
}

// UserGroupIDs implements auth.PermissionStore.
func (s *Store) UserGroupIDs(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.liveUser(userID) {
		return nil, nil
	}
	var out []uuid.UUID
	for _, l := range s.userGroups {
		if l.deletedAt != nil || l.from != userID {
			continue
		}
		if g, ok := s.groups[l.to]; ok && g.DeletedAt == nil {
			out = append(out, g.ID)
		}
	}
	return out, nil
}

// GroupPermissionKeys implements auth.PermissionStore.
func (s *Store) GroupPermissionKeys(_ context.Context, groupID uuid.UUID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if g, ok := s.groups[groupID]; !ok || g.DeletedAt != nil {
		return nil, nil
	}
	return s.keysFor(s.groupPermissions, groupID), nil
}

// Ping implements auth.Store.
func (s *Store) Ping(context.Context) error { return nil }

// AppendAudit implements audit.Store.
func (s *Store) AppendAudit(_ context.Context, rec audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, rec)
	return nil
}

// AuditRecords returns a copy of the appended records in id order.
func (s *Store) AuditRecords() []audit.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Record, len(s.audit))
	copy(out, s.audit)
	sort.Slice(out, func(i, j int) bool { return lessID(out[i].ID, out[j].ID) })
	return out
}

func (s *Store) liveUser(id uuid.UUID) bool {
	u, ok := s.users[id]
	return ok && u.DeletedAt == nil
}

func (s *Store) keysFor(links []link, from uuid.UUID) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, l := range links {
		if l.deletedAt != nil || l.from != from {
			continue
		}
		p, ok := s.permissions[l.to]
		if !ok || p.DeletedAt != nil {
			continue
		}
		if _, dup := seen[p.Key]; dup {
			continue
		}
		seen[p.Key] = struct{}{}
		out = append(out, p.Key)
	}
	return out
}

func lessID(a, b uuid.UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}
