package auth_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"chatarra.io/internal/auth"
	"chatarra.io/internal/ids"
	"chatarra.io/internal/store/memory"
)

const secret = "demo-secret-demo-secret-demo-secret!"

type demo struct {
	store   *memory.Store
	company memory.Company
	admin   memory.User
	group   memory.Group
	perms   map[string]memory.Permission
}

func seedDemo(t *testing.T) demo {
	t.Helper()
	hash, err := auth.NewBcryptHasher(bcrypt.MinCost).Hash("admin123")
	require.NoError(t, err)

	s := memory.New()
	spanish := ids.New()
	country := memory.Country{ID: ids.New(), Name: "Chile", LanguageID: &spanish}
	company := memory.Company{ID: ids.New(), Name: "Empresa Demo", CountryID: &country.ID}
	admin := memory.User{
		ID:           ids.New(),
		CompanyID:    company.ID,
		Username:     "admin",
		PasswordHash: hash,
		FirstName:    "Admin",
		LastName:     "Demo",
	}
	group := memory.Group{ID: ids.New(), CompanyID: company.ID, Name: "Administradores"}
	perms := map[string]memory.Permission{}
	for _, key := range []string{"users.read", "users.write", "articles.read", "articles.write"} {
		p := memory.Permission{ID: ids.New(), Key: key}
		perms[key] = p
		s.PutPermission(p)
	}
	s.PutCountry(country)
	s.PutCompany(company)
	s.PutUser(admin)
	s.PutGroup(group)
	s.AddMember(admin.ID, group.ID)
	s.GrantGroup(group.ID, perms["users.read"].ID)
	s.GrantGroup(group.ID, perms["users.write"].ID)
	s.GrantUser(admin.ID, perms["articles.read"].ID)

	return demo{store: s, company: company, admin: admin, group: group, perms: perms}
}

// countingStore counts permission lookups.
type countingStore struct {
	*memory.Store
	permissionCalls atomic.Int32
}

func (c *countingStore) DirectPermissionKeys(ctx context.Context, id uuid.UUID) ([]string, error) {
	c.permissionCalls.Add(1)
	return c.Store.DirectPermissionKeys(ctx, id)
}

func (c *countingStore) UserGroupIDs(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	c.permissionCalls.Add(1)
	return c.Store.UserGroupIDs(ctx, id)
}

func newService(t *testing.T, store auth.Store) (*auth.Service, *auth.TokenIssuer) {
	t.Helper()
	tokens, err := auth.NewTokenIssuer(secret)
	require.NoError(t, err)
	svc, err := auth.NewService(store, tokens, auth.WithPasswordHasher(auth.NewBcryptHasher(bcrypt.MinCost)))
	require.NoError(t, err)
	return svc, tokens
}

func TestDemoScenarioLogin(t *testing.T) {
	d := seedDemo(t)
	svc, tokens := newService(t, d.store)

	sess, err := svc.Login(context.Background(), auth.LoginRequest{
		TenantName: "Empresa Demo",
		Username:   "admin",
		Password:   "admin123",
	})
	require.NoError(t, err)

	assert.Equal(t, d.admin.ID, sess.Identity.UserID)
	assert.Equal(t, "admin", sess.Identity.Username)
	assert.Equal(t, d.company.ID, sess.Identity.TenantID)
	assert.Equal(t, "Empresa Demo", sess.Identity.TenantName)
	assert.Equal(t, []string{"articles.read", "users.read", "users.write"}, sess.Permissions)
	require.NotNil(t, sess.Identity.EffectiveLanguageID(), "country language is the fallback")

	assert.NotEqual(t, uuid.Nil, sess.CursorID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), sess.ExpiresAt, 5*time.Second)

	claims, err := tokens.Validate(sess.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.CursorID.String(), claims.Subject)
	assert.Equal(t, sess.Permissions, claims.Permissions)

	live, err := svc.Permissions(context.Background(), sess.Identity.UserID)
	require.NoError(t, err)
	assert.Equal(t, sess.Permissions, live.Sorted())
}

func TestDemoScenarioWrongPassword(t *testing.T) {
	d := seedDemo(t)
	store := &countingStore{Store: d.store}
	svc, _ := newService(t, store)

	sess, err := svc.Login(context.Background(), auth.LoginRequest{
		TenantName: "Empresa Demo",
		Username:   "admin",
		Password:   "wrongpassword",
	})
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)
	assert.Empty(t, sess.Token)
	assert.Zero(t, store.permissionCalls.Load())
	assert.Empty(t, d.store.AuditRecords())
}

func TestWrongPasswordLooksLikeUnknownUser(t *testing.T) {
	d := seedDemo(t)
	svc, _ := newService(t, d.store)
	ctx := context.Background()

	_, wrongPass := svc.Login(ctx, auth.LoginRequest{TenantName: "Empresa Demo", Username: "admin", Password: "nope"})
	_, noUser := svc.Login(ctx, auth.LoginRequest{TenantName: "Empresa Demo", Username: "ghost", Password: "nope"})
	_, noTenant := svc.Login(ctx, auth.LoginRequest{TenantName: "Otra", Username: "admin", Password: "admin123"})

	assert.Equal(t, wrongPass, noUser)
	assert.Equal(t, wrongPass, noTenant)
	assert.Equal(t, "auth: invalid credentials", wrongPass.Error())
}

func TestSoftDeletedRowsAreInvisible(t *testing.T) {
	ctx := context.Background()

	t.Run("deleted group drops inherited grants", func(t *testing.T) {
		d := seedDemo(t)
		svc, _ := newService(t, d.store)
		d.store.SoftDelete(d.group.ID, time.Now())
		set, err := svc.Permissions(ctx, d.admin.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"articles.read"}, set.Sorted())
	})

	t.Run("deleted permission is excluded", func(t *testing.T) {
		d := seedDemo(t)
		svc, _ := newService(t, d.store)
		d.store.SoftDelete(d.perms["users.write"].ID, time.Now())
		set, err := svc.Permissions(ctx, d.admin.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"articles.read", "users.read"}, set.Sorted())
	})

	t.Run("deleted user cannot log in and resolves empty", func(t *testing.T) {
		d := seedDemo(t)
		svc, _ := newService(t, d.store)
		d.store.SoftDelete(d.admin.ID, time.Now())
		_, err := svc.Login(ctx, auth.LoginRequest{TenantName: "Empresa Demo", Username: "admin", Password: "admin123"})
		assert.ErrorIs(t, err, auth.ErrNotAuthenticated)
		set, err := svc.Permissions(ctx, d.admin.ID)
		require.NoError(t, err)
		assert.Zero(t, set.Len())
	})

	t.Run("deleted tenant cannot log in", func(t *testing.T) {
		d := seedDemo(t)
		svc, _ := newService(t, d.store)
		d.store.SoftDelete(d.company.ID, time.Now())
		_, err := svc.Login(ctx, auth.LoginRequest{TenantName: "Empresa Demo", Username: "admin", Password: "admin123"})
		assert.ErrorIs(t, err, auth.ErrNotAuthenticated)
	})

	t.Run("revoked membership drops inherited grants", func(t *testing.T) {
		d := seedDemo(t)
		svc, _ := newService(t, d.store)
		d.store.RemoveMember(d.admin.ID, d.group.ID, time.Now())
		set, err := svc.Permissions(ctx, d.admin.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"articles.read"}, set.Sorted())
	})
}

func TestAmbiguousTenantIsInfrastructureFailure(t *testing.T) {
	d := seedDemo(t)
	d.store.PutCompany(memory.Company{ID: ids.New(), Name: "Empresa Demo"})
	svc, _ := newService(t, d.store)

	_, err := svc.Login(context.Background(), auth.LoginRequest{TenantName: "Empresa Demo", Username: "admin", Password: "admin123"})
	assert.ErrorIs(t, err, auth.ErrUnavailable)
	assert.ErrorIs(t, err, auth.ErrAmbiguous)
}

func TestServiceAuthenticate(t *testing.T) {
	d := seedDemo(t)
	svc, _ := newService(t, d.store)

	sess, err := svc.Login(context.Background(), auth.LoginRequest{TenantName: "Empresa Demo", Username: "admin", Password: "admin123"})
	require.NoError(t, err)

	p, err := svc.Authenticate(context.Background(), sess.Token)
	require.NoError(t, err)
	assert.Equal(t, d.admin.ID, p.UserID)
	assert.Equal(t, sess.CursorID.String(), p.SubjectID)
	assert.True(t, p.HasPermission("users.write"))
	assert.False(t, p.HasPermission("articles.write"))

	_, err = svc.Authenticate(context.Background(), sess.Token+"x")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	tokens, err := auth.NewTokenIssuer(secret)
	require.NoError(t, err)
	_, err = auth.NewService(nil, tokens)
	assert.Error(t, err)
	_, err = auth.NewService(memory.New(), nil)
	assert.Error(t, err)
}
