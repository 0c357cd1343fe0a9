package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"chatarra.io/internal/audit"
	"chatarra.io/internal/auth"
	"chatarra.io/internal/ids"
	"chatarra.io/internal/store/memory"
)

const testSecret = "http-test-secret-http-test-secret!!"

type fixture struct {
	store   *memory.Store
	svc     *auth.Service
	tokens  *auth.TokenIssuer
	adminID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hasher := auth.NewBcryptHasher(bcrypt.MinCost)
	hash, err := hasher.Hash("admin123")
	require.NoError(t, err)

	s := memory.New()
	company := memory.Company{ID: ids.New(), Name: "Empresa Demo"}
	admin := memory.User{ID: ids.New(), CompanyID: company.ID, Username: "admin", PasswordHash: hash, FirstName: "Admin"}
	group := memory.Group{ID: ids.New(), CompanyID: company.ID, Name: "Administradores"}
	s.PutCompany(company)
	s.PutUser(admin)
	s.PutGroup(group)
	s.AddMember(admin.ID, group.ID)
	for _, key := range []string{"users.read", "users.write"} {
		p := memory.Permission{ID: ids.New(), Key: key}
		s.PutPermission(p)
		s.GrantGroup(group.ID, p.ID)
	}
	articles := memory.Permission{ID: ids.New(), Key: "articles.read"}
	s.PutPermission(articles)
	s.GrantUser(admin.ID, articles.ID)

	tokens, err := auth.NewTokenIssuer(testSecret)
	require.NoError(t, err)
	svc, err := auth.NewService(s, tokens, auth.WithPasswordHasher(hasher))
	require.NoError(t, err)
	return &fixture{store: s, svc: svc, tokens: tokens, adminID: admin.ID}
}

func (f *fixture) handler(opts ...Option) http.Handler {
	return New(f.svc, audit.NewRecorder(f.store), opts...).Handler()
}

func (f *fixture) token(t *testing.T) string {
	t.Helper()
	sess, err := f.svc.Login(context.Background(), auth.LoginRequest{TenantName: "Empresa Demo", Username: "admin", Password: "admin123"})
	require.NoError(t, err)
	return sess.Token
}

func doJSON(h http.Handler, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func bearerHeader(token string) http.Header {
	return http.Header{"Authorization": {"Bearer " + token}}
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

type failingRecorder struct{}

func (failingRecorder) Record(context.Context, audit.Entry) (uuid.UUID, error) {
	return uuid.Nil, errors.New("audit store down")
}

type brokenStore struct {
	*memory.Store
}

func (brokenStore) FindTenantByName(context.Context, string) (auth.Tenant, error) {
	return auth.Tenant{}, errors.New("connection refused")
}

func (brokenStore) Ping(context.Context) error { return errors.New("connection refused") }

type stubLimiter struct {
	allow bool
	err   error
}

func (s stubLimiter) Allow(context.Context, string) (bool, error) { return s.allow, s.err }
