package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatarra.io/internal/audit"
	"chatarra.io/internal/auth"
	"chatarra.io/internal/obs"
	"chatarra.io/internal/throttle"
)

const serviceName = "chatarra-auth"

// AuthService is the part of auth.Service the HTTP layer uses.
type AuthService interface {
	Login(ctx context.Context, req auth.LoginRequest) (auth.Session, error)
	Authenticate(ctx context.Context, token string) (auth.Principal, error)
	Permissions(ctx context.Context, userID uuid.UUID) (auth.PermissionSet, error)
	Ready(ctx context.Context) error
}

// AuditRecorder appends audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, e audit.Entry) (uuid.UUID, error)
}

// API: HTTP слой.
type API struct {
	auth         AuthService
	audit        AuditRecorder
	limiter      throttle.Limiter
	logger       *zap.Logger
	version      string
	maxBody      int64
	trustProxy   bool
	protected    []func(chi.Router)
	readyTimeout time.Duration
}

// Option configures the API.
type Option func(*API)

// WithLimiter throttles login attempts.
func WithLimiter(l throttle.Limiter) Option { return func(a *API) { a.limiter = l } }

// WithLogger sets the request and error logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithVersion sets the version reported by /healthz.
func WithVersion(v string) Option { return func(a *API) { a.version = v } }

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBody = n
		}
	}
}

// WithTrustedProxy makes X-Forwarded-For the client address for throttling.
// Enable only behind a proxy that overwrites the header.
func WithTrustedProxy(trust bool) Option { return func(a *API) { a.trustProxy = trust } }

// WithProtectedRoutes mounts routes behind bearer authentication and
// mutation auditing.
func WithProtectedRoutes(fn func(chi.Router)) Option {
	return func(a *API) {
		if fn != nil {
			a.protected = append(a.protected, fn)
		}
	}
}

// New builds the API over the auth service and audit recorder.
func New(svc AuthService, rec AuditRecorder, opts ...Option) *API {
	a := &API{
		auth:         svc,
		audit:        rec,
		logger:       zap.NewNop(),
		version:      "dev",
		maxBody:      1 << 20,
		readyTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler возвращает http.Handler для сервера.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(chimw.Recoverer)
	r.Use(a.Logging)
	r.Use(SecurityHeaders)
	r.Use(obs.Instrument)
	r.Use(MaxBodyBytes(a.maxBody))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.withAuth)
			r.Use(a.auditMutations)
			r.Get("/auth/me", a.handleMe)
			r.Get("/auth/permissions", a.handlePermissions)
			for _, mount := range a.protected {
				mount(r)
			}
		})
	})
	return r
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.readyTimeout)
	defer cancel()
	if err := a.auth.Ready(ctx); err != nil {
		a.logger.Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
