package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatarra.io/internal/audit"
	"chatarra.io/internal/auth"
	"chatarra.io/internal/obs"
)

const actionLogin = "auth.login"

type loginRequest struct {
	TenantName string `json:"tenantName"`
	Username   string `json:"username"`
	Password   string `json:"password"`
}

type loginResponse struct {
	UserID              uuid.UUID  `json:"userId"`
	Username            string     `json:"username"`
	FirstName           string     `json:"firstName"`
	LastName            string     `json:"lastName"`
	CompanyID           uuid.UUID  `json:"companyId"`
	CompanyName         string     `json:"companyName"`
	UserLanguageID      *uuid.UUID `json:"userLanguageId,omitempty"`
	CompanyLanguageID   *uuid.UUID `json:"companyLanguageId,omitempty"`
	CountryLanguageID   *uuid.UUID `json:"countryLanguageId,omitempty"`
	EffectiveLanguageID *uuid.UUID `json:"effectiveLanguageId,omitempty"`
	Permissions         []string   `json:"permissions"`
	Token               string     `json:"token"`
	CursorID            uuid.UUID  `json:"cursorId"`
	ExpiresAt           time.Time  `json:"expiresAt"`
}

type meResponse struct {
	SubjectID   string    `json:"subjectId"`
	UserID      uuid.UUID `json:"userId"`
	Username    string    `json:"username"`
	CompanyID   uuid.UUID `json:"companyId"`
	Permissions []string  `json:"permissions"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	if !a.allowLogin(w, r, req) {
		return
	}

	sess, err := a.auth.Login(r.Context(), auth.LoginRequest{
		TenantName: req.TenantName,
		Username:   req.Username,
		Password:   req.Password,
	})
	switch {
	case errors.Is(err, auth.ErrNotAuthenticated):
		unauthorized(w, r, "invalid credentials")
		return
	case err != nil:
		writeError(w, r, http.StatusServiceUnavailable, "authentication unavailable")
		return
	}

	data, _ := json.Marshal(map[string]any{
		"userId":    sess.Identity.UserID,
		"companyId": sess.Identity.TenantID,
		"tokenId":   sess.TokenID,
	})
	if _, err := a.audit.Record(r.Context(), audit.Entry{
		SubjectID: sess.CursorID.String(),
		Username:  sess.Identity.Username,
		Action:    actionLogin,
		Method:    r.Method,
		Path:      r.URL.Path,
		Data:      data,
	}); err != nil {
		a.logger.Error("record login", zap.String("request_id", RequestIDFromContext(r.Context())), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "audit unavailable")
		return
	}

	id := sess.Identity
	writeJSON(w, http.StatusOK, loginResponse{
		UserID:              id.UserID,
		Username:            id.Username,
		FirstName:           id.FirstName,
		LastName:            id.LastName,
		CompanyID:           id.TenantID,
		CompanyName:         id.TenantName,
		UserLanguageID:      id.UserLanguageID,
		CompanyLanguageID:   id.TenantLanguageID,
		CountryLanguageID:   id.CountryLanguageID,
		EffectiveLanguageID: id.EffectiveLanguageID(),
		Permissions:         sess.Permissions,
		Token:               sess.Token,
		CursorID:            sess.CursorID,
		ExpiresAt:           sess.ExpiresAt,
	})
}

// allowLogin consults the limiter. Limiter faults fail open.
func (a *API) allowLogin(w http.ResponseWriter, r *http.Request, req loginRequest) bool {
	if a.limiter == nil {
		return true
	}
	ok, err := a.limiter.Allow(r.Context(), loginThrottleKey(a.clientIP(r), req.TenantName, req.Username))
	if err != nil {
		obs.ObserveThrottle("failed_open")
		a.logger.Warn("login throttle unavailable", zap.Error(err))
		return true
	}
	if !ok {
		obs.ObserveThrottle("limited")
		w.Header().Set("Retry-After", strconv.Itoa(60))
		writeError(w, r, http.StatusTooManyRequests, "too many login attempts")
		return false
	}
	obs.ObserveThrottle("allowed")
	return true
}

// loginThrottleKey encodes the parts as a JSON array so separators inside a
// tenant name or username cannot make two tuples collide.
func loginThrottleKey(ip, tenant, username string) string {
	b, _ := json.Marshal([3]string{ip, tenant, username})
	return string(b)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		unauthorized(w, r, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		SubjectID:   p.SubjectID,
		UserID:      p.UserID,
		Username:    p.Username,
		CompanyID:   p.TenantID,
		Permissions: p.Permissions.Sorted(),
		ExpiresAt:   p.ExpiresAt,
	})
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		unauthorized(w, r, "authentication required")
		return
	}
	set, err := a.auth.Permissions(r.Context(), p.UserID)
	if err != nil {
		a.logger.Error("resolve permissions", zap.Stringer("user_id", p.UserID), zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, "permissions unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": set.Sorted()})
}
