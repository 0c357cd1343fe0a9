package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatarra.io/internal/ids"
	"chatarra.io/internal/obs"
)

// Service composes the login flow: authenticate, resolve permissions, mint a
// cursor id and issue a session token.
type Service struct {
	store    Store
	authn    *Authenticator
	resolver *PermissionResolver
	tokens   *TokenIssuer
	ids      *ids.Generator
	hasher   PasswordHasher
	logger   *zap.Logger
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithPasswordHasher replaces the bcrypt hasher.
func WithPasswordHasher(h PasswordHasher) ServiceOption {
	return func(s *Service) error {
		if h == nil {
			return errors.New("auth: password hasher is nil")
		}
		s.hasher = h
		return nil
	}
}

// WithIDGenerator sets the generator used for cursor ids.
func WithIDGenerator(g *ids.Generator) ServiceOption {
	return func(s *Service) error {
		if g != nil {
			s.ids = g
		}
		return nil
	}
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.logger = l
		}
		return nil
	}
}

// NewService wires the auth components over store.
func NewService(store Store, tokens *TokenIssuer, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token issuer is required")
	}
	s := &Service{
		store:  store,
		tokens: tokens,
		ids:    ids.Default(),
		hasher: NewBcryptHasher(DefaultPasswordCost),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.authn = NewAuthenticator(store, s.hasher)
	s.resolver = NewPermissionResolver(store)
	return s, nil
}

// Login authenticates req and opens a session. Failed logins resolve no
// permissions and issue no token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (Session, error) {
	identity, err := s.authn.Authenticate(ctx, req.TenantName, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, ErrNotAuthenticated) {
			obs.ObserveLogin(obs.OutcomeRejected)
			s.logger.Info("login rejected",
				zap.String("tenant", req.TenantName),
				zap.String("username", req.Username),
			)
			return Session{}, err
		}
		obs.ObserveLogin(obs.OutcomeError)
		s.logger.Error("login failed",
			zap.String("tenant", req.TenantName),
			zap.String("username", req.Username),
			zap.Error(err),
		)
		return Session{}, err
	}

	perms, err := s.resolver.Resolve(ctx, identity.UserID)
	if err != nil {
		obs.ObserveLogin(obs.OutcomeError)
		s.logger.Error("resolve permissions", zap.Stringer("user_id", identity.UserID), zap.Error(err))
		return Session{}, err
	}

	cursor := s.ids.New()
	keys := perms.Sorted()
	token, err := s.tokens.Issue(TokenRequest{
		SubjectID:   cursor.String(),
		Username:    identity.Username,
		UserID:      identity.UserID,
		TenantID:    identity.TenantID,
		Permissions: keys,
	})
	if err != nil {
		obs.ObserveLogin(obs.OutcomeError)
		s.logger.Error("issue token", zap.Stringer("user_id", identity.UserID), zap.Error(err))
		return Session{}, err
	}

	obs.ObserveLogin(obs.OutcomeSuccess)
	s.logger.Info("login succeeded",
		zap.Stringer("user_id", identity.UserID),
		zap.Stringer("tenant_id", identity.TenantID),
		zap.Stringer("cursor_id", cursor),
		zap.Int("permissions", len(keys)),
	)
	return Session{
		Identity:    identity,
		Permissions: keys,
		Token:       token.Token,
		TokenID:     token.ID,
		IssuedAt:    token.IssuedAt,
		ExpiresAt:   token.ExpiresAt,
		CursorID:    cursor,
	}, nil
}

// Authenticate validates a bearer token and returns the principal it carries.
func (s *Service) Authenticate(_ context.Context, token string) (Principal, error) {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		obs.ObserveTokenValidation(obs.OutcomeRejected)
		s.logger.Debug("token rejected", zap.Error(err))
		return Principal{}, err
	}
	obs.ObserveTokenValidation(obs.OutcomeSuccess)
	return NewPrincipal(claims), nil
}

// Permissions resolves the live permission set of userID.
func (s *Service) Permissions(ctx context.Context, userID uuid.UUID) (PermissionSet, error) {
	return s.resolver.Resolve(ctx, userID)
}

// HashPassword hashes password with the configured hasher.
func (s *Service) HashPassword(password string) (string, error) {
	return s.hasher.Hash(password)
}

// Ready reports whether the backing store answers.
func (s *Service) Ready(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}
