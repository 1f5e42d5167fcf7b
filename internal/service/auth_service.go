package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/session-auth/internal/auth"
	"github.com/spec-kit/session-auth/internal/config"
	"github.com/spec-kit/session-auth/internal/domain"
	"github.com/spec-kit/session-auth/internal/events"
	"github.com/spec-kit/session-auth/internal/repository"
	apperrors "github.com/spec-kit/session-auth/pkg/util/errorutil"
)

// AuthService coordinates registration, login, profile and refresh flows.
type AuthService struct {
	users      repository.UserRepository
	hasher     auth.PasswordHasher
	tokens     *auth.Service
	dispatcher events.Dispatcher
}

// AuthDependencies encapsulates collaborator requirements for the service.
type AuthDependencies struct {
	UserRepo   repository.UserRepository
	Hasher     auth.PasswordHasher
	Tokens     *auth.Service
	Dispatcher events.Dispatcher
}

// NewAuthService builds the service. Hasher and token service default to the
// configured bcrypt/JWT implementations when not supplied.
func NewAuthService(cfg config.Config, deps AuthDependencies) *AuthService {
	hasher := deps.Hasher
	if hasher == nil {
		hasher = auth.NewBcryptHasher(cfg.Auth.BcryptCost)
	}
	tokens := deps.Tokens
	if tokens == nil {
		tokens = auth.NewService(cfg.Auth, deps.UserRepo)
	}
	return &AuthService{
		users:      deps.UserRepo,
		hasher:     hasher,
		tokens:     tokens,
		dispatcher: deps.Dispatcher,
	}
}

// Register creates a new account and issues its first token pair.
func (s *AuthService) Register(ctx context.Context, name, email, telephone, password string) (*domain.User, *auth.TokenPair, error) {
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, nil, apperrors.NewConflict("user already exists", map[string]any{"email": email})
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, nil, err
	}

	user := &domain.User{
		Name:         name,
		Email:        email,
		Telephone:    telephone,
		PasswordHash: hash,
		Status:       domain.UserStatusActive,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, nil, err
	}

	pair, err := s.tokens.IssuePair(user.ID)
	if err != nil {
		return nil, nil, err
	}

	s.publish(ctx, events.EventUserRegistered, user.ID, events.UserRegisteredPayload{
		Email: user.Email,
		Name:  user.Name,
	})
	return user, pair, nil
}

// Login authenticates an account by email and password. Unknown email and
// wrong password are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.User, *auth.TokenPair, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, apperrors.NewCredentialInvalid("invalid credentials")
		}
		return nil, nil, err
	}
	if !s.hasher.Verify(user.PasswordHash, password) {
		return nil, nil, apperrors.NewCredentialInvalid("invalid credentials")
	}

	pair, err := s.tokens.IssuePair(user.ID)
	if err != nil {
		return nil, nil, err
	}

	s.publish(ctx, events.EventUserLoggedIn, user.ID, events.UserLoggedInPayload{Email: user.Email})
	return user, pair, nil
}

// Profile loads the account behind a verified identity. The account may have
// been deleted after the token was issued.
func (s *AuthService) Profile(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("user", nil)
		}
		return nil, err
	}
	return user, nil
}

// Refresh exchanges a refresh token for a new access token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (string, time.Time, error) {
	userID, access, expiresAt, err := s.tokens.Refresh(ctx, refreshToken)
	if err != nil {
		return "", time.Time{}, err
	}

	s.publish(ctx, events.EventTokenRefreshed, userID, events.TokenRefreshedPayload{ExpiresAt: expiresAt})
	return access, expiresAt, nil
}

// Tokens exposes the underlying token service for middleware wiring.
func (s *AuthService) Tokens() *auth.Service {
	return s.tokens
}

func (s *AuthService) publish(ctx context.Context, eventType events.EventType, userID string, payload interface{}) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		UserID:    userID,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}
