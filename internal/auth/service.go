package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/session-auth/internal/config"
	"github.com/spec-kit/session-auth/internal/repository"
)

// ErrUserNotFound reports a valid refresh token whose account no longer exists.
var ErrUserNotFound = errors.New("user not found")

// TokenPair bundles the two credentials issued for a session.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Service issues access/refresh token pairs and exchanges refresh tokens for
// new access tokens. The two codecs use distinct secrets; a refresh token can
// never pass access verification and vice versa. Refresh tokens are not
// rotated on use, they stay valid until their own expiry.
type Service struct {
	access  *Codec
	refresh *Codec
	users   repository.UserRepository
}

// NewService builds the token service from auth configuration.
func NewService(cfg config.AuthConfig, users repository.UserRepository) *Service {
	return &Service{
		access:  NewCodec(cfg.AccessSecret, cfg.AccessTTL()),
		refresh: NewCodec(cfg.RefreshSecret, cfg.RefreshTTL()),
		users:   users,
	}
}

// NewServiceWithCodecs wires explicit codecs, used where lifetimes need to
// differ from configuration.
func NewServiceWithCodecs(access, refresh *Codec, users repository.UserRepository) *Service {
	return &Service{access: access, refresh: refresh, users: users}
}

// IssuePair signs a fresh access/refresh pair for the user. Both tokens carry
// the same user id and nothing else links them.
func (s *Service) IssuePair(userID string) (*TokenPair, error) {
	access, accessExp, err := s.access.Issue(userID)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := s.refresh.Issue(userID)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Refresh verifies the presented refresh token and issues a new access token
// for the same user. The user is looked up again so tokens for deleted
// accounts stop working at the first refresh rather than at refresh-token
// expiry. Returns the user id alongside the new token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, string, time.Time, error) {
	claims, err := s.refresh.Verify(refreshToken)
	if err != nil {
		return "", "", time.Time{}, err
	}

	if _, err := s.users.GetByID(ctx, claims.UserID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", time.Time{}, ErrUserNotFound
		}
		return "", "", time.Time{}, err
	}

	access, expiresAt, err := s.access.Issue(claims.UserID)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return claims.UserID, access, expiresAt, nil
}

// AccessCodec exposes the access-token codec for middleware verification.
func (s *Service) AccessCodec() *Codec {
	return s.access
}
