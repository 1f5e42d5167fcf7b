package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/session-auth/internal/domain"
	apperrors "github.com/spec-kit/session-auth/pkg/util/errorutil"
)

const identityKey = "auth_identity"

// Guard validates bearer tokens on protected routes and attaches the verified
// identity to the request. It distinguishes "no credential supplied" (401)
// from "credential supplied but rejected" (403), and within the 403 case
// surfaces expired vs invalid so callers can decide whether a refresh is
// worth attempting. The guard never touches storage and never refreshes.
type Guard struct {
	codec *Codec
}

// NewGuard constructs the middleware around the access-token codec.
func NewGuard(codec *Codec) *Guard {
	return &Guard{codec: codec}
}

// Handle enforces authentication for protected routes.
func (g *Guard) Handle(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return apperrors.NewTokenMissing("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return apperrors.NewTokenMissing("invalid authorization header")
	}

	claims, err := g.codec.Verify(parts[1])
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return apperrors.NewTokenExpired("access token expired")
		}
		return apperrors.NewTokenInvalid("access token rejected")
	}

	c.Locals(identityKey, &domain.Identity{UserID: claims.UserID})
	return c.Next()
}

// IdentityFromContext retrieves the authenticated principal.
func IdentityFromContext(c *fiber.Ctx) (*domain.Identity, bool) {
	val := c.Locals(identityKey)
	if val == nil {
		return nil, false
	}
	identity, ok := val.(*domain.Identity)
	return identity, ok
}
