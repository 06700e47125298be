// README: Identity from the backend session token. The backend verifies signatures; the client only reads claims.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"orbix/internal/realtime"
	"orbix/internal/types"
)

var (
	ErrMissingToken = errors.New("missing session token")
	ErrNoSubject    = errors.New("token has no identity claim")
	ErrUnknownRole  = errors.New("cannot determine role")
	ErrExpired      = errors.New("session token expired")
)

// Claims is the subset of the backend token the client relies on.
type Claims struct {
	UserID string `json:"_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// IdentityFromToken reads identity and role from the token without verifying it.
// roleHint wins when the token carries no usable role claim.
func IdentityFromToken(token string, roleHint string, now time.Time) (realtime.Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return realtime.Identity{}, ErrMissingToken
	}

	var c Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return realtime.Identity{}, fmt.Errorf("parse session token: %w", err)
	}
	if c.ExpiresAt != nil && !now.IsZero() && c.ExpiresAt.Before(now) {
		return realtime.Identity{}, ErrExpired
	}

	id := c.UserID
	if id == "" {
		id = c.Subject
	}
	if id == "" {
		return realtime.Identity{}, ErrNoSubject
	}

	role, ok := parseRole(c.Role)
	if !ok {
		role, ok = parseRole(roleHint)
	}
	if !ok {
		return realtime.Identity{}, fmt.Errorf("%w: claim %q, hint %q", ErrUnknownRole, c.Role, roleHint)
	}
	return realtime.Identity{ID: types.ID(id), Role: role}, nil
}

// parseRole accepts the backend's names for each side.
func parseRole(s string) (types.Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rider", "user", "passenger":
		return types.RoleRider, true
	case "captain", "driver":
		return types.RoleCaptain, true
	}
	return "", false
}
