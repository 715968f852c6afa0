package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tuanbt/vickyboard/internal/task"
)

// Claims are the access token claims the dashboard reads and the dev issuer writes.
type Claims struct {
	Name              string    `json:"name,omitempty"`
	PreferredUsername string    `json:"preferred_username,omitempty"`
	Role              task.Role `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// DisplayName returns the best human readable name carried by the claims.
func (c *Claims) DisplayName() string {
	switch {
	case c.Name != "":
		return c.Name
	case c.PreferredUsername != "":
		return c.PreferredUsername
	default:
		return c.Subject
	}
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      task.User `json:"user"`
}

// Config configures the dev token issuer.
type Config struct {
	JWTSecret           string
	Issuer              string
	AccessTokenDuration time.Duration
	// Users maps user names to plain-text passwords; they are hashed on startup.
	Users map[string]string
}
