package ports

import (
	"context"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
)

// AuthService defines the business logic for management API authentication.
type AuthService interface {
	// Login validates credentials and returns a signed session token.
	Login(ctx context.Context, creds domain.Credentials) (string, error)
	// ValidateToken checks if a token is valid and returns the associated user.
	ValidateToken(ctx context.Context, token string) (*domain.User, error)
	// CreateUser registers a new user (admin only).
	CreateUser(ctx context.Context, user domain.User, password string) error
	// EnsureBootstrapAdmin seeds the initial admin account when the user
	// table is empty. Called once at startup; a no-op otherwise.
	EnsureBootstrapAdmin(ctx context.Context, username, password string) error
}
