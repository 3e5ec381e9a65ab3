package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
	"github.com/lcalzada-xor/ztcore/internal/core/ports"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenExpired       = errors.New("token expired")
	ErrInvalidToken       = errors.New("invalid token")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

const tokenIssuer = "ztcore"

// Claims carries the session identity inside the signed token.
type Claims struct {
	jwt.RegisteredClaims
	Username string      `json:"username"`
	Role     domain.Role `json:"role"`
}

// Service implements ports.AuthService with bcrypt credential checks
// and stateless HS256 session tokens. Tokens are short-lived; the
// middleware re-issues them on activity so an idle dashboard expires.
type Service struct {
	repo     ports.UserRepository
	secret   []byte
	tokenTTL time.Duration
}

// NewService creates the authentication service.
func NewService(repo ports.UserRepository, secret string, tokenTTL time.Duration) *Service {
	return &Service{
		repo:     repo,
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
	}
}

// Login validates user credentials and returns a signed session token.
func (s *Service) Login(ctx context.Context, creds domain.Credentials) (string, error) {
	user, err := s.repo.GetUserByUsername(ctx, creds.Username)
	if err != nil {
		// Generic error to avoid account enumeration.
		return "", ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)); err != nil {
		return "", ErrInvalidCredentials
	}

	user.UpdateLastLogin()
	if err := s.repo.SaveUser(ctx, user); err != nil {
		return "", fmt.Errorf("failed to record login: %w", err)
	}

	return s.IssueToken(user)
}

// IssueToken signs a fresh session token for the user.
func (s *Service) IssueToken(user *domain.User) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
		Username: user.Username,
		Role:     user.Role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken verifies a session token and returns the associated user.
func (s *Service) ValidateToken(ctx context.Context, tokenString string) (*domain.User, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	// Re-read the user so a deleted account or a changed role takes
	// effect before the token expires.
	user, err := s.repo.GetUserByUsername(ctx, claims.Username)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return user, nil
}

// CreateUser provisions a new user with a hashed password.
func (s *Service) CreateUser(ctx context.Context, user domain.User, password string) error {
	if len(password) < 8 {
		return ErrWeakPassword
	}

	validated, err := domain.NewUser(uuid.NewString(), user.Username, user.Role)
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	validated.PasswordHash = string(hash)

	return s.repo.SaveUser(ctx, validated)
}

// EnsureBootstrapAdmin seeds the first admin account when the user table
// is empty. Subsequent calls are no-ops, so a configured bootstrap
// password cannot overwrite a live deployment's accounts.
func (s *Service) EnsureBootstrapAdmin(ctx context.Context, username, password string) error {
	count, err := s.repo.CountUsers(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if username == "" || password == "" {
		return errors.New("no users exist and no bootstrap admin configured")
	}
	return s.CreateUser(ctx, domain.User{Username: username, Role: domain.RoleAdmin}, password)
}

var _ ports.AuthService = (*Service)(nil)
