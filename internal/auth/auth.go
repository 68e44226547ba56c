// Package auth provides authentication for pixelmint.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pixelmint-ai/pixelmint/internal/config"
	"github.com/pixelmint-ai/pixelmint/internal/store"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountExists      = errors.New("account already exists")
	ErrUnauthenticated    = errors.New("unauthenticated")
)

// Claims represents the JWT token claims issued by the builtin provider.
// The account id travels in the registered subject claim.
type Claims struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Service is the builtin auth provider: bcrypt-hashed passwords and HS256
// JWTs under a shared signing key. Token verification decodes and checks
// the signature without touching the store.
type Service struct {
	store         store.Store
	jwtSecret     []byte
	jwtExpiry     time.Duration
	signupCredits int
}

// NewService creates a new builtin auth service.
func NewService(s store.Store, cfg config.AuthConfig) *Service {
	return &Service{
		store:         s,
		jwtSecret:     []byte(cfg.JWTSecret),
		jwtExpiry:     cfg.JWTExpiry.Duration,
		signupCredits: cfg.SignupCredits,
	}
}

// Name returns the provider name.
func (s *Service) Name() string { return "builtin" }

// Register creates a new account and returns a logged-in session.
func (s *Service) Register(ctx context.Context, name, email, password string) (*Session, error) {
	existing, err := s.store.GetAccountByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("check existing: %w", err)
	}
	if existing != nil {
		return nil, ErrAccountExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	a := &store.Account{
		ID:            uuid.New().String(),
		Name:          name,
		Email:         email,
		PasswordHash:  string(hash),
		CreditBalance: s.signupCredits,
		CreatedAt:     time.Now(),
	}
	if err := s.store.CreateAccount(ctx, a); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}

	return s.newSession(a)
}

// Login authenticates an account by email and password.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	a, err := s.store.GetAccountByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if a == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.newSession(a)
}

// ValidateToken verifies a bearer token and returns the identity it carries.
// Expired, malformed, or wrongly-signed tokens and tokens without a subject
// all fail with ErrUnauthenticated, never a generic fault.
func (s *Service) ValidateToken(ctx context.Context, tokenStr string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, ErrUnauthenticated
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrUnauthenticated
	}

	return &Identity{
		AccountID: claims.Subject,
		Name:      claims.Name,
		Email:     claims.Email,
	}, nil
}

func (s *Service) newSession(a *store.Account) (*Session, error) {
	claims := &Claims{
		Name:  a.Name,
		Email: a.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.ID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.jwtExpiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        uuid.New().String(),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	return &Session{
		Token:     token,
		AccountID: a.ID,
		Name:      a.Name,
		Email:     a.Email,
	}, nil
}
