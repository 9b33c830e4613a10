// Package auth issues and verifies the bearer tokens that gate both
// the lobby and the real-time gateway. Tokens are opaque random
// strings; only an HMAC digest is stored, so a leaked database does
// not leak usable credentials.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coder/quartz"
	"golang.org/x/crypto/bcrypt"

	"github.com/lox/holdem/internal/store"
)

const (
	// SignupBonus is credited to every new account.
	SignupBonus int64 = 50000

	// TokenTTL is the sliding session lifetime; every successful
	// Verify pushes the expiry forward by this much.
	TokenTTL = 7 * 24 * time.Hour

	tokenBytes = 32
)

var (
	// ErrInvalidCredentials indicates a failed login. It deliberately
	// does not distinguish an unknown email from a wrong password.
	ErrInvalidCredentials = errors.New("auth: invalid email or password")

	// ErrInvalidToken indicates the token is unknown or expired.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrUserExists indicates the email or username is already taken.
	ErrUserExists = errors.New("auth: email or username already taken")

	// ErrValidation wraps registration input that fails the rules.
	ErrValidation = errors.New("auth: validation failed")
)

// Identity is the verified owner of a token.
type Identity struct {
	UserID   int64
	Username string
	IsAdmin  bool
}

// Service signs users up, logs them in, and verifies tokens.
type Service struct {
	store  store.Store
	secret []byte
	clock  quartz.Clock
}

// Option configures a Service.
type Option func(*Service)

// WithClock substitutes the clock, for tests.
func WithClock(c quartz.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// NewService creates the auth service. The secret keys token digests
// and must stay stable across restarts or every session is
// invalidated.
func NewService(st store.Store, secret string, opts ...Option) *Service {
	s := &Service{
		store:  st,
		secret: []byte(secret),
		clock:  quartz.NewReal(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates an account with the signup bonus and returns the
// user together with a fresh bearer token.
func (s *Service) Register(ctx context.Context, email, username, password string) (*store.User, string, error) {
	if err := validateRegistration(email, username, password); err != nil {
		return nil, "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hashing password: %w", err)
	}
	user, err := s.store.CreateUser(ctx, email, username, string(hash), SignupBonus, false)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, "", ErrUserExists
		}
		return nil, "", err
	}
	token, err := s.issueToken(ctx, user.ID)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Login verifies the password and returns the user with a fresh
// bearer token.
func (s *Service) Login(ctx context.Context, email, password string) (*store.User, string, error) {
	user, err := s.store.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}
	token, err := s.issueToken(ctx, user.ID)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Verify resolves a bearer token to its identity and slides the
// session expiry forward.
func (s *Service) Verify(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrInvalidToken
	}
	now := s.clock.Now()
	user, err := s.store.SessionUser(ctx, s.digest(token), now, now.Add(TokenTTL))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Identity{}, ErrInvalidToken
		}
		return Identity{}, err
	}
	return Identity{UserID: user.ID, Username: user.Username, IsAdmin: user.IsAdmin}, nil
}

// Logout discards the session. Unknown tokens are a no-op.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.store.DeleteSession(ctx, s.digest(token))
}

func (s *Service) issueToken(ctx context.Context, userID int64) (string, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	token := hex.EncodeToString(raw)
	expires := s.clock.Now().Add(TokenTTL)
	if err := s.store.SaveSession(ctx, s.digest(token), userID, expires); err != nil {
		return "", fmt.Errorf("saving session: %w", err)
	}
	return token, nil
}

func (s *Service) digest(token string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

func validateRegistration(email, username, password string) error {
	if len(email) < 3 || !strings.Contains(email, "@") {
		return fmt.Errorf("%w: invalid email address", ErrValidation)
	}
	if n := len(username); n < 3 || n > 20 {
		return fmt.Errorf("%w: username must be between 3 and 20 characters", ErrValidation)
	}
	for _, r := range username {
		if !isUsernameRune(r) {
			return fmt.Errorf("%w: username may only contain letters, digits, and underscores", ErrValidation)
		}
	}
	if len(password) < 6 {
		return fmt.Errorf("%w: password must be at least 6 characters", ErrValidation)
	}
	return nil
}

func isUsernameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		return true
	}
	return false
}
