package auth

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/holdem/internal/store"
)

func newTestService(t *testing.T) (*Service, *quartz.Mock) {
	t.Helper()
	clock := quartz.NewMock(t)
	svc := NewService(store.NewMemory(), "test-secret", WithClock(clock))
	return svc, clock
}

func TestRegisterAndLogin(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	user, token, err := svc.Register(ctx, "alice@example.com", "alice", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, SignupBonus, user.Balance)
	assert.NotEmpty(t, token)
	assert.NotEqual(t, "hunter22", user.PasswordHash)

	id, err := svc.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, id.UserID)
	assert.Equal(t, "alice", id.Username)
	assert.False(t, id.IsAdmin)

	// Fresh login issues a distinct, independently valid token.
	_, token2, err := svc.Login(ctx, "alice@example.com", "hunter22")
	require.NoError(t, err)
	assert.NotEqual(t, token, token2)
	_, err = svc.Verify(ctx, token2)
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, "alice@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = svc.Login(ctx, "nobody@example.com", "hunter22")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		email    string
		username string
		password string
	}{
		{"bad email", "not-an-email", "alice", "hunter22"},
		{"short username", "a@example.com", "ab", "hunter22"},
		{"long username", "a@example.com", "abcdefghijklmnopqrstu", "hunter22"},
		{"bad username characters", "a@example.com", "al ice!", "hunter22"},
		{"short password", "a@example.com", "alice", "12345"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, _, err := svc.Register(ctx, c.email, c.username, c.password)
			assert.Error(t, err)
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Register(ctx, "alice@example.com", "alice", "hunter22")
	require.NoError(t, err)

	_, _, err = svc.Register(ctx, "alice@example.com", "alice2", "hunter22")
	assert.ErrorIs(t, err, ErrUserExists)
	_, _, err = svc.Register(ctx, "alice2@example.com", "alice", "hunter22")
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestTokenExpiryAndRefresh(t *testing.T) {
	t.Parallel()
	svc, clock := newTestService(t)
	ctx := context.Background()

	_, token, err := svc.Register(ctx, "alice@example.com", "alice", "hunter22")
	require.NoError(t, err)

	// Each Verify slides the expiry, so regular use keeps the session
	// alive indefinitely.
	for i := 0; i < 3; i++ {
		clock.Advance(TokenTTL - time.Hour)
		_, err = svc.Verify(ctx, token)
		require.NoError(t, err, "verify %d", i)
	}

	// Left unused past the TTL, the session dies.
	clock.Advance(TokenTTL + time.Minute)
	_, err = svc.Verify(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLogout(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, token, err := svc.Register(ctx, "alice@example.com", "alice", "hunter22")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, token))
	_, err = svc.Verify(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Logging out twice is harmless.
	require.NoError(t, svc.Logout(ctx, token))
}

func TestVerifyRejectsGarbage(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Verify(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = svc.Verify(ctx, "deadbeef")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
