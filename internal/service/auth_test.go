package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumire/proposals/internal/domain"
)

func newAuthService(t *testing.T, demoEnabled bool) *AuthService {
	t.Helper()
	return NewAuthService(newTestUserStore(t), DefaultDemoAccounts(), AuthConfig{
		JWTSecret:        "test-secret",
		DemoLoginEnabled: demoEnabled,
	})
}

func TestAuthService_DemoLogin(t *testing.T) {
	svc := newAuthService(t, true)

	user, pair, err := svc.Login(context.Background(), LoginRequest{Mode: LoginModeDemo, UserID: "naccr_789"})
	require.NoError(t, err)
	assert.Equal(t, "NACCR Admin", user.Name)

	claims, err := svc.ValidateToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "naccr_789", claims.UserID)
	assert.Equal(t, domain.RoleReviewer, claims.Role)
	assert.Equal(t, "admin@naccr.gov.in", claims.Email)
	assert.Equal(t, "NACCR Admin", claims.Name)

	_, _, err = svc.Login(context.Background(), LoginRequest{Mode: LoginModeDemo, UserID: "nobody"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Len(t, svc.DemoUsers(), 3)
}

func TestAuthService_DemoLoginDisabled(t *testing.T) {
	svc := newAuthService(t, false)

	_, _, err := svc.Login(context.Background(), LoginRequest{Mode: LoginModeDemo, UserID: "user_123"})
	var vErr *domain.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "mode", vErr.Field)
	assert.Nil(t, svc.DemoUsers())

	_, err = svc.GetUser(context.Background(), "user_123")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAuthService_SignupAndPasswordLogin(t *testing.T) {
	ctx := context.Background()
	svc := newAuthService(t, true)

	user, pair, err := svc.Signup(ctx, SignupRequest{Name: "Asha Rao", Email: " Asha@Example.com ", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "asha@example.com", user.Email)
	assert.Equal(t, domain.RoleSubmitter, user.Role)
	assert.NotEmpty(t, user.ID)
	assert.NotEqual(t, "secret1", user.PasswordHash)
	assert.NotEmpty(t, pair.AccessToken)

	got, err := svc.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Asha Rao", got.Name)

	loggedIn, _, err := svc.Login(ctx, LoginRequest{Mode: LoginModePassword, Email: "asha@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, user.ID, loggedIn.ID)

	_, _, err = svc.Login(ctx, LoginRequest{Mode: LoginModePassword, Email: "asha@example.com", Password: "wrong-pass"})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, _, err = svc.Login(ctx, LoginRequest{Mode: LoginModePassword, Email: "nobody@example.com", Password: "secret1"})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, _, err = svc.Signup(ctx, SignupRequest{Name: "Again", Email: "asha@example.com", Password: "secret2"})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestAuthService_SignupValidation(t *testing.T) {
	svc := newAuthService(t, true)

	tests := []struct {
		name  string
		req   SignupRequest
		field string
	}{
		{"missing name", SignupRequest{Email: "a@b.co", Password: "secret1"}, "name"},
		{"bad email", SignupRequest{Name: "A", Email: "not-an-email", Password: "secret1"}, "email"},
		{"email with a list of domains", SignupRequest{Name: "A", Email: "a@b.co,c.org", Password: "secret1"}, "email"},
		{"short password", SignupRequest{Name: "A", Email: "a@b.co", Password: "12345"}, "password"},
		{"unknown role", SignupRequest{Name: "A", Email: "a@b.co", Password: "secret1", Role: "admin"}, "role"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Signup(context.Background(), tt.req)
			var vErr *domain.ValidationError
			require.True(t, errors.As(err, &vErr), "got %v", err)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestAuthService_Tokens(t *testing.T) {
	svc := newAuthService(t, true)
	_, pair, err := svc.Login(context.Background(), LoginRequest{Mode: LoginModeDemo, UserID: "user_456"})
	require.NoError(t, err)

	refreshed, err := svc.RefreshAccessToken(pair.RefreshToken)
	require.NoError(t, err)
	claims, err := svc.ValidateToken(refreshed.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user_456", claims.UserID)
	assert.Equal(t, domain.RoleSubmitter, claims.Role)

	_, err = svc.RefreshAccessToken(pair.AccessToken)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = svc.ValidateToken(pair.RefreshToken)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = svc.ValidateToken("garbage")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	otherSvc := NewAuthService(newTestUserStore(t), DefaultDemoAccounts(), AuthConfig{JWTSecret: "other-secret", DemoLoginEnabled: true})
	_, err = otherSvc.ValidateToken(pair.AccessToken)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestLoadDemoAccounts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "demo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`accounts:
  - id: rev_1
    name: Review Board
    email: board@example.org
    role: naccr
  - id: sub_1
    name: Sam Submitter
    email: sam@example.org
    role: user
`), 0o600))

	demo, err := LoadDemoAccounts(path)
	require.NoError(t, err)
	users := demo.Users()
	require.Len(t, users, 2)
	assert.Equal(t, "rev_1", users[0].ID)
	assert.Equal(t, domain.RoleReviewer, users[0].Role)

	u, ok := demo.Find("sub_1")
	require.True(t, ok)
	assert.Equal(t, "Sam Submitter", u.Name)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("accounts:\n  - id: x\n    role: superuser\n"), 0o600))
	_, err = LoadDemoAccounts(bad)
	assert.Error(t, err)

	_, err = LoadDemoAccounts(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestDirectory_Lookup(t *testing.T) {
	ctx := context.Background()
	users := newTestUserStore(t)
	_, err := users.Create(ctx, domain.User{ID: "u-1", Name: "Registered", Email: "r@example.com", Role: domain.RoleSubmitter, PasswordHash: "h"})
	require.NoError(t, err)

	d := NewDirectory(DefaultDemoAccounts(), users)
	u, err := d.Lookup(ctx, "user_123")
	require.NoError(t, err)
	assert.Equal(t, "John Doe", u.Name)

	u, err = d.Lookup(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "Registered", u.Name)

	_, err = d.Lookup(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	var nilDir *Directory
	_, err = nilDir.Lookup(ctx, "user_123")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
