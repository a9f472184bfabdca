package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tech-arch1tect/authkit/testutils"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db := testutils.SetupTestDB(t, &User{}, &Identity{})
	return NewService(testutils.GetTestConfig(), db, nil)
}

func TestValidatePassword(t *testing.T) {
	svc := newTestService(t)

	tests := []struct {
		name     string
		password string
		wantErr  string
	}{
		{name: "valid", password: "Correct-Horse-9"},
		{name: "too short", password: "Ab1", wantErr: "at least 8 characters"},
		{name: "no upper", password: "lowercase1", wantErr: "uppercase"},
		{name: "no number", password: "NoNumbersHere", wantErr: "one number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.ValidatePassword(tt.password)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	created, err := svc.CreateUser(ctx, "  Alice@Example.com ", testutils.TestUsers.Password)
	require.NoError(t, err)
	assert.Equal(t, testutils.TestUsers.Email, created.Email)
	assert.Equal(t, []string{"user"}, created.RoleNames())

	user, err := svc.Authenticate(ctx, testutils.TestUsers.Email, testutils.TestUsers.Password)
	require.NoError(t, err)
	assert.Equal(t, created.ID, user.ID)

	_, err = svc.Authenticate(ctx, testutils.TestUsers.Email, "Wrong-Horse-9")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "nobody@example.com", testutils.TestUsers.Password)
	assert.ErrorIs(t, err, ErrInvalidCredentials, "unknown accounts look like bad passwords")

	_, err = svc.CreateUser(ctx, testutils.TestUsers.Email, testutils.TestUsers.Password)
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestProvisionedUserCannotPasswordLogin(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	u, err := svc.ProvisionUser(ctx, "bob@example.com", "Bob", true)
	require.NoError(t, err)
	assert.True(t, u.EmailVerified)

	_, err = svc.Authenticate(ctx, "bob@example.com", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestIdentities(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	alice, err := svc.CreateUser(ctx, "alice@example.com", testutils.TestUsers.Password, "user", "admin")
	require.NoError(t, err)
	assert.Equal(t, []string{"user", "admin"}, alice.RoleNames())
	bob, err := svc.ProvisionUser(ctx, "bob@example.com", "Bob", true)
	require.NoError(t, err)

	_, err = svc.FindByIdentity(ctx, "oidc", "sub-1")
	assert.ErrorIs(t, err, ErrIdentityNotFound)

	_, err = svc.LinkIdentity(ctx, alice.ID, "oidc", "sub-1", "alice@example.com")
	require.NoError(t, err)
	_, err = svc.LinkIdentity(ctx, alice.ID, "oidc", "sub-1", "alice@example.com")
	require.NoError(t, err, "relinking to the same user is a no-op")

	_, err = svc.LinkIdentity(ctx, bob.ID, "oidc", "sub-1", "bob@example.com")
	assert.ErrorIs(t, err, ErrIdentityLinkedElsewhere)

	found, err := svc.FindByIdentity(ctx, "oidc", "sub-1")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, found.ID)
}
