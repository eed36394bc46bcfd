package session

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/courier/internal/models"
)

func TestMemoryProviderWatch(t *testing.T) {
	p := NewMemory()
	require.Nil(t, p.Current())

	ch, cancel := p.Watch()
	defer cancel()

	require.NoError(t, p.SignIn(models.Identity{ID: "u1", Name: "Ann", Role: models.RoleAdmin}))
	got := <-ch
	require.NotNil(t, got)
	require.Equal(t, "u1", got.ID)

	// Only the latest identity is kept for a slow watcher.
	require.NoError(t, p.SignIn(models.Identity{ID: "u2", Role: models.RoleCustomer}))
	p.SignOut()
	require.Nil(t, <-ch)
	require.Nil(t, p.Current())

	cancel()
	cancel()
	_, ok := <-ch
	require.False(t, ok)
}

func TestMemoryProviderRejectsInvalidIdentity(t *testing.T) {
	p := NewMemory()
	err := p.SignIn(models.Identity{Role: models.RoleAdmin})
	require.ErrorIs(t, err, models.ErrInvalidUserID)
	require.Nil(t, p.Current())
}

func TestMemoryProviderCurrentIsACopy(t *testing.T) {
	p := NewMemory()
	require.NoError(t, p.SignIn(models.Identity{ID: "u1", Role: models.RoleAdmin}))
	p.Current().ID = "changed"
	require.Equal(t, "u1", p.Current().ID)
}

func TestTokenRoundTrip(t *testing.T) {
	issuer, err := NewTokenIssuer("0123456789abcdef", "courier", time.Hour)
	require.NoError(t, err)

	token, err := issuer.Issue(models.Identity{ID: "u1", Name: "Ann", Role: models.RoleSalesAgent})
	require.NoError(t, err)
	require.Equal(t, 2, strings.Count(token, "."))

	identity, err := issuer.Validate(token)
	require.NoError(t, err)
	require.Equal(t, models.Identity{ID: "u1", Name: "Ann", Role: models.RoleSalesAgent}, identity)
}

func TestTokenValidateRejects(t *testing.T) {
	issuer, err := NewTokenIssuer("0123456789abcdef", "courier", time.Hour)
	require.NoError(t, err)
	token, err := issuer.Issue(models.Identity{ID: "u1", Role: models.RoleAdmin})
	require.NoError(t, err)

	other, err := NewTokenIssuer("fedcba9876543210", "courier", time.Hour)
	require.NoError(t, err)
	_, err = other.Validate(token)
	require.True(t, errors.Is(err, ErrInvalidToken), "wrong secret: %v", err)

	wrongIssuer, err := NewTokenIssuer("0123456789abcdef", "someone-else", time.Hour)
	require.NoError(t, err)
	_, err = wrongIssuer.Validate(token)
	require.True(t, errors.Is(err, ErrInvalidToken), "wrong issuer: %v", err)

	later := *issuer
	later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = later.Validate(token)
	require.True(t, errors.Is(err, ErrInvalidToken), "expired: %v", err)

	_, err = issuer.Validate("not-a-token")
	require.True(t, errors.Is(err, ErrInvalidToken))
}

func TestNewTokenIssuerRequiresSecret(t *testing.T) {
	_, err := NewTokenIssuer("short", "courier", time.Hour)
	require.ErrorIs(t, err, ErrWeakSecret)
}
