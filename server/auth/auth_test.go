package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chainchat/chainchat/store"
	"github.com/chainchat/chainchat/store/teststore"
)

func newAuthenticator(t *testing.T, secret string) (*Authenticator, *teststore.Driver) {
	t.Helper()
	driver := teststore.New()
	driver.AddUser(7, "alice", store.TierFree, 5)
	return NewAuthenticator(store.New(driver), secret), driver
}

func TestAuthenticateBearerToken(t *testing.T) {
	a, _ := newAuthenticator(t, "secret")
	token, err := a.IssueToken(7, time.Hour)
	require.NoError(t, err)

	user, err := a.AuthenticateToUser(context.Background(), "Bearer "+token, "")
	require.NoError(t, err)
	require.Equal(t, "alice", user.Username)
}

func TestAuthenticateSessionCookie(t *testing.T) {
	a, _ := newAuthenticator(t, "secret")
	token, err := a.IssueToken(7, time.Hour)
	require.NoError(t, err)

	user, err := a.AuthenticateToUser(context.Background(), "", "chainchat_session="+token)
	require.NoError(t, err)
	require.Equal(t, "alice", user.Username)
}

func TestAuthenticateRejectsWrongSecret(t *testing.T) {
	other, _ := newAuthenticator(t, "other-secret")
	token, err := other.IssueToken(7, time.Hour)
	require.NoError(t, err)

	a, _ := newAuthenticator(t, "secret")
	_, err = a.AuthenticateToUser(context.Background(), "Bearer "+token, "")
	require.Error(t, err)
}

func TestAuthenticateRejectsExpiredToken(t *testing.T) {
	a, _ := newAuthenticator(t, "secret")
	token, err := a.IssueToken(7, -time.Minute)
	require.NoError(t, err)

	_, err = a.AuthenticateToUser(context.Background(), "Bearer "+token, "")
	require.Error(t, err)
}

func TestAuthenticateUnknownUser(t *testing.T) {
	a, _ := newAuthenticator(t, "secret")
	token, err := a.IssueToken(99, time.Hour)
	require.NoError(t, err)

	_, err = a.AuthenticateToUser(context.Background(), "Bearer "+token, "")
	require.Error(t, err)
}

func TestAuthenticateNoToken(t *testing.T) {
	a, _ := newAuthenticator(t, "secret")
	_, err := a.AuthenticateToUser(context.Background(), "", "")
	require.Error(t, err)
}
