// Package auth validates session tokens and resolves them to user rows. The
// identity provider that issues tokens is an external collaborator; this
// package only verifies and looks up.
package auth

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/chainchat/chainchat/store"
)

const sessionCookie = "chainchat_session"

// Authenticator verifies HS256 session tokens.
type Authenticator struct {
	store  *store.Store
	secret []byte
}

func NewAuthenticator(s *store.Store, secret string) *Authenticator {
	return &Authenticator{store: s, secret: []byte(secret)}
}

// AuthenticateToUser resolves a bearer Authorization header or session
// cookie to a user row. Any failure returns an error suitable for a 401.
func (a *Authenticator) AuthenticateToUser(ctx context.Context, authHeader, cookieHeader string) (*store.User, error) {
	token := extractToken(authHeader, cookieHeader)
	if token == "" {
		return nil, errors.New("no session token")
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, errors.Wrap(err, "invalid session token")
	}

	sub, err := strconv.ParseInt(claims.Subject, 10, 32)
	if err != nil {
		return nil, errors.Wrap(err, "invalid subject claim")
	}
	userID := int32(sub)

	user, err := a.store.GetUser(ctx, &store.FindUser{ID: &userID})
	if err != nil {
		return nil, errors.Wrap(err, "look up user")
	}
	if user == nil {
		return nil, errors.Errorf("user %d not found", userID)
	}
	return user, nil
}

// IssueToken mints a session token for the given user, valid for ttl.
func (a *Authenticator) IssueToken(userID int32, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(int64(userID), 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func extractToken(authHeader, cookieHeader string) string {
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	header := http.Header{}
	header.Add("Cookie", cookieHeader)
	req := http.Request{Header: header}
	if c, err := req.Cookie(sessionCookie); err == nil {
		return c.Value
	}
	return ""
}
