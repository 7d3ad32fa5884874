// Package v1 exposes the conversational API: chat CRUD, the streaming turn
// handler, an OpenAI-compatible completions surface, and the quota reset
// hook.
package v1

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/chainchat/chainchat/plugin/llm"
	"github.com/chainchat/chainchat/plugin/tools"
	"github.com/chainchat/chainchat/server/auth"
	"github.com/chainchat/chainchat/server/profile"
	"github.com/chainchat/chainchat/server/quota"
	"github.com/chainchat/chainchat/store"
)

type APIV1Service struct {
	Profile  *profile.Profile
	Store    *store.Store
	Ledger   *quota.Ledger
	Engine   llm.Engine
	Registry *tools.Registry
	Groups   *tools.Groups

	authenticator *auth.Authenticator
}

func NewAPIV1Service(
	p *profile.Profile,
	s *store.Store,
	ledger *quota.Ledger,
	engine llm.Engine,
	registry *tools.Registry,
	groups *tools.Groups,
) *APIV1Service {
	return &APIV1Service{
		Profile:       p,
		Store:         s,
		Ledger:        ledger,
		Engine:        engine,
		Registry:      registry,
		Groups:        groups,
		authenticator: auth.NewAuthenticator(s, p.JWTSecret),
	}
}

// Register mounts all v1 routes.
func (s *APIV1Service) Register(e *echo.Echo) {
	s.registerChatRoutes(e)
	s.registerCompletionRoutes(e)
	s.registerQuotaRoutes(e)
}

// requireAuth resolves the caller's session or fails the request with a 401.
func (s *APIV1Service) requireAuth(c *echo.Context) (*store.User, error) {
	authHeader := c.Request().Header.Get("Authorization")
	cookieHeader := c.Request().Header.Get("Cookie")
	user, err := s.authenticator.AuthenticateToUser(c.Request().Context(), authHeader, cookieHeader)
	if err != nil || user == nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	return user, nil
}
