// Package server assembles the HTTP surface.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/chainchat/chainchat/plugin/llm"
	"github.com/chainchat/chainchat/plugin/tools"
	apiv1 "github.com/chainchat/chainchat/server/router/api/v1"
	"github.com/chainchat/chainchat/server/profile"
	"github.com/chainchat/chainchat/server/quota"
	"github.com/chainchat/chainchat/store"
)

type Server struct {
	echo    *echo.Echo
	server  *http.Server
	profile *profile.Profile
}

func New(
	p *profile.Profile,
	s *store.Store,
	engine llm.Engine,
	registry *tools.Registry,
	groups *tools.Groups,
) *Server {
	e := echo.New()

	ledger := quota.NewLedger(s, quota.Limits{
		Free: p.FreeDailyLimit,
		Pro:  p.ProDailyLimit,
	})
	apiv1.NewAPIV1Service(p, s, ledger, engine, registry, groups).Register(e)

	e.GET("/healthz", func(c *echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	return &Server{echo: e, server: &http.Server{Handler: e}, profile: p}
}

func (s *Server) Start() error {
	s.server.Addr = fmt.Sprintf("%s:%d", s.profile.Addr, s.profile.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
