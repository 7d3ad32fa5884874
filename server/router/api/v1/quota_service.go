package v1

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/chainchat/chainchat/store"
)

func (s *APIV1Service) registerQuotaRoutes(e *echo.Echo) {
	g := e.Group("/api/v1/quota")
	g.GET("", s.getQuota)
	g.POST("/reset", s.resetQuota)
}

func (s *APIV1Service) getQuota(c *echo.Context) error {
	user, err := s.requireAuth(c)
	if err != nil {
		return err
	}
	record, err := s.Store.GetQuota(c.Request().Context(), user.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if record == nil {
		record = &store.QuotaRecord{UserID: user.ID, Tier: store.TierFree}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"tier":           record.Tier,
		"dailyRemaining": record.DailyRemaining,
		"messageCount":   record.MessageCount,
	})
}

// resetQuota restores every user's daily allowance. The trigger is an
// external scheduler authenticated by a shared secret, not a user session.
// Idempotent within a reset period.
func (s *APIV1Service) resetQuota(c *echo.Context) error {
	secret := c.Request().Header.Get("X-Reset-Secret")
	if s.Profile.QuotaResetSecret == "" ||
		subtle.ConstantTimeCompare([]byte(secret), []byte(s.Profile.QuotaResetSecret)) != 1 {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if err := s.Ledger.ResetAll(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
