package openapi

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const defaultRequestTimeout = 15 * time.Second

// Provider describes one wrapped REST API: where it lives, how to
// authenticate against it, and how fast it may be called. The limiter is
// owned by the provider value rather than any package-level state so
// concurrent turns share one budget safely.
type Provider struct {
	Name    string
	BaseURL string

	// AuthHeader/AuthValue are injected into every request when both are
	// set, e.g. ("Authorization", "Bearer ...") or ("X-API-Key", ...).
	AuthHeader string
	AuthValue  string

	// Limiter paces requests to the provider. Nil means unlimited.
	Limiter *rate.Limiter

	// Timeout bounds each candidate request independently so one slow
	// endpoint cannot stall its siblings. Zero means defaultRequestTimeout.
	Timeout time.Duration

	// HTTPClient overrides http.DefaultClient, mainly for tests.
	HTTPClient *http.Client
}

func (p *Provider) timeout() time.Duration {
	if p.Timeout > 0 {
		return p.Timeout
	}
	return defaultRequestTimeout
}

func (p *Provider) client() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return http.DefaultClient
}
