// Package httpserver exposes the calculator and premium access flows over HTTP.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/and161185/weightcalc/internal/crypto"
	"github.com/and161185/weightcalc/internal/entitlement"
	"github.com/and161185/weightcalc/internal/limiter"
	"github.com/and161185/weightcalc/internal/model"
	"github.com/and161185/weightcalc/internal/token"
)

// Resolver maps the access cookie to an entitlement.
type Resolver interface {
	Resolve(cookieValue string) (entitlement.State, error)
}

// Access issues and activates grants.
type Access interface {
	Issue(ctx context.Context, email, open string) (model.Grant, error)
	Activate(ctx context.Context, tok, clientIP string) (token.Claim, error)
}

// Options configures the handler.
type Options struct {
	BaseURL      string
	CookieSecure bool
	TrustProxy   bool
	// OperatorKey guards POST /api/grants; nil disables the endpoint.
	OperatorKey *crypto.KeyHash
	// OperatorLimiter throttles failed operator-key attempts; required with OperatorKey.
	OperatorLimiter limiter.Limiter
	// Ready backs /readyz; nil means always ready.
	Ready func(ctx context.Context) error
}

// Handler is the HTTP adapter.
type Handler struct {
	resolver Resolver
	access   Access
	opts     Options
	log      *zap.Logger
	now      func() time.Time
}

// NewHandler constructs a Handler.
func NewHandler(resolver Resolver, access Access, opts Options, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{resolver: resolver, access: access, opts: opts, log: log, now: time.Now}
}

// Router registers routes and the middleware stack.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(h.recoverMiddleware)
	r.Use(h.loggingMiddleware)
	r.Use(securityHeaders)

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)

	r.Route("/api", func(r chi.Router) {
		r.Use(noStore)

		r.Get("/activate", h.activateLink)
		r.Post("/activate", h.activateJSON)
		r.Post("/logout", h.logout)
		r.Post("/grants", h.issueGrant)

		r.Group(func(r chi.Router) {
			r.Use(h.entitlementMiddleware)
			r.Get("/entitlement", h.entitlement)
			r.Get("/plan", h.plan)
		})
	})

	return r
}
