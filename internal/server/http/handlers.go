package httpserver

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/weightcalc/internal/errs"
	"github.com/and161185/weightcalc/internal/limiter"
	"github.com/and161185/weightcalc/internal/nutrition"
	"github.com/and161185/weightcalc/internal/service"
)

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.opts.Ready != nil {
		if err := h.opts.Ready(r.Context()); err != nil {
			h.log.Warn("not ready", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not_ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type entitlementResponse struct {
	Premium bool   `json:"premium"`
	Email   string `json:"email,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func (h *Handler) entitlement(w http.ResponseWriter, r *http.Request) {
	st := EntitlementFromContext(r.Context())
	writeJSON(w, http.StatusOK, entitlementResponse{
		Premium: st.Premium,
		Email:   st.Subject,
		Reason:  string(st.Reason),
	})
}

type planResponse struct {
	Premium bool            `json:"premium"`
	Input   nutrition.Input `json:"input"`
	Plan    nutrition.Plan  `json:"plan"`
}

func (h *Handler) plan(w http.ResponseWriter, r *http.Request) {
	st := EntitlementFromContext(r.Context())
	in := nutrition.ParseInput(r.URL.Query())
	writeJSON(w, http.StatusOK, planResponse{
		Premium: st.Premium,
		Input:   in,
		Plan:    nutrition.Compute(in, st.Premium),
	})
}

// activateLink handles the magic link: verify, set the cookie, and send the browser home.
func (h *Handler) activateLink(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tok := strings.TrimSpace(q.Get("token"))
	open := strings.TrimSpace(q.Get("open"))
	if tok == "" {
		writeError(w, http.StatusBadRequest, "missing_token")
		return
	}

	claim, err := h.access.Activate(r.Context(), tok, h.clientIP(r))
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	h.setAccessCookie(w, tok, claim.ExpiresAt)
	http.Redirect(w, r, h.homeURL(open), http.StatusFound)
}

type activateRequest struct {
	Token string `json:"token"`
	Open  string `json:"open"`
}

type activateResponse struct {
	OK   bool    `json:"ok"`
	Open *string `json:"open"`
}

func (h *Handler) activateJSON(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input")
		return
	}
	tok := strings.TrimSpace(req.Token)
	if tok == "" {
		writeError(w, http.StatusBadRequest, "missing_token")
		return
	}

	claim, err := h.access.Activate(r.Context(), tok, h.clientIP(r))
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	h.setAccessCookie(w, tok, claim.ExpiresAt)

	resp := activateResponse{OK: true}
	if open := strings.TrimSpace(req.Open); open != "" {
		resp.Open = &open
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) logout(w http.ResponseWriter, _ *http.Request) {
	h.clearAccessCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

type grantRequest struct {
	Email string `json:"email"`
	Open  string `json:"open"`
}

type grantResponse struct {
	OK        bool      `json:"ok"`
	ID        string    `json:"id"`
	AccessURL string    `json:"access_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// issueGrant is called by the payment-completion collaborator with the operator key.
func (h *Handler) issueGrant(w http.ResponseWriter, r *http.Request) {
	if h.opts.OperatorKey == nil {
		h.writeMappedError(w, r, errs.ErrDisabled)
		return
	}
	if err := h.checkOperator(r); err != nil {
		h.writeMappedError(w, r, err)
		return
	}

	var req grantRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input")
		return
	}
	g, err := h.access.Issue(r.Context(), req.Email, req.Open)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, grantResponse{
		OK:        true,
		ID:        g.ID.String(),
		AccessURL: g.AccessURL,
		ExpiresAt: g.ExpiresAt,
	})
}

// checkOperator verifies the bearer operator key, throttling failures per client IP.
func (h *Handler) checkOperator(r *http.Request) error {
	ctx := r.Context()
	ipHash := limiter.HashIP(h.clientIP(r))
	lim := h.opts.OperatorLimiter

	if lim != nil {
		allowed, retry, err := lim.Allow(ctx, limiter.ScopeOperator, ipHash)
		if err != nil {
			return err
		}
		if !allowed {
			return &service.RateLimitedError{RetryAfter: retry}
		}
	}

	key, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok || !h.opts.OperatorKey.Verify(key) {
		if lim != nil {
			blocked, retry, err := lim.Failure(ctx, limiter.ScopeOperator, ipHash)
			switch {
			case err != nil:
				h.log.Warn("operator limiter failure not recorded", zap.Error(err))
			case blocked:
				return &service.RateLimitedError{RetryAfter: retry}
			}
		}
		return errs.ErrUnauthorized
	}

	if lim != nil {
		if err := lim.Success(ctx, limiter.ScopeOperator, ipHash); err != nil {
			h.log.Warn("operator limiter reset failed", zap.Error(err))
		}
	}
	return nil
}

func (h *Handler) homeURL(open string) string {
	base := strings.TrimRight(h.opts.BaseURL, "/")
	if open == "" {
		return base + "/"
	}
	return base + "/?open=" + url.QueryEscape(open)
}
