// Package service contains the application services that issue and activate premium access.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/weightcalc/internal/errs"
	"github.com/and161185/weightcalc/internal/limiter"
	"github.com/and161185/weightcalc/internal/model"
	"github.com/and161185/weightcalc/internal/repository"
	"github.com/and161185/weightcalc/internal/token"
)

// Tokens is the part of token.Codec the service depends on.
type Tokens interface {
	Issue(subject string, ttl time.Duration) (string, token.Claim, error)
	Verify(tok string) (token.Claim, error)
}

// AccessConfig carries the issuing policy.
type AccessConfig struct {
	BaseURL string
	AppName string
	TTL     time.Duration
	// ForceRecipient, when set, receives every grant mail (sandbox providers).
	ForceRecipient string
}

// RateLimitedError is returned while a client is blocked.
type RateLimitedError struct{ RetryAfter time.Duration }

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitedError) Unwrap() error { return errs.ErrRateLimited }

var openSlug = regexp.MustCompile(`^[a-z0-9_-]+$`)

// AccessService issues grants after a purchase and activates them in the browser.
type AccessService struct {
	tokens Tokens
	lim    limiter.Limiter
	grants repository.GrantRepository // optional
	mailer Mailer
	cfg    AccessConfig
	log    *zap.Logger
}

// NewAccessService constructs AccessService. grants may be nil when no database is configured.
func NewAccessService(tokens Tokens, lim limiter.Limiter, grants repository.GrantRepository, mailer Mailer, cfg AccessConfig, log *zap.Logger) *AccessService {
	if cfg.TTL == 0 {
		cfg.TTL = token.DefaultTTL
	}
	if cfg.AppName == "" {
		cfg.AppName = "WeightCalc"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AccessService{tokens: tokens, lim: lim, grants: grants, mailer: mailer, cfg: cfg, log: log}
}

// NormalizeEmail trims and lower-cases an address before it becomes a token subject.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Issue mints a token for email and mails the magic link.
func (s *AccessService) Issue(ctx context.Context, email, open string) (model.Grant, error) {
	email = NormalizeEmail(email)
	open = strings.TrimSpace(open)
	if err := validation.Validate(email, validation.Required, is.EmailFormat); err != nil {
		return model.Grant{}, fmt.Errorf("%w: email: %v", errs.ErrInvalidInput, err)
	}
	if err := validation.Validate(open, validation.Length(0, 64), validation.Match(openSlug)); err != nil {
		return model.Grant{}, fmt.Errorf("%w: open: %v", errs.ErrInvalidInput, err)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return model.Grant{}, err
	}
	tok, claim, err := s.tokens.Issue(email, s.cfg.TTL)
	if err != nil {
		return model.Grant{}, err
	}
	g := model.Grant{
		ID:        id,
		Email:     email,
		Open:      open,
		Token:     tok,
		AccessURL: s.AccessURL(tok, open),
		IssuedAt:  time.Unix(claim.IssuedAt, 0).UTC(),
		ExpiresAt: time.Unix(claim.ExpiresAt, 0).UTC(),
	}

	if s.grants != nil {
		if err := s.grants.Record(ctx, &g); err != nil {
			return model.Grant{}, fmt.Errorf("record grant: %w", err)
		}
	}

	html, err := renderGrantMail(s.cfg.AppName, g.AccessURL)
	if err != nil {
		return model.Grant{}, fmt.Errorf("render grant mail: %w", err)
	}
	to := email
	if s.cfg.ForceRecipient != "" {
		to = s.cfg.ForceRecipient
	}
	if err := s.mailer.Send(ctx, to, s.cfg.AppName+" Premium access", html); err != nil {
		return model.Grant{}, fmt.Errorf("send grant mail: %w", err)
	}

	s.log.Info("grant issued",
		zap.String("grant_id", g.ID.String()),
		zap.String("email", g.Email),
		zap.Time("expires_at", g.ExpiresAt))
	return g, nil
}

// AccessURL builds the magic link that activates tok, optionally reopening a calculator section.
func (s *AccessService) AccessURL(tok, open string) string {
	u := strings.TrimRight(s.cfg.BaseURL, "/") + "/api/activate?token=" + url.QueryEscape(tok)
	if open != "" {
		u += "&open=" + url.QueryEscape(open)
	}
	return u
}

// Activate verifies a token presented through a magic link, rate limited by client IP.
// Rejections are returned as *token.RejectError; blocks as *RateLimitedError.
func (s *AccessService) Activate(ctx context.Context, tok, clientIP string) (token.Claim, error) {
	ipHash := limiter.HashIP(clientIP)

	allowed, retry, err := s.lim.Allow(ctx, limiter.ScopeActivate, ipHash)
	if err != nil {
		return token.Claim{}, fmt.Errorf("limiter allow: %w", err)
	}
	if !allowed {
		return token.Claim{}, &RateLimitedError{RetryAfter: retry}
	}

	claim, err := s.tokens.Verify(tok)
	if err != nil {
		var rej *token.RejectError
		if !errors.As(err, &rej) {
			return token.Claim{}, err
		}
		blocked, retry, ferr := s.lim.Failure(ctx, limiter.ScopeActivate, ipHash)
		if ferr != nil {
			s.log.Warn("limiter failure not recorded", zap.Error(ferr))
		} else if blocked {
			return token.Claim{}, &RateLimitedError{RetryAfter: retry}
		}
		s.log.Info("activation rejected", zap.String("reason", string(rej.Reason)))
		return token.Claim{}, err
	}

	if err := s.lim.Success(ctx, limiter.ScopeActivate, ipHash); err != nil {
		s.log.Warn("limiter reset failed", zap.Error(err))
	}
	return claim, nil
}

// History lists grants issued to email, newest first.
func (s *AccessService) History(ctx context.Context, email string) ([]model.Grant, error) {
	if s.grants == nil {
		return nil, errs.ErrDisabled
	}
	return s.grants.ListByEmail(ctx, NormalizeEmail(email))
}
