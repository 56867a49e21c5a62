// Package token mints and verifies the signed, expiring access tokens that gate premium content.
//
// Wire format:
//
//	base64url(json(claim)) "." base64url(hmac_sha256(secret, base64url(json(claim))))
//
// Both segments use the unpadded URL-safe alphabet. Tokens are signed, not encrypted:
// the subject is readable by anyone holding the token.
package token

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/weightcalc/internal/errs"
)

// DefaultTTL is the access lifetime granted by a purchase.
const DefaultTTL = 30 * 24 * time.Hour

const separator = "."

// segment is the strict unpadded URL-safe encoding; strictness rejects
// non-canonical trailing bits so that distinct strings never decode equal.
var segment = base64.RawURLEncoding.Strict()

// Claim is the signed payload. Times are unix seconds.
type Claim struct {
	Subject   string `json:"sub"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// SecretFunc returns the current signing secret. An empty result means "not configured".
type SecretFunc func() []byte

// StaticSecret returns a SecretFunc that always yields secret.
func StaticSecret(secret []byte) SecretFunc {
	s := append([]byte(nil), secret...)
	return func() []byte { return s }
}

// Option customizes a Codec.
type Option func(*Codec)

// WithClock overrides the time source (tests, offline tooling).
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// Codec mints and verifies tokens. It holds no mutable state and is safe for concurrent use.
type Codec struct {
	secret SecretFunc
	now    func() time.Time
}

// NewCodec constructs a Codec and probes the secret once so that a
// misconfigured process fails at start-up rather than on the first request.
func NewCodec(secret SecretFunc, opts ...Option) (*Codec, error) {
	if secret == nil || len(secret()) == 0 {
		return nil, errs.ErrSecretMissing
	}
	c := &Codec{secret: secret, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Mint issues a token for subject valid for ttl (whole seconds, at least one).
// The subject is opaque and case-sensitive; normalize it before calling.
func (c *Codec) Mint(subject string, ttl time.Duration) (string, error) {
	tok, _, err := c.Issue(subject, ttl)
	return tok, err
}

// Issue is Mint that also returns the signed claim.
func (c *Codec) Issue(subject string, ttl time.Duration) (string, Claim, error) {
	if subject == "" {
		return "", Claim{}, fmt.Errorf("%w: empty subject", errs.ErrInvalidInput)
	}
	// json.Marshal would replace invalid bytes and the verified subject would differ
	if !utf8.ValidString(subject) {
		return "", Claim{}, fmt.Errorf("%w: subject is not valid UTF-8", errs.ErrInvalidInput)
	}
	if ttl < time.Second {
		return "", Claim{}, fmt.Errorf("%w: ttl must be at least 1s, got %s", errs.ErrInvalidInput, ttl)
	}
	key := c.secret()
	if len(key) == 0 {
		return "", Claim{}, errs.ErrSecretMissing
	}

	iat := c.now().Unix()
	claim := Claim{
		Subject:   subject,
		IssuedAt:  iat,
		ExpiresAt: iat + int64(ttl/time.Second),
	}
	raw, err := json.Marshal(claim)
	if err != nil {
		return "", Claim{}, fmt.Errorf("marshal claim: %w", err)
	}

	payload := segment.EncodeToString(raw)
	tag, err := sign(payload, key)
	if err != nil {
		return "", Claim{}, err
	}
	return payload + separator + segment.EncodeToString(tag), claim, nil
}

// Verify checks token and returns its claim.
//
// Rejections are returned as *RejectError in a fixed order: format, signature,
// payload, subject, expiry. Any other error (a missing secret) is a configuration
// failure and must not be treated as a rejection.
func (c *Codec) Verify(tok string) (Claim, error) {
	payload, tagSeg, ok := split(tok)
	if !ok {
		return Claim{}, ErrBadFormat
	}

	key := c.secret()
	if len(key) == 0 {
		return Claim{}, errs.ErrSecretMissing
	}
	expected, err := sign(payload, key)
	if err != nil {
		return Claim{}, err
	}
	got, err := segment.DecodeString(tagSeg)
	if err != nil {
		return Claim{}, ErrBadSignature
	}
	if len(got) != len(expected) || subtle.ConstantTimeCompare(got, expected) != 1 {
		return Claim{}, ErrBadSignature
	}

	raw, err := segment.DecodeString(payload)
	if err != nil {
		return Claim{}, ErrBadPayload
	}
	claim, err := decodeClaim(raw)
	if err != nil {
		return Claim{}, ErrBadPayload
	}

	if claim.Subject == "" {
		return Claim{}, ErrMissingSubject
	}
	// the expiry instant itself is already expired
	if c.now().Unix() >= claim.ExpiresAt {
		return Claim{}, ErrExpired
	}
	return claim, nil
}

// decodeClaim accepts only the keys Issue writes, matched exactly.
func decodeClaim(raw []byte) (Claim, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Claim{}, err
	}
	for k := range fields {
		switch k {
		case "sub", "iat", "exp":
		default:
			return Claim{}, fmt.Errorf("unexpected claim field %q", k)
		}
	}
	var claim Claim
	if err := json.Unmarshal(raw, &claim); err != nil {
		return Claim{}, err
	}
	return claim, nil
}

// split returns the two segments of tok if it has exactly one separator and no empty part.
func split(tok string) (payload, tag string, ok bool) {
	if tok == "" || strings.Count(tok, separator) != 1 {
		return "", "", false
	}
	payload, tag, _ = strings.Cut(tok, separator)
	if payload == "" || tag == "" {
		return "", "", false
	}
	return payload, tag, true
}

func sign(payload string, key []byte) ([]byte, error) {
	tag, err := jwt.SigningMethodHS256.Sign(payload, key)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return tag, nil
}
