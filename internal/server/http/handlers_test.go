package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/weightcalc/internal/crypto"
	"github.com/and161185/weightcalc/internal/entitlement"
	"github.com/and161185/weightcalc/internal/limiter"
	"github.com/and161185/weightcalc/internal/service"
	"github.com/and161185/weightcalc/internal/token"
)

const baseURL = "https://calc.example"

type recMailer struct{ to []string }

func (m *recMailer) Send(_ context.Context, to, _, _ string) error {
	m.to = append(m.to, to)
	return nil
}

type testEnv struct {
	h      *Handler
	srv    http.Handler
	codec  *token.Codec
	now    *time.Time
	mailer *recMailer
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	now := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	codec, err := token.NewCodec(token.StaticSecret([]byte("http-secret")), token.WithClock(clock))
	require.NoError(t, err)

	mailer := &recMailer{}
	access := service.NewAccessService(codec, limiter.NewMemory(time.Minute, 2, time.Minute), nil, mailer,
		service.AccessConfig{BaseURL: baseURL}, zaptest.NewLogger(t))

	opts.BaseURL = baseURL
	h := NewHandler(entitlement.NewResolver(codec), access, opts, zaptest.NewLogger(t))
	h.now = clock
	return &testEnv{h: h, srv: h.Router(), codec: codec, now: &now, mailer: mailer}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) mint(t *testing.T, subject string, ttl time.Duration) string {
	t.Helper()
	tok, err := e.codec.Mint(subject, ttl)
	require.NoError(t, err)
	return tok
}

func withCookie(req *http.Request, tok string) *http.Request {
	req.AddCookie(&http.Cookie{Name: CookieName, Value: tok})
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func accessCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == CookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", CookieName)
	return nil
}

func TestHealthAndReady(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, Options{})

	rec := e.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["ok"])

	rec = e.do(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	down := newTestEnv(t, Options{Ready: func(context.Context) error { return errors.New("db down") }})
	rec = down.do(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not_ready", decode(t, rec)["error"])
}

func TestMiddleware_HeadersAndRequestID(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, Options{})

	rec := e.do(httptest.NewRequest(http.MethodGet, "/api/entitlement", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	rec = e.do(req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-Id"))
	assert.Empty(t, rec.Header().Get("Cache-Control"))
}

func TestEntitlement(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, Options{})

	rec := e.do(httptest.NewRequest(http.MethodGet, "/api/entitlement", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"premium": false, "reason": "no_token"}, decode(t, rec))

	tok := e.mint(t, "buyer@example.com", time.Hour)
	rec = e.do(withCookie(httptest.NewRequest(http.MethodGet, "/api/entitlement", nil), tok))
	assert.Equal(t, map[string]any{"premium": true, "email": "buyer@example.com"}, decode(t, rec))

	rec = e.do(withCookie(httptest.NewRequest(http.MethodGet, "/api/entitlement", nil), tok+"x"))
	assert.Equal(t, map[string]any{"premium": false, "reason": "bad_signature"}, decode(t, rec))

	rec = e.do(withCookie(httptest.NewRequest(http.MethodGet, "/api/entitlement", nil), "garbage"))
	assert.Equal(t, map[string]any{"premium": false, "reason": "bad_format"}, decode(t, rec))

	*e.now = e.now.Add(time.Hour)
	rec = e.do(withCookie(httptest.NewRequest(http.MethodGet, "/api/entitlement", nil), tok))
	assert.Equal(t, map[string]any{"premium": false, "reason": "expired"}, decode(t, rec))
}

func TestEntitlement_SecretMissingIs500(t *testing.T) {
	t.Parallel()

	secret := []byte("k")
	codec, err := token.NewCodec(func() []byte { return secret })
	require.NoError(t, err)
	h := NewHandler(entitlement.NewResolver(codec), nil, Options{}, zaptest.NewLogger(t))

	secret = nil
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, withCookie(httptest.NewRequest(http.MethodGet, "/api/entitlement", nil), "a.b"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "server_misconfigured", decode(t, rec)["error"])
}

func TestPlan_PremiumSectionsOnlyWhenEntitled(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, Options{})
	const q = "/api/plan?sex=male&goal=cut&activity=moderate&age=28&height=175&weight=75&targetWeight=70"

	rec := e.do(httptest.NewRequest(http.MethodGet, q, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["premium"])
	plan := body["plan"].(map[string]any)
	assert.EqualValues(t, 2199, plan["calories"])
	assert.NotContains(t, plan, "meals")
	assert.NotContains(t, plan, "timeline")

	tok := e.mint(t, "buyer@example.com", time.Hour)
	rec = e.do(withCookie(httptest.NewRequest(http.MethodGet, q, nil), tok))
	body = decode(t, rec)
	assert.Equal(t, true, body["premium"])
	plan = body["plan"].(map[string]any)
	assert.Len(t, plan["meals"], 4)
	assert.Equal(t, map[string]any{"weeks": float64(9), "months": 2.1}, plan["timeline"])
}

func TestActivateLink(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, Options{CookieSecure: true})

	rec := e.do(httptest.NewRequest(http.MethodGet, "/api/activate", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"ok": false, "error": "missing_token"}, decode(t, rec))

	rec = e.do(httptest.NewRequest(http.MethodGet, "/api/activate?token=nodot", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"ok": false, "error": "bad_format"}, decode(t, rec))

	tok := e.mint(t, "buyer@example.com", token.DefaultTTL)
	rec = e.do(httptest.NewRequest(http.MethodGet, "/api/activate?token="+tok+"&open=protein", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, baseURL+"/?open=protein", rec.Header().Get("Location"))

	c := accessCookie(t, rec)
	assert.Equal(t, tok, c.Value)
	assert.Equal(t, "/", c.Path)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, int(token.DefaultTTL/time.Second), c.MaxAge)

	rec = e.do(httptest.NewRequest(http.MethodGet, "/api/activate?token="+tok, nil))
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, baseURL+"/", rec.Header().Get("Location"))
}

func TestActivateLink_CookieLivesOnlyAsLongAsToken(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, Options{})

	tok := e.mint(t, "buyer@example.com", 10*time.Hour)
	*e.now = e.now.Add(4 * time.Hour)

	rec := e.do(httptest.NewRequest(http.MethodGet, "/api/activate?token="+tok, nil))
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, int((6 * time.Hour).Seconds()), accessCookie(t, rec).MaxAge)
}

func TestActivate_RateLimitedAfterRepeatedFailures(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, Options{})

	req := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/api/activate?token=a.b", nil)
		r.RemoteAddr = "198.51.100.7:4000"
		return r
	}
	rec := e.do(req())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(req())
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decode(t, rec)["error"])
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// a valid token is still refused while blocked
	r := httptest.NewRequest(http.MethodGet, "/api/activate?token="+e.mint(t, "a@b.io", time.Hour), nil)
	r.RemoteAddr = "198.51.100.7:4001"
	rec = e.do(r)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// other clients are unaffected
	r = httptest.NewRequest(http.MethodGet, "/api/activate?token="+e.mint(t, "a@b.io", time.Hour), nil)
	r.RemoteAddr = "198.51.100.8:4000"
	rec = e.do(r)
	assert.Equal(t, http.StatusFound, rec.Code)
}

func TestActivateJSON(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, Options{})
	tok := e.mint(t, "buyer@example.com", time.Hour)

	rec := e.do(httptest.NewRequest(http.MethodPost, "/api/activate", strings.NewReader(`{"token":"`+tok+`"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"ok": true, "open": nil}, decode(t, rec))
	assert.Equal(t, tok, accessCookie(t, rec).Value)

	rec = e.do(httptest.NewRequest(http.MethodPost, "/api/activate", strings.NewReader(`{"token":"`+tok+`","open":"bmr"}`)))
	assert.Equal(t, map[string]any{"ok": true, "open": "bmr"}, decode(t, rec))

	rec = e.do(httptest.NewRequest(http.MethodPost, "/api/activate", strings.NewReader(`{"token":""}`)))
	assert.Equal(t, "missing_token", decode(t, rec)["error"])

	rec = e.do(httptest.NewRequest(http.MethodPost, "/api/activate", strings.NewReader(`{"session_id":"x"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", decode(t, rec)["error"])
}

func TestLogout(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, Options{})

	rec := e.do(httptest.NewRequest(http.MethodPost, "/api/logout", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	c := accessCookie(t, rec)
	assert.Empty(t, c.Value)
	assert.Negative(t, c.MaxAge)
}

func grantRequestWith(key, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/api/grants", strings.NewReader(body))
	if key != "" {
		r.Header.Set("Authorization", "Bearer "+key)
	}
	r.RemoteAddr = "192.0.2.1:5000"
	return r
}

func TestGrants_DisabledWithoutOperatorKey(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, Options{})

	rec := e.do(grantRequestWith("anything", `{"email":"a@b.io"}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGrants_OperatorFlow(t *testing.T) {
	t.Parallel()

	kh, err := crypto.NewKeyHash("op-key")
	require.NoError(t, err)
	e := newTestEnv(t, Options{
		OperatorKey:     &kh,
		OperatorLimiter: limiter.NewMemory(time.Minute, 3, time.Minute),
	})

	rec := e.do(grantRequestWith("", `{"email":"a@b.io"}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(grantRequestWith("op-key", `{"email":"not-an-email"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", decode(t, rec)["error"])

	rec = e.do(grantRequestWith("op-key", `{"email":" Buyer@Example.com ","open":"protein"}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["ok"])
	accessURL := body["access_url"].(string)
	assert.True(t, strings.HasPrefix(accessURL, baseURL+"/api/activate?token="))
	assert.True(t, strings.HasSuffix(accessURL, "&open=protein"))
	assert.Equal(t, []string{"buyer@example.com"}, e.mailer.to)

	// the issued link activates
	rec = e.do(httptest.NewRequest(http.MethodGet, strings.TrimPrefix(accessURL, baseURL), nil))
	assert.Equal(t, http.StatusFound, rec.Code)
}

func TestGrants_WrongKeyIsThrottled(t *testing.T) {
	t.Parallel()

	kh, err := crypto.NewKeyHash("op-key")
	require.NoError(t, err)
	e := newTestEnv(t, Options{
		OperatorKey:     &kh,
		OperatorLimiter: limiter.NewMemory(time.Minute, 2, time.Minute),
	})

	rec := e.do(grantRequestWith("wrong", `{"email":"a@b.io"}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(grantRequestWith("wrong", `{"email":"a@b.io"}`))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	rec = e.do(grantRequestWith("op-key", `{"email":"a@b.io"}`))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Empty(t, e.mailer.to)
}

// brokenLimiter allows everything and fails to record outcomes.
type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	return true, 0, nil
}

func (brokenLimiter) Success(context.Context, string, []byte) error { return errors.New("store down") }

func (brokenLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	return false, 0, errors.New("store down")
}

func TestGrants_LimiterWriteErrorsDoNotChangeOutcome(t *testing.T) {
	t.Parallel()

	kh, err := crypto.NewKeyHash("op-key")
	require.NoError(t, err)
	e := newTestEnv(t, Options{OperatorKey: &kh, OperatorLimiter: brokenLimiter{}})

	rec := e.do(grantRequestWith("wrong", `{"email":"a@b.io"}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(grantRequestWith("op-key", `{"email":"a@b.io"}`))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

type panicResolver struct{}

func (panicResolver) Resolve(string) (entitlement.State, error) { panic("boom") }

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := NewHandler(panicResolver{}, nil, Options{}, zaptest.NewLogger(t))
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/entitlement", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal", decode(t, rec)["error"])
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")

	direct := NewHandler(nil, nil, Options{}, nil)
	assert.Equal(t, "10.0.0.1", direct.clientIP(r))

	proxied := NewHandler(nil, nil, Options{TrustProxy: true}, nil)
	assert.Equal(t, "203.0.113.5", proxied.clientIP(r))

	r.RemoteAddr = "no-port"
	assert.Equal(t, "no-port", direct.clientIP(r))
}

func TestMapError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err    error
		status int
		code   string
	}{
		{token.ErrExpired, http.StatusBadRequest, "expired"},
		{&service.RateLimitedError{RetryAfter: time.Second}, http.StatusTooManyRequests, "rate_limited"},
		{errors.New("anything"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		status, code := mapError(tc.err)
		assert.Equal(t, tc.status, status, tc.code)
		assert.Equal(t, tc.code, code)
	}
}
