package httpserver

import (
	"net/http"
	"time"
)

// CookieName carries the access token.
const CookieName = "wc_premium"

// setAccessCookie stores tok until the claim expires.
func (h *Handler) setAccessCookie(w http.ResponseWriter, tok string, expiresAt int64) {
	maxAge := int(time.Unix(expiresAt, 0).Sub(h.now()) / time.Second)
	if maxAge < 1 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    tok,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearAccessCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
