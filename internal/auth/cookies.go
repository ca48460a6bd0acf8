package auth

import (
	"net/http"
	"time"

	"vidtube-users/internal/config"
)

const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"
)

type CookieWriter struct {
	secure     bool
	domain     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewCookieWriter(cfg config.CookieConfig, tokens config.TokenConfig) *CookieWriter {
	return &CookieWriter{
		secure:     cfg.Secure,
		domain:     cfg.Domain,
		accessTTL:  tokens.AccessTTL,
		refreshTTL: tokens.RefreshTTL,
	}
}

func (c *CookieWriter) Set(w http.ResponseWriter, pair Pair) {
	http.SetCookie(w, c.cookie(AccessTokenCookie, pair.AccessToken, int(c.accessTTL.Seconds())))
	http.SetCookie(w, c.cookie(RefreshTokenCookie, pair.RefreshToken, int(c.refreshTTL.Seconds())))
}

func (c *CookieWriter) Clear(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(AccessTokenCookie, "", -1))
	http.SetCookie(w, c.cookie(RefreshTokenCookie, "", -1))
}

func (c *CookieWriter) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
