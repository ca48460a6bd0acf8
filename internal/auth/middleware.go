package auth

import (
	"context"
	"errors"
	"net/http"

	"vidtube-users/internal/account"
	"vidtube-users/internal/apperr"
	"vidtube-users/internal/httpx"
)

type AccountFinder interface {
	FindByID(ctx context.Context, id string) (account.Account, error)
}

type contextKey struct{}

func WithAccount(ctx context.Context, a account.Account) context.Context {
	return context.WithValue(ctx, contextKey{}, a)
}

func AccountFrom(ctx context.Context) (account.Account, bool) {
	a, ok := ctx.Value(contextKey{}).(account.Account)
	return a, ok
}

// Authenticator resolves the caller from the accessToken cookie or a bearer
// header and attaches the stored Account to the request context.
type Authenticator struct {
	tokens   *TokenService
	accounts AccountFinder
}

func NewAuthenticator(tokens *TokenService, accounts AccountFinder) *Authenticator {
	return &Authenticator{tokens: tokens, accounts: accounts}
}

func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acc, err := a.resolve(r)
		if err != nil {
			httpx.Failure(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), acc)))
	})
}

// Optional attaches the Account when a valid token is present and otherwise
// serves the request anonymously.
func (a *Authenticator) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if acc, err := a.resolve(r); err == nil {
			r = r.WithContext(WithAccount(r.Context(), acc))
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) resolve(r *http.Request) (account.Account, error) {
	token := accessTokenFrom(r)
	if token == "" {
		return account.Account{}, apperr.Unauthorized("unauthorized request")
	}

	claims, err := a.tokens.VerifyAccessToken(token)
	if err != nil {
		return account.Account{}, &apperr.Error{Kind: apperr.KindUnauthorized, Message: "invalid access token", Err: err}
	}

	acc, err := a.accounts.FindByID(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return account.Account{}, apperr.Unauthorized("invalid access token")
		}
		return account.Account{}, apperr.Internal("failed to load account", err)
	}
	return acc, nil
}

func accessTokenFrom(r *http.Request) string {
	if cookie, err := r.Cookie(AccessTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return httpx.BearerToken(r)
}
