// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/shaft/internal/model"
)

// TokenCookieName はアクセストークンを保持するCookie名。
const TokenCookieName = "token"

// TokenResolver はトークンから認証済みユーザーを解決する。
// session.Serviceが実装する。未知のトークンには(nil, nil)を返す。
type TokenResolver interface {
	ResolveToken(ctx context.Context, token string) (*model.User, error)
}

// AuthenticatedHandlerFunc は認証済みユーザーを明示的に受け取るハンドラー。
type AuthenticatedHandlerFunc func(w http.ResponseWriter, r *http.Request, user *model.User)

// Authenticator はリクエストのトークンを検証し、認証済みユーザーをハンドラーに渡す。
type Authenticator struct {
	resolver TokenResolver
}

// NewAuthenticator はAuthenticatorを生成する。
func NewAuthenticator(resolver TokenResolver) *Authenticator {
	return &Authenticator{resolver: resolver}
}

// TokenFromRequest はCookieまたはAuthorization: Bearerヘッダーからトークンを取り出す。
// Cookieを優先する。見つからない場合は空文字列を返す。
func TokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(TokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	const prefix = "Bearer "
	if h := r.Header.Get("Authorization"); len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

// Require はトークンを検証してからnextを呼ぶhttp.HandlerFuncを返す。
// トークンがない、または未知の場合は401を返す。
func (a *Authenticator) Require(next AuthenticatedHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := TokenFromRequest(r)
		if token == "" {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}

		user, err := a.resolver.ResolveToken(r.Context(), token)
		if err != nil {
			slog.Error("failed to resolve token",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
			if errors.Is(err, model.ErrResourceUnavailable) {
				WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewServiceUnavailableError())
				return
			}
			WriteInternalServerError(w)
			return
		}
		if user == nil {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}

		next(w, r, user)
	}
}
