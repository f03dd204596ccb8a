package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/shaft/internal/middleware"
	"github.com/hitoshi/shaft/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	StatusRecorder    middleware.StatusRecorder
	Authenticator     *middleware.Authenticator
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 台帳
	LedgerService   LedgerServiceInterface
	BalanceService  BalanceServiceInterface
	ReasonSanitizer ReasonSanitizer
	APIConfig       APIHandlerConfig

	// 運用
	Pinger         Pinger
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// グローバルミドルウェアの実行順序:
//
//	Logging → Recovery → SecurityHeaders → CORS
//
// /api/* は Authenticator.Require → RateLimiter.General の順に通り、
// POST /api/shaft はさらに RateLimiter.Shaft を通る。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	// panicによる500もアクセスログとステータスメトリクスに残るよう、RecoveryはLoggingの内側
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusRecorder))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewNotFoundError(r.URL.Path))
	})

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	apiHandler := NewAPIHandler(deps.LedgerService, deps.BalanceService, deps.ReasonSanitizer, deps.APIConfig)

	// --- 認証不要のルート ---
	r.Get("/github/login", authHandler.Login)
	r.Get("/github/callback", authHandler.Callback)
	r.Post("/logout", authHandler.Logout)
	r.Get("/health", Health(deps.Pinger))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証が必要なルート ---
	authed := func(h middleware.AuthenticatedHandlerFunc) http.HandlerFunc {
		return deps.Authenticator.Require(deps.RateLimiter.General(h))
	}
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", authed(apiHandler.Me))
		r.Get("/balances", authed(apiHandler.Balances))
		r.Get("/transactions", authed(apiHandler.Transactions))
		r.Post("/shaft", authed(deps.RateLimiter.Shaft(apiHandler.Shaft)))
	})

	return r
}
