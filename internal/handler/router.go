package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/authgate/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenFinder       middleware.TokenFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	StatusRecorder    middleware.StatusRecorder

	// 認証
	ExternalLoginService ExternalLoginService
	SessionService       SessionService
	AccountService       AccountService
	Recorder             EventRecorder

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Recovery → Logging → SecurityHeaders → CORS → Metrics
//
// /api/authentications 配下は GeneralMiddleware を適用し、
// 資格情報を受け取るエンドポイントには AuthMiddleware を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
	}

	authHandler := NewAuthHandler(deps.ExternalLoginService, deps.SessionService, deps.Recorder)
	accountHandler := NewAccountHandler(deps.AccountService, deps.Recorder)

	if deps.HealthChecker != nil {
		r.Get("/health", NewHealthHandler(deps.HealthChecker))
	}
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/api/authentications", func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/providers", authHandler.ListProviders)

		// 資格情報を受け取るエンドポイント（認証用レート制限を追加）
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.AuthMiddleware())

			r.Post("/external-login", authHandler.ExternalLogin)
			r.Post("/external-login/{provider}", authHandler.ExternalLogin)
			r.Post("/refresh", authHandler.Refresh)
			r.Post("/login", accountHandler.Login)
			r.Post("/register", accountHandler.Register)
			r.Post("/resend-verification", accountHandler.ResendVerification)
		})

		r.Post("/verify-email", accountHandler.VerifyEmail)

		// トークンがなければハンドラー側で USER_NOT_FOUND を返す
		r.With(middleware.NewTokenAuthMiddleware(deps.TokenFinder, true)).
			Post("/logout", authHandler.Logout)
	})

	return r
}
