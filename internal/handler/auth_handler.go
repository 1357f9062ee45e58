package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/authgate/internal/auth"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/oidc"
	"github.com/hitoshi/authgate/internal/provider"
	"github.com/hitoshi/authgate/internal/session"
)

// ExternalLoginService は外部ログインハンドラーが必要とするサービスインターフェース。
type ExternalLoginService interface {
	// ExternalLogin は外部IdPのトークンを検証してローカルのトークンを発行する。
	ExternalLogin(ctx context.Context, providerName, accessToken string) (*auth.ExternalLoginResult, error)
	// ListProviders は有効なプロバイダーの一覧を返す。
	ListProviders() *auth.ProviderList
}

// SessionService はトークン更新とログアウトのサービスインターフェース。
type SessionService interface {
	// Refresh はリフレッシュトークンをローテーションする。
	Refresh(ctx context.Context, oldKey string) (*session.Result, error)
	// Logout はアクセストークンを削除し、削除したかを返す。
	Logout(ctx context.Context, userID, ip string) (bool, error)
}

// AuthHandler は外部ログイン・トークン更新・ログアウトのHTTPハンドラー。
type AuthHandler struct {
	external ExternalLoginService
	sessions SessionService
	recorder EventRecorder
}

// NewAuthHandler はAuthHandlerを生成する。recorder はnilでもよい。
func NewAuthHandler(external ExternalLoginService, sessions SessionService, recorder EventRecorder) *AuthHandler {
	return &AuthHandler{
		external: external,
		sessions: sessions,
		recorder: recorderOrNop(recorder),
	}
}

// externalLoginRequest は外部ログインリクエストのボディ。
type externalLoginRequest struct {
	AccessToken string `json:"access_token"`
	Provider    string `json:"provider"`
}

// externalUserResponse は外部ログインで返すユーザー情報。
// last_name には外部IdPの family_name 由来の値を入れる。
type externalUserResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	LastName      string `json:"last_name"`
	FullName      string `json:"full_name"`
	EmailVerified bool   `json:"email_verified"`
}

// externalLoginResponse は外部ログインのレスポンス。
type externalLoginResponse struct {
	Token          string               `json:"token"`
	Refresh        string               `json:"refresh"`
	User           externalUserResponse `json:"user"`
	Provider       string               `json:"provider"`
	ExternalClaims oidc.Claims          `json:"external_claims"`
}

// providersResponse はプロバイダー一覧のレスポンス。
type providersResponse struct {
	Providers       []provider.Summary `json:"providers"`
	DefaultProvider string             `json:"default_provider"`
}

// refreshRequest はトークン更新リクエストのボディ。
type refreshRequest struct {
	Refresh string `json:"refresh"`
}

// tokenPairResponse はアクセストークンとリフレッシュトークンの組。
type tokenPairResponse struct {
	Token   string `json:"token"`
	Refresh string `json:"refresh"`
}

// logoutResponse はログアウトのレスポンス。
type logoutResponse struct {
	Detail       string `json:"detail"`
	TokenRemoved bool   `json:"token_removed"`
}

// ExternalLogin は外部IdPのトークンでログインする。
// POST /api/authentications/external-login
// POST /api/authentications/external-login/{provider}
func (h *AuthHandler) ExternalLogin(w http.ResponseWriter, r *http.Request) {
	var req externalLoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.AccessToken) == "" {
		requiredField(w, "access_token")
		return
	}

	providerName := req.Provider
	if p := chi.URLParam(r, "provider"); p != "" {
		providerName = p
	}

	result, err := h.external.ExternalLogin(r.Context(), providerName, req.AccessToken)
	h.recorder.RecordLogin("external", outcomeOf(err))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	user := result.Session.User
	writeJSON(w, http.StatusOK, externalLoginResponse{
		Token:   result.Session.AccessToken.Key,
		Refresh: result.Session.RefreshToken.Key,
		User: externalUserResponse{
			ID:            user.ID,
			Email:         user.Email,
			Name:          user.Name,
			LastName:      user.FamilyName,
			FullName:      user.FullName(),
			EmailVerified: user.EmailVerified,
		},
		Provider:       result.Provider,
		ExternalClaims: result.ExternalClaims,
	})
}

// ListProviders は有効なプロバイダーの一覧を返す。
// GET /api/authentications/providers
func (h *AuthHandler) ListProviders(w http.ResponseWriter, r *http.Request) {
	list := h.external.ListProviders()
	writeJSON(w, http.StatusOK, providersResponse{
		Providers:       list.Providers,
		DefaultProvider: list.DefaultProvider,
	})
}

// Refresh はリフレッシュトークンをローテーションして新しいトークンの組を返す。
// POST /api/authentications/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Refresh) == "" {
		requiredField(w, "refresh")
		return
	}

	result, err := h.sessions.Refresh(r.Context(), req.Refresh)
	h.recorder.RecordRefresh(outcomeOf(err))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenPairResponse{
		Token:   result.AccessToken.Key,
		Refresh: result.RefreshToken.Key,
	})
}

// Logout はアクセストークンを削除する。
// POST /api/authentications/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError())
		return
	}

	removed, err := h.sessions.Logout(r.Context(), userID, middleware.ClientIP(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, logoutResponse{
		Detail:       "ログアウトしました。",
		TokenRemoved: removed,
	})
}
