// Package auth は外部IdPのトークンによるログインを提供する。
// トークン検証、識別情報の解決、セッション発行を順に呼び出す。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/oidc"
	"github.com/hitoshi/authgate/internal/provider"
	"github.com/hitoshi/authgate/internal/security"
	"github.com/hitoshi/authgate/internal/session"
)

// ProviderRegistry はプロバイダー名からAdapterを取得するインターフェース。
type ProviderRegistry interface {
	Create(name string) (provider.Adapter, error)
	ListEnabled() []provider.Summary
	DefaultProvider() string
}

// TokenVerifier は外部トークンを検証するインターフェース。
type TokenVerifier interface {
	Verify(ctx context.Context, keys oidc.KeySource, token, audience string) (oidc.Claims, error)
}

// SessionIssuer は外部ログイン時のトークン発行インターフェース。
type SessionIssuer interface {
	IssueForExternalLogin(ctx context.Context, identity model.Identity) (*session.Result, error)
}

// ExternalLoginResult は外部ログイン成功時の結果。
type ExternalLoginResult struct {
	Session  *session.Result
	Provider string
	// ExternalClaims は検証済みのクレーム。userinfoで補完した場合は補完後の内容。
	ExternalClaims oidc.Claims
}

// ProviderList はプロバイダー一覧の結果。
type ProviderList struct {
	Providers       []provider.Summary
	DefaultProvider string
}

// Service は外部ログインのビジネスロジックを提供する。
type Service struct {
	registry ProviderRegistry
	verifier TokenVerifier
	issuer   SessionIssuer
}

// NewService はServiceを生成する。
func NewService(registry ProviderRegistry, verifier TokenVerifier, issuer SessionIssuer) *Service {
	return &Service{
		registry: registry,
		verifier: verifier,
		issuer:   issuer,
	}
}

// ExternalLogin は外部IdPのトークンを検証し、ローカルのトークンを発行する。
// providerName が空の場合は既定のプロバイダーを使う。
func (s *Service) ExternalLogin(ctx context.Context, providerName, accessToken string) (*ExternalLoginResult, error) {
	adapter, err := s.registry.Create(providerName)
	if err != nil {
		return nil, providerError(providerName, err)
	}

	claims, err := s.verifier.Verify(ctx, adapter.Keys(), accessToken, adapter.Audience())
	if err != nil {
		slog.Warn("external token rejected",
			slog.String("provider", adapter.Name()),
			slog.String("error", err.Error()),
		)
		return nil, model.NewInvalidExternalTokenError()
	}

	identity, err := resolveIdentity(ctx, adapter, claims, accessToken)
	if err != nil {
		return nil, err
	}

	result, err := s.issuer.IssueForExternalLogin(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session: %w", err)
	}

	slog.Info("external login succeeded",
		slog.String("user_id", result.User.ID),
		slog.String("provider", adapter.Name()),
	)
	return &ExternalLoginResult{
		Session:        result,
		Provider:       adapter.Name(),
		ExternalClaims: claims,
	}, nil
}

// ListProviders は有効なプロバイダーと既定のプロバイダー名を返す。
func (s *Service) ListProviders() *ProviderList {
	return &ProviderList{
		Providers:       s.registry.ListEnabled(),
		DefaultProvider: s.registry.DefaultProvider(),
	}
}

// resolveIdentity はクレームから識別情報を取り出す。
// メールアドレスが無い場合のみuserinfoを1回だけ取得し、その内容で再抽出する。
// userinfoは識別情報の抽出にだけ使い、呼び出し元のクレームは変更しない。
func resolveIdentity(ctx context.Context, adapter provider.Adapter, claims oidc.Claims, accessToken string) (model.Identity, error) {
	identity := adapter.ExtractIdentity(claims)
	if identity.Email == "" {
		info, err := adapter.Keys().UserInfo(ctx, accessToken)
		if err != nil {
			slog.Warn("userinfo fallback failed",
				slog.String("provider", adapter.Name()),
				slog.String("error", err.Error()),
			)
			return model.Identity{}, model.NewNoEmailError(true)
		}
		identity = adapter.ExtractIdentity(info)
		if identity.Email == "" {
			return model.Identity{}, model.NewNoEmailError(false)
		}
	}

	email, err := security.NormalizeEmail(identity.Email)
	if err != nil {
		slog.Warn("provider returned malformed email",
			slog.String("provider", adapter.Name()),
			slog.String("error", err.Error()),
		)
		return model.Identity{}, model.NewNoEmailError(false)
	}
	identity.Email = email
	return identity, nil
}

// providerError はRegistryのエラーをAPIErrorに変換する。
func providerError(name string, err error) error {
	switch {
	case errors.Is(err, provider.ErrUnsupported):
		return model.NewUnsupportedProviderError(name)
	case errors.Is(err, provider.ErrNotConfigured):
		return model.NewProviderNotConfiguredError(name)
	case errors.Is(err, provider.ErrDisabled):
		return model.NewProviderDisabledError(name)
	default:
		return fmt.Errorf("failed to create provider adapter: %w", err)
	}
}
