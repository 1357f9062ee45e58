// Package session はアクセストークンとローテーション式リフレッシュトークンの発行を提供する。
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/repository"
	"github.com/hitoshi/authgate/internal/security"
)

// Config はトークン発行の設定。
type Config struct {
	RefreshTTLDays int // リフレッシュトークンの有効日数（デフォルト: 7）
}

// Result は発行したトークンの組。
type Result struct {
	User         *model.User
	AccessToken  *model.AccessToken
	RefreshToken *model.RefreshToken
}

// Option はIssuerの設定を変更する。
type Option func(*Issuer)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// Issuer はローカルセッション（アクセストークン＋リフレッシュトークン）を発行する。
type Issuer struct {
	users     repository.UserRepository
	access    repository.AccessTokenRepository
	refresh   repository.RefreshTokenRepository
	sanitizer security.NameSanitizer
	config    Config
	now       func() time.Time
}

// NewIssuer はIssuerを生成する。
func NewIssuer(
	users repository.UserRepository,
	access repository.AccessTokenRepository,
	refresh repository.RefreshTokenRepository,
	sanitizer security.NameSanitizer,
	config Config,
	opts ...Option,
) *Issuer {
	if config.RefreshTTLDays <= 0 {
		config.RefreshTTLDays = model.DefaultRefreshTTLDays
	}
	i := &Issuer{
		users:     users,
		access:    access,
		refresh:   refresh,
		sanitizer: sanitizer,
		config:    config,
		now:       time.Now,
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// IssueForExternalLogin は正規化済みメールアドレスでユーザーを取得または作成し、トークンを発行する。
// 氏名は作成時のみ設定し、既存ユーザーの氏名は上書きしない。
// アクセストークンは既存があれば再利用し、リフレッシュトークンは常に新規発行する。
func (i *Issuer) IssueForExternalLogin(ctx context.Context, identity model.Identity) (*Result, error) {
	now := i.now()
	defaults := &model.User{
		ID:          uuid.New().String(),
		Email:       identity.Email,
		Name:        i.sanitizer.Sanitize(identity.Name),
		FamilyName:  i.sanitizer.Sanitize(identity.LastName),
		IsActive:    true,
		IPAddresses: map[string]time.Time{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	user, created, err := i.users.GetOrCreateByEmail(ctx, defaults)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create user: %w", err)
	}
	if created {
		slog.Info("new user created from external login",
			slog.String("user_id", user.ID),
		)
	}

	return i.issue(ctx, user, now)
}

// IssueForUser は既存ユーザーにトークンを発行する。登録直後のログインで使用する。
func (i *Issuer) IssueForUser(ctx context.Context, user *model.User) (*Result, error) {
	return i.issue(ctx, user, i.now())
}

func (i *Issuer) issue(ctx context.Context, user *model.User, now time.Time) (*Result, error) {
	access, err := i.getOrCreateAccessToken(ctx, user.ID, now)
	if err != nil {
		return nil, err
	}

	refresh := i.newRefreshToken(now)
	refresh.UserID = user.ID
	if err := i.refresh.Create(ctx, refresh); err != nil {
		return nil, fmt.Errorf("failed to create refresh token: %w", err)
	}

	return &Result{User: user, AccessToken: access, RefreshToken: refresh}, nil
}

// Refresh は提示されたリフレッシュトークンを失効させ、後継トークンを発行する。
// 同じキーでの同時呼び出しは1件のみ成功し、他は無効なトークンとして扱われる。
func (i *Issuer) Refresh(ctx context.Context, oldKey string) (*Result, error) {
	now := i.now()
	next := i.newRefreshToken(now)

	err := i.refresh.Rotate(ctx, oldKey, next, now)
	switch {
	case errors.Is(err, repository.ErrRefreshTokenNotFound):
		return nil, model.NewInvalidRefreshTokenError()
	case errors.Is(err, repository.ErrRefreshTokenExpired):
		return nil, model.NewRefreshTokenExpiredError()
	case err != nil:
		return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	access, err := i.getOrCreateAccessToken(ctx, next.UserID, now)
	if err != nil {
		return nil, err
	}

	return &Result{AccessToken: access, RefreshToken: next}, nil
}

// ReplaceAccessToken は既存のアクセストークンを削除して新しいトークンを発行する。
func (i *Issuer) ReplaceAccessToken(ctx context.Context, userID string) (*model.AccessToken, error) {
	key, err := generateAccessKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}
	token := &model.AccessToken{Key: key, UserID: userID, CreatedAt: i.now()}
	if err := i.access.Replace(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to replace access token: %w", err)
	}
	return token, nil
}

// Logout はユーザーのIP記録から ip を除去し、アクセストークンを削除する。
// トークンが存在して削除できたかを返す。トークンがなくてもエラーにはしない。
func (i *Issuer) Logout(ctx context.Context, userID, ip string) (bool, error) {
	if ip != "" {
		if err := i.users.RemoveIPAddress(ctx, userID, ip); err != nil {
			return false, fmt.Errorf("failed to remove ip address: %w", err)
		}
	}

	removed, err := i.access.DeleteByUserID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete access token: %w", err)
	}

	slog.Info("user logged out",
		slog.String("user_id", userID),
		slog.Bool("token_removed", removed),
	)
	return removed, nil
}

func (i *Issuer) getOrCreateAccessToken(ctx context.Context, userID string, now time.Time) (*model.AccessToken, error) {
	key, err := generateAccessKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}
	token, err := i.access.GetOrCreate(ctx, &model.AccessToken{Key: key, UserID: userID, CreatedAt: now})
	if err != nil {
		return nil, fmt.Errorf("failed to get or create access token: %w", err)
	}
	return token, nil
}

func (i *Issuer) newRefreshToken(now time.Time) *model.RefreshToken {
	return &model.RefreshToken{
		Key:       strings.ReplaceAll(uuid.New().String(), "-", ""),
		CreatedAt: now,
		ExpiresAt: now.AddDate(0, 0, i.config.RefreshTTLDays),
	}
}

// generateAccessKey は40桁の16進文字列のアクセストークンを生成する。
func generateAccessKey() (string, error) {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
