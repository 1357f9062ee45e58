// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/authgate/internal/model"
)

// リポジトリが返す判定用エラー。
var (
	// ErrEmailTaken はメールアドレスの一意制約違反を表す。
	ErrEmailTaken = errors.New("email already registered")

	// ErrRefreshTokenNotFound は未失効のリフレッシュトークンが存在しないことを表す。
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	// ErrRefreshTokenExpired はリフレッシュトークンが期限切れであることを表す。
	ErrRefreshTokenExpired = errors.New("refresh token expired")

	// ErrVerificationTokenNotFound はメール確認トークンが存在しないことを表す。
	ErrVerificationTokenNotFound = errors.New("verification token not found")
	// ErrVerificationTokenUsed はメール確認トークンが使用済みであることを表す。
	ErrVerificationTokenUsed = errors.New("verification token already used")
	// ErrVerificationTokenExpired はメール確認トークンが期限切れであることを表す。
	ErrVerificationTokenExpired = errors.New("verification token expired")
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail は正規化済みメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。メールアドレス重複時はErrEmailTakenを返す。
	Create(ctx context.Context, user *model.User) error

	// GetOrCreateByEmail はメールアドレスでユーザーを取得し、存在しなければ
	// defaultsの氏名で作成する。既存ユーザーの氏名は上書きしない。
	GetOrCreateByEmail(ctx context.Context, defaults *model.User) (*model.User, bool, error)

	// AddIPAddress はIPアドレスが未記録の場合のみ記録時刻とともに追加する。
	AddIPAddress(ctx context.Context, userID, ip string, seenAt time.Time) error

	// RemoveIPAddress はIPアドレスを記録から除去する。未記録の場合は何もしない。
	RemoveIPAddress(ctx context.Context, userID, ip string) error
}

// AccessTokenRepository はアクセストークンの永続化インターフェース。
// ユーザーごとに最大1件のみ保持する。
type AccessTokenRepository interface {
	// FindByKey はキーでアクセストークンを取得する。見つからない場合はnilを返す。
	FindByKey(ctx context.Context, key string) (*model.AccessToken, error)

	// GetOrCreate は既存トークンがあればそれを返し、なければtokenを保存して返す。
	GetOrCreate(ctx context.Context, token *model.AccessToken) (*model.AccessToken, error)

	// Replace は既存トークンを削除し、tokenを同一トランザクションで作成する。
	Replace(ctx context.Context, token *model.AccessToken) error

	// DeleteByUserID はユーザーのトークンを削除し、削除したかどうかを返す。
	DeleteByUserID(ctx context.Context, userID string) (bool, error)
}

// RefreshTokenRepository はリフレッシュトークンの永続化インターフェース。
type RefreshTokenRepository interface {
	// Create はリフレッシュトークンを作成する。
	Create(ctx context.Context, token *model.RefreshToken) error

	// Rotate は oldKey の未失効トークンを失効させ、next を作成する処理を
	// 1トランザクションで行う。同じ oldKey での同時呼び出しは1件のみ成功する。
	// 該当なしは ErrRefreshTokenNotFound、期限切れは ErrRefreshTokenExpired を返す。
	// 成功時は next.UserID と next.PreviousKey を設定する。
	Rotate(ctx context.Context, oldKey string, next *model.RefreshToken, now time.Time) error
}

// VerificationTokenRepository はメール確認トークンの永続化インターフェース。
type VerificationTokenRepository interface {
	// CreateReplacingPrevious はユーザーの未使用トークンを無効化した上で token を作成する。
	CreateReplacingPrevious(ctx context.Context, token *model.EmailVerificationToken) error

	// Consume はトークンを使用済みにし、ユーザーのメール確認フラグを立てる。
	// 1トランザクションで行い、確認されたユーザーIDを返す。
	Consume(ctx context.Context, token string, now time.Time) (string, error)
}
