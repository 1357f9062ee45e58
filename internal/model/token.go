package model

import "time"

// VerificationTokenTTL はメール確認トークンの有効期間。設定では変更できない。
const VerificationTokenTTL = 24 * time.Hour

// DefaultRefreshTTLDays はリフレッシュトークンの既定有効日数。
const DefaultRefreshTTLDays = 7

// AccessToken はユーザーごとに1つだけ存在するアクセストークン。
// 再発行時は置き換えられ、追加はされない。
type AccessToken struct {
	Key       string
	UserID    string
	CreatedAt time.Time
}

// RefreshToken はローテーション方式のリフレッシュトークン。
// 失効は revoked フラグで表し、物理削除はしない。
type RefreshToken struct {
	Key         string
	UserID      string
	PreviousKey string // ローテーション元のキー。初回発行時は空。
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Revoked     bool
	RevokedAt   *time.Time
}

// IsExpired は now 時点で期限切れかを返す。now == ExpiresAt も期限切れとみなす。
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsActive は未失効かつ期限内かを返す。
func (t *RefreshToken) IsActive(now time.Time) bool {
	return !t.Revoked && !t.IsExpired(now)
}

// EmailVerificationToken はメールアドレス確認用のトークン。
// 使用済み・期限切れはいずれも終端状態で、同じトークンの延長はしない。
type EmailVerificationToken struct {
	Token     string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
}

// NewEmailVerificationToken は createdAt から24時間有効なトークンを生成する。
func NewEmailVerificationToken(token, userID string, createdAt time.Time) *EmailVerificationToken {
	return &EmailVerificationToken{
		Token:     token,
		UserID:    userID,
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(VerificationTokenTTL),
	}
}

// IsExpired は now 時点で期限切れかを返す。
func (t *EmailVerificationToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsValid は未使用かつ期限内かを返す。
func (t *EmailVerificationToken) IsValid(now time.Time) bool {
	return !t.Used && !t.IsExpired(now)
}
