// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"sort"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: config, upstream, validation, not_found, state, auth, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnsupportedProvider      = "UNSUPPORTED_PROVIDER"
	ErrCodeProviderNotConfigured    = "PROVIDER_NOT_CONFIGURED"
	ErrCodeProviderDisabled         = "PROVIDER_DISABLED"
	ErrCodeInvalidExternalToken     = "INVALID_EXTERNAL_TOKEN"
	ErrCodeNoEmail                  = "NO_EMAIL"
	ErrCodeInvalidRefreshToken      = "INVALID_REFRESH_TOKEN"
	ErrCodeRefreshTokenExpired      = "REFRESH_TOKEN_EXPIRED"
	ErrCodeNotFilledFields          = "NOT_FILLED_FIELDS"
	ErrCodeWrongCredentials         = "WRONG_CREDENTIALS"
	ErrCodeValidation               = "VALIDATION_ERROR"
	ErrCodeInvalidRequest           = "INVALID_REQUEST"
	ErrCodeInvalidVerificationToken = "INVALID_VERIFICATION_TOKEN"
	ErrCodeVerificationTokenUsed    = "VERIFICATION_TOKEN_USED"
	ErrCodeVerificationTokenExpired = "VERIFICATION_TOKEN_EXPIRED"
	ErrCodeUserNotFound             = "USER_NOT_FOUND"
	ErrCodeUnauthorized             = "UNAUTHORIZED"
	ErrCodeInternal                 = "INTERNAL_ERROR"
)

// NewUnsupportedProviderError は未対応プロバイダーのエラーを生成する。
func NewUnsupportedProviderError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedProvider,
		Message:  fmt.Sprintf("サポートされていないOAuthプロバイダーです: %s", name),
		Category: "config",
		Action:   "google、microsoft、github のいずれかを指定してください。",
	}
}

// NewProviderNotConfiguredError は設定が存在しないプロバイダーのエラーを生成する。
func NewProviderNotConfiguredError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderNotConfigured,
		Message:  fmt.Sprintf("プロバイダーの設定が見つかりません: %s", name),
		Category: "config",
		Action:   "利用可能なプロバイダーを /providers で確認してください。",
	}
}

// NewProviderDisabledError は無効化されたプロバイダーのエラーを生成する。
func NewProviderDisabledError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderDisabled,
		Message:  fmt.Sprintf("プロバイダー %s は無効化されています。", name),
		Category: "config",
		Action:   "別のプロバイダーでログインしてください。",
	}
}

// NewInvalidExternalTokenError は外部トークン検証失敗のエラーを生成する。
// どの検証項目で失敗したかは返さない。
func NewInvalidExternalTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidExternalToken,
		Message:  "外部トークンが無効です。",
		Category: "upstream",
		Action:   "プロバイダーで再ログインし、新しいトークンを取得してください。",
	}
}

// NewNoEmailError はプロバイダーからメールアドレスを取得できない場合のエラーを生成する。
func NewNoEmailError(userInfoFailed bool) *APIError {
	msg := "OAuthプロバイダーからメールアドレスを取得できませんでした。"
	if userInfoFailed {
		msg = "トークンにメールアドレスが含まれず、userinfoの取得にも失敗しました。"
	}
	return &APIError{
		Code:     ErrCodeNoEmail,
		Message:  msg,
		Category: "upstream",
		Action:   "プロバイダー側でメールアドレスの提供を許可してください。",
	}
}

// NewInvalidRefreshTokenError は無効なリフレッシュトークンのエラーを生成する。
func NewInvalidRefreshTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRefreshToken,
		Message:  "リフレッシュトークンが無効です。",
		Category: "auth",
		Action:   "再度ログインしてください。",
	}
}

// NewRefreshTokenExpiredError は期限切れのリフレッシュトークンのエラーを生成する。
func NewRefreshTokenExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeRefreshTokenExpired,
		Message:  "リフレッシュトークンの有効期限が切れています。",
		Category: "auth",
		Action:   "再度ログインしてください。",
	}
}

// NewNotFilledFieldsError は必須項目未入力のエラーを生成する。
func NewNotFilledFieldsError() *APIError {
	return &APIError{
		Code:     ErrCodeNotFilledFields,
		Message:  "必須項目が入力されていません。",
		Category: "validation",
		Action:   "メールアドレスとパスワードを入力してください。",
	}
}

// NewWrongCredentialsError は認証情報不一致のエラーを生成する。
// メールアドレス未登録とパスワード誤りを区別しない。
func NewWrongCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeWrongCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewInvalidRequestError はリクエストボディ不正のエラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewInvalidVerificationTokenError は存在しないメール確認トークンのエラーを生成する。
func NewInvalidVerificationTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidVerificationToken,
		Message:  "確認トークンが無効です。",
		Category: "not_found",
		Action:   "確認メールを再送信してください。",
	}
}

// NewVerificationTokenUsedError は使用済みメール確認トークンのエラーを生成する。
func NewVerificationTokenUsedError() *APIError {
	return &APIError{
		Code:     ErrCodeVerificationTokenUsed,
		Message:  "この確認トークンは既に使用されています。",
		Category: "state",
		Action:   "メールアドレスが未確認の場合は確認メールを再送信してください。",
	}
}

// NewVerificationTokenExpiredError は期限切れメール確認トークンのエラーを生成する。
func NewVerificationTokenExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeVerificationTokenExpired,
		Message:  "確認トークンの有効期限（24時間）が切れています。",
		Category: "state",
		Action:   "確認メールを再送信してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "not_found",
		Action:   "メールアドレスを確認してください。",
	}
}

// NewUnauthorizedError は認証が必要な場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// ValidationError は入力検証エラーをフィールド単位で保持する。
type ValidationError struct {
	Fields map[string][]string
}

// NewValidationError は空のValidationErrorを生成する。
func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string][]string)}
}

// Add はフィールドにエラーメッセージを追加する。
func (e *ValidationError) Add(field, message string) {
	e.Fields[field] = append(e.Fields[field], message)
}

// HasErrors はエラーが1件以上あるかを返す。
func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

// Has は指定フィールドにエラーがあるかを返す。
func (e *ValidationError) Has(field string) bool {
	return len(e.Fields[field]) > 0
}

// Error はerrorインターフェースを実装する。
func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("[%s] invalid fields: %s", ErrCodeValidation, strings.Join(names, ", "))
}
