// Package account はメールアドレスとパスワードによるローカル認証、
// ユーザー登録、メールアドレス確認を提供する。
package account

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/repository"
	"github.com/hitoshi/authgate/internal/security"
	"github.com/hitoshi/authgate/internal/session"
)

// MinPasswordLength はパスワードの最小文字数。
const MinPasswordLength = 8

// TokenIssuer はログインと登録で使うトークン発行のインターフェース。
type TokenIssuer interface {
	IssueForUser(ctx context.Context, user *model.User) (*session.Result, error)
	ReplaceAccessToken(ctx context.Context, userID string) (*model.AccessToken, error)
}

// Notifier はメール確認の通知を送るインターフェース。
type Notifier interface {
	SendWelcome(ctx context.Context, email, name, token string) error
}

// Config はアカウントサービスの設定。
type Config struct {
	BcryptCost int // パスワードハッシュのコスト（デフォルト: bcrypt.DefaultCost）
}

// LoginResult はローカルログイン成功時の結果。
type LoginResult struct {
	User        *model.User
	AccessToken *model.AccessToken
}

// RegisterInput はユーザー登録の入力。
type RegisterInput struct {
	Name                 string
	LastName             string
	FamilyName           string
	Email                string
	Password             string
	PasswordConfirmation string
}

// RegisterResult はユーザー登録の結果。
type RegisterResult struct {
	User         *model.User
	AccessToken  *model.AccessToken
	RefreshToken *model.RefreshToken
	EmailSent    bool
}

// ResendResult は確認メール再送の結果。
type ResendResult struct {
	AlreadyVerified bool
	EmailSent       bool
}

// Service はローカルアカウントのビジネスロジックを提供する。
type Service struct {
	users     repository.UserRepository
	tokens    repository.VerificationTokenRepository
	issuer    TokenIssuer
	notifier  Notifier
	sanitizer security.NameSanitizer
	config    Config
	now       func() time.Time

	// dummyHash は存在しないユーザーでも同じ時間をかけて比較するためのハッシュ。
	dummyHash []byte
}

// Option はServiceの設定を変更する。
type Option func(*Service)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService はServiceを生成する。
func NewService(
	users repository.UserRepository,
	tokens repository.VerificationTokenRepository,
	issuer TokenIssuer,
	notifier Notifier,
	sanitizer security.NameSanitizer,
	config Config,
	opts ...Option,
) (*Service, error) {
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("authgate-dummy-password"), config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}

	s := &Service{
		users:     users,
		tokens:    tokens,
		issuer:    issuer,
		notifier:  notifier,
		sanitizer: sanitizer,
		config:    config,
		now:       time.Now,
		dummyHash: dummy,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Login はメールアドレスとパスワードで認証し、アクセストークンを再発行する。
// 認証失敗時は理由を区別せず nil, nil を返す。
func (s *Service) Login(ctx context.Context, email, password, ip string) (*LoginResult, error) {
	normalized, err := security.NormalizeEmail(email)
	if err != nil {
		s.compareDummy(password)
		return nil, nil
	}

	user, err := s.users.FindByEmail(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || !user.IsActive || !user.HasPassword() {
		s.compareDummy(password)
		return nil, nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, nil
	}

	token, err := s.issuer.ReplaceAccessToken(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	if ip != "" {
		if err := s.users.AddIPAddress(ctx, user.ID, ip, s.now()); err != nil {
			return nil, fmt.Errorf("failed to record ip address: %w", err)
		}
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))
	return &LoginResult{User: user, AccessToken: token}, nil
}

func (s *Service) compareDummy(password string) {
	_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
}

// Register はユーザーを作成し、確認メールを送ってトークンを発行する。
// 入力エラーは *model.ValidationError で返し、その場合ユーザーもトークンも作成しない。
// 確認トークンの作成やメール送信の失敗は登録を中断せず EmailSent=false で返す。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	user, verr, err := s.validateRegistration(ctx, in)
	if err != nil {
		return nil, err
	}
	if verr.HasErrors() {
		return nil, verr
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	user.PasswordHash = string(hash)

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			verr.Add("email", "このメールアドレスは既に登録されています。")
			return nil, verr
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	slog.Info("user registered", slog.String("user_id", user.ID))

	emailSent := s.sendVerification(ctx, user)

	issued, err := s.issuer.IssueForUser(ctx, user)
	if err != nil {
		return nil, err
	}

	return &RegisterResult{
		User:         user,
		AccessToken:  issued.AccessToken,
		RefreshToken: issued.RefreshToken,
		EmailSent:    emailSent,
	}, nil
}

func (s *Service) validateRegistration(ctx context.Context, in RegisterInput) (*model.User, *model.ValidationError, error) {
	verr := model.NewValidationError()

	name := s.validateName(verr, "name", in.Name)
	lastName := s.validateName(verr, "last_name", in.LastName)
	familyName := s.validateName(verr, "family_name", in.FamilyName)

	email, err := security.NormalizeEmail(in.Email)
	switch {
	case strings.TrimSpace(in.Email) == "":
		verr.Add("email", "このフィールドは必須です。")
	case err != nil:
		verr.Add("email", "有効なメールアドレスを入力してください。")
	default:
		existing, err := s.users.FindByEmail(ctx, email)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to check email: %w", err)
		}
		if existing != nil {
			verr.Add("email", "このメールアドレスは既に登録されています。")
		}
	}

	if utf8.RuneCountInString(in.Password) < MinPasswordLength {
		verr.Add("password", fmt.Sprintf("パスワードは%d文字以上で入力してください。", MinPasswordLength))
	}
	if in.PasswordConfirmation == "" {
		verr.Add("password_confirmation", "このフィールドは必須です。")
	} else if in.Password != in.PasswordConfirmation {
		verr.Add("password_confirmation", "パスワードが一致しません。")
	}

	now := s.now()
	return &model.User{
		ID:          uuid.New().String(),
		Email:       email,
		Name:        name,
		LastName:    lastName,
		FamilyName:  familyName,
		IsActive:    true,
		IPAddresses: map[string]time.Time{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}, verr, nil
}

func (s *Service) validateName(verr *model.ValidationError, field, raw string) string {
	if utf8.RuneCountInString(strings.TrimSpace(raw)) > security.MaxNameLength {
		verr.Add(field, fmt.Sprintf("%d文字以内で入力してください。", security.MaxNameLength))
		return ""
	}
	cleaned := s.sanitizer.Sanitize(raw)
	if cleaned == "" {
		verr.Add(field, "このフィールドは必須です。")
	}
	return cleaned
}

// sendVerification は確認トークンを作成して登録完了メールを送る。送信できたかを返す。
func (s *Service) sendVerification(ctx context.Context, user *model.User) bool {
	token, err := s.createVerificationToken(ctx, user.ID)
	if err != nil {
		slog.Warn("failed to create verification token",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return false
	}

	if err := s.notifier.SendWelcome(ctx, user.Email, user.Name, token); err != nil {
		slog.Warn("failed to send verification email",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

func (s *Service) createVerificationToken(ctx context.Context, userID string) (string, error) {
	value, err := generateVerificationToken()
	if err != nil {
		return "", err
	}
	token := model.NewEmailVerificationToken(value, userID, s.now())
	if err := s.tokens.CreateReplacingPrevious(ctx, token); err != nil {
		return "", err
	}
	return value, nil
}

// VerifyEmail は確認トークンを使用済みにしてメールアドレスを確認済みにする。
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return model.NewInvalidVerificationTokenError()
	}

	userID, err := s.tokens.Consume(ctx, token, s.now())
	switch {
	case errors.Is(err, repository.ErrVerificationTokenNotFound):
		return model.NewInvalidVerificationTokenError()
	case errors.Is(err, repository.ErrVerificationTokenUsed):
		return model.NewVerificationTokenUsedError()
	case errors.Is(err, repository.ErrVerificationTokenExpired):
		return model.NewVerificationTokenExpiredError()
	case err != nil:
		return fmt.Errorf("failed to consume verification token: %w", err)
	}

	slog.Info("email verified", slog.String("user_id", userID))
	return nil
}

// ResendVerification は未使用の確認トークンを無効化し、新しいトークンで確認メールを再送する。
// 確認済みの場合は何もせず AlreadyVerified を返す。
func (s *Service) ResendVerification(ctx context.Context, email string) (*ResendResult, error) {
	normalized, err := security.NormalizeEmail(email)
	if err != nil {
		return nil, model.NewUserNotFoundError()
	}

	user, err := s.users.FindByEmail(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	if user.EmailVerified {
		return &ResendResult{AlreadyVerified: true}, nil
	}

	token, err := s.createVerificationToken(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create verification token: %w", err)
	}

	if err := s.notifier.SendWelcome(ctx, user.Email, user.Name, token); err != nil {
		slog.Warn("failed to resend verification email",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return &ResendResult{EmailSent: false}, nil
	}
	return &ResendResult{EmailSent: true}, nil
}

// generateVerificationToken は64桁の16進文字列の確認トークンを生成する。
func generateVerificationToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate verification token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
