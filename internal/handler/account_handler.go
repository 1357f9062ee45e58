package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/hitoshi/authgate/internal/account"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
)

// AccountService はローカルアカウントハンドラーが必要とするサービスインターフェース。
type AccountService interface {
	// Login は認証に失敗した場合 nil, nil を返す。
	Login(ctx context.Context, email, password, ip string) (*account.LoginResult, error)
	Register(ctx context.Context, in account.RegisterInput) (*account.RegisterResult, error)
	VerifyEmail(ctx context.Context, token string) error
	ResendVerification(ctx context.Context, email string) (*account.ResendResult, error)
}

// AccountHandler はローカルログイン・登録・メールアドレス確認のHTTPハンドラー。
type AccountHandler struct {
	service  AccountService
	recorder EventRecorder
}

// NewAccountHandler はAccountHandlerを生成する。recorder はnilでもよい。
func NewAccountHandler(service AccountService, recorder EventRecorder) *AccountHandler {
	return &AccountHandler{
		service:  service,
		recorder: recorderOrNop(recorder),
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse はローカルログインのレスポンス。user はメールアドレス文字列。
type loginResponse struct {
	User  string `json:"user"`
	Token string `json:"token"`
}

type registerRequest struct {
	Name                 string `json:"name"`
	LastName             string `json:"last_name"`
	FamilyName           string `json:"family_name"`
	Email                string `json:"email"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

// userResponse はローカルユーザーのAPIレスポンス。
type userResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	LastName      string `json:"last_name"`
	FamilyName    string `json:"family_name"`
	FullName      string `json:"full_name"`
	EmailVerified bool   `json:"email_verified"`
}

type registerResponse struct {
	User      userResponse `json:"user"`
	Token     string       `json:"token"`
	Refresh   string       `json:"refresh"`
	EmailSent bool         `json:"email_sent"`
}

type verifyEmailRequest struct {
	Token string `json:"token"`
}

type resendVerificationRequest struct {
	Email string `json:"email"`
}

type resendVerificationResponse struct {
	Detail          string `json:"detail"`
	AlreadyVerified bool   `json:"already_verified"`
	EmailSent       bool   `json:"email_sent"`
}

type detailResponse struct {
	Detail string `json:"detail"`
}

// Login はメールアドレスとパスワードでログインする。
// POST /api/authentications/login
func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		h.recorder.RecordLogin("local", "failure")
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewNotFilledFieldsError())
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password, middleware.ClientIP(r))
	if err != nil {
		h.recorder.RecordLogin("local", "error")
		handleServiceError(w, err)
		return
	}
	if result == nil {
		h.recorder.RecordLogin("local", "failure")
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewWrongCredentialsError())
		return
	}

	h.recorder.RecordLogin("local", "success")
	writeJSON(w, http.StatusOK, loginResponse{
		User:  result.User.Email,
		Token: result.AccessToken.Key,
	})
}

// Register はユーザーを登録し、トークンの組を返す。
// POST /api/authentications/register
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.Register(r.Context(), account.RegisterInput{
		Name:                 req.Name,
		LastName:             req.LastName,
		FamilyName:           req.FamilyName,
		Email:                req.Email,
		Password:             req.Password,
		PasswordConfirmation: req.PasswordConfirmation,
	})
	if err != nil {
		h.recorder.RecordRegistration(outcomeOf(err), false)
		handleServiceError(w, err)
		return
	}
	h.recorder.RecordRegistration("success", result.EmailSent)

	writeJSON(w, http.StatusCreated, registerResponse{
		User:      toUserResponse(result.User),
		Token:     result.AccessToken.Key,
		Refresh:   result.RefreshToken.Key,
		EmailSent: result.EmailSent,
	})
}

// VerifyEmail は確認トークンでメールアドレスを確認済みにする。
// POST /api/authentications/verify-email
func (h *AccountHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	err := h.service.VerifyEmail(r.Context(), strings.TrimSpace(req.Token))
	h.recorder.RecordEmailVerification(outcomeOf(err))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, detailResponse{Detail: "メールアドレスを確認しました。"})
}

// ResendVerification は確認メールを再送する。
// POST /api/authentications/resend-verification
func (h *AccountHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req resendVerificationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		requiredField(w, "email")
		return
	}

	result, err := h.service.ResendVerification(r.Context(), req.Email)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	detail := "確認メールを送信しました。"
	switch {
	case result.AlreadyVerified:
		detail = "メールアドレスは既に確認済みです。"
	case !result.EmailSent:
		detail = "確認メールの送信に失敗しました。時間をおいて再度お試しください。"
	}
	writeJSON(w, http.StatusOK, resendVerificationResponse{
		Detail:          detail,
		AlreadyVerified: result.AlreadyVerified,
		EmailSent:       result.EmailSent,
	})
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		LastName:      u.LastName,
		FamilyName:    u.FamilyName,
		FullName:      u.FullName(),
		EmailVerified: u.EmailVerified,
	}
}
