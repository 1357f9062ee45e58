package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/authgate/internal/account"
	"github.com/hitoshi/authgate/internal/model"
)

// --- モック定義 ---

type mockAccountService struct {
	loginFn              func(ctx context.Context, email, password, ip string) (*account.LoginResult, error)
	registerFn           func(ctx context.Context, in account.RegisterInput) (*account.RegisterResult, error)
	verifyEmailFn        func(ctx context.Context, token string) error
	resendVerificationFn func(ctx context.Context, email string) (*account.ResendResult, error)
}

func (m *mockAccountService) Login(ctx context.Context, email, password, ip string) (*account.LoginResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password, ip)
	}
	return nil, nil
}

func (m *mockAccountService) Register(ctx context.Context, in account.RegisterInput) (*account.RegisterResult, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, in)
	}
	return nil, nil
}

func (m *mockAccountService) VerifyEmail(ctx context.Context, token string) error {
	if m.verifyEmailFn != nil {
		return m.verifyEmailFn(ctx, token)
	}
	return nil
}

func (m *mockAccountService) ResendVerification(ctx context.Context, email string) (*account.ResendResult, error) {
	if m.resendVerificationFn != nil {
		return m.resendVerificationFn(ctx, email)
	}
	return &account.ResendResult{}, nil
}

// --- POST /api/authentications/login テスト ---

func TestAccountHandler_Login_Success(t *testing.T) {
	svc := &mockAccountService{
		loginFn: func(ctx context.Context, email, password, ip string) (*account.LoginResult, error) {
			if email != "jane@example.com" || password != "s3cret-pass" {
				t.Errorf("credentials = (%q, %q), want (jane@example.com, s3cret-pass)", email, password)
			}
			if ip != "198.51.100.7" {
				t.Errorf("ip = %q, want %q", ip, "198.51.100.7")
			}
			return &account.LoginResult{
				User:        &model.User{ID: "user-2", Email: "jane@example.com"},
				AccessToken: &model.AccessToken{Key: "access-2", UserID: "user-2"},
			}, nil
		},
	}
	rec := &spyRecorder{}
	h := NewAccountHandler(svc, rec)

	req := jsonRequest("/api/authentications/login", `{"email":"jane@example.com","password":"s3cret-pass"}`)
	req.RemoteAddr = "198.51.100.7:40000"
	w := httptest.NewRecorder()

	h.Login(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body := parseJSON(t, w)
	if body["user"] != "jane@example.com" {
		t.Errorf("user = %v, want email string", body["user"])
	}
	if body["token"] != "access-2" {
		t.Errorf("token = %v, want %q", body["token"], "access-2")
	}
	if ev := rec.only(t); ev.method != "local" || ev.outcome != "success" {
		t.Errorf("recorded = %+v, want local login success", ev)
	}
}

func TestAccountHandler_Login_NotFilledFields(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing email", `{"password":"x"}`},
		{"missing password", `{"email":"a@example.com"}`},
		{"blank email", `{"email":"  ","password":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAccountHandler(&mockAccountService{
				loginFn: func(ctx context.Context, email, password, ip string) (*account.LoginResult, error) {
					t.Error("Login should not be called")
					return nil, nil
				},
			}, nil)

			w := httptest.NewRecorder()
			h.Login(w, jsonRequest("/api/authentications/login", tt.body))

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if body := parseAPIErrorResponse(t, w); body["code"] != model.ErrCodeNotFilledFields {
				t.Errorf("code = %q, want %q", body["code"], model.ErrCodeNotFilledFields)
			}
		})
	}
}

func TestAccountHandler_Login_WrongCredentials(t *testing.T) {
	rec := &spyRecorder{}
	h := NewAccountHandler(&mockAccountService{
		loginFn: func(ctx context.Context, email, password, ip string) (*account.LoginResult, error) {
			return nil, nil
		},
	}, rec)

	w := httptest.NewRecorder()
	h.Login(w, jsonRequest("/api/authentications/login", `{"email":"a@example.com","password":"wrong"}`))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := parseAPIErrorResponse(t, w); body["code"] != model.ErrCodeWrongCredentials {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodeWrongCredentials)
	}
	if ev := rec.only(t); ev.outcome != "failure" {
		t.Errorf("outcome = %q, want failure", ev.outcome)
	}
}

func TestAccountHandler_Login_StorageError(t *testing.T) {
	h := NewAccountHandler(&mockAccountService{
		loginFn: func(ctx context.Context, email, password, ip string) (*account.LoginResult, error) {
			return nil, errors.New("db down")
		},
	}, nil)

	w := httptest.NewRecorder()
	h.Login(w, jsonRequest("/api/authentications/login", `{"email":"a@example.com","password":"p"}`))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

// --- POST /api/authentications/register テスト ---

func TestAccountHandler_Register_Success(t *testing.T) {
	svc := &mockAccountService{
		registerFn: func(ctx context.Context, in account.RegisterInput) (*account.RegisterResult, error) {
			if in.Email != "new@example.com" || in.Password != "Passw0rd!" || in.PasswordConfirmation != "Passw0rd!" {
				t.Errorf("input = %+v", in)
			}
			if in.Name != "Ana" || in.FamilyName != "Silva" || in.LastName != "Costa" {
				t.Errorf("names = (%q, %q, %q)", in.Name, in.FamilyName, in.LastName)
			}
			return &account.RegisterResult{
				User: &model.User{
					ID: "user-3", Email: "new@example.com",
					Name: "Ana", FamilyName: "Silva", LastName: "Costa",
				},
				AccessToken:  &model.AccessToken{Key: "access-3"},
				RefreshToken: &model.RefreshToken{Key: "refresh-3"},
				EmailSent:    true,
			}, nil
		},
	}
	rec := &spyRecorder{}
	h := NewAccountHandler(svc, rec)

	body := `{"name":"Ana","family_name":"Silva","last_name":"Costa","email":"new@example.com","password":"Passw0rd!","password_confirmation":"Passw0rd!"}`
	w := httptest.NewRecorder()
	h.Register(w, jsonRequest("/api/authentications/register", body))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	result := parseJSON(t, w)
	if result["token"] != "access-3" || result["refresh"] != "refresh-3" {
		t.Errorf("tokens = (%v, %v), want (access-3, refresh-3)", result["token"], result["refresh"])
	}
	if result["email_sent"] != true {
		t.Errorf("email_sent = %v, want true", result["email_sent"])
	}
	user := result["user"].(map[string]any)
	if user["full_name"] != "Ana Silva Costa" {
		t.Errorf("full_name = %v, want %q", user["full_name"], "Ana Silva Costa")
	}
	if user["email_verified"] != false {
		t.Errorf("email_verified = %v, want false", user["email_verified"])
	}
	if ev := rec.only(t); ev.kind != "registration" || ev.outcome != "success" || !ev.emailSent {
		t.Errorf("recorded = %+v, want registration success with email", ev)
	}
}

func TestAccountHandler_Register_ValidationError(t *testing.T) {
	svc := &mockAccountService{
		registerFn: func(ctx context.Context, in account.RegisterInput) (*account.RegisterResult, error) {
			verr := model.NewValidationError()
			verr.Add("email", "このメールアドレスは既に登録されています。")
			return nil, verr
		},
	}
	rec := &spyRecorder{}
	h := NewAccountHandler(svc, rec)

	w := httptest.NewRecorder()
	h.Register(w, jsonRequest("/api/authentications/register", `{"email":"dup@example.com"}`))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := parseValidationResponse(t, w); len(body.Fields["email"]) != 1 {
		t.Errorf("fields = %v, want one email entry", body.Fields)
	}
	if ev := rec.only(t); ev.outcome != "failure" {
		t.Errorf("outcome = %q, want failure", ev.outcome)
	}
}

// --- POST /api/authentications/verify-email テスト ---

func TestAccountHandler_VerifyEmail(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"success", nil, http.StatusOK, ""},
		{"unknown token", model.NewInvalidVerificationTokenError(), http.StatusBadRequest, model.ErrCodeInvalidVerificationToken},
		{"used token", model.NewVerificationTokenUsedError(), http.StatusBadRequest, model.ErrCodeVerificationTokenUsed},
		{"expired token", model.NewVerificationTokenExpiredError(), http.StatusBadRequest, model.ErrCodeVerificationTokenExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotToken string
			h := NewAccountHandler(&mockAccountService{
				verifyEmailFn: func(ctx context.Context, token string) error {
					gotToken = token
					return tt.err
				},
			}, nil)

			w := httptest.NewRecorder()
			h.VerifyEmail(w, jsonRequest("/api/authentications/verify-email", `{"token":" abc123 "}`))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if gotToken != "abc123" {
				t.Errorf("token = %q, want trimmed %q", gotToken, "abc123")
			}
			if tt.wantCode != "" {
				if body := parseAPIErrorResponse(t, w); body["code"] != tt.wantCode {
					t.Errorf("code = %q, want %q", body["code"], tt.wantCode)
				}
			}
		})
	}
}

// --- POST /api/authentications/resend-verification テスト ---

func TestAccountHandler_ResendVerification(t *testing.T) {
	tests := []struct {
		name          string
		result        *account.ResendResult
		wantVerified  bool
		wantEmailSent bool
	}{
		{"sent", &account.ResendResult{EmailSent: true}, false, true},
		{"already verified", &account.ResendResult{AlreadyVerified: true}, true, false},
		{"delivery failed", &account.ResendResult{}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAccountHandler(&mockAccountService{
				resendVerificationFn: func(ctx context.Context, email string) (*account.ResendResult, error) {
					return tt.result, nil
				},
			}, nil)

			w := httptest.NewRecorder()
			h.ResendVerification(w, jsonRequest("/api/authentications/resend-verification", `{"email":"a@example.com"}`))

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
			}
			body := parseJSON(t, w)
			if body["already_verified"] != tt.wantVerified {
				t.Errorf("already_verified = %v, want %v", body["already_verified"], tt.wantVerified)
			}
			if body["email_sent"] != tt.wantEmailSent {
				t.Errorf("email_sent = %v, want %v", body["email_sent"], tt.wantEmailSent)
			}
			if body["detail"] == "" {
				t.Error("detail should not be empty")
			}
		})
	}
}

func TestAccountHandler_ResendVerification_UnknownUser(t *testing.T) {
	h := NewAccountHandler(&mockAccountService{
		resendVerificationFn: func(ctx context.Context, email string) (*account.ResendResult, error) {
			return nil, model.NewUserNotFoundError()
		},
	}, nil)

	w := httptest.NewRecorder()
	h.ResendVerification(w, jsonRequest("/api/authentications/resend-verification", `{"email":"ghost@example.com"}`))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAccountHandler_ResendVerification_MissingEmail(t *testing.T) {
	h := NewAccountHandler(&mockAccountService{}, nil)

	w := httptest.NewRecorder()
	h.ResendVerification(w, jsonRequest("/api/authentications/resend-verification", `{}`))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := parseValidationResponse(t, w); len(body.Fields["email"]) == 0 {
		t.Errorf("fields = %v, want email entry", body.Fields)
	}
}
