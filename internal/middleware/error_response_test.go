package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/authgate/internal/model"
)

func decodeErrorBody(t *testing.T, resp *http.Response) ErrorResponseBody {
	t.Helper()
	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	return body
}

func TestWriteErrorResponse(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    *model.APIError
	}{
		{"unauthorized", http.StatusUnauthorized, model.NewUnauthorizedError()},
		{"rate limited", http.StatusTooManyRequests, &model.APIError{
			Code: "RATE_LIMIT_EXCEEDED", Message: "m", Category: "system", Action: "a",
		}},
		{"custom", http.StatusBadRequest, &model.APIError{
			Code: "PROVIDER_DISABLED", Message: "無効です。", Category: "config", Action: "設定を確認してください。",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteErrorResponse(w, tt.status, tt.err)

			resp := w.Result()
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
			body := decodeErrorBody(t, resp)
			want := ErrorResponseBody{Code: tt.err.Code, Message: tt.err.Message, Category: tt.err.Category, Action: tt.err.Action}
			if body != want {
				t.Errorf("body = %+v, want %+v", body, want)
			}
		})
	}
}

func TestWriteUnauthorized_SetsChallenge(t *testing.T) {
	w := httptest.NewRecorder()
	WriteUnauthorized(w)

	resp := w.Result()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
	challenge := resp.Header.Get("WWW-Authenticate")
	for _, scheme := range []string{"Token ", "Bearer "} {
		if !strings.Contains(challenge, scheme) {
			t.Errorf("WWW-Authenticate = %q, missing %q", challenge, scheme)
		}
	}
	if body := decodeErrorBody(t, resp); body.Code != "UNAUTHORIZED" {
		t.Errorf("code = %q, want UNAUTHORIZED", body.Code)
	}
}

func TestWriteInternalServerError_HidesDetail(t *testing.T) {
	w := httptest.NewRecorder()
	WriteInternalServerError(w)

	resp := w.Result()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}
	body := decodeErrorBody(t, resp)
	if body.Code != "INTERNAL_ERROR" || body.Category != "system" {
		t.Errorf("body = %+v, want INTERNAL_ERROR/system", body)
	}
	if body.Action == "" {
		t.Error("action should not be empty")
	}
}
