package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/authgate/internal/middleware"
)

// --- テストヘルパー ---

// withUserID はテスト用にリクエストコンテキストにユーザーIDを注入するヘルパー。
func withUserID(r *http.Request, userID string) *http.Request {
	ctx := middleware.ContextWithUserID(r.Context(), userID)
	return r.WithContext(ctx)
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// jsonRequest はJSONボディ付きのPOSTリクエストを生成する。
func jsonRequest(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

// parseValidationResponse はフィールドエラーのレスポンスをパースするヘルパー。
func parseValidationResponse(t *testing.T, w *httptest.ResponseRecorder) validationErrorResponse {
	t.Helper()
	var result validationErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode validation response: %v", err)
	}
	return result
}

// parseJSON はレスポンスボディを汎用マップにパースするヘルパー。
func parseJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return result
}

// recordedEvent は spyRecorder が記録したイベント。
type recordedEvent struct {
	kind      string
	method    string
	outcome   string
	emailSent bool
}

// spyRecorder はEventRecorderの呼び出しを記録する。
type spyRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (s *spyRecorder) add(e recordedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *spyRecorder) RecordLogin(method, outcome string) {
	s.add(recordedEvent{kind: "login", method: method, outcome: outcome})
}

func (s *spyRecorder) RecordRefresh(outcome string) {
	s.add(recordedEvent{kind: "refresh", outcome: outcome})
}

func (s *spyRecorder) RecordRegistration(outcome string, emailSent bool) {
	s.add(recordedEvent{kind: "registration", outcome: outcome, emailSent: emailSent})
}

func (s *spyRecorder) RecordEmailVerification(outcome string) {
	s.add(recordedEvent{kind: "verification", outcome: outcome})
}

func (s *spyRecorder) only(t *testing.T) recordedEvent {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) != 1 {
		t.Fatalf("recorded events = %d, want 1: %+v", len(s.events), s.events)
	}
	return s.events[0]
}
