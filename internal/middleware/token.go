// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/authgate/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// TokenFinder はアクセストークンの検索に必要なインターフェース。
// repository.AccessTokenRepositoryの部分集合として定義する。
type TokenFinder interface {
	FindByKey(ctx context.Context, key string) (*model.AccessToken, error)
}

// NewTokenAuthMiddleware はAuthorizationヘッダーのアクセストークンを検証し、
// ユーザーIDをリクエストコンテキストに注入するミドルウェアを返す。
// "Token <key>" と "Bearer <key>" の両形式を受け付ける。
// optional が true の場合、トークンが無いか無効でもユーザーなしで次に進む。
// false の場合は401を返す。
func NewTokenAuthMiddleware(finder TokenFinder, optional bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reject := func() {
				if optional {
					next.ServeHTTP(w, r)
					return
				}
				WriteUnauthorized(w)
			}

			key := tokenFromHeader(r.Header.Get("Authorization"))
			if key == "" {
				reject()
				return
			}

			token, err := finder.FindByKey(r.Context(), key)
			if err != nil {
				slog.Error("failed to find access token",
					slog.String("error", err.Error()),
				)
				reject()
				return
			}
			if token == nil {
				reject()
				return
			}

			ctx := context.WithValue(r.Context(), userIDContextKey, token.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// tokenFromHeader はAuthorizationヘッダーからトークンを取り出す。
func tokenFromHeader(header string) string {
	scheme, key, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok {
		return ""
	}
	if !strings.EqualFold(scheme, "Token") && !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(key)
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// トークン認証ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
