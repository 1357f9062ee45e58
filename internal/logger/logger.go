// Package logger はslogによるJSON構造化ログの設定を提供する。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Redacted は秘匿属性の値を置き換える文字列。
const Redacted = "[REDACTED]"

// secretKeys は値を出力しない属性キー。グループ内の属性にも適用される。
var secretKeys = map[string]struct{}{
	"password":      {},
	"token":         {},
	"access_token":  {},
	"refresh":       {},
	"refresh_token": {},
	"authorization": {},
	"client_secret": {},
	"smtp_password": {},
}

// ParseLevel はLOG_LEVELの文字列をslog.Levelに変換する。未知の値はInfoとする。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func redactSecrets(_ []string, a slog.Attr) slog.Attr {
	if _, ok := secretKeys[strings.ToLower(a.Key)]; ok && a.Value.Kind() != slog.KindGroup {
		return slog.String(a.Key, Redacted)
	}
	return a
}

// Setup は w に出力するJSONロガーを返す。
// トークンやパスワードを表すキーの値は Redacted に置き換えられる。
func Setup(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redactSecrets,
	}))
}

// SetupDefault はSetupのロガーをグローバルに設定する。w が nil なら標準出力。
func SetupDefault(w io.Writer, level slog.Level) {
	if w == nil {
		w = os.Stdout
	}
	slog.SetDefault(Setup(w, level))
}
