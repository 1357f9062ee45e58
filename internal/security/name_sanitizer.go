package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxNameLength は氏名フィールドの最大文字数（users テーブルの varchar(100)）。
const MaxNameLength = 100

// NameSanitizer は外部IDプロバイダーやユーザー入力から受け取った氏名を
// 保存可能なプレーンテキストに変換する。
type NameSanitizer interface {
	// Sanitize はHTMLタグを全て除去し、前後の空白を取り除いた文字列を返す。
	// MaxNameLength を超える場合は先頭から MaxNameLength 文字に切り詰める。
	Sanitize(raw string) string
}

// nameSanitizer はbluemondayのStrictPolicyでタグを全て除去する。
type nameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はNameSanitizerの新しいインスタンスを生成する。
func NewNameSanitizer() *nameSanitizer {
	return &nameSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はHTMLタグを除去したプレーンテキストを返す。
// bluemondayはエンティティをエスケープして返すため、保存前に元の文字へ戻す。
func (s *nameSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	cleaned := html.UnescapeString(s.policy.Sanitize(raw))
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	return truncateRunes(cleaned, MaxNameLength)
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
