package security

import (
	"fmt"
	"net/mail"
	"strings"

	"golang.org/x/net/idna"
)

// NormalizeEmail はメールアドレスを正規化する。
// 前後の空白を除去して小文字化し、ドメイン部は国際化ドメイン名をASCII(punycode)に変換する。
// 表示名付きの形式や不正な形式はエラーとする。
func NormalizeEmail(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("empty email")
	}

	addr, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid email: %w", err)
	}
	if addr.Name != "" || addr.Address != trimmed {
		return "", fmt.Errorf("invalid email: %s", trimmed)
	}

	at := strings.LastIndex(addr.Address, "@")
	local, domain := addr.Address[:at], addr.Address[at+1:]
	if !strings.Contains(domain, ".") {
		return "", fmt.Errorf("invalid email domain: %s", domain)
	}

	asciiDomain, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return "", fmt.Errorf("invalid email domain: %w", err)
	}

	return strings.ToLower(local) + "@" + strings.ToLower(asciiDomain), nil
}
