package oidc

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken はトークン検証の失敗を表す。原因はラップされるがログ用途に限る。
var ErrInvalidToken = errors.New("oidc: invalid token")

// allowedAlgorithms は受け付ける署名アルゴリズム。
var allowedAlgorithms = []string{
	jwt.SigningMethodRS256.Alg(),
	jwt.SigningMethodRS384.Alg(),
	jwt.SigningMethodRS512.Alg(),
}

// KeySource は kid から検証用公開鍵を解決する。
type KeySource interface {
	ResolveKey(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// Verifier は外部アクセストークンの署名・audience・有効期限を検証する。
type Verifier struct{}

// NewVerifier はVerifierを生成する。
func NewVerifier() *Verifier {
	return &Verifier{}
}

// Verify はトークンを検証してクレームを返す。
// 署名鍵はヘッダーの kid で keys から解決し、aud が audience と一致し
// exp が存在して未来であることを要求する。失敗はすべて ErrInvalidToken となる。
func (v *Verifier) Verify(ctx context.Context, keys KeySource, token, audience string) (Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods(allowedAlgorithms),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
	)

	parsed, err := parser.Parse(token, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid header")
		}
		return keys.ResolveKey(ctx, kid)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("%w: unexpected claims", ErrInvalidToken)
	}
	return Claims(mapClaims), nil
}
