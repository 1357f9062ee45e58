// Package oidc は外部IDプロバイダーの署名鍵解決とトークン検証を提供する。
//
// KeyResolver はディスカバリ文書（.well-known/openid-configuration）とJWKSを取得して
// インスタンス単位でキャッシュし、kid に対応するRSA公開鍵を解決する。
// Verifier はその鍵で外部アクセストークンの署名・audience・有効期限を検証する。
package oidc

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultRequestTimeout は外部エンドポイントへの1リクエストあたりのタイムアウト。
const DefaultRequestTimeout = 5 * time.Second

var (
	// ErrFetch はディスカバリ文書・JWKS・userinfoの取得失敗を表す。
	ErrFetch = errors.New("oidc: fetch failed")
	// ErrKeyNotFound はJWKSに該当する kid の鍵が存在しないことを表す。
	ErrKeyNotFound = errors.New("oidc: signing key not found")
	// ErrNoUserInfoEndpoint はディスカバリ文書に userinfo_endpoint がないことを表す。
	ErrNoUserInfoEndpoint = errors.New("oidc: userinfo endpoint not advertised")
)

// Claims はトークンまたはuserinfoから得たクレームの集合。
type Claims map[string]any

// String はクレームの文字列値を返す。存在しないか文字列でない場合は空文字を返す。
func (c Claims) String(name string) string {
	v, _ := c[name].(string)
	return v
}

// Discovery はディスカバリ文書のうち使用するフィールド。
type Discovery struct {
	Issuer           string `json:"issuer"`
	JWKSURI          string `json:"jwks_uri"`
	UserInfoEndpoint string `json:"userinfo_endpoint"`
}

// FetchObserver は外部エンドポイントへのリクエスト完了ごとに呼ばれる。
// kind は "discovery" / "jwks" / "userinfo" のいずれか。
type FetchObserver func(kind string, elapsed time.Duration, err error)

// KeyResolver はプロバイダー1件分のディスカバリ文書と署名鍵を解決する。
// ディスカバリ文書は最初の取得成功後インスタンスの寿命の間キャッシュされ、
// 取得失敗はキャッシュされない。JWKSは kid がキャッシュに無いときだけ再取得し、
// 同時の再取得は1回にまとめる。
type KeyResolver struct {
	wellKnownURL string
	httpClient   *http.Client
	timeout      time.Duration
	observe      FetchObserver

	group     singleflight.Group
	mu        sync.RWMutex
	discovery *Discovery
	keys      map[string]jwk
}

// Option はKeyResolverの設定を変更する。
type Option func(*KeyResolver)

// WithHTTPClient はリクエストに使用するHTTPクライアントを設定する。
func WithHTTPClient(c *http.Client) Option {
	return func(r *KeyResolver) { r.httpClient = c }
}

// WithTimeout は1リクエストあたりのタイムアウトを設定する。
func WithTimeout(d time.Duration) Option {
	return func(r *KeyResolver) { r.timeout = d }
}

// WithFetchObserver はリクエスト完了時のフックを設定する。
func WithFetchObserver(fn FetchObserver) Option {
	return func(r *KeyResolver) { r.observe = fn }
}

// NewKeyResolver は wellKnownURL のディスカバリ文書を使う KeyResolver を生成する。
func NewKeyResolver(wellKnownURL string, opts ...Option) *KeyResolver {
	r := &KeyResolver{
		wellKnownURL: wellKnownURL,
		httpClient:   http.DefaultClient,
		timeout:      DefaultRequestTimeout,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// WellKnownURL はディスカバリ文書のURLを返す。
func (r *KeyResolver) WellKnownURL() string {
	return r.wellKnownURL
}

// Discovery はディスカバリ文書を返す。初回のみ取得し、同時の初回呼び出しは1回の取得にまとめる。
func (r *KeyResolver) Discovery(ctx context.Context) (*Discovery, error) {
	r.mu.RLock()
	cached := r.discovery
	r.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	v, err, _ := r.group.Do("discovery", func() (any, error) {
		r.mu.RLock()
		cached := r.discovery
		r.mu.RUnlock()
		if cached != nil {
			return cached, nil
		}

		var doc Discovery
		if err := r.getJSON(ctx, "discovery", r.wellKnownURL, "", &doc); err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.discovery = &doc
		r.mu.Unlock()
		return &doc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Discovery), nil
}

// ResolveKey は kid に対応するRSA公開鍵を返す。
// キャッシュに無い kid の場合のみJWKSを取得し直す。鍵のローテーションはこれで追従する。
func (r *KeyResolver) ResolveKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	r.mu.RLock()
	key, ok := r.keys[kid]
	r.mu.RUnlock()

	if !ok {
		keys, err := r.refreshKeys(ctx, kid)
		if err != nil {
			return nil, err
		}
		if key, ok = keys[kid]; !ok {
			return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
		}
	}

	if key.Kty != "RSA" {
		return nil, fmt.Errorf("%w: kid %q has key type %q", ErrKeyNotFound, kid, key.Kty)
	}
	pub, err := key.rsaPublicKey()
	if err != nil {
		return nil, fmt.Errorf("%w: kid %q: %v", ErrKeyNotFound, kid, err)
	}
	return pub, nil
}

// refreshKeys はJWKSを取得してキャッシュを置き換える。
// 同じ kid の同時呼び出しは1回の取得にまとめ、待機中に他の呼び出しが
// kid を取得済みであれば取得しない。取得に失敗した場合は既存のキャッシュを残す。
func (r *KeyResolver) refreshKeys(ctx context.Context, kid string) (map[string]jwk, error) {
	v, err, _ := r.group.Do("jwks:"+kid, func() (any, error) {
		r.mu.RLock()
		cached := r.keys
		r.mu.RUnlock()
		if _, ok := cached[kid]; ok {
			return cached, nil
		}

		doc, err := r.Discovery(ctx)
		if err != nil {
			return nil, err
		}
		if doc.JWKSURI == "" {
			return nil, fmt.Errorf("%w: jwks_uri missing from discovery document", ErrFetch)
		}

		var set jwkSet
		if err := r.getJSON(ctx, "jwks", doc.JWKSURI, "", &set); err != nil {
			return nil, err
		}

		keys := make(map[string]jwk, len(set.Keys))
		for _, k := range set.Keys {
			if k.Kid != "" {
				keys[k.Kid] = k
			}
		}

		r.mu.Lock()
		r.keys = keys
		r.mu.Unlock()
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]jwk), nil
}

// UserInfo はアクセストークンをBearerとしてuserinfoエンドポイントを呼び出し、クレームを返す。
func (r *KeyResolver) UserInfo(ctx context.Context, accessToken string) (Claims, error) {
	doc, err := r.Discovery(ctx)
	if err != nil {
		return nil, err
	}
	if doc.UserInfoEndpoint == "" {
		return nil, ErrNoUserInfoEndpoint
	}

	claims := Claims{}
	if err := r.getJSON(ctx, "userinfo", doc.UserInfoEndpoint, accessToken, &claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// getJSON は1回だけGETを送りJSONをデコードする。失敗はすべて ErrFetch でラップする。
func (r *KeyResolver) getJSON(ctx context.Context, kind, url, bearer string, dst any) (err error) {
	start := time.Now()
	if r.observe != nil {
		defer func() { r.observe(kind, time.Since(start), err) }()
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %s: create request: %v", ErrFetch, kind, err)
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrFetch, kind, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s: status %d", ErrFetch, kind, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: %s: decode: %v", ErrFetch, kind, err)
	}
	return nil
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (k *jwk) rsaPublicKey() (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	if len(nBytes) == 0 || len(eBytes) == 0 {
		return nil, errors.New("empty modulus or exponent")
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}
