package oidc

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeProvider はディスカバリ文書・JWKS・userinfoを返すテスト用IDプロバイダー。
type fakeProvider struct {
	server *httptest.Server
	key    *rsa.PrivateKey
	kid    string

	discoveryHits atomic.Int32
	jwksHits      atomic.Int32

	mu              sync.Mutex
	discoveryStatus int
	jwksBody        string
	omitUserInfo    bool
	userInfo        map[string]any
	lastAuthHeader  string
}

func newFakeProvider(t *testing.T, kid string) *fakeProvider {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	p := &fakeProvider{key: key, kid: kid, discoveryStatus: http.StatusOK}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		p.discoveryHits.Add(1)
		p.mu.Lock()
		status, omit := p.discoveryStatus, p.omitUserInfo
		p.mu.Unlock()
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		doc := map[string]any{
			"issuer":   p.server.URL,
			"jwks_uri": p.server.URL + "/jwks",
		}
		if !omit {
			doc["userinfo_endpoint"] = p.server.URL + "/userinfo"
		}
		json.NewEncoder(w).Encode(doc)
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		p.jwksHits.Add(1)
		p.mu.Lock()
		body, kid, key := p.jwksBody, p.kid, p.key
		p.mu.Unlock()
		if body != "" {
			w.Write([]byte(body))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]any{
				{"kty": "EC", "kid": "ec-key", "crv": "P-256"},
				{
					"kty": "RSA",
					"use": "sig",
					"kid": kid,
					"alg": "RS256",
					"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
					"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
				},
			},
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.lastAuthHeader = r.Header.Get("Authorization")
		info := p.userInfo
		p.mu.Unlock()
		if info == nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(info)
	})

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

// rotate は署名鍵を新しい kid の鍵に差し替える。
func (p *fakeProvider) rotate(t *testing.T, kid string) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	p.mu.Lock()
	p.kid, p.key = kid, key
	p.mu.Unlock()
	return key
}

func (p *fakeProvider) wellKnownURL() string {
	return p.server.URL + "/.well-known/openid-configuration"
}

func (p *fakeProvider) resolver(opts ...Option) *KeyResolver {
	opts = append([]Option{WithHTTPClient(p.server.Client())}, opts...)
	return NewKeyResolver(p.wellKnownURL(), opts...)
}

func TestKeyResolver_ResolveKey(t *testing.T) {
	p := newFakeProvider(t, "key-1")
	r := p.resolver()

	pub, err := r.ResolveKey(context.Background(), "key-1")
	if err != nil {
		t.Fatalf("ResolveKey() unexpected error: %v", err)
	}
	if pub.N.Cmp(p.key.PublicKey.N) != 0 || pub.E != p.key.PublicKey.E {
		t.Error("resolved key does not match provider key")
	}
}

func TestKeyResolver_DocumentsCachedPerInstance(t *testing.T) {
	p := newFakeProvider(t, "key-1")
	r := p.resolver()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := r.ResolveKey(ctx, "key-1"); err != nil {
			t.Fatalf("ResolveKey() unexpected error: %v", err)
		}
	}

	if got := p.discoveryHits.Load(); got != 1 {
		t.Errorf("discovery fetched %d times, want 1", got)
	}
	if got := p.jwksHits.Load(); got != 1 {
		t.Errorf("jwks fetched %d times, want 1", got)
	}

	// 別インスタンスは独自に取得する
	if _, err := p.resolver().Discovery(ctx); err != nil {
		t.Fatalf("Discovery() unexpected error: %v", err)
	}
	if got := p.discoveryHits.Load(); got != 2 {
		t.Errorf("discovery fetched %d times, want 2", got)
	}
}

// TestKeyResolver_RefetchesOnUnknownKid は未知の kid でJWKSを取り直し、ローテーション後の鍵を解決することを検証する。
func TestKeyResolver_RefetchesOnUnknownKid(t *testing.T) {
	p := newFakeProvider(t, "key-1")
	r := p.resolver()
	ctx := context.Background()

	if _, err := r.ResolveKey(ctx, "key-1"); err != nil {
		t.Fatalf("ResolveKey(key-1) unexpected error: %v", err)
	}
	rotated := p.rotate(t, "key-2")

	pub, err := r.ResolveKey(ctx, "key-2")
	if err != nil {
		t.Fatalf("ResolveKey(key-2) unexpected error: %v", err)
	}
	if pub.N.Cmp(rotated.PublicKey.N) != 0 {
		t.Error("resolved key does not match rotated key")
	}
	if got := p.jwksHits.Load(); got != 2 {
		t.Errorf("jwks fetched %d times, want 2", got)
	}

	// 取り直し後のキャッシュに無い旧鍵は見つからない
	if _, err := r.ResolveKey(ctx, "key-1"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("ResolveKey(key-1) error = %v, want ErrKeyNotFound", err)
	}
}

func TestKeyResolver_ConcurrentKeyMissFetchedOnce(t *testing.T) {
	p := newFakeProvider(t, "key-1")
	r := p.resolver()
	if _, err := r.Discovery(context.Background()); err != nil {
		t.Fatalf("Discovery() unexpected error: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.ResolveKey(context.Background(), "key-1"); err != nil {
				t.Errorf("ResolveKey() unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	// 初回の取得完了後に到着した呼び出しはキャッシュから解決される
	if got := p.jwksHits.Load(); got != 1 {
		t.Errorf("jwks fetched %d times, want 1", got)
	}
}

func TestKeyResolver_ConcurrentDiscoveryFetchedOnce(t *testing.T) {
	p := newFakeProvider(t, "key-1")
	r := p.resolver()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Discovery(context.Background()); err != nil {
				t.Errorf("Discovery() unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := p.discoveryHits.Load(); got != 1 {
		t.Errorf("discovery fetched %d times, want 1", got)
	}
}

func TestKeyResolver_DiscoveryFailureNotCached(t *testing.T) {
	p := newFakeProvider(t, "key-1")
	p.discoveryStatus = http.StatusServiceUnavailable
	r := p.resolver()
	ctx := context.Background()

	if _, err := r.Discovery(ctx); !errors.Is(err, ErrFetch) {
		t.Fatalf("Discovery() error = %v, want ErrFetch", err)
	}

	p.mu.Lock()
	p.discoveryStatus = http.StatusOK
	p.mu.Unlock()

	doc, err := r.Discovery(ctx)
	if err != nil {
		t.Fatalf("Discovery() unexpected error after recovery: %v", err)
	}
	if doc.JWKSURI != p.server.URL+"/jwks" {
		t.Errorf("JWKSURI = %q", doc.JWKSURI)
	}
}

func TestKeyResolver_UnknownKid(t *testing.T) {
	p := newFakeProvider(t, "key-1")
	r := p.resolver()

	_, err := r.ResolveKey(context.Background(), "other")
	if !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("ResolveKey() error = %v, want ErrKeyNotFound", err)
	}
	if errors.Is(err, ErrFetch) {
		t.Error("missing kid must not be reported as a fetch failure")
	}
}

func TestKeyResolver_NonRSAKeyForKid(t *testing.T) {
	p := newFakeProvider(t, "key-1")
	r := p.resolver()

	if _, err := r.ResolveKey(context.Background(), "ec-key"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("ResolveKey() error = %v, want ErrKeyNotFound", err)
	}
}

func TestKeyResolver_MalformedJWKS(t *testing.T) {
	p := newFakeProvider(t, "key-1")
	p.jwksBody = `{"keys": [`
	r := p.resolver()

	if _, err := r.ResolveKey(context.Background(), "key-1"); !errors.Is(err, ErrFetch) {
		t.Fatalf("ResolveKey() error = %v, want ErrFetch", err)
	}
}

func TestKeyResolver_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	r := NewKeyResolver(server.URL, WithHTTPClient(server.Client()), WithTimeout(50*time.Millisecond))

	start := time.Now()
	_, err := r.Discovery(context.Background())
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("Discovery() error = %v, want ErrFetch", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout not applied: took %v", elapsed)
	}
}

func TestKeyResolver_UserInfoSendsBearer(t *testing.T) {
	p := newFakeProvider(t, "key-1")
	p.userInfo = map[string]any{"email": "u@example.com"}
	r := p.resolver()

	claims, err := r.UserInfo(context.Background(), "opaque-access")
	if err != nil {
		t.Fatalf("UserInfo() unexpected error: %v", err)
	}
	if claims.String("email") != "u@example.com" {
		t.Errorf("email = %q", claims.String("email"))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastAuthHeader != "Bearer opaque-access" {
		t.Errorf("Authorization = %q, want Bearer opaque-access", p.lastAuthHeader)
	}
}

func TestKeyResolver_UserInfoRejected(t *testing.T) {
	p := newFakeProvider(t, "key-1")
	r := p.resolver()

	if _, err := r.UserInfo(context.Background(), "bad"); !errors.Is(err, ErrFetch) {
		t.Fatalf("UserInfo() error = %v, want ErrFetch", err)
	}
}

func TestKeyResolver_NoUserInfoEndpoint(t *testing.T) {
	p := newFakeProvider(t, "key-1")
	p.omitUserInfo = true
	r := p.resolver()

	if _, err := r.UserInfo(context.Background(), "tok"); !errors.Is(err, ErrNoUserInfoEndpoint) {
		t.Fatalf("UserInfo() error = %v, want ErrNoUserInfoEndpoint", err)
	}
}

func TestKeyResolver_FetchObserver(t *testing.T) {
	p := newFakeProvider(t, "key-1")

	var mu sync.Mutex
	var kinds []string
	r := p.resolver(WithFetchObserver(func(kind string, elapsed time.Duration, err error) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, kind)
	}))

	if _, err := r.ResolveKey(context.Background(), "key-1"); err != nil {
		t.Fatalf("ResolveKey() unexpected error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(kinds) != 2 || kinds[0] != "discovery" || kinds[1] != "jwks" {
		t.Errorf("observed kinds = %v, want [discovery jwks]", kinds)
	}
}
