package provider

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/hitoshi/authgate/internal/oidc"
)

var (
	// ErrUnsupported は未対応のプロバイダー名を表す。
	ErrUnsupported = errors.New("provider: unsupported")
	// ErrNotConfigured は対応済みだが設定が存在しないプロバイダーを表す。
	ErrNotConfigured = errors.New("provider: not configured")
	// ErrDisabled は設定で無効化されたプロバイダーを表す。
	ErrDisabled = errors.New("provider: disabled")
)

// Summary はプロバイダー一覧APIで返す公開情報。
type Summary struct {
	Name         string `json:"name"`
	DisplayName  string `json:"display_name"`
	WellKnownURL string `json:"well_known_url"`
}

// Registry はプロバイダー名からAdapterを生成する。
// Adapterはプロセスの寿命の間キャッシュされ、ディスカバリ文書のキャッシュを共有する。
type Registry struct {
	configs         map[string]Config
	defaultProvider string
	resolverOpts    []oidc.Option

	mu       sync.Mutex
	adapters map[string]Adapter
}

// NewRegistry はRegistryを生成する。configs は呼び出し後に変更しないこと。
func NewRegistry(configs map[string]Config, defaultProvider string, opts ...oidc.Option) *Registry {
	return &Registry{
		configs:         configs,
		defaultProvider: defaultProvider,
		resolverOpts:    opts,
		adapters:        make(map[string]Adapter),
	}
}

// DefaultProvider は既定のプロバイダー名を返す。
func (r *Registry) DefaultProvider() string {
	return r.defaultProvider
}

// Create は name に対応するAdapterを返す。空文字の場合は既定のプロバイダーを使う。
func (r *Registry) Create(name string) (Adapter, error) {
	if name == "" {
		name = r.defaultProvider
	}

	rules, ok := variants[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, name)
	}
	cfg, ok := r.configs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, name)
	}
	if !cfg.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrDisabled, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.adapters[name]; ok {
		return a, nil
	}
	a := &adapter{
		name:     name,
		audience: cfg.Audience,
		rules:    rules,
		keys:     oidc.NewKeyResolver(cfg.WellKnownURL, r.resolverOpts...),
	}
	r.adapters[name] = a
	return a, nil
}

// ListEnabled は有効なプロバイダーを名前順で返す。未対応の名前の設定は含めない。
func (r *Registry) ListEnabled() []Summary {
	summaries := make([]Summary, 0, len(r.configs))
	for name, cfg := range r.configs {
		if !cfg.Enabled || !IsSupported(name) {
			continue
		}
		displayName := cfg.DisplayName
		if displayName == "" {
			displayName = defaultDisplayName(name)
		}
		summaries = append(summaries, Summary{
			Name:         name,
			DisplayName:  displayName,
			WellKnownURL: cfg.WellKnownURL,
		})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })
	return summaries
}

// defaultDisplayName は表示名が未設定のプロバイダー名を単語ごとに先頭大文字にする（github → Github）。
func defaultDisplayName(name string) string {
	return cases.Title(language.Und).String(name)
}
