// Package provider は外部IDプロバイダーごとのクレーム抽出戦略と設定を管理する。
package provider

import (
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/oidc"
)

// Config はプロバイダー1件分の設定。
type Config struct {
	WellKnownURL string `json:"well_known_url"`
	Audience     string `json:"audience"`
	DisplayName  string `json:"display_name"`
	Enabled      bool   `json:"enabled"`
}

// Adapter はプロバイダー固有のメタデータとクレーム抽出を提供する。
type Adapter interface {
	// Name はプロバイダー名（google, microsoft など）を返す。
	Name() string
	// Audience はトークン検証で要求する aud を返す。
	Audience() string
	// Keys は署名鍵とuserinfoの解決に使うKeyResolverを返す。
	Keys() *oidc.KeyResolver
	// ExtractIdentity はクレームから正規化前の識別情報を取り出す。
	ExtractIdentity(claims oidc.Claims) model.Identity
}

// claimRules はプロバイダーごとのクレーム優先順位。先頭から最初に空でない値を採用する。
type claimRules struct {
	email   []string
	name    []string
	picture []string
}

// variants は対応するプロバイダー名とクレーム優先順位の対応。
var variants = map[string]claimRules{
	"google": {
		email:   []string{"email"},
		name:    []string{"name", "given_name"},
		picture: []string{"picture"},
	},
	"microsoft": {
		email:   []string{"email", "upn", "preferred_username"},
		name:    []string{"name", "given_name"},
		picture: []string{"picture"},
	},
	"github": {
		email:   []string{"email"},
		name:    []string{"name"},
		picture: []string{"avatar_url"},
	},
	"legacy": {
		email: []string{"email", "upn", "preferred_username"},
		name:  []string{"name", "given_name"},
	},
}

// IsSupported は name が既知のプロバイダーかを返す。
func IsSupported(name string) bool {
	_, ok := variants[name]
	return ok
}

// adapter は variants の規則でクレームを抽出する Adapter 実装。
type adapter struct {
	name     string
	audience string
	rules    claimRules
	keys     *oidc.KeyResolver
}

func (a *adapter) Name() string            { return a.name }
func (a *adapter) Audience() string        { return a.audience }
func (a *adapter) Keys() *oidc.KeyResolver { return a.keys }

func (a *adapter) ExtractIdentity(claims oidc.Claims) model.Identity {
	return model.Identity{
		Email:     firstClaim(claims, a.rules.email),
		Name:      firstClaim(claims, a.rules.name),
		FirstName: claims.String("given_name"),
		LastName:  claims.String("family_name"),
		Picture:   firstClaim(claims, a.rules.picture),
	}
}

func firstClaim(claims oidc.Claims, names []string) string {
	for _, name := range names {
		if v := claims.String(name); v != "" {
			return v
		}
	}
	return ""
}
