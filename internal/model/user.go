// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// User はローカルユーザーを表す。
// メールアドレスがローカル登録と外部IdPログインを横断する唯一の自然キーとなる。
type User struct {
	ID            string
	Email         string
	Name          string
	LastName      string
	FamilyName    string
	PasswordHash  string
	IsActive      bool
	IsStaff       bool
	IsSuperuser   bool
	EmailVerified bool
	// IPAddresses はIPアドレスから最終記録時刻へのマップ。
	IPAddresses map[string]time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FullName は name, family_name, last_name の順に空でない要素を連結する。
func (u *User) FullName() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{u.Name, u.FamilyName, u.LastName} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// HasPassword はローカル認証用のパスワードが設定されているかを返す。
// 外部IdPログインのみで作成されたユーザーはパスワードを持たない。
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// Identity は外部IdPのクレームから抽出した正規化済みのユーザー情報。
type Identity struct {
	Email     string
	Name      string
	FirstName string
	LastName  string
	Picture   string
}
