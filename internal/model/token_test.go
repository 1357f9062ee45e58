package model

import (
	"testing"
	"time"
)

func TestEmailVerificationToken_ValidityWindow(t *testing.T) {
	created := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	token := NewEmailVerificationToken("tok", "user-1", created)

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"at creation", created, true},
		{"T+23h59m", created.Add(23*time.Hour + 59*time.Minute), true},
		{"T+24h exactly", created.Add(24 * time.Hour), false},
		{"T+24h01m", created.Add(24*time.Hour + time.Minute), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := token.IsValid(tt.at); got != tt.want {
				t.Errorf("IsValid(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}

	token.Used = true
	if token.IsValid(created) {
		t.Error("used token must be invalid")
	}
}

func TestRefreshToken_IsExpiredAtBoundary(t *testing.T) {
	expires := time.Date(2026, 2, 8, 8, 0, 0, 0, time.UTC)
	token := &RefreshToken{ExpiresAt: expires}

	if token.IsExpired(expires.Add(-time.Nanosecond)) {
		t.Error("token should be active just before expiry")
	}
	if !token.IsExpired(expires) {
		t.Error("token should be expired at expiry")
	}
	if !token.IsActive(expires.Add(-time.Second)) {
		t.Error("token should be active")
	}
	token.Revoked = true
	if token.IsActive(expires.Add(-time.Second)) {
		t.Error("revoked token must not be active")
	}
}

func TestUser_FullName(t *testing.T) {
	tests := []struct {
		user User
		want string
	}{
		{User{Name: "Ana", FamilyName: "García", LastName: "López"}, "Ana García López"},
		{User{Name: "Ana"}, "Ana"},
		{User{LastName: "López"}, "López"},
		{User{}, ""},
	}
	for _, tt := range tests {
		if got := tt.user.FullName(); got != tt.want {
			t.Errorf("FullName() = %q, want %q", got, tt.want)
		}
	}
}
