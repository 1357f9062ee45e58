package session

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/repository"
)

// memStore はリポジトリ3種をメモリ上で実装する。
// Rotate はミューテックスで直列化し、PostgreSQLの行ロックと同じ結果を返す。
type memStore struct {
	mu      sync.Mutex
	users   map[string]*model.User // email → user
	access  map[string]*model.AccessToken
	refresh map[string]*model.RefreshToken
}

func newMemStore() *memStore {
	return &memStore{
		users:   make(map[string]*model.User),
		access:  make(map[string]*model.AccessToken),
		refresh: make(map[string]*model.RefreshToken),
	}
}

var (
	_ repository.UserRepository         = (*memStore)(nil)
	_ repository.AccessTokenRepository  = (*memAccess)(nil)
	_ repository.RefreshTokenRepository = (*memRefresh)(nil)
)

func (s *memStore) FindByID(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

func (s *memStore) FindByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[email], nil
}

func (s *memStore) Create(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.Email]; ok {
		return repository.ErrEmailTaken
	}
	s.users[user.Email] = user
	return nil
}

func (s *memStore) GetOrCreateByEmail(_ context.Context, defaults *model.User) (*model.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[defaults.Email]; ok {
		return u, false, nil
	}
	s.users[defaults.Email] = defaults
	return defaults, true, nil
}

func (s *memStore) AddIPAddress(_ context.Context, userID, ip string, seenAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == userID {
			if _, ok := u.IPAddresses[ip]; !ok {
				u.IPAddresses[ip] = seenAt
			}
		}
	}
	return nil
}

func (s *memStore) RemoveIPAddress(_ context.Context, userID, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == userID {
			delete(u.IPAddresses, ip)
		}
	}
	return nil
}

// memAccess はアクセストークンリポジトリ。user_id ごとに1件。
type memAccess struct{ *memStore }

func (a memAccess) FindByKey(_ context.Context, key string) (*model.AccessToken, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, t := range a.access {
		if t.Key == key {
			return t, nil
		}
	}
	return nil, nil
}

func (a memAccess) GetOrCreate(_ context.Context, token *model.AccessToken) (*model.AccessToken, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if existing, ok := a.access[token.UserID]; ok {
		return existing, nil
	}
	a.access[token.UserID] = token
	return token, nil
}

func (a memAccess) Replace(_ context.Context, token *model.AccessToken) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.access[token.UserID] = token
	return nil
}

func (a memAccess) DeleteByUserID(_ context.Context, userID string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.access[userID]
	delete(a.access, userID)
	return ok, nil
}

// memRefresh はリフレッシュトークンリポジトリ。
type memRefresh struct{ *memStore }

func (r memRefresh) Create(_ context.Context, token *model.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *token
	r.refresh[token.Key] = &copied
	return nil
}

func (r memRefresh) Rotate(_ context.Context, oldKey string, next *model.RefreshToken, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.refresh[oldKey]
	if !ok || old.Revoked {
		return repository.ErrRefreshTokenNotFound
	}
	if old.IsExpired(now) {
		return repository.ErrRefreshTokenExpired
	}

	old.Revoked = true
	revokedAt := now
	old.RevokedAt = &revokedAt

	next.UserID = old.UserID
	next.PreviousKey = oldKey
	copied := *next
	r.refresh[next.Key] = &copied
	return nil
}

type stubSanitizer struct{}

func (stubSanitizer) Sanitize(raw string) string { return raw }

// fakeClock はテストから進められる時計。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
