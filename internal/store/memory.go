package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps everything in process memory. State is lost on restart.
type MemoryStore struct {
	mu      sync.Mutex
	clients map[string]*Client
	pending map[string]*PendingAuthorization
	codes   map[string]*AuthorizationCode
	grants  map[string]*Grant
	refresh map[string]string // refresh hash -> grant id
	now     func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clients: make(map[string]*Client),
		pending: make(map[string]*PendingAuthorization),
		codes:   make(map[string]*AuthorizationCode),
		grants:  make(map[string]*Grant),
		refresh: make(map[string]string),
		now:     time.Now,
	}
}

func (s *MemoryStore) RegisterClient(_ context.Context, c *Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.ID] = cloneClient(c)
	return nil
}

func (s *MemoryStore) GetClient(_ context.Context, id string) (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneClient(c), nil
}

func (s *MemoryStore) StorePendingAuthorization(_ context.Context, state string, p *PendingAuthorization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[state] = clonePending(p)
	return nil
}

func (s *MemoryStore) TakePendingAuthorization(_ context.Context, state string) (*PendingAuthorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[state]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.pending, state)
	if p.Expired(s.now()) {
		return nil, ErrExpired
	}
	return clonePending(p), nil
}

func (s *MemoryStore) StoreAuthorizationCode(_ context.Context, codeHash string, c *AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[codeHash] = cloneCode(c)
	return nil
}

func (s *MemoryStore) TakeAuthorizationCode(_ context.Context, codeHash string) (*AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[codeHash]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.codes, codeHash)
	if s.now().After(c.ExpiresAt) {
		return nil, ErrExpired
	}
	return cloneCode(c), nil
}

func (s *MemoryStore) SaveGrant(_ context.Context, g *Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.grants[g.ID]; ok && old.RefreshTokenHash != g.RefreshTokenHash {
		delete(s.refresh, old.RefreshTokenHash)
	}
	s.grants[g.ID] = cloneGrant(g)
	if g.RefreshTokenHash != "" {
		s.refresh[g.RefreshTokenHash] = g.ID
	}
	return nil
}

func (s *MemoryStore) GetGrant(_ context.Context, id string) (*Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grantLocked(id)
}

func (s *MemoryStore) GetGrantByRefreshToken(_ context.Context, refreshHash string) (*Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.refresh[refreshHash]
	if !ok {
		return nil, ErrNotFound
	}
	return s.grantLocked(id)
}

func (s *MemoryStore) RotateRefreshToken(_ context.Context, oldHash, newHash string, expiresAt time.Time) (*Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.refresh[oldHash]
	if !ok {
		return nil, ErrNotFound
	}
	if _, err := s.grantLocked(id); err != nil {
		return nil, err
	}
	g := s.grants[id]
	delete(s.refresh, oldHash)
	g.RefreshTokenHash = newHash
	g.RefreshExpiresAt = expiresAt
	g.UpdatedAt = s.now()
	s.refresh[newHash] = id
	return cloneGrant(g), nil
}

func (s *MemoryStore) UpdateUpstream(_ context.Context, id string, tokens UpstreamTokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[id]
	if !ok {
		return ErrNotFound
	}
	g.Upstream = tokens
	g.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) grantLocked(id string) (*Grant, error) {
	g, ok := s.grants[id]
	if !ok {
		return nil, ErrNotFound
	}
	if g.Expired(s.now()) {
		delete(s.grants, id)
		delete(s.refresh, g.RefreshTokenHash)
		return nil, ErrExpired
	}
	return cloneGrant(g), nil
}

func (s *MemoryStore) DeleteGrant(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.grants[id]; ok {
		delete(s.refresh, g.RefreshTokenHash)
		delete(s.grants, id)
	}
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
func (s *MemoryStore) Close() error               { return nil }
