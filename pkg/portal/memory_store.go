package portal

import (
	"context"
	"strings"
	"sync"
	"time"
)

type grantKey struct {
	accountID string
	tokenID   string
}

// MemoryStore is an in-process Store for development and tests
type MemoryStore struct {
	mu       sync.RWMutex
	tokens   map[string]Token
	byHash   map[string]string
	accounts map[string]Account
	emails   map[string]string
	grants   map[grantKey]Grant

	// FailRecordAccess makes RecordAccess fail, for exercising best-effort paths
	FailRecordAccess error
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tokens:   make(map[string]Token),
		byHash:   make(map[string]string),
		accounts: make(map[string]Account),
		emails:   make(map[string]string),
		grants:   make(map[grantKey]Grant),
	}
}

// CreateToken inserts a new token
func (s *MemoryStore) CreateToken(_ context.Context, t *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[t.ID]; ok {
		return ErrConflict
	}
	if _, ok := s.byHash[t.TokenHash]; ok {
		return ErrConflict
	}
	s.tokens[t.ID] = *t
	s.byHash[t.TokenHash] = t.ID
	return nil
}

// TokenByHash loads a token by the hash of its raw value
func (s *MemoryStore) TokenByHash(_ context.Context, hash string) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[hash]
	if !ok {
		return nil, ErrNotFound
	}
	t := s.tokens[id]
	return &t, nil
}

// TokenByID loads a token by id
func (s *MemoryStore) TokenByID(_ context.Context, id string) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

// RevokeToken sets revoked_at if it is not already set
func (s *MemoryStore) RevokeToken(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return ErrNotFound
	}
	if t.RevokedAt == nil {
		t.RevokedAt = &at
		s.tokens[id] = t
	}
	return nil
}

// RecordAccess bumps the access counter
func (s *MemoryStore) RecordAccess(_ context.Context, id string, at time.Time) error {
	if s.FailRecordAccess != nil {
		return s.FailRecordAccess
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return ErrNotFound
	}
	t.AccessCount++
	t.LastAccessedAt = &at
	s.tokens[id] = t
	return nil
}

// CreateAccount inserts a new external account
func (s *MemoryStore) CreateAccount(_ context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(a.Email)
	if _, ok := s.emails[email]; ok {
		return ErrConflict
	}
	if _, ok := s.accounts[a.ID]; ok {
		return ErrConflict
	}
	s.accounts[a.ID] = *a
	s.emails[email] = a.ID
	return nil
}

// AccountByID loads an external account
func (s *MemoryStore) AccountByID(_ context.Context, id string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

// VerifyAccount sets email_verified_at if it is not already set
func (s *MemoryStore) VerifyAccount(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	if a.EmailVerifiedAt == nil {
		a.EmailVerifiedAt = &at
		s.accounts[id] = a
	}
	return nil
}

// GetGrant loads the grant for an account and token
func (s *MemoryStore) GetGrant(_ context.Context, accountID, tokenID string) (*Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grants[grantKey{accountID, tokenID}]
	if !ok {
		return nil, ErrNotFound
	}
	return &g, nil
}

// CreateGrant inserts a grant, failing with ErrConflict if one exists
func (s *MemoryStore) CreateGrant(_ context.Context, g *Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := grantKey{g.AccountID, g.TokenID}
	if _, ok := s.grants[key]; ok {
		return ErrConflict
	}
	s.grants[key] = *g
	return nil
}

// UpdateGrantStatus changes a grant's status
func (s *MemoryStore) UpdateGrantStatus(_ context.Context, accountID, tokenID string, status GrantStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := grantKey{accountID, tokenID}
	g, ok := s.grants[key]
	if !ok {
		return ErrNotFound
	}
	g.Status = status
	g.UpdatedAt = at
	s.grants[key] = g
	return nil
}
