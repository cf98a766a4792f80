package memory

import (
	"context"
	"sync"

	"ergo-live/internal/domain"
	"ergo-live/internal/storage"
)

// TokenStore is an in-memory implementation of storage.TokenStore.
type TokenStore struct {
	mu   sync.RWMutex
	byID map[string]*domain.Token
}

// NewTokenStore creates a new in-memory token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		byID: make(map[string]*domain.Token),
	}
}

// InsertBulk adds tokens. Tokens whose id already exists are skipped.
func (s *TokenStore) InsertBulk(_ context.Context, tokens []*domain.Token) error {
	for _, t := range tokens {
		if t == nil || t.ID == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range tokens {
		if _, exists := s.byID[t.ID]; exists {
			continue
		}
		tokenCopy := *t
		s.byID[t.ID] = &tokenCopy
	}
	return nil
}

// GetByID retrieves a token by id. Returns ErrNotFound if not exists.
func (s *TokenStore) GetByID(_ context.Context, id string) (*domain.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.byID[id]
	if !exists {
		return nil, storage.ErrNotFound
	}

	tokenCopy := *t
	return &tokenCopy, nil
}

// GetByIDs retrieves all known tokens among ids, in the order requested.
func (s *TokenStore) GetByIDs(_ context.Context, ids []string) ([]*domain.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Token, 0, len(ids))
	for _, id := range ids {
		t, exists := s.byID[id]
		if !exists {
			continue
		}
		tokenCopy := *t
		result = append(result, &tokenCopy)
	}
	return result, nil
}

var _ storage.TokenStore = (*TokenStore)(nil)
