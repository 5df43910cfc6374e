package store

import (
	"context"
	"sync"
	"time"

	"onetime.share/internal/models"
)

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps records in a mutex-guarded map. Suitable for tests and
// single-process deployments; everything else should use redis or postgres.
type MemoryStore struct {
	secrets       map[string]*models.Secret
	mu            sync.Mutex
	cleanupCancel context.CancelFunc
}

func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	ctx, cancel := context.WithCancel(context.Background())
	store := &MemoryStore{
		secrets:       make(map[string]*models.Secret),
		cleanupCancel: cancel,
	}
	go store.cleanupLoop(ctx, cleanupInterval)
	return store
}

func (s *MemoryStore) Create(ctx context.Context, secret *models.Secret) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.secrets[secret.ID]; exists {
		return ErrConflict
	}
	s.secrets[secret.ID] = secret.Clone()
	return nil
}

func (s *MemoryStore) FetchLive(ctx context.Context, id string) (*models.Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	secret, ok := s.secrets[id]
	if !ok || secret.Expired(time.Now()) {
		return nil, ErrNotFound
	}
	return secret.Clone(), nil
}

func (s *MemoryStore) ConsumeView(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	secret, ok := s.secrets[id]
	if !ok {
		return 0, ErrNotFound
	}

	if secret.Expired(time.Now()) {
		delete(s.secrets, id)
		return 0, ErrNotFound
	}

	if secret.ViewsLeft <= 0 {
		// Exhausted records are deleted on consumption; one lingering here
		// means the sweep has not caught it yet. Treat as gone.
		delete(s.secrets, id)
		return 0, ErrNotFound
	}

	secret.ViewsLeft--
	if secret.ViewsLeft <= 0 {
		delete(s.secrets, id)
	}
	return secret.ViewsLeft, nil
}

func (s *MemoryStore) IncrementAttempts(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	secret, ok := s.secrets[id]
	if !ok || secret.Expired(time.Now()) {
		return 0, ErrNotFound
	}

	secret.PinAttempts++
	return secret.PinAttempts, nil
}

func (s *MemoryStore) Close() error {
	if s.cleanupCancel != nil {
		s.cleanupCancel()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.secrets = nil
	return nil
}

func (s *MemoryStore) cleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, secret := range s.secrets {
		if secret.Expired(now) || secret.ViewsLeft <= 0 {
			delete(s.secrets, id)
		}
	}
}
