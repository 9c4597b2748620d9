package cache

import (
	"context"
	"sync"
	"time"
)

// TokenBlacklist records revoked access tokens by their ID until the token
// would have expired anyway.
type TokenBlacklist interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

type MemoryTokenBlacklist struct {
	mu      sync.Mutex
	now     func() time.Time
	revoked map[string]time.Time
}

func NewMemoryTokenBlacklist() *MemoryTokenBlacklist {
	return &MemoryTokenBlacklist{
		now:     time.Now,
		revoked: make(map[string]time.Time),
	}
}

func (b *MemoryTokenBlacklist) Revoke(_ context.Context, tokenID string, ttl time.Duration) error {
	if tokenID == "" || ttl <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	for id, expiresAt := range b.revoked {
		if !now.Before(expiresAt) {
			delete(b.revoked, id)
		}
	}
	b.revoked[tokenID] = now.Add(ttl)
	return nil
}

func (b *MemoryTokenBlacklist) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	expiresAt, ok := b.revoked[tokenID]
	if !ok {
		return false, nil
	}
	if !b.now().Before(expiresAt) {
		delete(b.revoked, tokenID)
		return false, nil
	}
	return true, nil
}
