// Package replay remembers payment tokens whose fulfillment already reached a
// terminal state, so a refreshed callback page is answered from the marker
// instead of re-dispatching the pipeline. The backend's idempotency remains
// authoritative; this store is a fast path, not a source of truth.
package replay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Marker records the terminal outcome of a processed token.
type Marker struct {
	SessionID      string    `json:"session_id"`
	Status         string    `json:"status"`
	ConsultationID string    `json:"consultation_id,omitempty"`
	DownloadURL    string    `json:"download_url,omitempty"`
	MarkedAt       time.Time `json:"marked_at"`
}

// Store persists replay markers keyed by payment token.
type Store interface {
	// Lookup returns the marker for token, or nil when the token is unseen.
	Lookup(ctx context.Context, token string) (*Marker, error)
	// Mark records the terminal outcome for token.
	Mark(ctx context.Context, token string, m Marker) error
	// Close releases store resources.
	Close() error
}

// hashToken derives the storage key. The raw token never reaches the store
// backend or its logs.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

type memoryEntry struct {
	marker    Marker
	expiresAt time.Time
}

// MemoryStore is an in-memory Store with TTL expiry, suitable for a single
// instance or tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	done    chan struct{}
	once    sync.Once
}

// NewMemoryStore creates an in-memory store. Entries expire after ttl; a
// background sweep reclaims them.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	go s.sweep()
	return s
}

func (s *MemoryStore) sweep() {
	interval := s.ttl
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for k, e := range s.entries {
				if now.After(e.expiresAt) {
					delete(s.entries, k)
				}
			}
			s.mu.Unlock()
		}
	}
}

// Lookup implements Store.
func (s *MemoryStore) Lookup(_ context.Context, token string) (*Marker, error) {
	key := hashToken(token)

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || time.Now().After(e.expiresAt) {
		return nil, nil
	}
	m := e.marker
	return &m, nil
}

// Mark implements Store.
func (s *MemoryStore) Mark(_ context.Context, token string, m Marker) error {
	key := hashToken(token)

	s.mu.Lock()
	s.entries[key] = memoryEntry{
		marker:    m,
		expiresAt: time.Now().Add(s.ttl),
	}
	s.mu.Unlock()
	return nil
}

// Close stops the background sweep.
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
