package ratelimit

import (
	"context"
	"sync"
	"time"
)

type record struct {
	count   int
	resetAt time.Time
}

// MemoryStore keeps counters in process memory. Counters are not shared
// between instances, so a horizontally scaled deployment must use RedisStore.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*record
	now     func() time.Time
}

type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{records: make(map[string]*record), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Hit(_ context.Context, key string, max int, window time.Duration) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, ok := s.records[key]
	if ok && !now.Before(rec.resetAt) {
		delete(s.records, key)
		ok = false
	}
	if !ok {
		rec = &record{count: 1, resetAt: now.Add(window)}
		s.records[key] = rec
		return Decision{Count: 1, ResetAt: rec.resetAt}, nil
	}
	if rec.count >= max {
		return Decision{Exceeded: true, Count: rec.count, ResetAt: rec.resetAt}, nil
	}
	rec.count++
	return Decision{Count: rec.count, ResetAt: rec.resetAt}, nil
}

// CheckRateLimit counts a request from ip and reports whether it must be
// rejected.
func (s *MemoryStore) CheckRateLimit(ip string, max int, window time.Duration) bool {
	d, _ := s.Hit(context.Background(), ip, max, window)
	return d.Exceeded
}

// Prune drops expired windows. Hit already ignores them; this only bounds
// memory for clients that never come back.
func (s *MemoryStore) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, rec := range s.records {
		if !now.Before(rec.resetAt) {
			delete(s.records, key)
			removed++
		}
	}
	return removed
}

// RunJanitor calls Prune every interval until ctx is done.
func (s *MemoryStore) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Prune()
		}
	}
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
