package session

import (
	"context"
	"sync"
	"time"

	"github.com/apex/log"

	"plantdoc-bot/api/internal/logging"
)

const sweepEvery = time.Minute

type memEntry struct {
	s         Session
	expiresAt time.Time
}

// MemoryStore - сессии в памяти процесса. Протухшие записи не отдаются
// при чтении и вычищаются периодически в Run.
type MemoryStore struct {
	mu  sync.Mutex
	m   map[string]memEntry
	ttl time.Duration
	now func() time.Time

	Log log.Interface
}

func NewMemory(defaultTTL time.Duration) *MemoryStore {
	return &MemoryStore{m: map[string]memEntry{}, ttl: defaultTTL, now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, userID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[userID]
	if !ok || !s.now().Before(e.expiresAt) {
		return Empty(userID), nil
	}
	return e.s, nil
}

func (s *MemoryStore) Set(_ context.Context, sess Session, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	s.mu.Lock()
	s.m[sess.UserID] = memEntry{s: sess, expiresAt: now.Add(ttl)}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, userID string) error {
	s.mu.Lock()
	delete(s.m, userID)
	s.mu.Unlock()
	return nil
}

// Sweep удаляет протухшие записи и возвращает их число.
func (s *MemoryStore) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.m {
		if !now.Before(e.expiresAt) {
			delete(s.m, k)
			n++
		}
	}
	return n
}

// Run чистит хранилище раз в минуту до отмены ctx.
func (s *MemoryStore) Run(ctx context.Context) error {
	t := time.NewTicker(sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := s.Sweep(); n > 0 {
				logging.OrDefault(s.Log).WithField("removed", n).Debug("session sweep")
			}
		}
	}
}
