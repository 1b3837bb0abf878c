// Package ratelimit - почасовой лимит запросов на пользователя.
// Окно фиксированное: счётчик живёт в корзине текущего часа (UTC)
// и обнуляется на границе часа.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Bucket - ключ корзины, как у networked-хранилищ: rate:<user>:<YYYYMMDDHH>.
func Bucket(userID string, now time.Time) string {
	return fmt.Sprintf("rate:%s:%s", userID, now.UTC().Format("2006010215"))
}

// Remaining: сколько запросов ещё можно сделать при текущем счётчике.
func Remaining(count, limit int) (allowed bool, remaining int) {
	return count < limit, max(0, limit-count)
}

// UntilReset - время до следующей границы часа.
func UntilReset(now time.Time) time.Duration {
	return now.UTC().Truncate(time.Hour).Add(time.Hour).Sub(now.UTC())
}

type entry struct {
	count     int
	expiresAt time.Time
}

// MemoryLimiter - лимитер в памяти процесса.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]entry
	now     func() time.Time
}

func NewMemory() *MemoryLimiter {
	return &MemoryLimiter{buckets: map[string]entry{}, now: time.Now}
}

// CheckAndPeek только читает счётчик.
func (l *MemoryLimiter) CheckAndPeek(_ context.Context, userID string, limit int) (bool, int, error) {
	now := l.now()
	l.mu.Lock()
	e, ok := l.buckets[Bucket(userID, now)]
	l.mu.Unlock()

	count := 0
	if ok && now.Before(e.expiresAt) {
		count = e.count
	}
	allowed, remaining := Remaining(count, limit)
	return allowed, remaining, nil
}

// Increment увеличивает счётчик текущего часа. Корзина создаётся с TTL в час.
func (l *MemoryLimiter) Increment(_ context.Context, userID string) (int, error) {
	now := l.now()
	key := Bucket(userID, now)

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.buckets[key]
	if !ok || !now.Before(e.expiresAt) {
		e = entry{expiresAt: now.Add(time.Hour)}
		l.gcLocked(now)
	}
	e.count++
	l.buckets[key] = e
	return e.count, nil
}

// gcLocked выкидывает протухшие корзины; вызывается при создании новой.
func (l *MemoryLimiter) gcLocked(now time.Time) {
	for k, e := range l.buckets {
		if !now.Before(e.expiresAt) {
			delete(l.buckets, k)
		}
	}
}
