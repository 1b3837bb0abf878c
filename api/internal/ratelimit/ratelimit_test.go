package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestLimiter(start time.Time) (*MemoryLimiter, *clock) {
	c := &clock{t: start}
	l := NewMemory()
	l.now = c.now
	return l, c
}

func TestBucketKey(t *testing.T) {
	ts := time.Date(2025, 3, 7, 9, 59, 59, 0, time.UTC)
	assert.Equal(t, "rate:U1:2025030709", Bucket("U1", ts))

	bkk := time.FixedZone("ICT", 7*3600)
	assert.Equal(t, "rate:U1:2025030709", Bucket("U1", ts.In(bkk)))
}

func TestPeekDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(time.Date(2025, 3, 7, 9, 0, 0, 0, time.UTC))

	for i := 0; i < 5; i++ {
		allowed, remaining, err := l.CheckAndPeek(ctx, "u", 3)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, 3, remaining)
	}
}

func TestLimitBoundaryAndHourReset(t *testing.T) {
	ctx := context.Background()
	l, c := newTestLimiter(time.Date(2025, 3, 7, 9, 10, 0, 0, time.UTC))
	const limit = 30

	for i := 1; i <= limit; i++ {
		n, err := l.Increment(ctx, "u")
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}
	allowed, remaining, err := l.CheckAndPeek(ctx, "u", limit)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 0, remaining)

	// другой пользователь не затронут
	allowed, remaining, _ = l.CheckAndPeek(ctx, "other", limit)
	assert.True(t, allowed)
	assert.Equal(t, limit, remaining)

	c.t = time.Date(2025, 3, 7, 10, 0, 0, 0, time.UTC)
	allowed, remaining, err = l.CheckAndPeek(ctx, "u", limit)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, limit, remaining)

	n, _ := l.Increment(ctx, "u")
	assert.Equal(t, 1, n)
}

func TestRemainingNeverNegative(t *testing.T) {
	allowed, remaining := Remaining(35, 30)
	assert.False(t, allowed)
	assert.Equal(t, 0, remaining)
}

func TestUntilReset(t *testing.T) {
	now := time.Date(2025, 3, 7, 9, 45, 30, 0, time.UTC)
	assert.Equal(t, 14*time.Minute+30*time.Second, UntilReset(now))
}

func TestOldBucketsAreCollected(t *testing.T) {
	ctx := context.Background()
	l, c := newTestLimiter(time.Date(2025, 3, 7, 9, 0, 0, 0, time.UTC))
	_, _ = l.Increment(ctx, "a")
	_, _ = l.Increment(ctx, "b")

	c.t = c.t.Add(2 * time.Hour)
	_, _ = l.Increment(ctx, "a")
	assert.Len(t, l.buckets, 1)
}
