package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"plantdoc-bot/api/internal/ratelimit"
)

// RateRepo - почасовые счётчики в Postgres. Ключи корзин те же, что у ratelimit.
type RateRepo struct {
	DB  *sql.DB
	now func() time.Time
}

func NewRateRepo(db *sql.DB) *RateRepo { return &RateRepo{DB: db, now: time.Now} }

func (r *RateRepo) CheckAndPeek(ctx context.Context, userID string, limit int) (bool, int, error) {
	now := r.now()
	var count int
	err := r.DB.QueryRowContext(ctx, `
		select count from rate_limits
		where bucket = $1 and expires_at > $2
	`, ratelimit.Bucket(userID, now), now).Scan(&count)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, 0, err
	}
	allowed, remaining := ratelimit.Remaining(count, limit)
	return allowed, remaining, nil
}

// Increment атомарно увеличивает счётчик. Протухшая корзина начинается заново.
func (r *RateRepo) Increment(ctx context.Context, userID string) (int, error) {
	now := r.now()
	var count int
	err := r.DB.QueryRowContext(ctx, `
		insert into rate_limits (bucket, count, expires_at)
		values ($1, 1, $3)
		on conflict (bucket) do update set
			count = case when rate_limits.expires_at > $2 then rate_limits.count + 1 else 1 end,
			expires_at = case when rate_limits.expires_at > $2 then rate_limits.expires_at else excluded.expires_at end
		returning count
	`, ratelimit.Bucket(userID, now), now, now.Add(time.Hour)).Scan(&count)
	return count, err
}

func (r *RateRepo) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `delete from rate_limits where expires_at <= $1`, r.now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
