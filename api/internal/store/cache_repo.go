package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"plantdoc-bot/api/internal/diagnosis"
)

// CacheRepo - кэш результатов диагноза в Postgres.
type CacheRepo struct {
	DB  *sql.DB
	now func() time.Time
}

func NewCacheRepo(db *sql.DB) *CacheRepo { return &CacheRepo{DB: db, now: time.Now} }

func (r *CacheRepo) Get(ctx context.Context, fp diagnosis.Fingerprint) (*diagnosis.Result, bool, error) {
	var raw []byte
	err := r.DB.QueryRowContext(ctx, `
		select result_json
		from diagnosis_cache
		where fingerprint = $1 and expires_at > $2
	`, string(fp), r.now()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var res diagnosis.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		// битая запись: считаем промахом, Put её перезапишет
		return nil, false, nil
	}
	return &res, true, nil
}

func (r *CacheRepo) Put(ctx context.Context, fp diagnosis.Fingerprint, res diagnosis.Result, ttl time.Duration) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `
		insert into diagnosis_cache (fingerprint, result_json, created_at, expires_at)
		values ($1, $2, now(), $3)
		on conflict (fingerprint) do update set
			result_json = excluded.result_json,
			created_at  = now(),
			expires_at  = excluded.expires_at
	`, string(fp), raw, r.now().Add(ttl))
	return err
}

// PurgeExpired удаляет протухшие записи.
func (r *CacheRepo) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `delete from diagnosis_cache where expires_at <= $1`, r.now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
