package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"plantdoc-bot/api/internal/session"
)

// SessionRepo хранит сессию целиком одним JSON.
type SessionRepo struct {
	DB         *sql.DB
	DefaultTTL time.Duration
	now        func() time.Time
}

func NewSessionRepo(db *sql.DB, defaultTTL time.Duration) *SessionRepo {
	return &SessionRepo{DB: db, DefaultTTL: defaultTTL, now: time.Now}
}

func (r *SessionRepo) Get(ctx context.Context, userID string) (session.Session, error) {
	var raw []byte
	err := r.DB.QueryRowContext(ctx, `
		select payload from user_sessions
		where user_id = $1 and expires_at > $2
	`, userID, r.now()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Empty(userID), nil
	}
	if err != nil {
		return session.Session{}, err
	}
	var s session.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return session.Empty(userID), nil
	}
	s.UserID = userID
	return s, nil
}

func (r *SessionRepo) Set(ctx context.Context, s session.Session, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.DefaultTTL
	}
	now := r.now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `
		insert into user_sessions (user_id, payload, updated_at, expires_at)
		values ($1, $2, $3, $4)
		on conflict (user_id) do update set
			payload    = excluded.payload,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at
	`, s.UserID, raw, now, now.Add(ttl))
	return err
}

func (r *SessionRepo) Clear(ctx context.Context, userID string) error {
	_, err := r.DB.ExecContext(ctx, `delete from user_sessions where user_id = $1`, userID)
	return err
}

func (r *SessionRepo) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `delete from user_sessions where expires_at <= $1`, r.now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
