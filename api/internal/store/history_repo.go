package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"plantdoc-bot/api/internal/diagnosis"
)

// Record - одна строка истории диагнозов пользователя.
type Record struct {
	ID          int64
	CreatedAt   time.Time
	UserID      string
	Fingerprint diagnosis.Fingerprint
	Category    diagnosis.Category
	Part        diagnosis.Part
	Model       string
	CacheHit    bool
	Result      diagnosis.Result
}

type HistoryRepo struct {
	DB *sql.DB
}

func (r *HistoryRepo) Save(ctx context.Context, rec Record) (int64, error) {
	raw, err := json.Marshal(rec.Result)
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.DB.QueryRowContext(ctx, `
		insert into diagnoses
			(user_id, fingerprint, category, part, model, cache_hit, confidence, final_class, result_json)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning id
	`, rec.UserID, string(rec.Fingerprint), string(rec.Category), string(rec.Part), rec.Model, rec.CacheHit,
		rec.Result.ConfidenceLevel, rec.Result.Summary.FinalClass, raw).Scan(&id)
	return id, err
}

// Recent - последние n диагнозов пользователя, новые первыми.
func (r *HistoryRepo) Recent(ctx context.Context, userID string, n int) ([]Record, error) {
	if n <= 0 {
		n = 5
	}
	rows, err := r.DB.QueryContext(ctx, `
		select id, created_at, fingerprint, category, part, model, cache_hit, result_json
		from diagnoses
		where user_id = $1
		order by created_at desc, id desc
		limit $2
	`, userID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec     Record
			fp, cat string
			part    string
			raw     []byte
		)
		if err := rows.Scan(&rec.ID, &rec.CreatedAt, &fp, &cat, &part, &rec.Model, &rec.CacheHit, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &rec.Result); err != nil {
			continue
		}
		rec.UserID = userID
		rec.Fingerprint = diagnosis.Fingerprint(fp)
		rec.Category = diagnosis.Category(cat)
		rec.Part = diagnosis.Part(part)
		out = append(out, rec)
	}
	return out, rows.Err()
}
