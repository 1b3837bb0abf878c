package store

import (
	"context"
	"time"

	"github.com/apex/log"

	"plantdoc-bot/api/internal/logging"
)

type purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Janitor периодически чистит протухшие строки кэша, лимитов и сессий.
type Janitor struct {
	Tables   map[string]purger
	Interval time.Duration
	Log      log.Interface
}

func NewJanitor(cache *CacheRepo, rates *RateRepo, sessions *SessionRepo, interval time.Duration) *Janitor {
	return &Janitor{
		Tables: map[string]purger{
			"diagnosis_cache": cache,
			"rate_limits":     rates,
			"user_sessions":   sessions,
		},
		Interval: interval,
	}
}

// Sweep - один проход. Ошибка одной таблицы не мешает остальным.
func (j *Janitor) Sweep(ctx context.Context) {
	l := logging.OrDefault(j.Log)
	for name, p := range j.Tables {
		n, err := p.PurgeExpired(ctx)
		if err != nil {
			l.WithError(err).WithField("table", name).Warn("purge failed")
			continue
		}
		if n > 0 {
			l.WithField("table", name).WithField("rows", n).Debug("purged expired rows")
		}
	}
}

// Run блокируется до отмены ctx.
func (j *Janitor) Run(ctx context.Context) error {
	iv := j.Interval
	if iv <= 0 {
		iv = 10 * time.Minute
	}
	t := time.NewTicker(iv)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			j.Sweep(ctx)
		}
	}
}
