package diagnosis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/cenkalti/backoff/v4"

	"plantdoc-bot/api/internal/intake"
	"plantdoc-bot/api/internal/logging"
	"plantdoc-bot/api/internal/metrics"
	"plantdoc-bot/api/internal/ratelimit"
	"plantdoc-bot/api/internal/vision"
)

// ModelClient - вызов vision-модели (обычно vision.Router).
type ModelClient interface {
	Generate(ctx context.Context, req vision.Request) (string, error)
}

// Limiter - почасовой лимит. Проверка и учёт разделены: проверка ничего не меняет.
type Limiter interface {
	CheckAndPeek(ctx context.Context, userID string, limit int) (bool, int, error)
	Increment(ctx context.Context, userID string) (int, error)
}

type Stage int

const (
	CheckingRateLimit Stage = iota + 1
	CheckingCache
	CacheHit
	CacheMiss
	CallingModel
	Parsing
	Valid
	Invalid
	RetryOrFallback
	Caching
	Done
	Failed
)

var stageNames = map[Stage]string{
	CheckingRateLimit: "checking_rate_limit",
	CheckingCache:     "checking_cache",
	CacheHit:          "cache_hit",
	CacheMiss:         "cache_miss",
	CallingModel:      "calling_model",
	Parsing:           "parsing",
	Valid:             "valid",
	Invalid:           "invalid",
	RetryOrFallback:   "retry_or_fallback",
	Caching:           "caching",
	Done:              "done",
	Failed:            "failed",
}

func (s Stage) String() string { return stageNames[s] }

type Options struct {
	Models          []string // порядок = приоритет
	MaxRetries      int
	RetryDelay      time.Duration
	CallTimeout     time.Duration
	CacheTTL        time.Duration
	RequestsPerHour int
	Language        string
}

type Outcome struct {
	Result      Result
	Fingerprint Fingerprint
	CacheHit    bool
	Model       string // пусто для попадания в кэш
}

type Orchestrator struct {
	models  ModelClient
	cache   Cache
	limiter Limiter
	prompts *PromptBuilder
	opts    Options

	Metrics *metrics.Metrics
	Log     log.Interface
	// Observe, если задан, получает каждую смену стадии.
	Observe func(userID string, s Stage)

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(models ModelClient, cache Cache, limiter Limiter, opts Options) *Orchestrator {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	return &Orchestrator{
		models:  models,
		cache:   cache,
		limiter: limiter,
		prompts: NewPromptBuilder(opts.Language),
		opts:    opts,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (o *Orchestrator) stage(userID string, s Stage) {
	if o.Observe != nil {
		o.Observe(userID, s)
	}
}

// Diagnose - единственная точка входа для слоя мессенджера.
// Наружу выходит либо результат, либо *Error; попытки и ретраи остаются внутри.
func (o *Orchestrator) Diagnose(ctx context.Context, userID string, img intake.NormalizedImage, category Category, aux string) (Outcome, error) {
	start := o.now()
	l := logging.ForUser(o.Log, userID).WithField("category", category)

	o.stage(userID, CheckingRateLimit)
	allowed, _, err := o.limiter.CheckAndPeek(ctx, userID, o.opts.RequestsPerHour)
	if err != nil {
		// лимитер недоступен - не блокируем пользователя
		l.WithError(err).Warn("rate limit check failed")
	} else if !allowed {
		o.stage(userID, Failed)
		o.Metrics.RateLimited()
		o.Metrics.Diagnosis("rate_limited", o.now().Sub(start))
		return Outcome{}, rateLimitError(ratelimit.UntilReset(o.now()))
	}

	fp := NewFingerprint(img.Payload, category, aux)
	l = l.WithField("fp", fp.Short())

	o.stage(userID, CheckingCache)
	if cached, ok := o.lookup(ctx, l, fp); ok {
		o.stage(userID, CacheHit)
		o.stage(userID, Done)
		o.Metrics.Diagnosis("cache_hit", o.now().Sub(start))
		l.Info("diagnosis served from cache")
		return Outcome{Result: *cached, Fingerprint: fp, CacheHit: true}, nil
	}
	o.stage(userID, CacheMiss)

	p := o.prompts.Build(category, aux)
	req := vision.Request{
		SystemInstruction: p.System,
		Prompt:            p.User,
		Image:             img.Payload,
		MIMEType:          img.MIMEType,
	}
	res, model, dispatched, err := o.runModels(ctx, userID, l, req, category.AllowedClasses())

	// учёт один раз на запрос, если до модели дошли (успех или нет), но не на кэш
	if dispatched {
		if n, ierr := o.limiter.Increment(context.WithoutCancel(ctx), userID); ierr != nil {
			l.WithError(ierr).Warn("rate limit increment failed")
		} else {
			l.WithField("count", n).Debug("rate limit incremented")
		}
	}

	if err != nil {
		o.stage(userID, Failed)
		outcome := "exhausted"
		if ctx.Err() != nil {
			outcome = "canceled"
		}
		o.Metrics.Diagnosis(outcome, o.now().Sub(start))
		l.WithError(err).Error("all models exhausted")
		return Outcome{}, exhaustedError(err)
	}

	o.stage(userID, Caching)
	if perr := o.cache.Put(ctx, fp, res, o.opts.CacheTTL); perr != nil {
		l.WithError(perr).Warn("cache put failed")
	}
	o.stage(userID, Done)
	o.Metrics.Diagnosis("success", o.now().Sub(start))
	l.WithFields(log.Fields{
		"model":      model,
		"class":      res.Summary.FinalClass,
		"confidence": res.ConfidenceLevel,
		"took":       o.now().Sub(start).String(),
	}).Info("diagnosis done")
	return Outcome{Result: res, Fingerprint: fp, Model: model}, nil
}

// lookup: ошибки кэша не валят запрос, считаем их промахом.
func (o *Orchestrator) lookup(ctx context.Context, l *log.Entry, fp Fingerprint) (*Result, bool) {
	r, ok, err := o.cache.Get(ctx, fp)
	switch {
	case err != nil:
		l.WithError(err).Warn("cache get failed")
		o.Metrics.CacheLookup("error")
		return nil, false
	case !ok || r == nil:
		o.Metrics.CacheLookup("miss")
		return nil, false
	}
	o.Metrics.CacheLookup("hit")
	return r, true
}

func (o *Orchestrator) newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.opts.RetryDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = o.opts.RetryDelay << 10
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

var errEmptyResponse = errors.New("empty response")

// runModels перебирает модели по приоритету. На каждой до MaxRetries попыток:
//   - квота/недоступность и ошибка схемы: сразу к следующей модели;
//   - пустой ответ, битый JSON, прочие ошибки: повтор на той же модели с паузой.
func (o *Orchestrator) runModels(ctx context.Context, userID string, l *log.Entry, req vision.Request, allowed []string) (Result, string, bool, error) {
	var lastErr error
	dispatched := false

	for _, model := range o.opts.Models {
		bo := o.newBackoff()
		ml := l.WithField("model", model)

	attempts:
		for attempt := 0; attempt < o.opts.MaxRetries; attempt++ {
			if err := ctx.Err(); err != nil {
				return Result{}, "", dispatched, fmt.Errorf("%w (last: %v)", err, lastErr)
			}

			o.stage(userID, CallingModel)
			dispatched = true
			text, err := o.call(ctx, model, req)

			retry := true
			switch {
			case err != nil:
				lastErr = fmt.Errorf("%s attempt %d: %w", model, attempt+1, err)
				kind := vision.KindOf(err)
				o.Metrics.ModelAttempt(model, kind.String())
				ml.WithError(err).WithField("attempt", attempt+1).Warn("model call failed")
				if kind == vision.QuotaExceeded || kind == vision.ServiceUnavailable {
					retry = false
				}
			case strings.TrimSpace(text) == "":
				lastErr = fmt.Errorf("%s attempt %d: %w", model, attempt+1, errEmptyResponse)
				o.Metrics.ModelAttempt(model, "empty")
				ml.WithField("attempt", attempt+1).Warn("model returned empty response")
			default:
				o.stage(userID, Parsing)
				res, perr := ParseResult(text, allowed)
				if perr == nil {
					o.stage(userID, Valid)
					o.Metrics.ModelAttempt(model, "ok")
					return res, model, dispatched, nil
				}
				o.stage(userID, Invalid)
				lastErr = fmt.Errorf("%s attempt %d: %w", model, attempt+1, perr)
				if errors.Is(perr, ErrSchema) {
					o.Metrics.ModelAttempt(model, "schema_error")
					retry = false
				} else {
					o.Metrics.ModelAttempt(model, "decode_error")
				}
				ml.WithError(perr).WithField("attempt", attempt+1).Warn("model response rejected")
			}

			o.stage(userID, RetryOrFallback)
			if !retry {
				break attempts
			}
			if attempt+1 < o.opts.MaxRetries {
				if err := o.sleep(ctx, bo.NextBackOff()); err != nil {
					return Result{}, "", dispatched, fmt.Errorf("%w (last: %v)", err, lastErr)
				}
			}
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no models configured")
	}
	return Result{}, "", dispatched, lastErr
}

func (o *Orchestrator) call(ctx context.Context, model string, req vision.Request) (string, error) {
	if o.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.CallTimeout)
		defer cancel()
	}
	req.Model = model
	return o.models.Generate(ctx, req)
}
