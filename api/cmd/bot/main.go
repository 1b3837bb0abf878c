package main

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/apex/log"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"plantdoc-bot/api/internal/bot"
	"plantdoc-bot/api/internal/config"
	"plantdoc-bot/api/internal/diagnosis"
	"plantdoc-bot/api/internal/handle"
	"plantdoc-bot/api/internal/httpserver"
	"plantdoc-bot/api/internal/intake"
	"plantdoc-bot/api/internal/logging"
	"plantdoc-bot/api/internal/metrics"
	"plantdoc-bot/api/internal/ratelimit"
	"plantdoc-bot/api/internal/session"
	"plantdoc-bot/api/internal/store"
	"plantdoc-bot/api/internal/telegram"
	"plantdoc-bot/api/internal/vision"
	"plantdoc-bot/api/internal/vision/gemini"
	"plantdoc-bot/api/internal/vision/openai"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("config")
	}
	logging.Setup(cfg.Environment, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Fatal("bot stopped")
	}
	log.Info("bye")
}

// stores - выбранный бэкенд хранилищ.
type stores struct {
	cache    diagnosis.Cache
	limiter  diagnosis.Limiter
	sessions session.Store
	history  bot.HistoryStore
	health   func(context.Context) error
	// фоновая чистка протухших записей
	sweep func(context.Context) error
	close func() error
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.StoreBackend == config.BackendPostgres {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		log.WithField("dsn", config.SafeDSNSummary(cfg.DatabaseURL)).Info("db connected")

		cache := store.NewCacheRepo(db)
		rates := store.NewRateRepo(db)
		sessions := store.NewSessionRepo(db, cfg.SessionTTL)
		janitor := store.NewJanitor(cache, rates, sessions, 10*time.Minute)
		return &stores{
			cache:    cache,
			limiter:  rates,
			sessions: sessions,
			history:  &store.HistoryRepo{DB: db},
			health:   db.PingContext,
			sweep:    janitor.Run,
			close:    db.Close,
		}, nil
	}

	cache, err := diagnosis.NewMemoryCache(cfg.CacheMaxEntries)
	if err != nil {
		return nil, err
	}
	sessions := session.NewMemory(cfg.SessionTTL)
	return &stores{
		cache:    cache,
		limiter:  ratelimit.NewMemory(),
		sessions: sessions,
		sweep:    sessions.Run,
		close:    func() error { return nil },
	}, nil
}

// newModels собирает роутер провайдеров. Gemini по умолчанию, OpenAI по префиксу "openai:".
func newModels(ctx context.Context, cfg *config.Config) (*vision.Router, func(), error) {
	var (
		clients []vision.Client
		closers []func()
	)
	if cfg.GeminiAPIKey != "" {
		g, err := gemini.New(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, nil, fmt.Errorf("gemini: %w", err)
		}
		clients = append(clients, g)
		closers = append(closers, func() { _ = g.Close() })
	}
	if cfg.OpenAIAPIKey != "" {
		o, err := openai.New(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("openai: %w", err)
		}
		clients = append(clients, o)
	}
	if len(clients) == 0 {
		return nil, nil, errors.New("no vision provider configured")
	}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	return vision.NewRouter(clients[0], clients[1:]...), closeAll, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	models, closeModels, err := newModels(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeModels()

	orch := diagnosis.NewOrchestrator(models, st.cache, st.limiter, diagnosis.Options{
		Models:          cfg.Models,
		MaxRetries:      cfg.APIMaxRetries,
		RetryDelay:      cfg.APIRetryDelay,
		CallTimeout:     cfg.ModelCallTimeout,
		CacheTTL:        cfg.CacheTTL,
		RequestsPerHour: cfg.MaxRequestsPerHour,
		Language:        cfg.ResponseLanguage,
	})
	orch.Metrics = m
	orch.Observe = func(userID string, s diagnosis.Stage) {
		log.WithField("user", userID).WithField("stage", s.String()).Debug("diagnosis stage")
	}

	tg, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	tg.Debug = false
	log.WithField("bot", tg.Self.UserName).Info("telegram authorized")

	norm := intake.New(intake.Options{
		MaxBytes:     cfg.MaxImageSizeBytes(),
		MaxDimension: cfg.ImageMaxDimension,
		Quality:      cfg.ImageQuality,
		Format:       cfg.ImageOutputFormat,
	})
	h := bot.NewHandler(bot.Config{
		SessionTTL:      cfg.SessionTTL,
		DownloadTimeout: cfg.DownloadTimeout,
		RequestsPerHour: cfg.MaxRequestsPerHour,
		DirectDiagnosis: cfg.DirectDiagnosis,
	}, st.sessions, orch, st.limiter, telegram.NewImageSource(tg), norm, telegram.NewSender(tg))
	h.History = st.history
	h.Health = st.health
	h.Metrics = m

	router := telegram.NewRouter(tg, h)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return st.sweep(gctx) })

	api := handle.New(orch, norm)
	api.Metrics = m
	api.History = st.history

	opts := httpserver.Options{
		Debug:    !cfg.IsProduction() && cfg.LogLevel == "debug",
		Health:   st.health,
		Gatherer: reg,
		Diagnose: api.Diagnose,
		APIKey:   cfg.APIKey,
	}
	if webhookURL := strings.TrimSpace(cfg.WebhookURL); webhookURL != "" {
		path := "/webhook/" + shortHash(cfg.TelegramBotToken)
		if err := setWebhook(tg, strings.TrimRight(webhookURL, "/")+path); err != nil {
			return err
		}
		opts.WebhookPath = path
		opts.OnUpdate = func(u tgbotapi.Update) { router.HandleUpdate(gctx, u) }
		log.WithField("path", path).Info("webhook mode")
	} else {
		if _, err := tg.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			log.WithError(err).Warn("delete webhook failed")
		}
		g.Go(func() error {
			runPolling(gctx, tg, func(u tgbotapi.Update) { router.HandleUpdate(gctx, u) })
			return nil
		})
		log.Info("polling mode")
	}

	addr := net.JoinHostPort("0.0.0.0", cfg.Port)
	g.Go(func() error { return httpserver.Serve(gctx, addr, httpserver.NewEngine(opts), nil) })

	err = g.Wait()
	router.Wait()
	return err
}

func setWebhook(tg *tgbotapi.BotAPI, public string) error {
	wh, err := tgbotapi.NewWebhook(public)
	if err != nil {
		return err
	}
	wh.DropPendingUpdates = true
	if _, err := tg.Request(wh); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	return nil
}

// ---------------- Polling loop -----------------

var reRetryAfter = regexp.MustCompile(`(?i)retry after\s+(\d+)`)

func retryDelayFromError(err error) time.Duration {
	if err == nil {
		return 0
	}
	var te *tgbotapi.Error
	if errors.As(err, &te) && te.RetryAfter > 0 {
		return time.Duration(te.RetryAfter) * time.Second
	}
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "too many requests") { // HTTP 429 от Telegram
		if m := reRetryAfter.FindStringSubmatch(s); len(m) == 2 {
			if n, _ := strconv.Atoi(m[1]); n > 0 {
				return time.Duration(n) * time.Second
			}
		}
		return 3 * time.Second
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return 2 * time.Second
	}
	return 1 * time.Second
}

func clampDelay(d time.Duration) time.Duration {
	const (
		baseDelay = 1 * time.Second
		maxDelay  = 15 * time.Second
	)
	return min(max(d, baseDelay), maxDelay)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func runPolling(ctx context.Context, tg *tgbotapi.BotAPI, handle func(tgbotapi.Update)) {
	offset := 0
	for ctx.Err() == nil {
		u := tgbotapi.NewUpdate(offset)
		u.Timeout = 30 // long polling, сек

		updates, err := tg.GetUpdates(u)
		if err != nil {
			d := clampDelay(retryDelayFromError(err))
			log.WithError(err).WithField("retry_in", d.String()).Warn("polling error")
			sleep(ctx, d)
			continue
		}

		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			handle(upd)
		}
		if len(updates) == 0 {
			sleep(ctx, 200*time.Millisecond)
		}
	}
	log.Info("polling stopped")
}

// shortHash - стабильный секретный сегмент пути вебхука из токена.
func shortHash(s string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return fmt.Sprintf("%016x", h.Sum64())
}
