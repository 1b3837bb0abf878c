// Package httpserver - HTTP-обвязка бота: health, метрики и вебхук Telegram.
package httpserver

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"plantdoc-bot/api/internal/logging"
)

type Options struct {
	Debug bool
	// WebhookPath пустой в режиме polling: маршрут не регистрируется.
	WebhookPath string
	OnUpdate    func(tgbotapi.Update)
	// Health проверяет хранилище; nil - всегда ok.
	Health   func(ctx context.Context) error
	Gatherer prometheus.Gatherer
	// Diagnose регистрируется на POST /v1/diagnose, только если задан APIKey.
	Diagnose gin.HandlerFunc
	APIKey   string
	Log      log.Interface
}

func NewEngine(o Options) *gin.Engine {
	if o.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if o.Gatherer == nil {
		o.Gatherer = prometheus.DefaultGatherer
	}
	l := logging.OrDefault(o.Log)

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "plant disease diagnosis bot")
	})

	r.GET("/healthz", func(c *gin.Context) {
		if o.Health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := o.Health(ctx); err != nil {
				c.String(http.StatusServiceUnavailable, "db: not ok\n"+err.Error())
				return
			}
		}
		c.String(http.StatusOK, "ok")
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(o.Gatherer, promhttp.HandlerOpts{})))

	if o.Diagnose != nil && o.APIKey != "" {
		r.POST("/v1/diagnose", apiKeyAuth(o.APIKey), o.Diagnose)
	}

	if o.WebhookPath != "" && o.OnUpdate != nil {
		r.POST(o.WebhookPath, func(c *gin.Context) {
			var upd tgbotapi.Update
			if err := c.ShouldBindJSON(&upd); err != nil {
				l.WithError(err).Warn("bad webhook payload")
				c.Status(http.StatusBadRequest)
				return
			}
			// отвечаем сразу, обработка асинхронная
			o.OnUpdate(upd)
			c.Status(http.StatusOK)
		})
	}
	return r
}

func apiKeyAuth(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// Serve слушает addr до отмены ctx, потом мягко останавливается.
func Serve(ctx context.Context, addr string, h http.Handler, l log.Interface) error {
	l = logging.OrDefault(l)
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		l.WithField("addr", addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	l.Info("http server stopped")
	return nil
}
