package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	healthy := true
	e := NewEngine(Options{Health: func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("conn refused")
	}})

	w := do(t, e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())

	healthy = false
	w = do(t, e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "conn refused")
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "plantdoc_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	w := do(t, NewEngine(Options{Gatherer: reg}), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "plantdoc_test_total 1")
}

func TestWebhook(t *testing.T) {
	var got []tgbotapi.Update
	e := NewEngine(Options{
		WebhookPath: "/webhook/abc",
		OnUpdate:    func(u tgbotapi.Update) { got = append(got, u) },
	})

	w := do(t, e, http.MethodPost, "/webhook/abc", `{"update_id": 17, "message": {"message_id": 1, "text": "hi", "chat": {"id": 5, "type": "private"}}}`)
	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, got, 1)
	assert.Equal(t, 17, got[0].UpdateID)
	assert.Equal(t, "hi", got[0].Message.Text)

	w = do(t, e, http.MethodPost, "/webhook/abc", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, e, http.MethodPost, "/webhook/other", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNoWebhookRouteInPollingMode(t *testing.T) {
	w := do(t, NewEngine(Options{}), http.MethodPost, "/webhook/abc", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDiagnoseRequiresAPIKey(t *testing.T) {
	called := 0
	e := NewEngine(Options{
		APIKey:   "secret",
		Diagnose: func(c *gin.Context) { called++; c.Status(http.StatusOK) },
	})

	w := do(t, e, http.MethodPost, "/v1/diagnose", `{}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/diagnose", strings.NewReader(`{}`))
	req.Header.Set("X-API-Key", "secret")
	w = httptest.NewRecorder()
	e.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, called)

	w = do(t, NewEngine(Options{Diagnose: func(c *gin.Context) { called++ }}), http.MethodPost, "/v1/diagnose", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 1, called)
}
