// Package handle - JSON API диагноза поверх того же оркестратора, что и бот.
// Нужен для интеграций и ручной проверки без мессенджера.
package handle

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"

	"plantdoc-bot/api/internal/bot"
	"plantdoc-bot/api/internal/diagnosis"
	"plantdoc-bot/api/internal/intake"
	"plantdoc-bot/api/internal/logging"
	"plantdoc-bot/api/internal/metrics"
	"plantdoc-bot/api/internal/store"
)

const defaultDeadline = 180 * time.Second

type Handle struct {
	diag bot.Diagnoser
	norm *intake.Normalizer

	// History, если задан, получает каждый успешный диагноз.
	History bot.HistoryStore
	Metrics *metrics.Metrics
	Log     log.Interface
}

func New(diag bot.Diagnoser, norm *intake.Normalizer) *Handle {
	return &Handle{diag: diag, norm: norm}
}

type DiagnoseRequest struct {
	UserID         string `json:"user_id" binding:"required"`
	ImageB64       string `json:"image_b64" binding:"required"`
	MIMEType       string `json:"mime_type"`
	Category       string `json:"category"`
	Part           string `json:"part"`
	AdditionalInfo string `json:"additional_info"`
}

type DiagnoseResponse struct {
	Result      diagnosis.Result `json:"result"`
	Fingerprint string           `json:"fingerprint"`
	CacheHit    bool             `json:"cache_hit"`
	Model       string           `json:"model,omitempty"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func stripDataURL(b64 string) string {
	s := strings.TrimSpace(b64)
	if i := strings.Index(s, ","); i != -1 && strings.HasPrefix(strings.ToLower(s[:i]), "data:") {
		return s[i+1:]
	}
	return s
}

// deadline из X-Request-Timeout или ?timeoutSec, в секундах.
func deadline(c *gin.Context) time.Duration {
	ts := c.GetHeader("X-Request-Timeout")
	if ts == "" {
		ts = c.Query("timeoutSec")
	}
	if v, _ := strconv.Atoi(ts); v > 0 {
		return time.Duration(v) * time.Second
	}
	return defaultDeadline
}

// Diagnose: POST /v1/diagnose.
func (h *Handle) Diagnose(c *gin.Context) {
	var req DiagnoseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "bad json: " + err.Error()})
		return
	}
	raw, err := base64.StdEncoding.DecodeString(stripDataURL(req.ImageB64))
	if err != nil || len(raw) == 0 {
		c.JSON(http.StatusBadRequest, errorBody{Error: "bad image_b64"})
		return
	}

	category := diagnosis.Rice
	if req.Category != "" {
		category = diagnosis.Category(strings.ToLower(req.Category))
		if !category.Valid() {
			c.JSON(http.StatusBadRequest, errorBody{Error: "unknown category " + strconv.Quote(req.Category)})
			return
		}
	}
	aux := strings.TrimSpace(req.AdditionalInfo)
	part := diagnosis.Part(strings.ToLower(req.Part))
	if part.Valid() {
		aux = strings.TrimSpace("Affected part: " + part.Label() + ". " + aux)
	} else {
		part = ""
	}

	l := logging.ForUser(h.Log, req.UserID).WithField("api", "diagnose")

	img, err := h.norm.Normalize(raw, req.MIMEType)
	if err != nil {
		var ve *intake.ValidationError
		if errors.As(err, &ve) {
			h.Metrics.ImageRejected(ve.Kind.String())
			c.JSON(http.StatusUnprocessableEntity, errorBody{Error: ve.Kind.String(), Message: ve.UserMessage})
			return
		}
		l.WithError(err).Error("normalize failed")
		c.JSON(http.StatusInternalServerError, errorBody{Error: "internal"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), deadline(c))
	defer cancel()

	out, err := h.diag.Diagnose(ctx, req.UserID, img, category, aux)
	if err != nil {
		var de *diagnosis.Error
		if !errors.As(err, &de) {
			l.WithError(err).Error("diagnose failed")
			c.JSON(http.StatusInternalServerError, errorBody{Error: "internal"})
			return
		}
		status := http.StatusBadGateway
		switch de.Kind {
		case diagnosis.RateLimitExceeded:
			status = http.StatusTooManyRequests
			c.Header("Retry-After", strconv.Itoa(int((de.RetryAfter+time.Second-1)/time.Second)))
		case diagnosis.SessionExpired:
			status = http.StatusGone
		}
		c.JSON(status, errorBody{Error: de.Kind.String(), Message: de.UserMessage})
		return
	}

	if h.History != nil {
		_, herr := h.History.Save(context.WithoutCancel(ctx), store.Record{
			UserID:      req.UserID,
			Fingerprint: out.Fingerprint,
			Category:    category,
			Part:        part,
			Model:       out.Model,
			CacheHit:    out.CacheHit,
			Result:      out.Result,
		})
		if herr != nil {
			l.WithError(herr).Warn("history save failed")
		}
	}

	c.JSON(http.StatusOK, DiagnoseResponse{
		Result:      out.Result,
		Fingerprint: out.Fingerprint.String(),
		CacheHit:    out.CacheHit,
		Model:       out.Model,
	})
}
