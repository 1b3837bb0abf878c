package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"

	"plantdoc-bot/api/internal/diagnosis"
	"plantdoc-bot/api/internal/intake"
	"plantdoc-bot/api/internal/logging"
	"plantdoc-bot/api/internal/metrics"
	"plantdoc-bot/api/internal/ratelimit"
	"plantdoc-bot/api/internal/session"
	"plantdoc-bot/api/internal/store"
)

const maxTextLen = 1000

type Config struct {
	SessionTTL      time.Duration
	DownloadTimeout time.Duration
	RequestsPerHour int
	// DirectDiagnosis: без вопросов про культуру и часть, сразу рис.
	DirectDiagnosis bool
	HistoryLimit    int
}

// Handler - вызывающий слой оркестратора: сессии, скачивание и нормализация
// картинки, вопросы пользователю и отправка результата.
type Handler struct {
	cfg      Config
	sessions session.Store
	diag     Diagnoser
	limiter  Peeker
	images   ImageSource
	norm     *intake.Normalizer
	out      Messenger

	History HistoryStore                // nil: /history выключен
	Health  func(context.Context) error // nil: всегда OK
	Metrics *metrics.Metrics
	Log     log.Interface

	now func() time.Time
}

func NewHandler(cfg Config, sessions session.Store, diag Diagnoser, limiter Peeker, images ImageSource, norm *intake.Normalizer, out Messenger) *Handler {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 5
	}
	return &Handler{
		cfg:      cfg,
		sessions: sessions,
		diag:     diag,
		limiter:  limiter,
		images:   images,
		norm:     norm,
		out:      out,
		now:      time.Now,
	}
}

// Handle обрабатывает одно событие. Ошибка означает, что не удалось ответить
// пользователю; всё, что пользователь должен узнать, уже отправлено.
func (h *Handler) Handle(ctx context.Context, ev Event) error {
	l := logging.ForUser(h.Log, ev.User()).WithField("req", uuid.NewString())

	switch e := ev.(type) {
	case FollowEvent:
		l.Info("new follower")
		return h.out.SendText(ctx, e.UserID, MsgWelcome)
	case TextEvent:
		return h.onText(ctx, l, e)
	case ImageEvent:
		return h.onImage(ctx, l, e)
	case PostbackEvent:
		return h.onPostback(ctx, l, e)
	default:
		return fmt.Errorf("bot: unsupported event %T", ev)
	}
}

func (h *Handler) session(ctx context.Context, l *log.Entry, userID string) session.Session {
	s, err := h.sessions.Get(ctx, userID)
	if err != nil {
		l.WithError(err).Warn("session get failed")
		return session.Empty(userID)
	}
	return s
}

func (h *Handler) save(ctx context.Context, l *log.Entry, s session.Session) {
	if err := h.sessions.Set(ctx, s, h.cfg.SessionTTL); err != nil {
		l.WithError(err).WithField("state", s.State).Warn("session set failed")
	}
}

func (h *Handler) clear(ctx context.Context, l *log.Entry, userID string) {
	if err := h.sessions.Clear(ctx, userID); err != nil {
		l.WithError(err).Warn("session clear failed")
	}
}

func (h *Handler) onText(ctx context.Context, l *log.Entry, e TextEvent) error {
	text := Sanitize(e.Text, maxTextLen)
	if strings.HasPrefix(text, "/") {
		return h.onCommand(ctx, l, e.UserID, text)
	}

	s := h.session(ctx, l, e.UserID)
	switch s.State {
	case session.WaitingForPlantType:
		c, ok := ParsePlantType(text)
		if !ok {
			return h.out.SendChoices(ctx, e.UserID, MsgUnknownType, PlantTypeChoices())
		}
		// "rice leaf" отвечает сразу на оба вопроса
		if p, ok := ParsePlantPart(text); ok {
			s.Category = c
			return h.choosePart(ctx, l, s, p, "")
		}
		return h.chooseType(ctx, l, s, c)

	case session.WaitingForPlantPart:
		switch p, ok := ParsePlantPart(text); {
		case IsSkip(text):
			return h.choosePart(ctx, l, s, "", "")
		case ok:
			return h.choosePart(ctx, l, s, p, "")
		default:
			return h.choosePart(ctx, l, s, "", text)
		}
	}

	if IsGreeting(text) || IsHelp(text) {
		return h.out.SendText(ctx, e.UserID, MsgWelcome)
	}
	return h.out.SendText(ctx, e.UserID, MsgAskPhoto)
}

func (h *Handler) onCommand(ctx context.Context, l *log.Entry, userID, text string) error {
	cmd, _, _ := strings.Cut(strings.TrimPrefix(text, "/"), " ")
	cmd, _, _ = strings.Cut(cmd, "@") // /start@plantdoc_bot в группах
	switch strings.ToLower(cmd) {
	case "start":
		return h.out.SendText(ctx, userID, MsgWelcome)
	case "help":
		return h.out.SendText(ctx, userID, MsgHelp)
	case "new":
		h.clear(ctx, l, userID)
		return h.out.SendText(ctx, userID, MsgAskPhoto)
	case "health":
		if h.Health != nil {
			if err := h.Health(ctx); err != nil {
				l.WithError(err).Warn("health check failed")
				return h.out.SendText(ctx, userID, MsgHealthDegraded)
			}
		}
		return h.out.SendText(ctx, userID, MsgHealthOK)
	case "history":
		if h.History == nil {
			return h.out.SendText(ctx, userID, MsgHistoryOff)
		}
		recs, err := h.History.Recent(ctx, userID, h.cfg.HistoryLimit)
		if err != nil {
			l.WithError(err).Error("history read failed")
			return h.out.SendText(ctx, userID, diagnosis.MsgAPIError)
		}
		if len(recs) == 0 {
			return h.out.SendText(ctx, userID, MsgHistoryEmpty)
		}
		return h.out.SendText(ctx, userID, formatHistory(recs))
	default:
		return h.out.SendText(ctx, userID, MsgUnknownCommand)
	}
}

func (h *Handler) onImage(ctx context.Context, l *log.Entry, e ImageEvent) error {
	allowed, remaining, err := h.limiter.CheckAndPeek(ctx, e.UserID, h.cfg.RequestsPerHour)
	switch {
	case err != nil:
		l.WithError(err).Warn("rate limit check failed")
	case !allowed:
		h.Metrics.RateLimited()
		l.Info("rate limited before download")
		return h.out.SendText(ctx, e.UserID, diagnosis.NewRateLimitExceeded(ratelimit.UntilReset(h.now())).UserMessage)
	default:
		l = l.WithField("remaining", remaining)
	}

	raw, fetchedMIME, err := h.fetch(ctx, e.Ref)
	if err != nil {
		l.WithError(err).Error("image download failed")
		return h.out.SendText(ctx, e.UserID, diagnosis.MsgAPIError)
	}
	declared := e.MIMEType
	if declared == "" {
		declared = fetchedMIME
	}

	img, err := h.norm.Normalize(raw, declared)
	if err != nil {
		var ve *intake.ValidationError
		if errors.As(err, &ve) {
			h.Metrics.ImageRejected(ve.Kind.String())
			l.WithError(err).WithField("kind", ve.Kind).Warn("image rejected")
			return h.out.SendText(ctx, e.UserID, ve.UserMessage)
		}
		l.WithError(err).Error("image normalize failed")
		return h.out.SendText(ctx, e.UserID, diagnosis.MsgAPIError)
	}
	l.WithFields(log.Fields{"bytes": len(img.Payload), "w": img.Width, "h": img.Height}).Info("image accepted")

	// новое фото начинает диалог заново
	prev := h.session(ctx, l, e.UserID)
	s := session.Session{UserID: e.UserID, PendingImage: &img, CreatedAt: prev.CreatedAt}

	if h.cfg.DirectDiagnosis {
		s.Category = diagnosis.Rice
		s.State = session.Processing
		h.save(ctx, l, s)
		if err := h.out.SendText(ctx, e.UserID, MsgProcessing); err != nil {
			l.WithError(err).Warn("send failed")
		}
		return h.diagnose(ctx, l, s)
	}

	s.State = session.WaitingForPlantType
	h.save(ctx, l, s)
	return h.out.SendChoices(ctx, e.UserID, MsgAskPlantType, PlantTypeChoices())
}

func (h *Handler) fetch(ctx context.Context, ref string) ([]byte, string, error) {
	if h.cfg.DownloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.DownloadTimeout)
		defer cancel()
	}
	// на байт больше лимита, чтобы нормализатор увидел превышение
	return h.images.Fetch(ctx, ref, h.norm.MaxBytes()+1)
}

func (h *Handler) onPostback(ctx context.Context, l *log.Entry, e PostbackEvent) error {
	data := ParsePostback(e.Data)
	l.WithField("data", e.Data).Debug("postback")

	switch {
	case data["plant_type"] != "":
		s := h.session(ctx, l, e.UserID)
		if s.PendingImage == nil {
			return h.expired(ctx, l, e.UserID)
		}
		c := diagnosis.Category(data["plant_type"])
		if !c.Valid() {
			return h.out.SendChoices(ctx, e.UserID, MsgUnknownType, PlantTypeChoices())
		}
		return h.chooseType(ctx, l, s, c)

	case data["plant_part"] != "":
		s := h.session(ctx, l, e.UserID)
		if s.PendingImage == nil {
			return h.expired(ctx, l, e.UserID)
		}
		p := diagnosis.Part(data["plant_part"])
		if !p.Valid() {
			p = ""
		}
		return h.choosePart(ctx, l, s, p, "")

	case data["show_diagnosis"] != "":
		s := h.session(ctx, l, e.UserID)
		if s.LastResult == nil {
			return h.out.SendText(ctx, e.UserID, MsgNoResult)
		}
		return h.out.SendDiagnosis(ctx, e.UserID, *s.LastResult)

	case data["show_treatment"] != "":
		s := h.session(ctx, l, e.UserID)
		if s.LastResult == nil {
			return h.out.SendText(ctx, e.UserID, MsgNoResult)
		}
		return h.out.SendTreatment(ctx, e.UserID, *s.LastResult)

	case data["new_diagnosis"] != "":
		h.clear(ctx, l, e.UserID)
		return h.out.SendText(ctx, e.UserID, MsgAskPhoto)

	case data["retry"] != "":
		h.clear(ctx, l, e.UserID)
		return h.out.SendText(ctx, e.UserID, MsgAskPhotoAgain)
	}
	l.WithField("data", e.Data).Warn("unknown postback")
	return nil
}

func (h *Handler) chooseType(ctx context.Context, l *log.Entry, s session.Session, c diagnosis.Category) error {
	s.Category = c
	s.State = session.WaitingForPlantPart
	h.save(ctx, l, s)
	return h.out.SendChoices(ctx, s.UserID, MsgAskPlantPart, PlantPartChoices())
}

func (h *Handler) choosePart(ctx context.Context, l *log.Entry, s session.Session, p diagnosis.Part, info string) error {
	s.Part = p
	if info != "" {
		s.AdditionalInfo = info
	}
	s.State = session.Processing
	h.save(ctx, l, s)
	if err := h.out.SendText(ctx, s.UserID, MsgProcessing); err != nil {
		l.WithError(err).Warn("send failed")
	}
	return h.diagnose(ctx, l, s)
}

func (h *Handler) expired(ctx context.Context, l *log.Entry, userID string) error {
	h.clear(ctx, l, userID)
	return h.out.SendText(ctx, userID, diagnosis.NewSessionExpired().UserMessage)
}

// auxText - дополнительный контекст для модели; входит в ключ кэша.
func auxText(s session.Session) string {
	var parts []string
	if s.Part != "" {
		parts = append(parts, "Affected part: "+s.Part.Label()+".")
	}
	if info := strings.TrimSpace(s.AdditionalInfo); info != "" {
		parts = append(parts, info)
	}
	return strings.Join(parts, " ")
}

func (h *Handler) diagnose(ctx context.Context, l *log.Entry, s session.Session) error {
	if s.PendingImage == nil {
		return h.expired(ctx, l, s.UserID)
	}
	category := s.Category
	if !category.Valid() {
		category = diagnosis.Rice
	}

	out, err := h.diag.Diagnose(ctx, s.UserID, *s.PendingImage, category, auxText(s))
	if err != nil {
		msg := diagnosis.MsgAPIError
		var de *diagnosis.Error
		if errors.As(err, &de) {
			msg = de.UserMessage
		}
		s.State = session.Idle
		h.save(ctx, l, s)
		return h.out.SendText(ctx, s.UserID, msg)
	}

	res := out.Result
	s.LastResult = &res
	s.PendingImage = nil
	s.State = session.Completed
	h.save(ctx, l, s)

	if h.History != nil {
		_, herr := h.History.Save(ctx, store.Record{
			UserID:      s.UserID,
			Fingerprint: out.Fingerprint,
			Category:    category,
			Part:        s.Part,
			Model:       out.Model,
			CacheHit:    out.CacheHit,
			Result:      res,
		})
		if herr != nil {
			l.WithError(herr).Warn("history save failed")
		}
	}

	if res.LowConfidence() {
		if err := h.out.SendText(ctx, s.UserID, MsgLowConfidence); err != nil {
			l.WithError(err).Warn("send failed")
		}
	}
	return h.out.SendDiagnosis(ctx, s.UserID, res)
}
