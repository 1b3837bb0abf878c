// Package telegram - адаптер Telegram: апдейты превращаются в события bot,
// ответы уходят через Sender, картинки скачиваются через ImageSource.
package telegram

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/apex/log"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	lru "github.com/hashicorp/golang-lru/v2"

	"plantdoc-bot/api/internal/bot"
	"plantdoc-bot/api/internal/logging"
)

const seenUpdates = 4096

// EventHandler - обычно *bot.Handler.
type EventHandler interface {
	Handle(ctx context.Context, ev bot.Event) error
}

type Router struct {
	bot     botAPI
	handler EventHandler
	seen    *lru.Cache[int, struct{}]
	wg      sync.WaitGroup

	Log log.Interface
}

func NewRouter(b botAPI, h EventHandler) *Router {
	seen, _ := lru.New[int, struct{}](seenUpdates) // ошибка только при size <= 0
	return &Router{bot: b, handler: h, seen: seen}
}

// HandleUpdate разбирает апдейт и обрабатывает его в отдельной горутине.
// Повторно доставленный апдейт (тот же update_id) отбрасывается.
func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	l := logging.OrDefault(r.Log)
	if ok, _ := r.seen.ContainsOrAdd(upd.UpdateID, struct{}{}); ok {
		l.WithField("update_id", upd.UpdateID).Debug("duplicate update dropped")
		return
	}

	if cb := upd.CallbackQuery; cb != nil {
		// ack, иначе у кнопки крутится часик
		if _, err := r.bot.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
			l.WithError(err).Debug("callback ack failed")
		}
		if cb.Message != nil {
			r.stripKeyboard(cb.Message)
		}
	}

	ev, ok := toEvent(upd)
	if !ok {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.handler.Handle(ctx, ev); err != nil {
			l.WithError(err).WithField("update_id", upd.UpdateID).Warn("handle update failed")
		}
	}()
}

// Wait ждёт завершения всех запущенных обработчиков.
func (r *Router) Wait() { r.wg.Wait() }

// кнопки выбора одноразовые; у результата клавиатуру оставляем
func (r *Router) stripKeyboard(m *tgbotapi.Message) {
	if m.ReplyMarkup == nil || !isChoiceKeyboard(*m.ReplyMarkup) {
		return
	}
	edit := tgbotapi.NewEditMessageReplyMarkup(m.Chat.ID, m.MessageID, tgbotapi.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{},
	})
	_, _ = r.bot.Send(edit)
}

func userID(chatID int64) string { return strconv.FormatInt(chatID, 10) }

func toEvent(upd tgbotapi.Update) (bot.Event, bool) {
	switch {
	case upd.CallbackQuery != nil:
		cb := upd.CallbackQuery
		if cb.Message == nil || cb.Message.Chat == nil {
			return nil, false
		}
		return bot.PostbackEvent{UserID: userID(cb.Message.Chat.ID), Data: cb.Data}, true

	case upd.MyChatMember != nil:
		m := upd.MyChatMember
		if m.Chat.IsPrivate() && m.NewChatMember.Status == "member" && m.OldChatMember.Status != "member" {
			return bot.FollowEvent{UserID: userID(m.Chat.ID)}, true
		}
		return nil, false

	case upd.Message != nil && upd.Message.Chat != nil:
		m := upd.Message
		uid := userID(m.Chat.ID)
		switch {
		case len(m.Photo) > 0:
			// последний размер самый большой
			return bot.ImageEvent{UserID: uid, Ref: m.Photo[len(m.Photo)-1].FileID, MIMEType: "image/jpeg"}, true
		case m.Document != nil:
			return bot.ImageEvent{UserID: uid, Ref: m.Document.FileID, MIMEType: m.Document.MimeType}, true
		case strings.TrimSpace(m.Text) != "":
			return bot.TextEvent{UserID: uid, Text: m.Text}, true
		}
	}
	return nil, false
}
