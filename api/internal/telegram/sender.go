package telegram

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"plantdoc-bot/api/internal/bot"
	"plantdoc-bot/api/internal/diagnosis"
)

// Telegram режет ботов примерно на 30 сообщений в секунду.
const (
	sendRate  = 25
	sendBurst = 5
)

// Sender реализует bot.Messenger поверх Bot API.
type Sender struct {
	bot     botAPI
	limiter *rate.Limiter
}

var _ bot.Messenger = (*Sender)(nil)

func NewSender(b botAPI) *Sender {
	return &Sender{bot: b, limiter: rate.NewLimiter(sendRate, sendBurst)}
}

func chatID(userID string) (int64, error) {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: bad user id %q: %w", userID, err)
	}
	return id, nil
}

func (s *Sender) send(ctx context.Context, msg tgbotapi.MessageConfig) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	msg.Text = truncate(msg.Text)
	_, err := s.bot.Send(msg)
	return err
}

func (s *Sender) newMessage(userID, text string) (tgbotapi.MessageConfig, error) {
	id, err := chatID(userID)
	if err != nil {
		return tgbotapi.MessageConfig{}, err
	}
	return tgbotapi.NewMessage(id, text), nil
}

func (s *Sender) SendText(ctx context.Context, userID, text string) error {
	msg, err := s.newMessage(userID, text)
	if err != nil {
		return err
	}
	return s.send(ctx, msg)
}

func (s *Sender) SendChoices(ctx context.Context, userID, text string, choices []bot.Choice) error {
	msg, err := s.newMessage(userID, text)
	if err != nil {
		return err
	}
	msg.ReplyMarkup = choicesKeyboard(choices)
	return s.send(ctx, msg)
}

func (s *Sender) SendDiagnosis(ctx context.Context, userID string, r diagnosis.Result) error {
	msg, err := s.newMessage(userID, FormatDiagnosis(r))
	if err != nil {
		return err
	}
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = diagnosisKeyboard()
	return s.send(ctx, msg)
}

func (s *Sender) SendTreatment(ctx context.Context, userID string, r diagnosis.Result) error {
	msg, err := s.newMessage(userID, FormatTreatment(r))
	if err != nil {
		return err
	}
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = treatmentKeyboard()
	return s.send(ctx, msg)
}
