package bot

import (
	"context"

	"plantdoc-bot/api/internal/diagnosis"
	"plantdoc-bot/api/internal/intake"
	"plantdoc-bot/api/internal/store"
)

// Choice - кнопка быстрого ответа. Data возвращается как PostbackEvent.Data.
type Choice struct {
	Label string
	Data  string
}

// Messenger - исходящие сообщения. Оформление остаётся на стороне платформы.
type Messenger interface {
	SendText(ctx context.Context, userID, text string) error
	SendChoices(ctx context.Context, userID, text string, choices []Choice) error
	SendDiagnosis(ctx context.Context, userID string, r diagnosis.Result) error
	SendTreatment(ctx context.Context, userID string, r diagnosis.Result) error
}

// ImageSource скачивает картинку по ссылке платформы. Читает не больше limit байт.
type ImageSource interface {
	Fetch(ctx context.Context, ref string, limit int) ([]byte, string, error)
}

type Diagnoser interface {
	Diagnose(ctx context.Context, userID string, img intake.NormalizedImage, category diagnosis.Category, aux string) (diagnosis.Outcome, error)
}

// Peeker - только проверка лимита; учёт ведёт оркестратор.
type Peeker interface {
	CheckAndPeek(ctx context.Context, userID string, limit int) (bool, int, error)
}

type HistoryStore interface {
	Save(ctx context.Context, rec store.Record) (int64, error)
	Recent(ctx context.Context, userID string, n int) ([]store.Record, error)
}
