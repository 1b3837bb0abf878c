// Package session хранит состояние диалога с пользователем между сообщениями.
// Запись живёт TTL; отсутствие записи равносильно IDLE без данных.
package session

import (
	"context"
	"time"

	"plantdoc-bot/api/internal/diagnosis"
	"plantdoc-bot/api/internal/intake"
)

type State string

const (
	Idle                State = "idle"
	WaitingForImage     State = "waiting_for_image"
	WaitingForPlantType State = "waiting_for_plant_type"
	WaitingForPlantPart State = "waiting_for_plant_part"
	Processing          State = "processing"
	Completed           State = "completed"
)

type Session struct {
	UserID         string                  `json:"user_id"`
	State          State                   `json:"state"`
	PendingImage   *intake.NormalizedImage `json:"pending_image,omitempty"`
	Category       diagnosis.Category      `json:"category,omitempty"`
	Part           diagnosis.Part          `json:"part,omitempty"`
	AdditionalInfo string                  `json:"additional_info,omitempty"`
	LastResult     *diagnosis.Result       `json:"last_result,omitempty"`
	CreatedAt      time.Time               `json:"created_at"`
	UpdatedAt      time.Time               `json:"updated_at"`
}

// Empty - сессия по умолчанию для пользователя, у которого ничего нет.
func Empty(userID string) Session {
	return Session{UserID: userID, State: Idle}
}

// Store: последний Set выигрывает, транзакций нет.
type Store interface {
	Get(ctx context.Context, userID string) (Session, error)
	Set(ctx context.Context, s Session, ttl time.Duration) error
	Clear(ctx context.Context, userID string) error
}
