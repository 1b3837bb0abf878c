// Package bot - слой диалога, не зависящий от мессенджера. Адаптер платформы
// превращает входящие апдейты в события, Handler ведёт пользователя от фото
// до диагноза и отвечает через порт Messenger.
package bot

// Event - входящее событие от пользователя. Реализации перечислены ниже.
type Event interface {
	User() string
	event()
}

type TextEvent struct {
	UserID string
	Text   string
}

// ImageEvent: Ref - ссылка на картинку у платформы (для Telegram file_id).
type ImageEvent struct {
	UserID   string
	Ref      string
	MIMEType string
}

type PostbackEvent struct {
	UserID string
	Data   string
}

// FollowEvent - пользователь впервые открыл бота.
type FollowEvent struct {
	UserID string
}

func (e TextEvent) User() string     { return e.UserID }
func (e ImageEvent) User() string    { return e.UserID }
func (e PostbackEvent) User() string { return e.UserID }
func (e FollowEvent) User() string   { return e.UserID }

func (TextEvent) event()     {}
func (ImageEvent) event()    {}
func (PostbackEvent) event() {}
func (FollowEvent) event()   {}
