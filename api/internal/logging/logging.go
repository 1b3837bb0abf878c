// Package logging настраивает apex/log под окружение.
package logging

import (
	"io"
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/text"
)

// Setup: в dev пишем текстом, в staging/prod JSON.
func Setup(environment, level string) {
	setup(os.Stderr, environment, level)
}

func setup(w io.Writer, environment, level string) {
	if environment == "dev" {
		log.SetHandler(text.New(w))
	} else {
		log.SetHandler(json.New(w))
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}

// OrDefault возвращает глобальный логгер, если компоненту не передали свой.
func OrDefault(l log.Interface) log.Interface {
	if l == nil {
		return log.Log
	}
	return l
}

// ForUser - стандартные поля для логов по конкретному пользователю.
func ForUser(l log.Interface, userID string) *log.Entry {
	return OrDefault(l).WithField("user", userID)
}
