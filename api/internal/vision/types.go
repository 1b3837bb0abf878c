// Package vision - контракт вызова vision-LLM: текст промпта + картинка → текст ответа.
// Провайдеры живут в подпакетах и сводят свои ошибки к CallError.
package vision

import (
	"errors"
	"fmt"
)

type Request struct {
	Model             string
	SystemInstruction string
	Prompt            string
	Image             []byte
	MIMEType          string
}

type FailureKind int

const (
	Other FailureKind = iota
	QuotaExceeded
	ServiceUnavailable
)

func (k FailureKind) String() string {
	switch k {
	case QuotaExceeded:
		return "quota_exceeded"
	case ServiceUnavailable:
		return "service_unavailable"
	default:
		return "other"
	}
}

// CallError - неуспешный вызов модели.
type CallError struct {
	Provider string
	Model    string
	Kind     FailureKind
	Err      error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Provider, e.Model, e.Kind, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Fallback: модель сейчас не обслуживает, ретраи на ней бессмысленны.
func (e *CallError) Fallback() bool {
	return e.Kind == QuotaExceeded || e.Kind == ServiceUnavailable
}

// KindOf возвращает класс ошибки; всё, что не CallError, считается Other.
func KindOf(err error) FailureKind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return Other
}
