package diagnosis

import (
	"errors"
	"fmt"
	"time"
)

type ErrorKind int

const (
	RateLimitExceeded ErrorKind = iota + 1
	AllModelsExhausted
	SessionExpired
)

func (k ErrorKind) String() string {
	switch k {
	case RateLimitExceeded:
		return "rate_limit_exceeded"
	case AllModelsExhausted:
		return "all_models_exhausted"
	case SessionExpired:
		return "session_expired"
	default:
		return "unknown"
	}
}

const (
	MsgAPIError       = "The system is temporarily unavailable. Please try again in a moment."
	MsgRateLimit      = "You have reached the hourly usage limit. Please try again in %d minutes."
	MsgSessionExpired = "Your session has expired. Please send the photo again."
)

// Error - единственная ошибка, которая выходит из оркестратора наружу.
// UserMessage можно показывать пользователю как есть, Err только в логи.
type Error struct {
	Kind        ErrorKind
	Retryable   bool
	UserMessage string
	RetryAfter  time.Duration
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("diagnosis: %s: %v", e.Kind, e.Err)
	}
	return "diagnosis: " + e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// NewRateLimitExceeded - для вызывающего слоя, который проверяет лимит раньше оркестратора.
func NewRateLimitExceeded(retryAfter time.Duration) *Error { return rateLimitError(retryAfter) }

func rateLimitError(retryAfter time.Duration) *Error {
	minutes := int((retryAfter + time.Minute - 1) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return &Error{
		Kind:        RateLimitExceeded,
		UserMessage: fmt.Sprintf(MsgRateLimit, minutes),
		RetryAfter:  retryAfter,
	}
}

func exhaustedError(last error) *Error {
	return &Error{Kind: AllModelsExhausted, UserMessage: MsgAPIError, Err: last}
}

// NewSessionExpired - для вызывающего слоя: в сессии нет картинки.
func NewSessionExpired() *Error {
	return &Error{Kind: SessionExpired, UserMessage: MsgSessionExpired}
}

// KindOf: 0, если err не *Error.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}
