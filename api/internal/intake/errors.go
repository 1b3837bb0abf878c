package intake

import "fmt"

type ErrorKind int

const (
	UnsupportedFormat ErrorKind = iota + 1
	TooLarge
	Corrupt
)

func (k ErrorKind) String() string {
	switch k {
	case UnsupportedFormat:
		return "unsupported_format"
	case TooLarge:
		return "too_large"
	case Corrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// ValidationError - картинку нельзя принять. Повторять с теми же байтами бессмысленно.
type ValidationError struct {
	Kind        ErrorKind
	UserMessage string
	Err         error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("intake: %s: %v", e.Kind, e.Err)
	}
	return "intake: " + e.Kind.String()
}

func (e *ValidationError) Unwrap() error { return e.Err }

const (
	msgInvalidFormat = "The image is not valid. Please send a .jpg, .jpeg, .png or .webp photo."
	msgTooLarge      = "The image is too large. Please send a photo smaller than %s MB."
)

func unsupported(err error) *ValidationError {
	return &ValidationError{Kind: UnsupportedFormat, UserMessage: msgInvalidFormat, Err: err}
}

func corrupt(err error) *ValidationError {
	return &ValidationError{Kind: Corrupt, UserMessage: msgInvalidFormat, Err: err}
}

func tooLarge(maxBytes int, err error) *ValidationError {
	mb := fmt.Sprintf("%g", float64(maxBytes)/(1024*1024))
	return &ValidationError{Kind: TooLarge, UserMessage: fmt.Sprintf(msgTooLarge, mb), Err: err}
}
