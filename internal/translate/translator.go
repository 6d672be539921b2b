package translate

import (
	"context"
	"errors"
)

// Error kinds surfaced by translation backends.
var (
	ErrTimeout       = errors.New("translation timed out")
	ErrQuotaExceeded = errors.New("translation quota exceeded")
	ErrUnsupported   = errors.New("language pair not supported")
	ErrUnavailable   = errors.New("translation service unavailable")
)

// Translator abstracts translation backends.
type Translator interface {
	Translate(ctx context.Context, text, fromLang, toLang string) (string, error)
}
