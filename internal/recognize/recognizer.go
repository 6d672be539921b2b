package recognize

import (
	"context"
	"errors"
)

// Error kinds surfaced by recognition backends. Callers classify with
// errors.Is; anything else is treated as ErrServiceUnavailable.
var (
	ErrTimeout            = errors.New("recognition timed out")
	ErrServiceUnavailable = errors.New("recognition service unavailable")
	ErrGarbled            = errors.New("recognition produced unusable output")
)

// Result captures recognizer output.
type Result struct {
	Text       string
	Confidence float64
}

// Recognizer abstracts speech-to-text backends.
type Recognizer interface {
	Recognize(ctx context.Context, pcm []byte, sampleRate int, channels int) (Result, error)
}
