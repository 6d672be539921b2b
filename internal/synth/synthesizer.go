package synth

import (
	"context"
	"errors"
)

// Error kinds surfaced by synthesis backends.
var (
	ErrTimeout            = errors.New("synthesis timed out")
	ErrProfileNotReady    = errors.New("voice profile not ready")
	ErrServiceUnavailable = errors.New("synthesis service unavailable")
)

// Request contains parameters to synthesize one utterance in one language.
type Request struct {
	Text       string
	Lang       string
	Voice      string
	SpeakerID  string
	SampleRate int
	Channels   int
}

// Synthesizer is the contract for producing a complete audio buffer for one
// request. Implementations must respect ctx cancellation.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) ([]byte, error)
}

// ProfileSource resolves a speaker id to a usable synthesis artifact. It
// returns ErrProfileNotReady while the profile build is pending or failed.
type ProfileSource interface {
	ArtifactRef(ctx context.Context, speakerID string) (string, error)
}
