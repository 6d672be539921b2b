package synth

import (
	"context"
	"time"
)

type mockSynth struct {
	delay time.Duration
}

// NewMockSynth produces a silent buffer sized to roughly one second of
// audio, after an optional artificial delay.
func NewMockSynth(delay time.Duration) Synthesizer {
	return &mockSynth{delay: delay}
}

func (m *mockSynth) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.delay):
		}
	}
	return make([]byte, req.SampleRate*req.Channels*2), nil
}
