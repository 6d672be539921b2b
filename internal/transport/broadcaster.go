package transport

import (
	"context"
	"time"
)

// Segment is one synthesized utterance ready for broadcast.
type Segment struct {
	UtteranceID int64
	SampleRate  int
	Channels    int
	PCM         []byte
	Source      string
	CapturedAt  time.Time
}

// Track is an opaque handle to one language's broadcast channel. Each lane
// owns exactly one track; tracks are never shared across lanes.
type Track struct {
	Lang    string
	Subject string
}

// Broadcaster abstracts the real-time broadcast layer.
type Broadcaster interface {
	PublishTrack(ctx context.Context, langCode string) (*Track, error)
	PushSegment(ctx context.Context, track *Track, seg Segment) error
	CloseTrack(track *Track) error
}
