package protocol

import "time"

// AudioFrame represents PCM audio data streamed from the capture device.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// BroadcastSegment is one synthesized utterance pushed to a language track.
type BroadcastSegment struct {
	Lang        string    `json:"lang"`
	UtteranceID int64     `json:"utterance_id"`
	SampleRate  int       `json:"sample_rate"`
	Channels    int       `json:"channels"`
	PCM         []byte    `json:"pcm"`
	Source      string    `json:"source,omitempty"` // primary or secondary synthesis
	CapturedAt  time.Time `json:"captured_at"`
	Final       bool      `json:"final,omitempty"` // marks track teardown
}

// LaneStatus reports the health of one language lane.
type LaneStatus struct {
	Lang             string    `json:"lang"`
	DisplayName      string    `json:"display_name,omitempty"`
	State            string    `json:"state"`
	Pending          int       `json:"pending"`
	LastPublishedSeq int64     `json:"last_published_seq"`
	Published        int64     `json:"published"`
	Skipped          int64     `json:"skipped"`
	Timestamp        time.Time `json:"timestamp"`
}

const (
	SubjectAudioFramePrefix     = "audio.frame"
	SubjectBroadcastPrefix      = "broadcast.audio"
	SubjectLaneStatus           = "pipeline.lane.status"
	SubjectTranscriptRecognized = "pipeline.transcript"
)
