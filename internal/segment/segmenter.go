package segment

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/livebabel/babel-core/internal/config"
)

// Utterance is one bounded span of source-language speech. Immutable once
// emitted; the audio buffer is owned by whichever stage currently holds it.
type Utterance struct {
	ID         int64
	SourceLang string
	SourceText string
	Audio      []byte // 16-bit little-endian PCM
	CapturedAt time.Time
	SampleRate int
	Channels   int
}

// Segmenter turns a continuous PCM frame stream into discrete utterances
// using an energy gate with hysteresis. A span closes after the configured
// trailing silence, or is force-closed once it reaches the maximum duration.
// Spans shorter than the minimum duration are discarded as noise without
// consuming an utterance id.
type Segmenter struct {
	cfg        config.SegmenterConfig
	sourceLang string
	logger     *slog.Logger
	out        chan Utterance

	mu       sync.Mutex
	active   bool
	buf      []byte
	silence  int // trailing silent samples inside the active span
	started  time.Time
	nextID   int64
	closed   bool
	overflow atomic.Int64
}

const windowMS = 20

func New(cfg config.SegmenterConfig, sourceLang string, logger *slog.Logger) *Segmenter {
	return &Segmenter{
		cfg:        cfg,
		sourceLang: sourceLang,
		logger:     logger.With(slog.String("component", "segmenter")),
		out:        make(chan Utterance, 64),
	}
}

// Utterances returns the emitted utterance stream. The channel is closed by
// Close after any trailing span has been flushed.
func (s *Segmenter) Utterances() <-chan Utterance {
	return s.out
}

// Feed consumes one PCM frame. It never blocks on I/O; if the downstream
// consumer has fallen more than a full channel buffer behind, the utterance
// is dropped and counted.
func (s *Segmenter) Feed(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	window := s.windowBytes()
	for off := 0; off < len(pcm); off += window {
		end := off + window
		if end > len(pcm) {
			end = len(pcm)
		}
		s.consumeWindow(pcm[off:end])
	}
}

// Flush closes any active span immediately, subject to the minimum duration.
func (s *Segmenter) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeSpan()
}

// Close flushes and closes the utterance channel. Feed calls after Close are
// ignored.
func (s *Segmenter) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closeSpan()
	s.closed = true
	close(s.out)
}

// Overflow reports how many utterances were dropped because the consumer
// was not keeping up.
func (s *Segmenter) Overflow() int64 {
	return s.overflow.Load()
}

func (s *Segmenter) consumeWindow(pcm []byte) {
	voiced := rms(pcm) >= s.cfg.EnergyThreshold

	if voiced {
		if !s.active {
			s.active = true
			s.started = time.Now().UTC()
			s.buf = s.buf[:0]
		}
		s.buf = append(s.buf, pcm...)
		s.silence = 0
	} else if s.active {
		s.buf = append(s.buf, pcm...)
		s.silence += len(pcm) / s.bytesPerSample()
		if s.durationMS(s.silence) >= s.cfg.SilenceMS {
			s.closeSpan()
			return
		}
	}

	if s.active && s.durationMS(len(s.buf)/s.bytesPerSample()) >= s.cfg.MaxUtteranceMS {
		s.closeSpan()
	}
}

func (s *Segmenter) closeSpan() {
	if !s.active {
		return
	}
	s.active = false

	voicedSamples := len(s.buf)/s.bytesPerSample() - s.silence
	s.silence = 0
	if s.durationMS(voicedSamples) < s.cfg.MinUtteranceMS {
		s.buf = s.buf[:0]
		return
	}

	utt := Utterance{
		ID:         s.nextID,
		SourceLang: s.sourceLang,
		Audio:      append([]byte(nil), s.buf...),
		CapturedAt: s.started,
		SampleRate: s.cfg.SampleRate,
		Channels:   s.cfg.Channels,
	}
	s.buf = s.buf[:0]

	select {
	case s.out <- utt:
		s.nextID++
	default:
		s.overflow.Add(1)
		s.logger.Warn("utterance dropped, consumer behind",
			slog.Int64("id", s.nextID),
			slog.Int64("overflow", s.overflow.Load()))
	}
}

func (s *Segmenter) bytesPerSample() int {
	return 2 * s.cfg.Channels
}

func (s *Segmenter) durationMS(samples int) int {
	return samples * 1000 / s.cfg.SampleRate
}

func (s *Segmenter) windowBytes() int {
	n := s.cfg.SampleRate * windowMS / 1000 * s.bytesPerSample()
	if n == 0 {
		n = s.bytesPerSample()
	}
	return n
}

// rms computes the root-mean-square energy of 16-bit little-endian PCM,
// normalized to [0, 1].
func rms(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}
	var sum float64
	n := len(pcm) / 2
	for i := 0; i < n; i++ {
		sample := int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
		v := float64(sample) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
