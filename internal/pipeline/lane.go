package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/livebabel/babel-core/internal/config"
	"github.com/livebabel/babel-core/internal/publish"
	"github.com/livebabel/babel-core/internal/segment"
	"github.com/livebabel/babel-core/internal/synth"
	"github.com/livebabel/babel-core/internal/translate"
	"github.com/livebabel/babel-core/internal/transport"
)

// LaneState reflects what a lane is currently doing. It is advisory: with
// several utterances in flight the state tracks the most recent transition.
type LaneState int32

const (
	LaneIdle LaneState = iota
	LaneTranslating
	LaneSynthesizing
	LanePublishing
	LaneDegraded
)

func (s LaneState) String() string {
	switch s {
	case LaneIdle:
		return "idle"
	case LaneTranslating:
		return "translating"
	case LaneSynthesizing:
		return "synthesizing"
	case LanePublishing:
		return "publishing"
	case LaneDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Lane carries one target language through translation, synthesis, and
// ordered publishing. Each submitted utterance is processed on its own
// goroutine so a slow utterance never blocks the ones behind it; the
// publisher restores order on the way out.
type Lane struct {
	code        string
	displayName string
	voice       string

	translator translate.Translator
	chain      *synth.Chain
	pub        *publish.Publisher
	speaker    func() string
	logger     *slog.Logger

	translateTimeout time.Duration
	highWater        int
	lowWater         int
	outSampleRate    int
	outChannels      int

	state    atomic.Int32
	pending  atomic.Int64
	degraded atomic.Bool
	dropped  atomic.Int64

	mu       sync.Mutex
	inflight map[int64]struct{}
	wg       sync.WaitGroup
}

func newLane(target config.TargetLanguage, cfg config.PipelineConfig, synthCfg config.SynthesisConfig,
	translator translate.Translator, chain *synth.Chain, pub *publish.Publisher,
	speaker func() string, logger *slog.Logger) *Lane {
	return &Lane{
		code:             target.Code,
		displayName:      target.DisplayName,
		voice:            target.Voice,
		translator:       translator,
		chain:            chain,
		pub:              pub,
		speaker:          speaker,
		logger:           logger.With(slog.String("component", "lane"), slog.String("lang", target.Code)),
		translateTimeout: time.Duration(cfg.TranslationTimeoutMS) * time.Millisecond,
		highWater:        cfg.LaneHighWater,
		lowWater:         cfg.LaneLowWater,
		outSampleRate:    synthCfg.SampleRate,
		outChannels:      synthCfg.Channels,
		inflight:         make(map[int64]struct{}),
	}
}

// Submit hands a recognized utterance to the lane. Duplicate submissions of
// the same utterance id are ignored. Under backpressure the utterance is
// dropped and its slot released to the publisher so the lane stays live.
func (l *Lane) Submit(ctx context.Context, utt segment.Utterance) {
	l.mu.Lock()
	if _, dup := l.inflight[utt.ID]; dup {
		l.mu.Unlock()
		return
	}
	l.inflight[utt.ID] = struct{}{}
	l.mu.Unlock()

	if l.overloaded() {
		l.forget(utt.ID)
		l.dropped.Add(1)
		l.pub.Skip(utt.ID)
		l.logger.Warn("dropping utterance under backpressure",
			slog.Int64("id", utt.ID),
			slog.Int64("pending", l.pending.Load()))
		return
	}

	l.pending.Add(1)
	l.wg.Add(1)
	go l.process(ctx, utt)
}

// Skip releases an utterance slot without processing it, e.g. when
// recognition already failed upstream.
func (l *Lane) Skip(utteranceID int64) {
	l.pub.Skip(utteranceID)
}

func (l *Lane) process(ctx context.Context, utt segment.Utterance) {
	defer func() {
		l.forget(utt.ID)
		if l.pending.Add(-1) == 0 && !l.degraded.Load() {
			l.state.Store(int32(LaneIdle))
		}
		l.wg.Done()
	}()

	l.state.Store(int32(LaneTranslating))
	tctx, cancel := context.WithTimeout(ctx, l.translateTimeout)
	text, err := l.translator.Translate(tctx, utt.SourceText, utt.SourceLang, l.code)
	cancel()
	if err != nil {
		l.logger.Warn("translation failed, skipping utterance",
			slog.Int64("id", utt.ID), slogError(err))
		l.pub.Skip(utt.ID)
		return
	}

	// The chain applies its own per-attempt deadline so the fallback is
	// not charged for time the primary already spent.
	l.state.Store(int32(LaneSynthesizing))
	result, err := l.chain.Synthesize(ctx, synth.Request{
		Text:       text,
		Lang:       l.code,
		Voice:      l.voice,
		SpeakerID:  l.speaker(),
		SampleRate: l.outSampleRate,
		Channels:   l.outChannels,
	})
	if err != nil {
		l.logger.Warn("synthesis failed, skipping utterance",
			slog.Int64("id", utt.ID), slogError(err))
		l.pub.Skip(utt.ID)
		return
	}

	l.state.Store(int32(LanePublishing))
	l.pub.Enqueue(transport.Segment{
		UtteranceID: utt.ID,
		SampleRate:  l.outSampleRate,
		Channels:    l.outChannels,
		PCM:         result.Audio,
		Source:      result.Source,
		CapturedAt:  utt.CapturedAt,
	})
}

// overloaded applies high/low water hysteresis to the pending count.
func (l *Lane) overloaded() bool {
	pending := l.pending.Load()
	if l.degraded.Load() {
		if pending > int64(l.lowWater) {
			return true
		}
		l.degraded.Store(false)
		l.logger.Info("lane recovered from backpressure", slog.Int64("pending", pending))
		return false
	}
	if pending >= int64(l.highWater) {
		l.degraded.Store(true)
		l.state.Store(int32(LaneDegraded))
		return true
	}
	return false
}

func (l *Lane) forget(id int64) {
	l.mu.Lock()
	delete(l.inflight, id)
	l.mu.Unlock()
}

// Wait blocks until every in-flight utterance has finished processing.
func (l *Lane) Wait() {
	l.wg.Wait()
}

func (l *Lane) State() LaneState {
	if l.degraded.Load() {
		return LaneDegraded
	}
	return LaneState(l.state.Load())
}

func (l *Lane) Pending() int64 {
	return l.pending.Load()
}

func (l *Lane) Dropped() int64 {
	return l.dropped.Load()
}
