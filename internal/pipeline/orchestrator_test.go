package pipeline

import (
	"context"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livebabel/babel-core/internal/config"
	"github.com/livebabel/babel-core/internal/recognize"
	"github.com/livebabel/babel-core/internal/segment"
	"github.com/livebabel/babel-core/internal/synth"
	"github.com/livebabel/babel-core/internal/translate"
	"github.com/livebabel/babel-core/internal/transport"
)

type funcRecognizer func(ctx context.Context, pcm []byte, sampleRate, channels int) (recognize.Result, error)

func (f funcRecognizer) Recognize(ctx context.Context, pcm []byte, sampleRate, channels int) (recognize.Result, error) {
	return f(ctx, pcm, sampleRate, channels)
}

type funcTranslator func(ctx context.Context, text, fromLang, toLang string) (string, error)

func (f funcTranslator) Translate(ctx context.Context, text, fromLang, toLang string) (string, error) {
	return f(ctx, text, fromLang, toLang)
}

type funcSynth func(ctx context.Context, req synth.Request) ([]byte, error)

func (f funcSynth) Synthesize(ctx context.Context, req synth.Request) ([]byte, error) {
	return f(ctx, req)
}

func echoRecognizer() recognize.Recognizer {
	return funcRecognizer(func(_ context.Context, _ []byte, _, _ int) (recognize.Result, error) {
		return recognize.Result{Text: "hello", Confidence: 0.9}, nil
	})
}

func passthroughTranslator() translate.Translator {
	return funcTranslator(func(_ context.Context, text, _, toLang string) (string, error) {
		return "[" + toLang + "] " + text, nil
	})
}

func audioSynth() *synth.Chain {
	render := funcSynth(func(_ context.Context, _ synth.Request) ([]byte, error) {
		return []byte{0, 1}, nil
	})
	return synth.NewChain(render, render, time.Second, slog.Default())
}

func testPipelineConfig(targets ...config.TargetLanguage) config.Config {
	cfg := config.Default()
	cfg.Pipeline.Targets = targets
	cfg.Pipeline.RecognitionTimeoutMS = 500
	cfg.Pipeline.TranslationTimeoutMS = 500
	cfg.Pipeline.SynthesisTimeoutMS = 500
	cfg.Pipeline.PublisherWaitMS = 200
	cfg.Pipeline.ShutdownGraceMS = 3000
	cfg.Pipeline.StatusIntervalMS = 0
	return cfg
}

func target(code string) config.TargetLanguage {
	return config.TargetLanguage{Code: code, DisplayName: code, Voice: "voice-" + code}
}

func utt(id int64) segment.Utterance {
	return segment.Utterance{
		ID:         id,
		SourceLang: "zh",
		Audio:      []byte{1, 2, 3, 4},
		CapturedAt: time.Now(),
		SampleRate: 16000,
		Channels:   1,
	}
}

func feed(ids ...int64) chan segment.Utterance {
	ch := make(chan segment.Utterance, len(ids))
	for _, id := range ids {
		ch <- utt(id)
	}
	close(ch)
	return ch
}

func laneIDs(bc *transport.MockBroadcaster, lang string) []int64 {
	segs := bc.Segments(lang)
	ids := make([]int64, 0, len(segs))
	for _, s := range segs {
		ids = append(ids, s.UtteranceID)
	}
	return ids
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func startOrchestrator(t *testing.T, cfg config.Config, deps Deps, in <-chan segment.Utterance) (*Orchestrator, *transport.MockBroadcaster) {
	t.Helper()
	bc := transport.NewMockBroadcaster()
	deps.Broadcaster = bc
	o := New(context.Background(), cfg, deps, slog.Default())
	require.NoError(t, o.Start(in))
	t.Cleanup(o.Close)
	return o, bc
}

func TestLanePublishesInOrderUnderJitter(t *testing.T) {
	cfg := testPipelineConfig(target("en"))
	cfg.Pipeline.LaneHighWater = 64

	jittery := funcTranslator(func(_ context.Context, text, _, toLang string) (string, error) {
		time.Sleep(time.Duration(rand.Intn(30)) * time.Millisecond)
		return "[" + toLang + "] " + text, nil
	})

	ids := make([]int64, 20)
	for i := range ids {
		ids[i] = int64(i)
	}

	_, bc := startOrchestrator(t, cfg, Deps{
		Recognizer: echoRecognizer(),
		Translator: jittery,
		Synth:      audioSynth(),
	}, feed(ids...))

	eventually(t, func() bool { return len(bc.Segments("en")) == len(ids) })
	assert.Equal(t, ids, laneIDs(bc, "en"))
}

func TestSlowLaneDoesNotDelayOthers(t *testing.T) {
	cfg := testPipelineConfig(target("en"), target("vi"))

	release := make(chan struct{})
	translator := funcTranslator(func(ctx context.Context, text, _, toLang string) (string, error) {
		if toLang == "vi" {
			select {
			case <-release:
			case <-ctx.Done():
				return "", translate.ErrTimeout
			}
		}
		return "[" + toLang + "] " + text, nil
	})

	o, bc := startOrchestrator(t, cfg, Deps{
		Recognizer: echoRecognizer(),
		Translator: translator,
		Synth:      audioSynth(),
	}, feed(0, 1, 2))

	// The fast lane finishes while the slow lane is still blocked.
	eventually(t, func() bool { return len(bc.Segments("en")) == 3 })
	assert.Empty(t, bc.Segments("vi"))
	close(release)

	eventually(t, func() bool {
		for _, status := range o.Snapshot() {
			if status.Lang == "vi" && status.Published+status.Skipped == 3 {
				return true
			}
		}
		return false
	})
}

func TestRecognitionFailureSkipsEveryLane(t *testing.T) {
	cfg := testPipelineConfig(target("en"), target("ko"))

	var calls atomic.Int64
	recognizer := funcRecognizer(func(_ context.Context, _ []byte, _, _ int) (recognize.Result, error) {
		if calls.Add(1) == 2 {
			return recognize.Result{}, recognize.ErrGarbled
		}
		return recognize.Result{Text: "hello", Confidence: 0.9}, nil
	})

	_, bc := startOrchestrator(t, cfg, Deps{
		Recognizer: recognizer,
		Translator: passthroughTranslator(),
		Synth:      audioSynth(),
	}, feed(0, 1, 2))

	eventually(t, func() bool {
		return len(bc.Segments("en")) == 2 && len(bc.Segments("ko")) == 2
	})
	assert.Equal(t, []int64{0, 2}, laneIDs(bc, "en"))
	assert.Equal(t, []int64{0, 2}, laneIDs(bc, "ko"))
}

func TestEmptyTranscriptCountsAsRecognitionFailure(t *testing.T) {
	cfg := testPipelineConfig(target("en"))

	var calls atomic.Int64
	recognizer := funcRecognizer(func(_ context.Context, _ []byte, _, _ int) (recognize.Result, error) {
		if calls.Add(1) == 1 {
			return recognize.Result{Text: ""}, nil
		}
		return recognize.Result{Text: "hello", Confidence: 0.9}, nil
	})

	o, bc := startOrchestrator(t, cfg, Deps{
		Recognizer: recognizer,
		Translator: passthroughTranslator(),
		Synth:      audioSynth(),
	}, feed(0, 1))

	eventually(t, func() bool { return len(bc.Segments("en")) == 1 })
	assert.Equal(t, []int64{1}, laneIDs(bc, "en"))
	assert.Equal(t, int64(1), o.recognitionFailures.Load())
	assert.Equal(t, int64(1), o.recognized.Load())
}

func TestBackpressureDropsAboveHighWater(t *testing.T) {
	cfg := testPipelineConfig(target("en"))
	cfg.Pipeline.LaneHighWater = 2
	cfg.Pipeline.LaneLowWater = 1
	cfg.Pipeline.TranslationTimeoutMS = 5000
	cfg.Pipeline.PublisherWaitMS = 5000

	release := make(chan struct{})
	blocked := funcTranslator(func(ctx context.Context, text, _, toLang string) (string, error) {
		select {
		case <-release:
			return "[" + toLang + "] " + text, nil
		case <-ctx.Done():
			return "", translate.ErrTimeout
		}
	})

	o, bc := startOrchestrator(t, cfg, Deps{
		Recognizer: echoRecognizer(),
		Translator: blocked,
		Synth:      audioSynth(),
	}, feed(0, 1, 2, 3, 4, 5))

	lane := o.lanes[0]
	eventually(t, func() bool { return lane.Dropped() == 4 })
	assert.Equal(t, LaneDegraded, lane.State())

	close(release)
	eventually(t, func() bool { return len(bc.Segments("en")) == 2 })
	assert.Equal(t, []int64{0, 1}, laneIDs(bc, "en"))

	_, skipped := o.pubs[0].Counts()
	assert.Equal(t, int64(4), skipped)
}

func TestDuplicateSubmissionIgnoredWhileInFlight(t *testing.T) {
	cfg := testPipelineConfig(target("en"))
	release := make(chan struct{})
	blocked := funcTranslator(func(ctx context.Context, text, _, toLang string) (string, error) {
		select {
		case <-release:
			return text, nil
		case <-ctx.Done():
			return "", translate.ErrTimeout
		}
	})

	o, bc := startOrchestrator(t, cfg, Deps{
		Recognizer: echoRecognizer(),
		Translator: blocked,
		Synth:      audioSynth(),
	}, feed())

	lane := o.lanes[0]
	u := utt(0)
	u.SourceText = "hello"
	lane.Submit(context.Background(), u)
	lane.Submit(context.Background(), u)
	assert.Equal(t, int64(1), lane.Pending())

	close(release)
	eventually(t, func() bool { return len(bc.Segments("en")) == 1 })
	assert.Equal(t, []int64{0}, laneIDs(bc, "en"))
}

func TestGracefulShutdownDrainsInFlight(t *testing.T) {
	cfg := testPipelineConfig(target("en"))

	bc := transport.NewMockBroadcaster()
	o := New(context.Background(), cfg, Deps{
		Recognizer:  echoRecognizer(),
		Translator:  passthroughTranslator(),
		Synth:       audioSynth(),
		Broadcaster: bc,
	}, slog.Default())
	require.NoError(t, o.Start(feed(0, 1)))

	o.Close()
	assert.Equal(t, []int64{0, 1}, laneIDs(bc, "en"))
	assert.True(t, bc.Closed("en"))
	assert.False(t, o.Healthy())
}

// One source utterance fanned out to three lanes: a clean primary path, a
// terminal translation failure, and a primary synthesis failure that falls
// back to the generic voice.
func TestFanOutWithMixedLaneOutcomes(t *testing.T) {
	cfg := testPipelineConfig(target("en"), target("vi"), target("ko"))

	recognizer := funcRecognizer(func(_ context.Context, _ []byte, _, _ int) (recognize.Result, error) {
		return recognize.Result{Text: "你好", Confidence: 0.95}, nil
	})

	translator := funcTranslator(func(_ context.Context, _, _, toLang string) (string, error) {
		switch toLang {
		case "en":
			return "Hello", nil
		case "ko":
			return "안녕하세요", nil
		default:
			return "", translate.ErrTimeout
		}
	})

	primary := funcSynth(func(_ context.Context, req synth.Request) ([]byte, error) {
		if req.Lang == "ko" {
			return nil, synth.ErrProfileNotReady
		}
		return []byte{0, 1}, nil
	})
	secondary := funcSynth(func(_ context.Context, _ synth.Request) ([]byte, error) {
		return []byte{2, 3}, nil
	})

	o, bc := startOrchestrator(t, cfg, Deps{
		Recognizer: recognizer,
		Translator: translator,
		Synth:      synth.NewChain(primary, secondary, time.Second, slog.Default()),
	}, feed(0))

	eventually(t, func() bool {
		return len(bc.Segments("en")) == 1 && len(bc.Segments("ko")) == 1
	})

	assert.Equal(t, "primary", bc.Segments("en")[0].Source)
	assert.Equal(t, "secondary", bc.Segments("ko")[0].Source)
	assert.Empty(t, bc.Segments("vi"))

	eventually(t, func() bool {
		for _, status := range o.Snapshot() {
			if status.Lang == "vi" && status.Skipped == 1 {
				return true
			}
		}
		return false
	})
}
