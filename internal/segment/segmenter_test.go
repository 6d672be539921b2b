package segment

import (
	"encoding/binary"
	"log/slog"
	"os"
	"testing"

	"github.com/livebabel/babel-core/internal/config"
)

func testConfig() config.SegmenterConfig {
	return config.SegmenterConfig{
		SampleRate:      16000,
		Channels:        1,
		EnergyThreshold: 0.01,
		SilenceMS:       100,
		MinUtteranceMS:  50,
		MaxUtteranceMS:  1000,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func pcmTone(cfg config.SegmenterConfig, ms int) []byte {
	samples := cfg.SampleRate * ms / 1000
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(8000)))
	}
	return buf
}

func pcmSilence(cfg config.SegmenterConfig, ms int) []byte {
	samples := cfg.SampleRate * ms / 1000
	return make([]byte, samples*2)
}

func drain(s *Segmenter) []Utterance {
	var out []Utterance
	for {
		select {
		case u, ok := <-s.Utterances():
			if !ok {
				return out
			}
			out = append(out, u)
		default:
			return out
		}
	}
}

func TestSilenceClosesUtterance(t *testing.T) {
	cfg := testConfig()
	s := New(cfg, "zh", testLogger())

	s.Feed(pcmTone(cfg, 200))
	s.Feed(pcmSilence(cfg, 200))

	got := drain(s)
	if len(got) != 1 {
		t.Fatalf("expected 1 utterance, got %d", len(got))
	}
	if got[0].ID != 0 {
		t.Fatalf("expected first id 0, got %d", got[0].ID)
	}
	if got[0].SourceLang != "zh" {
		t.Fatalf("expected source lang zh, got %q", got[0].SourceLang)
	}
	minBytes := cfg.SampleRate * 200 / 1000 * 2
	if len(got[0].Audio) < minBytes {
		t.Fatalf("expected at least %d audio bytes, got %d", minBytes, len(got[0].Audio))
	}
}

func TestNoiseDiscardedWithoutIDGap(t *testing.T) {
	cfg := testConfig()
	s := New(cfg, "zh", testLogger())

	// 20ms burst is below the 50ms minimum and must not consume an id.
	s.Feed(pcmTone(cfg, 20))
	s.Feed(pcmSilence(cfg, 200))
	s.Feed(pcmTone(cfg, 200))
	s.Feed(pcmSilence(cfg, 200))

	got := drain(s)
	if len(got) != 1 {
		t.Fatalf("expected 1 utterance, got %d", len(got))
	}
	if got[0].ID != 0 {
		t.Fatalf("discarded noise must not consume ids, got id %d", got[0].ID)
	}
}

func TestMaxDurationForcesClose(t *testing.T) {
	cfg := testConfig()
	s := New(cfg, "zh", testLogger())

	s.Feed(pcmTone(cfg, 2500))
	s.Feed(pcmSilence(cfg, 200))

	got := drain(s)
	if len(got) != 3 {
		t.Fatalf("expected 3 force-closed utterances, got %d", len(got))
	}
	for i, u := range got {
		if u.ID != int64(i) {
			t.Fatalf("expected strictly increasing ids, got %v at %d", u.ID, i)
		}
	}
}

func TestCloseFlushesActiveSpan(t *testing.T) {
	cfg := testConfig()
	s := New(cfg, "zh", testLogger())

	s.Feed(pcmTone(cfg, 300))
	s.Close()

	var got []Utterance
	for u := range s.Utterances() {
		got = append(got, u)
	}
	if len(got) != 1 {
		t.Fatalf("expected trailing span flushed on close, got %d", len(got))
	}

	// Feeding after close is a no-op.
	s.Feed(pcmTone(cfg, 300))
}
