package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/livebabel/babel-core/internal/bus"
	"github.com/livebabel/babel-core/internal/config"
	"github.com/livebabel/babel-core/internal/protocol"
	"github.com/livebabel/babel-core/internal/segment"
)

// Service feeds captured audio into the segmenter. In bus mode it consumes
// audio frames published by capture devices; in sim mode it generates a
// synthetic speech/silence pattern so the pipeline can run without hardware.
type Service struct {
	cfg    config.IngressConfig
	segCfg config.SegmenterConfig
	bus    *bus.Client
	seg    *segment.Segmenter
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	sub    *nats.Subscription
	wg     sync.WaitGroup
	ready  bool
	frames atomic.Int64
}

func NewService(parent context.Context, cfg config.IngressConfig, segCfg config.SegmenterConfig,
	busClient *bus.Client, seg *segment.Segmenter, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:    cfg,
		segCfg: segCfg,
		bus:    busClient,
		seg:    seg,
		logger: logger.With(slog.String("component", "ingress")),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Service) Start() error {
	switch s.cfg.Mode {
	case "bus":
		subject := protocol.SubjectAudioFramePrefix + ".>"
		sub, err := s.bus.Conn().Subscribe(subject, s.handleFrame)
		if err != nil {
			return fmt.Errorf("subscribe audio frames: %w", err)
		}
		s.sub = sub
	case "sim":
		s.wg.Add(1)
		go s.simLoop()
	default:
		return fmt.Errorf("unknown ingress mode %q", s.cfg.Mode)
	}
	s.ready = true
	return nil
}

// Close stops the intake and flushes any partial utterance so nothing
// captured before shutdown is lost.
func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
	s.seg.Close()
}

func (s *Service) Healthy() bool {
	return s.ready
}

// Frames returns the number of audio frames consumed so far.
func (s *Service) Frames() int64 {
	return s.frames.Load()
}

func (s *Service) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.logger.Warn("failed to decode audio frame", slogError(err))
		return
	}
	if frame.SampleRate != 0 && frame.SampleRate != s.segCfg.SampleRate {
		s.logger.Warn("dropping frame with mismatched sample rate",
			slog.String("session_id", frame.SessionID),
			slog.Int("sample_rate", frame.SampleRate))
		return
	}

	s.frames.Add(1)
	s.seg.Feed(frame.PCM)
	if frame.Final {
		s.seg.Flush()
	}
}

// simLoop alternates one-second bursts of tone with one second of silence,
// which the segmenter carves into utterances the same way it would live
// microphone input.
func (s *Service) simLoop() {
	defer s.wg.Done()

	interval := time.Duration(s.cfg.SimIntervalMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	elapsed := time.Duration(0)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			speaking := (elapsed/time.Second)%2 == 0
			s.frames.Add(1)
			s.seg.Feed(s.simFrame(interval, speaking))
			elapsed += interval
		}
	}
}

func (s *Service) simFrame(d time.Duration, speaking bool) []byte {
	samples := int(float64(s.segCfg.SampleRate) * d.Seconds() * float64(s.segCfg.Channels))
	pcm := make([]byte, samples*2)
	if !speaking {
		return pcm
	}
	for i := 0; i < samples; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(s.segCfg.SampleRate)))
		pcm[2*i] = byte(v)
		pcm[2*i+1] = byte(v >> 8)
	}
	return pcm
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
