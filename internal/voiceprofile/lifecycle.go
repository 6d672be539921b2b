package voiceprofile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-audio/wav"
	"github.com/google/uuid"
	"github.com/livebabel/babel-core/internal/config"
)

// ErrQueueFull is returned by Submit when the build backlog is saturated.
var ErrQueueFull = errors.New("voice profile build queue full")

// Lifecycle accepts voice samples and drives the asynchronous profile
// build. Submit never blocks on the build itself: it records a pending
// profile and hands the work to background workers. A new sample always
// creates a new speaker id; existing profiles are never rebuilt in place.
type Lifecycle struct {
	cfg     config.ProfilesConfig
	store   *Store
	builder Builder
	logger  *slog.Logger
	queue   chan queuedBuild
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type queuedBuild struct {
	speakerID string
	sampleRef string
}

func NewLifecycle(parent context.Context, cfg config.ProfilesConfig, store *Store, builder Builder, logger *slog.Logger) *Lifecycle {
	ctx, cancel := context.WithCancel(parent)
	return &Lifecycle{
		cfg:     cfg,
		store:   store,
		builder: builder,
		logger:  logger.With(slog.String("component", "voice-profiles")),
		queue:   make(chan queuedBuild, 256),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the build workers and re-queues any builds interrupted by
// a previous shutdown.
func (l *Lifecycle) Start() error {
	pending, err := l.store.Pending(l.ctx)
	if err != nil {
		return fmt.Errorf("list pending profiles: %w", err)
	}
	for _, p := range pending {
		select {
		case l.queue <- queuedBuild{speakerID: p.SpeakerID, sampleRef: p.SampleRef}:
		default:
			l.logger.Warn("pending profile not re-queued, backlog full",
				slog.String("speaker_id", p.SpeakerID))
		}
	}

	for i := 0; i < l.cfg.Workers; i++ {
		l.wg.Add(1)
		go l.worker()
	}
	return nil
}

func (l *Lifecycle) Close() {
	l.cancel()
	l.wg.Wait()
}

// Submit validates and stores a WAV voice sample, records a pending
// profile, and returns the new speaker id immediately.
func (l *Lifecycle) Submit(ctx context.Context, sample []byte) (string, error) {
	decoder := wav.NewDecoder(bytes.NewReader(sample))
	if !decoder.IsValidFile() {
		return "", errors.New("voice sample is not a valid WAV file")
	}

	if err := os.MkdirAll(l.cfg.SampleDir, 0o755); err != nil {
		return "", fmt.Errorf("create sample dir: %w", err)
	}

	speakerID := uuid.NewString()
	sampleRef := filepath.Join(l.cfg.SampleDir, speakerID+".wav")
	if err := os.WriteFile(sampleRef, sample, 0o644); err != nil {
		return "", fmt.Errorf("write voice sample: %w", err)
	}

	if err := l.store.Insert(ctx, speakerID, sampleRef); err != nil {
		return "", err
	}

	select {
	case l.queue <- queuedBuild{speakerID: speakerID, sampleRef: sampleRef}:
	default:
		reason := ErrQueueFull.Error()
		if err := l.store.MarkFailed(ctx, speakerID, reason); err != nil {
			l.logger.Error("failed to mark overflowed profile", slogError(err))
		}
		return "", ErrQueueFull
	}

	l.logger.Info("voice sample accepted",
		slog.String("speaker_id", speakerID),
		slog.Int("bytes", len(sample)))
	return speakerID, nil
}

// Status is a non-blocking read of a profile's build state.
func (l *Lifecycle) Status(ctx context.Context, speakerID string) (Profile, error) {
	return l.store.Get(ctx, speakerID)
}

func (l *Lifecycle) worker() {
	defer l.wg.Done()
	for {
		select {
		case <-l.ctx.Done():
			return
		case job := <-l.queue:
			l.runBuild(job)
		}
	}
}

func (l *Lifecycle) runBuild(job queuedBuild) {
	timeout := time.Duration(l.cfg.BuildTimeoutMS) * time.Millisecond
	ctx, cancel := context.WithTimeout(l.ctx, timeout)
	defer cancel()

	started := time.Now()
	artifact, err := l.builder.Build(ctx, job.speakerID, job.sampleRef)
	if err != nil {
		l.logger.Warn("voice profile build failed",
			slog.String("speaker_id", job.speakerID),
			slogError(err))
		if markErr := l.store.MarkFailed(context.Background(), job.speakerID, err.Error()); markErr != nil {
			l.logger.Error("failed to record build failure", slogError(markErr))
		}
		return
	}

	if err := l.store.MarkReady(context.Background(), job.speakerID, artifact); err != nil {
		l.logger.Error("failed to record build success", slogError(err))
		return
	}
	l.logger.Info("voice profile ready",
		slog.String("speaker_id", job.speakerID),
		slog.Duration("took", time.Since(started)))
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
