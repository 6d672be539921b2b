package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/livebabel/babel-core/internal/bus"
	"github.com/livebabel/babel-core/internal/protocol"
)

// natsBroadcaster publishes each language track on its own subject under
// the configured room, e.g. broadcast.audio.live-translator.en. Listeners
// subscribe to the subject for their language; there is no replay buffer,
// subscribers join at the live point.
type natsBroadcaster struct {
	bus    *bus.Client
	room   string
	logger *slog.Logger
}

func NewNATSBroadcaster(busClient *bus.Client, room string, logger *slog.Logger) Broadcaster {
	return &natsBroadcaster{
		bus:    busClient,
		room:   room,
		logger: logger.With(slog.String("component", "broadcaster")),
	}
}

func (b *natsBroadcaster) PublishTrack(_ context.Context, langCode string) (*Track, error) {
	if !b.bus.Healthy() {
		return nil, fmt.Errorf("publish track %s: bus not connected", langCode)
	}
	track := &Track{
		Lang:    langCode,
		Subject: fmt.Sprintf("%s.%s.%s", protocol.SubjectBroadcastPrefix, b.room, langCode),
	}
	b.logger.Info("track published",
		slog.String("lang", langCode),
		slog.String("subject", track.Subject))
	return track, nil
}

func (b *natsBroadcaster) PushSegment(_ context.Context, track *Track, seg Segment) error {
	msg := protocol.BroadcastSegment{
		Lang:        track.Lang,
		UtteranceID: seg.UtteranceID,
		SampleRate:  seg.SampleRate,
		Channels:    seg.Channels,
		PCM:         seg.PCM,
		Source:      seg.Source,
		CapturedAt:  seg.CapturedAt,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal broadcast segment: %w", err)
	}
	if err := b.bus.Conn().Publish(track.Subject, data); err != nil {
		return fmt.Errorf("push segment to %s: %w", track.Subject, err)
	}
	return nil
}

func (b *natsBroadcaster) CloseTrack(track *Track) error {
	msg := protocol.BroadcastSegment{
		Lang:       track.Lang,
		CapturedAt: time.Now().UTC(),
		Final:      true,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := b.bus.Conn().Publish(track.Subject, data); err != nil {
		return fmt.Errorf("close track %s: %w", track.Subject, err)
	}
	b.logger.Info("track closed", slog.String("lang", track.Lang))
	return nil
}
