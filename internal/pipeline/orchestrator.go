package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/livebabel/babel-core/internal/bus"
	"github.com/livebabel/babel-core/internal/config"
	"github.com/livebabel/babel-core/internal/protocol"
	"github.com/livebabel/babel-core/internal/publish"
	"github.com/livebabel/babel-core/internal/recognize"
	"github.com/livebabel/babel-core/internal/segment"
	"github.com/livebabel/babel-core/internal/synth"
	"github.com/livebabel/babel-core/internal/translate"
	"github.com/livebabel/babel-core/internal/transport"
)

// Deps are the stage implementations the orchestrator coordinates. Bus is
// optional; without it transcript and lane status events are not published.
type Deps struct {
	Recognizer  recognize.Recognizer
	Translator  translate.Translator
	Synth       *synth.Chain
	Broadcaster transport.Broadcaster
	Bus         *bus.Client
}

// Orchestrator drives utterances from the segmenter through recognition and
// fans each transcript out to one lane per target language. Lanes are fully
// independent: a stalled or degraded lane never delays the others.
type Orchestrator struct {
	cfg    config.Config
	deps   Deps
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	lanes []*Lane
	pubs  []*publish.Publisher

	speaker atomic.Value // string

	recognized          atomic.Int64
	recognitionFailures atomic.Int64

	consumeDone chan struct{}
	bgWG        sync.WaitGroup
	healthy     atomic.Bool
}

func New(parent context.Context, cfg config.Config, deps Deps, logger *slog.Logger) *Orchestrator {
	ctx, cancel := context.WithCancel(parent)
	o := &Orchestrator{
		cfg:         cfg,
		deps:        deps,
		logger:      logger.With(slog.String("component", "orchestrator")),
		ctx:         ctx,
		cancel:      cancel,
		consumeDone: make(chan struct{}),
	}
	o.speaker.Store("")

	wait := time.Duration(cfg.Pipeline.PublisherWaitMS) * time.Millisecond
	for _, target := range cfg.Pipeline.Targets {
		pub := publish.New(ctx, target.Code, deps.Broadcaster, wait, logger)
		o.pubs = append(o.pubs, pub)
		o.lanes = append(o.lanes, newLane(target, cfg.Pipeline, cfg.Synthesis,
			deps.Translator, deps.Synth, pub, o.Speaker, logger))
	}
	return o
}

// Start opens every lane's broadcast track and begins consuming utterances.
func (o *Orchestrator) Start(in <-chan segment.Utterance) error {
	for _, pub := range o.pubs {
		if err := pub.Start(); err != nil {
			return err
		}
	}

	if err := o.initMetrics(); err != nil {
		o.logger.Warn("failed to initialize metrics", slogError(err))
	}

	o.healthy.Store(true)
	go o.consume(in)

	if o.deps.Bus != nil && o.cfg.Pipeline.StatusIntervalMS > 0 {
		o.bgWG.Add(1)
		go o.statusLoop()
	}
	return nil
}

// Close drains in-flight work for the configured grace period, then cuts
// everything that remains. The utterance channel must already be closed by
// the ingress side for the drain to complete.
func (o *Orchestrator) Close() {
	grace := time.Duration(o.cfg.Pipeline.ShutdownGraceMS) * time.Millisecond

	drained := make(chan struct{})
	go func() {
		<-o.consumeDone
		for _, lane := range o.lanes {
			lane.Wait()
		}
		close(drained)
	}()

	select {
	case <-drained:
		o.logger.Info("pipeline drained")
	case <-time.After(grace):
		o.logger.Warn("shutdown grace elapsed, abandoning in-flight utterances")
	}

	for _, pub := range o.pubs {
		pub.Close()
	}
	o.cancel()
	o.bgWG.Wait()
	o.healthy.Store(false)
}

func (o *Orchestrator) Healthy() bool {
	return o.healthy.Load()
}

// SetSpeaker switches the active cloned-voice speaker for all lanes. An
// empty id reverts lanes to generic synthesis only.
func (o *Orchestrator) SetSpeaker(id string) {
	o.speaker.Store(id)
	o.logger.Info("active speaker changed", slog.String("speaker_id", id))
}

func (o *Orchestrator) Speaker() string {
	return o.speaker.Load().(string)
}

func (o *Orchestrator) consume(in <-chan segment.Utterance) {
	defer close(o.consumeDone)

	timeout := time.Duration(o.cfg.Pipeline.RecognitionTimeoutMS) * time.Millisecond
	for {
		select {
		case <-o.ctx.Done():
			return
		case utt, ok := <-in:
			if !ok {
				return
			}
			o.handle(utt, timeout)
		}
	}
}

func (o *Orchestrator) handle(utt segment.Utterance, timeout time.Duration) {
	rctx, cancel := context.WithTimeout(o.ctx, timeout)
	result, err := o.deps.Recognizer.Recognize(rctx, utt.Audio, utt.SampleRate, utt.Channels)
	cancel()
	if err != nil {
		o.recognitionFailures.Add(1)
		o.logger.Warn("recognition failed, dropping utterance",
			slog.Int64("id", utt.ID), slogError(err))
		o.skipAll(utt.ID)
		return
	}
	if result.Text == "" {
		o.recognitionFailures.Add(1)
		o.logger.Debug("recognition produced no text", slog.Int64("id", utt.ID))
		o.skipAll(utt.ID)
		return
	}

	utt.SourceText = result.Text
	o.recognized.Add(1)
	o.publishTranscript(utt, result)

	// Fan out to every lane before awaiting anything: slow languages must
	// not delay fast ones.
	for _, lane := range o.lanes {
		lane.Submit(o.ctx, utt)
	}
}

// skipAll releases the utterance slot on every lane so publishers do not
// wait out their straggler timeout for audio that will never arrive.
func (o *Orchestrator) skipAll(utteranceID int64) {
	for _, lane := range o.lanes {
		lane.Skip(utteranceID)
	}
}

func (o *Orchestrator) publishTranscript(utt segment.Utterance, result recognize.Result) {
	if o.deps.Bus == nil {
		return
	}
	err := o.deps.Bus.PublishJSON(protocol.SubjectTranscriptRecognized, map[string]any{
		"utterance_id": utt.ID,
		"lang":         utt.SourceLang,
		"text":         result.Text,
		"confidence":   result.Confidence,
		"captured_at":  utt.CapturedAt,
	})
	if err != nil {
		o.logger.Warn("failed to publish transcript", slogError(err))
	}
}

// Snapshot reports the current state of every lane.
func (o *Orchestrator) Snapshot() []protocol.LaneStatus {
	now := time.Now().UTC()
	statuses := make([]protocol.LaneStatus, 0, len(o.lanes))
	for i, lane := range o.lanes {
		published, skipped := o.pubs[i].Counts()
		statuses = append(statuses, protocol.LaneStatus{
			Lang:             lane.code,
			DisplayName:      lane.displayName,
			State:            lane.State().String(),
			Pending:          int(lane.Pending()),
			LastPublishedSeq: o.pubs[i].LastPublishedSeq(),
			Published:        published,
			Skipped:          skipped,
			Timestamp:        now,
		})
	}
	return statuses
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
