package publish

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/livebabel/babel-core/internal/transport"
)

// Publisher owns the broadcast track for one language and releases
// synthesized segments strictly in utterance-id order. If the next expected
// id has not arrived within the configured wait while a later id is ready,
// the missing id is skipped for good: a live lane never blocks on a
// straggler and never reorders.
type Publisher struct {
	lang   string
	wait   time.Duration
	bc     transport.Broadcaster
	logger *slog.Logger

	track  *transport.Track
	in     chan laneEvent
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	lastPublished atomic.Int64
	published     atomic.Int64
	skipped       atomic.Int64
}

type laneEvent struct {
	id    int64
	seg   transport.Segment
	skip  bool
	flush chan struct{}
}

type pendingEntry struct {
	seg  transport.Segment
	skip bool
}

func New(parent context.Context, lang string, bc transport.Broadcaster, wait time.Duration, logger *slog.Logger) *Publisher {
	ctx, cancel := context.WithCancel(parent)
	p := &Publisher{
		lang:   lang,
		wait:   wait,
		bc:     bc,
		logger: logger.With(slog.String("component", "publisher"), slog.String("lang", lang)),
		in:     make(chan laneEvent, 128),
		ctx:    ctx,
		cancel: cancel,
	}
	p.lastPublished.Store(-1)
	return p
}

// Start opens the broadcast track and launches the release loop.
func (p *Publisher) Start() error {
	track, err := p.bc.PublishTrack(p.ctx, p.lang)
	if err != nil {
		return err
	}
	p.track = track

	p.wg.Add(1)
	go p.run()
	return nil
}

// Close flushes already-queued segments, stops the release loop, and tears
// the track down. Segments stuck behind a gap are abandoned, not waited for.
func (p *Publisher) Close() {
	flushed := make(chan struct{})
	select {
	case p.in <- laneEvent{flush: flushed}:
		select {
		case <-flushed:
		case <-p.ctx.Done():
		}
	case <-p.ctx.Done():
	}

	p.cancel()
	p.wg.Wait()
	if p.track != nil {
		if err := p.bc.CloseTrack(p.track); err != nil {
			p.logger.Warn("failed to close track", slogError(err))
		}
	}
}

// Enqueue hands a synthesized segment to the release loop.
func (p *Publisher) Enqueue(seg transport.Segment) {
	select {
	case p.in <- laneEvent{id: seg.UtteranceID, seg: seg}:
	case <-p.ctx.Done():
	}
}

// Skip tells the release loop that an utterance will never arrive for this
// lane, so the gap does not have to time out.
func (p *Publisher) Skip(utteranceID int64) {
	select {
	case p.in <- laneEvent{id: utteranceID, skip: true}:
	case <-p.ctx.Done():
	}
}

// LastPublishedSeq returns the highest utterance id released so far, or -1.
func (p *Publisher) LastPublishedSeq() int64 {
	return p.lastPublished.Load()
}

// Counts returns the number of released and skipped utterances.
func (p *Publisher) Counts() (published, skipped int64) {
	return p.published.Load(), p.skipped.Load()
}

func (p *Publisher) run() {
	defer p.wg.Done()

	next := int64(0)
	pending := make(map[int64]pendingEntry)

	timer := time.NewTimer(p.wait)
	if !timer.Stop() {
		<-timer.C
	}
	timerRunning := false

	for {
		next = p.release(next, pending)

		// Arm the straggler timer only while a gap is holding back a
		// later segment.
		gap := len(pending) > 0
		if gap && !timerRunning {
			timer.Reset(p.wait)
			timerRunning = true
		} else if !gap && timerRunning {
			if !timer.Stop() {
				<-timer.C
			}
			timerRunning = false
		}

		select {
		case ev := <-p.in:
			if ev.flush != nil {
				close(ev.flush)
				continue
			}
			if ev.id < next {
				// Late straggler or duplicate of an already-released id.
				p.logger.Debug("discarding stale segment", slog.Int64("id", ev.id))
				continue
			}
			if _, dup := pending[ev.id]; dup {
				continue
			}
			pending[ev.id] = pendingEntry{seg: ev.seg, skip: ev.skip}
		case <-timer.C:
			timerRunning = false
			next = p.skipTo(next, pending)
		case <-p.ctx.Done():
			return
		}
	}
}

// release publishes every consecutive segment starting at next and returns
// the new next-expected id.
func (p *Publisher) release(next int64, pending map[int64]pendingEntry) int64 {
	for {
		entry, ok := pending[next]
		if !ok {
			return next
		}
		delete(pending, next)
		if entry.skip {
			p.skipped.Add(1)
		} else {
			p.push(entry.seg)
		}
		next++
	}
}

// skipTo abandons the current gap, jumping to the smallest buffered id.
func (p *Publisher) skipTo(next int64, pending map[int64]pendingEntry) int64 {
	if len(pending) == 0 {
		return next
	}
	lowest := int64(-1)
	for id := range pending {
		if lowest == -1 || id < lowest {
			lowest = id
		}
	}
	p.skipped.Add(lowest - next)
	p.logger.Warn("skipping stragglers to keep lane live",
		slog.Int64("from", next),
		slog.Int64("to", lowest))
	return lowest
}

func (p *Publisher) push(seg transport.Segment) {
	if err := p.bc.PushSegment(p.ctx, p.track, seg); err != nil {
		p.logger.Warn("failed to push segment", slog.Int64("id", seg.UtteranceID), slogError(err))
		return
	}
	p.lastPublished.Store(seg.UtteranceID)
	p.published.Add(1)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
