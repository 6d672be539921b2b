package publish

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livebabel/babel-core/internal/transport"
)

func newTestPublisher(t *testing.T, wait time.Duration) (*Publisher, *transport.MockBroadcaster) {
	t.Helper()
	bc := transport.NewMockBroadcaster()
	p := New(context.Background(), "en", bc, wait, slog.Default())
	require.NoError(t, p.Start())
	t.Cleanup(p.Close)
	return p, bc
}

func seg(id int64) transport.Segment {
	return transport.Segment{
		UtteranceID: id,
		SampleRate:  24000,
		Channels:    1,
		PCM:         []byte{0, 0},
		Source:      "primary",
		CapturedAt:  time.Now(),
	}
}

func publishedIDs(bc *transport.MockBroadcaster) []int64 {
	segs := bc.Segments("en")
	ids := make([]int64, 0, len(segs))
	for _, s := range segs {
		ids = append(ids, s.UtteranceID)
	}
	return ids
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestReleasesOutOfOrderArrivalsInOrder(t *testing.T) {
	p, bc := newTestPublisher(t, 2*time.Second)

	p.Enqueue(seg(0))
	p.Enqueue(seg(2))
	p.Enqueue(seg(1))

	waitFor(t, func() bool { return len(bc.Segments("en")) == 3 })
	assert.Equal(t, []int64{0, 1, 2}, publishedIDs(bc))
	assert.Equal(t, int64(2), p.LastPublishedSeq())
}

func TestStragglerSkippedAfterWait(t *testing.T) {
	p, bc := newTestPublisher(t, 40*time.Millisecond)

	p.Enqueue(seg(1))
	waitFor(t, func() bool { return len(bc.Segments("en")) == 1 })
	assert.Equal(t, []int64{1}, publishedIDs(bc))

	// The straggler finally shows up and must be dropped, not replayed.
	p.Enqueue(seg(0))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []int64{1}, publishedIDs(bc))

	published, skipped := p.Counts()
	assert.Equal(t, int64(1), published)
	assert.Equal(t, int64(1), skipped)
}

func TestSkipAdvancesWithoutWaiting(t *testing.T) {
	p, bc := newTestPublisher(t, 10*time.Second)

	p.Skip(0)
	p.Enqueue(seg(1))

	waitFor(t, func() bool { return len(bc.Segments("en")) == 1 })
	assert.Equal(t, []int64{1}, publishedIDs(bc))

	_, skipped := p.Counts()
	assert.Equal(t, int64(1), skipped)
}

func TestDuplicateEnqueueDiscarded(t *testing.T) {
	p, bc := newTestPublisher(t, 2*time.Second)

	p.Enqueue(seg(0))
	waitFor(t, func() bool { return len(bc.Segments("en")) == 1 })

	p.Enqueue(seg(0))
	p.Enqueue(seg(1))
	waitFor(t, func() bool { return len(bc.Segments("en")) == 2 })

	assert.Equal(t, []int64{0, 1}, publishedIDs(bc))
	published, _ := p.Counts()
	assert.Equal(t, int64(2), published)
}

func TestCloseFinalizesTrack(t *testing.T) {
	bc := transport.NewMockBroadcaster()
	p := New(context.Background(), "en", bc, time.Second, slog.Default())
	require.NoError(t, p.Start())

	p.Enqueue(seg(0))
	waitFor(t, func() bool { return len(bc.Segments("en")) == 1 })

	p.Close()
	assert.True(t, bc.Closed("en"))
}
