package transport

import (
	"context"
	"fmt"
	"sync"
)

// MockBroadcaster records segments in memory. Used by tests and by the
// transport "mock" mode for running the pipeline without a bus.
type MockBroadcaster struct {
	mu       sync.Mutex
	segments map[string][]Segment
	closed   map[string]bool
}

func NewMockBroadcaster() *MockBroadcaster {
	return &MockBroadcaster{
		segments: make(map[string][]Segment),
		closed:   make(map[string]bool),
	}
}

func (m *MockBroadcaster) PublishTrack(_ context.Context, langCode string) (*Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.segments[langCode]; exists {
		return nil, fmt.Errorf("track %s already published", langCode)
	}
	m.segments[langCode] = nil
	return &Track{Lang: langCode, Subject: "mock." + langCode}, nil
}

func (m *MockBroadcaster) PushSegment(_ context.Context, track *Track, seg Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed[track.Lang] {
		return fmt.Errorf("track %s is closed", track.Lang)
	}
	m.segments[track.Lang] = append(m.segments[track.Lang], seg)
	return nil
}

func (m *MockBroadcaster) CloseTrack(track *Track) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed[track.Lang] = true
	return nil
}

// Segments returns a copy of everything pushed for one language.
func (m *MockBroadcaster) Segments(langCode string) []Segment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Segment(nil), m.segments[langCode]...)
}

// Closed reports whether the track for langCode has been torn down.
func (m *MockBroadcaster) Closed(langCode string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed[langCode]
}
