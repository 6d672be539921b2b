package voiceprofile

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/livebabel/babel-core/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type buildFunc func(ctx context.Context, speakerID, sampleRef string) (string, error)

func (f buildFunc) Build(ctx context.Context, speakerID, sampleRef string) (string, error) {
	return f(ctx, speakerID, sampleRef)
}

func testLifecycle(t *testing.T, builder Builder) *Lifecycle {
	t.Helper()
	dir := t.TempDir()
	cfg := config.ProfilesConfig{
		Path:           filepath.Join(dir, "profiles.db"),
		SampleDir:      filepath.Join(dir, "samples"),
		ArtifactDir:    filepath.Join(dir, "artifacts"),
		BuildTimeoutMS: 5000,
		Workers:        1,
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	store, err := Open(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	lc := NewLifecycle(context.Background(), cfg, store, builder, logger)
	require.NoError(t, lc.Start())
	t.Cleanup(lc.Close)
	return lc
}

func wavSample(t *testing.T) []byte {
	t.Helper()
	file, err := os.CreateTemp(t.TempDir(), "sample_*.wav")
	require.NoError(t, err)
	defer file.Close()

	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: 1, SampleRate: 16000},
		Data:   make([]int, 16000),
	}
	enc := wav.NewEncoder(file, 16000, 16, 1, 1)
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())

	data, err := os.ReadFile(file.Name())
	require.NoError(t, err)
	return data
}

func waitForTerminal(t *testing.T, lc *Lifecycle, speakerID string) Profile {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		p, err := lc.Status(context.Background(), speakerID)
		require.NoError(t, err)
		if p.Status != StatusPending {
			return p
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("profile %s never left pending", speakerID)
	return Profile{}
}

func TestSubmitReturnsPendingImmediately(t *testing.T) {
	release := make(chan struct{})
	builder := buildFunc(func(ctx context.Context, speakerID, _ string) (string, error) {
		select {
		case <-release:
			return "/tmp/" + speakerID + ".profile", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	lc := testLifecycle(t, builder)

	speakerID, err := lc.Submit(context.Background(), wavSample(t))
	require.NoError(t, err)
	require.NotEmpty(t, speakerID)

	p, err := lc.Status(context.Background(), speakerID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, p.Status)

	close(release)
	p = waitForTerminal(t, lc, speakerID)
	assert.Equal(t, StatusReady, p.Status)
	assert.NotEmpty(t, p.ArtifactRef)
}

func TestFailedBuildSurfacesReason(t *testing.T) {
	builder := buildFunc(func(context.Context, string, string) (string, error) {
		return "", errors.New("sample too noisy")
	})
	lc := testLifecycle(t, builder)

	speakerID, err := lc.Submit(context.Background(), wavSample(t))
	require.NoError(t, err)

	p := waitForTerminal(t, lc, speakerID)
	assert.Equal(t, StatusFailed, p.Status)
	assert.Contains(t, p.FailureReason, "sample too noisy")
}

func TestSubmitRejectsInvalidSample(t *testing.T) {
	builder := buildFunc(func(context.Context, string, string) (string, error) {
		return "", nil
	})
	lc := testLifecycle(t, builder)

	_, err := lc.Submit(context.Background(), []byte("not a wav"))
	assert.Error(t, err)
}

func TestNewSubmissionsCreateDistinctSpeakers(t *testing.T) {
	builder := buildFunc(func(_ context.Context, speakerID, _ string) (string, error) {
		return "/tmp/" + speakerID + ".profile", nil
	})
	lc := testLifecycle(t, builder)

	sample := wavSample(t)
	first, err := lc.Submit(context.Background(), sample)
	require.NoError(t, err)
	second, err := lc.Submit(context.Background(), sample)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	firstProfile := waitForTerminal(t, lc, first)
	secondProfile := waitForTerminal(t, lc, second)
	assert.Equal(t, StatusReady, firstProfile.Status)
	assert.Equal(t, StatusReady, secondProfile.Status)
	assert.NotEqual(t, firstProfile.ArtifactRef, secondProfile.ArtifactRef)
}
