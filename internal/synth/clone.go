package synth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/livebabel/babel-core/internal/config"
)

// cloneSynth renders speech in a cloned voice. It resolves the active
// speaker's profile artifact first; a missing or unready profile yields
// ErrProfileNotReady so the fallback chain can take over without waiting.
type cloneSynth struct {
	profiles ProfileSource
	engine   *httpSynth
}

func NewCloneSynth(cfg config.SynthBackendConfig, profiles ProfileSource) Synthesizer {
	c := &cloneSynth{profiles: profiles}
	if cfg.Endpoint != "" {
		c.engine = &httpSynth{
			endpoint: strings.TrimRight(cfg.Endpoint, "/"),
			client:   http.DefaultClient,
		}
	}
	return c
}

func (c *cloneSynth) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if req.SpeakerID == "" {
		return nil, fmt.Errorf("%w: no active speaker", ErrProfileNotReady)
	}
	artifact, err := c.profiles.ArtifactRef(ctx, req.SpeakerID)
	if err != nil {
		return nil, err
	}

	if c.engine == nil {
		// No clone engine configured; without one the profile cannot be
		// rendered and the secondary path has to carry the lane.
		return nil, fmt.Errorf("%w: no clone engine configured", ErrServiceUnavailable)
	}

	return c.engine.synthesize(ctx, httpSynthRequest{
		Text:        req.Text,
		Lang:        req.Lang,
		ArtifactRef: artifact,
		SampleRate:  req.SampleRate,
		Channels:    req.Channels,
	})
}
