package synth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/livebabel/babel-core/internal/config"
)

type httpSynth struct {
	endpoint string
	client   *http.Client
}

type httpSynthRequest struct {
	Text        string `json:"text"`
	Lang        string `json:"lang"`
	Voice       string `json:"voice,omitempty"`
	ArtifactRef string `json:"artifact_ref,omitempty"`
	SampleRate  int    `json:"sample_rate"`
	Channels    int    `json:"channels"`
}

type httpSynthResponse struct {
	PCMBase64 string `json:"pcm_base64"`
	Error     string `json:"error,omitempty"`
}

// NewHTTPSynth targets an edge-tts proxy style endpoint exposing
// POST /v1/synthesize.
func NewHTTPSynth(cfg config.SynthBackendConfig) Synthesizer {
	return &httpSynth{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		client:   http.DefaultClient,
	}
}

func (h *httpSynth) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	return h.synthesize(ctx, httpSynthRequest{
		Text:       req.Text,
		Lang:       req.Lang,
		Voice:      req.Voice,
		SampleRate: req.SampleRate,
		Channels:   req.Channels,
	})
}

func (h *httpSynth) synthesize(ctx context.Context, payload httpSynthRequest) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint+"/v1/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: synthesizer returned status %s", ErrServiceUnavailable, resp.Status)
	}

	var out httpSynthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode synthesis response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrServiceUnavailable, out.Error)
	}
	pcm, err := base64.StdEncoding.DecodeString(out.PCMBase64)
	if err != nil {
		return nil, fmt.Errorf("decode synthesis payload: %w", err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("%w: empty synthesis payload", ErrServiceUnavailable)
	}
	return pcm, nil
}
