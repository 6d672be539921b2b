package recognize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/livebabel/babel-core/internal/config"
)

type httpRecognizer struct {
	endpoint string
	client   *http.Client
}

type httpRequest struct {
	PCM        []byte `json:"pcm"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Model      string `json:"model,omitempty"`
}

type httpResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// NewHTTPRecognizer targets a whisper-server style endpoint exposing
// POST /v1/transcribe.
func NewHTTPRecognizer(cfg config.RecognizerConfig) Recognizer {
	return &httpRecognizer{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		client:   http.DefaultClient,
	}
}

func (r *httpRecognizer) Recognize(ctx context.Context, pcm []byte, sampleRate int, channels int) (Result, error) {
	body, err := json.Marshal(httpRequest{PCM: pcm, SampleRate: sampleRate, Channels: channels})
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/v1/transcribe", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, ErrTimeout
		}
		return Result{}, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("%w: recognizer returned status %s", ErrServiceUnavailable, resp.Status)
	}

	var out httpResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("%w: decode transcript: %v", ErrGarbled, err)
	}
	if strings.TrimSpace(out.Text) == "" {
		return Result{}, ErrGarbled
	}
	return Result{Text: out.Text, Confidence: out.Confidence}, nil
}
