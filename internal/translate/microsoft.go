package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/livebabel/babel-core/internal/config"
)

type microsoftTranslator struct {
	endpoint string
	apiKey   string
	region   string
	client   *http.Client
}

type microsoftResponse []struct {
	Translations []struct {
		Text string `json:"text"`
		To   string `json:"to"`
	} `json:"translations"`
}

func NewMicrosoftTranslator(cfg config.TranslatorBackend) Translator {
	return &microsoftTranslator{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		region:   cfg.Region,
		client:   http.DefaultClient,
	}
}

func (m *microsoftTranslator) Translate(ctx context.Context, text, fromLang, toLang string) (string, error) {
	query := url.Values{}
	query.Set("api-version", "3.0")
	query.Set("from", fromLang)
	query.Set("to", toLang)

	body, err := json.Marshal([]map[string]string{{"Text": text}})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint+"/translate?"+query.Encode(), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", m.apiKey)
	req.Header.Set("Ocp-Apim-Subscription-Region", m.region)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", ErrTimeout
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden:
		return "", ErrQuotaExceeded
	case resp.StatusCode == http.StatusBadRequest:
		return "", fmt.Errorf("%w: %s -> %s", ErrUnsupported, fromLang, toLang)
	case resp.StatusCode >= 300:
		return "", fmt.Errorf("%w: translator returned status %s", ErrUnavailable, resp.Status)
	}

	var out microsoftResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode translator response: %w", err)
	}
	if len(out) == 0 || len(out[0].Translations) == 0 {
		return "", fmt.Errorf("%w: empty translator response", ErrUnavailable)
	}
	return out[0].Translations[0].Text, nil
}
