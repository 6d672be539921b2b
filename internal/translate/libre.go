package translate

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

type libreTranslator struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

type libreRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

type libreResponse struct {
	TranslatedText string `json:"translatedText"`
	Error          string `json:"error,omitempty"`
}

func NewLibreTranslator(cfg config.TranslatorBackend) Translator {
	return &libreTranslator{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		client:   http.DefaultClient,
	}
}

func (l *libreTranslator) Translate(ctx context.Context, text, fromLang, toLang string) (string, error) {
	body, err := json.Marshal(libreRequest{
		Q:      text,
		Source: fromLang,
		Target: toLang,
		Format: "text",
		APIKey: l.apiKey,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint+"/translate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", ErrTimeout
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", ErrQuotaExceeded
	case resp.StatusCode == http.StatusBadRequest:
		return "", fmt.Errorf("%w: %s -> %s", ErrUnsupported, fromLang, toLang)
	case resp.StatusCode >= 300:
		return "", fmt.Errorf("%w: libretranslate returned status %s", ErrUnavailable, resp.Status)
	}

	var out libreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode libretranslate response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrUnavailable, out.Error)
	}
	return out.TranslatedText, nil
}
