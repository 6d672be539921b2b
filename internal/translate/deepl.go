package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/livebabel/babel-core/internal/config"
)

type deeplTranslator struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

type deeplResponse struct {
	Translations []struct {
		Text string `json:"text"`
	} `json:"translations"`
}

func NewDeepLTranslator(cfg config.TranslatorBackend) Translator {
	return &deeplTranslator{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		client:   http.DefaultClient,
	}
}

func (d *deeplTranslator) Translate(ctx context.Context, text, fromLang, toLang string) (string, error) {
	form := url.Values{}
	form.Set("text", text)
	form.Set("source_lang", strings.ToUpper(fromLang))
	form.Set("target_lang", strings.ToUpper(toLang))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+"/v2/translate", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "DeepL-Auth-Key "+d.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", ErrTimeout
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 456:
		// 456 is DeepL's quota-exhausted status.
		return "", ErrQuotaExceeded
	case resp.StatusCode == http.StatusBadRequest:
		return "", fmt.Errorf("%w: %s -> %s", ErrUnsupported, fromLang, toLang)
	case resp.StatusCode >= 300:
		return "", fmt.Errorf("%w: deepl returned status %s", ErrUnavailable, resp.Status)
	}

	var out deeplResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode deepl response: %w", err)
	}
	if len(out.Translations) == 0 {
		return "", fmt.Errorf("%w: empty deepl response", ErrUnavailable)
	}
	return out.Translations[0].Text, nil
}
