package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/livebabel/babel-core/internal/config"
)

// chainTranslator tries each configured backend in order, failing over on
// quota and availability errors. Unsupported language pairs and timeouts are
// terminal: a later backend will not get a stale request a faster one could
// not serve in time, and an unsupported pair stays unsupported.
type chainTranslator struct {
	names    []string
	backends []Translator
	logger   *slog.Logger
}

// NewChainTranslator builds the failover chain from cfg.Order.
func NewChainTranslator(cfg config.TranslatorConfig, logger *slog.Logger) (Translator, error) {
	chain := &chainTranslator{
		logger: logger.With(slog.String("component", "translator")),
	}
	for _, name := range cfg.Order {
		var backend Translator
		switch name {
		case "deepl":
			backend = NewDeepLTranslator(cfg.DeepL)
		case "microsoft":
			backend = NewMicrosoftTranslator(cfg.Microsoft)
		case "libre":
			backend = NewLibreTranslator(cfg.Libre)
		default:
			return nil, fmt.Errorf("unknown translation backend %q", name)
		}
		chain.names = append(chain.names, name)
		chain.backends = append(chain.backends, backend)
	}
	if len(chain.backends) == 0 {
		return nil, errors.New("translation chain is empty")
	}
	return chain, nil
}

// newChain is the testing seam: a chain over pre-built backends.
func newChain(names []string, backends []Translator, logger *slog.Logger) Translator {
	return &chainTranslator{names: names, backends: backends, logger: logger}
}

func (c *chainTranslator) Translate(ctx context.Context, text, fromLang, toLang string) (string, error) {
	var lastErr error
	for i, backend := range c.backends {
		out, err := backend.Translate(ctx, text, fromLang, toLang)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnsupported) {
			return "", err
		}
		lastErr = err
		c.logger.Warn("translation backend failed, trying next",
			slog.String("backend", c.names[i]),
			slog.String("to", toLang),
			slog.String("error", err.Error()))
	}
	return "", fmt.Errorf("all translation backends failed: %w", lastErr)
}
