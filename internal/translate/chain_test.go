package translate

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
)

type scriptedTranslator struct {
	text  string
	err   error
	calls int
}

func (s *scriptedTranslator) Translate(_ context.Context, _, _, _ string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.text, nil
}

func chainLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestChainFailsOverOnQuota(t *testing.T) {
	first := &scriptedTranslator{err: ErrQuotaExceeded}
	second := &scriptedTranslator{text: "Hello"}
	chain := newChain([]string{"deepl", "libre"}, []Translator{first, second}, chainLogger())

	out, err := chain.Translate(context.Background(), "你好", "zh", "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "Hello" {
		t.Fatalf("expected fallback result, got %q", out)
	}
	if first.calls != 1 || second.calls != 1 {
		t.Fatalf("expected both backends tried once, got %d/%d", first.calls, second.calls)
	}
}

func TestChainStopsOnFirstSuccess(t *testing.T) {
	first := &scriptedTranslator{text: "Hallo"}
	second := &scriptedTranslator{text: "unused"}
	chain := newChain([]string{"deepl", "libre"}, []Translator{first, second}, chainLogger())

	out, err := chain.Translate(context.Background(), "你好", "zh", "de")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "Hallo" {
		t.Fatalf("expected first backend result, got %q", out)
	}
	if second.calls != 0 {
		t.Fatalf("second backend must not be called after a success")
	}
}

func TestChainTimeoutIsTerminal(t *testing.T) {
	first := &scriptedTranslator{err: ErrTimeout}
	second := &scriptedTranslator{text: "unused"}
	chain := newChain([]string{"deepl", "libre"}, []Translator{first, second}, chainLogger())

	_, err := chain.Translate(context.Background(), "你好", "zh", "en")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if second.calls != 0 {
		t.Fatalf("stale request must not fail over to another backend")
	}
}

func TestChainUnsupportedIsTerminal(t *testing.T) {
	first := &scriptedTranslator{err: ErrUnsupported}
	second := &scriptedTranslator{text: "unused"}
	chain := newChain([]string{"deepl", "libre"}, []Translator{first, second}, chainLogger())

	_, err := chain.Translate(context.Background(), "你好", "zh", "xx")
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected unsupported error, got %v", err)
	}
	if second.calls != 0 {
		t.Fatalf("unsupported pair must not fail over")
	}
}

func TestChainAllBackendsFail(t *testing.T) {
	first := &scriptedTranslator{err: ErrUnavailable}
	second := &scriptedTranslator{err: ErrQuotaExceeded}
	chain := newChain([]string{"deepl", "libre"}, []Translator{first, second}, chainLogger())

	_, err := chain.Translate(context.Background(), "你好", "zh", "en")
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected last backend error wrapped, got %v", err)
	}
}
