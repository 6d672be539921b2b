package translate

import (
	"context"
	"fmt"
)

type mockTranslator struct{}

func NewMockTranslator() Translator {
	return &mockTranslator{}
}

func (m *mockTranslator) Translate(_ context.Context, text, _, toLang string) (string, error) {
	return fmt.Sprintf("[%s] %s", toLang, text), nil
}
