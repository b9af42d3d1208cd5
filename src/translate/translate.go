package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"page-ocr-translate/src/store"
)

// ErrMissingCredential is returned before any request is made when no API key
// is stored.
var ErrMissingCredential = errors.New("API key not set")

// RequestError is a non-success answer from the translation API.
type RequestError struct {
	Provider string
	Status   int
	Body     string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.Status, e.Body)
}

// Translator turns combined source text into translated text.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// CredentialFunc resolves the API key at call time so key changes made from the
// controller apply to the next batch.
type CredentialFunc func(ctx context.Context) (string, error)

// StoredCredential reads the key from the persistence facade.
func StoredCredential(s store.Store) CredentialFunc {
	return func(ctx context.Context) (string, error) {
		raw, found, err := s.Get(ctx, store.KeyCredential)
		if err != nil {
			return "", fmt.Errorf("load credential: %w", err)
		}
		key := strings.TrimSpace(string(raw))
		if !found || key == "" {
			return "", ErrMissingCredential
		}
		return key, nil
	}
}

// StaticCredential always returns key, or ErrMissingCredential when empty.
func StaticCredential(key string) CredentialFunc {
	return func(context.Context) (string, error) {
		if strings.TrimSpace(key) == "" {
			return "", ErrMissingCredential
		}
		return key, nil
	}
}

func systemPrompt(target language.Tag) string {
	name := display.English.Tags().Name(target)
	if name == "" {
		name = target.String()
	}
	return "You are a professional literary translator. Translate the text provided by the user into " + name + ".\n" +
		"- Paragraphs are separated by a blank line; keep the same paragraph breaks.\n" +
		"- The text comes from OCR and may contain stray characters or broken lines; repair them silently.\n" +
		"- Return ONLY the translation, with no notes, headings or markdown."
}
