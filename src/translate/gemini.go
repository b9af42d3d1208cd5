package translate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/text/language"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Gemini translates through the Google generative language API.
type Gemini struct {
	credential CredentialFunc
	model      string
	target     language.Tag
}

func NewGemini(credential CredentialFunc, model string, target language.Tag) *Gemini {
	return &Gemini{credential: credential, model: strings.TrimSpace(model), target: target}
}

func (g *Gemini) Translate(ctx context.Context, text string) (string, error) {
	key, err := g.credential(ctx)
	if err != nil {
		return "", err
	}

	cl, err := genai.NewClient(ctx, option.WithAPIKey(key))
	if err != nil {
		return "", fmt.Errorf("gemini client: %w", err)
	}
	defer cl.Close()

	m := cl.GenerativeModel(g.model)
	m.SetTemperature(0.3)
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt(g.target))}}

	resp, err := m.GenerateContent(ctx, genai.Text(text))
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			body := apiErr.Body
			if body == "" {
				body = apiErr.Message
			}
			return "", &RequestError{Provider: "gemini", Status: apiErr.Code, Body: body}
		}
		return "", fmt.Errorf("gemini request failed: %w", err)
	}

	translated := strings.TrimSpace(firstText(resp))
	if translated == "" {
		return "", fmt.Errorf("gemini: empty response")
	}
	log.Printf("Translate: gemini %s returned %d chars for %d chars", g.model, len(translated), len(text))
	return translated, nil
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}
