package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/language"
)

const defaultOpenAIURL = "https://api.openai.com/v1"

// Chat completions API structures
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// OpenAI talks to any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	credential CredentialFunc
	model      string
	baseURL    string
	target     language.Tag
	httpc      *http.Client
}

func NewOpenAI(credential CredentialFunc, model, baseURL string, target language.Tag) *OpenAI {
	if baseURL == "" {
		baseURL = defaultOpenAIURL
	}
	return &OpenAI{
		credential: credential,
		model:      model,
		baseURL:    strings.TrimRight(baseURL, "/"),
		target:     target,
		httpc:      &http.Client{Timeout: 90 * time.Second},
	}
}

func (o *OpenAI) Translate(ctx context.Context, text string) (string, error) {
	key, err := o.credential(ctx)
	if err != nil {
		return "", err
	}

	request := chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(o.target)},
			{Role: "user", Content: text},
		},
		Temperature: 0.3,
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := o.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &RequestError{Provider: "openai", Status: resp.StatusCode, Body: string(body)}
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("no choices in API response")
	}
	translated := strings.TrimSpace(out.Choices[0].Message.Content)
	log.Printf("Translate: openai %s returned %d chars for %d chars", o.model, len(translated), len(text))
	return translated, nil
}
