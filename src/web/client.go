package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"page-ocr-translate/src/messages"
)

// Client talks to a running viewer.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient targets the viewer listening on addr ("host:port" or a URL).
func NewClient(addr string) *Client {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{BaseURL: strings.TrimRight(base, "/"), HTTP: &http.Client{Timeout: 5 * time.Second}}
}

// Ping reports whether a viewer answers on the health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("viewer health: status %d", resp.StatusCode)
	}
	return nil
}

// Deliver posts a translation to the viewer's results window.
func (c *Client) Deliver(ctx context.Context, m messages.DeliverTranslation) error {
	body, err := json.Marshal(Delivery{SourceText: m.SourceText, TranslatedText: m.TranslatedText})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/deliver", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("deliver to viewer: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("deliver to viewer: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// DeliverFunc adapts Deliver for callers that have no context of their own.
func (c *Client) DeliverFunc(ctx context.Context) DeliverFunc {
	return func(m messages.DeliverTranslation) error {
		return c.Deliver(ctx, m)
	}
}
