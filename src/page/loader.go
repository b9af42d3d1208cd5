package page

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const maxImageBytes = 32 << 20

var ErrNoSource = errors.New("image has no source")

// Fetcher loads image bytes from http(s), file and data URLs.
type Fetcher struct {
	Client *http.Client
}

func NewFetcher() *Fetcher {
	return &Fetcher{Client: &http.Client{Timeout: 30 * time.Second}}
}

// Load returns the encoded image behind el.
func (f *Fetcher) Load(ctx context.Context, el *Element) ([]byte, error) {
	src := el.Src()
	if src == "" {
		return nil, ErrNoSource
	}
	if strings.HasPrefix(src, "data:") {
		return decodeDataURL(src)
	}

	u, err := url.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse image url: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		return f.fetch(ctx, src)
	case "file", "":
		data, err := os.ReadFile(u.Path)
		if err != nil {
			return nil, fmt.Errorf("read image: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported image scheme %q", u.Scheme)
	}
}

func (f *Fetcher) fetch(ctx context.Context, src string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("read image body: %w", err)
	}
	return data, nil
}

// decodeDataURL handles "data:[<mediatype>][;base64],<data>".
func decodeDataURL(src string) ([]byte, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(src, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("malformed data url")
	}
	if strings.HasSuffix(meta, ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("decode data url: %w", err)
		}
		return data, nil
	}
	s, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("decode data url: %w", err)
	}
	return []byte(s), nil
}
