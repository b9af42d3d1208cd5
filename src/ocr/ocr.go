package ocr

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"
)

var ErrTerminated = errors.New("ocr worker terminated")

// Options configure a worker at creation time.
type Options struct {
	// Languages are tesseract language codes, e.g. "kor" or "kor+eng".
	Languages []string
	// TessdataPrefix points at the trained data directory; empty uses the
	// library default.
	TessdataPrefix string
}

// Engine creates OCR workers. Creating a worker is the expensive step.
type Engine interface {
	Create(ctx context.Context, opts Options) (Worker, error)
}

// Worker recognizes one image at a time and must be terminated exactly once.
type Worker interface {
	Recognize(ctx context.Context, image []byte) (string, error)
	Terminate() error
}

// Tesseract is the gosseract backed Engine.
type Tesseract struct {
	clientFactory func() *gosseract.Client
}

func NewTesseract() *Tesseract {
	return &Tesseract{clientFactory: gosseract.NewClient}
}

func (e *Tesseract) Create(ctx context.Context, opts Options) (Worker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := e.clientFactory()
	if opts.TessdataPrefix != "" {
		if err := c.SetTessdataPrefix(opts.TessdataPrefix); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if len(opts.Languages) > 0 {
		if err := c.SetLanguage(opts.Languages...); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("set languages: %w", err)
		}
	}
	log.Printf("OCR: tesseract worker created (languages=%s)", strings.Join(opts.Languages, "+"))
	return &tesseractWorker{client: c}, nil
}

type tesseractWorker struct {
	mu     sync.Mutex
	client *gosseract.Client
}

func (w *tesseractWorker) Recognize(ctx context.Context, image []byte) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client == nil {
		return "", ErrTerminated
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := Normalize(image)
	if err != nil {
		return "", err
	}
	if err := w.client.SetImageFromBytes(data); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := w.client.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return text, nil
}

func (w *tesseractWorker) Terminate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client == nil {
		return ErrTerminated
	}
	err := w.client.Close()
	w.client = nil
	log.Printf("OCR: tesseract worker terminated")
	return err
}

// SplitLanguages turns "kor+eng" or "kor,eng" into tesseract language codes.
func SplitLanguages(spec string) []string {
	fields := strings.FieldsFunc(spec, func(r rune) bool { return r == '+' || r == ',' || r == ' ' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
