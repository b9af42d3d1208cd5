package worker

import (
	"context"
	"fmt"
	"log"
	"sync"

	"page-ocr-translate/src/ocr"
)

// Slot holds at most one live OCR worker. The worker is created lazily on
// Acquire and destroyed by Release, so every batch pays the creation cost but
// no worker outlives the batch that created it.
type Slot struct {
	engine ocr.Engine
	opts   ocr.Options

	mu sync.Mutex
	w  ocr.Worker
}

// NewSlot creates an empty slot for engine.
func NewSlot(engine ocr.Engine, opts ocr.Options) *Slot {
	return &Slot{engine: engine, opts: opts}
}

// Acquire returns the live worker, creating it if the slot is empty.
func (s *Slot) Acquire(ctx context.Context) (ocr.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w != nil {
		return s.w, nil
	}
	w, err := s.engine.Create(ctx, s.opts)
	if err != nil {
		return nil, fmt.Errorf("create ocr worker: %w", err)
	}
	s.w = w
	return w, nil
}

// Release terminates the live worker, if any, and empties the slot. Calling it
// on an empty slot is a no-op, so deferred releases never double-terminate.
func (s *Slot) Release() error {
	s.mu.Lock()
	w := s.w
	s.w = nil
	s.mu.Unlock()
	if w == nil {
		return nil
	}
	if err := w.Terminate(); err != nil {
		log.Printf("Worker: terminate failed: %v", err)
		return fmt.Errorf("terminate ocr worker: %w", err)
	}
	return nil
}

// Live reports whether a worker currently occupies the slot.
func (s *Slot) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w != nil
}
