package process

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"page-ocr-translate/src/messages"
	"page-ocr-translate/src/router"
)

// Process interface defines the lifecycle methods for all processes
type Process interface {
	// Start begins the process execution without blocking
	Start(ctx context.Context, router *router.Router) error

	// Stop gracefully shuts down the process
	Stop() error

	// IsRunning returns true if the process is currently running
	IsRunning() bool

	// Name returns the process name for identification
	Name() string
}

// ProcessState represents the current state of a process
type ProcessState int

const (
	StateStopped ProcessState = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
)

const maxRestarts = 5

func (s ProcessState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// ProcessInfo holds information about a managed process
type ProcessInfo struct {
	Process    Process
	State      ProcessState
	StartTime  time.Time
	CrashCount int
	LastError  error
}

// Manager manages the lifecycle of all application processes
type Manager struct {
	processes map[string]*ProcessInfo
	order     []string
	router    *router.Router
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewManager creates a process manager on top of r.
func NewManager(ctx context.Context, r *router.Router) *Manager {
	ctx, cancel := context.WithCancel(ctx)
	return &Manager{
		processes: make(map[string]*ProcessInfo),
		router:    r,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Register adds a process to the manager. Processes start in registration
// order.
func (m *Manager) Register(process Process) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := process.Name()
	if _, exists := m.processes[name]; exists {
		return fmt.Errorf("process %s already registered", name)
	}
	m.processes[name] = &ProcessInfo{Process: process, State: StateStopped}
	m.order = append(m.order, name)

	log.Printf("Process %s registered", name)
	return nil
}

// Start starts a specific process
func (m *Manager) Start(name string) error {
	m.mu.Lock()
	info, exists := m.processes[name]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("process %s not found", name)
	}
	if info.State == StateRunning && info.Process.IsRunning() {
		m.mu.Unlock()
		return fmt.Errorf("process %s already running", name)
	}
	info.State = StateStarting
	info.StartTime = time.Now()
	m.mu.Unlock()

	log.Printf("Starting process %s", name)
	err := info.Process.Start(m.ctx, m.router)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		info.State = StateCrashed
		info.LastError = err
		info.CrashCount++
		log.Printf("Process %s failed to start: %v", name, err)
		return err
	}
	info.State = StateRunning
	log.Printf("Process %s started successfully", name)
	return nil
}

// StartAll starts all registered processes in registration order
func (m *Manager) StartAll() error {
	m.mu.RLock()
	names := append([]string(nil), m.order...)
	m.mu.RUnlock()

	for _, name := range names {
		if err := m.Start(name); err != nil {
			return fmt.Errorf("failed to start process %s: %w", name, err)
		}
	}
	return nil
}

// Stop stops a specific process
func (m *Manager) Stop(name string) error {
	m.mu.Lock()
	info, exists := m.processes[name]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("process %s not found", name)
	}
	if info.State != StateRunning {
		m.mu.Unlock()
		return nil // Already stopped
	}
	info.State = StateStopping
	m.mu.Unlock()

	log.Printf("Stopping process %s", name)
	if err := info.Process.Stop(); err != nil {
		log.Printf("Error stopping process %s: %v", name, err)
	}

	m.mu.Lock()
	info.State = StateStopped
	m.mu.Unlock()

	log.Printf("Process %s stopped", name)
	return nil
}

// StopAll broadcasts DIENOW, then stops every process in reverse start order.
func (m *Manager) StopAll() {
	log.Printf("Stopping all processes...")

	m.router.Broadcast(messages.ContextManager, messages.DIENOW{})

	m.mu.RLock()
	names := append([]string(nil), m.order...)
	m.mu.RUnlock()

	for i := len(names) - 1; i >= 0; i-- {
		_ = m.Stop(names[i])
	}
	m.cancel()

	log.Printf("All processes stopped")
}

// GetRouter returns the message router
func (m *Manager) GetRouter() *router.Router {
	return m.router
}

// GetStatus returns the status of all processes. A process whose loop ended
// on its own is reported as stopped, or crashed when it ended abnormally.
func (m *Manager) GetStatus() map[string]ProcessState {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := make(map[string]ProcessState)
	for name, info := range m.processes {
		if info.State == StateRunning && !info.Process.IsRunning() {
			m.settleLocked(name, info)
		}
		status[name] = info.State
	}
	return status
}

func (m *Manager) settleLocked(name string, info *ProcessInfo) {
	var err error
	if a, ok := info.Process.(interface{ Err() error }); ok {
		err = a.Err()
	}
	if err == nil {
		info.State = StateStopped
		return
	}
	info.State = StateCrashed
	info.LastError = err
	info.CrashCount++
	log.Printf("Process %s crashed: %v (crash count: %d)", name, err, info.CrashCount)
}

// RestartCrashed restarts any crashed processes, up to a fixed number of
// attempts each.
func (m *Manager) RestartCrashed() {
	m.GetStatus()

	m.mu.RLock()
	var crashed []string
	for _, name := range m.order {
		info := m.processes[name]
		if info.State == StateCrashed && info.CrashCount < maxRestarts {
			crashed = append(crashed, name)
		}
	}
	m.mu.RUnlock()

	for _, name := range crashed {
		log.Printf("Attempting to restart crashed process %s", name)
		if err := m.Start(name); err != nil {
			log.Printf("Failed to restart process %s: %v", name, err)
		}
	}
}

// Supervise restarts crashed processes every interval until ctx ends.
func (m *Manager) Supervise(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RestartCrashed()
		}
	}
}
