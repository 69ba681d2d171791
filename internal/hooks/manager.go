package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Manager registers hooks per event type and dispatches events to them
// through a bounded worker pool, so a slow webhook or shell script cannot
// stall the lifecycle controller that fired the event.
type Manager struct {
	hooks     map[EventType][]Hook
	stdioHook *StdioHook
	mu        sync.RWMutex
	pool      *executionPool
	log       *slog.Logger
	config    Config
}

// NewManager returns a Manager per config.
func NewManager(config Config, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if _, err := time.ParseDuration(config.Timeout); err != nil {
		log.Warn("invalid_hook_timeout_using_default", slog.String("timeout", config.Timeout), slog.Any("error", err))
	}

	m := &Manager{
		hooks:  make(map[EventType][]Hook),
		log:    log,
		config: config,
		pool:   newExecutionPool(config.Concurrency, log),
	}
	if config.StdioFormat != "" {
		_ = m.EnableStdioOutput(config.StdioFormat)
	}
	return m
}

// RegisterHook registers hook for eventType.
func (m *Manager) RegisterHook(eventType EventType, hook Hook) error {
	if hook == nil {
		return fmt.Errorf("cannot register nil hook")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks[eventType] = append(m.hooks[eventType], hook)
	m.log.Info("hook_registered", slog.String("event_type", string(eventType)), slog.String("hook_type", hook.Type()), slog.String("hook_id", hook.ID()))
	return nil
}

// UnregisterHook removes a hook by id from eventType.
func (m *Manager) UnregisterHook(eventType EventType, hookID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.hooks[eventType]
	for i, h := range list {
		if h.ID() == hookID {
			m.hooks[eventType] = append(list[:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// TriggerEvent dispatches event to every hook registered for its type,
// asynchronously, bounded by the execution pool's concurrency.
func (m *Manager) TriggerEvent(ctx context.Context, event Event) {
	if m == nil {
		return
	}

	m.mu.RLock()
	registered := append([]Hook(nil), m.hooks[event.Type]...)
	stdio := m.stdioHook
	m.mu.RUnlock()

	if stdio != nil {
		registered = append(registered, stdio)
	}
	if len(registered) == 0 {
		return
	}

	for _, h := range registered {
		m.pool.execute(ctx, h, event)
	}
}

// EnableStdioOutput enables structured stdio output in format "json" or "env".
func (m *Manager) EnableStdioOutput(format string) error {
	if format != "json" && format != "env" {
		return fmt.Errorf("unsupported stdio format: %s", format)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stdioHook = NewStdioHook("stdio", format)
	return nil
}

// Close shuts down the manager, waiting for in-flight hook executions.
func (m *Manager) Close() error {
	if m.pool != nil {
		m.pool.close()
	}
	return nil
}

// executionPool bounds concurrent hook execution.
type executionPool struct {
	workers chan struct{}
	log     *slog.Logger
}

func newExecutionPool(size int, log *slog.Logger) *executionPool {
	if size <= 0 {
		size = 10
	}
	return &executionPool{workers: make(chan struct{}, size), log: log}
}

func (p *executionPool) execute(ctx context.Context, h Hook, event Event) {
	go func() {
		p.workers <- struct{}{}
		defer func() { <-p.workers }()

		start := time.Now()
		err := h.Execute(ctx, event)
		duration := time.Since(start)

		if err != nil {
			p.log.Error("hook_execution_failed",
				slog.String("hook_type", h.Type()), slog.String("hook_id", h.ID()),
				slog.String("event_type", string(event.Type)), slog.Duration("duration", duration), slog.Any("error", err))
		} else {
			p.log.Debug("hook_executed",
				slog.String("hook_type", h.Type()), slog.String("hook_id", h.ID()),
				slog.String("event_type", string(event.Type)), slog.Duration("duration", duration))
		}
	}()
}

func (p *executionPool) close() {
	for i := 0; i < cap(p.workers); i++ {
		p.workers <- struct{}{}
	}
}
