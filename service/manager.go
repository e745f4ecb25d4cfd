package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/acqstream/errors"
	"github.com/c360/acqstream/health"
)

// Component is anything the Manager can run.
type Component interface {
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
	Health() health.Status
}

// Manager starts components in registration order and stops them in
// reverse, so a component may depend on everything added before it.
type Manager struct {
	logger  *slog.Logger
	monitor *health.Monitor

	mu      sync.RWMutex
	order   []string
	comps   map[string]Component
	started []string
}

// NewManager creates a manager. Components are registered with monitor
// when it is non-nil.
func NewManager(logger *slog.Logger, monitor *health.Monitor) *Manager {
	if logger == nil {
		logger = slog.Default().With("component", "service-manager")
	}
	return &Manager{
		logger:  logger,
		monitor: monitor,
		comps:   make(map[string]Component),
	}
}

// Add registers a component under a unique name.
func (m *Manager) Add(name string, c Component) error {
	if name == "" || c == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Manager", "Add", "name and component required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.comps[name]; exists {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Manager", "Add",
			fmt.Sprintf("service %s already registered", name))
	}
	m.comps[name] = c
	m.order = append(m.order, name)
	if m.monitor != nil {
		m.monitor.Register(name, c)
	}
	return nil
}

// Get returns a registered component.
func (m *Manager) Get(name string) (Component, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.comps[name]
	return c, ok
}

// Names returns the components in registration order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// StartAll starts every component in order. When one fails, the ones
// already started are stopped again and the error is returned.
func (m *Manager) StartAll(ctx context.Context, rollbackTimeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.started) > 0 {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Manager", "StartAll", "services already running")
	}

	for _, name := range m.order {
		m.logger.Debug("starting service", "service", name)
		if err := m.comps[name].Start(ctx); err != nil {
			m.logger.Error("service failed to start", "service", name, "error", err)
			if stopErr := m.stopStarted(rollbackTimeout); stopErr != nil {
				m.logger.Warn("rollback after failed start", "error", stopErr)
			}
			return errors.Wrap(err, "Manager", "StartAll", "start "+name)
		}
		m.started = append(m.started, name)
	}

	m.logger.Info("all services started", "count", len(m.started), "order", m.started)
	return nil
}

// StopAll stops the running components in reverse start order. Every
// component is stopped even when an earlier one fails.
func (m *Manager) StopAll(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopStarted(timeout)
}

func (m *Manager) stopStarted(timeout time.Duration) error {
	begin := time.Now()
	var errs []error
	for i := len(m.started) - 1; i >= 0; i-- {
		name := m.started[i]
		start := time.Now()
		if err := m.comps[name].Stop(timeout); err != nil {
			m.logger.Error("service stop failed", "service", name,
				"duration_ms", time.Since(start).Milliseconds(), "error", err)
			errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
			continue
		}
		m.logger.Debug("service stopped", "service", name, "duration_ms", time.Since(start).Milliseconds())
	}
	m.started = nil

	m.logger.Debug("shutdown sequence completed",
		"duration_ms", time.Since(begin).Milliseconds(), "error_count", len(errs))
	return stderrors.Join(errs...)
}

// Unhealthy returns the names of components that currently report unhealthy.
func (m *Manager) Unhealthy() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var names []string
	for _, name := range m.order {
		if m.comps[name].Health().IsUnhealthy() {
			names = append(names, name)
		}
	}
	return names
}
