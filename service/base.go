package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/acqstream/health"
	"github.com/c360/acqstream/metric"
)

// Status represents the current status of a service
type Status int

const (
	StatusStopped Status = iota
	StatusStarting
	StatusRunning
	StatusStopping
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// MarshalText renders the status name in JSON.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Info holds runtime information for a service
type Info struct {
	Name               string        `json:"name"`
	Status             Status        `json:"status"`
	Uptime             time.Duration `json:"uptime"`
	StartTime          time.Time     `json:"start_time"`
	BatchesProcessed   int64         `json:"batches_processed"`
	LastActivity       time.Time     `json:"last_activity"`
	HealthChecks       int64         `json:"health_checks"`
	FailedHealthChecks int64         `json:"failed_health_checks"`
}

// HealthCheckFunc defines a custom health check function
type HealthCheckFunc func() error

// Option is a functional option for configuring BaseService
type Option func(*BaseService)

// BaseService carries the lifecycle, health polling and activity counters
// shared by long-running services.
type BaseService struct {
	name    string
	metrics *metric.Metrics
	logger  *slog.Logger

	status    atomic.Value // Status
	startTime atomic.Value // time.Time
	healthy   atomic.Bool
	lastErr   atomic.Value // string

	batchesProcessed   atomic.Int64
	healthChecks       atomic.Int64
	failedHealthChecks atomic.Int64
	lastActivity       atomic.Value // time.Time

	healthCheckFunc HealthCheckFunc
	healthInterval  time.Duration
	onHealthChange  func(bool)

	done      chan struct{}
	closeDone func()
	waitGroup sync.WaitGroup
	mu        sync.RWMutex
}

// NewBaseService creates a stopped service.
func NewBaseService(name string, opts ...Option) *BaseService {
	s := &BaseService{
		name:           name,
		healthInterval: 30 * time.Second,
		logger:         slog.Default().With("service", name),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setStatus(StatusStopped)
	s.startTime.Store(time.Time{})
	s.lastActivity.Store(time.Time{})
	s.lastErr.Store("")
	return s
}

// WithMetrics records service status in the core metrics.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(s *BaseService) {
		if registry != nil {
			s.metrics = registry.CoreMetrics()
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *BaseService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHealthCheck sets a custom health check function
func WithHealthCheck(fn HealthCheckFunc) Option {
	return func(s *BaseService) {
		s.healthCheckFunc = fn
	}
}

// WithHealthInterval sets the health check interval. Zero disables polling.
func WithHealthInterval(interval time.Duration) Option {
	return func(s *BaseService) {
		s.healthInterval = interval
	}
}

// OnHealthChange sets a callback for health state changes
func OnHealthChange(fn func(bool)) Option {
	return func(s *BaseService) {
		s.onHealthChange = fn
	}
}

func (s *BaseService) Name() string {
	return s.name
}

func (s *BaseService) Status() Status {
	return s.status.Load().(Status)
}

func (s *BaseService) setStatus(status Status) {
	s.status.Store(status)
	s.metrics.RecordServiceStatus(s.name, int(status))
}

// IsHealthy reports the result of the last health check.
func (s *BaseService) IsHealthy() bool {
	return s.healthy.Load()
}

// Health maps the lifecycle state and last check onto a health.Status.
func (s *BaseService) Health() health.Status {
	if s.Status() == StatusRunning && !s.healthy.Load() && s.healthChecks.Load() > 0 {
		msg := fmt.Sprintf("health check failing (failed checks: %d)", s.failedHealthChecks.Load())
		if last := s.lastErr.Load().(string); last != "" {
			msg += ": " + last
		}
		return health.NewUnhealthy(s.name, msg)
	}

	switch status := s.Status(); status {
	case StatusRunning:
		return health.NewHealthy(s.name, "Service operating normally")
	case StatusStarting:
		return health.NewDegraded(s.name, "Service is starting")
	case StatusStopping:
		return health.NewDegraded(s.name, "Service is stopping")
	case StatusStopped:
		return health.NewUnhealthy(s.name, "Service is stopped")
	default:
		return health.NewUnhealthy(s.name, fmt.Sprintf("Unknown status: %v", status))
	}
}

// Start marks the service running and starts health polling. The service
// stops itself when ctx is cancelled.
func (s *BaseService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current := s.Status(); current == StatusRunning || current == StatusStarting {
		return nil
	}
	s.setStatus(StatusStarting)
	done := make(chan struct{})
	s.done = done
	s.closeDone = sync.OnceFunc(func() { close(done) })

	now := time.Now()
	s.startTime.Store(now)
	s.lastActivity.Store(now)

	if s.healthInterval > 0 {
		s.waitGroup.Add(1)
		go s.healthMonitor(s.done, s.healthInterval)
	}

	s.waitGroup.Add(1)
	go s.contextMonitor(ctx, s.done, s.closeDone)

	s.healthy.Store(true)
	s.setStatus(StatusRunning)
	return nil
}

// Stop signals the service goroutines and waits for them up to timeout
// (5s when zero).
func (s *BaseService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current := s.Status(); current == StatusStopped || current == StatusStopping {
		return nil
	}
	s.setStatus(StatusStopping)

	if s.closeDone != nil {
		s.closeDone()
	}

	if timeout == 0 {
		timeout = 5 * time.Second
	}
	finished := make(chan struct{})
	go func() {
		s.waitGroup.Wait()
		close(finished)
	}()

	var err error
	select {
	case <-finished:
	case <-time.After(timeout):
		err = fmt.Errorf("service %s: goroutines still running after %v", s.name, timeout)
	}

	s.setStatus(StatusStopped)
	s.healthy.Store(false)
	return err
}

// Done is closed when Stop is called or the Start context ends.
func (s *BaseService) Done() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.done
}

// Go runs fn as a service goroutine that Stop waits for.
func (s *BaseService) Go(fn func(done <-chan struct{})) {
	s.mu.RLock()
	done := s.done
	s.mu.RUnlock()

	s.waitGroup.Add(1)
	go func() {
		defer s.waitGroup.Done()
		fn(done)
	}()
}

// RecordActivity counts n processed batches.
func (s *BaseService) RecordActivity(n int) {
	s.batchesProcessed.Add(int64(n))
	s.lastActivity.Store(time.Now())
}

// GetStatus returns the current service information
func (s *BaseService) GetStatus() Info {
	startTime := s.startTime.Load().(time.Time)

	uptime := time.Duration(0)
	if !startTime.IsZero() && s.Status() == StatusRunning {
		uptime = time.Since(startTime)
	}

	return Info{
		Name:               s.name,
		Status:             s.Status(),
		Uptime:             uptime,
		StartTime:          startTime,
		BatchesProcessed:   s.batchesProcessed.Load(),
		LastActivity:       s.lastActivity.Load().(time.Time),
		HealthChecks:       s.healthChecks.Load(),
		FailedHealthChecks: s.failedHealthChecks.Load(),
	}
}

func (s *BaseService) healthMonitor(done <-chan struct{}, interval time.Duration) {
	defer s.waitGroup.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.performHealthCheck()
		}
	}
}

func (s *BaseService) performHealthCheck() {
	s.healthChecks.Add(1)

	var err error
	if s.healthCheckFunc != nil {
		err = s.healthCheckFunc()
	}

	wasHealthy := s.healthy.Load()
	isHealthy := err == nil
	if err != nil {
		s.failedHealthChecks.Add(1)
		s.lastErr.Store(err.Error())
		s.logger.Warn("health check failed", "error", err)
	} else {
		s.lastErr.Store("")
	}
	s.healthy.Store(isHealthy)

	if wasHealthy != isHealthy && s.onHealthChange != nil {
		go s.onHealthChange(isHealthy)
	}
}

// contextMonitor closes done when the parent context ends.
func (s *BaseService) contextMonitor(ctx context.Context, done <-chan struct{}, closeDone func()) {
	defer s.waitGroup.Done()

	select {
	case <-ctx.Done():
		closeDone()
		s.logger.Info("context cancelled, service goroutines stopping")
	case <-done:
	}
}

// Service is the contract for long-running services.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
	Status() Status
	Health() health.Status
}
