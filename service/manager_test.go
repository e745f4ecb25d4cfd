package service

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/acqstream/errors"
	"github.com/c360/acqstream/health"
)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, s)
}

func (l *callLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type stubComponent struct {
	name     string
	log      *callLog
	startErr error
	stopErr  error
	running  bool
}

func (s *stubComponent) Start(context.Context) error {
	s.log.add("start " + s.name)
	if s.startErr != nil {
		return s.startErr
	}
	s.running = true
	return nil
}

func (s *stubComponent) Stop(time.Duration) error {
	s.log.add("stop " + s.name)
	s.running = false
	return s.stopErr
}

func (s *stubComponent) Health() health.Status {
	if s.running {
		return health.NewHealthy(s.name, "running")
	}
	return health.NewUnhealthy(s.name, "stopped")
}

func TestManager_StartStopOrder(t *testing.T) {
	log := &callLog{}
	monitor := health.NewMonitor(nil)
	m := NewManager(nil, monitor)

	for _, name := range []string{"acquisition", "http"} {
		require.NoError(t, m.Add(name, &stubComponent{name: name, log: log}))
	}
	assert.Equal(t, []string{"acquisition", "http"}, m.Names())

	require.NoError(t, m.StartAll(context.Background(), time.Second))
	assert.Empty(t, m.Unhealthy())

	monitor.Refresh()
	assert.True(t, monitor.AggregateHealth("acqstream").IsHealthy())

	require.NoError(t, m.StopAll(time.Second))
	assert.Equal(t, []string{"start acquisition", "start http", "stop http", "stop acquisition"}, log.get())
	assert.Equal(t, []string{"acquisition", "http"}, m.Unhealthy())

	// stopping again is a no-op
	require.NoError(t, m.StopAll(time.Second))
	assert.Len(t, log.get(), 4)
}

func TestManager_RollbackOnStartFailure(t *testing.T) {
	log := &callLog{}
	m := NewManager(nil, nil)
	boom := stderrors.New("bind failed")

	require.NoError(t, m.Add("a", &stubComponent{name: "a", log: log}))
	require.NoError(t, m.Add("b", &stubComponent{name: "b", log: log}))
	require.NoError(t, m.Add("c", &stubComponent{name: "c", log: log, startErr: boom}))

	err := m.StartAll(context.Background(), time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "start c")
	assert.Equal(t, []string{"start a", "start b", "start c", "stop b", "stop a"}, log.get())

	// nothing left to stop, and the manager can start again
	require.NoError(t, m.StopAll(time.Second))
	assert.Len(t, log.get(), 5)
}

func TestManager_StopAllCollectsErrors(t *testing.T) {
	log := &callLog{}
	m := NewManager(nil, nil)
	first := stderrors.New("first")
	second := stderrors.New("second")

	require.NoError(t, m.Add("a", &stubComponent{name: "a", log: log, stopErr: first}))
	require.NoError(t, m.Add("b", &stubComponent{name: "b", log: log}))
	require.NoError(t, m.Add("c", &stubComponent{name: "c", log: log, stopErr: second}))
	require.NoError(t, m.StartAll(context.Background(), time.Second))

	err := m.StopAll(time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, second)
	assert.Equal(t, []string{"stop c", "stop b", "stop a"}, log.get()[3:])
}

func TestManager_AddValidation(t *testing.T) {
	m := NewManager(nil, nil)
	log := &callLog{}

	assert.True(t, errors.IsInvalid(m.Add("", &stubComponent{log: log})))
	assert.True(t, errors.IsInvalid(m.Add("x", nil)))

	require.NoError(t, m.Add("x", &stubComponent{name: "x", log: log}))
	assert.True(t, errors.IsInvalid(m.Add("x", &stubComponent{name: "x", log: log})))

	c, ok := m.Get("x")
	assert.True(t, ok)
	assert.NotNil(t, c)
	_, ok = m.Get("y")
	assert.False(t, ok)
}

func TestManager_StartAllTwice(t *testing.T) {
	m := NewManager(nil, nil)
	require.NoError(t, m.Add("a", &stubComponent{name: "a", log: &callLog{}}))
	require.NoError(t, m.StartAll(context.Background(), time.Second))
	defer func() { _ = m.StopAll(time.Second) }()

	err := m.StartAll(context.Background(), time.Second)
	assert.True(t, errors.IsInvalid(err))
}
