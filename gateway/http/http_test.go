package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/acqstream/control"
	"github.com/c360/acqstream/control/controltest"
	pkgerrors "github.com/c360/acqstream/errors"
	"github.com/c360/acqstream/gateway"
	"github.com/c360/acqstream/health"
	"github.com/c360/acqstream/metric"
	"github.com/c360/acqstream/session"
)

var (
	analog0  = control.ChannelKey{Class: control.Analog, Index: 0}
	digital3 = control.ChannelKey{Class: control.Digital, Index: 3}
)

type fixture struct {
	fake     *controltest.Fake
	session  *session.Session
	registry *metric.MetricsRegistry
	monitor  *health.Monitor
	gateway  *Gateway
	server   *httptest.Server
}

func newFixture(t *testing.T, cfg gateway.Config) *fixture {
	t.Helper()
	fake := controltest.New(analog0, digital3)
	registry := metric.NewMetricsRegistry()

	pool, err := session.NewPortPool(41600, 41699)
	require.NoError(t, err)
	sess, err := session.New(session.Config{BatchSize: 4, BindHost: "127.0.0.1"}, session.Deps{
		Client:   fake,
		Pool:     pool,
		Registry: registry,
	})
	require.NoError(t, err)
	t.Cleanup(sess.Shutdown)

	monitor := health.NewMonitor(registry.CoreMetrics())
	g, err := New(cfg, Deps{
		Session:  sess,
		Server:   fake,
		Monitor:  monitor,
		Registry: registry,
		WebSocket: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}),
	})
	require.NoError(t, err)

	srv := httptest.NewServer(g.Handler())
	t.Cleanup(srv.Close)

	return &fixture{fake: fake, session: sess, registry: registry, monitor: monitor, gateway: g, server: srv}
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.server.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestGetOrGenerateRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(requestIDHeader, "existing-request-id-12345")
	assert.Equal(t, "existing-request-id-12345", getOrGenerateRequestID(req))

	req = httptest.NewRequest(http.MethodGet, "/test", nil)
	ids := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := getOrGenerateRequestID(req)
		require.NotEmpty(t, id)
		assert.False(t, ids[id], "duplicate request ID %s", id)
		ids[id] = true
	}
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"channel unavailable", &pkgerrors.ChannelUnavailableError{Channel: "analog:9"}, http.StatusConflict},
		{"wrapped channel unavailable",
			pkgerrors.WrapInvalid(&pkgerrors.ChannelUnavailableError{Channel: "analog:9"}, "Session", "Activate", "check"),
			http.StatusConflict},
		{"invalid", pkgerrors.WrapInvalid(pkgerrors.ErrInvalidData, "x", "y", "z"), http.StatusBadRequest},
		{"protocol", pkgerrors.NewProtocolError("toggleAcquisition", fmt.Errorf("boom")), http.StatusBadGateway},
		{"pool exhausted",
			pkgerrors.WrapTransient(session.ErrPoolExhausted, "PortPool", "Acquire", "reserve"),
			http.StatusServiceUnavailable},
		{"shutting down", pkgerrors.ErrShuttingDown, http.StatusServiceUnavailable},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", fmt.Errorf("mystery"), http.StatusInternalServerError},
		{"nil", nil, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mapErrorToHTTPStatus(tt.err))
		})
	}
}

func TestSanitizeError(t *testing.T) {
	err := fmt.Errorf("dial tcp 10.0.0.5:16212: connection refused")
	assert.Equal(t, "acquisition server error", sanitizeError(http.StatusBadGateway, err))
	assert.Equal(t, "internal server error", sanitizeError(http.StatusInternalServerError, err))
	assert.Equal(t, err.Error(), sanitizeError(http.StatusBadRequest, err))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(gateway.Config{}, Deps{})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInvalid(err))

	_, err = New(gateway.Config{EnableCORS: true}, Deps{Session: &session.Session{}, Server: controltest.New()})
	require.Error(t, err)
}

func TestActivateAndListChannels(t *testing.T) {
	f := newFixture(t, gateway.Config{})

	resp := f.do(t, http.MethodPut, "/api/v1/channels/analog/0", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[map[string]any](t, resp)
	assert.Equal(t, "analog:0", view["channel"])
	assert.Equal(t, "listening", view["state"])
	assert.NotZero(t, view["port"])

	resp = f.do(t, http.MethodGet, "/api/v1/channels", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[channelList](t, resp)
	assert.Equal(t, f.session.ID(), list.Session)
	assert.Equal(t, 4, list.BatchSize)
	require.Len(t, list.Channels, 1)
	assert.Equal(t, analog0, list.Channels[0].Key)
	require.NotNil(t, list.Channels[0].Stats)

	assert.True(t, f.fake.Running())
	assert.Equal(t, list.Channels[0].Port, f.fake.Port(analog0))
}

func TestActivate_ChannelNotEnabledIsConflict(t *testing.T) {
	f := newFixture(t, gateway.Config{})

	resp := f.do(t, http.MethodPut, "/api/v1/channels/calc/7", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Contains(t, body["error"], "calc:7")
	assert.Empty(t, f.session.Channels())
}

func TestActivate_BadChannelIsBadRequest(t *testing.T) {
	f := newFixture(t, gateway.Config{})

	resp := f.do(t, http.MethodPut, "/api/v1/channels/thermal/0", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPut, "/api/v1/channels/analog/-1", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestActivate_ProtocolErrorIsBadGateway(t *testing.T) {
	f := newFixture(t, gateway.Config{})
	f.fake.Fail("SetTransportType")

	resp := f.do(t, http.MethodPut, "/api/v1/channels/analog/0", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "acquisition server error", body["error"])
}

func TestGetAndDeactivateChannel(t *testing.T) {
	f := newFixture(t, gateway.Config{})
	require.NoError(t, f.session.Activate(context.Background(), digital3))

	resp := f.do(t, http.MethodGet, "/api/v1/channels/digital/3", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[ChannelView](t, resp)
	assert.Equal(t, digital3, view.Key)

	resp = f.do(t, http.MethodDelete, "/api/v1/channels/digital/3", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, f.session.Channels())

	resp = f.do(t, http.MethodDelete, "/api/v1/channels/digital/3", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/v1/channels/digital/3", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLatestSample(t *testing.T) {
	f := newFixture(t, gateway.Config{})
	f.fake.SetValue(analog0, 2.5)

	resp := f.do(t, http.MethodGet, "/api/v1/channels/analog/0/latest", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, 2.5, body["value"])
	assert.Equal(t, "analog:0", body["channel"])
}

func TestAcquisitionEndpoints(t *testing.T) {
	f := newFixture(t, gateway.Config{})

	resp := f.do(t, http.MethodGet, "/api/v1/acquisition", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"running":false}`, readAll(t, resp))

	resp = f.do(t, http.MethodPut, "/api/v1/acquisition", `{"running":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, f.fake.Running())
	assert.Equal(t, 1, f.fake.Toggles())

	// already running: no toggle
	resp = f.do(t, http.MethodPut, "/api/v1/acquisition", `{"running":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, f.fake.Toggles())

	resp = f.do(t, http.MethodPut, "/api/v1/acquisition", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPut, "/api/v1/acquisition", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAcquisition_ServerFailure(t *testing.T) {
	f := newFixture(t, gateway.Config{})
	f.fake.Fail("IsAcquisitionInProgress")

	resp := f.do(t, http.MethodGet, "/api/v1/acquisition", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestBatchSizeEndpoints(t *testing.T) {
	f := newFixture(t, gateway.Config{})

	resp := f.do(t, http.MethodPut, "/api/v1/batch-size", `{"batch_size":16}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 16, decode[batchSize](t, resp).BatchSize)
	assert.Equal(t, 16, f.session.BatchSize())

	resp = f.do(t, http.MethodPut, "/api/v1/batch-size", `{"batch_size":0}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decode[batchSize](t, resp).BatchSize)

	resp = f.do(t, http.MethodGet, "/api/v1/batch-size", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decode[batchSize](t, resp).BatchSize)
}

func TestRequestBodyLimit(t *testing.T) {
	f := newFixture(t, gateway.Config{MaxRequestSize: 16})

	resp := f.do(t, http.MethodPut, "/api/v1/batch-size", `{"batch_size":16, "padding":"xxxxxxxxxxxxxxxx"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerInfo(t *testing.T) {
	f := newFixture(t, gateway.Config{})

	resp := f.do(t, http.MethodGet, "/api/v1/server", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[serverView](t, resp)
	assert.Equal(t, "127.0.0.1:16212", view.Address)
	assert.Equal(t, 1, view.UnitType)
	assert.Equal(t, 1000.0, view.SamplingRate)
	assert.Equal(t, []int{0}, view.Enabled[control.Analog])
	assert.Equal(t, []int{3}, view.Enabled[control.Digital])
	assert.Equal(t, []int{}, view.Enabled[control.Calc])
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, gateway.Config{})
	f.monitor.UpdateHealthy("session", "ok")

	resp := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decode[health.Status](t, resp)
	assert.Equal(t, SystemName, status.Component)
	assert.True(t, status.IsHealthy())

	f.monitor.UpdateUnhealthy("nats", "disconnected")
	resp = f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, gateway.Config{})
	f.do(t, http.MethodGet, "/api/v1/batch-size", "")

	resp := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readAll(t, resp), "http_requests_total")

	assert.Equal(t, 1.0, testutil.ToFloat64(
		f.gateway.requests.WithLabelValues("/api/v1/batch-size", "200")))
}

func TestRequestIDHeader(t *testing.T) {
	f := newFixture(t, gateway.Config{})

	resp := f.do(t, http.MethodGet, "/api/v1/batch-size", "")
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))

	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/api/v1/batch-size", nil)
	require.NoError(t, err)
	req.Header.Set(requestIDHeader, "trace-me")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "trace-me", resp.Header.Get(requestIDHeader))
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, gateway.Config{})
	resp := f.do(t, http.MethodPost, "/api/v1/channels", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/channels/analog/0", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/v1/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocketMounted(t *testing.T) {
	f := newFixture(t, gateway.Config{WebSocketPath: "/ws"})
	resp := f.do(t, http.MethodGet, "/ws", "")
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
}

func TestCORS(t *testing.T) {
	f := newFixture(t, gateway.Config{EnableCORS: true, CORSOrigins: []string{"https://ui.example.com"}})

	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/api/v1/batch-size", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://ui.example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "https://ui.example.com", resp.Header.Get("Access-Control-Allow-Origin"))

	req, err = http.NewRequest(http.MethodGet, f.server.URL+"/api/v1/batch-size", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example.com")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Empty(t, resp2.Header.Get("Access-Control-Allow-Origin"))
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, gateway.Config{ListenAddr: "127.0.0.1:0"})
	g := f.gateway

	assert.True(t, g.Health().IsUnhealthy())
	require.NoError(t, g.Start(context.Background()))
	require.Error(t, g.Start(context.Background()))

	resp, err := http.Get("http://" + g.Addr() + "/api/v1/batch-size")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, g.Health().IsHealthy())

	require.NoError(t, g.Stop(time.Second))
	require.NoError(t, g.Stop(time.Second))
	_, err = http.Get("http://" + g.Addr() + "/api/v1/batch-size")
	assert.Error(t, err)
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}
