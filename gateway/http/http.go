// Package http serves the acquisition daemon's REST control surface.
package http

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/acqstream/control"
	"github.com/c360/acqstream/errors"
	"github.com/c360/acqstream/gateway"
	"github.com/c360/acqstream/health"
	"github.com/c360/acqstream/metric"
	"github.com/c360/acqstream/session"
)

// APIPrefix is where the REST routes are mounted.
const APIPrefix = "/api/v1"

const requestIDHeader = "X-Request-ID"

type ctxKey struct{}

// Session is the part of session.Session the gateway drives.
type Session interface {
	ID() string
	Activate(ctx context.Context, key control.ChannelKey) error
	Deactivate(key control.ChannelKey) bool
	Channels() []session.ChannelInfo
	Stats(key control.ChannelKey) (session.ChannelStats, bool)
	SetBatchSize(n int)
	BatchSize() int
	SetAcquiring(ctx context.Context, on bool) error
	IsAcquiring(ctx context.Context) (bool, error)
}

var _ Session = (*session.Session)(nil)

// ServerInfo is the read side of control.Client used for inspection.
type ServerInfo interface {
	Address() control.ServerAddress
	GetUnitType(ctx context.Context) (int, error)
	GetSamplingRate(ctx context.Context) (float64, error)
	GetEnabledChannels(ctx context.Context, class control.ChannelClass) ([]int, error)
	GetMostRecentSample(ctx context.Context, key control.ChannelKey) (float64, error)
}

var _ ServerInfo = (control.Client)(nil)

// Deps are the gateway's collaborators. Session and Server are required.
type Deps struct {
	Session  Session
	Server   ServerInfo
	Monitor  *health.Monitor
	Registry *metric.MetricsRegistry
	// WebSocket is mounted at Config.WebSocketPath when set.
	WebSocket http.Handler
	Logger    *slog.Logger
}

// Gateway is the HTTP front of the daemon.
type Gateway struct {
	cfg      gateway.Config
	session  Session
	server   ServerInfo
	monitor  *health.Monitor
	registry *metric.MetricsRegistry
	logger   *slog.Logger
	router   *mux.Router
	requests *prometheus.CounterVec

	running atomic.Bool

	mu         sync.RWMutex
	httpServer *http.Server
	listener   net.Listener
	startTime  time.Time
	serveErr   error

	requestsTotal  atomic.Uint64
	requestsFailed atomic.Uint64
}

var (
	_ gateway.HTTPHandler = (*Gateway)(nil)
	_ health.Checker      = (*Gateway)(nil)
)

// New validates cfg and builds the router.
func New(cfg gateway.Config, deps Deps) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Gateway", "New", "config validation")
	}
	if deps.Session == nil || deps.Server == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Gateway", "New",
			"session and server are required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "http-gateway")
	}
	monitor := deps.Monitor
	if monitor == nil {
		monitor = health.NewMonitor(nil)
	}

	g := &Gateway{
		cfg:      cfg,
		session:  deps.Session,
		server:   deps.Server,
		monitor:  monitor,
		registry: deps.Registry,
		logger:   logger,
		router:   mux.NewRouter(),
	}

	if deps.Registry != nil {
		g.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"})
		if err := deps.Registry.RegisterCounterVec("http", "requests_total", g.requests); err != nil {
			return nil, errors.Wrap(err, "Gateway", "New", "register metrics")
		}
	}

	g.router.Use(g.requestIDMiddleware, g.instrumentMiddleware)
	if cfg.EnableCORS {
		g.router.Use(g.corsMiddleware)
	}

	g.router.HandleFunc("/health", g.handleHealth).Methods(http.MethodGet)
	if deps.Registry != nil {
		g.router.Handle("/metrics", deps.Registry.Handler()).Methods(http.MethodGet)
	}
	if deps.WebSocket != nil && cfg.WebSocketPath != "" {
		g.router.Handle(cfg.WebSocketPath, deps.WebSocket)
	}
	g.RegisterHTTPHandlers(APIPrefix, g.router)

	return g, nil
}

// RegisterHTTPHandlers mounts the REST routes under prefix. Routes sit on
// router itself rather than a subrouter so that a wrong method answers 405.
func (g *Gateway) RegisterHTTPHandlers(prefix string, router *mux.Router) {
	prefix = strings.TrimSuffix(prefix, "/")
	route := func(path string, h http.HandlerFunc, method string) {
		router.HandleFunc(prefix+path, h).Methods(method)
	}

	route("/channels", g.handleListChannels, http.MethodGet)
	route("/channels/{class}/{index}", g.handleGetChannel, http.MethodGet)
	route("/channels/{class}/{index}", g.handleActivate, http.MethodPut)
	route("/channels/{class}/{index}", g.handleDeactivate, http.MethodDelete)
	route("/channels/{class}/{index}/latest", g.handleLatest, http.MethodGet)
	route("/acquisition", g.handleGetAcquisition, http.MethodGet)
	route("/acquisition", g.handleSetAcquisition, http.MethodPut)
	route("/batch-size", g.handleGetBatchSize, http.MethodGet)
	route("/batch-size", g.handleSetBatchSize, http.MethodPut)
	route("/server", g.handleServer, http.MethodGet)
}

// Handler returns the router, for tests and embedding.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Start binds the listen address and serves in the background.
func (g *Gateway) Start(_ context.Context) error {
	if g.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Gateway", "Start", "gateway already running")
	}

	ln, err := net.Listen("tcp", g.cfg.ListenAddr)
	if err != nil {
		return errors.WrapTransient(err, "Gateway", "Start", "listen on "+g.cfg.ListenAddr)
	}

	srv := &http.Server{
		Handler:           g.router,
		ReadTimeout:       g.cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      g.cfg.WriteTimeout,
		MaxHeaderBytes:    1 << 20,
	}

	g.mu.Lock()
	g.httpServer = srv
	g.listener = ln
	g.startTime = time.Now()
	g.serveErr = nil
	g.mu.Unlock()
	g.running.Store(true)

	go func() {
		err := srv.Serve(ln)
		if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			g.logger.Error("http server stopped", "error", err)
			g.mu.Lock()
			g.serveErr = err
			g.mu.Unlock()
		}
		g.running.Store(false)
	}()

	g.logger.Info("http gateway listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (g *Gateway) Addr() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

// Stop shuts the server down, waiting up to timeout for open requests.
func (g *Gateway) Stop(timeout time.Duration) error {
	g.mu.Lock()
	srv := g.httpServer
	g.httpServer = nil
	g.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	// hijacked websocket connections are closed by their own sink
	if err := srv.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "Gateway", "Stop", "shutdown")
	}
	g.running.Store(false)
	return nil
}

// Health reports whether the server is serving.
func (g *Gateway) Health() health.Status {
	g.mu.RLock()
	serveErr, started := g.serveErr, g.httpServer != nil
	g.mu.RUnlock()

	switch {
	case serveErr != nil:
		return health.FromError("http-gateway", serveErr, "")
	case !started:
		return health.NewUnhealthy("http-gateway", "not started")
	}
	total, failed := g.requestsTotal.Load(), g.requestsFailed.Load()
	return health.NewHealthy("http-gateway",
		fmt.Sprintf("serving on %s (%d requests, %d failed)", g.Addr(), total, failed))
}

// getOrGenerateRequestID extracts the request ID from headers or generates one.
func getOrGenerateRequestID(r *http.Request) string {
	if reqID := r.Header.Get(requestIDHeader); reqID != "" {
		return reqID
	}
	return uuid.NewString()
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func (g *Gateway) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := getOrGenerateRequestID(r)
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (g *Gateway) instrumentMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		g.requestsTotal.Add(1)
		if rec.status >= 400 {
			g.requestsFailed.Add(1)
		}
		if g.requests != nil {
			route := r.URL.Path
			if cur := mux.CurrentRoute(r); cur != nil {
				if tmpl, err := cur.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			g.requests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		}
	})
}

func (g *Gateway) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.applyCORS(w, r)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// applyCORS applies CORS headers to the response
func (g *Gateway) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")

	allowed := false
	for _, allowedOrigin := range g.cfg.CORSOrigins {
		if allowedOrigin == "*" || allowedOrigin == origin {
			allowed = true
			break
		}
	}

	if allowed {
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "3600")
	}
}

// mapErrorToHTTPStatus maps acquisition errors to HTTP status codes
func mapErrorToHTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusInternalServerError
	case stderrors.Is(err, errors.ErrChannelUnavailable):
		return http.StatusConflict
	case stderrors.Is(err, errors.ErrShuttingDown), stderrors.Is(err, session.ErrPoolExhausted):
		return http.StatusServiceUnavailable
	case errors.IsInvalid(err):
		return http.StatusBadRequest
	case stderrors.Is(err, errors.ErrProtocol):
		return http.StatusBadGateway
	case stderrors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// sanitizeError returns a message safe to show clients. Client-side
// mistakes are echoed; server-side failures are summarized.
func sanitizeError(status int, err error) string {
	switch status {
	case http.StatusBadRequest, http.StatusConflict:
		return err.Error()
	case http.StatusBadGateway:
		return "acquisition server error"
	case http.StatusGatewayTimeout:
		return "request timeout"
	case http.StatusServiceUnavailable:
		return "service temporarily unavailable"
	}
	return "internal server error"
}

func (g *Gateway) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	g.logger.Warn("request failed",
		"request_id", requestID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"error", err)
	writeError(w, status, sanitizeError(status, err))
}

// writeError writes an error response
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]any{
		"error":  message,
		"status": statusCode,
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody reads a size-limited JSON body into v.
func (g *Gateway) decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, g.cfg.MaxRequestSize+1))
	if err != nil {
		return errors.WrapInvalid(err, "Gateway", "decodeBody", "read body")
	}
	if int64(len(data)) > g.cfg.MaxRequestSize {
		return errors.WrapInvalid(errors.ErrInvalidData, "Gateway", "decodeBody",
			fmt.Sprintf("body exceeds %d bytes", g.cfg.MaxRequestSize))
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.WrapInvalid(err, "Gateway", "decodeBody", "decode JSON")
	}
	return nil
}

func (g *Gateway) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), g.cfg.RequestTimeout)
}
