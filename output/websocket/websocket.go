package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/acqstream/control"
	"github.com/c360/acqstream/errors"
	"github.com/c360/acqstream/health"
	"github.com/c360/acqstream/metric"
	"github.com/c360/acqstream/output"
	"github.com/c360/acqstream/pkg/buffer"
)

const (
	DefaultQueueSize    = 256
	DefaultWriteTimeout = 10 * time.Second
	DefaultPingInterval = 30 * time.Second

	// read deadline is refreshed by every pong
	pongWait       = 60 * time.Second
	writeBatchSize = 64
)

// Envelope types.
const (
	TypeData      = "data"
	TypeSubscribe = "subscribe"
)

// Envelope wraps every message on the socket.
type Envelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// SubscribePayload replaces a client's channel filter. An empty list means
// every channel.
type SubscribePayload struct {
	Channels []string `json:"channels"`
}

// Config tunes the broadcaster.
type Config struct {
	QueueSize    int           `json:"queue_size" yaml:"queue_size"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	PingInterval time.Duration `json:"ping_interval" yaml:"ping_interval"`
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	return c
}

// Broadcaster fans sample batches out to WebSocket clients. Each client has
// a bounded outbound queue that drops its oldest messages when the client
// falls behind, so Deliver never waits on a socket.
type Broadcaster struct {
	cfg      Config
	upgrader websocket.Upgrader
	logger   *slog.Logger
	metrics  *metric.Metrics
	clientsG prometheus.Gauge
	dropped  atomic.Int64

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool

	wg sync.WaitGroup
}

var (
	_ output.Sink  = (*Broadcaster)(nil)
	_ http.Handler = (*Broadcaster)(nil)
)

type client struct {
	conn   *websocket.Conn
	queue  buffer.Buffer[[]byte]
	notify chan struct{}
	done   chan struct{}

	filterMu sync.RWMutex
	filter   map[string]struct{}

	closeOnce sync.Once
}

// New creates a broadcaster. registry may be nil.
func New(cfg Config, logger *slog.Logger, registry *metric.MetricsRegistry) (*Broadcaster, error) {
	if logger == nil {
		logger = slog.Default().With("component", "websocket")
	}
	b := &Broadcaster{
		cfg: cfg.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*client]struct{}),
	}

	if registry != nil {
		b.metrics = registry.CoreMetrics()
		b.clientsG = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "clients",
			Help:      "Connected WebSocket clients",
		})
		if err := registry.RegisterGauge("websocket", "clients", b.clientsG); err != nil {
			return nil, errors.Wrap(err, "Broadcaster", "New", "register metrics")
		}
	}
	return b, nil
}

func (b *Broadcaster) Name() string { return "websocket" }

// ServeHTTP upgrades the request. Repeated channel query parameters
// (?channel=analog:0&channel=digital:1) set the initial filter.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r.URL.Query()["channel"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Debug("upgrade failed", "error", err)
		b.metrics.RecordError("websocket", "upgrade")
		return
	}

	queue, err := buffer.NewCircularBuffer[[]byte](b.cfg.QueueSize,
		buffer.WithOverflowPolicy[[]byte](buffer.DropOldest),
		buffer.WithDropCallback[[]byte](func([]byte) { b.dropped.Add(1) }),
	)
	if err != nil {
		_ = conn.Close()
		return
	}

	c := &client{
		conn:   conn,
		queue:  queue,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		filter: filter,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = conn.Close()
		return
	}
	b.clients[c] = struct{}{}
	count := len(b.clients)
	b.wg.Add(2)
	b.mu.Unlock()

	b.setClientGauge(count)
	b.logger.Debug("client connected", "remote", r.RemoteAddr, "clients", count)

	go b.readLoop(c)
	go b.writeLoop(c)
}

func parseFilter(values []string) (map[string]struct{}, error) {
	filter := make(map[string]struct{}, len(values))
	for _, v := range values {
		key, err := control.ParseChannelKey(v)
		if err != nil {
			return nil, err
		}
		filter[key.String()] = struct{}{}
	}
	return filter, nil
}

func (c *client) wants(key string) bool {
	c.filterMu.RLock()
	defer c.filterMu.RUnlock()
	if len(c.filter) == 0 {
		return true
	}
	_, ok := c.filter[key]
	return ok
}

func (c *client) setFilter(f map[string]struct{}) {
	c.filterMu.Lock()
	c.filter = f
	c.filterMu.Unlock()
}

// readLoop handles subscribe messages and pongs until the socket fails.
func (b *Broadcaster) readLoop(c *client) {
	defer b.wg.Done()
	defer b.removeClient(c)

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type != TypeSubscribe {
			continue
		}
		var sub SubscribePayload
		if err := json.Unmarshal(env.Payload, &sub); err != nil {
			continue
		}
		filter, err := parseFilter(sub.Channels)
		if err != nil {
			b.logger.Debug("bad subscribe filter", "error", err)
			continue
		}
		c.setFilter(filter)
	}
}

// writeLoop is the only writer on the connection.
func (b *Broadcaster) writeLoop(c *client) {
	defer b.wg.Done()
	defer b.removeClient(c)

	ping := time.NewTicker(b.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.notify:
			for {
				msgs := c.queue.ReadBatch(writeBatchSize)
				if len(msgs) == 0 {
					break
				}
				for _, msg := range msgs {
					_ = c.conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout))
					if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
						b.metrics.RecordError("websocket", "write")
						return
					}
				}
			}
		}
	}
}

func (b *Broadcaster) removeClient(c *client) {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
		_ = c.queue.Close()

		b.mu.Lock()
		delete(b.clients, c)
		count := len(b.clients)
		b.mu.Unlock()

		b.setClientGauge(count)
		b.logger.Debug("client disconnected", "clients", count)
	})
}

func (b *Broadcaster) setClientGauge(n int) {
	if b.clientsG != nil {
		b.clientsG.Set(float64(n))
	}
}

// Deliver queues each batch for every client whose filter matches.
func (b *Broadcaster) Deliver(_ context.Context, batches []output.Batch) error {
	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, batch := range batches {
		payload, err := json.Marshal(batch)
		if err != nil {
			b.metrics.RecordSinkPublish(b.Name(), err)
			return errors.WrapInvalid(err, "Broadcaster", "Deliver", "encode batch")
		}
		msg, err := json.Marshal(Envelope{
			Type:      TypeData,
			ID:        uuid.NewString(),
			Timestamp: time.Now().UnixMilli(),
			Payload:   payload,
		})
		if err != nil {
			return errors.WrapInvalid(err, "Broadcaster", "Deliver", "encode envelope")
		}

		key := control.ChannelKey{Class: control.ChannelClass(batch.Channel), Index: batch.Index}.String()
		for _, c := range clients {
			if !c.wants(key) {
				continue
			}
			if err := c.queue.Write(msg); err != nil {
				// client went away after the snapshot
				continue
			}
			select {
			case c.notify <- struct{}{}:
			default:
			}
		}
		b.metrics.RecordSinkPublish(b.Name(), nil)
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Dropped returns the number of messages discarded for slow clients.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}

// Health reports healthy while accepting clients.
func (b *Broadcaster) Health() health.Status {
	b.mu.RLock()
	closed, count := b.closed, len(b.clients)
	b.mu.RUnlock()

	if closed {
		return health.NewUnhealthy("websocket", "closed")
	}
	return health.NewHealthy("websocket", fmt.Sprintf("%d clients", count))
}

// Close disconnects every client and waits for their goroutines, bounded by ctx.
func (b *Broadcaster) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		b.removeClient(c)
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Broadcaster", "Close", "wait for clients")
	}
}
