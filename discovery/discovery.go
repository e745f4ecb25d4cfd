package discovery

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/c360/acqstream/control"
	"github.com/c360/acqstream/errors"
	"github.com/c360/acqstream/metric"
)

// Protocol defaults.
const (
	DefaultPort           = 15012
	DefaultProbe          = "AcqP Client"
	DefaultAck            = "AcqP Server Port"
	DefaultBroadcastAddr  = "255.255.255.255"
	DefaultMaxReplies     = 128
	DefaultReadBufferSize = 512
	DefaultTimeout        = time.Second
)

// Config holds the discovery protocol parameters.
type Config struct {
	Port           int           `json:"port" yaml:"port"`
	BroadcastAddr  string        `json:"broadcast_addr" yaml:"broadcast_addr"`
	Probe          string        `json:"probe" yaml:"probe"`
	Ack            string        `json:"ack" yaml:"ack"`
	MaxReplies     int           `json:"max_replies" yaml:"max_replies"`
	ReadBufferSize int           `json:"read_buffer_size" yaml:"read_buffer_size"`
	Timeout        time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultConfig returns the standard protocol parameters.
func DefaultConfig() Config {
	return Config{
		Port:           DefaultPort,
		BroadcastAddr:  DefaultBroadcastAddr,
		Probe:          DefaultProbe,
		Ack:            DefaultAck,
		MaxReplies:     DefaultMaxReplies,
		ReadBufferSize: DefaultReadBufferSize,
		Timeout:        DefaultTimeout,
	}
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.BroadcastAddr == "" {
		c.BroadcastAddr = d.BroadcastAddr
	}
	if c.Probe == "" {
		c.Probe = d.Probe
	}
	if c.Ack == "" {
		c.Ack = d.Ack
	}
	if c.MaxReplies <= 0 {
		c.MaxReplies = d.MaxReplies
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}

// Discoverer locates acquisition servers with a UDP broadcast probe.
type Discoverer struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metric.Metrics
}

// New creates a Discoverer. logger and metrics may be nil.
func New(cfg Config, logger *slog.Logger, metrics *metric.Metrics) *Discoverer {
	if logger == nil {
		logger = slog.Default().With("component", "discovery")
	}
	return &Discoverer{
		cfg:     cfg.withDefaults(),
		logger:  logger,
		metrics: metrics,
	}
}

// Discover broadcasts one probe and collects replies until timeout elapses,
// ctx is done, or MaxReplies servers answered. A non-positive timeout uses the
// configured one. Finding no server is not an error.
func (d *Discoverer) Discover(ctx context.Context, timeout time.Duration) ([]control.ServerAddress, error) {
	if timeout <= 0 {
		timeout = d.cfg.Timeout
	}

	target, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(d.cfg.BroadcastAddr, strconv.Itoa(d.cfg.Port)))
	if err != nil {
		return nil, &errors.DiscoveryError{Op: "resolve", Err: err}
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, &errors.DiscoveryError{Op: "listen", Err: err}
	}
	defer conn.Close()

	if _, err := conn.WriteToUDP([]byte(d.cfg.Probe), target); err != nil {
		return nil, &errors.DiscoveryError{Op: "send", Err: err}
	}

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, &errors.DiscoveryError{Op: "deadline", Err: err}
	}

	// unblock ReadFromUDP on cancellation
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	servers := make([]control.ServerAddress, 0, 4)
	buf := make([]byte, d.cfg.ReadBufferSize)
	for len(servers) < d.cfg.MaxReplies {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if stderrors.As(err, &netErr) && netErr.Timeout() {
				break
			}
			return servers, &errors.DiscoveryError{Op: "receive", Err: err}
		}

		addr, ok := d.parseReply(from, buf[:n])
		if !ok {
			continue
		}
		d.metrics.RecordDiscoveryReply("accepted")
		d.logger.Debug("server replied", "server", addr.String())
		servers = append(servers, addr)
	}

	d.logger.Info("discovery finished", "servers", len(servers))
	return servers, nil
}

// parseReply validates one datagram: it must come from the discovery port and
// read "<ack>:<control port>".
func (d *Discoverer) parseReply(from *net.UDPAddr, payload []byte) (control.ServerAddress, bool) {
	if from.Port != d.cfg.Port {
		d.metrics.RecordDiscoveryReply("foreign")
		d.logger.Debug("ignoring datagram from unexpected port", "from", from.String())
		return control.ServerAddress{}, false
	}

	port, ok := parseAck(string(payload), d.cfg.Ack)
	if !ok {
		d.metrics.RecordDiscoveryReply("malformed")
		d.logger.Debug("ignoring malformed reply", "from", from.String(), "payload", string(payload))
		return control.ServerAddress{}, false
	}
	return control.NewServerAddress(from.IP, port), true
}

// parseAck splits on ':' ignoring empty tokens and expects exactly ack and a port.
func parseAck(payload, ack string) (int, bool) {
	tokens := strings.FieldsFunc(payload, func(r rune) bool { return r == ':' })
	if len(tokens) != 2 || tokens[0] != ack {
		return 0, false
	}
	port, err := strconv.Atoi(strings.TrimRight(strings.TrimSpace(tokens[1]), "\x00"))
	if err != nil || port <= 0 || port > 65535 {
		return 0, false
	}
	return port, true
}

// SelectDefault picks the server running on this host when there is one,
// otherwise the first reply. It reports false for an empty list.
func SelectDefault(servers []control.ServerAddress) (control.ServerAddress, bool) {
	var local []net.IP
	if addrs, err := net.InterfaceAddrs(); err == nil {
		for _, a := range addrs {
			if ipNet, ok := a.(*net.IPNet); ok {
				local = append(local, ipNet.IP)
			}
		}
	}
	return selectDefault(servers, local)
}

func selectDefault(servers []control.ServerAddress, local []net.IP) (control.ServerAddress, bool) {
	if len(servers) == 0 {
		return control.ServerAddress{}, false
	}
	for _, s := range servers {
		ip := net.ParseIP(s.Host)
		if ip == nil {
			continue
		}
		for _, l := range local {
			if l.Equal(ip) {
				return s, true
			}
		}
	}
	return servers[0], true
}
