package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/c360/acqstream/control"
	"github.com/c360/acqstream/discovery"
	"github.com/c360/acqstream/errors"
	"github.com/c360/acqstream/gateway"
	"github.com/c360/acqstream/output/natspub"
	"github.com/c360/acqstream/output/websocket"
	"github.com/c360/acqstream/service"
	"github.com/c360/acqstream/session"
	"github.com/c360/acqstream/stream"
)

// SupportedVersion is the newest config schema this build understands.
// Files declaring a newer major version are rejected.
const SupportedVersion = "1.0.0"

// Config is the complete daemon configuration.
type Config struct {
	Version   string           `json:"version" yaml:"version"`
	Server    ServerConfig     `json:"server" yaml:"server"`
	Discovery discovery.Config `json:"discovery" yaml:"discovery"`
	Session   SessionConfig    `json:"session" yaml:"session"`
	Drain     DrainConfig      `json:"drain" yaml:"drain"`
	NATS      NATSConfig       `json:"nats" yaml:"nats"`
	WebSocket WebSocketConfig  `json:"websocket" yaml:"websocket"`
	HTTP      gateway.Config   `json:"http" yaml:"http"`
	Log       LogConfig        `json:"log" yaml:"log"`
}

// ServerConfig locates the acquisition server. With Discover set the host
// and port are taken from the first discovery reply unless Host is also set.
type ServerConfig struct {
	Host             string        `json:"host" yaml:"host"`
	ControlPort      int           `json:"control_port" yaml:"control_port"`
	Discover         bool          `json:"discover" yaml:"discover"`
	DiscoveryTimeout time.Duration `json:"discovery_timeout" yaml:"discovery_timeout"`
	RPCTimeout       time.Duration `json:"rpc_timeout" yaml:"rpc_timeout"`
}

// SessionConfig shapes the acquisition session.
type SessionConfig struct {
	Channels              []string      `json:"channels" yaml:"channels"`
	BatchSize             int           `json:"batch_size" yaml:"batch_size"`
	PortMin               int           `json:"port_min" yaml:"port_min"`
	PortMax               int           `json:"port_max" yaml:"port_max"`
	BufferCapacity        int           `json:"buffer_capacity" yaml:"buffer_capacity"`
	BindHost              string        `json:"bind_host" yaml:"bind_host"`
	TemplatePath          string        `json:"template_path,omitempty" yaml:"template_path,omitempty"`
	DataConnectionTimeout time.Duration `json:"data_connection_timeout,omitempty" yaml:"data_connection_timeout,omitempty"`
	StopAcquisitionOnExit bool          `json:"stop_acquisition_on_exit" yaml:"stop_acquisition_on_exit"`
}

// DrainConfig tunes the drain loop.
type DrainConfig struct {
	Interval        time.Duration `json:"interval" yaml:"interval"`
	DeliveryTimeout time.Duration `json:"delivery_timeout" yaml:"delivery_timeout"`
}

// NATSConfig configures the NATS sink and its connection.
type NATSConfig struct {
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	URLs          []string      `json:"urls" yaml:"urls"`
	SubjectPrefix string        `json:"subject_prefix" yaml:"subject_prefix"`
	Encoding      string        `json:"encoding" yaml:"encoding"`
	Stream        string        `json:"stream,omitempty" yaml:"stream,omitempty"`
	Name          string        `json:"name" yaml:"name"`
	Username      string        `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string        `json:"password,omitempty" yaml:"password,omitempty"`
	Token         string        `json:"token,omitempty" yaml:"token,omitempty"`
	MaxReconnects int           `json:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait time.Duration `json:"reconnect_wait" yaml:"reconnect_wait"`
}

// WebSocketConfig configures the WebSocket sink.
type WebSocketConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	Path         string        `json:"path" yaml:"path"`
	QueueSize    int           `json:"queue_size" yaml:"queue_size"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	PingInterval time.Duration `json:"ping_interval" yaml:"ping_interval"`
}

// LogConfig selects the log handler. An empty File logs to stdout only.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
	File   string `json:"file,omitempty" yaml:"file,omitempty"`
}

// Default returns the configuration used before any layer is applied.
func Default() *Config {
	return &Config{
		Version: SupportedVersion,
		Server: ServerConfig{
			Discover:         true,
			DiscoveryTimeout: 2 * time.Second,
			RPCTimeout:       control.DefaultTimeout,
		},
		Discovery: discovery.DefaultConfig(),
		Session: SessionConfig{
			BatchSize:      session.DefaultBatchSize,
			PortMin:        session.DefaultPortMin,
			PortMax:        session.DefaultPortMax,
			BufferCapacity: stream.DefaultBufferCapacity,
		},
		Drain: DrainConfig{
			Interval:        service.DefaultDrainInterval,
			DeliveryTimeout: service.DefaultDeliveryTimeout,
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			SubjectPrefix: natspub.DefaultSubjectPrefix,
			Encoding:      natspub.EncodingMsgpack,
			Name:          "acqstream",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		WebSocket: WebSocketConfig{
			Enabled:      true,
			Path:         "/ws",
			QueueSize:    websocket.DefaultQueueSize,
			WriteTimeout: websocket.DefaultWriteTimeout,
			PingInterval: websocket.DefaultPingInterval,
		},
		HTTP: gateway.DefaultConfig(),
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig wraps a copy of cfg.
func NewSafeConfig(cfg *Config) *SafeConfig {
	return &SafeConfig{config: cfg.Clone()}
}

// Get returns a copy of the current configuration.
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update validates cfg and swaps it in.
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update", "nil config")
	}
	next := cfg.Clone()
	if err := next.Validate(); err != nil {
		return err
	}
	sc.mu.Lock()
	sc.config = next
	sc.mu.Unlock()
	return nil
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Session.Channels = append([]string(nil), c.Session.Channels...)
	clone.NATS.URLs = append([]string(nil), c.NATS.URLs...)
	clone.HTTP.CORSOrigins = append([]string(nil), c.HTTP.CORSOrigins...)
	return &clone
}

// Validate checks every section and fills section defaults where the
// section owner defines them.
func (c *Config) Validate() error {
	if c.Version != "" {
		cmp, err := CompareVersions(c.Version, SupportedVersion)
		if err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", "version")
		}
		if cmp > 0 && majorOf(c.Version) != majorOf(SupportedVersion) {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				fmt.Sprintf("config version %s is newer than supported %s", c.Version, SupportedVersion))
		}
	}

	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateSession(); err != nil {
		return err
	}
	if c.Drain.Interval < 0 || c.Drain.DeliveryTimeout < 0 {
		return invalid("drain durations must not be negative")
	}
	if err := c.validateNATS(); err != nil {
		return err
	}
	if c.WebSocket.Enabled && !strings.HasPrefix(c.WebSocket.Path, "/") {
		return invalid(fmt.Sprintf("websocket.path %q must start with /", c.WebSocket.Path))
	}
	if err := c.HTTP.Validate(); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "http")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "json", "text":
	default:
		return invalid(fmt.Sprintf("log.format %q must be json or text", c.Log.Format))
	}
	return nil
}

func (c *Config) validateServer() error {
	s := c.Server
	if !s.Discover && s.Host == "" {
		return invalid("server.host is required when discovery is disabled")
	}
	if s.Host != "" && (s.ControlPort <= 0 || s.ControlPort > 65535) {
		return invalid(fmt.Sprintf("server.control_port %d out of range", s.ControlPort))
	}
	if s.DiscoveryTimeout < 0 || s.RPCTimeout < 0 {
		return invalid("server timeouts must not be negative")
	}
	if c.Discovery.Port < 0 || c.Discovery.Port > 65535 {
		return invalid(fmt.Sprintf("discovery.port %d out of range", c.Discovery.Port))
	}
	return nil
}

func (c *Config) validateSession() error {
	s := c.Session
	for _, ch := range s.Channels {
		if _, err := control.ParseChannelKey(ch); err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", "session.channels")
		}
	}
	if s.BatchSize < 0 {
		return invalid("session.batch_size must not be negative")
	}
	if s.PortMin <= 0 || s.PortMax > 65535 || s.PortMin > s.PortMax {
		return invalid(fmt.Sprintf("session port range %d..%d is invalid", s.PortMin, s.PortMax))
	}
	if s.BufferCapacity < 0 {
		return invalid("session.buffer_capacity must not be negative")
	}
	if s.DataConnectionTimeout < 0 {
		return invalid("session.data_connection_timeout must not be negative")
	}
	return nil
}

func (c *Config) validateNATS() error {
	n := c.NATS
	if !n.Enabled {
		return nil
	}
	if len(n.URLs) == 0 {
		return invalid("nats.urls is required when nats is enabled")
	}
	for _, part := range strings.Split(n.SubjectPrefix, ".") {
		if !isValidNATSSubjectPart(part) {
			return invalid(fmt.Sprintf(
				"nats.subject_prefix %q is not a valid subject (alphanumeric, dashes, underscores)", n.SubjectPrefix))
		}
	}
	if err := (natspub.Config{Encoding: n.Encoding}).Validate(); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "nats")
	}
	if n.ReconnectWait < 0 {
		return invalid("nats.reconnect_wait must not be negative")
	}
	return nil
}

// isValidNATSSubjectPart checks one dot-separated token of a subject.
func isValidNATSSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}

	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			return false
		}
	}
	return true
}

func invalid(msg string) error {
	return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", msg)
}

// Acquisition projects the service settings.
func (c *Config) Acquisition() service.AcquisitionConfig {
	return service.AcquisitionConfig{
		Channels:              append([]string(nil), c.Session.Channels...),
		DrainInterval:         c.Drain.Interval,
		TemplatePath:          c.Session.TemplatePath,
		DataConnectionTimeout: c.Session.DataConnectionTimeout,
		StopAcquisitionOnExit: c.Session.StopAcquisitionOnExit,
		DeliveryTimeout:       c.Drain.DeliveryTimeout,
	}
}

// SessionTuning projects the session settings.
func (c *Config) SessionTuning() session.Config {
	return session.Config{
		BatchSize:      c.Session.BatchSize,
		BufferCapacity: c.Session.BufferCapacity,
		BindHost:       c.Session.BindHost,
	}
}

// Publisher projects the NATS sink settings.
func (c *Config) Publisher() natspub.Config {
	return natspub.Config{
		SubjectPrefix: c.NATS.SubjectPrefix,
		Encoding:      c.NATS.Encoding,
		Stream:        c.NATS.Stream,
	}
}

// Broadcaster projects the WebSocket sink settings.
func (c *Config) Broadcaster() websocket.Config {
	return websocket.Config{
		QueueSize:    c.WebSocket.QueueSize,
		WriteTimeout: c.WebSocket.WriteTimeout,
		PingInterval: c.WebSocket.PingInterval,
	}
}

// Gateway returns the HTTP settings with the WebSocket mount applied.
func (c *Config) Gateway() gateway.Config {
	g := c.HTTP
	g.CORSOrigins = append([]string(nil), c.HTTP.CORSOrigins...)
	g.WebSocketPath = ""
	if c.WebSocket.Enabled {
		g.WebSocketPath = c.WebSocket.Path
	}
	return g
}

// ParseLevel maps a level name to a slog level. Empty means info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, invalid(fmt.Sprintf("unknown log level %q", level))
	}
}

// SaveToFile writes the configuration as JSON, or YAML when the path ends
// in .yaml or .yml.
func (c *Config) SaveToFile(path string) error {
	data, err := marshalFor(path, c)
	if err != nil {
		return errors.Wrap(err, "Config", "SaveToFile", "encode")
	}
	return safeWriteFile(path, data)
}

// String returns the configuration as JSON with secrets masked.
func (c *Config) String() string {
	redacted := c.Clone()
	for _, secret := range []*string{&redacted.NATS.Password, &redacted.NATS.Token} {
		if *secret != "" {
			*secret = "***"
		}
	}
	data, _ := json.MarshalIndent(redacted, "", "  ")
	return string(data)
}
