package gateway

import (
	"fmt"
	"net"
	"time"

	"github.com/c360/acqstream/errors"
)

const (
	DefaultListenAddr     = ":8080"
	DefaultMaxRequestSize = 64 * 1024
	DefaultRequestTimeout = 10 * time.Second
)

// Config holds configuration for the HTTP gateway
type Config struct {
	// ListenAddr is the host:port the server binds.
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`

	// EnableCORS enables CORS headers (default: false, requires explicit cors_origins)
	EnableCORS bool `json:"enable_cors" yaml:"enable_cors"`

	// CORSOrigins lists allowed CORS origins (required when EnableCORS is true).
	// Use ["*"] for development only.
	CORSOrigins []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`

	// MaxRequestSize limits request body size in bytes
	MaxRequestSize int64 `json:"max_request_size,omitempty" yaml:"max_request_size,omitempty"`

	// RequestTimeout bounds each handler's calls to the acquisition server.
	RequestTimeout time.Duration `json:"request_timeout,omitempty" yaml:"request_timeout,omitempty"`

	ReadTimeout  time.Duration `json:"read_timeout,omitempty" yaml:"read_timeout,omitempty"`
	WriteTimeout time.Duration `json:"write_timeout,omitempty" yaml:"write_timeout,omitempty"`

	// WebSocketPath mounts the sample feed; empty disables it.
	WebSocketPath string `json:"websocket_path,omitempty" yaml:"websocket_path,omitempty"`
}

// Validate ensures the gateway configuration is valid and fills defaults.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate",
			fmt.Sprintf("invalid listen_addr %q", c.ListenAddr))
	}

	if c.MaxRequestSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size cannot be negative")
	}
	if c.MaxRequestSize == 0 {
		c.MaxRequestSize = DefaultMaxRequestSize
	}
	if c.MaxRequestSize > 10*1024*1024 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size cannot exceed 10MB")
	}

	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.RequestTimeout < 100*time.Millisecond || c.RequestTimeout > time.Minute {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"request_timeout must be between 100ms and 1m")
	}

	// CORS requires explicit origin configuration
	if c.EnableCORS && len(c.CORSOrigins) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"enable_cors requires explicit cors_origins configuration (use [\"*\"] for development only)")
	}

	return nil
}

// DefaultConfig returns default gateway configuration
func DefaultConfig() Config {
	return Config{
		ListenAddr:     DefaultListenAddr,
		MaxRequestSize: DefaultMaxRequestSize,
		RequestTimeout: DefaultRequestTimeout,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		WebSocketPath:  "/ws",
	}
}
