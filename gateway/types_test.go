package gateway_test

import (
	"testing"
	"time"

	pkgerrors "github.com/c360/acqstream/errors"
	"github.com/c360/acqstream/gateway"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		config      gateway.Config
		expectError bool
	}{
		{
			name:        "zero config gets defaults",
			config:      gateway.Config{},
			expectError: false,
		},
		{
			name:        "explicit host and port",
			config:      gateway.Config{ListenAddr: "127.0.0.1:9090"},
			expectError: false,
		},
		{
			name:        "listen address without port",
			config:      gateway.Config{ListenAddr: "localhost"},
			expectError: true,
		},
		{
			name:        "negative max request size",
			config:      gateway.Config{MaxRequestSize: -1},
			expectError: true,
		},
		{
			name:        "max request size too large",
			config:      gateway.Config{MaxRequestSize: 11 * 1024 * 1024},
			expectError: true,
		},
		{
			name:        "request timeout too short",
			config:      gateway.Config{RequestTimeout: 50 * time.Millisecond},
			expectError: true,
		},
		{
			name:        "request timeout too long",
			config:      gateway.Config{RequestTimeout: 2 * time.Minute},
			expectError: true,
		},
		{
			name:        "CORS without origins",
			config:      gateway.Config{EnableCORS: true},
			expectError: true,
		},
		{
			name:        "CORS with origins",
			config:      gateway.Config{EnableCORS: true, CORSOrigins: []string{"https://ui.example.com"}},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectError && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("expected no error, got %v", err)
			}
			if tt.expectError && err != nil && !pkgerrors.IsInvalid(err) {
				t.Errorf("expected invalid error, got %v", err)
			}
		})
	}
}

func TestConfig_ValidateFillsDefaults(t *testing.T) {
	var cfg gateway.Config
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.ListenAddr != gateway.DefaultListenAddr {
		t.Errorf("listen addr = %q, want %q", cfg.ListenAddr, gateway.DefaultListenAddr)
	}
	if cfg.MaxRequestSize != gateway.DefaultMaxRequestSize {
		t.Errorf("max request size = %d, want %d", cfg.MaxRequestSize, gateway.DefaultMaxRequestSize)
	}
	if cfg.RequestTimeout != gateway.DefaultRequestTimeout {
		t.Errorf("request timeout = %v, want %v", cfg.RequestTimeout, gateway.DefaultRequestTimeout)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := gateway.DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.WebSocketPath != "/ws" {
		t.Errorf("websocket path = %q, want /ws", cfg.WebSocketPath)
	}
	if cfg.EnableCORS {
		t.Error("CORS should be disabled by default")
	}
}
