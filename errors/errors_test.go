package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			if result := test.class.String(); result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection timeout", ErrConnectionTimeout, true},
		{"connection lost", ErrConnectionLost, true},
		{"circuit open", ErrCircuitOpen, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"context canceled", context.Canceled, true},
		{"invalid data", ErrInvalidData, false},
		{"resource exhausted", ErrResourceExhausted, false},
		{"timeout in message", fmt.Errorf("operation timeout occurred"), true},
		{"protocol error", NewProtocolError("acq.toggleAcquisition", fmt.Errorf("boom")), true},
		{"discovery error", &DiscoveryError{Op: "send", Err: fmt.Errorf("boom")}, true},
		{"transport error", &TransportError{Port: 16214, Op: "listen", Err: fmt.Errorf("boom")}, true},
		{"channel unavailable", &ChannelUnavailableError{Channel: "analog:0"}, false},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if result := IsTransient(test.err); result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"invalid config", ErrInvalidConfig, true},
		{"missing config", ErrMissingConfig, true},
		{"resource exhausted", ErrResourceExhausted, true},
		{"connection timeout", ErrConnectionTimeout, false},
		{"fatal in message", fmt.Errorf("fatal system error occurred"), true},
		{"insufficient data is never fatal", &InsufficientDataError{Requested: 5, Available: 2}, false},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if result := IsFatal(test.err); result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"invalid data", ErrInvalidData, true},
		{"parsing failed", ErrParsingFailed, true},
		{"channel unavailable", &ChannelUnavailableError{Channel: "digital:2"}, true},
		{"insufficient data", &InsufficientDataError{Requested: 5, Available: 2}, true},
		{"wrapped channel unavailable", fmt.Errorf("activate: %w", &ChannelUnavailableError{Channel: "calc:1"}), true},
		{"protocol error with bad shape", UnexpectedShape("acq.getSamplingRate", "x"), false},
		{"connection timeout", ErrConnectionTimeout, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if result := IsInvalid(test.err); result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"nil", nil, ErrorTransient},
		{"transient", ErrConnectionTimeout, ErrorTransient},
		{"fatal", ErrInvalidConfig, ErrorFatal},
		{"invalid", ErrInvalidData, ErrorInvalid},
		{"protocol", NewProtocolError("acq.getMPUnitType", nil), ErrorTransient},
		{"channel unavailable", &ChannelUnavailableError{Channel: "analog:3"}, ErrorInvalid},
		{"unknown", fmt.Errorf("something odd"), ErrorTransient},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if result := Classify(test.err); result != test.expected {
				t.Errorf("expected %v, got %v", test.expected, result)
			}
		})
	}
}

func TestDomainErrors_MatchSentinels(t *testing.T) {
	inner := fmt.Errorf("connection refused")

	tests := []struct {
		name     string
		err      error
		sentinel error
		unwraps  bool
	}{
		{"discovery", &DiscoveryError{Op: "receive", Err: inner}, ErrDiscovery, true},
		{"protocol", NewProtocolError("acq.toggleAcquisition", inner), ErrProtocol, true},
		{"transport", &TransportError{Port: 16300, Op: "read", Err: inner}, ErrTransport, true},
		{"channel", &ChannelUnavailableError{Channel: "analog:1"}, ErrChannelUnavailable, false},
		{"insufficient", &InsufficientDataError{Requested: 4, Available: 1}, ErrInsufficientData, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			wrapped := Wrap(test.err, "Session", "Activate", "configure channel")
			if !errors.Is(wrapped, test.sentinel) {
				t.Errorf("expected %v to match sentinel %v", wrapped, test.sentinel)
			}
			if test.unwraps && !errors.Is(wrapped, inner) {
				t.Errorf("expected %v to unwrap to the cause", wrapped)
			}
		})
	}
}

func TestDomainErrors_Messages(t *testing.T) {
	err := &ChannelUnavailableError{Channel: "digital:4"}
	if !strings.Contains(err.Error(), "digital:4") {
		t.Errorf("expected channel name in message, got %q", err.Error())
	}

	ins := &InsufficientDataError{Requested: 5, Available: 3}
	if ins.Error() != "insufficient data: requested 5 samples, 3 buffered" {
		t.Errorf("unexpected message %q", ins.Error())
	}

	pe := UnexpectedShape("acq.getSamplingRate", "fast")
	if !errors.Is(pe, ErrInvalidData) {
		t.Error("unexpected shape should wrap ErrInvalidData")
	}
	if !strings.Contains(pe.Error(), "acq.getSamplingRate") {
		t.Errorf("expected method in message, got %q", pe.Error())
	}

	var asProto *ProtocolError
	if !errors.As(Wrap(pe, "XMLRPCClient", "GetSamplingRate", "call"), &asProto) {
		t.Fatal("expected errors.As to find ProtocolError")
	}
	if asProto.Method != "acq.getSamplingRate" {
		t.Errorf("expected method to be preserved, got %q", asProto.Method)
	}
}

func TestClassifiedError(t *testing.T) {
	original := fmt.Errorf("original error")
	ce := &ClassifiedError{
		Class:     ErrorTransient,
		Err:       original,
		Message:   "custom message",
		Component: "stream",
		Operation: "Listen",
	}

	if ce.Error() != "custom message" {
		t.Errorf("expected custom message, got %s", ce.Error())
	}
	if !errors.Is(ce, original) {
		t.Error("expected ClassifiedError to unwrap to original")
	}

	bare := &ClassifiedError{Class: ErrorFatal, Err: original}
	if bare.Error() != "original error" {
		t.Errorf("expected fallback to wrapped message, got %s", bare.Error())
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "A", "B", "c") != nil {
		t.Error("wrapping nil should return nil")
	}

	err := Wrap(ErrConnectionLost, "ChannelStream", "Start", "bind listener")
	expected := "ChannelStream.Start: bind listener failed: connection lost"
	if err.Error() != expected {
		t.Errorf("expected %q, got %q", expected, err.Error())
	}
	if !errors.Is(err, ErrConnectionLost) {
		t.Error("wrapped error should match the original")
	}
}

func TestWrapClassified(t *testing.T) {
	base := fmt.Errorf("base")

	tests := []struct {
		name  string
		wrap  func(error, string, string, string) error
		class ErrorClass
	}{
		{"transient", WrapTransient, ErrorTransient},
		{"invalid", WrapInvalid, ErrorInvalid},
		{"fatal", WrapFatal, ErrorFatal},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.wrap(base, "Discoverer", "Discover", "send probe")
			var ce *ClassifiedError
			if !errors.As(err, &ce) {
				t.Fatal("expected a ClassifiedError")
			}
			if ce.Class != test.class {
				t.Errorf("expected class %v, got %v", test.class, ce.Class)
			}
			if ce.Component != "Discoverer" || ce.Operation != "Discover" {
				t.Errorf("unexpected context %s.%s", ce.Component, ce.Operation)
			}
			if !errors.Is(err, base) {
				t.Error("expected classified error to unwrap to base")
			}
			if test.wrap(nil, "a", "b", "c") != nil {
				t.Error("wrapping nil should return nil")
			}
		})
	}
}

func TestRetryConfig_ShouldRetry(t *testing.T) {
	rc := DefaultRetryConfig()

	if rc.ShouldRetry(nil, 0) {
		t.Error("nil error should not be retried")
	}
	if !rc.ShouldRetry(ErrConnectionTimeout, 0) {
		t.Error("transient error should be retried")
	}
	if rc.ShouldRetry(ErrConnectionTimeout, rc.MaxRetries) {
		t.Error("should stop after MaxRetries")
	}
	if rc.ShouldRetry(&ChannelUnavailableError{Channel: "analog:0"}, 0) {
		t.Error("invalid errors should not be retried")
	}

	rc.RetryableErrors = []error{ErrProtocol}
	if !rc.ShouldRetry(NewProtocolError("acq.getAcquisitionInProgress", nil), 0) {
		t.Error("listed retryable error should be retried")
	}
	if rc.ShouldRetry(ErrConnectionTimeout, 0) {
		t.Error("unlisted error should not be retried when a list is configured")
	}
}

func TestRetryConfig_BackoffDelay(t *testing.T) {
	rc := RetryConfig{
		MaxRetries:    5,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2.0,
	}

	expected := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
	}
	for attempt, want := range expected {
		if got := rc.BackoffDelay(attempt); got != want {
			t.Errorf("attempt %d: expected %v, got %v", attempt, want, got)
		}
	}
}

func TestRetryConfig_ToRetryConfig(t *testing.T) {
	rc := DefaultRetryConfig()
	cfg := rc.ToRetryConfig()

	if cfg.MaxAttempts != rc.MaxRetries+1 {
		t.Errorf("expected %d attempts, got %d", rc.MaxRetries+1, cfg.MaxAttempts)
	}
	if cfg.InitialDelay != rc.InitialDelay || cfg.MaxDelay != rc.MaxDelay {
		t.Error("delays should carry over")
	}
	if cfg.Multiplier != rc.BackoffFactor {
		t.Errorf("expected multiplier %v, got %v", rc.BackoffFactor, cfg.Multiplier)
	}
	if !cfg.AddJitter {
		t.Error("jitter should be enabled")
	}
}
