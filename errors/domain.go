package errors

import (
	"errors"
	"fmt"
)

// Acquisition error taxonomy. Each typed error below matches its sentinel
// through errors.Is, so callers can branch without type assertions.
var (
	ErrDiscovery          = errors.New("discovery failed")
	ErrProtocol           = errors.New("protocol error")
	ErrChannelUnavailable = errors.New("channel unavailable")
	ErrInsufficientData   = errors.New("insufficient data")
	ErrTransport          = errors.New("transport error")
)

// DiscoveryError reports a network failure while probing for servers.
type DiscoveryError struct {
	Op  string
	Err error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery %s: %v", e.Op, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// Is matches ErrDiscovery.
func (e *DiscoveryError) Is(target error) bool { return target == ErrDiscovery }

// ProtocolError reports a failed, timed out, or malformed remote call.
type ProtocolError struct {
	Method string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("protocol error calling %s", e.Method)
	}
	return fmt.Sprintf("protocol error calling %s: %v", e.Method, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Is matches ErrProtocol.
func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// NewProtocolError builds a ProtocolError for method.
func NewProtocolError(method string, err error) *ProtocolError {
	return &ProtocolError{Method: method, Err: err}
}

// UnexpectedShape reports a reply whose type does not match the call contract.
func UnexpectedShape(method string, got any) *ProtocolError {
	return &ProtocolError{Method: method, Err: fmt.Errorf("%w: unexpected reply %v (%T)", ErrInvalidData, got, got)}
}

// ChannelUnavailableError reports that a channel is not enabled on the server.
type ChannelUnavailableError struct {
	Channel string
}

func (e *ChannelUnavailableError) Error() string {
	return fmt.Sprintf("channel %s is not enabled on the server", e.Channel)
}

// Is matches ErrChannelUnavailable.
func (e *ChannelUnavailableError) Is(target error) bool { return target == ErrChannelUnavailable }

// InsufficientDataError reports a batch read larger than the buffered sample count.
type InsufficientDataError struct {
	Requested int
	Available int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: requested %d samples, %d buffered", e.Requested, e.Available)
}

// Is matches ErrInsufficientData.
func (e *InsufficientDataError) Is(target error) bool { return target == ErrInsufficientData }

// TransportError reports a listener bind failure or a data connection I/O error.
type TransportError struct {
	Port int
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s on port %d: %v", e.Op, e.Port, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is matches ErrTransport.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// domainClass returns the class of an acquisition error found in err's chain.
func domainClass(err error) (ErrorClass, bool) {
	switch {
	case errors.Is(err, ErrChannelUnavailable), errors.Is(err, ErrInsufficientData):
		return ErrorInvalid, true
	case errors.Is(err, ErrDiscovery), errors.Is(err, ErrProtocol), errors.Is(err, ErrTransport):
		return ErrorTransient, true
	}
	return 0, false
}
