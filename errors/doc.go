// Package errors provides standardized error handling for acqstream components.
//
// # Overview
//
// Errors fall into three classes: Transient (temporary, retryable), Invalid
// (bad input, do not retry) and Fatal (stop processing). Components make
// retry and reporting decisions from the class instead of matching strings.
//
// # Acquisition Errors
//
// The acquisition pipeline reports five typed errors, each matching a
// sentinel through errors.Is:
//
//	DiscoveryError          ErrDiscovery          transient  probe send or reply receive failed
//	ProtocolError           ErrProtocol           transient  remote call failed, timed out or returned a bad shape
//	ChannelUnavailableError ErrChannelUnavailable invalid    channel not enabled on the server
//	InsufficientDataError   ErrInsufficientData   invalid    batch read larger than the buffer
//	TransportError          ErrTransport          transient  listener bind or data connection I/O failed
//
// None of them is fatal; the worst outcome is a channel or session that has
// to be started again.
//
//	if err := sess.Activate(ctx, key); err != nil {
//	    if errors.Is(err, errors.ErrChannelUnavailable) {
//	        // enable the channel in the server template first
//	    }
//	}
//
// # Error Wrapping Pattern
//
// All wrapping follows the format:
//
//	"component.method: action failed: %w"
//
// WrapTransient, WrapInvalid and WrapFatal also attach a class. Wrap keeps
// the class of the wrapped error.
//
// # Retry Configuration
//
// RetryConfig decides whether an error deserves another attempt and converts
// to the pkg/retry Config:
//
//	cfg := errors.DefaultRetryConfig().ToRetryConfig()
//	err := retry.Do(ctx, cfg, func() error { return publish() })
//
// # Context Cancellation
//
// context.DeadlineExceeded and context.Canceled are classified as Transient.
package errors
