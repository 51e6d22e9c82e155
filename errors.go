package transport

import (
	"fmt"

	"github.com/pkg/errors"
)

// Errors returned by transport construction and socket operations.
var (
	// ErrInvalidSocket is returned when no socket is provided.
	ErrInvalidSocket = errors.New("invalid socket")
	// ErrSocketClosed completes socket operations issued on a closed socket.
	ErrSocketClosed = errors.New("socket closed")
	// ErrOperationPending completes a read or write issued while another
	// one of the same kind is still outstanding.
	ErrOperationPending = errors.New("operation already pending")
)

// Error kinds delivered to write callbacks and recorded in the error log.
// Use errors.Is to test an *Error against them.
var (
	// ErrEncode means the message could not be serialized. It never
	// touches the socket and never latches the transport.
	ErrEncode = errors.New("encode error")
	// ErrSocketWrite means the socket failed a write.
	ErrSocketWrite = errors.New("socket write error")
	// ErrSocketRead means the socket failed a read.
	ErrSocketRead = errors.New("socket read error")
	// ErrPeerClosed means a read completed with zero bytes.
	ErrPeerClosed = errors.New("peer closed connection")
	// ErrFrame means received bytes do not parse as a valid frame.
	ErrFrame = errors.New("frame error")
	// ErrTransportClosed completes requests dropped by Close, and
	// requests enqueued after it.
	ErrTransportClosed = errors.New("transport closed")
)

// Error is a transport failure of a given kind.
type Error struct {
	// Kind is one of the Err* kinds above.
	Kind error
	// State is the channel error state latched for this failure, or
	// ChannelErrorNone when the failure did not latch.
	State ChannelError
	// Err is the underlying cause, if any.
	Err error
}

func newError(kind error, state ChannelError, cause error) *Error {
	return &Error{Kind: kind, State: state, Err: cause}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Err.Error()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ChannelError is the sticky error state of a transport.
type ChannelError int

const (
	ChannelErrorNone ChannelError = iota
	ChannelErrorChannelNotOpen
	ChannelErrorAuthenticationError
	ChannelErrorConnectError
	ChannelErrorSocketError
	ChannelErrorTransportError
	ChannelErrorInvalidMessage
	ChannelErrorInvalidChannelID
	ChannelErrorConnectTimeout
	ChannelErrorUnknown
)

var channelErrorNames = [...]string{
	ChannelErrorNone:                "none",
	ChannelErrorChannelNotOpen:      "channel_not_open",
	ChannelErrorAuthenticationError: "authentication_error",
	ChannelErrorConnectError:        "connect_error",
	ChannelErrorSocketError:         "socket_error",
	ChannelErrorTransportError:      "transport_error",
	ChannelErrorInvalidMessage:      "invalid_message",
	ChannelErrorInvalidChannelID:    "invalid_channel_id",
	ChannelErrorConnectTimeout:      "connect_timeout",
	ChannelErrorUnknown:             "unknown",
}

func (c ChannelError) String() string {
	if c >= 0 && int(c) < len(channelErrorNames) {
		return channelErrorNames[c]
	}
	return fmt.Sprintf("channel_error(%d)", int(c))
}
