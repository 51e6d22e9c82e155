package transport

import (
	"net"
	"time"

	"github.com/armon/go-metrics"
)

// options holds the configuration for a transport.
type options struct {
	framer   Framer
	logger   Logger
	errorLog ErrorLog
	metrics  *metrics.Metrics

	channelID      int
	remoteAddr     net.Addr
	readBufferSize int // size of the reusable socket read buffer
}

// Option is a function that configures transport options.
type Option func(*options)

// FramerOption returns an Option that sets the message framer.
// If not set, a LengthPrefixFramer with a 1MB limit is used.
func FramerOption(framer Framer) Option {
	return func(o *options) {
		o.framer = framer
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// ErrorLogOption returns an Option that sets the error log consulted when
// reporting errors to the delegate. Error logs may be shared between
// transports.
func ErrorLogOption(log ErrorLog) Option {
	return func(o *options) {
		o.errorLog = log
	}
}

// MetricsOption returns an Option that sets the metrics sink.
// If not set, the global go-metrics instance is used.
func MetricsOption(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// ChannelIDOption returns an Option that tags logs, error entries and
// metrics with a channel id.
func ChannelIDOption(id int) Option {
	return func(o *options) {
		o.channelID = id
	}
}

// RemoteAddrOption returns an Option that records the remote endpoint for logs.
func RemoteAddrOption(addr net.Addr) Option {
	return func(o *options) {
		o.remoteAddr = addr
	}
}

// ReadBufferSizeOption returns an Option that sets the size of the buffer
// each socket read fills.
func ReadBufferSizeOption(size int) Option {
	return func(o *options) {
		o.readBufferSize = size
	}
}

// socketOptions holds the configuration for a NetSocket.
type socketOptions struct {
	logger      Logger
	idleTimeout time.Duration // read/write deadline is idleTimeout * 2
}

// SocketOption configures a NetSocket.
type SocketOption func(*socketOptions)

// SocketLoggerOption sets the logger for a NetSocket.
func SocketLoggerOption(logger Logger) SocketOption {
	return func(o *socketOptions) {
		o.logger = logger
	}
}

// IdleTimeoutOption sets the idle timeout of a NetSocket.
// Each read and write gets a deadline of twice this value.
func IdleTimeoutOption(timeout time.Duration) SocketOption {
	return func(o *socketOptions) {
		o.idleTimeout = timeout
	}
}
