// Package transport multiplexes framed application messages over a single
// byte-stream socket.
//
// A Transport owns an independent write pipeline, which pushes queued
// messages onto the socket one at a time, and a read pipeline, which
// continuously reads from the socket, reassembles frames and hands each
// decoded message to a Delegate. Both pipelines are explicit state
// machines advanced from socket completions. A socket or framing failure
// latches an error state that stops both pipelines and is reported to
// the delegate once; reconnecting is left to the owner.
//
// A Transport is not safe for concurrent use. All of its methods, and all
// socket completions, must run on one goroutine, typically a Loop.
package transport

import (
	"time"

	"github.com/pkg/errors"
)

// defaultReadBufferSize is the default size of the reusable read buffer.
const defaultReadBufferSize = 4096

// Delegate receives decoded messages and transport errors.
type Delegate interface {
	// OnError is called once, when the transport latches an error.
	// lastErrors holds the recent error log entries for this channel.
	// The owner is responsible for closing the socket.
	OnError(state ChannelError, lastErrors []ErrorEntry)
	// OnMessage is called for each message read from the socket, in
	// stream order.
	OnMessage(message Message)
}

// DelegateFuncs adapts a pair of functions to Delegate. Nil fields are skipped.
type DelegateFuncs struct {
	Message func(Message)
	Error   func(ChannelError, []ErrorEntry)
}

// OnError calls d.Error if set.
func (d DelegateFuncs) OnError(state ChannelError, lastErrors []ErrorEntry) {
	if d.Error != nil {
		d.Error(state, lastErrors)
	}
}

// OnMessage calls d.Message if set.
func (d DelegateFuncs) OnMessage(message Message) {
	if d.Message != nil {
		d.Message(message)
	}
}

// ioResult is the outcome of a socket operation.
type ioResult struct {
	n   int
	err error
}

// Transport reads and writes framed messages on a borrowed Socket.
// The socket must outlive the Transport; the Transport never closes it.
type Transport struct {
	socket   Socket
	delegate Delegate
	framer   Framer
	logger   Logger
	errorLog ErrorLog
	metrics  *channelMetrics
	attrs    []any
	opts     options

	// write pipeline
	writeQueue []*writeRequest
	writeState WriteState
	writeSeq   uint64
	writing    bool
	syncWrite  *ioResult

	// read pipeline
	readBuffer  []byte
	readScratch []byte
	readState   ReadState
	readSeq     uint64
	reading     bool
	syncRead    *ioResult

	errorState ChannelError
	latched    *Error
	closed     bool
}

// New creates a Transport on socket. delegate may be nil until
// SetReadDelegate is called; messages read meanwhile are dropped.
func New(socket Socket, delegate Delegate, opt ...Option) (*Transport, error) {
	if socket == nil {
		return nil, ErrInvalidSocket
	}

	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)

	attrs := []any{"channel_id", opts.channelID}
	if opts.remoteAddr != nil {
		attrs = append(attrs, "remote_addr", opts.remoteAddr.String())
	}

	return &Transport{
		socket:      socket,
		delegate:    delegate,
		framer:      opts.framer,
		logger:      opts.logger,
		errorLog:    opts.errorLog,
		metrics:     newChannelMetrics(opts.metrics, opts.channelID),
		attrs:       attrs,
		opts:        opts,
		readScratch: make([]byte, opts.readBufferSize),
	}, nil
}

// checkOptions sets default values for transport options.
func checkOptions(opts *options) {
	if opts.framer == nil {
		opts.framer = NewLengthPrefixFramer(defaultMaxFrameSize)
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	if opts.errorLog == nil {
		opts.errorLog = NewErrorLog(defaultErrorLogSize)
	}

	if opts.readBufferSize <= 0 {
		opts.readBufferSize = defaultReadBufferSize
	}
}

// SetReadDelegate replaces the delegate. Messages dispatched after the call,
// including ones already buffered, go to the new delegate. An outstanding
// socket read is not reissued.
func (t *Transport) SetReadDelegate(delegate Delegate) {
	t.delegate = delegate
}

// Close tears the transport down. Socket completions that arrive later are
// ignored, and every write request still pending completes with
// ErrTransportClosed. The socket itself is left open.
func (t *Transport) Close() {
	if t.closed {
		return
	}
	t.closed = true
	t.writeSeq++
	t.readSeq++

	queue := t.writeQueue
	t.writeQueue = nil
	t.readBuffer = nil

	t.logger.Debug("transport closed", t.with("dropped_writes", len(queue))...)

	err := newError(ErrTransportClosed, ChannelErrorNone, nil)
	for _, req := range queue {
		req.callback(err)
	}
}

// ChannelID returns the channel id the transport was created with.
func (t *Transport) ChannelID() int {
	return t.opts.channelID
}

// ErrorState returns the latched error state, or ChannelErrorNone.
func (t *Transport) ErrorState() ChannelError {
	return t.errorState
}

// ReadState returns the current read pipeline state.
func (t *Transport) ReadState() ReadState {
	return t.readState
}

// WriteState returns the current write pipeline state.
func (t *Transport) WriteState() WriteState {
	return t.writeState
}

// PendingWrites returns the number of queued write requests, including the
// one being written.
func (t *Transport) PendingWrites() int {
	return len(t.writeQueue)
}

// record appends err to the error log.
func (t *Transport) record(event string, err *Error) {
	t.errorLog.Record(ErrorEntry{
		Time:       time.Now(),
		ChannelID:  t.opts.channelID,
		Event:      event,
		ErrorState: err.State,
		ReadState:  t.readState,
		WriteState: t.writeState,
		Err:        err,
	})
}

// latch records err and makes it the transport's sticky error. It reports
// whether this was the first latched error.
func (t *Transport) latch(event string, err *Error) bool {
	if err.State == ChannelErrorNone {
		err.State = ChannelErrorTransportError
	}
	t.record(event, err)
	if t.latched != nil {
		return false
	}
	t.latched = err
	t.errorState = err.State
	t.logger.Warn("transport error", t.with("event", event, "error_state", err.State.String(), "error", err)...)
	return true
}

// notifyError reports the latched error to the delegate.
func (t *Transport) notifyError() {
	if t.delegate == nil || t.closed {
		return
	}
	t.delegate.OnError(t.errorState, t.lastErrors())
}

// lastErrors returns this channel's entries from the error log.
func (t *Transport) lastErrors() []ErrorEntry {
	all := t.errorLog.Snapshot()
	out := make([]ErrorEntry, 0, len(all))
	for _, e := range all {
		if e.ChannelID == t.opts.channelID {
			out = append(out, e)
		}
	}
	return out
}

// with returns the transport log attributes followed by kv.
func (t *Transport) with(kv ...any) []any {
	out := make([]any, 0, len(t.attrs)+len(kv))
	out = append(out, t.attrs...)
	return append(out, kv...)
}

// asError converts err to an *Error of the given kind unless it already is one.
func asError(err error, kind error, state ChannelError) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return newError(kind, state, err)
}
