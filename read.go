package transport

import (
	"io"

	"github.com/pkg/errors"
)

// StartReading starts the read pipeline. Calling it again, or after an
// error has latched, does nothing.
func (t *Transport) StartReading() {
	if t.closed || t.latched != nil || t.readState != ReadStateIdle {
		return
	}

	t.readState = ReadStateRead
	if !t.reading {
		t.onReadResult(ioResult{})
	}
}

// readCompletion returns the socket callback for read number seq.
func (t *Transport) readCompletion(seq uint64) func(int, error) {
	return func(n int, err error) {
		if t.closed || seq != t.readSeq || t.readState != ReadStateReadComplete {
			return
		}
		res := ioResult{n: n, err: err}
		if t.reading {
			t.syncRead = &res
			return
		}
		t.onReadResult(res)
	}
}

// onReadResult advances the read state machine until it waits on the
// socket or stops on an error.
func (t *Transport) onReadResult(res ioResult) {
	t.reading = true
	defer func() {
		t.reading = false
	}()

	for !t.closed {
		switch t.readState {
		case ReadStateRead:
			var pending bool
			res, pending = t.doRead()
			if pending {
				return
			}
		case ReadStateReadComplete:
			res = t.doReadComplete(res)
		case ReadStateDispatch:
			res = t.doReadDispatch()
		case ReadStateError:
			t.doReadError(res)
			return
		default:
			return
		}
	}
}

// doRead issues the next socket read into the scratch buffer.
// It reports whether the machine is now waiting on the socket.
func (t *Transport) doRead() (ioResult, bool) {
	if t.latched != nil {
		// The write side failed; stop quietly, it already reported.
		t.readState = ReadStateError
		return ioResult{}, true
	}

	t.readState = ReadStateReadComplete
	t.readSeq++
	t.syncRead = nil
	t.socket.Read(t.readScratch, t.readCompletion(t.readSeq))

	if res := t.syncRead; res != nil && !t.closed {
		t.syncRead = nil
		return *res, false
	}
	return ioResult{}, true
}

// doReadComplete appends the bytes just read to the read buffer.
// Zero bytes means the peer closed the connection.
func (t *Transport) doReadComplete(res ioResult) ioResult {
	switch {
	case errors.Is(res.err, io.EOF):
		t.readState = ReadStateError
		return ioResult{err: newError(ErrPeerClosed, ChannelErrorSocketError, res.err)}
	case res.err != nil:
		t.readState = ReadStateError
		return ioResult{err: asError(res.err, ErrSocketRead, ChannelErrorSocketError)}
	case res.n <= 0:
		t.readState = ReadStateError
		return ioResult{err: newError(ErrPeerClosed, ChannelErrorSocketError, nil)}
	}

	n := res.n
	if n > len(t.readScratch) {
		n = len(t.readScratch)
	}
	t.readBuffer = append(t.readBuffer, t.readScratch[:n]...)
	t.readState = ReadStateDispatch
	return ioResult{}
}

// doReadDispatch extracts at most one message from the read buffer and
// delivers it to the current delegate. When no complete frame remains it
// moves back to ReadStateRead.
func (t *Transport) doReadDispatch() ioResult {
	if t.latched != nil {
		t.readState = ReadStateError
		return ioResult{}
	}

	msg, consumed, err := t.framer.TryExtract(t.readBuffer)
	if err == nil && msg != nil && (consumed <= 0 || consumed > len(t.readBuffer)) {
		err = errors.Errorf("framer consumed %d of %d buffered bytes", consumed, len(t.readBuffer))
	}
	if err != nil {
		t.readState = ReadStateError
		return ioResult{err: newError(ErrFrame, ChannelErrorInvalidMessage, err)}
	}
	if msg == nil {
		t.readState = ReadStateRead
		return ioResult{}
	}

	rest := copy(t.readBuffer, t.readBuffer[consumed:])
	t.readBuffer = t.readBuffer[:rest]
	t.metrics.incr(metricReadMessage)

	// Resolve the delegate now so a swap made by the previous OnMessage applies.
	if t.delegate == nil {
		t.logger.Debug("dropping message without delegate", t.with("namespace", namespaceOf(msg))...)
		return ioResult{}
	}
	t.delegate.OnMessage(msg)
	return ioResult{}
}

// doReadError latches a read failure and reports it. A nil error means
// another pipeline already latched and reported.
func (t *Transport) doReadError(res ioResult) {
	if res.err == nil {
		return
	}
	err := asError(res.err, ErrSocketRead, ChannelErrorSocketError)

	event := "socket_read"
	if errors.Is(err, ErrFrame) {
		event = "frame"
	}

	t.readBuffer = nil
	t.metrics.incr(metricReadError)
	if t.latch(event, err) {
		t.notifyError()
	}
}
