package transport

import (
	"io"
	"time"

	"github.com/pkg/errors"
)

// writeRequest is one queued outgoing message.
type writeRequest struct {
	message   Message
	namespace string
	callback  func(error)
	queuedAt  time.Time

	// buf holds the unwritten suffix of the encoded frame once encoded is set.
	buf     []byte
	encoded bool
}

// SendMessage queues message for writing. callback is invoked exactly once:
// with nil after the whole frame has been written, or with an *Error.
//
// Callbacks fire in the order messages were queued. If the transport has
// already latched an error, or is closed, callback fires before
// SendMessage returns and the socket is not touched.
func (t *Transport) SendMessage(message Message, callback func(error)) {
	if callback == nil {
		callback = func(error) {}
	}
	if t.closed {
		callback(newError(ErrTransportClosed, ChannelErrorNone, nil))
		return
	}
	if t.latched != nil {
		callback(t.latched)
		return
	}

	t.writeQueue = append(t.writeQueue, &writeRequest{
		message:   message,
		namespace: namespaceOf(message),
		callback:  callback,
		queuedAt:  time.Now(),
	})
	t.metrics.queue(len(t.writeQueue))

	if t.writeState == WriteStateIdle {
		t.writeState = WriteStateWrite
		if !t.writing {
			t.onWriteResult(ioResult{})
		}
	}
}

// writeCompletion returns the socket callback for write number seq.
func (t *Transport) writeCompletion(seq uint64) func(int, error) {
	return func(n int, err error) {
		if t.closed || seq != t.writeSeq || t.writeState != WriteStateWriteComplete {
			return
		}
		res := ioResult{n: n, err: err}
		if t.writing {
			t.syncWrite = &res
			return
		}
		t.onWriteResult(res)
	}
}

// onWriteResult advances the write state machine until it waits on the
// socket, runs out of requests, or stops on an error.
func (t *Transport) onWriteResult(res ioResult) {
	t.writing = true
	defer func() {
		t.writing = false
	}()

	for !t.closed {
		switch t.writeState {
		case WriteStateWrite:
			var pending bool
			res, pending = t.doWrite()
			if pending {
				return
			}
		case WriteStateWriteComplete:
			res = t.doWriteComplete(res)
		case WriteStateCallback:
			t.doWriteCallback()
		case WriteStateError:
			if t.doWriteError(res) {
				return
			}
		default:
			return
		}
	}
}

// doWrite hands the queue head to the socket, encoding it first if needed.
// It reports whether the machine is now waiting on the socket.
func (t *Transport) doWrite() (ioResult, bool) {
	if len(t.writeQueue) == 0 {
		t.writeState = WriteStateIdle
		return ioResult{}, false
	}
	if t.latched != nil {
		// The read side failed; nothing more goes out.
		t.writeState = WriteStateError
		t.flushWriteQueue(t.latched)
		return ioResult{}, true
	}

	req := t.writeQueue[0]
	if !req.encoded {
		buf, err := t.framer.Serialize(req.message)
		if err == nil && len(buf) == 0 {
			err = errors.New("framer produced an empty frame")
		}
		if err != nil {
			t.writeState = WriteStateError
			return ioResult{err: newError(ErrEncode, ChannelErrorNone, err)}, false
		}
		req.buf = buf
		req.encoded = true
		req.message = nil
	}

	t.writeState = WriteStateWriteComplete
	t.writeSeq++
	t.syncWrite = nil
	t.socket.Write(req.buf, t.writeCompletion(t.writeSeq))

	if res := t.syncWrite; res != nil && !t.closed {
		t.syncWrite = nil
		return *res, false
	}
	return ioResult{}, true
}

// doWriteComplete consumes a socket write result. A partial write goes
// back to WriteStateWrite with the unwritten suffix.
func (t *Transport) doWriteComplete(res ioResult) ioResult {
	if res.err != nil || res.n <= 0 {
		cause := res.err
		if cause == nil {
			cause = io.ErrShortWrite
		}
		t.writeState = WriteStateError
		return ioResult{err: asError(cause, ErrSocketWrite, ChannelErrorSocketError)}
	}

	req := t.writeQueue[0]
	if res.n >= len(req.buf) {
		req.buf = nil
		t.writeState = WriteStateCallback
		return ioResult{}
	}

	req.buf = req.buf[res.n:]
	t.writeState = WriteStateWrite
	return ioResult{}
}

// doWriteCallback pops the fully written head and reports success.
func (t *Transport) doWriteCallback() {
	req := t.popWrite()

	t.metrics.incr(metricWriteMessage)
	t.metrics.since(metricWriteLatency, req.queuedAt)

	req.callback(nil)
}

// doWriteError fails the queue head. Encode failures only affect that
// request; anything else latches the transport and fails the whole queue.
// It reports whether the pipeline has stopped.
func (t *Transport) doWriteError(res ioResult) bool {
	err := asError(res.err, ErrSocketWrite, ChannelErrorSocketError)

	if errors.Is(err, ErrEncode) {
		req := t.popWrite()
		t.record("encode", err)
		t.metrics.incr(metricEncodeError)
		t.logger.Info("message encode failed", t.with("namespace", req.namespace, "error", err)...)
		req.callback(err)
		return false
	}

	t.metrics.incr(metricWriteError)
	first := t.latch("socket_write", err)
	t.flushWriteQueue(err)
	if first {
		t.notifyError()
	}
	return true
}

// popWrite removes the queue head and picks the next write state.
func (t *Transport) popWrite() *writeRequest {
	req := t.writeQueue[0]
	t.writeQueue[0] = nil
	t.writeQueue = t.writeQueue[1:]
	if len(t.writeQueue) > 0 {
		t.writeState = WriteStateWrite
	} else {
		t.writeState = WriteStateIdle
	}
	t.metrics.queue(len(t.writeQueue))
	return req
}

// flushWriteQueue fails every queued request with err, in queue order.
func (t *Transport) flushWriteQueue(err error) {
	queue := t.writeQueue
	t.writeQueue = nil
	t.metrics.queue(0)

	if len(queue) > 0 {
		t.logger.Debug("flushing write queue", t.with("requests", len(queue))...)
	}
	for _, req := range queue {
		req.callback(err)
	}
}
