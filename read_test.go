package transport

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestTransport_StartReading_Idempotent(t *testing.T) {
	sock := &fakeSocket{}
	tr := newTestTransport(t, sock, &recordingDelegate{})

	tr.StartReading()
	tr.StartReading()

	if sock.readCalls != 1 {
		t.Errorf("read calls = %d, want 1", sock.readCalls)
	}
	if tr.ReadState() != ReadStateReadComplete {
		t.Errorf("read state = %v, want read_complete", tr.ReadState())
	}
}

func TestTransport_Read_TwoMessagesInOneRead(t *testing.T) {
	sock := &fakeSocket{}
	delegate := &recordingDelegate{}
	var readCallsAtDispatch []int
	delegate.onMessage = func(Message) {
		readCallsAtDispatch = append(readCallsAtDispatch, sock.readCalls)
	}
	tr := newTestTransport(t, sock, delegate)

	tr.StartReading()
	sock.completeRead(t, frames(t, "first", "second"))

	if fmt.Sprint(delegate.messages) != "[first second]" {
		t.Errorf("messages = %v", delegate.messages)
	}
	if fmt.Sprint(readCallsAtDispatch) != "[1 1]" {
		t.Errorf("next read issued before dispatch finished: %v", readCallsAtDispatch)
	}
	if sock.readCalls != 2 || len(sock.reads) != 1 {
		t.Errorf("reads: calls=%d outstanding=%d, want 2/1", sock.readCalls, len(sock.reads))
	}
	if len(tr.readBuffer) != 0 {
		t.Errorf("read buffer holds %d bytes", len(tr.readBuffer))
	}
}

func TestTransport_Read_FrameSplitAcrossReads(t *testing.T) {
	sock := &fakeSocket{}
	delegate := &recordingDelegate{}
	tr := newTestTransport(t, sock, delegate)

	wire := frames(t, "split message", "tail")
	tr.StartReading()

	sock.completeRead(t, wire[:2])
	sock.completeRead(t, wire[2:10])
	if len(delegate.messages) != 0 {
		t.Fatalf("message dispatched early: %v", delegate.messages)
	}
	sock.completeRead(t, wire[10:20])
	if fmt.Sprint(delegate.messages) != "[split message]" {
		t.Fatalf("messages = %v", delegate.messages)
	}
	sock.completeRead(t, wire[20:])

	if fmt.Sprint(delegate.messages) != "[split message tail]" {
		t.Errorf("messages = %v", delegate.messages)
	}
	if tr.ReadState() != ReadStateReadComplete {
		t.Errorf("read state = %v, want read_complete", tr.ReadState())
	}
}

func TestTransport_Read_SmallScratchBuffer(t *testing.T) {
	sock := &fakeSocket{}
	delegate := &recordingDelegate{}
	tr := newTestTransport(t, sock, delegate, ReadBufferSizeOption(3))

	wire := frames(t, "abcdefgh")
	tr.StartReading()
	for off := 0; off < len(wire); off += 3 {
		end := off + 3
		if end > len(wire) {
			end = len(wire)
		}
		sock.completeRead(t, wire[off:end])
	}

	if fmt.Sprint(delegate.messages) != "[abcdefgh]" {
		t.Errorf("messages = %v", delegate.messages)
	}
}

func TestTransport_Read_ZeroBytesIsPeerClose(t *testing.T) {
	sock := &fakeSocket{}
	delegate := &recordingDelegate{}
	tr := newTestTransport(t, sock, delegate)

	tr.StartReading()
	sock.completeRead(t, nil)

	if tr.ReadState() != ReadStateError {
		t.Errorf("read state = %v, want error", tr.ReadState())
	}
	if tr.ErrorState() != ChannelErrorSocketError {
		t.Errorf("error state = %v, want socket_error", tr.ErrorState())
	}
	if sock.readCalls != 1 || len(sock.reads) != 0 {
		t.Errorf("reads after peer close: calls=%d outstanding=%d", sock.readCalls, len(sock.reads))
	}
	if len(delegate.states) != 1 {
		t.Fatalf("OnError calls = %d, want 1", len(delegate.states))
	}
	last := delegate.lastErrors[0]
	if len(last) != 1 || !errors.Is(last[0].Err, ErrPeerClosed) || last[0].Event != "socket_read" {
		t.Errorf("last errors = %+v", last)
	}

	// A latched read error also stops writes.
	var got error
	tr.SendMessage(Bytes("x"), func(err error) { got = err })
	if !errors.Is(got, ErrPeerClosed) {
		t.Errorf("expected ErrPeerClosed, got %v", got)
	}
	if sock.writeCalls != 0 {
		t.Error("write issued after read error")
	}

	tr.StartReading()
	if sock.readCalls != 1 {
		t.Error("StartReading restarted a failed pipeline")
	}
}

func TestTransport_Read_EOFIsPeerClose(t *testing.T) {
	sock := &fakeSocket{}
	delegate := &recordingDelegate{}
	tr := newTestTransport(t, sock, delegate)

	tr.StartReading()
	sock.failRead(t, io.EOF)

	if tr.ErrorState() != ChannelErrorSocketError {
		t.Errorf("error state = %v, want socket_error", tr.ErrorState())
	}
	if len(delegate.lastErrors) != 1 || !errors.Is(delegate.lastErrors[0][0].Err, ErrPeerClosed) {
		t.Errorf("last errors = %+v", delegate.lastErrors)
	}
}

func TestTransport_Read_SocketError(t *testing.T) {
	sock := &fakeSocket{}
	delegate := &recordingDelegate{}
	tr := newTestTransport(t, sock, delegate)

	tr.StartReading()
	sock.failRead(t, io.ErrClosedPipe)

	if tr.ReadState() != ReadStateError {
		t.Errorf("read state = %v, want error", tr.ReadState())
	}
	if len(delegate.states) != 1 || delegate.states[0] != ChannelErrorSocketError {
		t.Fatalf("OnError calls = %v", delegate.states)
	}
	err := delegate.lastErrors[0][0].Err
	if !errors.Is(err, ErrSocketRead) || !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("entry error = %v", err)
	}
	if sock.readCalls != 1 {
		t.Errorf("read calls = %d, want 1", sock.readCalls)
	}
}

func TestTransport_Read_FrameError(t *testing.T) {
	sock := &fakeSocket{}
	delegate := &recordingDelegate{}
	tr := newTestTransport(t, sock, delegate, FramerOption(NewLengthPrefixFramer(8)))

	wire := append(frames(t, "ok"), 0, 0, 1, 0) // declares a 256 byte frame
	tr.StartReading()
	sock.completeRead(t, wire)

	if fmt.Sprint(delegate.messages) != "[ok]" {
		t.Errorf("messages = %v", delegate.messages)
	}
	if tr.ErrorState() != ChannelErrorInvalidMessage {
		t.Errorf("error state = %v, want invalid_message", tr.ErrorState())
	}
	if sock.readCalls != 1 {
		t.Errorf("read calls = %d, want 1", sock.readCalls)
	}
	if len(delegate.lastErrors) != 1 {
		t.Fatalf("OnError calls = %d, want 1", len(delegate.lastErrors))
	}
	entry := delegate.lastErrors[0][0]
	if entry.Event != "frame" || !errors.Is(entry.Err, ErrFrame) || !errors.Is(entry.Err, ErrFrameTooLarge) {
		t.Errorf("entry = %+v", entry)
	}
	if entry.ReadState != ReadStateError {
		t.Errorf("entry read state = %v", entry.ReadState)
	}
}

// overreachingFramer claims to consume more bytes than it was given.
type overreachingFramer struct {
	LengthPrefixFramer
}

func (f *overreachingFramer) TryExtract(buf []byte) (Message, int, error) {
	if len(buf) == 0 {
		return nil, 0, nil
	}
	return Bytes(buf), len(buf) + 1, nil
}

func TestTransport_Read_FramerOverconsumeIsFrameError(t *testing.T) {
	sock := &fakeSocket{}
	delegate := &recordingDelegate{}
	tr := newTestTransport(t, sock, delegate, FramerOption(&overreachingFramer{}))

	tr.StartReading()
	sock.completeRead(t, []byte("abc"))

	if len(delegate.messages) != 0 {
		t.Errorf("messages = %v", delegate.messages)
	}
	if tr.ErrorState() != ChannelErrorInvalidMessage {
		t.Errorf("error state = %v, want invalid_message", tr.ErrorState())
	}
}

func TestTransport_SetReadDelegate_MidStream(t *testing.T) {
	sock := &fakeSocket{}
	second := &recordingDelegate{}
	first := &recordingDelegate{}
	tr := newTestTransport(t, sock, first)
	first.onMessage = func(Message) {
		tr.SetReadDelegate(second)
	}

	tr.StartReading()
	sock.completeRead(t, frames(t, "one", "two", "three"))

	if fmt.Sprint(first.messages) != "[one]" {
		t.Errorf("first delegate = %v", first.messages)
	}
	if fmt.Sprint(second.messages) != "[two three]" {
		t.Errorf("second delegate = %v", second.messages)
	}
	if sock.readCalls != 2 {
		t.Errorf("read calls = %d, want 2", sock.readCalls)
	}
}

func TestTransport_SetReadDelegate_BetweenReads(t *testing.T) {
	sock := &fakeSocket{}
	first := &recordingDelegate{}
	second := &recordingDelegate{}
	tr := newTestTransport(t, sock, first)

	tr.StartReading()
	sock.completeRead(t, frames(t, "a"))
	tr.SetReadDelegate(second)
	sock.completeRead(t, frames(t, "b"))
	sock.failRead(t, io.ErrUnexpectedEOF)

	if fmt.Sprint(first.messages) != "[a]" || fmt.Sprint(second.messages) != "[b]" {
		t.Errorf("first=%v second=%v", first.messages, second.messages)
	}
	if len(first.states) != 0 || len(second.states) != 1 {
		t.Errorf("OnError: first=%v second=%v", first.states, second.states)
	}
	if sock.readCalls != 3 {
		t.Errorf("read calls = %d, want 3", sock.readCalls)
	}
}

func TestTransport_Read_NoDelegateDropsMessages(t *testing.T) {
	sock := &fakeSocket{}
	tr := newTestTransport(t, sock, nil)

	tr.StartReading()
	sock.completeRead(t, frames(t, "dropped"))

	if tr.ReadState() != ReadStateReadComplete {
		t.Errorf("read state = %v, want read_complete", tr.ReadState())
	}
	if len(tr.readBuffer) != 0 {
		t.Errorf("read buffer holds %d bytes", len(tr.readBuffer))
	}
}

func TestTransport_Read_CloseFromOnMessage(t *testing.T) {
	sock := &fakeSocket{}
	delegate := &recordingDelegate{}
	tr := newTestTransport(t, sock, delegate)
	delegate.onMessage = func(Message) { tr.Close() }

	tr.StartReading()
	sock.completeRead(t, frames(t, "one", "two"))

	if fmt.Sprint(delegate.messages) != "[one]" {
		t.Errorf("messages = %v", delegate.messages)
	}
	if sock.readCalls != 1 {
		t.Errorf("read issued after close")
	}
}

func TestTransport_Read_SendFromOnMessage(t *testing.T) {
	sock := &fakeSocket{}
	delegate := &recordingDelegate{}
	tr := newTestTransport(t, sock, delegate)
	delegate.onMessage = func(m Message) {
		tr.SendMessage(m, nil)
	}

	tr.StartReading()
	sock.completeRead(t, frames(t, "ping"))
	sock.completeWrite(t, -1)

	if string(sock.wire) != string(frames(t, "ping")) {
		t.Errorf("wire = %q", sock.wire)
	}
}

func TestTransport_WriteErrorStopsReading(t *testing.T) {
	sock := &fakeSocket{}
	delegate := &recordingDelegate{}
	tr := newTestTransport(t, sock, delegate)

	tr.StartReading()
	tr.SendMessage(Bytes("m"), nil)
	sock.failWrite(t, io.ErrClosedPipe)

	// The outstanding read still completes, but nothing more is delivered.
	sock.completeRead(t, frames(t, "late"))

	if len(delegate.messages) != 0 {
		t.Errorf("messages after write error = %v", delegate.messages)
	}
	if tr.ReadState() != ReadStateError {
		t.Errorf("read state = %v, want error", tr.ReadState())
	}
	if sock.readCalls != 1 {
		t.Errorf("read calls = %d, want 1", sock.readCalls)
	}
	if len(delegate.states) != 1 {
		t.Errorf("OnError calls = %d, want 1", len(delegate.states))
	}
}

func TestTransport_ReadErrorFailsQueuedWrites(t *testing.T) {
	sock := &fakeSocket{}
	delegate := &recordingDelegate{}
	tr := newTestTransport(t, sock, delegate)

	tr.StartReading()
	results := make([]error, 2)
	for i := range results {
		i := i
		tr.SendMessage(Bytes("m"), func(err error) { results[i] = err })
	}

	sock.failRead(t, io.ErrClosedPipe)
	// The active write was already on the socket and succeeds.
	sock.completeWrite(t, -1)

	if results[0] != nil {
		t.Errorf("active write: %v", results[0])
	}
	if !errors.Is(results[1], ErrSocketRead) {
		t.Errorf("queued write: expected ErrSocketRead, got %v", results[1])
	}
	if sock.writeCalls != 1 {
		t.Errorf("write calls = %d, want 1", sock.writeCalls)
	}
	if len(delegate.states) != 1 {
		t.Errorf("OnError calls = %d, want 1", len(delegate.states))
	}
}

func TestTransport_SynchronousReadCompletion(t *testing.T) {
	wire := frames(t, "x", "y")
	sock := &fakeSocket{}
	sock.onRead = func(buf []byte) (int, error) {
		if len(wire) == 0 {
			return 0, nil
		}
		n := copy(buf, wire[:1])
		wire = wire[n:]
		return n, nil
	}
	delegate := &recordingDelegate{}
	tr := newTestTransport(t, sock, delegate)

	tr.StartReading()

	if fmt.Sprint(delegate.messages) != "[x y]" {
		t.Errorf("messages = %v", delegate.messages)
	}
	if tr.ErrorState() != ChannelErrorSocketError {
		t.Errorf("error state = %v, want socket_error", tr.ErrorState())
	}
}

func TestTransport_SharedErrorLogFiltersByChannel(t *testing.T) {
	log := NewErrorLog(8)
	log.Record(ErrorEntry{ChannelID: 99, Event: "other"})

	sock := &fakeSocket{}
	delegate := &recordingDelegate{}
	tr := newTestTransport(t, sock, delegate, ErrorLogOption(log))

	tr.StartReading()
	sock.completeRead(t, nil)

	if len(delegate.lastErrors) != 1 {
		t.Fatalf("OnError calls = %d", len(delegate.lastErrors))
	}
	for _, e := range delegate.lastErrors[0] {
		if e.ChannelID != tr.ChannelID() {
			t.Errorf("foreign entry reported: %+v", e)
		}
	}
	if len(log.Snapshot()) != 2 {
		t.Errorf("shared log entries = %d, want 2", len(log.Snapshot()))
	}
}
