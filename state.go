package transport

import "fmt"

// WriteState is the step the write pipeline is on.
type WriteState int

const (
	// WriteStateIdle means no request is being written.
	WriteStateIdle WriteState = iota
	// WriteStateWrite means the queue head is about to be handed to the socket.
	WriteStateWrite
	// WriteStateWriteComplete means a socket write is outstanding.
	WriteStateWriteComplete
	// WriteStateCallback means the queue head was fully written.
	WriteStateCallback
	// WriteStateError means the queue head failed.
	WriteStateError
)

func (s WriteState) String() string {
	switch s {
	case WriteStateIdle:
		return "idle"
	case WriteStateWrite:
		return "write"
	case WriteStateWriteComplete:
		return "write_complete"
	case WriteStateCallback:
		return "callback"
	case WriteStateError:
		return "error"
	}
	return fmt.Sprintf("write_state(%d)", int(s))
}

// ReadState is the step the read pipeline is on.
type ReadState int

const (
	// ReadStateIdle means reading has not started.
	ReadStateIdle ReadState = iota
	// ReadStateRead means a socket read is about to be issued.
	ReadStateRead
	// ReadStateReadComplete means a socket read is outstanding.
	ReadStateReadComplete
	// ReadStateDispatch means buffered bytes are being parsed and delivered.
	ReadStateDispatch
	// ReadStateError means reading stopped for good.
	ReadStateError
)

func (s ReadState) String() string {
	switch s {
	case ReadStateIdle:
		return "idle"
	case ReadStateRead:
		return "read"
	case ReadStateReadComplete:
		return "read_complete"
	case ReadStateDispatch:
		return "dispatch"
	case ReadStateError:
		return "error"
	}
	return fmt.Sprintf("read_state(%d)", int(s))
}
