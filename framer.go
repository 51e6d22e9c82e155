package transport

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	// frameHeaderSize is the length prefix size in bytes.
	frameHeaderSize = 4
	// defaultMaxFrameSize is the default maximum payload size of a single frame (1MB).
	defaultMaxFrameSize = 1024 * 1024
)

// ErrFrameTooLarge is returned when a frame payload exceeds the framer limit.
var ErrFrameTooLarge = errors.New("frame too large")

// LengthPrefixFramer frames each message body behind a 4-byte big-endian
// length. Decoded messages are Bytes values.
type LengthPrefixFramer struct {
	// MaxFrameSize bounds the payload of a single frame.
	// Zero selects the default of 1MB.
	MaxFrameSize int
}

// NewLengthPrefixFramer returns a framer with the given payload limit.
func NewLengthPrefixFramer(maxFrameSize int) *LengthPrefixFramer {
	return &LengthPrefixFramer{MaxFrameSize: maxFrameSize}
}

func (f *LengthPrefixFramer) maxSize() int {
	if f == nil || f.MaxFrameSize <= 0 {
		return defaultMaxFrameSize
	}
	return f.MaxFrameSize
}

// Serialize writes the length prefix followed by the message body.
func (f *LengthPrefixFramer) Serialize(m Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("nil message")
	}
	return appendFrame(nil, m.Body(), f.maxSize())
}

// TryExtract parses one length-prefixed frame from the front of buf.
func (f *LengthPrefixFramer) TryExtract(buf []byte) (Message, int, error) {
	payload, n, err := extractFrame(buf, f.maxSize())
	if err != nil || payload == nil {
		return nil, 0, err
	}
	return Bytes(payload), n, nil
}

// appendFrame appends a framed copy of payload to dst.
func appendFrame(dst, payload []byte, max int) ([]byte, error) {
	if len(payload) > max {
		return nil, errors.Wrapf(ErrFrameTooLarge, "payload %d exceeds %d", len(payload), max)
	}
	var hdr [frameHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	dst = append(dst, hdr[:]...)
	return append(dst, payload...), nil
}

// extractFrame returns a copy of the first frame payload in buf and the
// number of bytes it occupies. A nil payload with a nil error means buf
// does not hold a complete frame yet.
func extractFrame(buf []byte, max int) ([]byte, int, error) {
	if len(buf) < frameHeaderSize {
		return nil, 0, nil
	}
	size := binary.BigEndian.Uint32(buf[:frameHeaderSize])
	if uint64(size) > uint64(max) {
		return nil, 0, errors.Wrapf(ErrFrameTooLarge, "declared length %d exceeds %d", size, max)
	}
	total := frameHeaderSize + int(size)
	if len(buf) < total {
		return nil, 0, nil
	}
	// The read buffer is reused, so the payload must not alias it.
	payload := make([]byte, size)
	copy(payload, buf[frameHeaderSize:total])
	return payload, total, nil
}
