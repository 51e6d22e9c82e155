package transport

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// Envelope is an addressed message: a payload tagged with the sending and
// receiving endpoints and the namespace it belongs to.
type Envelope struct {
	SourceID      string `cbor:"1,keyasint,omitempty"`
	DestinationID string `cbor:"2,keyasint,omitempty"`
	Namespace     string `cbor:"3,keyasint"`
	Payload       []byte `cbor:"4,keyasint,omitempty"`
}

// NewEnvelope builds an Envelope.
func NewEnvelope(source, destination, namespace string, payload []byte) *Envelope {
	return &Envelope{
		SourceID:      source,
		DestinationID: destination,
		Namespace:     namespace,
		Payload:       payload,
	}
}

// Length returns the payload length.
func (e *Envelope) Length() int {
	return len(e.Payload)
}

// Body returns the payload.
func (e *Envelope) Body() []byte {
	return e.Payload
}

// MessageNamespace returns the envelope namespace.
func (e *Envelope) MessageNamespace() string {
	return e.Namespace
}

// EnvelopeFramer frames Envelopes as CBOR documents behind the same
// 4-byte length prefix as LengthPrefixFramer. Messages that are not
// Envelopes are wrapped in one with an empty address.
type EnvelopeFramer struct {
	// MaxFrameSize bounds the encoded envelope size.
	// Zero selects the default of 1MB.
	MaxFrameSize int

	enc cbor.EncMode
}

// NewEnvelopeFramer returns an EnvelopeFramer with the given size limit.
func NewEnvelopeFramer(maxFrameSize int) (*EnvelopeFramer, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, errors.Wrap(err, "cbor encoder")
	}
	return &EnvelopeFramer{MaxFrameSize: maxFrameSize, enc: enc}, nil
}

func (f *EnvelopeFramer) maxSize() int {
	if f.MaxFrameSize <= 0 {
		return defaultMaxFrameSize
	}
	return f.MaxFrameSize
}

// Serialize encodes m as a CBOR envelope inside a length-prefixed frame.
func (f *EnvelopeFramer) Serialize(m Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("nil message")
	}
	env, ok := m.(*Envelope)
	if !ok {
		env = &Envelope{Namespace: namespaceOf(m), Payload: m.Body()}
	}

	var (
		payload []byte
		err     error
	)
	if f.enc != nil {
		payload, err = f.enc.Marshal(env)
	} else {
		payload, err = cbor.Marshal(env)
	}
	if err != nil {
		return nil, errors.Wrap(err, "marshal envelope")
	}
	return appendFrame(nil, payload, f.maxSize())
}

// TryExtract parses one envelope frame from the front of buf.
func (f *EnvelopeFramer) TryExtract(buf []byte) (Message, int, error) {
	payload, n, err := extractFrame(buf, f.maxSize())
	if err != nil || payload == nil {
		return nil, 0, err
	}

	env := new(Envelope)
	if err := cbor.Unmarshal(payload, env); err != nil {
		return nil, 0, errors.Wrap(err, "unmarshal envelope")
	}
	return env, n, nil
}
