package transport

// Message is the interface for messages transmitted over the transport.
// The transport treats messages as opaque values; only a Framer looks
// inside them.
type Message interface {
	// Length returns the length of the message body.
	Length() int
	// Body returns the raw message data.
	Body() []byte
}

// Namespacer is implemented by messages that belong to a namespace.
// The namespace is kept on the pending write for diagnostics.
type Namespacer interface {
	MessageNamespace() string
}

// Framer is the interface for turning messages into wire frames and back.
// Applications can implement it to define their own wire format; the
// transport only ever hands it whole messages or the accumulated read
// buffer.
type Framer interface {
	// Serialize encodes a Message into one complete wire frame.
	Serialize(Message) ([]byte, error)
	// TryExtract parses at most one frame from the front of buf.
	//
	// It returns (msg, consumed, nil) when a complete frame is present,
	// (nil, 0, nil) when more bytes are needed, and (nil, 0, err) when
	// the bytes can never form a valid frame.
	TryExtract(buf []byte) (Message, int, error)
}

// Bytes is a Message whose body is the raw byte slice itself.
type Bytes []byte

// Length returns the body length.
func (b Bytes) Length() int {
	return len(b)
}

// Body returns b.
func (b Bytes) Body() []byte {
	return b
}

// namespaceOf returns the message namespace, or "" if it has none.
func namespaceOf(m Message) string {
	if ns, ok := m.(Namespacer); ok {
		return ns.MessageNamespace()
	}
	return ""
}
