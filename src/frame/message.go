package frame

// Message is anything that can be framed: a message id and its encoded
// payload.
type Message interface {
	MessageID() uint32
	MarshalPayload() ([]byte, error)
}

// RawMessage is a Message with a pre-encoded payload.
type RawMessage struct {
	ID   uint32
	Data []byte
}

// MessageID ...
func (m RawMessage) MessageID() uint32 { return m.ID }

// MarshalPayload ...
func (m RawMessage) MarshalPayload() ([]byte, error) {
	p := make([]byte, len(m.Data))
	copy(p, m.Data)
	return p, nil
}
