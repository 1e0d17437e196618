package minimal

import (
	"encoding/binary"
	"fmt"

	"github.com/mosaicnetworks/mavnode/src/frame"
)

const (
	// PingID is the id of the common dialect's PING message.
	PingID uint32 = 4
	// PingCRCExtra ...
	PingCRCExtra byte = 237
	// PingLen is the untruncated PING payload length.
	PingLen = 14
)

// WithPing is the minimal dialect plus PING, which is all a link check
// needs.
var WithPing = Dialect.Extend("minimal+ping",
	frame.MessageSpec{ID: PingID, Name: "PING", CRCExtra: PingCRCExtra},
)

// Ping is the MAVLink PING message. A request targets system 0 and
// component 0, an answer targets the requester.
type Ping struct {
	TimeUsec        uint64
	Seq             uint32
	TargetSystem    uint8
	TargetComponent uint8
}

// MessageID ...
func (p Ping) MessageID() uint32 {
	return PingID
}

// MarshalPayload ...
func (p Ping) MarshalPayload() ([]byte, error) {
	b := make([]byte, PingLen)
	binary.LittleEndian.PutUint64(b[0:8], p.TimeUsec)
	binary.LittleEndian.PutUint32(b[8:12], p.Seq)
	b[12] = p.TargetSystem
	b[13] = p.TargetComponent
	return b, nil
}

// IsRequest ...
func (p Ping) IsRequest() bool {
	return p.TargetSystem == 0 && p.TargetComponent == 0
}

// Reply returns the answer to a request received from systemID and
// componentID.
func (p Ping) Reply(systemID, componentID uint8) Ping {
	return Ping{
		TimeUsec:        p.TimeUsec,
		Seq:             p.Seq,
		TargetSystem:    systemID,
		TargetComponent: componentID,
	}
}

// DecodePing zero-extends short payloads like DecodeHeartbeat.
func DecodePing(payload []byte) (Ping, error) {
	if len(payload) > PingLen {
		return Ping{}, fmt.Errorf("minimal: ping payload of %d bytes", len(payload))
	}
	b := make([]byte, PingLen)
	copy(b, payload)
	return Ping{
		TimeUsec:        binary.LittleEndian.Uint64(b[0:8]),
		Seq:             binary.LittleEndian.Uint32(b[8:12]),
		TargetSystem:    b[12],
		TargetComponent: b[13],
	}, nil
}

// IsPing ...
func IsPing(f frame.Frame) bool {
	return f.MessageID() == PingID
}
