// Package minimal carries the part of the MAVLink minimal dialect the node
// needs for liveness: the HEARTBEAT message.
package minimal

import (
	"encoding/binary"
	"fmt"

	"github.com/mosaicnetworks/mavnode/src/frame"
)

const (
	// HeartbeatID is the HEARTBEAT message id.
	HeartbeatID uint32 = 0
	// HeartbeatCRCExtra ...
	HeartbeatCRCExtra byte = 50
	// HeartbeatLen is the untruncated HEARTBEAT payload length.
	HeartbeatLen = 9
)

// MAV_TYPE values.
const (
	TypeGeneric     uint8 = 0
	TypeFixedWing   uint8 = 1
	TypeQuadrotor   uint8 = 2
	TypeGCS         uint8 = 6
	TypeOnboardCtrl uint8 = 18
)

// MAV_AUTOPILOT values.
const (
	AutopilotGeneric uint8 = 0
	AutopilotInvalid uint8 = 8
)

// MAV_STATE values.
const (
	StateUninit  uint8 = 0
	StateBoot    uint8 = 1
	StateStandby uint8 = 3
	StateActive  uint8 = 4
)

// Dialect holds the minimal dialect's messages.
var Dialect = frame.NewDialect("minimal",
	frame.MessageSpec{ID: HeartbeatID, Name: "HEARTBEAT", CRCExtra: HeartbeatCRCExtra},
)

// Heartbeat is the MAVLink HEARTBEAT message, fields in wire order.
type Heartbeat struct {
	CustomMode     uint32
	Type           uint8
	Autopilot      uint8
	BaseMode       uint8
	SystemStatus   uint8
	MavlinkVersion uint8
}

// MessageID ...
func (h Heartbeat) MessageID() uint32 {
	return HeartbeatID
}

// MarshalPayload ...
func (h Heartbeat) MarshalPayload() ([]byte, error) {
	b := make([]byte, HeartbeatLen)
	binary.LittleEndian.PutUint32(b[0:4], h.CustomMode)
	b[4] = h.Type
	b[5] = h.Autopilot
	b[6] = h.BaseMode
	b[7] = h.SystemStatus
	b[8] = h.MavlinkVersion
	return b, nil
}

// DecodeHeartbeat decodes a HEARTBEAT payload. V2 senders may trim trailing
// zero bytes, so short payloads are zero-extended.
func DecodeHeartbeat(payload []byte) (Heartbeat, error) {
	if len(payload) > HeartbeatLen {
		return Heartbeat{}, fmt.Errorf("minimal: heartbeat payload of %d bytes", len(payload))
	}
	b := make([]byte, HeartbeatLen)
	copy(b, payload)
	return Heartbeat{
		CustomMode:     binary.LittleEndian.Uint32(b[0:4]),
		Type:           b[4],
		Autopilot:      b[5],
		BaseMode:       b[6],
		SystemStatus:   b[7],
		MavlinkVersion: b[8],
	}, nil
}

// IsHeartbeat ...
func IsHeartbeat(f frame.Frame) bool {
	return f.MessageID() == HeartbeatID
}
