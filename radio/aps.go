package radio

import (
	"encoding/binary"
	"errors"
)

// ApsFrameType is the application support sub-layer frame control
// field's frame-type subfield.
type ApsFrameType uint8

const (
	ApsData ApsFrameType = iota
	ApsCommand
	ApsAck
)

// ApsDelivery is the APS frame control field's delivery-mode subfield.
// Only unicast delivery is implemented; broadcast and group delivery
// have no role in a star-topology coordinator.
type ApsDelivery uint8

const ApsUnicast ApsDelivery = 0

const (
	apsFcTypeMask         = 0x03
	apsFcDeliveryShift    = 2
	apsFcDeliveryMask     = 0x3 << apsFcDeliveryShift
	apsFcSecurity         = 1 << 5
	apsFcAckRequest       = 1 << 6
	apsFcExtended         = 1 << 7
)

// ApsHeader is a decoded application support sub-layer header.
type ApsHeader struct {
	Type          ApsFrameType
	Delivery      ApsDelivery
	Security      bool
	AckRequest    bool
	DestEndpoint  uint8 // omitted (zero value skipped) for APS command frames
	Cluster       uint16
	Profile       uint16
	SrcEndpoint   uint8
	Counter       uint8
}

var ErrShortApsFrame = errors.New("radio: aps frame too short")

// EncodeApsHeader serializes h. For command frames (h.Type ==
// ApsCommand), DestEndpoint/Cluster/Profile/SrcEndpoint are omitted per
// the APS command frame format, which carries only a counter after the
// frame control byte.
func EncodeApsHeader(h ApsHeader) []byte {
	fc := byte(h.Type) & apsFcTypeMask
	fc |= byte(h.Delivery) << apsFcDeliveryShift
	if h.Security {
		fc |= apsFcSecurity
	}
	if h.AckRequest {
		fc |= apsFcAckRequest
	}

	if h.Type == ApsCommand {
		return []byte{fc, h.Counter}
	}

	buf := make([]byte, 0, 8)
	buf = append(buf, fc)
	if h.Type == ApsData {
		buf = append(buf, h.DestEndpoint)
	}
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], h.Cluster)
	buf = append(buf, tmp[0], tmp[1])
	binary.LittleEndian.PutUint16(tmp[:], h.Profile)
	buf = append(buf, tmp[0], tmp[1])
	buf = append(buf, h.SrcEndpoint, h.Counter)
	return buf
}

// DecodeApsHeader parses an application support sub-layer header from
// the front of frame, returning the header and remaining bytes (the
// security header, if Security is set, followed by the payload).
func DecodeApsHeader(frame []byte) (ApsHeader, []byte, error) {
	if len(frame) < 2 {
		return ApsHeader{}, nil, ErrShortApsFrame
	}
	fc := frame[0]
	h := ApsHeader{
		Type:       ApsFrameType(fc & apsFcTypeMask),
		Delivery:   ApsDelivery((fc & apsFcDeliveryMask) >> apsFcDeliveryShift),
		Security:   fc&apsFcSecurity != 0,
		AckRequest: fc&apsFcAckRequest != 0,
	}
	rest := frame[1:]

	if h.Type == ApsCommand {
		h.Counter = rest[0]
		return h, rest[1:], nil
	}

	if h.Type == ApsData {
		if len(rest) < 1 {
			return ApsHeader{}, nil, ErrShortApsFrame
		}
		h.DestEndpoint = rest[0]
		rest = rest[1:]
	}
	if len(rest) < 6 {
		return ApsHeader{}, nil, ErrShortApsFrame
	}
	h.Cluster = binary.LittleEndian.Uint16(rest[0:2])
	h.Profile = binary.LittleEndian.Uint16(rest[2:4])
	h.SrcEndpoint = rest[4]
	h.Counter = rest[5]
	return h, rest[6:], nil
}

// ApsCommandID enumerates APS command frame identifiers.
type ApsCommandID uint8

const (
	ApsCommandTransportKey ApsCommandID = 5
	ApsCommandUpdateDevice ApsCommandID = 6
)

// TransportKeyPayload builds an APS TRANSPORT_KEY command payload
// carrying a network key to a joining device, keyed under the trust
// center link key (the caller is expected to have already set
// SecurityHeader.KeyIdentifier to KeyLoad and encrypted the frame with
// that key before transmission).
func TransportKeyPayload(keyType byte, key [16]byte, sequence byte, destination, source uint64) []byte {
	buf := make([]byte, 0, 1+1+16+1+8+8)
	buf = append(buf, byte(ApsCommandTransportKey), keyType)
	buf = append(buf, key[:]...)
	buf = append(buf, sequence)
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], destination)
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint64(tmp[:], source)
	buf = append(buf, tmp[:]...)
	return buf
}

// ParseTransportKey parses an APS TRANSPORT_KEY command payload
// (including its leading command id byte).
func ParseTransportKey(payload []byte) (keyType byte, key [16]byte, sequence byte, destination, source uint64, err error) {
	if len(payload) < 1+1+16+1+8+8 {
		return 0, key, 0, 0, 0, ErrShortApsFrame
	}
	if ApsCommandID(payload[0]) != ApsCommandTransportKey {
		return 0, key, 0, 0, 0, errors.New("radio: not a TRANSPORT_KEY command")
	}
	keyType = payload[1]
	copy(key[:], payload[2:18])
	sequence = payload[18]
	destination = binary.LittleEndian.Uint64(payload[19:27])
	source = binary.LittleEndian.Uint64(payload[27:35])
	return keyType, key, sequence, destination, source, nil
}

// UpdateDevicePayload builds an APS UPDATE_DEVICE command payload,
// sent by a router to the trust center announcing a device join,
// rejoin, or leave.
func UpdateDevicePayload(device uint64, shortAddress uint16, status byte) []byte {
	buf := make([]byte, 0, 1+8+2+1)
	buf = append(buf, byte(ApsCommandUpdateDevice))
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], device)
	buf = append(buf, tmp[:]...)
	var tmp2 [2]byte
	binary.LittleEndian.PutUint16(tmp2[:], shortAddress)
	buf = append(buf, tmp2[:]...)
	buf = append(buf, status)
	return buf
}
