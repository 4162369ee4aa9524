package radio

import (
	"encoding/binary"
	"errors"
)

// NwkFrameType is the network layer frame control field's frame-type
// subfield.
type NwkFrameType uint8

const (
	NwkData NwkFrameType = iota
	NwkCommand
)

const (
	nwkFcTypeMask            = 0x0003
	nwkFcVersionShift        = 2
	nwkFcVersionMask         = 0xf << nwkFcVersionShift
	nwkFcDiscoverRouteShift  = 6
	nwkFcDiscoverRouteMask   = 0x3 << nwkFcDiscoverRouteShift
	nwkFcMulticast           = 1 << 8
	nwkFcSecurity            = 1 << 9
	nwkFcSourceRoute         = 1 << 10
	nwkFcDestination         = 1 << 11
	nwkFcExtendedSource      = 1 << 12
	nwkFcEndDeviceInitiator  = 1 << 13
)

// ProtocolVersion identifies the NWK frame control's VERSION subfield.
type ProtocolVersion uint8

const (
	ProtocolVersion1    ProtocolVersion = 1
	ProtocolVersion2    ProtocolVersion = 2
	ProtocolVersionGP   ProtocolVersion = 3 // Green Power, routed through the same field by convention
)

// DiscoverRoute is the NWK frame control's route-discovery subfield.
type DiscoverRoute uint8

const (
	DiscoverRouteSuppress DiscoverRoute = iota
	DiscoverRouteEnable
)

// NwkHeader is a decoded network-layer header, excluding any source
// route subframe (not used by this implementation — every network it
// coordinates is small enough for direct or single-relay delivery).
type NwkHeader struct {
	Type            NwkFrameType
	Version         ProtocolVersion
	DiscoverRoute   DiscoverRoute
	Security        bool
	Destination     uint16
	Source          uint16
	Radius          uint8
	Sequence        uint8
	ExtendedDest    uint64 // present iff ExtendedDestSet
	ExtendedDestSet bool
	ExtendedSrc     uint64 // present iff ExtendedSrcSet
	ExtendedSrcSet  bool
}

var ErrShortNwkFrame = errors.New("radio: nwk frame too short")

// EncodeNwkHeader serializes h. The EXTENDED_SOURCE bit is set
// automatically when h.ExtendedSrcSet; DESTINATION likewise for
// ExtendedDestSet.
func EncodeNwkHeader(h NwkHeader) []byte {
	fc := uint16(h.Type) & nwkFcTypeMask
	fc |= uint16(h.Version) << nwkFcVersionShift
	fc |= uint16(h.DiscoverRoute) << nwkFcDiscoverRouteShift
	if h.Security {
		fc |= nwkFcSecurity
	}
	if h.ExtendedDestSet {
		fc |= nwkFcDestination
	}
	if h.ExtendedSrcSet {
		fc |= nwkFcExtendedSource
	}

	buf := make([]byte, 8, 24)
	binary.LittleEndian.PutUint16(buf[0:2], fc)
	binary.LittleEndian.PutUint16(buf[2:4], h.Destination)
	binary.LittleEndian.PutUint16(buf[4:6], h.Source)
	buf[6] = h.Radius
	buf[7] = h.Sequence
	if h.ExtendedDestSet {
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], h.ExtendedDest)
		buf = append(buf, tmp[:]...)
	}
	if h.ExtendedSrcSet {
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], h.ExtendedSrc)
		buf = append(buf, tmp[:]...)
	}
	return buf
}

// DecodeNwkHeader parses a network-layer header from the front of
// frame, returning the header and whatever bytes remain (the security
// header, if Security is set, followed by the payload).
func DecodeNwkHeader(frame []byte) (NwkHeader, []byte, error) {
	if len(frame) < 8 {
		return NwkHeader{}, nil, ErrShortNwkFrame
	}
	fc := binary.LittleEndian.Uint16(frame[0:2])
	h := NwkHeader{
		Type:          NwkFrameType(fc & nwkFcTypeMask),
		Version:       ProtocolVersion((fc & nwkFcVersionMask) >> nwkFcVersionShift),
		DiscoverRoute: DiscoverRoute((fc & nwkFcDiscoverRouteMask) >> nwkFcDiscoverRouteShift),
		Security:      fc&nwkFcSecurity != 0,
		Destination:   binary.LittleEndian.Uint16(frame[2:4]),
		Source:        binary.LittleEndian.Uint16(frame[4:6]),
		Radius:        frame[6],
		Sequence:      frame[7],
	}
	rest := frame[8:]
	if fc&nwkFcDestination != 0 {
		if len(rest) < 8 {
			return NwkHeader{}, nil, ErrShortNwkFrame
		}
		h.ExtendedDest = binary.LittleEndian.Uint64(rest[:8])
		h.ExtendedDestSet = true
		rest = rest[8:]
	}
	if fc&nwkFcExtendedSource != 0 {
		if len(rest) < 8 {
			return NwkHeader{}, nil, ErrShortNwkFrame
		}
		h.ExtendedSrc = binary.LittleEndian.Uint64(rest[:8])
		h.ExtendedSrcSet = true
		rest = rest[8:]
	}
	return h, rest, nil
}

// NwkCommandID enumerates NWK layer command frame identifiers
// (ZigBee specification chapter 3.4). The Coordinator ignores NWK
// command frames; DecodeLinkStatus parses a LINK_STATUS payload for
// callers that want it, and the rest are named for completeness and so
// DecodeNwkHeader callers can log unexpected commands.
type NwkCommandID uint8

const (
	NwkCommandRouteRequest NwkCommandID = iota + 1
	NwkCommandRouteReply
	NwkCommandNetworkStatus
	NwkCommandLeave
	NwkCommandRouteRecord
	NwkCommandRejoinRequest
	NwkCommandRejoinResponse
	NwkCommandLinkStatus
	NwkCommandNetworkReport
	NwkCommandNetworkUpdate
)

// LinkStatusEntry is one neighbor entry in a LinkStatus command
// payload.
type LinkStatusEntry struct {
	Address       uint16
	IncomingCost  uint8 // 3 bits
	OutgoingCost  uint8 // 3 bits
}

const (
	linkStatusCountMask = 0x1f
	linkStatusFirstFrame = 1 << 5
	linkStatusLastFrame  = 1 << 6
)

// DecodeLinkStatus parses a NWK LINK_STATUS command payload (command id
// byte already consumed by the caller).
func DecodeLinkStatus(payload []byte) (entries []LinkStatusEntry, first, last bool, err error) {
	if len(payload) < 1 {
		return nil, false, false, ErrShortNwkFrame
	}
	options := payload[0]
	first = options&linkStatusFirstFrame != 0
	last = options&linkStatusLastFrame != 0
	count := int(options & linkStatusCountMask)
	rest := payload[1:]
	if len(rest) < count*3 {
		return nil, false, false, ErrShortNwkFrame
	}
	entries = make([]LinkStatusEntry, count)
	for i := range entries {
		off := i * 3
		entries[i] = LinkStatusEntry{
			Address:      binary.LittleEndian.Uint16(rest[off : off+2]),
			IncomingCost: rest[off+2] & 0x7,
			OutgoingCost: (rest[off+2] >> 3) & 0x7,
		}
	}
	return entries, first, last, nil
}
