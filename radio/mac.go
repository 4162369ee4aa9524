// Package radio implements the subset of IEEE 802.15.4 MAC framing,
// ZigBee NWK/APS/ZCL, and ZigBee Green Power needed to act as a
// coordinator for battery switches and lights, sharing the ccm package's
// AES-CCM* codec with the wired bus.
package radio

import (
	"encoding/binary"
	"errors"
)

// FrameType is the 802.15.4 MAC frame type, the low 3 bits of the frame
// control field.
type FrameType uint8

const (
	FrameBeacon FrameType = iota
	FrameData
	FrameAck
	FrameCommand
)

// AddressMode selects how a MAC header's source or destination address
// is encoded: absent, a 16-bit short address, or a 64-bit extended one.
type AddressMode uint8

const (
	AddressNone AddressMode = iota
	_                       // reserved by the standard
	AddressShort
	AddressExtended
)

// frame control field bit layout (802.15.4-2011 §5.2.1.1)
const (
	fcFrameTypeMask    = 0x0007
	fcSecurityEnabled  = 1 << 3
	fcFramePending     = 1 << 4
	fcAckRequest       = 1 << 5
	fcPANIDCompression = 1 << 6
	fcDestAddrShift    = 10
	fcDestAddrMask     = 0x3 << fcDestAddrShift
	fcSrcAddrShift     = 14
	fcSrcAddrMask      = 0x3 << fcSrcAddrShift
)

// Header is a decoded MAC header: the fields every frame type shares,
// up to (but not including) the frame payload.
type Header struct {
	Type             FrameType
	SecurityEnabled  bool
	AckRequest       bool
	PANIDCompression bool
	Sequence         uint8
	DestPANID        uint16
	DestAddr         uint64 // interpreted per DestAddrMode
	DestAddrMode     AddressMode
	SrcPANID         uint16
	SrcAddr          uint64
	SrcAddrMode      AddressMode
}

var ErrShortFrame = errors.New("radio: frame too short")

// EncodeHeader serializes h, followed immediately by payload, into one
// MAC frame (the FCS that real hardware appends on transmission is not
// included; the driver's CCA/radio layer owns that).
func EncodeHeader(h Header, payload []byte) []byte {
	fc := uint16(h.Type) & fcFrameTypeMask
	if h.SecurityEnabled {
		fc |= fcSecurityEnabled
	}
	if h.AckRequest {
		fc |= fcAckRequest
	}
	if h.PANIDCompression {
		fc |= fcPANIDCompression
	}
	fc |= uint16(h.DestAddrMode) << fcDestAddrShift
	fc |= uint16(h.SrcAddrMode) << fcSrcAddrShift

	buf := make([]byte, 0, 32+len(payload))
	var tmp [8]byte
	binary.LittleEndian.PutUint16(tmp[:2], fc)
	buf = append(buf, tmp[0], tmp[1], h.Sequence)

	if h.DestAddrMode != AddressNone {
		binary.LittleEndian.PutUint16(tmp[:2], h.DestPANID)
		buf = append(buf, tmp[0], tmp[1])
		buf = appendAddr(buf, h.DestAddr, h.DestAddrMode)
	}
	if h.SrcAddrMode != AddressNone {
		if !(h.PANIDCompression && h.DestAddrMode != AddressNone) {
			binary.LittleEndian.PutUint16(tmp[:2], h.SrcPANID)
			buf = append(buf, tmp[0], tmp[1])
		}
		buf = appendAddr(buf, h.SrcAddr, h.SrcAddrMode)
	}
	return append(buf, payload...)
}

func appendAddr(buf []byte, addr uint64, mode AddressMode) []byte {
	var tmp [8]byte
	switch mode {
	case AddressShort:
		binary.LittleEndian.PutUint16(tmp[:2], uint16(addr))
		return append(buf, tmp[0], tmp[1])
	case AddressExtended:
		binary.LittleEndian.PutUint64(tmp[:8], addr)
		return append(buf, tmp[:8]...)
	}
	return buf
}

func readAddr(buf []byte, mode AddressMode) (uint64, []byte, error) {
	switch mode {
	case AddressShort:
		if len(buf) < 2 {
			return 0, nil, ErrShortFrame
		}
		return uint64(binary.LittleEndian.Uint16(buf)), buf[2:], nil
	case AddressExtended:
		if len(buf) < 8 {
			return 0, nil, ErrShortFrame
		}
		return binary.LittleEndian.Uint64(buf), buf[8:], nil
	}
	return 0, buf, nil
}

// DecodeHeader parses a MAC header from the front of frame and returns
// the header plus whatever bytes remain (security header and payload,
// undifferentiated at this layer).
func DecodeHeader(frame []byte) (Header, []byte, error) {
	if len(frame) < 3 {
		return Header{}, nil, ErrShortFrame
	}
	fc := binary.LittleEndian.Uint16(frame[:2])
	h := Header{
		Type:             FrameType(fc & fcFrameTypeMask),
		SecurityEnabled:  fc&fcSecurityEnabled != 0,
		AckRequest:       fc&fcAckRequest != 0,
		PANIDCompression: fc&fcPANIDCompression != 0,
		Sequence:         frame[2],
		DestAddrMode:     AddressMode((fc & fcDestAddrMask) >> fcDestAddrShift),
		SrcAddrMode:      AddressMode((fc & fcSrcAddrMask) >> fcSrcAddrShift),
	}
	rest := frame[3:]

	if h.DestAddrMode != AddressNone {
		if len(rest) < 2 {
			return Header{}, nil, ErrShortFrame
		}
		h.DestPANID = binary.LittleEndian.Uint16(rest)
		rest = rest[2:]
		var err error
		h.DestAddr, rest, err = readAddr(rest, h.DestAddrMode)
		if err != nil {
			return Header{}, nil, err
		}
	}
	if h.SrcAddrMode != AddressNone {
		if h.PANIDCompression && h.DestAddrMode != AddressNone {
			h.SrcPANID = h.DestPANID
		} else {
			if len(rest) < 2 {
				return Header{}, nil, ErrShortFrame
			}
			h.SrcPANID = binary.LittleEndian.Uint16(rest)
			rest = rest[2:]
		}
		var err error
		h.SrcAddr, rest, err = readAddr(rest, h.SrcAddrMode)
		if err != nil {
			return Header{}, nil, err
		}
	}
	return h, rest, nil
}

// FilterFlags selects which frames a FilterContext accepts.
type FilterFlags uint16

const (
	FilterPassAll FilterFlags = 1 << iota
	FilterTypeBeacon
	FilterDestShort
	FilterTypeDataDestShortGP // matches Green Power's data-frame-with-short-dest convention
	FilterDestLong
	FilterHandleAck
)

// FilterContext is one of the driver's independent receive filters — a
// device typically runs two, one for ZigBee traffic addressed to it and
// one passing Green Power frames regardless of destination.
type FilterContext struct {
	Flags        FilterFlags
	PANID        uint16
	ShortAddress uint16
}

// Accepts reports whether h, arriving with this context's filter rules,
// should be delivered to this context.
func (f FilterContext) Accepts(h Header) bool {
	if f.Flags&FilterPassAll != 0 {
		return true
	}
	if f.Flags&FilterTypeBeacon != 0 && h.Type == FrameBeacon {
		return true
	}
	if f.Flags&FilterTypeDataDestShortGP != 0 && h.Type == FrameData && h.DestAddrMode == AddressShort {
		return true
	}
	if h.DestAddrMode == AddressShort && uint16(h.DestAddr) == f.ShortAddress {
		if f.Flags&FilterDestShort != 0 {
			return true
		}
	}
	if h.DestAddrMode == AddressExtended && f.Flags&FilterDestLong != 0 {
		return true
	}
	if h.DestAddrMode != AddressNone && h.DestPANID != f.PANID && h.DestPANID != 0xffff {
		return false
	}
	return false
}

// Dispatch delivers frame to every context in contexts whose filter
// accepts it, in order, calling deliver once per accepting context.
// HANDLE_ACK contexts are expected to have already had their
// acknowledgement generated by the driver before Dispatch is reached —
// this layer only routes frame content, never the turnaround-critical
// ACK itself.
func Dispatch(contexts []FilterContext, frame []byte, deliver func(ctx int, h Header, rest []byte)) error {
	h, rest, err := DecodeHeader(frame)
	if err != nil {
		return err
	}
	for i, ctx := range contexts {
		if ctx.Accepts(h) {
			deliver(i, h, rest)
		}
	}
	return nil
}
