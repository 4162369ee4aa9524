package radio

import (
	"encoding/binary"
	"errors"
	"math"
)

// Profile is a ZCL application profile identifier.
type Profile uint16

const (
	ProfileHomeAutomation Profile = 0x0104
	ProfileGreenPower     Profile = 0xa1e0
	ProfileZBLightLink    Profile = 0xc05e
)

// Cluster is a ZCL cluster identifier.
type Cluster uint16

const (
	ClusterBasic             Cluster = 0x0000
	ClusterPowerConfiguration Cluster = 0x0001
	ClusterIdentify          Cluster = 0x0003
	ClusterGroups            Cluster = 0x0004
	ClusterScenes            Cluster = 0x0005
	ClusterOnOff             Cluster = 0x0006
	ClusterLevelControl      Cluster = 0x0008
	ClusterOTAUpgrade        Cluster = 0x0019
	ClusterGreenPower        Cluster = 0x0021
	ClusterThermostat        Cluster = 0x0201
	ClusterColorControl      Cluster = 0x0300
	ClusterZLLCommissioning  Cluster = 0x1000
)

// ZclFrameType is the ZCL frame control field's frame-type subfield.
type ZclFrameType uint8

const (
	ZclProfileWide ZclFrameType = iota
	ZclClusterSpecific
)

// ZclDirection is the ZCL frame control field's direction subfield.
type ZclDirection uint8

const (
	ZclClientToServer ZclDirection = iota
	ZclServerToClient
)

const (
	zclFcTypeMask                = 0x03
	zclFcManufacturerSpecific    = 1 << 2
	zclFcDirection               = 1 << 3
	zclFcDisableDefaultResponse  = 1 << 4
)

// ZclHeader is a decoded ZCL frame header.
type ZclHeader struct {
	Type                  ZclFrameType
	ManufacturerSpecific  bool
	ManufacturerCode      uint16 // valid iff ManufacturerSpecific
	Direction             ZclDirection
	DisableDefaultResponse bool
	Sequence              uint8
	Command               uint8 // ZclCommand if Type == ZclProfileWide, else cluster-specific
}

var ErrShortZclFrame = errors.New("radio: zcl frame too short")

// EncodeZclHeader serializes h followed immediately by payload.
func EncodeZclHeader(h ZclHeader, payload []byte) []byte {
	fc := byte(h.Type) & zclFcTypeMask
	if h.ManufacturerSpecific {
		fc |= zclFcManufacturerSpecific
	}
	if h.Direction == ZclServerToClient {
		fc |= zclFcDirection
	}
	if h.DisableDefaultResponse {
		fc |= zclFcDisableDefaultResponse
	}
	buf := make([]byte, 0, 5+len(payload))
	buf = append(buf, fc)
	if h.ManufacturerSpecific {
		var tmp [2]byte
		binary.LittleEndian.PutUint16(tmp[:], h.ManufacturerCode)
		buf = append(buf, tmp[0], tmp[1])
	}
	buf = append(buf, h.Sequence, h.Command)
	return append(buf, payload...)
}

// DecodeZclHeader parses a ZCL header from the front of frame.
func DecodeZclHeader(frame []byte) (ZclHeader, []byte, error) {
	if len(frame) < 1 {
		return ZclHeader{}, nil, ErrShortZclFrame
	}
	fc := frame[0]
	h := ZclHeader{
		Type:                   ZclFrameType(fc & zclFcTypeMask),
		ManufacturerSpecific:   fc&zclFcManufacturerSpecific != 0,
		Direction:              ZclDirection((fc & zclFcDirection) >> 3),
		DisableDefaultResponse: fc&zclFcDisableDefaultResponse != 0,
	}
	rest := frame[1:]
	if h.ManufacturerSpecific {
		if len(rest) < 2 {
			return ZclHeader{}, nil, ErrShortZclFrame
		}
		h.ManufacturerCode = binary.LittleEndian.Uint16(rest[:2])
		rest = rest[2:]
	}
	if len(rest) < 2 {
		return ZclHeader{}, nil, ErrShortZclFrame
	}
	h.Sequence = rest[0]
	h.Command = rest[1]
	return h, rest[2:], nil
}

// ZclCommand enumerates the profile-wide commands (ZCL spec §2.4).
type ZclCommand uint8

const (
	ZclReadAttributes                   ZclCommand = 0x00
	ZclReadAttributesResponse           ZclCommand = 0x01
	ZclWriteAttributes                  ZclCommand = 0x02
	ZclWriteAttributesUndivided         ZclCommand = 0x03
	ZclWriteAttributesResponse          ZclCommand = 0x04
	ZclWriteAttributesNoResponse        ZclCommand = 0x05
	ZclConfigureReporting               ZclCommand = 0x06
	ZclConfigureReportingResponse       ZclCommand = 0x07
	ZclReadReportingConfiguration       ZclCommand = 0x08
	ZclReadReportingConfigurationResp   ZclCommand = 0x09
	ZclReportAttributes                ZclCommand = 0x0a
	ZclDefaultResponse                  ZclCommand = 0x0b
	ZclDiscoverAttributes               ZclCommand = 0x0c
	ZclDiscoverAttributesResponse       ZclCommand = 0x0d
)

// ZclStatus is a ZCL status code.
type ZclStatus uint8

const (
	ZclSuccess               ZclStatus = 0x00
	ZclUnsupportedAttribute  ZclStatus = 0x86
)

// ZclDataType identifies the wire encoding of an attribute value.
type ZclDataType uint8

const (
	ZclBool   ZclDataType = 0x10
	ZclUint8  ZclDataType = 0x20
	ZclUint16 ZclDataType = 0x21
	ZclUint24 ZclDataType = 0x22
	ZclInt8   ZclDataType = 0x28
	ZclInt16  ZclDataType = 0x29
	ZclEnum8  ZclDataType = 0x30
	ZclEnum16 ZclDataType = 0x31
	ZclSemi   ZclDataType = 0x38 // IEEE 754 half precision
	ZclSingle ZclDataType = 0x39 // IEEE 754 single precision
	ZclDouble ZclDataType = 0x3a
	ZclString ZclDataType = 0x42 // length-prefixed, 1-byte length
)

// AttributeSize returns the on-wire size of t in bytes, or -1 if t is
// variable-length (ZclString) or unrecognized.
func AttributeSize(t ZclDataType) int {
	switch t {
	case ZclBool, ZclUint8, ZclInt8, ZclEnum8:
		return 1
	case ZclUint16, ZclInt16, ZclEnum16, ZclSemi:
		return 2
	case ZclUint24:
		return 3
	case ZclSingle:
		return 4
	case ZclDouble:
		return 8
	default:
		return -1
	}
}

// DefaultResponsePayload builds a ZCL DEFAULT_RESPONSE payload replying
// to command with status.
func DefaultResponsePayload(command uint8, status ZclStatus) []byte {
	return []byte{command, byte(status)}
}

// Attribute is one decoded (id, type, value) triple from a
// READ_ATTRIBUTES_RESPONSE or REPORT_ATTRIBUTES payload.
type Attribute struct {
	ID     uint16
	Type   ZclDataType
	Status ZclStatus // READ_ATTRIBUTES_RESPONSE only; zero for REPORT_ATTRIBUTES
	Raw    []byte
}

// AttributeFloat interprets a's raw value as a number for the Bool,
// Uint8, Enum8, Int8, Uint16, Enum16, Int16 and Single types; for any
// other type (including Uint24, Semi and Double) it reports false.
func AttributeFloat(a Attribute) (float64, bool) {
	switch a.Type {
	case ZclBool, ZclUint8, ZclEnum8:
		if len(a.Raw) < 1 {
			return 0, false
		}
		return float64(a.Raw[0]), true
	case ZclInt8:
		if len(a.Raw) < 1 {
			return 0, false
		}
		return float64(int8(a.Raw[0])), true
	case ZclUint16, ZclEnum16:
		if len(a.Raw) < 2 {
			return 0, false
		}
		return float64(binary.LittleEndian.Uint16(a.Raw)), true
	case ZclInt16:
		if len(a.Raw) < 2 {
			return 0, false
		}
		return float64(int16(binary.LittleEndian.Uint16(a.Raw))), true
	case ZclSingle:
		if len(a.Raw) < 4 {
			return 0, false
		}
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(a.Raw))), true
	default:
		return 0, false
	}
}

// ParseReportAttributes parses a REPORT_ATTRIBUTES payload into its
// constituent Attribute values.
func ParseReportAttributes(payload []byte) ([]Attribute, error) {
	var attrs []Attribute
	for len(payload) > 0 {
		if len(payload) < 3 {
			return nil, ErrShortZclFrame
		}
		id := binary.LittleEndian.Uint16(payload[0:2])
		typ := ZclDataType(payload[2])
		rest := payload[3:]
		size := AttributeSize(typ)
		if size < 0 {
			if typ == ZclString {
				if len(rest) < 1 {
					return nil, ErrShortZclFrame
				}
				size = 1 + int(rest[0])
			} else {
				return nil, errors.New("radio: unsupported zcl data type")
			}
		}
		if len(rest) < size {
			return nil, ErrShortZclFrame
		}
		attrs = append(attrs, Attribute{ID: id, Type: typ, Raw: rest[:size]})
		payload = rest[size:]
	}
	return attrs, nil
}

// EncodeReportAttribute serializes one (id, type, raw-value) attribute
// report entry.
func EncodeReportAttribute(id uint16, typ ZclDataType, raw []byte) []byte {
	buf := make([]byte, 0, 3+len(raw))
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], id)
	buf = append(buf, tmp[0], tmp[1], byte(typ))
	return append(buf, raw...)
}

// Basic cluster attributes.
const (
	BasicZCLVersion       uint16 = 0x0000
	BasicApplicationVersion uint16 = 0x0001
	BasicStackVersion     uint16 = 0x0002
	BasicHWVersion        uint16 = 0x0003
	BasicManufacturerName uint16 = 0x0004
	BasicModelIdentifier  uint16 = 0x0005
	BasicDateCode         uint16 = 0x0006
	BasicPowerSource      uint16 = 0x0007
	BasicSoftwareBuildID  uint16 = 0x4000
	BasicClusterRevision  uint16 = 0xfffd
)

const (
	PowerSourceMains   uint8 = 1
	PowerSourceBattery uint8 = 3
)

// Power configuration cluster attributes.
const (
	PowerConfigBatteryVoltage   uint16 = 0x0020
	PowerConfigBatteryPercentage uint16 = 0x0021
)

// On/off cluster attributes and commands.
const (
	OnOffAttribute uint16 = 0x0000
)

type OnOffCommandID uint8

const (
	OnOffOff    OnOffCommandID = 0x00
	OnOffOn     OnOffCommandID = 0x01
	OnOffToggle OnOffCommandID = 0x02
)

// Level control cluster attributes and commands.
const (
	LevelControlAttribute uint16 = 0x0000
)

type LevelControlCommandID uint8

const (
	LevelMoveToLevel           LevelControlCommandID = 0x00
	LevelMove                  LevelControlCommandID = 0x01
	LevelStep                  LevelControlCommandID = 0x02
	LevelStop                  LevelControlCommandID = 0x03
	LevelMoveToLevelWithOnOff  LevelControlCommandID = 0x04
	LevelMoveWithOnOff         LevelControlCommandID = 0x05
	LevelStepWithOnOff         LevelControlCommandID = 0x06
	LevelStopWithOnOff         LevelControlCommandID = 0x07
)

// MoveToLevelPayload builds a MOVE_TO_LEVEL / MOVE_TO_LEVEL_WITH_ON_OFF
// command payload.
func MoveToLevelPayload(level uint8, transitionTimeDeciseconds uint16) []byte {
	buf := make([]byte, 3)
	buf[0] = level
	binary.LittleEndian.PutUint16(buf[1:3], transitionTimeDeciseconds)
	return buf
}

// Color control cluster attributes and commands.
const (
	ColorControlX  uint16 = 0x0003
	ColorControlY  uint16 = 0x0004
)

type ColorControlCommandID uint8

const (
	ColorMoveToColor  ColorControlCommandID = 0x07
	ColorMoveColor    ColorControlCommandID = 0x08
	ColorStepColor    ColorControlCommandID = 0x09
	ColorStopMoveStep ColorControlCommandID = 0x47
)

// MoveToColorPayload builds a MOVE_TO_COLOR command payload: x and y
// are CIE xyY chromaticity coordinates scaled by 65536.
func MoveToColorPayload(x, y uint16, transitionTimeDeciseconds uint16) []byte {
	buf := make([]byte, 6)
	binary.LittleEndian.PutUint16(buf[0:2], x)
	binary.LittleEndian.PutUint16(buf[2:4], y)
	binary.LittleEndian.PutUint16(buf[4:6], transitionTimeDeciseconds)
	return buf
}

// Thermostat cluster attributes.
const (
	ThermostatLocalTemperature         uint16 = 0x0000
	ThermostatOccupiedCoolingSetpoint  uint16 = 0x0011
	ThermostatOccupiedHeatingSetpoint  uint16 = 0x0012
	ThermostatControlSequenceOfOperation uint16 = 0x001b
	ThermostatSystemMode               uint16 = 0x001c
)
