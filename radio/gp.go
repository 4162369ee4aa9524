package radio

import (
	"encoding/binary"
	"errors"

	"roomlink.dev/ccm"
)

// GPFrameType is the Green Power NWK frame control field's frame-type
// subfield.
type GPFrameType uint8

const (
	GPData    GPFrameType = 0
	GPCommand GPFrameType = 1
)

const (
	gpFcTypeMask          = 0x03
	gpFcVersionShift      = 2
	gpFcVersionMask       = 0xf << gpFcVersionShift
	gpFcAutoCommissioning = 1 << 6
	gpFcExtended          = 1 << 7
)

// GPSecurityLevel is the Green Power extended frame control's
// security-level subfield, distinct from SecurityLevel used by
// NWK/APS — Green Power's four levels don't line up with ZigBee's
// eight.
type GPSecurityLevel uint8

const (
	GPSecurityNone          GPSecurityLevel = 0
	GPSecurityCnt8Mic16     GPSecurityLevel = 1
	GPSecurityCnt32Mic32    GPSecurityLevel = 2
	GPSecurityEncCnt32Mic32 GPSecurityLevel = 3
)

const (
	gpExtAppIDMask        = 0x07
	gpExtSecurityLevelShift = 3
	gpExtSecurityLevelMask  = 0x3 << gpExtSecurityLevelShift
	gpExtSecurityKey        = 1 << 5
	gpExtRxAfterTx          = 1 << 6
	gpExtDirectionToZGPD    = 1 << 7
)

// GPHeader is a decoded Green Power NWK frame header: a ZGPD's entire
// identity and framing lives in these few bytes, since a ZGPD has no
// association state and speaks only through this one frame format.
type GPHeader struct {
	Type              GPFrameType
	Version           ProtocolVersion
	AutoCommissioning bool
	Extended          bool
	Sequence          uint8
	SourceID          uint32 // ZGPD device id (the APPLICATION_ID 0x00 form — the only one this coordinator supports)
	SecurityLevel     GPSecurityLevel
	SecurityKeyPresent bool
	DirectionToZGPD   bool
	SecurityCounter   uint32 // present iff SecurityLevel != GPSecurityNone
	Command           uint8
}

var ErrShortGPFrame = errors.New("radio: green power frame too short")

// DecodeGPHeader parses a Green Power NWK frame. rest is whatever
// remains after the command byte and (if security applies) the
// security counter: the command payload plus, for authenticated
// frames, its trailing MIC.
func DecodeGPHeader(frame []byte) (GPHeader, []byte, error) {
	if len(frame) < 2 {
		return GPHeader{}, nil, ErrShortGPFrame
	}
	fc := frame[0]
	h := GPHeader{
		Type:              GPFrameType(fc & gpFcTypeMask),
		Version:           ProtocolVersion((fc & gpFcVersionMask) >> gpFcVersionShift),
		AutoCommissioning: fc&gpFcAutoCommissioning != 0,
		Extended:          fc&gpFcExtended != 0,
		Sequence:          frame[1],
	}
	rest := frame[2:]
	if h.Extended {
		if len(rest) < 1 {
			return GPHeader{}, nil, ErrShortGPFrame
		}
		ext := rest[0]
		rest = rest[1:]
		h.SecurityLevel = GPSecurityLevel((ext & gpExtSecurityLevelMask) >> gpExtSecurityLevelShift)
		h.SecurityKeyPresent = ext&gpExtSecurityKey != 0
		h.DirectionToZGPD = ext&gpExtDirectionToZGPD != 0
	}
	if len(rest) < 4 {
		return GPHeader{}, nil, ErrShortGPFrame
	}
	h.SourceID = binary.LittleEndian.Uint32(rest[:4])
	rest = rest[4:]

	if h.SecurityLevel != GPSecurityNone {
		if len(rest) < 4 {
			return GPHeader{}, nil, ErrShortGPFrame
		}
		h.SecurityCounter = binary.LittleEndian.Uint32(rest[:4])
		rest = rest[4:]
	}
	if len(rest) < 1 {
		return GPHeader{}, nil, ErrShortGPFrame
	}
	h.Command = rest[0]
	rest = rest[1:]
	return h, rest, nil
}

// GPNonce builds the Green Power CCM* nonce: the device id repeated
// twice (as both source and destination, since a ZGPD has no separate
// addressing), the little-endian security counter, and the fixed
// control byte 0x05 every Green Power frame uses in place of a real
// security-control field.
func GPNonce(deviceID, securityCounter uint32) [ccm.NonceSize]byte {
	var n [ccm.NonceSize]byte
	binary.LittleEndian.PutUint32(n[0:4], deviceID)
	binary.LittleEndian.PutUint32(n[4:8], deviceID)
	binary.LittleEndian.PutUint32(n[8:12], securityCounter)
	n[12] = 0x05
	return n
}

// GPDeviceType enumerates the ZGPD device types this coordinator
// recognizes; others are accepted as raw switch/command sources but
// have no cluster mapping.
type GPDeviceType uint8

const (
	GPDeviceOnOffSwitch  GPDeviceType = 0x02
	GPDeviceGenericSwitch GPDeviceType = 0x07
)

// GPCommandID enumerates Green Power application commands.
type GPCommandID uint8

const (
	GPScene0        GPCommandID = 0x10
	GPScene1        GPCommandID = 0x11
	GPScene2        GPCommandID = 0x12
	GPScene3        GPCommandID = 0x13
	GPScene4        GPCommandID = 0x14
	GPScene5        GPCommandID = 0x15
	GPCommissioning GPCommandID = 0xe0
)

// GPOptions is the commissioning command's options byte.
type GPOptions uint8

const (
	GPOptMACSequenceNumber   GPOptions = 1
	GPOptRxOnCapability      GPOptions = 1 << 1
	GPOptApplicationInfo     GPOptions = 1 << 2
	GPOptPANIDRequest        GPOptions = 1 << 4
	GPOptSecurityKeyRequest  GPOptions = 1 << 5
	GPOptFixedLocation       GPOptions = 1 << 6
	GPOptExtended            GPOptions = 1 << 7
)

// GPExtendedOptions is the commissioning command's extended options
// byte, present iff GPOptExtended is set.
type GPExtendedOptions uint8

const (
	gpExtOptSecurityLevelMask = 0x3
	GPExtOptKeyTypeIndividual GPExtendedOptions = 4 << 2
	GPExtOptKeyPresent        GPExtendedOptions = 1 << 5
	GPExtOptKeyEncrypted      GPExtendedOptions = 1 << 6
	GPExtOptCounterPresent    GPExtendedOptions = 1 << 7
)

// Commissioning is the parsed content of a COMMISSIONING command: the
// device's capabilities, and — when present — the 16-byte device key a
// coordinator must persist (per-device, derived or wrapped as the
// extended options specify) to authenticate that device's later
// SCENEn commands.
type Commissioning struct {
	DeviceType GPDeviceType
	Options    GPOptions
	ExtOptions GPExtendedOptions
	SecurityLevel GPSecurityLevel
	KeyPresent bool
	Key        [16]byte // valid iff KeyPresent; still wrapped if KeyEncrypted
	KeyEncrypted bool
	CounterPresent bool
	Counter    uint32 // valid iff CounterPresent
}

// ParseCommissioning parses a COMMISSIONING command payload (the bytes
// following GPHeader.Command, for a GPCommissioning command).
func ParseCommissioning(payload []byte) (Commissioning, error) {
	if len(payload) < 2 {
		return Commissioning{}, ErrShortGPFrame
	}
	c := Commissioning{
		DeviceType: GPDeviceType(payload[0]),
		Options:    GPOptions(payload[1]),
	}
	rest := payload[2:]
	if c.Options&GPOptExtended != 0 {
		if len(rest) < 1 {
			return Commissioning{}, ErrShortGPFrame
		}
		c.ExtOptions = GPExtendedOptions(rest[0])
		rest = rest[1:]
		c.SecurityLevel = GPSecurityLevel(byte(c.ExtOptions) & gpExtOptSecurityLevelMask)
		c.KeyPresent = c.ExtOptions&GPExtOptKeyPresent != 0
		c.KeyEncrypted = c.ExtOptions&GPExtOptKeyEncrypted != 0
		c.CounterPresent = c.ExtOptions&GPExtOptCounterPresent != 0

		if c.KeyPresent {
			if len(rest) < 16 {
				return Commissioning{}, ErrShortGPFrame
			}
			copy(c.Key[:], rest[:16])
			rest = rest[16:]
			if c.KeyEncrypted {
				if len(rest) < 4 {
					return Commissioning{}, ErrShortGPFrame
				}
				rest = rest[4:] // MIC over the wrapped key; it is skipped and not kept in Commissioning
			}
		}
		if c.CounterPresent {
			if len(rest) < 4 {
				return Commissioning{}, ErrShortGPFrame
			}
			c.Counter = binary.LittleEndian.Uint32(rest[:4])
		}
	}
	return c, nil
}

// UnwrapCommissioningKey decrypts a KeyEncrypted commissioning key
// using the well-known Green Power default trust-center link key
// schedule ks, authenticating it under a nonce built from deviceID and
// securityCounter per the commissioning GPDF's fixed convention
// (security level CNT32_MIC32, a 4-byte MIC immediately following the
// 16-byte wrapped key in the wire payload).
func UnwrapCommissioningKey(ks ccm.KeySchedule, deviceID uint32, securityCounter uint32, wrappedKey [16]byte, mic [4]byte) ([16]byte, bool) {
	nonce := GPNonce(deviceID, securityCounter)
	var out [16]byte
	cipherWithMIC := append(append([]byte(nil), wrappedKey[:]...), mic[:]...)
	if !ccm.Decrypt(out[:], ks, nonce, nil, cipherWithMIC, 16, 4) {
		return out, false
	}
	return out, true
}
