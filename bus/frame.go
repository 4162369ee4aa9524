package bus

import (
	"encoding/binary"

	"roomlink.dev/ccm"
)

// DefaultMICLength is the MIC length used for every bus frame, matching
// the value the commissioning and data exchanges both standardize on.
const DefaultMICLength = 4

// DefaultKey is the well-known key new devices ship with before
// commissioning. It authenticates only the enumeration advertisement
// and the commissioning exchange that replaces it with a per-device
// key; it is never used once a device is commissioned.
var DefaultKey = [16]byte{
	0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07,
	0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f,
}

// Nonce builds the 13-byte CCM* nonce for a frame sent by address under
// securityCounter. The short address occupies only the low byte of the
// nonce's address field — the bus has no 8-byte addressing, unlike the
// radio link layer that shares this nonce shape — with the remaining
// seven bytes held at zero.
func Nonce(address ShortAddress, securityCounter uint32) [ccm.NonceSize]byte {
	var n [ccm.NonceSize]byte
	n[0] = byte(address)
	binary.LittleEndian.PutUint32(n[8:12], securityCounter)
	// n[12], the security-control byte, is always zero: the bus has a
	// single security level and never sends anything unencrypted.
	return n
}

// commandPrefix is the leading zero byte that marks a frame as a
// command (enumerate or commission) rather than an addressed data
// read/write. A data frame's first arbiter byte is never zero, since
// EncodeArbiter(v) for v>=1 always sets bit 7.
const commandPrefix = 0x00

// EncodeEnumerateRequest builds the single-byte command frame a master
// broadcasts to ask whether any uncommissioned device wants to
// advertise itself.
func EncodeEnumerateRequest() []byte {
	return []byte{commandPrefix}
}

// IsEnumerateRequest reports whether data is an enumerate-request
// command frame.
func IsEnumerateRequest(data []byte) bool {
	return len(data) == 1 && data[0] == commandPrefix
}

// EncodeAdvertisement builds the advertisement an uncommissioned
// device writes onto the bus in response to an enumerate request: its
// device id spread across 11 arbiter bytes (3 bits of id per byte,
// sent as arbiter value bits+1 so that 11 arbiter bytes cover all 32
// bits of id with room for collisions to arbitrate cleanly), followed
// by its endpoint list,
// encrypted and authenticated under the default key with a zero nonce.
func EncodeAdvertisement(ks ccm.KeySchedule, deviceID uint32, endpoints []EndpointType) []byte {
	header := make([]byte, 1+11)
	header[0] = commandPrefix
	id := deviceID
	for i := 0; i < 11; i++ {
		header[1+i] = EncodeArbiter(uint8(id&7) + 1)
		id >>= 3
	}

	plain := make([]byte, len(endpoints))
	for i, e := range endpoints {
		plain[i] = byte(e)
	}

	var nonce [ccm.NonceSize]byte
	out := make([]byte, len(header)+ccm.EncryptedSize(len(plain), DefaultMICLength))
	n := copy(out, header)
	ccm.Encrypt(out[n:], ks, nonce, nil, plain, DefaultMICLength)
	return out
}

// DecodeAdvertisement extracts the advertising device's id and,
// authenticating and decrypting with the default key, its endpoint
// list. It reports false if the frame is malformed or fails
// authentication.
func DecodeAdvertisement(ks ccm.KeySchedule, data []byte) (deviceID uint32, endpoints []EndpointType, ok bool) {
	if len(data) < 1+11+DefaultMICLength || data[0] != commandPrefix {
		return 0, nil, false
	}
	for i := 0; i < 11; i++ {
		v := DecodeArbiter(data[1+i])
		if v == 0 || v > 8 {
			return 0, nil, false
		}
		deviceID |= uint32(v-1) << (3 * i)
	}

	body := data[1+11:]
	var nonce [ccm.NonceSize]byte
	plainLen := len(body) - DefaultMICLength
	if plainLen < 0 {
		return 0, nil, false
	}
	plain := make([]byte, plainLen)
	if !ccm.Decrypt(plain, ks, nonce, nil, body, plainLen, DefaultMICLength) {
		return 0, nil, false
	}
	endpoints = make([]EndpointType, len(plain))
	for i, b := range plain {
		endpoints[i] = EndpointType(b)
	}
	return deviceID, endpoints, true
}

// EncodeCommission builds the master's response to an advertisement:
// the assigned short address and per-device key, addressed by device
// id and authenticated under the default key.
func EncodeCommission(ks ccm.KeySchedule, deviceID uint32, address ShortAddress, deviceKey [16]byte) []byte {
	header := []byte{commandPrefix, commandPrefix}
	header = binary.LittleEndian.AppendUint32(header, deviceID)

	plain := make([]byte, 0, 17)
	plain = append(plain, byte(address))
	plain = append(plain, deviceKey[:]...)

	var nonce [ccm.NonceSize]byte
	out := make([]byte, len(header)+ccm.EncryptedSize(len(plain), DefaultMICLength))
	n := copy(out, header)
	ccm.Encrypt(out[n:], ks, nonce, nil, plain, DefaultMICLength)
	return out
}

// DecodeCommission parses a commission frame, returning the target
// device id and, once authenticated under the default key, the
// assigned short address and device key.
func DecodeCommission(ks ccm.KeySchedule, data []byte) (deviceID uint32, address ShortAddress, deviceKey [16]byte, ok bool) {
	const headerLen = 6 // prefix, arbitration zero, 4-byte device id
	if len(data) < headerLen || data[0] != commandPrefix || data[1] != commandPrefix {
		return 0, 0, deviceKey, false
	}
	deviceID = binary.LittleEndian.Uint32(data[2:6])

	body := data[headerLen:]
	const plainLen = 1 + 16
	var nonce [ccm.NonceSize]byte
	var plain [plainLen]byte
	if !ccm.Decrypt(plain[:], ks, nonce, nil, body, plainLen, DefaultMICLength) {
		return 0, 0, deviceKey, false
	}
	address = ShortAddress(plain[0])
	copy(deviceKey[:], plain[1:])
	return deviceID, address, deviceKey, true
}

// EncodeRead builds a master-to-device read/poll frame: just the
// addressed header, with a zero-length write body, asking the target
// to respond with whatever endpoint state it has pending.
func EncodeRead(address ShortAddress) []byte {
	lo, hi := EncodeAddress(address)
	return []byte{lo, hi, 0, 0, 0, 0}
}

// EncodeWrite builds a master-to-device write frame carrying an
// encrypted endpoint update under securityCounter. It does not advance
// the counter; the caller passes a fresh value for every frame.
func EncodeWrite(ks ccm.KeySchedule, address ShortAddress, securityCounter uint32, payload []byte) []byte {
	lo, hi := EncodeAddress(address)
	header := make([]byte, 6)
	header[0], header[1] = lo, hi
	binary.LittleEndian.PutUint32(header[2:6], securityCounter)

	nonce := Nonce(address, securityCounter)
	out := make([]byte, len(header)+ccm.EncryptedSize(len(payload), DefaultMICLength))
	n := copy(out, header)
	ccm.Encrypt(out[n:], ks, nonce, nil, payload, DefaultMICLength)
	return out
}

// DecodeWrite parses a write frame's header, reporting the target
// address and security counter so the caller can look up the device's
// key and enforce replay protection before calling DecryptWritePayload.
func DecodeWrite(data []byte) (address ShortAddress, securityCounter uint32, body []byte, ok bool) {
	if len(data) < 6 || data[0] == commandPrefix {
		return 0, 0, nil, false
	}
	address = DecodeAddress(data[0], data[1])
	securityCounter = binary.LittleEndian.Uint32(data[2:6])
	return address, securityCounter, data[6:], true
}

// DecryptWritePayload authenticates and decrypts a write frame's body
// under the device's current key and security counter.
func DecryptWritePayload(ks ccm.KeySchedule, address ShortAddress, securityCounter uint32, body []byte, plainLen int) ([]byte, bool) {
	nonce := Nonce(address, securityCounter)
	plain := make([]byte, plainLen)
	if !ccm.Decrypt(plain, ks, nonce, nil, body, plainLen, DefaultMICLength) {
		return nil, false
	}
	return plain, true
}

// EncodeReadReply builds a device's response to a read frame: its own
// address header, the current security counter, and the encrypted
// endpoint state.
func EncodeReadReply(ks ccm.KeySchedule, address ShortAddress, securityCounter uint32, payload []byte) []byte {
	return EncodeWrite(ks, address, securityCounter, payload)
}
