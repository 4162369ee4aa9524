package bus

import (
	"errors"

	"roomlink.dev/ccm"
	"roomlink.dev/task"
)

// ErrReplay is returned when a write frame's security counter does not
// exceed the device's last accepted counter: a genuine re-transmission
// or an injected replay, either way the frame must be dropped rather
// than applied.
var ErrReplay = errors.New("bus: replayed or stale security counter")

// Transport is the physical half-duplex bus: Transfer writes write and
// simultaneously reads back whatever is asserted on the line (the
// master's own write, looped back, unless some device overrides part of
// it by arbitration), matching how the wired bus' collision-sensing
// transfer behaves.
type Transport interface {
	Transfer(write []byte, readLen int) (read []byte, err error)
}

// Master drives the bus: enumerating uncommissioned devices, assigning
// them addresses and keys, and exchanging endpoint reads/writes with
// commissioned ones. It is single-threaded by construction — every
// method must run on loop's own goroutine or under its lock — mirroring
// the bus's own half-duplex, one-transfer-at-a-time nature.
type Master struct {
	loop      *task.Loop
	transport Transport
	devices   []*Device

	nextAddress ShortAddress
}

// NewMaster creates a Master over transport, with devices as the
// provisioning list of known device ids and endpoint layouts (commonly
// loaded once at startup and never mutated thereafter, only annotated
// with commissioning state).
func NewMaster(loop *task.Loop, transport Transport, devices []*Device) *Master {
	return &Master{loop: loop, transport: transport, devices: devices, nextAddress: 1}
}

// DeviceByID returns the device record with the given id, or nil.
func (m *Master) DeviceByID(id uint32) *Device {
	for _, d := range m.devices {
		if d.ID == id {
			return d
		}
	}
	return nil
}

func (m *Master) deviceByAddress(a ShortAddress) *Device {
	for _, d := range m.devices {
		if d.Commissioned && d.Address == a {
			return d
		}
	}
	return nil
}

// EnumerateOnce broadcasts an enumerate request and, if any
// uncommissioned device answers, commissions it with a freshly
// assigned address and a random-looking (caller-supplied) key. It
// reports the device that was commissioned, or nil if none answered.
func (m *Master) EnumerateOnce(ks ccm.KeySchedule, newKey func() [16]byte) (*Device, error) {
	reply, err := m.transport.Transfer(EncodeEnumerateRequest(), 1+11+16+DefaultMICLength)
	if err != nil {
		return nil, err
	}
	id, endpoints, ok := DecodeAdvertisement(ks, reply)
	if !ok {
		return nil, nil
	}

	d := m.DeviceByID(id)
	if d == nil {
		d = NewDevice(id, endpoints)
		m.devices = append(m.devices, d)
	}
	if d.Commissioned {
		return nil, nil
	}

	addr := m.nextAddress
	m.nextAddress++
	key := newKey()

	commission := EncodeCommission(ks, id, addr, key)
	if _, err := m.transport.Transfer(commission, 0); err != nil {
		return nil, err
	}

	d.Commissioned = true
	d.Address = addr
	d.Key = key
	d.TxCounter = 0
	d.RxCounter = 0
	return d, nil
}

// Write sends an endpoint command to a commissioned device, encrypting
// under its own key and a freshly incremented security counter so a
// captured frame can never be replayed.
func (m *Master) Write(d *Device, endpointIndex int, cmd []byte) error {
	ks := ccm.ExpandKey(d.Key)
	d.TxCounter++
	payload := append([]byte{byte(endpointIndex)}, cmd...)
	frame := EncodeWrite(ks, d.Address, d.TxCounter, payload)
	_, err := m.transport.Transfer(frame, 0)
	return err
}

// Read polls a commissioned device for pending endpoint state and, if
// it answers, applies the update to the device's recorded state after
// verifying the security counter is fresh (strictly greater than the
// last one accepted from this device) and the frame authenticates.
// Returns the endpoint index that was updated, or -1 if the device had
// nothing pending.
func (m *Master) Read(d *Device, maxReplyLen int) (endpointIndex int, err error) {
	reply, err := m.transport.Transfer(EncodeRead(d.Address), maxReplyLen)
	if err != nil {
		return -1, err
	}
	if len(reply) == 0 {
		return -1, nil
	}

	address, counter, body, ok := DecodeWrite(reply)
	if !ok || address != d.Address {
		return -1, nil
	}
	if counter <= d.RxCounter && d.RxCounter != 0 {
		return -1, ErrReplay
	}

	ks := ccm.ExpandKey(d.Key)
	maxPlain := len(body) - DefaultMICLength
	if maxPlain < 1 {
		return -1, nil
	}
	plain, ok := DecryptWritePayload(ks, address, counter, body, maxPlain)
	if !ok {
		return -1, nil
	}

	idx := int(plain[0])
	if idx < 0 || idx >= len(d.Endpoints) {
		return -1, nil
	}
	switch t := d.Endpoints[idx]; t {
	case EndpointOnOffIn, EndpointTriggerIn, EndpointUpDownIn:
		// Input endpoints report their absolute state, as EncodeState
		// wrote it.
		if len(plain) >= 2 {
			d.States[idx] = int(plain[1])
		}
	case EndpointTemperatureIn:
		if len(plain) >= 3 {
			d.States[idx] = int(plain[1]) | int(plain[2])<<8
		}
	default:
		ApplyWrite(t, &d.States[idx], plain[1:])
	}
	d.RxCounter = counter
	return idx, nil
}
