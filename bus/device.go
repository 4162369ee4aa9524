package bus

// EndpointType identifies the shape of a single endpoint's state and,
// for inputs, which physical control produced it. Split into *_IN (a
// device publishing sensor/control state) and plain (an actuator
// accepting commands) mirrors the endpoint catalog devices on the
// real bus expose: rockers and buttons report edges, lights and blinds
// accept absolute or relative commands.
type EndpointType uint8

const (
	EndpointOnOffIn      EndpointType = iota // a switch: reports a level
	EndpointTriggerIn                        // a button: reports an edge
	EndpointUpDownIn                         // a rocker: reports up/down/released
	EndpointTemperatureIn                    // a sensor: reports 1/20 Kelvin steps

	EndpointOnOff       // a light: accepts on/off/toggle
	EndpointTrigger     // accepts a trigger command
	EndpointUpDown      // a blind: accepts up/down/stop
	EndpointTemperature // accepts a setpoint
)

// EncodeState serializes an endpoint's current state into a read
// reply's payload (after the endpoint index byte): one byte, or two
// bytes little-endian for a temperature input. Master.Read decodes it
// on the master side.
func EncodeState(t EndpointType, state int) []byte {
	switch t {
	case EndpointTemperatureIn:
		return []byte{byte(state), byte(state >> 8)}
	default:
		return []byte{byte(state)}
	}
}

// ApplyWrite updates state in place according to a received write
// command for endpoint type t, matching the master's per-type command
// semantics:
//   - ON_OFF: 0 or 1 sets the level directly; any other value toggles.
//   - TRIGGER / UP_DOWN: the low two bits of the command replace the
//     low two bits of state, leaving any higher bits (e.g. a blind's
//     travel position) untouched.
//   - TEMPERATURE: a 16-bit little-endian setpoint replaces state
//     outright.
func ApplyWrite(t EndpointType, state *int, cmd []byte) {
	switch t {
	case EndpointOnOff:
		if len(cmd) < 1 {
			return
		}
		s := int(cmd[0])
		if s < 2 {
			*state = s
		} else {
			*state ^= 1
		}
	case EndpointTrigger, EndpointUpDown:
		if len(cmd) < 1 {
			return
		}
		*state = (*state &^ 3) | int(cmd[0]&3)
	case EndpointTemperature:
		if len(cmd) < 2 {
			return
		}
		*state = int(cmd[0]) | int(cmd[1])<<8
	}
}

// Device is a commissioned or uncommissioned bus participant as known
// to the master: its identity, its assigned address and key once
// commissioned, and the endpoint layout it advertised.
type Device struct {
	ID        uint32
	Endpoints []EndpointType

	Commissioned bool
	Address      ShortAddress
	Key          [16]byte

	// TxCounter is the security counter the master uses for the write
	// frames it sends to this device; RxCounter is the highest counter
	// value the master has accepted in this device's read replies,
	// enforcing replay protection on them.
	TxCounter uint32
	RxCounter uint32

	States []int
}

// NewDevice creates an uncommissioned device record for a device with
// the given id and endpoint layout, as read from a provisioning list.
func NewDevice(id uint32, endpoints []EndpointType) *Device {
	return &Device{ID: id, Endpoints: endpoints, States: make([]int, len(endpoints))}
}
