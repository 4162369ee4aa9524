package radio

import "errors"

// Channel is an 802.15.4 channel number, 11 through 26 in the 2.4GHz
// band.
type Channel uint8

const (
	ChannelMin Channel = 11
	ChannelMax Channel = 26
)

var ErrInvalidChannel = errors.New("radio: channel out of range 11-26")

// PHY is the external radio collaborator: a single 802.15.4 radio
// capable of clear-channel assessment before transmit and receiving raw
// frames (FCS already validated and stripped) on whichever channel it
// was last tuned to. Callers pass the frames it receives to
// Coordinator.HandleFrame. Production code backs this with dongle
// firmware talking to a real transceiver; the emulator backs it with a
// loopback PHY that transmits nothing and never receives a frame.
type PHY interface {
	// SetChannel tunes the radio. It returns ErrInvalidChannel if ch is
	// outside [ChannelMin, ChannelMax].
	SetChannel(ch Channel) error
	// Send transmits frame after performing clear-channel assessment,
	// retrying per the driver's own backoff policy. It returns true if
	// the frame was sent (not whether any AckRequest was answered —
	// callers needing delivery confirmation use HANDLE_ACK filter
	// contexts and watch for the corresponding Ack frame).
	Send(frame []byte) (bool, error)
	// Receive blocks for the next frame the radio's filters accepted,
	// or returns (nil, nil) if cancel fires first.
	Receive(cancel <-chan struct{}) ([]byte, error)
}
