package main

import (
	"os"

	"roomlink.dev/radio"
)

// loopbackTransport is a bus.Transport with no real wire: every
// Transfer returns readLen zero bytes, which the master decodes as no
// device answering. It lets
// board.Open start a bus.Master with no physical devices attached,
// matching how the emulator drives the same code paths against
// file-backed fakes instead of real hardware (§6).
type loopbackTransport struct{}

func (loopbackTransport) Transfer(write []byte, readLen int) ([]byte, error) {
	return make([]byte, readLen), nil
}

// loopbackPHY is a radio.PHY with no physical radio behind it: Send
// always reports success without transmitting anything, and Receive
// blocks until cancelled. The emulator has no dongle to drive, so its
// Coordinator (when radio is configured at all) simply never sees
// inbound traffic — commissioning and scene commands are instead
// exercised directly in tests against the radio package.
type loopbackPHY struct{}

func (loopbackPHY) SetChannel(ch radio.Channel) error {
	if ch < radio.ChannelMin || ch > radio.ChannelMax {
		return radio.ErrInvalidChannel
	}
	return nil
}

func (loopbackPHY) Send(frame []byte) (bool, error) { return true, nil }

func (loopbackPHY) Receive(cancel <-chan struct{}) ([]byte, error) {
	<-cancel
	return nil, nil
}

// fileBackend adapts an *os.File to feram.Backend, giving the emulator
// a flat byte-addressable file standing in for a real FeRAM chip, per
// §6's "Flash file (emulator)"-style contract extended to FeRAM.
type fileBackend struct {
	f *os.File
}

func (b *fileBackend) ReadAt(addr int, buf []byte) error {
	_, err := b.f.ReadAt(buf, int64(addr))
	return err
}

func (b *fileBackend) WriteAt(addr int, buf []byte) error {
	_, err := b.f.WriteAt(buf, int64(addr))
	return err
}
