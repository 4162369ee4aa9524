// Package dongle drives a radio dongle's USB vendor-request protocol
// over its CDC-ACM serial endpoint, implementing radio.PHY so a
// radio.Coordinator can use one directly.
package dongle

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/tarm/serial"

	"roomlink.dev/radio"
)

// Request is the dongle's USB vendor-request command set (radioDefs.hpp
// Request), framed here as single command bytes sent over the dongle's
// CDC-ACM serial endpoint rather than as raw USB control transfers —
// the dongle firmware multiplexes its one vendor interface onto the
// same endpoint its virtual COM port already exposes, so a framed byte
// protocol over that port plays the same role a libusb control
// transfer would without requiring a USB transport library this module
// doesn't otherwise need.
type Request uint8

const (
	RequestReset           Request = 0
	RequestStart           Request = 1
	RequestStop            Request = 2
	RequestEnableReceiver  Request = 3
	RequestSetLongAddress  Request = 4
	RequestSetFlags        Request = 5
	RequestSetPAN          Request = 6
	RequestSetShortAddress Request = 7
)

// Result codes for RequestStart's energy-detection/send result byte.
const (
	ResultWaiting    = 0x00
	ResultMaxEDValue = 0x7f
	ResultSuccess    = 0x80
	ResultFailure    = 0xff
)

var ErrDongle = errors.New("dongle: unexpected reply")

// Dongle drives a radio dongle's vendor protocol over a serial port,
// implementing radio.PHY so a Coordinator can use it directly.
type Dongle struct {
	port *serial.Port
}

// Open connects to dev (or probes the usual Linux serial device names
// if empty), matching bus.OpenSerial's probing behavior for the wired
// bus's own dongle-adjacent hardware.
func Open(dev string) (*Dongle, error) {
	const baudRate = 115200
	devices := []string{dev}
	if dev == "" {
		devices = []string{"/dev/ttyACM0", "/dev/ttyACM1"}
	}
	var firstErr error
	for _, d := range devices {
		c := &serial.Config{Name: d, Baud: baudRate, ReadTimeout: time.Second}
		p, err := serial.OpenPort(c)
		if err == nil {
			return &Dongle{port: p}, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

func (d *Dongle) command(req Request, args []byte) error {
	frame := append([]byte{byte(req)}, args...)
	_, err := d.port.Write(frame)
	return err
}

// Reset restarts the radio, clearing any PAN/address/filter
// configuration.
func (d *Dongle) Reset() error { return d.command(RequestReset, nil) }

// SetChannel implements radio.PHY by re-issuing RequestStart with the
// new channel — the dongle firmware treats (re-)starting as how a
// channel change takes effect.
func (d *Dongle) SetChannel(ch radio.Channel) error {
	if ch < radio.ChannelMin || ch > radio.ChannelMax {
		return radio.ErrInvalidChannel
	}
	return d.command(RequestStart, []byte{byte(ch)})
}

// SetPAN configures the PAN id filter contexts compare against.
func (d *Dongle) SetPAN(panID uint16) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], panID)
	return d.command(RequestSetPAN, buf[:])
}

// SetShortAddress configures the coordinator's own short address.
func (d *Dongle) SetShortAddress(addr uint16) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], addr)
	return d.command(RequestSetShortAddress, buf[:])
}

// SetLongAddress configures the coordinator's 64-bit IEEE address.
func (d *Dongle) SetLongAddress(addr uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], addr)
	return d.command(RequestSetLongAddress, buf[:])
}

// SetFilterFlags configures the driver's receive filter bitmask
// (radio.FilterFlags).
func (d *Dongle) SetFilterFlags(flags radio.FilterFlags) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], uint16(flags))
	return d.command(RequestSetFlags, buf[:])
}

// Send implements radio.PHY: it frames the raw 802.15.4 frame behind a
// length prefix and the dongle performs CCA before transmitting.
func (d *Dongle) Send(frame []byte) (bool, error) {
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(frame)))
	if err := d.command(RequestEnableReceiver, append(lenBuf[:], frame...)); err != nil {
		return false, err
	}
	result := make([]byte, 1)
	if _, err := d.port.Read(result); err != nil {
		return false, err
	}
	return result[0] == ResultSuccess, nil
}

// Receive blocks (up to the port's configured read timeout, retried
// until cancel fires) for the next 2-byte-length-prefixed frame the
// dongle's filters accepted.
func (d *Dongle) Receive(cancel <-chan struct{}) ([]byte, error) {
	lenBuf := make([]byte, 2)
	for {
		select {
		case <-cancel:
			return nil, nil
		default:
		}
		n, err := d.port.Read(lenBuf)
		if err != nil || n < 2 {
			continue
		}
		length := binary.LittleEndian.Uint16(lenBuf)
		frame := make([]byte, length)
		if _, err := d.port.Read(frame); err != nil {
			return nil, err
		}
		return frame, nil
	}
}

// Close releases the underlying serial port.
func (d *Dongle) Close() error {
	return d.port.Close()
}
