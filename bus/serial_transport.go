//go:build !tinygo

package bus

import (
	"errors"
	"io"
	"time"

	"github.com/tarm/serial"
)

// breakDuration is 13 bit times at 19200 baud, the length of the break
// the bus's UART peripheral generates in hardware before every
// transfer.
const breakDuration = 13 * time.Second / 19200

// SerialTransport drives the wired bus over a host UART at the bus's
// running speed. It does not generate a break: the port is never
// switched to another baud rate and the line is not driven low between
// frames.
type SerialTransport struct {
	port *serial.Port
}

// OpenSerial opens dev as a bus transport. An empty dev probes the
// usual Linux serial device names.
func OpenSerial(dev string) (*SerialTransport, error) {
	const baudRate = 19200

	var devices []string
	if dev != "" {
		devices = append(devices, dev)
	} else {
		devices = append(devices, "/dev/ttyUSB0", "/dev/ttyUSB1")
	}
	if len(devices) == 0 {
		return nil, errors.New("bus: no device specified")
	}

	var firstErr error
	for _, d := range devices {
		c := &serial.Config{Name: d, Baud: baudRate, ReadTimeout: 100 * time.Millisecond}
		p, err := serial.OpenPort(c)
		if err == nil {
			return &SerialTransport{port: p}, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// Transfer waits for breakDuration with the line left idle (no break
// condition is sent), writes write, then reads back up to readLen
// bytes, matching the bus's own loop-back-while-writing
// behavior: a device that answers does so by overriding bits of the
// master's own transmission via arbitration, not by waiting for
// silence.
func (t *SerialTransport) Transfer(write []byte, readLen int) ([]byte, error) {
	time.Sleep(breakDuration)
	if _, err := t.port.Write(write); err != nil {
		return nil, err
	}
	if readLen == 0 {
		return nil, nil
	}
	buf := make([]byte, readLen)
	n, err := io.ReadFull(t.port, buf)
	if err != nil && n == 0 {
		return nil, err
	}
	return buf[:n], nil
}

// Close releases the underlying serial port.
func (t *SerialTransport) Close() error {
	return t.port.Close()
}
