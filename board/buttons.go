// Package board wires the storage, bus, radio, and publish/subscribe
// layers together into the single running coordinator process, and
// reads the physical wall-panel buttons a coordinator board itself
// exposes (independent of any switch commissioned over the wired bus
// or radio).
package board

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/bcm283x"

	"roomlink.dev/pubsub"
	"roomlink.dev/task"
)

// ButtonPin names one of the coordinator board's onboard buttons and
// the plug index its presses are published on.
type ButtonPin struct {
	PlugIndex uint16
	Pin       gpio.PinIn
}

// DefaultButtonPins is the pin assignment for the reference coordinator
// board (a Raspberry-Pi-hosted dongle carrier), one button per plug
// index 0-2.
var DefaultButtonPins = []ButtonPin{
	{PlugIndex: 0, Pin: bcm283x.GPIO5},
	{PlugIndex: 1, Pin: bcm283x.GPIO6},
	{PlugIndex: 2, Pin: bcm283x.GPIO13},
}

// OpenButtons initializes host GPIO and starts one debouncing watcher
// goroutine per pin, publishing each press/release as a
// pubsub.CategoryBinary value on its plug. Watchers run until cancel
// fires.
func OpenButtons(loop *task.Loop, broker *pubsub.Broker, pins []ButtonPin, cancel <-chan struct{}) error {
	if _, err := host.Init(); err != nil {
		return err
	}
	for _, btn := range pins {
		if err := btn.Pin.In(gpio.PullUp, gpio.BothEdges); err != nil {
			return fmt.Errorf("board: setting up button pin: %w", err)
		}
		btn := btn
		go watchButton(loop, broker, btn, cancel)
	}
	return nil
}

func watchButton(loop *task.Loop, broker *pubsub.Broker, btn ButtonPin, cancel <-chan struct{}) {
	pressed := false
	newPressed := false
	const debounceTimeout = 10 * time.Millisecond
	for {
		select {
		case <-cancel:
			return
		default:
		}
		timeout := debounceTimeout
		if newPressed == pressed {
			timeout = -1
		}
		if btn.Pin.WaitForEdge(timeout) {
			newPressed = btn.Pin.Read() == gpio.Low
		} else if newPressed != pressed {
			pressed = newPressed
			v := pubsub.Value{Category: pubsub.CategoryBinary}
			if pressed {
				v.Int = 1
			}
			loop.Lock()
			broker.Publish(btn.PlugIndex, pubsub.CategoryBinary, v)
			loop.Unlock()
		}
	}
}
