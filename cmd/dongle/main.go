// command dongle runs the radio coordinator against a physical USB
// dongle and logs the ZigBee and Green-Power commands it decodes. The
// decoded traffic is not published on the publish/subscribe broker.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"roomlink.dev/ccm"
	"roomlink.dev/dongle"
	"roomlink.dev/pubsub"
	"roomlink.dev/radio"
	"roomlink.dev/task"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "dongle: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	log.SetFlags(log.Flags() &^ (log.Ldate | log.Ltime))

	dev := flag.String("device", "", "dongle serial device (probes /dev/ttyACM* if empty)")
	channel := flag.Uint("channel", 15, "802.15.4 channel (11-26)")
	panID := flag.Uint("pan", 0x1a62, "ZigBee PAN id")
	flag.Parse()

	if *dev != "" {
		lock, err := dongle.LockDevice(*dev)
		if err != nil {
			return err
		}
		defer lock.Close()
	} else {
		log.Println("dongle: no --device given, skipping exclusive lock")
	}

	d, err := dongle.Open(*dev)
	if err != nil {
		return fmt.Errorf("opening dongle: %w", err)
	}
	defer d.Close()

	if err := d.Reset(); err != nil {
		return fmt.Errorf("resetting dongle: %w", err)
	}
	if err := d.SetChannel(radio.Channel(*channel)); err != nil {
		return fmt.Errorf("setting channel: %w", err)
	}
	if err := d.SetPAN(uint16(*panID)); err != nil {
		return fmt.Errorf("setting PAN: %w", err)
	}
	if err := d.SetFilterFlags(radio.FilterPassAll); err != nil {
		return fmt.Errorf("setting filters: %w", err)
	}

	loop := task.NewLoop()
	broker := pubsub.NewBroker(loop)
	_ = broker

	var networkKey [16]byte
	coord := radio.NewCoordinator(uint16(*panID), ccm.ExpandKey(networkKey))
	coord.OnZCLCommand = func(dev *radio.ZigbeeDevice, ep radio.Endpoint, h radio.ZclHeader, payload []byte) []byte {
		log.Printf("dongle: zcl command from %#016x ep=%d cluster=%d cmd=%#02x", dev.ExtendedAddress, ep.Number, ep.Cluster, h.Command)
		return nil
	}
	coord.OnGPCommand = func(zgpd *radio.ZGPDevice, cmd radio.GPCommandID) {
		log.Printf("dongle: green power command from %#08x: %#02x", zgpd.DeviceID, cmd)
	}
	coord.OnCommissioning = func(deviceID uint32, c radio.Commissioning) {
		log.Printf("dongle: green power commissioning from %#08x", deviceID)
	}

	cancel := make(chan struct{})
	log.Println("dongle: listening")
	for {
		frame, err := d.Receive(cancel)
		if err != nil {
			return fmt.Errorf("receiving frame: %w", err)
		}
		if frame == nil {
			return nil
		}
		if err := coord.HandleFrame(frame); err != nil {
			log.Printf("dongle: dropping frame: %v", err)
		}
	}
}
