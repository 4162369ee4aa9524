// command radiosniff captures raw 802.15.4 frames from a dongle in
// promiscuous mode and writes them to a pcap file readable by
// Wireshark's "IEEE 802.15.4" dissector.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"roomlink.dev/dongle"
	"roomlink.dev/radio"
	"roomlink.dev/radio/pcap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "radiosniff: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	log.SetFlags(log.Flags() &^ (log.Ldate | log.Ltime))

	dev := flag.String("device", "", "dongle serial device (probes /dev/ttyACM* if empty)")
	channel := flag.Uint("channel", 15, "802.15.4 channel (11-26)")
	out := flag.String("out", "capture.pcap", "output pcap file")
	flag.Parse()

	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := pcap.NewWriter(f, pcap.IEEE802_15_4, 127)
	if err != nil {
		return err
	}

	d, err := dongle.Open(*dev)
	if err != nil {
		return fmt.Errorf("opening dongle: %w", err)
	}
	defer d.Close()

	if err := d.SetChannel(radio.Channel(*channel)); err != nil {
		return fmt.Errorf("setting channel: %w", err)
	}
	if err := d.SetFilterFlags(radio.FilterPassAll); err != nil {
		return fmt.Errorf("setting filters: %w", err)
	}

	cancel := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		close(cancel)
	}()

	log.Printf("radiosniff: capturing channel %d to %s, ctrl-C to stop", *channel, *out)
	var count int
	for {
		frame, err := d.Receive(cancel)
		if err != nil {
			return fmt.Errorf("receiving frame: %w", err)
		}
		if frame == nil {
			log.Printf("radiosniff: captured %d frames", count)
			return nil
		}
		now := time.Now()
		if err := w.WritePacket(uint32(now.Unix()), uint32(now.Nanosecond()/1000), frame); err != nil {
			return fmt.Errorf("writing packet: %w", err)
		}
		count++
	}
}
