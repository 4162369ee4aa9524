// command emulator runs a coordinator board's full stack — bus,
// radio, flash, FeRAM, publish/subscribe — against file-backed fakes
// instead of real hardware, with a terminal UI standing in for the
// graphical device simulator (an explicit non-goal carried over
// unchanged from the distilled specification).
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"roomlink.dev/board"
	"roomlink.dev/feram"
	"roomlink.dev/mqttsn"
	"roomlink.dev/pubsub"
	"roomlink.dev/task"
)

const (
	flashRegionSize  = 8 * 1024
	feramElementCount = 64
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "emulator: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	log.SetFlags(log.Flags() &^ (log.Ldate | log.Ltime))

	flashPath := flag.String("flash", "emulator.flash", "flash array store file (two regions, back to back)")
	feramPath := flag.String("feram", "emulator.feram", "FeRAM counter store file")
	gateway := flag.String("gateway", "", "MQTT-SN gateway address (host:port); empty disables the bridge")
	clientID := flag.String("client-id", "emulator", "MQTT-SN client id")
	flag.Parse()

	regionA, regionB, flashFile, err := openFlashFile(*flashPath)
	if err != nil {
		return fmt.Errorf("opening flash file: %w", err)
	}
	defer flashFile.Close()

	feramFile, err := openFeramFile(*feramPath)
	if err != nil {
		return fmt.Errorf("opening feram file: %w", err)
	}
	defer feramFile.Close()

	loop := task.NewLoop()
	b, err := board.Open(loop, board.Config{
		BusTransport:    loopbackTransport{},
		RadioPHY:        loopbackPHY{},
		FlashRegionSize: flashRegionSize,
		FlashRegionA:    regionA,
		FlashRegionB:    regionB,
		FeramBackend:    &fileBackend{f: feramFile},
		FeramElements:   feramElementCount,
	})
	if err != nil {
		return fmt.Errorf("opening board: %w", err)
	}

	cancel := make(chan struct{})
	defer close(cancel)

	if *gateway != "" {
		conn, err := net.Dial("udp", *gateway)
		if err != nil {
			return fmt.Errorf("dialing gateway: %w", err)
		}
		defer conn.Close()
		client := mqttsn.NewClient(loop, udpConn{conn}, b.Broker, *clientID)
		go func() {
			if err := client.Run(cancel); err != nil {
				log.Printf("emulator: mqttsn client stopped: %v", err)
			}
		}()
		if err := client.Connect(300, 5*time.Second, cancel); err != nil {
			log.Printf("emulator: gateway connect failed: %v", err)
		}
	}

	defer func() {
		a, bb := b.Flash.Regions()
		writeFlashFile(flashFile, a, bb)
	}()

	log.Println("emulator: type 'help' for commands")
	return repl(b, cancel)
}

// udpConn adapts a net.Conn already Dial'd to its gateway into
// mqttsn.Conn's Send/Recv shape.
type udpConn struct{ net.Conn }

func (c udpConn) Send(b []byte) error {
	_, err := c.Write(b)
	return err
}

func (c udpConn) Recv() ([]byte, error) {
	buf := make([]byte, 1500)
	n, err := c.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// repl is the terminal UI: a tiny line-oriented command loop standing
// in for the graphical device simulator. "pub <plug> <0|1>" publishes
// a binary value on a plug; "sub <plug>" blocks until the next value
// is published on a plug and prints it.
func repl(b *board.Board, cancel <-chan struct{}) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "help":
			fmt.Println("commands: pub <plug> <0|1>, sub <plug>, quit")
		case "pub":
			if len(fields) != 3 {
				fmt.Println("usage: pub <plug> <0|1>")
				continue
			}
			plug, err1 := strconv.ParseUint(fields[1], 10, 16)
			level, err2 := strconv.ParseInt(fields[2], 10, 32)
			if err1 != nil || err2 != nil {
				fmt.Println("usage: pub <plug> <0|1>")
				continue
			}
			b.Broker.Publish(uint16(plug), pubsub.CategoryBinary, pubsub.Value{
				Category: pubsub.CategoryBinary,
				Int:      int32(level),
			})
		case "sub":
			if len(fields) != 2 {
				fmt.Println("usage: sub <plug>")
				continue
			}
			plug, err := strconv.ParseUint(fields[1], 10, 16)
			if err != nil {
				fmt.Println("usage: sub <plug>")
				continue
			}
			v, ok := b.Broker.Subscribe(uint16(plug), pubsub.Source{}, pubsub.CategoryBinary, pubsub.DefaultConvertOptions, cancel)
			if ok {
				fmt.Printf("plug %d: %+v\n", plug, v)
			}
		case "quit", "exit":
			return nil
		default:
			fmt.Println("unknown command, type 'help'")
		}
	}
	return scanner.Err()
}
