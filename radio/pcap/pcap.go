// Package pcap writes the classic libpcap file format, used by
// cmd/radiosniff to make captured 802.15.4 traffic viewable in
// Wireshark.
package pcap

import (
	"encoding/binary"
	"io"
)

// Network is a pcap data link type, see https://tcpdump.org/linktypes.html.
type Network uint32

// IEEE802_15_4 is the linktype for raw IEEE 802.15.4 frames (radio,
// ZigBee, Thread) — the only linktype this package defines; NewWriter
// records whichever one it is given.
const IEEE802_15_4 Network = 195

const (
	magicNumber   = 0xa1b2c3d4
	versionMajor  = 2
	versionMinor  = 4
	globalHeaderSize = 24
	packetHeaderSize = 16
)

// Writer appends pcap-formatted packets to an underlying io.Writer,
// having already written the global file header.
type Writer struct {
	w       io.Writer
	snaplen uint32
}

// NewWriter writes the global pcap header with the given network
// linktype and snaplen (the longest frame stored in full; 127 bytes,
// 802.15.4's MTU, keeps every frame whole) and returns a Writer ready to
// accept packets.
func NewWriter(w io.Writer, network Network, snaplen uint32) (*Writer, error) {
	var hdr [globalHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], magicNumber)
	binary.LittleEndian.PutUint16(hdr[4:6], versionMajor)
	binary.LittleEndian.PutUint16(hdr[6:8], versionMinor)
	// thiszone, sigfigs: always zero for locally-generated captures.
	binary.LittleEndian.PutUint32(hdr[16:20], snaplen)
	binary.LittleEndian.PutUint32(hdr[20:24], uint32(network))
	if _, err := w.Write(hdr[:]); err != nil {
		return nil, err
	}
	return &Writer{w: w, snaplen: snaplen}, nil
}

// WritePacket appends one captured frame, timestamped tsSec/tsUsec
// (seconds and microseconds since the Unix epoch — the caller stamps
// these, since this package never calls time.Now itself). Frames
// longer than the configured snaplen are truncated on disk but
// recorded with their true original length.
func (w *Writer) WritePacket(tsSec, tsUsec uint32, frame []byte) error {
	incl := uint32(len(frame))
	if incl > w.snaplen {
		incl = w.snaplen
	}
	var hdr [packetHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], tsSec)
	binary.LittleEndian.PutUint32(hdr[4:8], tsUsec)
	binary.LittleEndian.PutUint32(hdr[8:12], incl)
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(len(frame)))
	if _, err := w.w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.w.Write(frame[:incl])
	return err
}
