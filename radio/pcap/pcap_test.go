package pcap

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestWriterGlobalHeader(t *testing.T) {
	var buf bytes.Buffer
	if _, err := NewWriter(&buf, IEEE802_15_4, 127); err != nil {
		t.Fatalf("new writer: %v", err)
	}
	hdr := buf.Bytes()
	if len(hdr) != globalHeaderSize {
		t.Fatalf("got header length %d, want %d", len(hdr), globalHeaderSize)
	}
	if got := binary.LittleEndian.Uint32(hdr[0:4]); got != magicNumber {
		t.Fatalf("got magic %#x, want %#x", got, magicNumber)
	}
	if got := binary.LittleEndian.Uint32(hdr[20:24]); got != uint32(IEEE802_15_4) {
		t.Fatalf("got network %d, want %d", got, IEEE802_15_4)
	}
}

func TestWritePacketTruncatesToSnaplen(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, IEEE802_15_4, 4)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	frame := []byte{1, 2, 3, 4, 5, 6}
	if err := w.WritePacket(100, 200, frame); err != nil {
		t.Fatalf("write packet: %v", err)
	}
	body := buf.Bytes()[globalHeaderSize:]
	if len(body) != packetHeaderSize+4 {
		t.Fatalf("got body length %d, want %d", len(body), packetHeaderSize+4)
	}
	inclLen := binary.LittleEndian.Uint32(body[8:12])
	origLen := binary.LittleEndian.Uint32(body[12:16])
	if inclLen != 4 {
		t.Fatalf("got incl_len %d, want 4", inclLen)
	}
	if origLen != 6 {
		t.Fatalf("got orig_len %d, want 6", origLen)
	}
	if !bytes.Equal(body[packetHeaderSize:], frame[:4]) {
		t.Fatalf("got payload %v, want %v", body[packetHeaderSize:], frame[:4])
	}
}
