package ccm

import (
	"bytes"
	"testing"
)

func testKey() [16]byte {
	return [16]byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f}
}

func testNonce() [NonceSize]byte {
	var n [NonceSize]byte
	for i := range n {
		n[i] = byte(0xA0 + i)
	}
	return n
}

// TestRoundTrip checks the specification's codec round-trip invariant:
// for every combination of header, plaintext and MIC length, decrypting
// what Encrypt produced reproduces the original plaintext and verifies.
func TestRoundTrip(t *testing.T) {
	ks := ExpandKey(testKey())
	nonce := testNonce()
	headers := [][]byte{
		nil,
		{0x01, 0x02, 0x03},
		bytes.Repeat([]byte{0x42}, 20),
	}
	plains := [][]byte{
		nil,
		{0x00},
		[]byte("hello, room controller"),
		bytes.Repeat([]byte{0x99}, 37),
	}
	micLens := []int{0, 2, 4, 8, 16}

	for _, header := range headers {
		for _, plain := range plains {
			for _, micLen := range micLens {
				out := make([]byte, EncryptedSize(len(plain), micLen))
				Encrypt(out, ks, nonce, header, plain, micLen)

				got := make([]byte, len(plain))
				if !Decrypt(got, ks, nonce, header, out, len(plain), micLen) {
					t.Fatalf("decrypt failed: header=%d plain=%d mic=%d", len(header), len(plain), micLen)
				}
				if !bytes.Equal(got, plain) {
					t.Fatalf("round trip mismatch: got %x want %x", got, plain)
				}
			}
		}
	}
}

// TestBitFlipDetected checks that flipping any single bit of the
// ciphertext, header, or MIC causes Decrypt to report authentication
// failure, whenever a MIC is present.
func TestBitFlipDetected(t *testing.T) {
	ks := ExpandKey(testKey())
	nonce := testNonce()
	header := []byte{0x01, 0x02, 0x03, 0x04}
	plain := []byte("authenticate me please")
	const micLen = 8

	out := make([]byte, EncryptedSize(len(plain), micLen))
	Encrypt(out, ks, nonce, header, plain, micLen)

	scratch := make([]byte, len(plain))
	flipBit := func(b []byte, i int) []byte {
		c := append([]byte(nil), b...)
		c[i/8] ^= 1 << (i % 8)
		return c
	}

	for i := 0; i < len(out)*8; i++ {
		corrupt := flipBit(out, i)
		if Decrypt(scratch, ks, nonce, header, corrupt, len(plain), micLen) {
			t.Fatalf("bit flip %d in ciphertext+MIC went undetected", i)
		}
	}
	for i := 0; i < len(header)*8; i++ {
		corruptHeader := flipBit(header, i)
		if Decrypt(scratch, ks, nonce, corruptHeader, out, len(plain), micLen) {
			t.Fatalf("bit flip %d in header went undetected", i)
		}
	}
}

func TestKeyHashDistinctInputs(t *testing.T) {
	key := testKey()
	h0 := KeyHash(key, 0x00)
	h1 := KeyHash(key, 0x01)
	h2 := KeyHash(key, 0x02)
	if h0 == h1 || h1 == h2 || h0 == h2 {
		t.Fatal("KeyHash produced colliding outputs for distinct inputs")
	}
}

func TestAESKnownAnswer(t *testing.T) {
	// FIPS-197 Appendix B: a single AES-128 test vector, independent of
	// CCM*, pinning the block cipher itself.
	key := [16]byte{0x2b, 0x7e, 0x15, 0x16, 0x28, 0xae, 0xd2, 0xa6, 0xab, 0xf7, 0x15, 0x88, 0x09, 0xcf, 0x4f, 0x3c}
	plain := [16]byte{0x32, 0x43, 0xf6, 0xa8, 0x88, 0x5a, 0x30, 0x8d, 0x31, 0x31, 0x98, 0xa2, 0xe0, 0x37, 0x07, 0x34}
	want := [16]byte{0x39, 0x25, 0x84, 0x1d, 0x02, 0xdc, 0x09, 0xfb, 0xdc, 0x11, 0x85, 0x97, 0x19, 0x6a, 0x0b, 0x32}

	ks := ExpandKey(key)
	block := plain
	EncryptBlock(ks, &block)
	if block != want {
		t.Fatalf("AES-128 known answer mismatch: got %x want %x", block, want)
	}
}
