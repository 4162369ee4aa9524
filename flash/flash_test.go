package flash

import (
	"bytes"
	"testing"
)

func TestWriteAppendAndOverwrite(t *testing.T) {
	s := NewStore(4096)
	if err := s.Write(0, 0, []byte("first")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Write(0, 1, []byte("second")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if s.Count(0) != 2 {
		t.Fatalf("count: got %d, want 2", s.Count(0))
	}

	if err := s.Write(0, 0, []byte("replaced")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := s.Element(0, 0)
	if err != nil {
		t.Fatalf("element: %v", err)
	}
	if !bytes.Equal(got, []byte("replaced")) {
		t.Fatalf("got %q, want %q", got, "replaced")
	}
}

func TestEraseShifts(t *testing.T) {
	s := NewStore(4096)
	s.Write(0, 0, []byte("a"))
	s.Write(0, 1, []byte("b"))
	s.Write(0, 2, []byte("c"))

	if err := s.Erase(0, 0); err != nil {
		t.Fatalf("erase: %v", err)
	}
	if s.Count(0) != 2 {
		t.Fatalf("count after erase: got %d", s.Count(0))
	}
	e0, _ := s.Element(0, 0)
	e1, _ := s.Element(0, 1)
	if !bytes.Equal(e0, []byte("b")) || !bytes.Equal(e1, []byte("c")) {
		t.Fatalf("erase did not shift remaining elements: %q %q", e0, e1)
	}
}

func TestMove(t *testing.T) {
	s := NewStore(4096)
	s.Write(0, 0, []byte("a"))
	s.Write(0, 1, []byte("b"))
	s.Write(0, 2, []byte("c"))

	if err := s.Move(0, 0, 2); err != nil {
		t.Fatalf("move: %v", err)
	}
	e0, _ := s.Element(0, 0)
	e1, _ := s.Element(0, 1)
	e2, _ := s.Element(0, 2)
	if !bytes.Equal(e0, []byte("b")) || !bytes.Equal(e1, []byte("c")) || !bytes.Equal(e2, []byte("a")) {
		t.Fatalf("move produced unexpected order: %q %q %q", e0, e1, e2)
	}
}

func TestCompactionPreservesState(t *testing.T) {
	// A region small enough that repeated overwrites exhaust it and
	// force at least one compaction, long before the live data itself
	// would ever fill a region.
	s := NewStore(200)
	for i := 0; i < 40; i++ {
		if err := s.Write(0, 0, []byte{byte(i)}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	got, err := s.Element(0, 0)
	if err != nil {
		t.Fatalf("element: %v", err)
	}
	if len(got) != 1 || got[0] != 39 {
		t.Fatalf("got %v, want [39]", got)
	}
}

func TestLoadReconstructsState(t *testing.T) {
	s := NewStore(4096)
	s.Write(0, 0, []byte("persisted"))
	s.Write(1, 0, []byte("second array"))
	regionA, regionB := s.Regions()

	loaded, err := Load(regionA, regionB)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got, err := loaded.Element(0, 0)
	if err != nil {
		t.Fatalf("element: %v", err)
	}
	if !bytes.Equal(got, []byte("persisted")) {
		t.Fatalf("got %q", got)
	}
	got2, err := loaded.Element(1, 0)
	if err != nil {
		t.Fatalf("element: %v", err)
	}
	if !bytes.Equal(got2, []byte("second array")) {
		t.Fatalf("got %q", got2)
	}
}

func TestWriteAlignmentSurvivesReload(t *testing.T) {
	// Data lengths that aren't multiples of FlashWriteAlign exercise the
	// padding replay has to skip over to find the next entry's header.
	s := NewStore(4096)
	if err := s.Write(0, 0, []byte("a")); err != nil {
		t.Fatalf("write 0: %v", err)
	}
	if err := s.Write(0, 1, []byte("abc")); err != nil {
		t.Fatalf("write 1: %v", err)
	}
	if err := s.Write(0, 2, []byte("abcdefg")); err != nil {
		t.Fatalf("write 2: %v", err)
	}
	regionA, regionB := s.Regions()
	loaded, err := Load(regionA, regionB)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for i, want := range [][]byte{[]byte("a"), []byte("abc"), []byte("abcdefg")} {
		got, err := loaded.Element(0, i)
		if err != nil {
			t.Fatalf("element %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("element %d: got %q, want %q", i, got, want)
		}
	}
}

func TestLiveBytesStaysUnderTwoThirdsOfTotalCapacity(t *testing.T) {
	// Mirrors spec.md's flash wear-out scenario: fill an array until
	// Write fails (here at the one-byte index limit, after 256
	// elements), then check that the live footprint a compaction would
	// need never exceeds two-thirds of the total flash range (both
	// regions combined).
	const regionSize = 4096
	s := NewStore(regionSize)
	count := 0
	for {
		if err := s.Write(0, count, []byte{byte(count)}); err != nil {
			break
		}
		count++
	}
	if count == 0 {
		t.Fatalf("expected at least one successful write before exhaustion")
	}
	totalCapacity := regionSize * 2
	if live := s.LiveBytes(); live > totalCapacity*2/3 {
		t.Fatalf("live bytes %d exceeds two-thirds of total capacity %d", live, totalCapacity*2/3)
	}
}

func TestElementCountExceeded(t *testing.T) {
	// Spread across two arrays (each array's own index field is a
	// single byte, so no one array can hold all MaxElementCount
	// elements); the cap applies to the total across every array.
	s := NewStore(1 << 20)
	half := MaxElementCount / 2
	for i := 0; i < half; i++ {
		if err := s.Write(0, i, []byte{byte(i)}); err != nil {
			t.Fatalf("write array0 %d: %v", i, err)
		}
		if err := s.Write(1, i, []byte{byte(i)}); err != nil {
			t.Fatalf("write array1 %d: %v", i, err)
		}
	}
	if err := s.Write(2, 0, []byte{0}); err != ErrElementCountExceeded {
		t.Fatalf("expected ErrElementCountExceeded, got %v", err)
	}
}
