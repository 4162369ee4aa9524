package main

import "os"

// openFlashFile loads the two flash regions from one file laid out
// back to back (region A then region B), creating it pre-erased if it
// doesn't exist yet.
func openFlashFile(path string) (regionA, regionB []byte, f *os.File, err error) {
	f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, nil, err
	}
	buf := make([]byte, 2*flashRegionSize)
	if info.Size() == int64(len(buf)) {
		if _, err := f.ReadAt(buf, 0); err != nil {
			f.Close()
			return nil, nil, nil, err
		}
	} else {
		for i := range buf {
			buf[i] = 0xff
		}
		if err := writeFlashFile(f, buf[:flashRegionSize], buf[flashRegionSize:]); err != nil {
			f.Close()
			return nil, nil, nil, err
		}
	}
	return buf[:flashRegionSize], buf[flashRegionSize:], f, nil
}

// writeFlashFile persists the two flash regions back to disk, back to
// back, so the next run picks up exactly where this one left off.
func writeFlashFile(f *os.File, regionA, regionB []byte) error {
	if _, err := f.WriteAt(regionA, 0); err != nil {
		return err
	}
	if _, err := f.WriteAt(regionB, int64(len(regionA))); err != nil {
		return err
	}
	return f.Sync()
}

// openFeramFile opens (creating and pre-sizing if needed) the flat
// byte-addressable file backing the FeRAM counter store emulation.
func openFeramFile(path string) (*os.File, error) {
	const recordSize = 10
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	size := int64(feramElementCount * recordSize)
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}
