package dongle

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Lock holds an exclusive, non-blocking flock(2) on a dongle's device
// file for as long as this process runs, so two instances of a command
// never fight over the same serial port the way two independent opens
// of /dev/ttyACM0 would otherwise silently allow.
type Lock struct {
	f *os.File
}

// LockDevice acquires an exclusive lock on path, failing immediately
// (rather than blocking) if another process already holds one.
func LockDevice(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("dongle: %s is already in use: %w", path, err)
	}
	return &Lock{f: f}, nil
}

// Close releases the lock.
func (l *Lock) Close() error {
	unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return l.f.Close()
}
