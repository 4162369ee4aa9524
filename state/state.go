// Package state provides small typed wrappers over FeRAM records: a
// monotonic Counter and a persistent boolean Flag, each backed by one
// indexed record in a [roomlink.dev/feram.Store], and a Schedule cursor
// backed by two, so callers never hand-roll the
// encode/decode of a counter or flag themselves.
package state

import (
	"encoding/binary"

	"roomlink.dev/feram"
)

// Counter is a persistent uint32 counter at a fixed index, for
// sequence counters that must survive a power cycle (the board uses one
// to hand out bus addresses).
type Counter struct {
	store *feram.Store
	index int
}

// NewCounter wraps index of store as a Counter.
func NewCounter(store *feram.Store, index int) Counter {
	return Counter{store: store, index: index}
}

// Get returns the counter's current value, or 0 if it has never been
// written.
func (c Counter) Get() (uint32, error) {
	v, err := c.store.Read(c.index)
	if err != nil {
		return 0, err
	}
	if len(v) < 4 {
		return 0, nil
	}
	return binary.LittleEndian.Uint32(v), nil
}

// Set durably stores value.
func (c Counter) Set(value uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	return c.store.Write(c.index, buf[:])
}

// Next reads the counter, increments it, persists the new value, and
// returns it — the pattern every security-counter user needs: a value
// is never reused across a restart.
func (c Counter) Next() (uint32, error) {
	v, err := c.Get()
	if err != nil {
		return 0, err
	}
	v++
	if err := c.Set(v); err != nil {
		return 0, err
	}
	return v, nil
}

// Flag is a persistent boolean at a fixed index, used for small
// configuration bits (whether a device has completed first-time setup,
// a schedule's enabled/disabled state, and similar).
type Flag struct {
	store *feram.Store
	index int
}

// NewFlag wraps index of store as a Flag.
func NewFlag(store *feram.Store, index int) Flag {
	return Flag{store: store, index: index}
}

// Get returns the flag's current value, defaulting to false if it has
// never been written.
func (f Flag) Get() (bool, error) {
	v, err := f.store.Read(f.index)
	if err != nil {
		return false, err
	}
	return len(v) == 1 && v[0] != 0, nil
}

// Set durably stores value.
func (f Flag) Set(value bool) error {
	var b byte
	if value {
		b = 1
	}
	return f.store.Write(f.index, []byte{b})
}

// Schedule is a persistent cursor into a recurring calendar event
// (a light timer, a heating setback) — the Unix time of day, in
// seconds, its next occurrence is due, plus whether it is currently
// enabled.
type Schedule struct {
	store      *feram.Store
	timeIndex  int
	flag       Flag
}

// NewSchedule wraps timeIndex and flagIndex of store as a Schedule. The
// two fields are stored as separate FeRAM records so that toggling a
// schedule on or off never disturbs its time-of-day cursor, and vice
// versa.
func NewSchedule(store *feram.Store, timeIndex, flagIndex int) Schedule {
	return Schedule{store: store, timeIndex: timeIndex, flag: NewFlag(store, flagIndex)}
}

// NextOccurrence returns the seconds-of-day at which this schedule next
// fires.
func (s Schedule) NextOccurrence() (uint32, error) {
	v, err := s.store.Read(s.timeIndex)
	if err != nil {
		return 0, err
	}
	if len(v) < 4 {
		return 0, nil
	}
	return binary.LittleEndian.Uint32(v), nil
}

// SetNextOccurrence persists the next seconds-of-day this schedule
// should fire.
func (s Schedule) SetNextOccurrence(secondsOfDay uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], secondsOfDay)
	return s.store.Write(s.timeIndex, buf[:])
}

// Enabled reports whether the schedule is currently active.
func (s Schedule) Enabled() (bool, error) {
	return s.flag.Get()
}

// SetEnabled enables or disables the schedule without touching its
// cursor, so re-enabling it resumes at the same time of day.
func (s Schedule) SetEnabled(enabled bool) error {
	return s.flag.Set(enabled)
}
