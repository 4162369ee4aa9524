// Package pubsub implements the publish/subscribe plane shared by
// every application-facing layer: a typed message, a plug-compatibility
// matcher, and a per-plug subscriber list. Messages flow from a
// publisher's plug to every currently-waiting subscriber on the same
// plug, converted to each subscriber's own declared category on the
// way through.
package pubsub

import "roomlink.dev/task"

// Category identifies the shape of a message value. The original
// design expressed this as an inheritance hierarchy of "Element types"
// and "PlugType" enums; here it collapses to one tagged sum type with
// conversion functions keyed on the target category, matching how the
// rest of this module already prefers tagged unions over inheritance.
type Category uint8

const (
	CategoryUnknown Category = iota
	CategoryBinary           // a two-state value: on/off, open/closed
	CategorySwitch           // binary plus a "toggle" pseudo-state
	CategoryTernary          // up/down/released, as rockers and blinds report
	CategoryLevel            // a continuous 0-100 level (dimmer, blind position)
	CategoryMetering         // an accumulating or instantaneous metering reading
	CategoryTemperature      // a temperature in 1/20 Kelvin steps
	CategoryColor            // an RGB or color-temperature value
)

// parent reports the more general category a given category down-casts
// to, if any. A SWITCH value is always readable as a plain BINARY one
// (drop the toggle pseudo-state); nothing else has a parent.
func (c Category) parent() (Category, bool) {
	if c == CategorySwitch {
		return CategoryBinary, true
	}
	return CategoryUnknown, false
}

// Direction is which way a plug moves data: a device publishes on an
// OUT plug and a controller subscribes on an IN plug, or vice versa for
// commands flowing the other way.
type Direction uint8

const (
	DirectionIn Direction = iota
	DirectionOut
)

// Plug is a typed message endpoint on a device.
type Plug struct {
	Category  Category
	Direction Direction
}

// ConvertOptions parameterizes the coercions category-to-switch and
// switch-to-value conversions use: a scale and offset applied to
// numeric values, and the two discrete values a binary/switch category
// maps to and from when converting to/from a continuous one.
type ConvertOptions struct {
	Scale, Offset     float32
	OffValue, OnValue float32
}

// DefaultConvertOptions is the identity conversion: no scaling, 0/1 for
// off/on.
var DefaultConvertOptions = ConvertOptions{Scale: 1, OnValue: 1}

// Value is a typed message value. Exactly one of the fields is
// meaningful, selected by Category: Int for BINARY/SWITCH/TERNARY/
// COLOR, Float for LEVEL/METERING/TEMPERATURE.
type Value struct {
	Category Category `cbor:"1,keyasint"`
	Int      int32    `cbor:"2,keyasint,omitempty"`
	Float    float32  `cbor:"3,keyasint,omitempty"`
}

// Compatible reports whether a publisher's plug category can be
// delivered, with conversion, to a subscriber declaring wantCategory —
// the four rules of §4.7, in order: exact match, down-cast match,
// category-to-switch/switch-to-value coercion, otherwise incompatible.
func Compatible(pubCategory, wantCategory Category) bool {
	if pubCategory == wantCategory {
		return true
	}
	for c, ok := pubCategory.parent(); ok; c, ok = c.parent() {
		if c == wantCategory {
			return true
		}
	}
	return isSwitchCoercible(pubCategory, wantCategory)
}

func isSwitchCoercible(pubCategory, wantCategory Category) bool {
	numeric := func(c Category) bool {
		return c == CategoryLevel || c == CategoryMetering || c == CategoryTemperature
	}
	discrete := func(c Category) bool {
		return c == CategoryBinary || c == CategorySwitch || c == CategoryTernary
	}
	return (discrete(pubCategory) && numeric(wantCategory)) || (numeric(pubCategory) && discrete(wantCategory))
}

// Convert converts v, published under pubCategory, to wantCategory
// using opts. It reports false if the categories are incompatible.
func Convert(v Value, pubCategory, wantCategory Category, opts ConvertOptions) (Value, bool) {
	if !Compatible(pubCategory, wantCategory) {
		return Value{}, false
	}
	if pubCategory == wantCategory {
		return v, true
	}
	if parent, ok := pubCategory.parent(); ok && wantCategory == parent {
		// Down-cast: reinterpret under the parent category without
		// changing the stored representation (a SWITCH's toggle state
		// only ever reaches here as a concrete 0/1, since the toggle
		// pseudo-state is resolved against current state before
		// publishing).
		return Value{Category: wantCategory, Int: v.Int, Float: v.Float}, true
	}

	switch {
	case isSwitchCoercible(pubCategory, wantCategory) && numericCategory(wantCategory):
		on := v.Int != 0
		f := opts.OffValue
		if on {
			f = opts.OnValue
		}
		return Value{Category: wantCategory, Float: f*opts.Scale + opts.Offset}, true
	case isSwitchCoercible(pubCategory, wantCategory) && !numericCategory(wantCategory):
		on := (v.Float-opts.Offset)/scaleOrOne(opts.Scale) >= (opts.OnValue+opts.OffValue)/2
		i := int32(0)
		if on {
			i = 1
		}
		return Value{Category: wantCategory, Int: i}, true
	}
	return Value{}, false
}

func numericCategory(c Category) bool {
	return c == CategoryLevel || c == CategoryMetering || c == CategoryTemperature
}

func scaleOrOne(s float32) float32 {
	if s == 0 {
		return 1
	}
	return s
}

// Source identifies where a subscribed message came from, so a
// subscriber that aggregates several plugs can tell them apart.
type Source struct {
	PlugIndex       uint8
	ConnectionIndex uint8
}

// subscriberState is the mutable record parked on a plug's waitlist
// while a subscriber awaits its next message: the subscriber's own
// declared category and conversion options going in, and the converted
// value the broker deposits before resuming it.
type subscriberState struct {
	Source         Source
	WantCategory   Category
	ConvertOptions ConvertOptions
	Delivered      Value
}

// Broker dispatches published values to waiting subscribers, one
// intrusive waitlist per plug index — exactly the SubscriberList the
// specification describes, reusing [roomlink.dev/task.Barrier] rather
// than a bespoke list, since the ordering and single-reader-single-
// writer guarantees it already provides are the same ones a
// SubscriberList needs.
type Broker struct {
	loop  *task.Loop
	plugs map[uint16]*task.Barrier[*subscriberState]
}

// NewBroker creates an empty Broker on loop.
func NewBroker(loop *task.Loop) *Broker {
	return &Broker{loop: loop, plugs: map[uint16]*task.Barrier[*subscriberState]{}}
}

func (b *Broker) barrier(plugIndex uint16) *task.Barrier[*subscriberState] {
	if bar, ok := b.plugs[plugIndex]; ok {
		return bar
	}
	bar := task.NewBarrier[*subscriberState](b.loop)
	b.plugs[plugIndex] = &bar
	return b.plugs[plugIndex]
}

// Subscribe blocks the calling goroutine (which must hold the Loop
// lock) until a compatible value is published to plugIndex, or cancel
// fires. wantCategory is the category the caller wants values
// converted to.
func (b *Broker) Subscribe(plugIndex uint16, source Source, wantCategory Category, opts ConvertOptions, cancel <-chan struct{}) (Value, bool) {
	bar := b.barrier(plugIndex)
	state, ok := bar.Wait(&subscriberState{Source: source, WantCategory: wantCategory, ConvertOptions: opts}, cancel)
	if !ok {
		return Value{}, false
	}
	return state.Delivered, true
}

// Publish delivers msg, published under pubCategory on plugIndex, to
// every subscriber currently waiting there whose declared category is
// compatible, converting the value for each independently. It does not
// buffer: a subscriber that is not yet waiting never sees this
// publication. It returns how many subscribers received it.
func (b *Broker) Publish(plugIndex uint16, pubCategory Category, msg Value) int {
	bar, ok := b.plugs[plugIndex]
	if !ok {
		return 0
	}
	return bar.ResumeAllIf(func(s *subscriberState) bool {
		converted, ok := Convert(msg, pubCategory, s.WantCategory, s.ConvertOptions)
		if !ok {
			return false
		}
		s.Delivered = converted
		return true
	})
}
