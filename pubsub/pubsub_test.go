package pubsub

import (
	"testing"
	"time"

	"roomlink.dev/task"
)

func TestCompatibleExactMatch(t *testing.T) {
	if !Compatible(CategoryBinary, CategoryBinary) {
		t.Fatal("expected exact match to be compatible")
	}
}

func TestCompatibleDownCast(t *testing.T) {
	if !Compatible(CategorySwitch, CategoryBinary) {
		t.Fatal("expected SWITCH to down-cast to BINARY")
	}
	if Compatible(CategoryBinary, CategorySwitch) {
		t.Fatal("did not expect BINARY to up-cast to SWITCH")
	}
}

func TestCompatibleCoercion(t *testing.T) {
	if !Compatible(CategoryBinary, CategoryLevel) {
		t.Fatal("expected BINARY to coerce to LEVEL")
	}
	if !Compatible(CategoryMetering, CategoryTernary) {
		t.Fatal("expected METERING to coerce to TERNARY")
	}
}

func TestCompatibleIncompatible(t *testing.T) {
	if Compatible(CategoryColor, CategoryTemperature) {
		t.Fatal("expected COLOR and TEMPERATURE to be incompatible")
	}
}

func TestConvertDownCast(t *testing.T) {
	v := Value{Category: CategorySwitch, Int: 1}
	got, ok := Convert(v, CategorySwitch, CategoryBinary, DefaultConvertOptions)
	if !ok {
		t.Fatal("expected conversion to succeed")
	}
	if got.Category != CategoryBinary || got.Int != 1 {
		t.Fatalf("got %+v", got)
	}
}

func TestConvertBinaryToLevel(t *testing.T) {
	opts := ConvertOptions{Scale: 1, OffValue: 0, OnValue: 100}
	on := Value{Category: CategoryBinary, Int: 1}
	got, ok := Convert(on, CategoryBinary, CategoryLevel, opts)
	if !ok || got.Float != 100 {
		t.Fatalf("on: got %+v, ok=%v", got, ok)
	}
	off := Value{Category: CategoryBinary, Int: 0}
	got, ok = Convert(off, CategoryBinary, CategoryLevel, opts)
	if !ok || got.Float != 0 {
		t.Fatalf("off: got %+v, ok=%v", got, ok)
	}
}

func TestConvertLevelToBinary(t *testing.T) {
	opts := ConvertOptions{Scale: 1, OffValue: 0, OnValue: 100}
	bright := Value{Category: CategoryLevel, Float: 80}
	got, ok := Convert(bright, CategoryLevel, CategoryBinary, opts)
	if !ok || got.Int != 1 {
		t.Fatalf("got %+v, ok=%v", got, ok)
	}
	dim := Value{Category: CategoryLevel, Float: 10}
	got, ok = Convert(dim, CategoryLevel, CategoryBinary, opts)
	if !ok || got.Int != 0 {
		t.Fatalf("got %+v, ok=%v", got, ok)
	}
}

func TestConvertIncompatible(t *testing.T) {
	v := Value{Category: CategoryColor}
	if _, ok := Convert(v, CategoryColor, CategoryTemperature, DefaultConvertOptions); ok {
		t.Fatal("expected conversion to fail")
	}
}

func TestBrokerPublishDeliversToWaitingSubscriber(t *testing.T) {
	loop := task.NewLoop()
	b := NewBroker(loop)

	ready := make(chan struct{})
	result := make(chan Value, 1)
	go func() {
		loop.Lock()
		close(ready)
		v, ok := b.Subscribe(1, Source{}, CategoryBinary, DefaultConvertOptions, nil)
		loop.Unlock()
		if !ok {
			t.Errorf("subscribe failed unexpectedly")
			return
		}
		result <- v
	}()
	<-ready

	// Give the subscriber goroutine a chance to park before publishing;
	// the broker never buffers, so a publish before the subscriber is
	// parked would be silently dropped.
	time.Sleep(10 * time.Millisecond)

	loop.Lock()
	n := b.Publish(1, CategoryBinary, Value{Category: CategoryBinary, Int: 1})
	loop.Unlock()
	if n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}

	select {
	case v := <-result:
		if v.Int != 1 {
			t.Fatalf("got %+v", v)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber was never resumed")
	}
}

func TestBrokerPublishDoesNotBufferForLateSubscriber(t *testing.T) {
	loop := task.NewLoop()
	b := NewBroker(loop)

	loop.Lock()
	n := b.Publish(1, CategoryBinary, Value{Category: CategoryBinary, Int: 1})
	loop.Unlock()
	if n != 0 {
		t.Fatalf("expected 0 deliveries with no subscriber parked, got %d", n)
	}
}

func TestBrokerPublishConvertsPerSubscriber(t *testing.T) {
	loop := task.NewLoop()
	b := NewBroker(loop)

	binaryResult := make(chan Value, 1)
	levelResult := make(chan Value, 1)
	bothReady := make(chan struct{}, 2)

	go func() {
		loop.Lock()
		bothReady <- struct{}{}
		v, _ := b.Subscribe(1, Source{}, CategoryBinary, DefaultConvertOptions, nil)
		loop.Unlock()
		binaryResult <- v
	}()
	go func() {
		loop.Lock()
		bothReady <- struct{}{}
		v, _ := b.Subscribe(1, Source{}, CategoryLevel, ConvertOptions{Scale: 1, OnValue: 100}, nil)
		loop.Unlock()
		levelResult <- v
	}()
	<-bothReady
	<-bothReady
	time.Sleep(10 * time.Millisecond)

	loop.Lock()
	n := b.Publish(1, CategoryBinary, Value{Category: CategoryBinary, Int: 1})
	loop.Unlock()
	if n != 2 {
		t.Fatalf("expected 2 deliveries, got %d", n)
	}

	select {
	case v := <-binaryResult:
		if v.Category != CategoryBinary || v.Int != 1 {
			t.Fatalf("binary subscriber got %+v", v)
		}
	case <-time.After(time.Second):
		t.Fatal("binary subscriber was never resumed")
	}
	select {
	case v := <-levelResult:
		if v.Category != CategoryLevel || v.Float != 100 {
			t.Fatalf("level subscriber got %+v", v)
		}
	case <-time.After(time.Second):
		t.Fatal("level subscriber was never resumed")
	}
}

func TestBrokerPublishSkipsIncompatibleSubscriber(t *testing.T) {
	loop := task.NewLoop()
	b := NewBroker(loop)

	ready := make(chan struct{})
	done := make(chan bool, 1)
	go func() {
		loop.Lock()
		close(ready)
		_, ok := b.Subscribe(1, Source{}, CategoryColor, DefaultConvertOptions, nil)
		loop.Unlock()
		done <- ok
	}()
	<-ready
	time.Sleep(10 * time.Millisecond)

	loop.Lock()
	n := b.Publish(1, CategoryTemperature, Value{Category: CategoryTemperature, Float: 293})
	loop.Unlock()
	if n != 0 {
		t.Fatalf("expected 0 deliveries to an incompatible subscriber, got %d", n)
	}

	// The subscriber must still be parked: it is not resumed within 50ms.
	select {
	case <-done:
		t.Fatal("incompatible subscriber should not have been resumed")
	case <-time.After(50 * time.Millisecond):
	}
}
