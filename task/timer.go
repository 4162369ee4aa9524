package task

import (
	"reflect"
	"time"
)

// Ticks is a wrapping monotonic tick counter, matching the embedded
// platforms' hardware timer registers: comparisons must use modular
// arithmetic over a window no larger than half the counter's range
// rather than plain integer comparison, so that wraparound at 2^32 never
// makes a fresh timer look "already expired".
type Ticks uint32

// Before reports whether a is strictly before b on the wrapping
// timeline, i.e. whether advancing the clock from a eventually reaches b
// without first wrapping past it.
func (a Ticks) Before(b Ticks) bool {
	return int32(a-b) < 0
}

// Since returns how many ticks have elapsed from b to a, assuming b is
// not more than half the counter's range before a.
func (a Ticks) Since(b Ticks) Ticks {
	return a - b
}

// sleepAwaitable wraps the generic Awaitable with the underlying
// time.Timer so that Cancel also stops the timer, instead of leaving it
// to fire uselessly.
type sleepAwaitable struct {
	Awaitable[struct{}, struct{}]
	timer *time.Timer
}

func (s sleepAwaitable) Cancel() {
	s.timer.Stop()
	s.Awaitable.Cancel()
}

// Sleep returns an awaitable that resumes once d has elapsed in real
// time: it uses a time.AfterFunc timer and does not consult the clock
// given to NewLoopWithClock. A non-positive d still resumes on the next scheduler
// turn rather than synchronously, since the timer always fires from a
// separate goroutine.
func (l *Loop) Sleep(d time.Duration) sleepAwaitable {
	if d < 0 {
		d = 0
	}
	l.Lock()
	list := NewWaitlist[struct{}](l)
	a := NewAwaitable(list, struct{}{}, func(struct{}) struct{} { return struct{}{} })
	l.Unlock()
	timer := time.AfterFunc(d, func() {
		l.Lock()
		list.ResumeAll()
		l.Unlock()
	})
	return sleepAwaitable{a, timer}
}

// Select blocks until the earliest of aws completes or cancel fires, then
// cancels every other branch. Ties among simultaneously-ready branches are
// broken toward the lowest index, matching the specification's
// leftmost-wins rule. It returns the winning index (or -1 if cancel won)
// and whether any branch completed.
func Select[P, T any](cancel <-chan struct{}, aws ...Awaitable[P, T]) (index int, result T, ok bool) {
	if len(aws) == 0 {
		panic("task: Select requires at least one Awaitable")
	}
	cancelRest := func(except int) {
		for i, a := range aws {
			if i != except {
				a.Cancel()
			}
		}
	}
	for {
		// Deterministic leftmost-ready scan: reflect.Select's own choice
		// among simultaneously-ready cases is pseudo-random, so resolve
		// ties ourselves once we know at least one case is ready.
		for i, a := range aws {
			select {
			case <-a.node.resume:
				result = a.result(a.node.Param)
				cancelRest(i)
				return i, result, true
			default:
			}
		}
		select {
		case <-cancel:
			cancelRest(-1)
			var zero T
			return -1, zero, false
		default:
		}
		cases := make([]reflect.SelectCase, len(aws)+1)
		for i, a := range aws {
			cases[i] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(a.node.resume)}
		}
		cases[len(aws)] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(cancel)}
		reflect.Select(cases) // blocks until something is ready, then we re-scan above
	}
}

// spawnAwaitable wraps Awaitable so that Cancel also closes the done
// channel passed to the spawned function, letting it cooperate instead of
// running to completion unobserved.
type spawnAwaitable[T any] struct {
	Awaitable[*T, T]
	done chan struct{}
}

func (s spawnAwaitable[T]) Cancel() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.Awaitable.Cancel()
}

// Spawn runs fn in its own goroutine and returns an awaitable that
// resumes with fn's result once it returns. Cancelling the returned
// awaitable does not forcibly stop fn — Go provides no way to preempt a
// running goroutine — but it closes fn's done channel so a
// cooperatively-written fn can return early, and it stops the awaiting
// goroutine from waiting on the result.
func Spawn[T any](loop *Loop, fn func(done <-chan struct{}) T) spawnAwaitable[T] {
	loop.Lock()
	list := NewWaitlist[*T](loop)
	a := NewAwaitable(list, (*T)(nil), func(p *T) T { return *p })
	loop.Unlock()
	done := make(chan struct{})
	go func() {
		result := fn(done)
		loop.Lock()
		a.node.Param = &result
		list.ResumeAll()
		loop.Unlock()
	}()
	return spawnAwaitable[T]{a, done}
}
