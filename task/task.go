// Package task implements the cooperative single-threaded runtime shared
// by every other package in this module: an intrusive waitlist, timers,
// and cancellable awaitables.
//
// There is exactly one execution context that is allowed to mutate the
// state owned by a [Loop]: its own goroutine, or a caller holding its
// lock on the Loop's behalf. Everything else — link-layer drivers,
// storage backends, the pub/sub broker — parks on a [Waitlist] and is
// woken by that single context, so state never changes between two
// points a parked task can observe, matching the "one task running at a
// time" model the rest of the module is built on.
package task

import (
	"sync"
	"time"
)

// Node is the intrusive waitlist element: it carries the parameters of a
// pending operation (a read/write buffer, a timeout, ...) alongside the
// plumbing used to wake the goroutine parked on it. A node is either "not
// in list" (next and prev point to itself) or linked into exactly one
// Waitlist.
type Node[P any] struct {
	next, prev *Node[P]
	w          *Waitlist[P]
	resume     chan struct{}

	// Param holds the operation-specific payload. It is only safe to
	// read or write while the node is not linked into a Waitlist, or
	// while holding that Waitlist's Loop lock.
	Param P
}

func newNode[P any](p P) *Node[P] {
	n := &Node[P]{Param: p, resume: make(chan struct{}, 1)}
	n.next, n.prev = n, n
	return n
}

// Linked reports whether n is currently parked on a waitlist.
func (n *Node[P]) Linked() bool {
	return n.w != nil
}

// Waitlist is an intrusive doubly-linked list of nodes, all belonging to
// the same [Loop]. Every method must be called while holding the
// Waitlist's Loop lock (see [Loop.Lock]); callers that only ever touch a
// Waitlist from within a Loop-owned goroutine get this for free.
type Waitlist[P any] struct {
	loop *Loop
	root Node[P]
}

// NewWaitlist creates a waitlist owned by loop.
func NewWaitlist[P any](loop *Loop) *Waitlist[P] {
	w := &Waitlist[P]{loop: loop}
	w.root.next, w.root.prev = &w.root, &w.root
	return w
}

// PushBack parks a new node carrying param at the back of the waitlist
// and returns it. The caller must already hold w's Loop lock.
func (w *Waitlist[P]) PushBack(param P) *Node[P] {
	n := newNode(param)
	n.w = w
	last := w.root.prev
	last.next = n
	n.prev = last
	n.next = &w.root
	w.root.prev = n
	return n
}

// Remove unlinks n from w, if it is still linked. It is safe to call
// Remove on a node that has already been removed (by a resume or a prior
// cancellation); it is then a no-op. The caller must hold w's Loop lock.
func (w *Waitlist[P]) Remove(n *Node[P]) {
	if n.w != w {
		return
	}
	n.prev.next = n.next
	n.next.prev = n.prev
	n.next, n.prev = n, n
	n.w = nil
}

// Empty reports whether the waitlist has no parked nodes. The caller must
// hold w's Loop lock.
func (w *Waitlist[P]) Empty() bool {
	return w.root.next == &w.root
}

// First returns the oldest parked node, or nil. The caller must hold w's
// Loop lock.
func (w *Waitlist[P]) First() *Node[P] {
	if w.Empty() {
		return nil
	}
	return w.root.next
}

func (w *Waitlist[P]) resume(n *Node[P]) {
	w.Remove(n)
	select {
	case n.resume <- struct{}{}:
	default:
		// Already resumed (e.g. concurrent cancellation raced and lost);
		// nothing to do.
	}
}

// ResumeFirstIf wakes the earliest-parked node satisfying pred (or the
// earliest-parked node, if pred is nil), removing it from the waitlist first so that its
// continuation may safely re-enter the list. It reports whether a node
// was resumed. The caller must hold w's Loop lock.
func (w *Waitlist[P]) ResumeFirstIf(pred func(P) bool) bool {
	for n := w.root.next; n != &w.root; n = n.next {
		if pred == nil || pred(n.Param) {
			w.resume(n)
			return true
		}
	}
	return false
}

// ResumeFirst is ResumeFirstIf with no predicate.
func (w *Waitlist[P]) ResumeFirst() bool {
	return w.ResumeFirstIf(nil)
}

// ResumeAllIf wakes every currently-parked node satisfying pred, in
// enqueue order, and reports how many were resumed. Nodes parked by a
// resumed node's own continuation are not revisited in this pass. The
// caller must hold w's Loop lock.
func (w *Waitlist[P]) ResumeAllIf(pred func(P) bool) int {
	count := 0
	n := w.root.next
	for n != &w.root {
		next := n.next
		if pred == nil || pred(n.Param) {
			w.resume(n)
			count++
		}
		n = next
	}
	return count
}

// ResumeAll is ResumeAllIf with no predicate.
func (w *Waitlist[P]) ResumeAll() int {
	return w.ResumeAllIf(nil)
}

// Loop is the single-threaded cooperative scheduler's lock and clock. All
// Waitlists, timers, and awaitables created against a Loop serialize
// their state transitions behind lk, exactly like the single
// reader/writer coroutines described for the storage and link-layer
// drivers in §5 of the specification.
type Loop struct {
	lk  sync.Mutex
	now func() time.Time
}

// NewLoop creates a Loop using the real wall clock.
func NewLoop() *Loop {
	return NewLoopWithClock(time.Now)
}

// NewLoopWithClock creates a Loop using a caller-supplied monotonic clock,
// for deterministic tests.
func NewLoopWithClock(now func() time.Time) *Loop {
	return &Loop{now: now}
}

// Lock acquires the Loop's single lock. Any code that mutates state
// reachable from more than one goroutine (waitlists, device registries,
// replay counters) must hold it; it is the Go realization of "exactly one
// task executes at any instant".
func (l *Loop) Lock()   { l.lk.Lock() }
func (l *Loop) Unlock() { l.lk.Unlock() }

// Now returns the Loop's current time.
func (l *Loop) Now() time.Time { return l.now() }

// Awaitable is a handle owning a pending operation. Calling Await blocks
// the calling goroutine until the operation completes or cancel fires,
// whichever happens first; it may only be awaited once. Dropping an
// Awaitable without awaiting it (letting it be garbage collected) leaves
// the underlying node parked — callers that want deterministic
// cancellation must call Cancel explicitly, mirroring the RAII
// destructor semantics of the original design.
type Awaitable[P, T any] struct {
	list   *Waitlist[P]
	node   *Node[P]
	result func(P) T
}

// NewAwaitable parks param on list and returns an Awaitable that, once
// resumed, extracts its result from the node's (possibly mutated) Param
// using extract. The caller must hold list's Loop lock; it is released by
// the runtime machinery, not by NewAwaitable.
func NewAwaitable[P, T any](list *Waitlist[P], param P, extract func(P) T) Awaitable[P, T] {
	return Awaitable[P, T]{
		list:   list,
		node:   list.PushBack(param),
		result: extract,
	}
}

// Cancel removes the pending node from its waitlist, taking the owning
// Loop's lock itself. It is safe to call from any goroutine, and safe to
// call more than once or after the node has already been resumed.
func (a Awaitable[P, T]) Cancel() {
	a.list.loop.Lock()
	a.list.Remove(a.node)
	a.list.loop.Unlock()
}

// Await blocks until the operation is resumed or cancel fires. If cancel
// fires first, the node is removed from its waitlist and ok is false —
// unless a resume had already raced in and won, in which case it is
// honored instead of the cancellation.
func (a Awaitable[P, T]) Await(cancel <-chan struct{}) (result T, ok bool) {
	select {
	case <-a.node.resume:
		return a.result(a.node.Param), true
	case <-cancel:
		a.Cancel()
		select {
		case <-a.node.resume:
			return a.result(a.node.Param), true
		default:
			var zero T
			return zero, false
		}
	}
}

// Barrier is a Waitlist used purely as a rendezvous point: producers call
// Wait to park, and Resume{First,All} to wake parked producers — or
// consumers call it the other way around. The parameter type is the
// value exchanged at the rendezvous.
type Barrier[P any] struct {
	*Waitlist[P]
}

// NewBarrier creates a Barrier on loop.
func NewBarrier[P any](loop *Loop) Barrier[P] {
	return Barrier[P]{NewWaitlist[P](loop)}
}

// Wait parks the calling goroutine carrying param until a Resume* call
// removes it, or cancel fires. The Loop lock must be held on entry; Wait
// releases it while blocked and re-acquires it before returning.
func (b Barrier[P]) Wait(param P, cancel <-chan struct{}) (P, bool) {
	a := NewAwaitable(b.Waitlist, param, func(p P) P { return p })
	b.loop.Unlock()
	defer b.loop.Lock()
	return a.Await(cancel)
}

// Synchronizer extends Barrier with the ability for a producer to block
// until at least one consumer is parked, so that a publish never races a
// subscribe and is silently lost.
type Synchronizer[P any] struct {
	Barrier[P]
}

// NewSynchronizer creates a Synchronizer on loop.
func NewSynchronizer[P any](loop *Loop) Synchronizer[P] {
	return Synchronizer[P]{NewBarrier[P](loop)}
}

// WaitForConsumer blocks the calling goroutine (which must hold the Loop
// lock) until at least one task is parked on the synchronizer, or cancel
// fires. It does not itself park on the list.
func (s Synchronizer[P]) WaitForConsumer(cancel <-chan struct{}) bool {
	for s.Empty() {
		s.loop.Unlock()
		select {
		case <-time.After(time.Millisecond):
		case <-cancel:
			s.loop.Lock()
			return false
		}
		s.loop.Lock()
	}
	return true
}
