// Package notify provides the change broadcast used to tell observers that the
// cart changed. Signals carry no payload; observers read the state they need.
package notify

import "sync"

// Notifier delivers a signal to every subscribed observer.
// Observers run synchronously on the notifying goroutine, in subscription order.
// The zero value is ready to use.
type Notifier struct {
	mu        sync.Mutex
	nextID    uint64
	observers []observer
}

type observer struct {
	id uint64
	fn func()
}

// Subscription is the handle returned by Subscribe.
// Call Unsubscribe on teardown; leaking it keeps the observer alive.
type Subscription struct {
	n    *Notifier
	id   uint64
	once sync.Once
}

// Subscribe registers fn and returns its handle.
func (n *Notifier) Subscribe(fn func()) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	n.observers = append(n.observers, observer{id: n.nextID, fn: fn})
	return &Subscription{n: n, id: n.nextID}
}

// Unsubscribe removes the observer. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.n == nil {
		return
	}
	s.once.Do(func() {
		s.n.remove(s.id)
	})
}

func (n *Notifier) remove(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, o := range n.observers {
		if o.id == id {
			// copy-on-write: an in-flight Notify may still range over the old slice
			next := make([]observer, 0, len(n.observers)-1)
			next = append(next, n.observers[:i]...)
			next = append(next, n.observers[i+1:]...)
			n.observers = next
			return
		}
	}
}

// Notify signals every observer registered at the time of the call.
// Must not be called while holding a lock an observer may take.
func (n *Notifier) Notify() {
	n.mu.Lock()
	observers := n.observers
	n.mu.Unlock()

	for _, o := range observers {
		o.fn()
	}
}

// Len returns the number of live subscriptions.
func (n *Notifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.observers)
}

// Channel adapts a subscription to a channel for select-based consumers
// (e.g. streaming responses). Signals are coalesced: if the consumer has not
// drained the previous signal, the new one is folded into it.
// The returned stop func unsubscribes; the channel is never closed.
func (n *Notifier) Channel() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	sub := n.Subscribe(func() {
		select {
		case ch <- struct{}{}:
		default:
		}
	})
	return ch, sub.Unsubscribe
}
