// Package eventbus provides a bounded, overwrite-oldest channel used to fan
// arbitration decision events out to observers without ever blocking the
// engine worker.
package eventbus

// RingChannel wraps a buffered channel so producers never block: when the
// buffer is full the oldest element is dropped to make room. Observers that
// fall behind lose history, never stall the producer.
type RingChannel[T any] struct {
	ch chan T
}

// NewRingChannel creates a RingChannel with the given capacity.
func NewRingChannel[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("eventbus: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel. Consumers can range over it
// until the channel is closed.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts v, dropping the oldest buffered element when full. It reports
// whether an element was dropped.
func (rc *RingChannel[T]) Send(v T) bool {
	dropped := false
	select {
	case rc.ch <- v:
	default:
		select {
		case <-rc.ch: // drop oldest
			dropped = true
		default:
		}
		rc.ch <- v
	}
	return dropped
}

// TrySend attempts a non-blocking insert and reports success.
func (rc *RingChannel[T]) TrySend(v T) bool {
	select {
	case rc.ch <- v:
		return true
	default:
		return false
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the channel capacity.
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Close closes the underlying channel. After this, Send panics.
func (rc *RingChannel[T]) Close() {
	close(rc.ch)
}
