// internal/channel/unbuffered.go
package channel

import "context"

// Unbuffered is an unbuffered channel implementation
type Unbuffered[T any] struct {
	ch chan T
}

// NewUnbuffered creates a new unbuffered channel
func NewUnbuffered[T any]() *Unbuffered[T] {
	return &Unbuffered[T]{ch: make(chan T)}
}

// Send sends a value to the channel (blocks until received)
func (u *Unbuffered[T]) Send(v T) {
	u.ch <- v
}

// SendContext sends a value unless ctx ends before a receiver is ready
func (u *Unbuffered[T]) SendContext(ctx context.Context, v T) error {
	return sendContext(ctx, u.ch, v)
}

// TrySend sends a value only if a receiver is waiting
func (u *Unbuffered[T]) TrySend(v T) bool {
	return trySend(u.ch, v)
}

// Receive returns the receive-only channel
func (u *Unbuffered[T]) Receive() <-chan T {
	return u.ch
}

// Len always returns 0 for unbuffered channels
func (u *Unbuffered[T]) Len() int {
	return 0
}

// Close closes the channel
func (u *Unbuffered[T]) Close() {
	close(u.ch)
}
