//go:build debug

package channel

// New creates a new channel.
// In debug builds, this returns an unbuffered channel (ignores size) so every
// post to the event loop hands off directly to the loop goroutine.
func New[T any](size int) Channel[T] {
	return NewUnbuffered[T]()
}
