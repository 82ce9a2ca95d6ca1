//go:build !debug

package channel

// New creates a new channel with the given buffer size.
// In production builds, this returns a buffered channel; the event loop
// relies on the buffer to absorb bursts of network completions.
func New[T any](size int) Channel[T] {
	return NewBuffered[T](size)
}
