// Package ringbuffer provides a fixed-capacity FIFO used to decouple a
// producer and a consumer running at different cadences.
//
// RingBuffer does no locking of its own. When the producer and the consumer
// live on different goroutines, the caller wraps each write or read sequence
// in a mutex it owns, and keeps that mutex away from anything that can block.
package ringbuffer

// RingBuffer is a fixed-capacity circular FIFO.
//
// Writes to a full buffer are dropped: the elements already buffered are kept
// and the new one is discarded. Reads from an empty buffer return the zero
// value of T (silence, for audio samples) and leave the buffer untouched.
type RingBuffer[T any] struct {
	buf   []T
	head  int // index of the oldest element
	count int
}

// New creates a buffer holding at most capacity elements. A capacity of zero
// or less produces a buffer that drops every write.
func New[T any](capacity int) *RingBuffer[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &RingBuffer[T]{buf: make([]T, capacity)}
}

// Write appends v and reports whether it was accepted. A full buffer drops v.
func (b *RingBuffer[T]) Write(v T) bool {
	if b.count == len(b.buf) {
		return false
	}
	tail := b.head + b.count
	if tail >= len(b.buf) {
		tail -= len(b.buf)
	}
	b.buf[tail] = v
	b.count++
	return true
}

// WriteSlice appends the elements of vs in order and returns how many were
// accepted. Everything past the first dropped element is dropped as well.
func (b *RingBuffer[T]) WriteSlice(vs []T) int {
	n := 0
	for _, v := range vs {
		if !b.Write(v) {
			break
		}
		n++
	}
	return n
}

// Read removes and returns the oldest element, or the zero value when empty.
func (b *RingBuffer[T]) Read() T {
	var zero T
	if b.count == 0 {
		return zero
	}
	v := b.buf[b.head]
	b.buf[b.head] = zero
	b.head++
	if b.head == len(b.buf) {
		b.head = 0
	}
	b.count--
	return v
}

// ReadInto fills dst with the oldest elements in order and pads the rest of
// dst with the zero value. It returns the number of real elements copied and
// never allocates.
func (b *RingBuffer[T]) ReadInto(dst []T) int {
	var zero T
	n := 0
	for i := range dst {
		if b.count == 0 {
			dst[i] = zero
			continue
		}
		dst[i] = b.Read()
		n++
	}
	return n
}

// Clear empties the buffer.
func (b *RingBuffer[T]) Clear() {
	clear(b.buf)
	b.head = 0
	b.count = 0
}

// IsEmpty reports whether the buffer holds no elements.
func (b *RingBuffer[T]) IsEmpty() bool {
	return b.count == 0
}

// Len returns the number of buffered elements.
func (b *RingBuffer[T]) Len() int {
	return b.count
}

// Cap returns the fixed capacity.
func (b *RingBuffer[T]) Cap() int {
	return len(b.buf)
}
