// Package ring implements a fixed-capacity circular buffer for exactly one
// writer and one reader.
//
// A Buffer created with n slots holds at most n-1 items: one slot always
// stays empty so that equal read and write indexes unambiguously mean
// "empty". Storage is allocated once by New and never grows. There is no
// internal synchronization; the owner must guarantee that only one context
// writes and only one context reads.
package ring

// Buffer is a circular buffer of T with a fixed number of slots.
type Buffer[T any] struct {
	b []T
	w int
	r int
}

// New returns an empty Buffer with n slots. It panics if n < 2, since such a
// buffer could never hold an item.
func New[T any](n int) *Buffer[T] {
	if n < 2 {
		panic("ring: buffer needs at least two slots")
	}
	return &Buffer[T]{b: make([]T, n)}
}

// Clear discards all buffered items.
func (b *Buffer[T]) Clear() {
	b.r = 0
	b.w = 0
}

// Cap returns the number of items the buffer can hold.
func (b *Buffer[T]) Cap() int {
	return len(b.b) - 1
}

// writing side

// Writable reports whether at least one more item fits.
func (b *Buffer[T]) Writable() bool {
	return b.Free() > 0
}

// Free returns the number of items that can be put before the buffer is full.
func (b *Buffer[T]) Free() int {
	s := b.r - b.w
	if s <= 0 {
		s += len(b.b)
	}
	return s - 1
}

// Put appends v. It returns false, leaving the buffer unchanged, when full.
func (b *Buffer[T]) Put(v T) bool {
	next := b.inc(b.w, 1)
	if next == b.r {
		return false
	}
	b.b[b.w] = v
	b.w = next
	return true
}

// PutSlice appends as many items of p as fit and returns how many were
// written. A short count means the buffer filled up.
func (b *Buffer[T]) PutSlice(p []T) int {
	n := 0
	for n < len(p) {
		f := b.Free()
		if f == 0 {
			break
		}
		f = min(f, len(p)-n, len(b.b)-b.w)
		copy(b.b[b.w:b.w+f], p[n:n+f])
		b.w = b.inc(b.w, f)
		n += f
	}
	return n
}

// reading side

// Readable reports whether at least one item is buffered.
func (b *Buffer[T]) Readable() bool {
	return b.r != b.w
}

// Size returns the number of buffered items.
func (b *Buffer[T]) Size() int {
	s := b.w - b.r
	if s < 0 {
		s += len(b.b)
	}
	return s
}

// Get removes and returns the oldest item. ok is false when empty.
func (b *Buffer[T]) Get() (v T, ok bool) {
	if b.r == b.w {
		return v, false
	}
	v = b.b[b.r]
	b.r = b.inc(b.r, 1)
	return v, true
}

// GetSlice moves up to len(p) of the oldest items into p and returns how
// many were read.
func (b *Buffer[T]) GetSlice(p []T) int {
	n := 0
	for n < len(p) {
		s := b.Size()
		if s == 0 {
			break
		}
		s = min(s, len(p)-n, len(b.b)-b.r)
		copy(p[n:n+s], b.b[b.r:b.r+s])
		b.r = b.inc(b.r, s)
		n += s
	}
	return n
}

func (b *Buffer[T]) inc(i, n int) int {
	return (i + n) % len(b.b)
}
