package utils

// Container is the backing sequence of a BQueue. Implementations need not be
// safe for concurrent use; BQueue serializes every call under its own lock.
type Container[T any] interface {
	PushBack(v T)
	PopFront() T
	Back() T
	Len() int
}

// Reserver is implemented by containers that can preallocate room for n items.
// BQueue reserves its capacity at construction when the container supports it.
type Reserver interface {
	Reserve(n int)
}

const defaultSliceContainerSize = 8

// SliceContainer is a growable ring buffer.
type SliceContainer[T any] struct {
	buf  []T
	head int
	n    int
}

func NewSliceContainer[T any]() *SliceContainer[T] {
	return &SliceContainer[T]{}
}

func (s *SliceContainer[T]) Reserve(n int) {
	if n > len(s.buf) {
		s.grow(n)
	}
}

// Cap reports how many items fit before the ring has to grow.
func (s *SliceContainer[T]) Cap() int {
	return len(s.buf)
}

func (s *SliceContainer[T]) Len() int {
	return s.n
}

func (s *SliceContainer[T]) PushBack(v T) {
	if s.n == len(s.buf) {
		size := 2 * len(s.buf)
		if size == 0 {
			size = defaultSliceContainerSize
		}
		s.grow(size)
	}
	s.buf[(s.head+s.n)%len(s.buf)] = v
	s.n++
}

func (s *SliceContainer[T]) PopFront() T {
	var zero T
	if s.n == 0 {
		return zero
	}
	v := s.buf[s.head]
	s.buf[s.head] = zero // drop the reference so the value can be collected
	s.head = (s.head + 1) % len(s.buf)
	s.n--
	return v
}

func (s *SliceContainer[T]) Back() T {
	if s.n == 0 {
		var zero T
		return zero
	}
	return s.buf[(s.head+s.n-1)%len(s.buf)]
}

func (s *SliceContainer[T]) grow(size int) {
	buf := make([]T, size)
	for i := 0; i < s.n; i++ {
		buf[i] = s.buf[(s.head+i)%len(s.buf)]
	}
	s.buf = buf
	s.head = 0
}
