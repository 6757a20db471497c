package stack

const defaultStackCapacity = 16

var _ Stack[int] = (*arrayStack[int])(nil)

type arrayStack[T any] struct {
	arr []T
}

func (s *arrayStack[T]) Len() int {
	if s == nil {
		return 0
	}
	return len(s.arr)
}

func (s *arrayStack[T]) Push(v T) {
	s.arr = append(s.arr, v)
}

func (s *arrayStack[T]) Pop() (v T, ok bool) {
	n := len(s.arr)
	if n <= 0 {
		return v, false
	}
	v = s.arr[n-1]
	s.arr[n-1] = *new(T) // release the reference
	s.arr = s.arr[:n-1]
	return v, true
}

func (s *arrayStack[T]) Peek() (v T, ok bool) {
	n := len(s.arr)
	if n <= 0 {
		return v, false
	}
	return s.arr[n-1], true
}

type StackOption[T any] func(*arrayStack[T])

// WithStackCapacity presets the backing array, e.g. to the expected
// traversal depth. The stack still grows beyond it.
func WithStackCapacity[T any](capacity int) StackOption[T] {
	return func(s *arrayStack[T]) {
		if capacity <= 0 {
			capacity = defaultStackCapacity
		}
		s.arr = make([]T, 0, capacity)
	}
}

func NewStack[T any](opts ...StackOption[T]) Stack[T] {
	s := &arrayStack[T]{}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	if s.arr == nil {
		s.arr = make([]T, 0, defaultStackCapacity)
	}
	return s
}
