package stack

// Stack is a LIFO sequence used by the iterative tree traversals.
// Note that the stack is not thread safe.
type Stack[T any] interface {
	Len() int
	// Push appends v to the top of the stack.
	Push(v T)
	// Pop removes and returns the top element.
	// It returns the zero value and false if the stack is empty.
	Pop() (T, bool)
	// Peek returns the top element without removing it.
	Peek() (T, bool)
}
