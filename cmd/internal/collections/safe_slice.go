package collections

import "sync"

// SafeSlice gathers values appended from many goroutines.
type SafeSlice[T any] struct {
	sync.Mutex
	slice []T
}

func (ss *SafeSlice[T]) GetCopy() []T {
	ss.Lock()
	defer ss.Unlock()
	cpy := make([]T, len(ss.slice))
	copy(cpy, ss.slice)
	return cpy
}

func (ss *SafeSlice[T]) Append(val T) {
	ss.Lock()
	defer ss.Unlock()
	ss.slice = append(ss.slice, val)
}

func (ss *SafeSlice[T]) Len() int {
	ss.Lock()
	defer ss.Unlock()
	return len(ss.slice)
}
