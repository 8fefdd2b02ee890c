package engine

// Future delivers the result of a request once the engine has applied it.
// A caller may abandon a future at any time, the request itself is still
// applied.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{
		done: make(chan struct{}),
	}
}

func (f *Future[T]) resolve(value T, err error) {
	f.value = value
	f.err = err
	close(f.done)
}

// Done returns the channel closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available and returns it.
func (f *Future[T]) Wait() (T, error) {
	<-f.done
	return f.value, f.err
}
