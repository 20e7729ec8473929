package supervisor

import "sync"

// Observable holds a value with a single writer and any number of readers.
// Subscribers see the latest value only; a slow subscriber misses
// intermediate updates but never blocks Set.
type Observable[T comparable] struct {
	mu    sync.Mutex
	value T
	subs  map[int]chan T
	next  int
}

// NewObservable returns an Observable holding initial.
func NewObservable[T comparable](initial T) *Observable[T] {
	return &Observable[T]{
		value: initial,
		subs:  make(map[int]chan T),
	}
}

// Get returns the current value.
func (o *Observable[T]) Get() T {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.value
}

// Set stores v and notifies subscribers. It reports whether the value
// changed; setting the current value again notifies nobody.
func (o *Observable[T]) Set(v T) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.value == v {
		return false
	}
	o.value = v
	for _, ch := range o.subs {
		offer(ch, v)
	}
	return true
}

// Subscribe returns a channel that immediately yields the current value and
// then each later value. Calling cancel closes the channel.
func (o *Observable[T]) Subscribe() (<-chan T, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.next
	o.next++
	ch := make(chan T, 1)
	ch <- o.value
	o.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			delete(o.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// offer replaces any unread value in ch with v.
func offer[T any](ch chan T, v T) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
