// Package reactive provides an observable value holder.
package reactive

import "sync"

// Cell holds a value of type T and notifies subscribers on every write.
//
// Subscribers receive the current value on subscription and then each written
// value synchronously, in write order. Get is safe from any goroutine; writes are
// serialized so that notifications never interleave. A subscriber must not write
// to or subscribe to the cell that is notifying it.
type Cell[T any] struct {
	mu      sync.RWMutex
	writeMu sync.Mutex
	value   T
	nextID  int
	subs    []subscriber[T] // registration order
}

type subscriber[T any] struct {
	id int
	fn func(T)
}

// NewCell returns a cell holding initial.
func NewCell[T any](initial T) *Cell[T] {
	return &Cell[T]{value: initial}
}

// Subscribers reports the number of live subscriptions.
func (c *Cell[T]) Subscribers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}

// Get returns the current value.
func (c *Cell[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Set stores v and notifies subscribers.
func (c *Cell[T]) Set(v T) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.store(v)
}

// Update replaces the value with fn(current) atomically with respect to other writers.
func (c *Cell[T]) Update(fn func(T) T) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.store(fn(c.Get()))
}

func (c *Cell[T]) store(v T) {
	c.mu.Lock()
	c.value = v
	subs := make([]subscriber[T], len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, s := range subs {
		s.fn(v)
	}
}

// Subscribe registers fn, calls it with the current value and returns a function
// that removes the subscription.
func (c *Cell[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	c.writeMu.Lock()
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs = append(c.subs, subscriber[T]{id: id, fn: fn})
	v := c.value
	c.mu.Unlock()
	fn(v)
	c.writeMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, s := range c.subs {
				if s.id == id {
					c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
					return
				}
			}
		})
	}
}
