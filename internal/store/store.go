// Package store provides small observable value containers.
package store

import "sync"

// Readable is a value that can be read and observed.
type Readable[T any] interface {
	Get() T
	// Subscribe calls fn with the current value and on every change until the
	// returned function is called.
	Subscribe(fn func(T)) (unsubscribe func())
}

// Option configures a Store.
type Option[T any] func(*Store[T])

// WithClone makes the store copy values on the way in and out so callers
// never share memory with the held value.
func WithClone[T any](clone func(T) T) Option[T] {
	return func(s *Store[T]) {
		s.clone = clone
	}
}

// Store is a mutable observable value. It is safe for concurrent use.
//
// Writes are delivered to subscribers one at a time, in the order they were
// applied. Subscribers must not write to the store they observe.
type Store[T any] struct {
	// notifyMu is held from a write until its listeners return.
	notifyMu sync.Mutex
	mu       sync.RWMutex
	value    T
	subs     map[uint64]func(T)
	next     uint64
	clone    func(T) T
}

// New constructs a Store holding initial.
func New[T any](initial T, opts ...Option[T]) *Store[T] {
	s := &Store[T]{subs: make(map[uint64]func(T))}
	for _, opt := range opts {
		opt(s)
	}
	s.value = s.copy(initial)
	return s
}

// Get returns the current value.
func (s *Store[T]) Get() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copy(s.value)
}

// Set replaces the value and notifies subscribers.
func (s *Store[T]) Set(value T) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.mu.Lock()
	s.value = s.copy(value)
	listeners := s.listeners()
	current := s.value
	s.mu.Unlock()
	s.notify(listeners, current)
}

// Update replaces the value with fn applied to the current one.
func (s *Store[T]) Update(fn func(T) T) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.mu.Lock()
	s.value = s.copy(fn(s.copy(s.value)))
	listeners := s.listeners()
	current := s.value
	s.mu.Unlock()
	s.notify(listeners, current)
}

// Subscribe implements Readable.
func (s *Store[T]) Subscribe(fn func(T)) func() {
	if fn == nil {
		return func() {}
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = fn
	current := s.value
	s.mu.Unlock()

	fn(s.copy(current))

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store[T]) listeners() []func(T) {
	out := make([]func(T), 0, len(s.subs))
	for _, fn := range s.subs {
		out = append(out, fn)
	}
	return out
}

func (s *Store[T]) notify(listeners []func(T), value T) {
	for _, fn := range listeners {
		fn(s.copy(value))
	}
}

func (s *Store[T]) copy(v T) T {
	if s.clone == nil {
		return v
	}
	return s.clone(v)
}

type readOnly[T any] struct {
	src Readable[T]
}

func (r readOnly[T]) Get() T { return r.src.Get() }

func (r readOnly[T]) Subscribe(fn func(T)) func() { return r.src.Subscribe(fn) }

// ReadOnly hides the write methods of src.
func ReadOnly[T any](src Readable[T]) Readable[T] {
	return readOnly[T]{src: src}
}

// Derived is a read-only value computed from another Readable.
type Derived[T any] struct {
	inner *Store[T]
	stop  func()
}

// Derive keeps fn(src) up to date as src changes.
func Derive[S, T any](src Readable[S], fn func(S) T) *Derived[T] {
	var zero T
	d := &Derived[T]{inner: New(zero)}
	d.stop = src.Subscribe(func(v S) {
		d.inner.Set(fn(v))
	})
	return d
}

// Get implements Readable.
func (d *Derived[T]) Get() T { return d.inner.Get() }

// Subscribe implements Readable.
func (d *Derived[T]) Subscribe(fn func(T)) func() { return d.inner.Subscribe(fn) }

// Close detaches the value from its source. It keeps its last value.
func (d *Derived[T]) Close() {
	if d.stop != nil {
		d.stop()
	}
}
