// Package lifecycle holds process-wide, lazily built model instances.
package lifecycle

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// State of a Singleton's most recent construction attempt.
type State int32

const (
	Unloaded State = iota
	Loading
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Loadable reports whether an instance holds a usable model.
type Loadable interface {
	Loaded() bool
}

// Singleton builds its instance at most once, on the first Get.
//
// A failed build caches nothing: the error goes to that caller, and a later
// Get runs the constructor again.
type Singleton[T Loadable] struct {
	name  string
	build func() (T, error)

	mu    sync.Mutex
	value atomic.Pointer[T]
	state atomic.Int32
}

func New[T Loadable](name string, build func() (T, error)) *Singleton[T] {
	return &Singleton[T]{name: name, build: build}
}

func (s *Singleton[T]) Name() string {
	return s.name
}

// Get returns the shared instance, constructing it if needed.
func (s *Singleton[T]) Get() (T, error) {
	if v := s.value.Load(); v != nil {
		return *v, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if v := s.value.Load(); v != nil {
		return *v, nil
	}

	s.state.Store(int32(Loading))
	v, err := s.construct()
	if err != nil {
		s.state.Store(int32(Failed))
		var zero T
		return zero, err
	}

	s.value.Store(&v)
	s.state.Store(int32(Ready))
	return v, nil
}

func (s *Singleton[T]) construct() (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic during construction: %v", s.name, r)
		}
	}()
	return s.build()
}

// IsLoaded never triggers construction.
func (s *Singleton[T]) IsLoaded() bool {
	v := s.value.Load()
	return v != nil && (*v).Loaded()
}

func (s *Singleton[T]) State() State {
	return State(s.state.Load())
}

// Override installs v as the ready instance. Meant for tests and tooling.
func (s *Singleton[T]) Override(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.value.Store(&v)
	s.state.Store(int32(Ready))
}

// Close releases the instance if it is an io.Closer and resets to Unloaded.
func (s *Singleton[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.value.Swap(nil)
	s.state.Store(int32(Unloaded))
	if v == nil {
		return nil
	}
	if c, ok := any(*v).(io.Closer); ok {
		return c.Close()
	}
	return nil
}
