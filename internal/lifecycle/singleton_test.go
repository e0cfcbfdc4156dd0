package lifecycle

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

type fakeModel struct {
	id     int64
	model  *struct{}
	closed atomic.Bool
}

func (f *fakeModel) Loaded() bool { return f != nil && f.model != nil }

func (f *fakeModel) Close() error {
	f.closed.Store(true)
	return nil
}

func TestGetBuildsOnceUnderConcurrency(t *testing.T) {
	var builds atomic.Int64
	s := New("fake", func() (*fakeModel, error) {
		n := builds.Add(1)
		return &fakeModel{id: n, model: &struct{}{}}, nil
	})

	if s.IsLoaded() {
		t.Fatal("IsLoaded before Get")
	}
	if s.State() != Unloaded {
		t.Fatalf("state = %v, want unloaded", s.State())
	}

	const callers = 64
	var wg sync.WaitGroup
	results := make([]*fakeModel, callers)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			v, err := s.Get()
			if err != nil {
				t.Errorf("Get: %v", err)
				return
			}
			results[i] = v
		}(i)
	}
	close(start)
	wg.Wait()

	if got := builds.Load(); got != 1 {
		t.Fatalf("constructor ran %d times, want 1", got)
	}
	for i, v := range results {
		if v != results[0] {
			t.Fatalf("caller %d got a different instance", i)
		}
	}
	if !s.IsLoaded() || s.State() != Ready {
		t.Errorf("after Get: loaded=%v state=%v", s.IsLoaded(), s.State())
	}
}

func TestFailedBuildIsNotCached(t *testing.T) {
	boom := errors.New("weights missing")
	var attempts int
	s := New("fake", func() (*fakeModel, error) {
		attempts++
		if attempts == 1 {
			return nil, boom
		}
		return &fakeModel{model: &struct{}{}}, nil
	})

	if _, err := s.Get(); !errors.Is(err, boom) {
		t.Fatalf("first Get error = %v, want %v", err, boom)
	}
	if s.IsLoaded() {
		t.Fatal("failed build must not be visible")
	}
	if s.State() != Failed {
		t.Fatalf("state = %v, want failed", s.State())
	}

	if _, err := s.Get(); err != nil {
		t.Fatalf("retry Get: %v", err)
	}
	if attempts != 2 || !s.IsLoaded() {
		t.Errorf("attempts=%d loaded=%v", attempts, s.IsLoaded())
	}
}

func TestPanicBecomesError(t *testing.T) {
	s := New("fake", func() (*fakeModel, error) {
		panic("corrupt checkpoint")
	})
	if _, err := s.Get(); err == nil {
		t.Fatal("expected error from panicking constructor")
	}
	if s.IsLoaded() || s.State() != Failed {
		t.Errorf("loaded=%v state=%v", s.IsLoaded(), s.State())
	}
}

func TestIsLoadedRequiresModel(t *testing.T) {
	s := New("fake", func() (*fakeModel, error) {
		return &fakeModel{}, nil
	})
	if _, err := s.Get(); err != nil {
		t.Fatal(err)
	}
	if s.IsLoaded() {
		t.Error("instance without a model reported as loaded")
	}
}

func TestOverrideAndClose(t *testing.T) {
	s := New("fake", func() (*fakeModel, error) {
		t.Fatal("constructor must not run after Override")
		return nil, nil
	})

	injected := &fakeModel{model: &struct{}{}}
	s.Override(injected)

	v, err := s.Get()
	if err != nil || v != injected {
		t.Fatalf("Get after Override = %v, %v", v, err)
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if !injected.closed.Load() {
		t.Error("Close did not close the instance")
	}
	if s.IsLoaded() || s.State() != Unloaded {
		t.Errorf("after Close: loaded=%v state=%v", s.IsLoaded(), s.State())
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
