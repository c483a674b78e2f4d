package pool

import (
	"errors"
	"net/http"
	"sync"
	"testing"
)

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := New(0, nil); !errors.Is(err, ErrInvalidCapacity) {
		t.Errorf("expected ErrInvalidCapacity, got %v", err)
	}

	p, err := New(3, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Capacity() != 3 || p.Free() != 3 || p.InFlight() != 0 {
		t.Errorf("unexpected initial state: cap=%d free=%d inflight=%d", p.Capacity(), p.Free(), p.InFlight())
	}
}

func TestPool_AcquireRelease(t *testing.T) {
	t.Parallel()

	p, err := New(2, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a, ok := p.Acquire()
	if !ok {
		t.Fatal("expected a slot")
	}
	if a.ID() != 0 {
		t.Errorf("expected slot 0 first, got %d", a.ID())
	}
	b, ok := p.Acquire()
	if !ok {
		t.Fatal("expected a second slot")
	}
	if _, ok := p.Acquire(); ok {
		t.Error("expected pool exhaustion")
	}
	if err := p.Check(); err != nil {
		t.Errorf("invariant broken: %v", err)
	}

	if err := p.Release(a); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if err := p.Release(a); !errors.Is(err, ErrSlotNotInUse) {
		t.Errorf("expected ErrSlotNotInUse on double release, got %v", err)
	}
	if err := p.Release(b); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if !p.Idle() || p.Free() != 2 {
		t.Errorf("expected idle pool, free=%d", p.Free())
	}
}

func TestPool_ForeignSlot(t *testing.T) {
	t.Parallel()

	p1, _ := New(1, nil) //nolint:errcheck // valid capacity
	p2, _ := New(1, nil) //nolint:errcheck // valid capacity

	s, _ := p1.Acquire()
	if err := p2.Release(s); !errors.Is(err, ErrSlotNotInUse) {
		t.Errorf("expected ErrSlotNotInUse for foreign slot, got %v", err)
	}
	if err := p2.Release(nil); !errors.Is(err, ErrSlotNotInUse) {
		t.Errorf("expected ErrSlotNotInUse for nil slot, got %v", err)
	}
}

func TestPool_Recycling(t *testing.T) {
	t.Parallel()

	built := 0
	recycled := 0
	factory := func() *http.Client {
		built++
		return &http.Client{}
	}

	p, err := New(1, factory, WithMaxUses(3), WithRecycleHook(func(*Slot) { recycled++ }))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var first *http.Client
	for i := 0; i < 3; i++ {
		s, _ := p.Acquire()
		if i == 0 {
			first = s.Client()
		}
		if err := p.Release(s); err != nil {
			t.Fatalf("release failed: %v", err)
		}
	}

	s, _ := p.Acquire()
	if s.Client() == first {
		t.Error("expected a fresh client after reaching max uses")
	}
	if s.Generation() != 1 || s.Uses() != 0 {
		t.Errorf("expected generation 1 and 0 uses, got %d/%d", s.Generation(), s.Uses())
	}
	if built != 2 || recycled != 1 {
		t.Errorf("expected 2 builds and 1 recycle, got %d/%d", built, recycled)
	}
}

func TestPool_InvariantUnderConcurrency(t *testing.T) {
	t.Parallel()

	p, err := New(4, nil, WithMaxUses(5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s, ok := p.Acquire()
				if !ok {
					continue
				}
				if err := p.Check(); err != nil {
					t.Errorf("invariant broken: %v", err)
				}
				if err := p.Release(s); err != nil {
					t.Errorf("release failed: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	if err := p.Check(); err != nil {
		t.Errorf("invariant broken: %v", err)
	}
	if p.Free() != p.Capacity() {
		t.Errorf("expected all slots free, got %d", p.Free())
	}
}
