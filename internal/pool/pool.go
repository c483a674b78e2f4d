// Package pool provides a fixed-size pool of reusable HTTP transfer handles.
//
// Each Slot owns its own *http.Client and *http.Transport, so connection
// reuse happens inside a slot and the number of slots is the hard
// concurrency limit of the engine. A slot is retired and rebuilt after a
// configurable number of uses.
package pool

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// DefaultMaxUses is the number of transfers a slot serves before it is rebuilt.
const DefaultMaxUses = 100

var (
	// ErrSlotNotInUse is returned when releasing a slot that is not in flight
	// or that belongs to another pool.
	ErrSlotNotInUse = errors.New("pool: slot is not in use")

	// ErrInvalidCapacity is returned by New for a non-positive capacity.
	ErrInvalidCapacity = errors.New("pool: capacity must be positive")

	// ErrInvariant is returned by Check when free and in-flight slots do
	// not add up to the capacity.
	ErrInvariant = errors.New("pool: free + in-flight != capacity")
)

// Factory builds the client for a new or rebuilt slot.
type Factory func() *http.Client

// Slot is one reusable transfer handle. It is owned by at most one
// in-flight task at a time.
type Slot struct {
	id         int
	client     *http.Client
	uses       int
	generation int
	inUse      bool
	owner      *Pool
}

// ID returns the slot's position in the pool.
func (s *Slot) ID() int { return s.id }

// Client returns the HTTP client bound to this slot.
func (s *Slot) Client() *http.Client { return s.client }

// Uses returns how many transfers the current handle has served.
func (s *Slot) Uses() int { return s.uses }

// Generation counts how many times the slot's handle was rebuilt.
func (s *Slot) Generation() int { return s.generation }

// Pool is a fixed-capacity set of slots.
type Pool struct {
	mu        sync.Mutex
	slots     []*Slot
	free      []*Slot
	inFlight  int
	maxUses   int
	factory   Factory
	onRecycle func(*Slot)
}

// Option configures a Pool.
type Option func(*Pool)

// WithMaxUses sets the number of uses after which a slot is rebuilt.
// Values below 1 disable recycling.
func WithMaxUses(n int) Option {
	return func(p *Pool) {
		p.maxUses = n
	}
}

// WithRecycleHook registers a callback run after a slot is rebuilt.
func WithRecycleHook(fn func(*Slot)) Option {
	return func(p *Pool) {
		p.onRecycle = fn
	}
}

// New creates a pool of capacity slots built by factory.
func New(capacity int, factory Factory, opts ...Option) (*Pool, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	if factory == nil {
		factory = func() *http.Client { return &http.Client{} }
	}

	p := &Pool{
		slots:   make([]*Slot, capacity),
		free:    make([]*Slot, 0, capacity),
		maxUses: DefaultMaxUses,
		factory: factory,
	}
	for _, opt := range opts {
		opt(p)
	}

	// Fill free in reverse so Acquire hands out slot 0 first.
	for i := capacity - 1; i >= 0; i-- {
		s := &Slot{id: i, client: factory(), owner: p}
		p.slots[i] = s
		p.free = append(p.free, s)
	}
	return p, nil
}

// Acquire takes a free slot. It returns false when every slot is in flight.
func (p *Pool) Acquire() (*Slot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.free)
	if n == 0 {
		return nil, false
	}
	s := p.free[n-1]
	p.free = p.free[:n-1]
	s.inUse = true
	p.inFlight++
	return s, true
}

// Release returns a slot to the pool, rebuilding its handle when it has
// reached the use ceiling.
func (p *Pool) Release(s *Slot) error {
	if s == nil || s.owner != p {
		return ErrSlotNotInUse
	}

	p.mu.Lock()
	if !s.inUse {
		p.mu.Unlock()
		return fmt.Errorf("%w: slot %d", ErrSlotNotInUse, s.id)
	}
	s.inUse = false
	s.uses++

	recycled := false
	if p.maxUses > 0 && s.uses >= p.maxUses {
		closeClient(s.client)
		s.client = p.factory()
		s.uses = 0
		s.generation++
		recycled = true
	}

	p.free = append(p.free, s)
	p.inFlight--
	p.mu.Unlock()

	if recycled && p.onRecycle != nil {
		p.onRecycle(s)
	}
	return nil
}

// Capacity returns the total number of slots.
func (p *Pool) Capacity() int {
	return len(p.slots)
}

// Free returns the number of idle slots.
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// InFlight returns the number of slots bound to a task.
func (p *Pool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// Idle reports whether no slot is in flight.
func (p *Pool) Idle() bool {
	return p.InFlight() == 0
}

// Check verifies that free and in-flight slots add up to the capacity.
func (p *Pool) Check() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free)+p.inFlight != len(p.slots) {
		return fmt.Errorf("%w: free=%d in-flight=%d capacity=%d", ErrInvariant, len(p.free), p.inFlight, len(p.slots))
	}
	return nil
}

// Close drops idle connections of every slot.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.slots {
		closeClient(s.client)
	}
}

func closeClient(c *http.Client) {
	if c != nil {
		c.CloseIdleConnections()
	}
}
