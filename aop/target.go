package aop

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"sync"

	"go.uber.org/multierr"

	"github.com/bzb8/beans/internal/reflection"
)

// TargetSource supplies the object a proxy invocation runs against.
type TargetSource interface {
	// TargetType returns the type of the targets handed out, or nil.
	TargetType() reflect.Type

	// IsStatic reports whether Target always returns the same object, so
	// Release need not be called.
	IsStatic() bool

	// Target returns the target for one invocation.
	Target(ctx context.Context) (any, error)

	// Release returns a target obtained from Target.
	Release(target any) error
}

type emptyTargetSource struct {
	typ reflect.Type
}

// EmptyTargetSource returns a target source without a target, for proxies
// whose interceptors handle every call. typ may be nil.
func EmptyTargetSource(typ reflect.Type) TargetSource {
	return emptyTargetSource{typ: typ}
}

func (s emptyTargetSource) TargetType() reflect.Type            { return s.typ }
func (s emptyTargetSource) IsStatic() bool                      { return true }
func (s emptyTargetSource) Target(context.Context) (any, error) { return nil, nil }
func (s emptyTargetSource) Release(any) error                   { return nil }
func (s emptyTargetSource) String() string                      { return fmt.Sprintf("EmptyTargetSource(%v)", s.typ) }

// SingletonTargetSource always returns the same target.
type SingletonTargetSource struct {
	target any
}

// NewSingletonTargetSource returns a static target source for target.
func NewSingletonTargetSource(target any) *SingletonTargetSource {
	return &SingletonTargetSource{target: target}
}

func (s *SingletonTargetSource) TargetType() reflect.Type            { return reflect.TypeOf(s.target) }
func (s *SingletonTargetSource) IsStatic() bool                      { return true }
func (s *SingletonTargetSource) Target(context.Context) (any, error) { return s.target, nil }
func (s *SingletonTargetSource) Release(any) error                   { return nil }

// Equal reports whether other holds the same target.
func (s *SingletonTargetSource) Equal(other any) bool {
	o, ok := other.(*SingletonTargetSource)
	return ok && reflection.SameInstance(o.target, s.target)
}

func (s *SingletonTargetSource) String() string {
	return fmt.Sprintf("SingletonTargetSource(%T)", s.target)
}

// PrototypeTargetSource creates a new target for every invocation.
type PrototypeTargetSource struct {
	typ    reflect.Type
	create func(ctx context.Context) (any, error)
}

// NewPrototypeTargetSource returns a target source calling create for each
// invocation.
func NewPrototypeTargetSource(typ reflect.Type, create func(ctx context.Context) (any, error)) *PrototypeTargetSource {
	return &PrototypeTargetSource{typ: typ, create: create}
}

func (s *PrototypeTargetSource) TargetType() reflect.Type { return s.typ }
func (s *PrototypeTargetSource) IsStatic() bool           { return false }

func (s *PrototypeTargetSource) Target(ctx context.Context) (any, error) {
	return s.create(ctx)
}

// Release closes targets implementing io.Closer.
func (s *PrototypeTargetSource) Release(target any) error {
	if c, ok := target.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// PoolingTargetSource hands out targets from a bounded pool.
type PoolingTargetSource struct {
	typ    reflect.Type
	create func(ctx context.Context) (any, error)
	slots  chan struct{}

	mu     sync.Mutex
	idle   []any
	active int
	closed bool
}

// NewPoolingTargetSource returns a pool creating targets on demand. At most
// max targets are in use at once; a max below one leaves it unbounded.
func NewPoolingTargetSource(typ reflect.Type, max int, create func(ctx context.Context) (any, error)) *PoolingTargetSource {
	s := &PoolingTargetSource{typ: typ, create: create}
	if max > 0 {
		s.slots = make(chan struct{}, max)
	}
	return s
}

func (s *PoolingTargetSource) TargetType() reflect.Type { return s.typ }
func (s *PoolingTargetSource) IsStatic() bool           { return false }

// Target borrows a target, waiting for a free slot until ctx is done.
func (s *PoolingTargetSource) Target(ctx context.Context) (any, error) {
	if s.slots != nil {
		select {
		case s.slots <- struct{}{}:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrPoolExhausted, ctx.Err())
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.freeSlot()
		return nil, AopConfigError{Message: "target pool is closed"}
	}
	if n := len(s.idle); n > 0 {
		target := s.idle[n-1]
		s.idle = s.idle[:n-1]
		s.active++
		s.mu.Unlock()
		return target, nil
	}
	s.active++
	s.mu.Unlock()

	target, err := s.create(ctx)
	if err != nil {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
		s.freeSlot()
		return nil, err
	}
	return target, nil
}

// Release returns target to the pool.
func (s *PoolingTargetSource) Release(target any) error {
	s.mu.Lock()
	s.active--
	closed := s.closed
	if !closed {
		s.idle = append(s.idle, target)
	}
	s.mu.Unlock()
	s.freeSlot()

	if closed {
		if c, ok := target.(io.Closer); ok {
			return c.Close()
		}
	}
	return nil
}

func (s *PoolingTargetSource) freeSlot() {
	if s.slots != nil {
		<-s.slots
	}
}

// ActiveCount returns the number of borrowed targets.
func (s *PoolingTargetSource) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// IdleCount returns the number of pooled targets.
func (s *PoolingTargetSource) IdleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.idle)
}

// Close closes the idle targets implementing io.Closer. Targets still
// borrowed are closed when released.
func (s *PoolingTargetSource) Close() error {
	s.mu.Lock()
	idle := s.idle
	s.idle = nil
	s.closed = true
	s.mu.Unlock()

	var err error
	for _, target := range idle {
		if c, ok := target.(io.Closer); ok {
			err = multierr.Append(err, c.Close())
		}
	}
	return err
}
