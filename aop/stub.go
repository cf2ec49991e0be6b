package aop

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// StubRegistry maps interfaces to constructors of typed stubs forwarding
// their methods to a Proxy.
type StubRegistry struct {
	mu    sync.RWMutex
	stubs map[reflect.Type]func(*Proxy) any
}

// NewStubRegistry returns an empty registry.
func NewStubRegistry() *StubRegistry {
	return &StubRegistry{stubs: make(map[reflect.Type]func(*Proxy) any)}
}

// DefaultStubs is the registry used by proxy factories that do not set
// their own.
var DefaultStubs = NewStubRegistry()

// RegisterStub registers a stub constructor for interface I in
// DefaultStubs.
//
// Example:
//
//	type greeterStub struct{ p *aop.Proxy }
//
//	func (s greeterStub) Greet(ctx context.Context, name string) (string, error) {
//		return aop.Call[string](ctx, s.p, "Greet", ctx, name)
//	}
//	func (s greeterStub) AopProxy() *aop.Proxy { return s.p }
//
//	aop.RegisterStub(func(p *aop.Proxy) Greeter { return greeterStub{p} })
func RegisterStub[I any](fn func(p *Proxy) I) {
	RegisterStubIn(DefaultStubs, fn)
}

// RegisterStubIn registers a stub constructor for interface I in r. It
// panics if I is not an interface type.
func RegisterStubIn[I any](r *StubRegistry, fn func(p *Proxy) I) {
	t := reflect.TypeOf((*I)(nil)).Elem()
	if t.Kind() != reflect.Interface {
		panic(fmt.Sprintf("aop: stub type %s is not an interface", t))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stubs[t] = func(p *Proxy) any { return fn(p) }
}

// Has reports whether a stub is registered for iface.
func (r *StubRegistry) Has(iface reflect.Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.stubs[iface]
	return ok
}

// InterfacesOf returns the registered interfaces t implements, sorted by
// name.
func (r *StubRegistry) InterfacesOf(t reflect.Type) []reflect.Type {
	if t == nil {
		return nil
	}
	r.mu.RLock()
	var out []reflect.Type
	for iface := range r.stubs {
		if t.Implements(iface) {
			out = append(out, iface)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// objectFor returns the stub of the first interface with a registered
// constructor, or p.
func (r *StubRegistry) objectFor(ifaces []reflect.Type, p *Proxy) any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, iface := range ifaces {
		if fn, ok := r.stubs[iface]; ok {
			return fn(p)
		}
	}
	return p
}

// Call invokes method through p and returns its first result as R.
func Call[R any](ctx context.Context, p *Proxy, method string, args ...any) (R, error) {
	var zero R
	results, err := p.Invoke(ctx, method, args...)
	if err != nil {
		return zero, err
	}
	if len(results) == 0 || results[0] == nil {
		return zero, nil
	}
	r, ok := results[0].(R)
	if !ok {
		return zero, AopInvocationError{
			Message: fmt.Sprintf("result of %s is %T, not %T", method, results[0], zero),
		}
	}
	return r, nil
}

// Exec invokes a method whose only result is an error.
func Exec(ctx context.Context, p *Proxy, method string, args ...any) error {
	_, err := p.Invoke(ctx, method, args...)
	return err
}

// Must invokes a method without an error result and returns its first
// result. It panics with the error of a failed invocation.
func Must[R any](ctx context.Context, p *Proxy, method string, args ...any) R {
	r, err := Call[R](ctx, p, method, args...)
	if err != nil {
		panic(err)
	}
	return r
}
