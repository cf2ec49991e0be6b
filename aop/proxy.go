package aop

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/bzb8/beans/internal/reflection"
)

// Kind tells how a proxy exposes its target.
type Kind int

const (
	// InterfaceProxy exposes the methods of the proxied interfaces.
	InterfaceProxy Kind = iota

	// ClassProxy exposes every exported method of the target type.
	ClassProxy
)

func (k Kind) String() string {
	switch k {
	case InterfaceProxy:
		return "interface"
	case ClassProxy:
		return "class"
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// RawTargetAccess marks targets whose methods may hand out the raw target.
// Results identical to such a target are not replaced by the proxy.
type RawTargetAccess interface {
	RawTargetAccess()
}

// Sealed is implemented by targets whose named methods a class proxy must
// not advise. Calls to them go straight to the target.
type Sealed interface {
	SealedMethods() []string
}

type currentProxyKey struct{}

// CurrentProxy returns the proxy of the invocation ctx belongs to. It is
// only available when the proxy configuration exposes the proxy.
func CurrentProxy(ctx context.Context) (any, error) {
	if ctx != nil {
		if p := ctx.Value(currentProxyKey{}); p != nil {
			return p, nil
		}
	}
	return nil, ErrNoCurrentProxy
}

// Proxy routes method calls through the interceptor chain of its
// configuration before reaching the target.
//
// Go cannot generate types at runtime, so callers either invoke methods by
// name through Invoke or use a typed stub registered with RegisterStub,
// which forwards to Invoke.
type Proxy struct {
	config     *AdvisedSupport
	kind       Kind
	interfaces []reflect.Type
	targetType reflect.Type
	methods    map[string]*Method
	fixed      map[*Method][]any
	object     any
	logger     *zap.Logger
}

var proxyType = reflect.TypeOf((*Proxy)(nil))

// Invoke calls method with args through the interceptor chain. It returns
// the method's results without the trailing error, and that error.
//
// Errors from advice on a method without an error result are wrapped in an
// UndeclaredThrowableError. Panics propagate unchanged.
func (p *Proxy) Invoke(ctx context.Context, method string, args ...any) (results []any, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	m, ok := p.methods[method]
	if !ok {
		switch {
		case method == "Equals" && len(args) == 1:
			return []any{p.Equals(args[0])}, nil
		case method == "HashCode" && len(args) == 0:
			return []any{p.HashCode()}, nil
		}
		return nil, fmt.Errorf("%w: %s on %s proxy for %v", ErrNoSuchMethod, method, p.kind, p.targetType)
	}

	args = slices.Clone(args)
	if p.config.IsExposeProxy() {
		ctx = context.WithValue(ctx, currentProxyKey{}, p.object)
		if m.TakesContext() && len(args) > 0 {
			if argCtx, ok := args[0].(context.Context); ok && argCtx != nil {
				args[0] = context.WithValue(argCtx, currentProxyKey{}, p.object)
			} else {
				args[0] = ctx
			}
		}
	}

	ts := p.config.TargetSource()
	target, err := ts.Target(ctx)
	if err != nil {
		return nil, err
	}
	if !ts.IsStatic() {
		defer func() {
			err = multierr.Append(err, ts.Release(target))
		}()
	}

	targetType := p.targetType
	if targetType == nil && target != nil {
		targetType = reflect.TypeOf(target)
	}

	if m.sealed {
		results, err = InvokeMethod(target, m, args)
		return p.processResults(m, target, results, err)
	}

	chain, err := p.chainFor(m, targetType)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 && m.directDispatch() {
		results, err = InvokeMethod(target, m, args)
	} else {
		inv := &reflectiveInvocation{
			proxy:      p,
			target:     target,
			targetType: targetType,
			method:     m,
			args:       args,
			chain:      chain,
		}
		results, err = inv.Proceed(ctx)
	}
	return p.processResults(m, target, results, err)
}

func (p *Proxy) chainFor(m *Method, targetType reflect.Type) ([]any, error) {
	if p.fixed != nil {
		if chain, ok := p.fixed[m]; ok {
			return chain, nil
		}
	}
	return p.config.interceptorChain(m, targetType)
}

func (p *Proxy) processResults(m *Method, target any, results []any, err error) ([]any, error) {
	if err != nil {
		var invErr AopInvocationError
		if !m.ReturnsError && !errors.As(err, &invErr) {
			return nil, UndeclaredThrowableError{Method: m, Cause: err}
		}
		return results, err
	}
	if err := m.checkResults(results); err != nil {
		return nil, err
	}

	if _, raw := target.(RawTargetAccess); raw || target == nil {
		return results, nil
	}
	objType := reflect.TypeOf(p.object)
	for i, r := range results {
		if reflection.SameInstance(r, target) && objType.AssignableTo(m.Results[i]) {
			results[i] = p.object
		}
	}
	return results, nil
}

// Kind returns how the proxy exposes its target.
func (p *Proxy) Kind() Kind { return p.kind }

// Interfaces returns the proxied interfaces.
func (p *Proxy) Interfaces() []reflect.Type { return slices.Clone(p.interfaces) }

// TargetType returns the type of the target, or nil when unknown.
func (p *Proxy) TargetType() reflect.Type { return p.targetType }

// Object returns the value handed to callers: the typed stub when one is
// registered for a proxied interface, else p itself.
func (p *Proxy) Object() any { return p.object }

// AopProxy returns p.
func (p *Proxy) AopProxy() *Proxy { return p }

// Method returns the exposed method named name.
func (p *Proxy) Method(name string) (*Method, bool) {
	m, ok := p.methods[name]
	return m, ok
}

// MethodNames returns the sorted names of the exposed methods.
func (p *Proxy) MethodNames() []string {
	names := make([]string, 0, len(p.methods))
	for name := range p.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Equals reports whether other is a proxy with an equal configuration:
// the same interfaces, equal target sources and advisors of the same
// kinds with equal pointcuts.
func (p *Proxy) Equals(other any) bool {
	o, ok := ProxyOf(other)
	if !ok {
		return false
	}
	if o == p {
		return true
	}
	return equalConfigs(p.config, o.config)
}

// HashCode returns a hash consistent with Equals.
func (p *Proxy) HashCode() uint64 {
	d := xxhash.New()
	if t := p.config.TargetSource().TargetType(); t != nil {
		_, _ = d.WriteString(t.String())
	}
	for _, iface := range p.config.Interfaces() {
		_, _ = d.WriteString(iface.String())
	}
	for _, advisor := range p.config.Advisors() {
		_, _ = d.WriteString(reflect.TypeOf(advisor.Advice()).String())
	}
	return d.Sum64()
}

func (p *Proxy) String() string {
	return fmt.Sprintf("%s proxy for %v with %d advisors", p.kind, p.targetType, p.config.AdvisorCount())
}

// ProxyOf returns the proxy behind v, which is either a *Proxy or a stub
// implementing AopProxy() *Proxy.
func ProxyOf(v any) (*Proxy, bool) {
	switch x := v.(type) {
	case *Proxy:
		return x, x != nil
	case interface{ AopProxy() *Proxy }:
		p := x.AopProxy()
		return p, p != nil
	}
	return nil, false
}

// IsAopProxy reports whether v is a proxy or a stub of one.
func IsAopProxy(v any) bool {
	_, ok := ProxyOf(v)
	return ok
}

// AdvisedOf returns the configuration of the proxy behind v, unless the
// configuration is opaque.
func AdvisedOf(v any) (*AdvisedSupport, bool) {
	p, ok := ProxyOf(v)
	if !ok || p.config.IsOpaque() {
		return nil, false
	}
	return p.config, true
}

func equalConfigs(a, b *AdvisedSupport) bool {
	if !slices.Equal(a.Interfaces(), b.Interfaces()) {
		return false
	}
	if !equalValues(a.TargetSource(), b.TargetSource()) {
		return false
	}
	x, y := a.Advisors(), b.Advisors()
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if reflect.TypeOf(x[i].Advice()) != reflect.TypeOf(y[i].Advice()) {
			return false
		}
		px, okx := x[i].(PointcutAdvisor)
		py, oky := y[i].(PointcutAdvisor)
		if okx != oky || (okx && !equalValues(px.Pointcut(), py.Pointcut())) {
			return false
		}
	}
	return true
}

func equalValues(a, b any) bool {
	if reflection.SameInstance(a, b) {
		return true
	}
	if e, ok := a.(interface{ Equal(any) bool }); ok {
		return e.Equal(b)
	}
	return false
}
