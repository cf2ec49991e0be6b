package aop

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// AopProxyFactory creates proxies for configurations.
type AopProxyFactory interface {
	CreateAopProxy(config *AdvisedSupport) (*Proxy, error)
}

// DefaultAopProxyFactory creates a class proxy when the configuration asks
// for optimization or target-class proxying, or names no interfaces, and
// the target type is a concrete type. It creates an interface proxy
// otherwise.
type DefaultAopProxyFactory struct {
	logger *zap.Logger
	stubs  *StubRegistry

	// sealedLogged records the target types whose sealed methods were
	// already reported.
	sealedLogged sync.Map
}

// NewDefaultAopProxyFactory returns a factory logging to logger and
// building stubs from stubs. Nil arguments select a no-op logger and
// DefaultStubs.
func NewDefaultAopProxyFactory(logger *zap.Logger, stubs *StubRegistry) *DefaultAopProxyFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stubs == nil {
		stubs = DefaultStubs
	}
	return &DefaultAopProxyFactory{logger: logger, stubs: stubs}
}

func (f *DefaultAopProxyFactory) CreateAopProxy(config *AdvisedSupport) (*Proxy, error) {
	targetType := config.TargetSource().TargetType()
	if config.IsOptimize() || config.IsProxyTargetClass() || len(config.Interfaces()) == 0 {
		if targetType == nil {
			return nil, AopConfigError{
				Message: "target source cannot determine target type: either an interface or a target is required for proxy creation",
			}
		}
		if targetType.Kind() != reflect.Interface && targetType != proxyType {
			return f.classProxy(config, targetType)
		}
	}
	return f.interfaceProxy(config, targetType)
}

func (f *DefaultAopProxyFactory) interfaceProxy(config *AdvisedSupport, targetType reflect.Type) (*Proxy, error) {
	ifaces := config.Interfaces()
	if len(ifaces) == 0 && targetType != nil && targetType.Kind() == reflect.Interface {
		ifaces = []reflect.Type{targetType}
	}
	if len(ifaces) == 0 {
		return nil, AopConfigError{Message: "no interfaces to proxy"}
	}

	introduced := introducedInterfaces(config)
	concrete := targetType != nil && targetType.Kind() != reflect.Interface
	methods := make(map[string]*Method)
	for _, iface := range ifaces {
		if concrete && !introduced[iface] && !targetType.Implements(iface) {
			return nil, AopConfigError{Message: fmt.Sprintf("target type %s does not implement %s", targetType, iface)}
		}
		for name, m := range methodsOf(iface) {
			if _, ok := methods[name]; !ok {
				methods[name] = m
			}
		}
	}

	p := &Proxy{
		config:     config,
		kind:       InterfaceProxy,
		interfaces: ifaces,
		targetType: targetType,
		methods:    methods,
		logger:     f.logger,
	}
	p.object = f.stubs.objectFor(ifaces, p)
	return f.finish(p)
}

func (f *DefaultAopProxyFactory) classProxy(config *AdvisedSupport, targetType reflect.Type) (*Proxy, error) {
	methods := methodsOf(targetType)
	ifaces := config.Interfaces()
	for _, iface := range ifaces {
		for name, m := range methodsOf(iface) {
			if _, ok := methods[name]; !ok {
				methods[name] = m
			}
		}
	}

	if sealed := f.sealedMethods(config.TargetSource()); len(sealed) > 0 {
		var skipped []string
		for _, name := range sealed {
			if m, ok := methods[name]; ok {
				m.sealed = true
				skipped = append(skipped, name)
			}
		}
		if _, logged := f.sealedLogged.LoadOrStore(targetType, struct{}{}); !logged && len(skipped) > 0 {
			f.logger.Warn("Sealed methods cannot be advised; calls go straight to the target",
				zap.Stringer("type", targetType),
				zap.Strings("methods", skipped),
			)
		}
	}

	p := &Proxy{
		config:     config,
		kind:       ClassProxy,
		interfaces: ifaces,
		targetType: targetType,
		methods:    methods,
		logger:     f.logger,
	}
	p.object = p
	return f.finish(p)
}

// sealedMethods asks a static target for its sealed methods.
func (f *DefaultAopProxyFactory) sealedMethods(ts TargetSource) []string {
	if !ts.IsStatic() {
		return nil
	}
	target, err := ts.Target(context.Background())
	if err != nil {
		return nil
	}
	if s, ok := target.(Sealed); ok {
		return s.SealedMethods()
	}
	return nil
}

// finish precomputes the chains of a frozen configuration with a static
// target.
func (f *DefaultAopProxyFactory) finish(p *Proxy) (*Proxy, error) {
	if p.config.IsFrozen() && p.config.TargetSource().IsStatic() {
		p.fixed = make(map[*Method][]any, len(p.methods))
		for _, m := range p.methods {
			chain, err := p.config.interceptorChain(m, p.targetType)
			if err != nil {
				return nil, err
			}
			p.fixed[m] = chain
		}
	}
	if ce := f.logger.Check(zap.DebugLevel, "Created AOP proxy"); ce != nil {
		ce.Write(
			zap.Stringer("kind", p.kind),
			zap.Stringer("target", typeStringer{p.targetType}),
			zap.Int("advisors", p.config.AdvisorCount()),
			zap.Bool("fixedChain", p.fixed != nil),
		)
	}
	return p, nil
}

type typeStringer struct{ t reflect.Type }

func (s typeStringer) String() string {
	if s.t == nil {
		return "<unknown>"
	}
	return s.t.String()
}

func introducedInterfaces(config *AdvisedSupport) map[reflect.Type]bool {
	out := make(map[reflect.Type]bool)
	for _, advisor := range config.Advisors() {
		if ia, ok := advisor.(IntroductionAdvisor); ok {
			for _, iface := range ia.Interfaces() {
				out[iface] = true
			}
		}
	}
	return out
}

// ProxyFactory builds proxies programmatically.
//
// Example:
//
//	pf := aop.NewProxyFactory(&service{}, reflect.TypeOf((*Service)(nil)).Elem())
//	pf.AddAdvice(timing)
//	proxy, err := aop.ProxyAs[Service](pf)
type ProxyFactory struct {
	*AdvisedSupport

	logger          *zap.Logger
	stubs           *StubRegistry
	aopProxyFactory AopProxyFactory
	err             error

	constructor any
	ctorArgs    []any
}

// NewProxyFactory returns a factory proxying target. Without interfaces,
// the registered stub interfaces the target implements are proxied.
func NewProxyFactory(target any, interfaces ...reflect.Type) *ProxyFactory {
	pf := &ProxyFactory{
		AdvisedSupport: NewAdvisedSupport(),
		logger:         zap.NewNop(),
		stubs:          DefaultStubs,
	}
	if target != nil {
		pf.SetTarget(target)
	}
	for _, iface := range interfaces {
		if err := pf.AddInterface(iface); err != nil && pf.err == nil {
			pf.err = err
		}
	}
	return pf
}

// NewProxyFactoryFor returns a factory for a proxy of interface I backed
// by ts.
func NewProxyFactoryFor[I any](ts TargetSource) *ProxyFactory {
	pf := NewProxyFactory(nil, reflect.TypeOf((*I)(nil)).Elem())
	pf.SetTargetSource(ts)
	return pf
}

// SetLogger sets the logger of the proxies created.
func (pf *ProxyFactory) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pf.logger = logger
}

// SetStubRegistry sets the registry typed stubs come from.
func (pf *ProxyFactory) SetStubRegistry(r *StubRegistry) {
	if r == nil {
		r = DefaultStubs
	}
	pf.stubs = r
}

// SetAopProxyFactory sets the strategy creating proxies.
func (pf *ProxyFactory) SetAopProxyFactory(f AopProxyFactory) {
	pf.aopProxyFactory = f
}

// SetConstructor makes the factory create its target by calling fn with
// args when the proxy is created.
func (pf *ProxyFactory) SetConstructor(fn any, args ...any) {
	pf.constructor = fn
	pf.ctorArgs = args
}

// Proxy creates a proxy for the current configuration.
func (pf *ProxyFactory) Proxy() (*Proxy, error) {
	if pf.err != nil {
		return nil, pf.err
	}
	if pf.constructor != nil {
		target, err := construct(pf.constructor, pf.ctorArgs)
		if err != nil {
			return nil, err
		}
		pf.SetTarget(target)
	}

	if len(pf.Interfaces()) == 0 && !pf.IsProxyTargetClass() {
		for _, iface := range pf.stubs.InterfacesOf(pf.TargetSource().TargetType()) {
			if err := pf.AddInterface(iface); err != nil {
				return nil, err
			}
		}
	}

	factory := pf.aopProxyFactory
	if factory == nil {
		factory = NewDefaultAopProxyFactory(pf.logger, pf.stubs)
	}
	return factory.CreateAopProxy(pf.AdvisedSupport)
}

// GetProxy creates a proxy and returns the value handed to callers: a
// typed stub when one is registered, else the *Proxy.
func (pf *ProxyFactory) GetProxy() (any, error) {
	p, err := pf.Proxy()
	if err != nil {
		return nil, err
	}
	return p.Object(), nil
}

// ProxyAs creates a proxy and returns it as T.
func ProxyAs[T any](pf *ProxyFactory) (T, error) {
	var zero T
	obj, err := pf.GetProxy()
	if err != nil {
		return zero, err
	}
	t, ok := obj.(T)
	if !ok {
		return zero, AopConfigError{Message: fmt.Sprintf("proxy of type %T is not a %s; register a stub for it", obj, reflect.TypeOf((*T)(nil)).Elem())}
	}
	return t, nil
}

// construct calls a target constructor after checking args against its
// parameters.
func construct(fn any, args []any) (any, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return nil, AopConfigError{Message: fmt.Sprintf("constructor must be a function, got %T", fn)}
	}
	ft := v.Type()
	switch {
	case ft.NumOut() == 1:
	case ft.NumOut() == 2 && ft.Out(1) == errorType:
	default:
		return nil, AopConfigError{Message: fmt.Sprintf("constructor %s must return a value and an optional error", ft)}
	}

	m := &Method{Name: "constructor", Variadic: ft.IsVariadic()}
	for i := 0; i < ft.NumIn(); i++ {
		m.Params = append(m.Params, ft.In(i))
	}
	in, err := callArgs(m, ft, args)
	if err != nil {
		return nil, AopConfigError{Message: "no usable constructor for the given arguments", Cause: err}
	}

	out := v.Call(in)
	if len(out) == 2 && !out[1].IsNil() {
		return nil, AopConfigError{Message: "constructor failed", Cause: out[1].Interface().(error)}
	}
	return out[0].Interface(), nil
}
