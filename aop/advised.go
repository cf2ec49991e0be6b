package aop

import (
	"fmt"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/bzb8/beans/internal/reflection"
)

// AdvisedSupport holds a proxy configuration: the target source, the
// proxied interfaces and the ordered advisor list.
//
// The advisor list is copy-on-write, so invocations read it without
// locking. Interceptor chains are cached per method and rebuilt after any
// advice change.
type AdvisedSupport struct {
	mu         sync.Mutex
	advisors   atomic.Pointer[[]Advisor]
	interfaces []reflect.Type
	target     TargetSource
	adapters   *AdapterRegistry

	frozen           atomic.Bool
	exposeProxy      bool
	proxyTargetClass bool
	optimize         bool
	opaque           bool
	preFiltered      bool

	chainMu  sync.Mutex
	chains   map[chainKey][]any
	chainGen uint64
}

type chainKey struct {
	method     *Method
	targetType reflect.Type
}

// NewAdvisedSupport returns an empty configuration without a target.
func NewAdvisedSupport() *AdvisedSupport {
	a := &AdvisedSupport{
		target:   EmptyTargetSource(nil),
		adapters: defaultAdapters,
		chains:   make(map[chainKey][]any),
	}
	a.advisors.Store(&[]Advisor{})
	return a
}

// SetTarget sets a fixed target.
func (a *AdvisedSupport) SetTarget(target any) {
	a.SetTargetSource(NewSingletonTargetSource(target))
}

// SetTargetSource sets the source of invocation targets. A nil source
// leaves the configuration without a target.
func (a *AdvisedSupport) SetTargetSource(ts TargetSource) {
	if ts == nil {
		ts = EmptyTargetSource(nil)
	}
	a.mu.Lock()
	a.target = ts
	a.mu.Unlock()
	a.adviceChanged()
}

// TargetSource returns the source of invocation targets.
func (a *AdvisedSupport) TargetSource() TargetSource {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.target
}

// SetAdapterRegistry sets the registry adapting advice to interceptors.
func (a *AdvisedSupport) SetAdapterRegistry(r *AdapterRegistry) {
	a.mu.Lock()
	a.adapters = r
	a.mu.Unlock()
	a.adviceChanged()
}

// AddInterface adds an interface to proxy.
func (a *AdvisedSupport) AddInterface(iface reflect.Type) error {
	if iface == nil || iface.Kind() != reflect.Interface {
		return AopConfigError{Message: fmt.Sprintf("%v is not an interface", iface)}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !slices.Contains(a.interfaces, iface) {
		a.interfaces = append(a.interfaces, iface)
	}
	return nil
}

// RemoveInterface stops proxying iface.
func (a *AdvisedSupport) RemoveInterface(iface reflect.Type) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := slices.Index(a.interfaces, iface)
	if i == -1 {
		return false
	}
	a.interfaces = slices.Delete(a.interfaces, i, i+1)
	return true
}

// Interfaces returns the proxied interfaces.
func (a *AdvisedSupport) Interfaces() []reflect.Type {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.interfaces)
}

// IsInterfaceProxied reports whether iface or an interface embedding it is
// proxied.
func (a *AdvisedSupport) IsInterfaceProxied(iface reflect.Type) bool {
	for _, proxied := range a.Interfaces() {
		if proxied.Implements(iface) {
			return true
		}
	}
	return false
}

// Advisors returns a snapshot of the advisor list.
func (a *AdvisedSupport) Advisors() []Advisor {
	return slices.Clone(*a.advisors.Load())
}

// AdvisorCount returns the number of advisors.
func (a *AdvisedSupport) AdvisorCount() int {
	return len(*a.advisors.Load())
}

// IndexOf returns the position of advisor, or -1.
func (a *AdvisedSupport) IndexOf(advisor Advisor) int {
	return slices.IndexFunc(*a.advisors.Load(), func(adv Advisor) bool {
		return reflection.SameInstance(adv, advisor)
	})
}

// IndexOfAdvice returns the position of the advisor holding advice, or -1.
func (a *AdvisedSupport) IndexOfAdvice(advice Advice) int {
	return slices.IndexFunc(*a.advisors.Load(), func(adv Advisor) bool {
		return reflection.SameInstance(adv.Advice(), advice)
	})
}

// AddAdvice wraps advice into an advisor applying to all methods and
// appends it.
func (a *AdvisedSupport) AddAdvice(advice Advice) error {
	return a.AddAdviceAt(a.AdvisorCount(), advice)
}

// AddAdviceAt wraps advice and inserts it at pos.
func (a *AdvisedSupport) AddAdviceAt(pos int, advice Advice) error {
	if _, ok := advice.(Advisor); ok {
		return AopConfigError{Message: "advisors must be added with AddAdvisor"}
	}
	advisor, err := a.adapterRegistry().Wrap(advice)
	if err != nil {
		return err
	}
	return a.AddAdvisorAt(pos, advisor)
}

// AddAdvisor appends advisor.
func (a *AdvisedSupport) AddAdvisor(advisor Advisor) error {
	return a.AddAdvisorAt(a.AdvisorCount(), advisor)
}

// AddAdvisors appends advisors in order.
func (a *AdvisedSupport) AddAdvisors(advisors ...Advisor) error {
	for _, advisor := range advisors {
		if err := a.AddAdvisor(advisor); err != nil {
			return err
		}
	}
	return nil
}

// AddAdvisorAt inserts advisor at pos. Introduction advisors also add
// their interfaces.
func (a *AdvisedSupport) AddAdvisorAt(pos int, advisor Advisor) error {
	if advisor == nil {
		return AopConfigError{Message: "advisor must not be nil"}
	}
	if ia, ok := advisor.(IntroductionAdvisor); ok {
		if err := ia.ValidateInterfaces(); err != nil {
			return err
		}
	}

	a.mu.Lock()
	if a.frozen.Load() {
		a.mu.Unlock()
		return fmt.Errorf("cannot add advisor: %w", ErrConfigFrozen)
	}
	current := *a.advisors.Load()
	if pos < 0 || pos > len(current) {
		a.mu.Unlock()
		return AopConfigError{Message: fmt.Sprintf("illegal position %d in advisor list with size %d", pos, len(current))}
	}
	next := slices.Insert(slices.Clone(current), pos, advisor)
	a.advisors.Store(&next)
	if ia, ok := advisor.(IntroductionAdvisor); ok {
		for _, iface := range ia.Interfaces() {
			if !slices.Contains(a.interfaces, iface) {
				a.interfaces = append(a.interfaces, iface)
			}
		}
	}
	a.mu.Unlock()

	a.adviceChanged()
	return nil
}

// RemoveAdvisor removes advisor and reports whether it was present.
func (a *AdvisedSupport) RemoveAdvisor(advisor Advisor) (bool, error) {
	i := a.IndexOf(advisor)
	if i == -1 {
		return false, nil
	}
	return true, a.RemoveAdvisorAt(i)
}

// RemoveAdvice removes the advisor holding advice.
func (a *AdvisedSupport) RemoveAdvice(advice Advice) (bool, error) {
	i := a.IndexOfAdvice(advice)
	if i == -1 {
		return false, nil
	}
	return true, a.RemoveAdvisorAt(i)
}

// RemoveAdvisorAt removes the advisor at index.
func (a *AdvisedSupport) RemoveAdvisorAt(index int) error {
	a.mu.Lock()
	if a.frozen.Load() {
		a.mu.Unlock()
		return fmt.Errorf("cannot remove advisor: %w", ErrConfigFrozen)
	}
	current := *a.advisors.Load()
	if index < 0 || index >= len(current) {
		a.mu.Unlock()
		return AopConfigError{Message: fmt.Sprintf("advisor index %d is out of bounds: only have %d advisors", index, len(current))}
	}
	next := slices.Delete(slices.Clone(current), index, index+1)
	a.advisors.Store(&next)
	a.mu.Unlock()

	a.adviceChanged()
	return nil
}

// ReplaceAdvisor swaps old for replacement and reports whether old was
// present.
func (a *AdvisedSupport) ReplaceAdvisor(old, replacement Advisor) (bool, error) {
	if replacement == nil {
		return false, AopConfigError{Message: "advisor must not be nil"}
	}
	a.mu.Lock()
	if a.frozen.Load() {
		a.mu.Unlock()
		return false, fmt.Errorf("cannot replace advisor: %w", ErrConfigFrozen)
	}
	current := *a.advisors.Load()
	i := slices.IndexFunc(current, func(adv Advisor) bool { return reflection.SameInstance(adv, old) })
	if i == -1 {
		a.mu.Unlock()
		return false, nil
	}
	next := slices.Clone(current)
	next[i] = replacement
	a.advisors.Store(&next)
	a.mu.Unlock()

	a.adviceChanged()
	return true, nil
}

// SetFrozen freezes or unfreezes the advice. Proxies created from a frozen
// configuration with a static target use a precomputed chain.
func (a *AdvisedSupport) SetFrozen(frozen bool) { a.frozen.Store(frozen) }

// IsFrozen reports whether the advice may no longer change.
func (a *AdvisedSupport) IsFrozen() bool { return a.frozen.Load() }

// SetExposeProxy makes invocations carry the proxy in their context, see
// CurrentProxy.
func (a *AdvisedSupport) SetExposeProxy(expose bool) { a.setFlag(&a.exposeProxy, expose) }

func (a *AdvisedSupport) IsExposeProxy() bool { return a.flag(&a.exposeProxy) }

// SetProxyTargetClass requests a proxy of the target type rather than of
// its interfaces.
func (a *AdvisedSupport) SetProxyTargetClass(v bool) { a.setFlag(&a.proxyTargetClass, v) }

func (a *AdvisedSupport) IsProxyTargetClass() bool { return a.flag(&a.proxyTargetClass) }

// SetOptimize allows aggressive proxy optimizations.
func (a *AdvisedSupport) SetOptimize(v bool) { a.setFlag(&a.optimize, v) }

func (a *AdvisedSupport) IsOptimize() bool { return a.flag(&a.optimize) }

// SetOpaque hides the configuration from holders of the proxy.
func (a *AdvisedSupport) SetOpaque(v bool) { a.setFlag(&a.opaque, v) }

func (a *AdvisedSupport) IsOpaque() bool { return a.flag(&a.opaque) }

// SetPreFiltered marks the advisors as already matched against the target
// type, skipping class filters.
func (a *AdvisedSupport) SetPreFiltered(v bool) {
	a.setFlag(&a.preFiltered, v)
	a.adviceChanged()
}

func (a *AdvisedSupport) IsPreFiltered() bool { return a.flag(&a.preFiltered) }

func (a *AdvisedSupport) setFlag(p *bool, v bool) {
	a.mu.Lock()
	*p = v
	a.mu.Unlock()
}

func (a *AdvisedSupport) flag(p *bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return *p
}

func (a *AdvisedSupport) adapterRegistry() *AdapterRegistry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.adapters
}

// Copy returns an independent configuration with the same settings,
// target source and advisors.
func (a *AdvisedSupport) Copy() *AdvisedSupport {
	return a.CopyWith(a.TargetSource(), a.Advisors())
}

// CopyWith returns a configuration with the same settings but the given
// target source and advisors.
func (a *AdvisedSupport) CopyWith(ts TargetSource, advisors []Advisor) *AdvisedSupport {
	c := NewAdvisedSupport()

	a.mu.Lock()
	c.interfaces = slices.Clone(a.interfaces)
	c.adapters = a.adapters
	c.exposeProxy = a.exposeProxy
	c.proxyTargetClass = a.proxyTargetClass
	c.optimize = a.optimize
	c.opaque = a.opaque
	c.preFiltered = a.preFiltered
	a.mu.Unlock()

	if ts == nil {
		ts = EmptyTargetSource(nil)
	}
	c.target = ts
	list := slices.Clone(advisors)
	c.advisors.Store(&list)
	c.frozen.Store(a.frozen.Load())
	return c
}

func (a *AdvisedSupport) adviceChanged() {
	a.chainMu.Lock()
	a.chains = make(map[chainKey][]any)
	a.chainGen++
	a.chainMu.Unlock()
}

// interceptorChain returns the interceptors advising m on targets of
// targetType. Elements are MethodInterceptors or dynamicInterceptors.
func (a *AdvisedSupport) interceptorChain(m *Method, targetType reflect.Type) ([]any, error) {
	key := chainKey{method: m, targetType: targetType}
	a.chainMu.Lock()
	chain, ok := a.chains[key]
	gen := a.chainGen
	a.chainMu.Unlock()
	if ok {
		return chain, nil
	}

	chain, err := a.buildChain(m, targetType)
	if err != nil {
		return nil, err
	}
	a.chainMu.Lock()
	// a chain built from advisors replaced meanwhile is used once, not cached
	if a.chainGen == gen {
		a.chains[key] = chain
	}
	a.chainMu.Unlock()
	return chain, nil
}

// dynamicInterceptor is a chain element whose matcher is checked against
// the arguments of each call.
type dynamicInterceptor struct {
	interceptor MethodInterceptor
	matcher     MethodMatcher
}

func (a *AdvisedSupport) buildChain(m *Method, targetType reflect.Type) ([]any, error) {
	registry := a.adapterRegistry()
	preFiltered := a.IsPreFiltered()
	chain := []any{}

	for _, advisor := range *a.advisors.Load() {
		switch adv := advisor.(type) {
		case PointcutAdvisor:
			pc := adv.Pointcut()
			if !preFiltered && !pc.ClassFilter().Matches(targetType) {
				continue
			}
			mm := pc.MethodMatcher()
			if !mm.Matches(m, targetType) {
				continue
			}
			interceptors, err := registry.Interceptors(adv)
			if err != nil {
				return nil, err
			}
			for _, mi := range interceptors {
				if mm.IsRuntime() {
					chain = append(chain, dynamicInterceptor{interceptor: mi, matcher: mm})
				} else {
					chain = append(chain, mi)
				}
			}
		case IntroductionAdvisor:
			if !preFiltered && !adv.ClassFilter().Matches(targetType) {
				continue
			}
			interceptors, err := registry.Interceptors(adv)
			if err != nil {
				return nil, err
			}
			for _, mi := range interceptors {
				chain = append(chain, mi)
			}
		default:
			interceptors, err := registry.Interceptors(adv)
			if err != nil {
				return nil, err
			}
			for _, mi := range interceptors {
				chain = append(chain, mi)
			}
		}
	}
	return chain, nil
}

func (a *AdvisedSupport) String() string {
	return fmt.Sprintf("AdvisedSupport(interfaces=%v, advisors=%d, target=%v, frozen=%t)",
		a.Interfaces(), a.AdvisorCount(), a.TargetSource(), a.IsFrozen())
}
