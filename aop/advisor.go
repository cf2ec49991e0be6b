package aop

import (
	"context"
	"fmt"
	"reflect"
	"slices"

	"github.com/bzb8/beans/internal/reflection"
)

// LowestPrecedence is the order of advisors without an explicit order.
const LowestPrecedence = int(^uint32(0) >> 1)

// Ordered is implemented by advisors and advice with an explicit order.
// Lower values run first, that is further out in the chain.
type Ordered interface {
	BeanOrder() int
}

// OrderOf returns the order of v, or LowestPrecedence.
func OrderOf(v any) int {
	if o, ok := v.(Ordered); ok {
		return o.BeanOrder()
	}
	return LowestPrecedence
}

// SortAdvisors stably sorts advisors by order.
func SortAdvisors(advisors []Advisor) {
	slices.SortStableFunc(advisors, func(a, b Advisor) int {
		return compareInt(OrderOf(a), OrderOf(b))
	})
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Advisor holds a piece of advice and the rule deciding where it applies.
type Advisor interface {
	Advice() Advice
}

// PointcutAdvisor is an advisor driven by a pointcut.
type PointcutAdvisor interface {
	Advisor
	Pointcut() Pointcut
}

// IntroductionAdvisor adds interfaces to the proxies it applies to. Its
// advice must be a MethodInterceptor that implements them.
type IntroductionAdvisor interface {
	Advisor
	ClassFilter() ClassFilter
	Interfaces() []reflect.Type
	ValidateInterfaces() error
}

// DefaultPointcutAdvisor pairs a pointcut with advice.
type DefaultPointcutAdvisor struct {
	pointcut Pointcut
	advice   Advice
	order    *int
}

// NewDefaultPointcutAdvisor returns an advisor applying advice where pc
// matches. A nil pc matches everything.
func NewDefaultPointcutAdvisor(pc Pointcut, advice Advice) *DefaultPointcutAdvisor {
	if pc == nil {
		pc = TruePointcut
	}
	return &DefaultPointcutAdvisor{pointcut: pc, advice: advice}
}

// NewNameMatchAdvisor returns an advisor applying advice to methods named
// by names.
func NewNameMatchAdvisor(advice Advice, names ...string) *DefaultPointcutAdvisor {
	return NewDefaultPointcutAdvisor(NewNameMatchPointcut(names...), advice)
}

func (a *DefaultPointcutAdvisor) Advice() Advice     { return a.advice }
func (a *DefaultPointcutAdvisor) Pointcut() Pointcut { return a.pointcut }

// SetOrder sets the advisor's order.
func (a *DefaultPointcutAdvisor) SetOrder(order int) *DefaultPointcutAdvisor {
	a.order = &order
	return a
}

// BeanOrder returns the explicit order, else the order of the advice.
func (a *DefaultPointcutAdvisor) BeanOrder() int {
	if a.order != nil {
		return *a.order
	}
	return OrderOf(a.advice)
}

func (a *DefaultPointcutAdvisor) String() string {
	return fmt.Sprintf("DefaultPointcutAdvisor(pointcut=%T, advice=%T)", a.pointcut, a.advice)
}

// DefaultIntroductionAdvisor introduces interfaces implemented by its
// interceptor.
type DefaultIntroductionAdvisor struct {
	advice     MethodInterceptor
	interfaces []reflect.Type
	filter     ClassFilter
	order      *int
}

// NewIntroductionAdvisor returns an advisor introducing interfaces through
// interceptor.
func NewIntroductionAdvisor(interceptor MethodInterceptor, interfaces ...reflect.Type) *DefaultIntroductionAdvisor {
	return &DefaultIntroductionAdvisor{advice: interceptor, interfaces: interfaces, filter: TrueClassFilter}
}

func (a *DefaultIntroductionAdvisor) Advice() Advice             { return a.advice }
func (a *DefaultIntroductionAdvisor) ClassFilter() ClassFilter   { return a.filter }
func (a *DefaultIntroductionAdvisor) Interfaces() []reflect.Type { return slices.Clone(a.interfaces) }

// SetClassFilter restricts the types the introduction applies to.
func (a *DefaultIntroductionAdvisor) SetClassFilter(f ClassFilter) {
	a.filter = f
}

// SetOrder sets the advisor's order.
func (a *DefaultIntroductionAdvisor) SetOrder(order int) *DefaultIntroductionAdvisor {
	a.order = &order
	return a
}

func (a *DefaultIntroductionAdvisor) BeanOrder() int {
	if a.order != nil {
		return *a.order
	}
	return OrderOf(a.advice)
}

// ValidateInterfaces checks that every introduced type is an interface the
// advice can serve.
func (a *DefaultIntroductionAdvisor) ValidateInterfaces() error {
	if len(a.interfaces) == 0 {
		return AopConfigError{Message: "introduction advisor introduces no interfaces"}
	}
	for _, iface := range a.interfaces {
		if iface == nil || iface.Kind() != reflect.Interface {
			return AopConfigError{Message: fmt.Sprintf("introduced type %v is not an interface", iface)}
		}
		if d, ok := a.advice.(*DelegatingIntroductionInterceptor); ok && !d.Implements(iface) {
			return AopConfigError{Message: fmt.Sprintf("delegate %T does not implement introduced interface %s", d.delegate, iface)}
		}
	}
	return nil
}

// DelegatingIntroductionInterceptor routes calls on introduced interfaces
// to a delegate and lets every other call proceed.
type DelegatingIntroductionInterceptor struct {
	delegate any
}

// NewDelegatingIntroductionInterceptor returns an interceptor delegating to
// delegate.
func NewDelegatingIntroductionInterceptor(delegate any) *DelegatingIntroductionInterceptor {
	return &DelegatingIntroductionInterceptor{delegate: delegate}
}

// Implements reports whether the delegate implements iface.
func (d *DelegatingIntroductionInterceptor) Implements(iface reflect.Type) bool {
	return d.delegate != nil && reflect.TypeOf(d.delegate).Implements(iface)
}

func (d *DelegatingIntroductionInterceptor) Invoke(ctx context.Context, inv MethodInvocation) ([]any, error) {
	m := inv.Method()
	if m.Declaring != nil && m.Declaring.Kind() == reflect.Interface && d.Implements(m.Declaring) {
		results, err := InvokeMethod(d.delegate, m, inv.Arguments())
		for i, r := range results {
			// A delegate returning itself hands out the proxy instead.
			if reflection.SameInstance(r, d.delegate) {
				results[i] = inv.Proxy()
			}
		}
		return results, err
	}
	return inv.Proceed(ctx)
}
