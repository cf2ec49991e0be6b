package aop

import (
	"context"
	"fmt"
	"sync"
)

// Advice is any action taken at a join point: a MethodInterceptor or one of
// the adaptable advice kinds below.
type Advice any

// MethodInterceptor intercepts calls on their way to the target. Call
// inv.Proceed to continue down the chain.
//
// Example:
//
//	aop.InterceptorFunc(func(ctx context.Context, inv aop.MethodInvocation) ([]any, error) {
//		start := time.Now()
//		defer func() { log.Println(inv.Method().Name, time.Since(start)) }()
//		return inv.Proceed(ctx)
//	})
type MethodInterceptor interface {
	Invoke(ctx context.Context, inv MethodInvocation) ([]any, error)
}

// InterceptorFunc adapts a function to a MethodInterceptor.
type InterceptorFunc func(ctx context.Context, inv MethodInvocation) ([]any, error)

func (fn InterceptorFunc) Invoke(ctx context.Context, inv MethodInvocation) ([]any, error) {
	return fn(ctx, inv)
}

// MethodBeforeAdvice runs before the method. A returned error aborts the
// call.
type MethodBeforeAdvice interface {
	Before(ctx context.Context, m *Method, args []any, target any) error
}

// AfterReturningAdvice runs after the method returned without error. A
// returned error replaces the result.
type AfterReturningAdvice interface {
	AfterReturning(ctx context.Context, results []any, m *Method, args []any, target any) error
}

// ThrowsAdvice runs after the method returned an error. Returning a non-nil
// error replaces the original one.
type ThrowsAdvice interface {
	AfterThrowing(ctx context.Context, m *Method, args []any, target any, err error) error
}

type beforeInterceptor struct {
	advice MethodBeforeAdvice
}

func (i *beforeInterceptor) Invoke(ctx context.Context, inv MethodInvocation) ([]any, error) {
	if err := i.advice.Before(ctx, inv.Method(), inv.Arguments(), inv.This()); err != nil {
		return nil, err
	}
	return inv.Proceed(ctx)
}

type afterReturningInterceptor struct {
	advice AfterReturningAdvice
}

func (i *afterReturningInterceptor) Invoke(ctx context.Context, inv MethodInvocation) ([]any, error) {
	results, err := inv.Proceed(ctx)
	if err != nil {
		return results, err
	}
	if err := i.advice.AfterReturning(ctx, results, inv.Method(), inv.Arguments(), inv.This()); err != nil {
		return nil, err
	}
	return results, nil
}

type throwsInterceptor struct {
	advice ThrowsAdvice
}

func (i *throwsInterceptor) Invoke(ctx context.Context, inv MethodInvocation) ([]any, error) {
	results, err := inv.Proceed(ctx)
	if err == nil {
		return results, nil
	}
	if replaced := i.advice.AfterThrowing(ctx, inv.Method(), inv.Arguments(), inv.This(), err); replaced != nil {
		return nil, replaced
	}
	return results, err
}

// AdvisorAdapter turns a kind of advice into a MethodInterceptor.
type AdvisorAdapter interface {
	SupportsAdvice(advice Advice) bool
	Interceptor(advisor Advisor) MethodInterceptor
}

type beforeAdapter struct{}

func (beforeAdapter) SupportsAdvice(advice Advice) bool {
	_, ok := advice.(MethodBeforeAdvice)
	return ok
}

func (beforeAdapter) Interceptor(advisor Advisor) MethodInterceptor {
	return &beforeInterceptor{advice: advisor.Advice().(MethodBeforeAdvice)}
}

type afterReturningAdapter struct{}

func (afterReturningAdapter) SupportsAdvice(advice Advice) bool {
	_, ok := advice.(AfterReturningAdvice)
	return ok
}

func (afterReturningAdapter) Interceptor(advisor Advisor) MethodInterceptor {
	return &afterReturningInterceptor{advice: advisor.Advice().(AfterReturningAdvice)}
}

type throwsAdapter struct{}

func (throwsAdapter) SupportsAdvice(advice Advice) bool {
	_, ok := advice.(ThrowsAdvice)
	return ok
}

func (throwsAdapter) Interceptor(advisor Advisor) MethodInterceptor {
	return &throwsInterceptor{advice: advisor.Advice().(ThrowsAdvice)}
}

// AdapterRegistry wraps advice into advisors and advisors into
// interceptors.
type AdapterRegistry struct {
	mu       sync.RWMutex
	adapters []AdvisorAdapter
}

// NewAdapterRegistry returns a registry knowing the before, after-returning
// and throws advice kinds.
func NewAdapterRegistry() *AdapterRegistry {
	return &AdapterRegistry{
		adapters: []AdvisorAdapter{beforeAdapter{}, afterReturningAdapter{}, throwsAdapter{}},
	}
}

var defaultAdapters = NewAdapterRegistry()

// DefaultAdapterRegistry returns the registry used by configurations that
// do not set their own.
func DefaultAdapterRegistry() *AdapterRegistry {
	return defaultAdapters
}

// RegisterAdapter adds support for another advice kind.
func (r *AdapterRegistry) RegisterAdapter(a AdvisorAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters = append(r.adapters, a)
}

// Wrap returns advice as an Advisor applying to every method.
func (r *AdapterRegistry) Wrap(advice Advice) (Advisor, error) {
	switch a := advice.(type) {
	case nil:
		return nil, AopConfigError{Message: "advice must not be nil"}
	case Advisor:
		return a, nil
	case MethodInterceptor:
		return NewDefaultPointcutAdvisor(TruePointcut, a), nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, adapter := range r.adapters {
		if adapter.SupportsAdvice(advice) {
			return NewDefaultPointcutAdvisor(TruePointcut, advice), nil
		}
	}
	return nil, AopConfigError{Message: fmt.Sprintf("unknown advice type %T", advice)}
}

// Interceptors returns the interceptors implementing the advisor's advice.
func (r *AdapterRegistry) Interceptors(advisor Advisor) ([]MethodInterceptor, error) {
	advice := advisor.Advice()
	var out []MethodInterceptor
	if mi, ok := advice.(MethodInterceptor); ok {
		out = append(out, mi)
	}

	r.mu.RLock()
	for _, adapter := range r.adapters {
		if adapter.SupportsAdvice(advice) {
			out = append(out, adapter.Interceptor(advisor))
		}
	}
	r.mu.RUnlock()

	if len(out) == 0 {
		return nil, AopConfigError{Message: fmt.Sprintf("unknown advice type %T", advice)}
	}
	return out, nil
}
