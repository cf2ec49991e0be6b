package aop

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type beforeRecorder struct{ log *callLog }

func (b beforeRecorder) Before(_ context.Context, m *Method, _ []any, _ any) error {
	b.log.add("before:" + m.Name)
	return nil
}

type afterRecorder struct{ log *callLog }

func (a afterRecorder) AfterReturning(_ context.Context, results []any, m *Method, _ []any, _ any) error {
	a.log.add("after:" + m.Name)
	return nil
}

type errorTranslator struct{ translated error }

func (e errorTranslator) AfterThrowing(_ context.Context, _ *Method, _ []any, _ any, err error) error {
	if errors.Is(err, errBoom) {
		return e.translated
	}
	return nil
}

func TestProxy_InterceptorOrder(t *testing.T) {
	log := &callLog{}
	pf := newServiceFactory(t, &service{greeting: "hello"})
	require.NoError(t, pf.AddAdvice(recording(log, "x")))
	require.NoError(t, pf.AddAdvice(recording(log, "y")))

	svc, err := ProxyAs[Service](pf)
	require.NoError(t, err)

	got, err := svc.Greet(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "hello bob", got)
	assert.Equal(t, []string{"x:before", "y:before", "y:after", "x:after"}, log.list())
}

func TestProxy_AdviceKinds(t *testing.T) {
	log := &callLog{}
	translated := errors.New("translated")
	pf := newServiceFactory(t, &service{greeting: "hi"})
	require.NoError(t, pf.AddAdvice(beforeRecorder{log: log}))
	require.NoError(t, pf.AddAdvice(afterRecorder{log: log}))
	require.NoError(t, pf.AddAdvice(errorTranslator{translated: translated}))

	svc, err := ProxyAs[Service](pf)
	require.NoError(t, err)

	_, err = svc.Greet(context.Background(), "ann")
	require.NoError(t, err)
	assert.Equal(t, []string{"before:Greet", "after:Greet"}, log.list())

	err = svc.Fail(context.Background())
	assert.ErrorIs(t, err, translated)
	assert.Equal(t, []string{"before:Greet", "after:Greet", "before:Fail"}, log.list())
}

func TestProxy_BeforeAdviceAbortsCall(t *testing.T) {
	target := &service{greeting: "hi"}
	pf := newServiceFactory(t, target)
	require.NoError(t, pf.AddAdvice(InterceptorFunc(func(ctx context.Context, inv MethodInvocation) ([]any, error) {
		if inv.Arguments()[1] == "mallory" {
			return nil, errBoom
		}
		return inv.Proceed(ctx)
	})))

	svc, err := ProxyAs[Service](pf)
	require.NoError(t, err)

	_, err = svc.Greet(context.Background(), "mallory")
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 0, target.count)
}

func TestProxy_ArgumentsCanBeReplaced(t *testing.T) {
	pf := newServiceFactory(t, &service{greeting: "hi"})
	require.NoError(t, pf.AddAdvice(InterceptorFunc(func(ctx context.Context, inv MethodInvocation) ([]any, error) {
		args := inv.Arguments()
		inv.SetArguments(args[0], "anonymous")
		return inv.Proceed(ctx)
	})))

	svc, err := ProxyAs[Service](pf)
	require.NoError(t, err)

	got, err := svc.Greet(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "hi anonymous", got)
}

func TestProxy_ReturnsProxyInsteadOfTarget(t *testing.T) {
	t.Run("substituted", func(t *testing.T) {
		pf := newServiceFactory(t, &service{})
		p, err := pf.Proxy()
		require.NoError(t, err)

		self := p.Object().(Service).Self()
		got, ok := ProxyOf(self)
		require.True(t, ok)
		assert.Same(t, p, got)
	})

	t.Run("raw target access", func(t *testing.T) {
		target := &rawService{}
		pf := newServiceFactory(t, target)
		svc, err := ProxyAs[Service](pf)
		require.NoError(t, err)

		assert.Same(t, target, svc.Self())
	})
}

func TestProxy_ResultsMustMatchSignature(t *testing.T) {
	tests := []struct {
		name    string
		results []any
	}{
		{name: "nil for int", results: []any{nil}},
		{name: "wrong count", results: []any{1, 2}},
		{name: "wrong type", results: []any{"seven"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pf := newServiceFactory(t, &service{})
			require.NoError(t, pf.AddAdvice(InterceptorFunc(func(context.Context, MethodInvocation) ([]any, error) {
				return tt.results, nil
			})))
			p, err := pf.Proxy()
			require.NoError(t, err)

			_, err = p.Invoke(context.Background(), "Count")
			var invErr AopInvocationError
			require.ErrorAs(t, err, &invErr)
			assert.Equal(t, "Count", invErr.Method.Name)
		})
	}
}

func TestProxy_UndeclaredErrors(t *testing.T) {
	pf := newServiceFactory(t, &service{})
	require.NoError(t, pf.AddAdvice(InterceptorFunc(func(context.Context, MethodInvocation) ([]any, error) {
		return nil, errBoom
	})))
	p, err := pf.Proxy()
	require.NoError(t, err)

	_, err = p.Invoke(context.Background(), "Count")
	var undeclared UndeclaredThrowableError
	require.ErrorAs(t, err, &undeclared)
	assert.ErrorIs(t, err, errBoom)

	_, err = p.Invoke(context.Background(), "Greet", context.Background(), "bob")
	assert.Same(t, errBoom, err, "declared errors pass through unchanged")

	svc := p.Object().(Service)
	assert.Panics(t, func() { svc.Count() })
}

func TestProxy_UnknownMethod(t *testing.T) {
	p, err := newServiceFactory(t, &service{}).Proxy()
	require.NoError(t, err)

	_, err = p.Invoke(context.Background(), "Missing")
	assert.ErrorIs(t, err, ErrNoSuchMethod)

	_, err = p.Invoke(context.Background(), "Greet", "not a context", "bob")
	var invErr AopInvocationError
	assert.ErrorAs(t, err, &invErr)
}

func TestProxy_AdviceChangesReachExistingProxy(t *testing.T) {
	var n atomic.Int32
	pf := newServiceFactory(t, &service{})
	svc, err := ProxyAs[Service](pf)
	require.NoError(t, err)

	svc.Count()
	require.NoError(t, pf.AddAdvice(counting(&n)))
	svc.Count()
	assert.Equal(t, int32(1), n.Load())

	require.NoError(t, pf.RemoveAdvisorAt(0))
	svc.Count()
	assert.Equal(t, int32(1), n.Load())
}

// armedPointcut matches every method and runs onMatch on the first match
// after being armed.
type armedPointcut struct {
	armed   atomic.Bool
	onMatch func()
}

func (p *armedPointcut) ClassFilter() ClassFilter     { return TrueClassFilter }
func (p *armedPointcut) MethodMatcher() MethodMatcher { return p }
func (p *armedPointcut) IsRuntime() bool              { return false }

func (p *armedPointcut) Matches(*Method, reflect.Type) bool {
	if p.armed.CompareAndSwap(true, false) {
		p.onMatch()
	}
	return true
}

func (p *armedPointcut) MatchesArgs(*Method, reflect.Type, []any) bool { return true }

func TestProxy_ChainBuiltDuringChangeIsNotCached(t *testing.T) {
	var outer, added atomic.Int32
	pf := newServiceFactory(t, &service{})
	pc := &armedPointcut{}
	pc.onMatch = func() {
		require.NoError(t, pf.AddAdvice(counting(&added)))
	}
	require.NoError(t, pf.AddAdvisor(NewDefaultPointcutAdvisor(pc, counting(&outer))))
	svc, err := ProxyAs[Service](pf)
	require.NoError(t, err)

	pc.armed.Store(true)
	svc.Count()
	assert.Equal(t, int32(1), outer.Load())
	assert.Equal(t, int32(0), added.Load())

	svc.Count()
	assert.Equal(t, int32(2), outer.Load())
	assert.Equal(t, int32(1), added.Load())
}

func TestProxy_Frozen(t *testing.T) {
	var n atomic.Int32
	pf := newServiceFactory(t, &service{})
	require.NoError(t, pf.AddAdvice(counting(&n)))
	pf.SetFrozen(true)

	assert.ErrorIs(t, pf.AddAdvice(counting(&n)), ErrConfigFrozen)
	assert.ErrorIs(t, pf.RemoveAdvisorAt(0), ErrConfigFrozen)
	_, err := pf.ReplaceAdvisor(pf.Advisors()[0], NewDefaultPointcutAdvisor(nil, counting(&n)))
	assert.ErrorIs(t, err, ErrConfigFrozen)

	p, err := pf.Proxy()
	require.NoError(t, err)
	assert.NotNil(t, p.fixed, "frozen with a static target uses a fixed chain")

	_, err = p.Invoke(context.Background(), "Count")
	require.NoError(t, err)
	assert.Equal(t, int32(1), n.Load())
}

func TestProxy_FixedChainNeedsFrozenStaticTarget(t *testing.T) {
	t.Run("not frozen", func(t *testing.T) {
		p, err := newServiceFactory(t, &service{}).Proxy()
		require.NoError(t, err)
		assert.Nil(t, p.fixed)
	})

	t.Run("prototype target", func(t *testing.T) {
		pf := NewProxyFactoryFor[Service](NewPrototypeTargetSource(serviceType, func(context.Context) (any, error) {
			return &service{}, nil
		}))
		pf.SetStubRegistry(testStubs)
		pf.SetFrozen(true)

		p, err := pf.Proxy()
		require.NoError(t, err)
		assert.Nil(t, p.fixed)
	})
}

func TestProxy_EqualsAndHashCode(t *testing.T) {
	var n atomic.Int32
	target := &service{}
	build := func(target any) *Proxy {
		pf := newServiceFactory(t, target)
		require.NoError(t, pf.AddAdvice(counting(&n)))
		p, err := pf.Proxy()
		require.NoError(t, err)
		return p
	}

	a, b := build(target), build(target)
	assert.True(t, a.Equals(b))
	assert.True(t, a.Equals(b.Object()), "stubs compare through their proxy")
	assert.Equal(t, a.HashCode(), b.HashCode())

	out, err := a.Invoke(context.Background(), "Equals", b)
	require.NoError(t, err)
	assert.Equal(t, []any{true}, out)

	other := build(&service{})
	assert.False(t, a.Equals(other))
	assert.False(t, a.Equals(target))

	plain := newServiceFactory(t, target)
	p, err := plain.Proxy()
	require.NoError(t, err)
	assert.False(t, a.Equals(p), "different advice")
}

func TestCurrentProxy(t *testing.T) {
	t.Run("exposed", func(t *testing.T) {
		var n atomic.Int32
		pf := NewProxyFactory(selfCaller{})
		pf.SetExposeProxy(true)
		require.NoError(t, pf.AddAdvice(counting(&n)))

		p, err := pf.Proxy()
		require.NoError(t, err)
		require.Equal(t, ClassProxy, p.Kind())

		out, err := p.Invoke(context.Background(), "Outer", context.Background())
		require.NoError(t, err)
		assert.Equal(t, []any{"outer+inner"}, out)
		assert.Equal(t, int32(2), n.Load(), "the inner call was advised too")
	})

	t.Run("not exposed", func(t *testing.T) {
		p, err := NewProxyFactory(selfCaller{}).Proxy()
		require.NoError(t, err)

		_, err = p.Invoke(context.Background(), "Outer", context.Background())
		assert.ErrorIs(t, err, ErrNoCurrentProxy)
	})

	t.Run("outside any invocation", func(t *testing.T) {
		_, err := CurrentProxy(context.Background())
		assert.ErrorIs(t, err, ErrNoCurrentProxy)
	})
}

func TestDefaultAopProxyFactory_Kind(t *testing.T) {
	tests := []struct {
		name      string
		configure func(a *AdvisedSupport)
		want      Kind
		wantErr   bool
	}{
		{
			name: "interfaces",
			configure: func(a *AdvisedSupport) {
				a.SetTarget(&service{})
				require.NoError(t, a.AddInterface(serviceType))
			},
			want: InterfaceProxy,
		},
		{
			name:      "no interfaces",
			configure: func(a *AdvisedSupport) { a.SetTarget(&service{}) },
			want:      ClassProxy,
		},
		{
			name: "proxy target class",
			configure: func(a *AdvisedSupport) {
				a.SetTarget(&service{})
				require.NoError(t, a.AddInterface(serviceType))
				a.SetProxyTargetClass(true)
			},
			want: ClassProxy,
		},
		{
			name: "optimize",
			configure: func(a *AdvisedSupport) {
				a.SetTarget(&service{})
				require.NoError(t, a.AddInterface(serviceType))
				a.SetOptimize(true)
			},
			want: ClassProxy,
		},
		{
			name: "interface target type",
			configure: func(a *AdvisedSupport) {
				a.SetTargetSource(EmptyTargetSource(serviceType))
				a.SetProxyTargetClass(true)
			},
			want: InterfaceProxy,
		},
		{
			name:      "no target",
			configure: func(a *AdvisedSupport) {},
			wantErr:   true,
		},
		{
			name: "target lacks interface",
			configure: func(a *AdvisedSupport) {
				a.SetTarget(newCalc(1))
				require.NoError(t, a.AddInterface(serviceType))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewAdvisedSupport()
			tt.configure(config)

			p, err := NewDefaultAopProxyFactory(nil, testStubs).CreateAopProxy(config)
			if tt.wantErr {
				var cfgErr AopConfigError
				assert.ErrorAs(t, err, &cfgErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Kind())
		})
	}
}

func TestClassProxy_SealedMethods(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	factory := NewDefaultAopProxyFactory(zap.New(core), nil)

	var n atomic.Int32
	build := func() *Proxy {
		pf := NewProxyFactory(newCalc(10))
		pf.SetAopProxyFactory(factory)
		require.NoError(t, pf.AddAdvice(counting(&n)))
		p, err := pf.Proxy()
		require.NoError(t, err)
		return p
	}

	p := build()
	out, err := p.Invoke(context.Background(), "Add", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []any{13}, out)
	assert.Equal(t, int32(1), n.Load())

	_, err = p.Invoke(context.Background(), "Reset")
	require.NoError(t, err)
	assert.Equal(t, int32(1), n.Load(), "sealed methods are not advised")

	build()
	assert.Equal(t, 1, logs.Len(), "sealed methods are reported once per type")
}

func TestProxyFactory_Constructor(t *testing.T) {
	pf := NewProxyFactory(nil)
	pf.SetConstructor(newCalc, 5)
	p, err := pf.Proxy()
	require.NoError(t, err)

	out, err := p.Invoke(context.Background(), "Add", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []any{7}, out)

	bad := NewProxyFactory(nil)
	bad.SetConstructor(newCalc, "five")
	_, err = bad.Proxy()
	var cfgErr AopConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestProxyFactory_DetectsStubInterfaces(t *testing.T) {
	pf := NewProxyFactory(&service{greeting: "hey"})
	pf.SetStubRegistry(testStubs)

	svc, err := ProxyAs[Service](pf)
	require.NoError(t, err)
	got, err := svc.Greet(context.Background(), "you")
	require.NoError(t, err)
	assert.Equal(t, "hey you", got)
}

func TestProxy_Introduction(t *testing.T) {
	mixin := &lockMixin{}
	pf := newServiceFactory(t, &service{greeting: "hi"})
	require.NoError(t, pf.AddAdvisor(NewIntroductionAdvisor(NewDelegatingIntroductionInterceptor(mixin), lockableType)))
	assert.True(t, pf.IsInterfaceProxied(lockableType))

	p, err := pf.Proxy()
	require.NoError(t, err)

	_, err = p.Invoke(context.Background(), "Lock")
	require.NoError(t, err)
	out, err := p.Invoke(context.Background(), "Locked")
	require.NoError(t, err)
	assert.Equal(t, []any{true}, out)

	greeting, err := p.Invoke(context.Background(), "Greet", context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, []any{"hi bob"}, greeting)
}

func TestIntroductionAdvisor_Validation(t *testing.T) {
	pf := newServiceFactory(t, &service{})
	err := pf.AddAdvisor(NewIntroductionAdvisor(NewDelegatingIntroductionInterceptor(&service{}), lockableType))
	var cfgErr AopConfigError
	assert.ErrorAs(t, err, &cfgErr)

	err = pf.AddAdvisor(NewIntroductionAdvisor(NewDelegatingIntroductionInterceptor(&lockMixin{}), reflect.TypeOf(&lockMixin{})))
	assert.ErrorAs(t, err, &cfgErr)
}
