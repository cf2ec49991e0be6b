package autoproxy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bzb8/beans"
	"github.com/bzb8/beans/aop"
)

func provideProxyFactoryBean(t *testing.T, f *beans.Factory, name string, configure func(*ProxyFactoryBean)) {
	t.Helper()
	require.NoError(t, f.Provide(name, func() *ProxyFactoryBean {
		pfb := NewProxyFactoryBean()
		pfb.Stubs = testStubs
		configure(pfb)
		return pfb
	}))
}

func TestProxyFactoryBean_Singleton(t *testing.T) {
	ctx := context.Background()
	f := newFactory(t)
	require.NoError(t, f.Provide("target", newGreeter))
	require.NoError(t, f.Provide("counter", func() *counter { return &counter{} }))
	provideProxyFactoryBean(t, f, "greeter", func(pfb *ProxyFactoryBean) {
		pfb.TargetName = "target"
		pfb.InterceptorNames = []string{"counter"}
	})

	typ, err := f.GetType(ctx, "greeter")
	require.NoError(t, err)
	assert.Equal(t, greeterType, typ)

	first, err := f.GetBean(ctx, "greeter")
	require.NoError(t, err)
	second, err := f.GetBean(ctx, "greeter")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	got, err := first.(Greeter).Greet(ctx, "ann")
	require.NoError(t, err)
	assert.Equal(t, "hello ann", got)

	cnt, err := f.GetBean(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int32(1), cnt.(*counter).n.Load())

	fb, err := f.GetBean(ctx, "&greeter")
	require.NoError(t, err)
	assert.IsType(t, &ProxyFactoryBean{}, fb)
}

func TestProxyFactoryBean_Prototype(t *testing.T) {
	ctx := context.Background()
	f := newFactory(t)
	require.NoError(t, f.Provide("target", newGreeter, beans.AsPrototype()))
	require.NoError(t, f.Provide("counter", func() *counter { return &counter{} }, beans.AsPrototype()))
	provideProxyFactoryBean(t, f, "greeter", func(pfb *ProxyFactoryBean) {
		pfb.SingletonProxy = false
		pfb.TargetName = "target"
		pfb.InterceptorNames = []string{"counter"}
	})

	isSingleton, err := f.IsSingleton(ctx, "greeter")
	require.NoError(t, err)
	assert.False(t, isSingleton)

	first, err := f.GetBean(ctx, "greeter")
	require.NoError(t, err)
	second, err := f.GetBean(ctx, "greeter")
	require.NoError(t, err)

	p1, _ := aop.ProxyOf(first)
	p2, _ := aop.ProxyOf(second)
	require.NotNil(t, p1)
	assert.NotSame(t, p1, p2)

	for range 2 {
		_, err = first.(Greeter).Greet(ctx, "a")
		require.NoError(t, err)
	}
	_, err = second.(Greeter).Greet(ctx, "b")
	require.NoError(t, err)

	counterOf := func(v any) int32 {
		advisors := advisedOf(t, v).Advisors()
		require.Len(t, advisors, 1)
		return advisors[0].Advice().(*counter).n.Load()
	}
	assert.Equal(t, int32(2), counterOf(first), "every proxy gets its own prototype advice")
	assert.Equal(t, int32(1), counterOf(second))

	t1, err := advisedOf(t, first).TargetSource().Target(ctx)
	require.NoError(t, err)
	t2, err := advisedOf(t, second).TargetSource().Target(ctx)
	require.NoError(t, err)
	assert.NotSame(t, t1, t2, "every proxy gets its own prototype target")
}

func TestProxyFactoryBean_GlobalInterceptors(t *testing.T) {
	ctx := context.Background()
	f := newFactory(t)
	log := &callLog{}
	require.NoError(t, f.Provide("txSecond", func() *aop.DefaultPointcutAdvisor {
		return aop.NewDefaultPointcutAdvisor(nil, recording(log, "second")).SetOrder(2)
	}))
	require.NoError(t, f.Provide("txFirst", func() *aop.DefaultPointcutAdvisor {
		return aop.NewDefaultPointcutAdvisor(nil, recording(log, "first")).SetOrder(1)
	}))
	require.NoError(t, f.Provide("other", func() *counter { return &counter{} }))
	provideProxyFactoryBean(t, f, "greeter", func(pfb *ProxyFactoryBean) {
		pfb.Target = newGreeter()
		pfb.InterceptorNames = []string{"tx*"}
	})

	bean, err := f.GetBean(ctx, "greeter")
	require.NoError(t, err)
	assert.Equal(t, 2, advisedOf(t, bean).AdvisorCount())

	_, err = bean.(Greeter).Greet(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, log.get())
}

func TestProxyFactoryBean_TargetSourceBean(t *testing.T) {
	ctx := context.Background()
	f := newFactory(t)
	require.NoError(t, f.RegisterSingleton("pool", aop.NewPoolingTargetSource(nil, 2, func(context.Context) (any, error) {
		return newGreeter(), nil
	})))
	provideProxyFactoryBean(t, f, "greeter", func(pfb *ProxyFactoryBean) {
		pfb.TargetName = "pool"
		pfb.Interfaces = append(pfb.Interfaces, greeterType)
	})

	bean, err := f.GetBean(ctx, "greeter")
	require.NoError(t, err)
	got, err := bean.(Greeter).Greet(ctx, "pooled")
	require.NoError(t, err)
	assert.Equal(t, "hello pooled", got)
}

func TestProxyFactoryBean_MissingInterceptor(t *testing.T) {
	f := newFactory(t)
	provideProxyFactoryBean(t, f, "greeter", func(pfb *ProxyFactoryBean) {
		pfb.Target = newGreeter()
		pfb.InterceptorNames = []string{"missing"}
	})

	_, err := f.GetBean(context.Background(), "greeter")
	var noBean beans.NoSuchBeanDefinitionError
	assert.ErrorAs(t, err, &noBean)
}
