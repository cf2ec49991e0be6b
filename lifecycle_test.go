package beans

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lifeBean struct {
	log     *eventLog
	name    string
	factory *Factory
}

func (b *lifeBean) SetBeanName(name string) {
	b.name = name
	b.log.add("name")
}

func (b *lifeBean) SetBeanFactory(f *Factory) {
	b.factory = f
	b.log.add("factory")
}

func (b *lifeBean) PostConstruct() error {
	b.log.add("postConstruct")
	return nil
}

func (b *lifeBean) Start() { b.log.add("start") }

func (b *lifeBean) Destroy() error {
	b.log.add("destroy")
	return nil
}

func (b *lifeBean) Stop() error {
	b.log.add("stop")
	return nil
}

// recordingProcessor records post processing of lifeBeans.
type recordingProcessor struct {
	log *eventLog
}

func (p *recordingProcessor) BeforeInitialization(_ context.Context, bean any, _ string) (any, error) {
	if _, ok := bean.(*lifeBean); ok {
		p.log.add("before")
	}
	return bean, nil
}

func (p *recordingProcessor) AfterInitialization(_ context.Context, bean any, _ string) (any, error) {
	if _, ok := bean.(*lifeBean); ok {
		p.log.add("after")
	}
	return bean, nil
}

func (p *recordingProcessor) BeforeDestruction(bean any, _ string) error {
	p.log.add("beforeDestruction")
	return nil
}

func (p *recordingProcessor) RequiresDestruction(bean any) bool {
	_, ok := bean.(*lifeBean)
	return ok
}

func TestLifecycle_Order(t *testing.T) {
	log := &eventLog{}
	f := newTestFactory(t)
	require.NoError(t, f.AddPostProcessor(&recordingProcessor{log: log}))
	require.NoError(t, f.Provide("life", func() *lifeBean { return &lifeBean{log: log} },
		WithInitMethod("Start"), WithDestroyMethod("Stop")))

	b, err := ResolveNamed[*lifeBean](testCtx, f, "life")
	require.NoError(t, err)
	assert.Equal(t, "life", b.name)
	assert.Same(t, f, b.factory)
	assert.Equal(t, []string{"name", "factory", "before", "postConstruct", "start", "after"}, log.list())

	require.NoError(t, f.Close())
	assert.Equal(t, []string{"beforeDestruction", "destroy", "stop"}, log.list()[6:])
}

func TestLifecycle_MissingInitMethod(t *testing.T) {
	f := newTestFactory(t)
	require.NoError(t, f.Provide("repo", NewRepo, WithInitMethod("Nope")))

	_, err := f.GetBean(testCtx, "repo")
	var creationErr BeanCreationError
	require.ErrorAs(t, err, &creationErr)
	assert.Contains(t, err.Error(), "Nope")
}

func TestLifecycle_PrototypeNotDestroyed(t *testing.T) {
	log := &eventLog{}
	f := newTestFactory(t)
	require.NoError(t, f.Provide("pool", func() *Pool { return &Pool{log: log} }, AsPrototype()))

	bean, err := f.GetBean(testCtx, "pool")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Empty(t, log.list())

	require.NoError(t, f.DestroyBean("pool", bean))
	assert.Equal(t, []string{"close:pool"}, log.list())
}

type loudGreeter struct {
	Greeter
}

func (g loudGreeter) Greet() string { return g.Greeter.Greet() + "!" }

type wrappingProcessor struct {
	target string
}

func (p *wrappingProcessor) BeforeInitialization(_ context.Context, bean any, _ string) (any, error) {
	return bean, nil
}

func (p *wrappingProcessor) AfterInitialization(_ context.Context, bean any, name string) (any, error) {
	if name != p.target {
		return bean, nil
	}
	switch b := bean.(type) {
	case Greeter:
		return loudGreeter{Greeter: b}, nil
	case *TA:
		return &TA{B: b.B}, nil
	}
	return bean, nil
}

func TestLifecycle_PostProcessorWraps(t *testing.T) {
	f := newTestFactory(t)
	require.NoError(t, f.AddPostProcessor(&wrappingProcessor{target: "english"}))
	require.NoError(t, f.Provide("english", func() *English { return &English{} }))

	g, err := Resolve[Greeter](testCtx, f)
	require.NoError(t, err)
	assert.Equal(t, "hello!", g.Greet())

	_, err = ResolveNamed[*English](testCtx, f, "english")
	var notOfType BeanNotOfRequiredTypeError
	assert.ErrorAs(t, err, &notOfType)
}

func TestLifecycle_RawInjectionDespiteWrapping(t *testing.T) {
	register := func(t *testing.T, opts ...Option) *Factory {
		f := newTestFactory(t, opts...)
		require.NoError(t, f.AddPostProcessor(&wrappingProcessor{target: "a"}))
		require.NoError(t, f.RegisterBeanDefinition("a", &BeanDefinition{Type: typeOf[*TA]()}))
		require.NoError(t, f.RegisterBeanDefinition("b", &BeanDefinition{Type: typeOf[*TB]()}))
		return f
	}

	t.Run("rejected", func(t *testing.T) {
		f := register(t)
		_, err := f.GetBean(testCtx, "a")
		var inCreation CurrentlyInCreationError
		require.ErrorAs(t, err, &inCreation)
		assert.Contains(t, err.Error(), "raw version")
	})

	t.Run("allowed", func(t *testing.T) {
		f := register(t, WithAllowRawInjectionDespiteWrapping(true))
		a, err := ResolveNamed[*TA](testCtx, f, "a")
		require.NoError(t, err)
		assert.NotSame(t, a, a.B.A)
	})
}

type shortCircuit struct{}

func (shortCircuit) BeforeInstantiation(_ context.Context, _ reflect.Type, name string) (any, error) {
	if name == "repo" {
		return &Repo{Name: "short"}, nil
	}
	return nil, nil
}

func (shortCircuit) AfterInstantiation(context.Context, any, string) (bool, error) { return true, nil }

func (shortCircuit) PostProcessProperties(_ context.Context, pvs []PropertyValue, _ any, _ string) ([]PropertyValue, error) {
	return pvs, nil
}

func TestLifecycle_BeforeInstantiationShortCircuits(t *testing.T) {
	called := false
	f := newTestFactory(t)
	require.NoError(t, f.AddPostProcessor(shortCircuit{}))
	require.NoError(t, f.Provide("repo", func() *Repo {
		called = true
		return NewRepo()
	}))

	repo, err := ResolveNamed[*Repo](testCtx, f, "repo")
	require.NoError(t, err)
	assert.Equal(t, "short", repo.Name)
	assert.False(t, called)
}

type connFactory struct {
	calls     int
	singleton bool
}

func (c *connFactory) Object(context.Context) (any, error) {
	c.calls++
	return &Conn{Host: "from-factory", Port: c.calls}, nil
}

func (c *connFactory) ObjectType() reflect.Type { return typeOf[*Conn]() }

func (c *connFactory) Singleton() bool { return c.singleton }

func TestLifecycle_FactoryBean(t *testing.T) {
	t.Run("singleton product", func(t *testing.T) {
		f := newTestFactory(t)
		require.NoError(t, f.Provide("conn", func() *connFactory { return &connFactory{singleton: true} }))

		a, err := Resolve[*Conn](testCtx, f)
		require.NoError(t, err)
		b, err := ResolveNamed[*Conn](testCtx, f, "conn")
		require.NoError(t, err)
		assert.Same(t, a, b)

		fb, err := f.GetBean(testCtx, "&conn")
		require.NoError(t, err)
		require.IsType(t, &connFactory{}, fb)
		assert.Equal(t, 1, fb.(*connFactory).calls)

		typ, err := f.GetType(testCtx, "conn")
		require.NoError(t, err)
		assert.Equal(t, typeOf[*Conn](), typ)

		typ, err = f.GetType(testCtx, "&conn")
		require.NoError(t, err)
		assert.Equal(t, typeOf[*connFactory](), typ)

		assert.True(t, f.ContainsBean("&conn"))
	})

	t.Run("prototype product", func(t *testing.T) {
		f := newTestFactory(t)
		require.NoError(t, f.Provide("conn", func() *connFactory { return &connFactory{} }))

		a, err := f.GetBean(testCtx, "conn")
		require.NoError(t, err)
		b, err := f.GetBean(testCtx, "conn")
		require.NoError(t, err)
		assert.NotSame(t, a, b)

		singleton, err := f.IsSingleton(testCtx, "conn")
		require.NoError(t, err)
		assert.False(t, singleton)
	})

	t.Run("dereferencing a plain bean", func(t *testing.T) {
		f := newTestFactory(t)
		require.NoError(t, f.Provide("repo", NewRepo))

		_, err := f.GetBean(testCtx, "&repo")
		var notFactory BeanIsNotAFactoryError
		require.ErrorAs(t, err, &notFactory)
		assert.ErrorIs(t, err, ErrNotAFactory)
	})
}

type smartSingleton struct {
	log *eventLog
}

func (s *smartSingleton) AfterSingletonsInstantiated(context.Context) error {
	s.log.add("afterSingletons")
	return nil
}

func TestLifecycle_SmartInitializingSingleton(t *testing.T) {
	log := &eventLog{}
	f := newTestFactory(t)
	require.NoError(t, f.Provide("smart", func() *smartSingleton { return &smartSingleton{log: log} }))
	require.NoError(t, f.Provide("pool", func() *Pool {
		log.add("pool")
		return &Pool{log: log}
	}))

	require.NoError(t, f.Refresh(testCtx))
	assert.Equal(t, []string{"pool", "afterSingletons"}, log.list())
}
