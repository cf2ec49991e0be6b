package beans

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory_ProvideAndResolve(t *testing.T) {
	f := newTestFactory(t)
	require.NoError(t, f.Provide("repo", NewRepo))
	require.NoError(t, f.Provide("service", NewService))

	svc, err := Resolve[*Service](testCtx, f)
	require.NoError(t, err)
	require.NotNil(t, svc.Repo)
	assert.Equal(t, "default", svc.Repo.Name)

	again, err := Resolve[*Service](testCtx, f)
	require.NoError(t, err)
	assert.Same(t, svc, again)

	repo, err := ResolveNamed[*Repo](testCtx, f, "repo")
	require.NoError(t, err)
	assert.Same(t, svc.Repo, repo)
	assert.Equal(t, []string{"repo"}, f.Dependencies("service"))
	assert.Equal(t, []string{"service"}, f.DependentBeans("repo"))
}

func TestFactory_Prototype(t *testing.T) {
	f := newTestFactory(t)
	require.NoError(t, f.Provide("repo", NewRepo, AsPrototype()))

	a, err := f.GetBean(testCtx, "repo")
	require.NoError(t, err)
	b, err := f.GetBean(testCtx, "repo")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.False(t, f.ContainsSingleton("repo"))
}

func TestFactory_RegisterBeanDefinition(t *testing.T) {
	t.Run("rejects empty definitions", func(t *testing.T) {
		f := newTestFactory(t)

		err := f.RegisterBeanDefinition("empty", &BeanDefinition{})
		var defErr BeanDefinitionError
		require.ErrorAs(t, err, &defErr)
		assert.True(t, errors.Is(err, ErrInvalidDefinition))

		err = f.RegisterBeanDefinition("", &BeanDefinition{Constructors: []any{NewRepo}})
		assert.Error(t, err)

		err = f.Provide("notfunc", 42)
		assert.ErrorAs(t, err, &defErr)
	})

	t.Run("overriding disallowed", func(t *testing.T) {
		f := newTestFactory(t, WithAllowBeanDefinitionOverriding(false))
		require.NoError(t, f.Provide("repo", NewRepo))

		err := f.Provide("repo", NewRepo)
		var overrideErr BeanDefinitionOverrideError
		require.ErrorAs(t, err, &overrideErr)
		assert.Equal(t, "repo", overrideErr.Name)
	})

	t.Run("overriding resets the singleton", func(t *testing.T) {
		f := newTestFactory(t)
		require.NoError(t, f.Provide("repo", NewRepo))
		first, err := ResolveNamed[*Repo](testCtx, f, "repo")
		require.NoError(t, err)
		assert.Equal(t, "default", first.Name)

		require.NoError(t, f.Provide("repo", func() *Repo { return &Repo{Name: "other"} }))
		second, err := ResolveNamed[*Repo](testCtx, f, "repo")
		require.NoError(t, err)
		assert.Equal(t, "other", second.Name)
	})

	t.Run("remove", func(t *testing.T) {
		f := newTestFactory(t)
		require.NoError(t, f.Provide("repo", NewRepo))
		_, err := f.GetBean(testCtx, "repo")
		require.NoError(t, err)

		require.NoError(t, f.RemoveBeanDefinition("repo"))
		assert.False(t, f.ContainsBean("repo"))
		assert.ErrorIs(t, f.RemoveBeanDefinition("repo"), ErrNoSuchBean)
	})
}

func TestFactory_GetBean_Missing(t *testing.T) {
	f := newTestFactory(t)

	_, err := f.GetBean(testCtx, "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoSuchBean)

	_, err = Resolve[*Repo](testCtx, f)
	var noSuch NoSuchBeanDefinitionError
	require.ErrorAs(t, err, &noSuch)
	assert.Equal(t, typeOf[*Repo](), noSuch.Type)
}

func TestFactory_Aliases(t *testing.T) {
	f := newTestFactory(t)
	require.NoError(t, f.Provide("repo", NewRepo))
	require.NoError(t, f.RegisterAlias("repo", "r"))
	require.NoError(t, f.RegisterAlias("r", "rr"))

	a, err := f.GetBean(testCtx, "repo")
	require.NoError(t, err)
	b, err := f.GetBean(testCtx, "rr")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.ElementsMatch(t, []string{"r", "rr"}, f.Aliases("repo"))
	assert.True(t, f.ContainsBean("r"))

	assert.Error(t, f.RegisterAlias("x", "repo"), "alias must not shadow a bean name")

	require.NoError(t, f.RegisterAlias("a", "b"))
	assert.Error(t, f.RegisterAlias("b", "a"), "circular alias")
}

func TestFactory_RegisterSingleton(t *testing.T) {
	f := newTestFactory(t)
	manual := &Repo{Name: "manual"}
	require.NoError(t, f.RegisterSingleton("repo", manual))
	require.NoError(t, f.Provide("service", NewService))

	svc, err := Resolve[*Service](testCtx, f)
	require.NoError(t, err)
	assert.Same(t, manual, svc.Repo)
	assert.True(t, f.ContainsBean("repo"))
	assert.False(t, f.ContainsBeanDefinition("repo"))

	assert.Error(t, f.RegisterSingleton("repo", &Repo{}), "duplicate registration")
}

func TestFactory_Close_DestroysDependentsFirst(t *testing.T) {
	log := &eventLog{}
	f := newTestFactory(t)
	require.NoError(t, f.Provide("pool", func() *Pool { return &Pool{log: log} }))
	require.NoError(t, f.Provide("client", func(p *Pool) *Client { return &Client{Pool: p, log: log} }))
	require.NoError(t, f.Refresh(testCtx))

	require.NoError(t, f.Close())
	assert.Equal(t, []string{"close:client", "close:pool"}, log.list())

	require.NoError(t, f.Close(), "close is idempotent")
	assert.Len(t, log.list(), 2)

	_, err := f.GetBean(testCtx, "pool")
	assert.ErrorIs(t, err, ErrFactoryClosed)
}

func TestFactory_DestroySingleton_TakesDependents(t *testing.T) {
	log := &eventLog{}
	f := newTestFactory(t)
	require.NoError(t, f.Provide("pool", func() *Pool { return &Pool{log: log} }))
	require.NoError(t, f.Provide("client", func(p *Pool) *Client { return &Client{Pool: p, log: log} }))
	_, err := f.GetBean(testCtx, "client")
	require.NoError(t, err)

	f.DestroySingleton("pool")
	assert.Equal(t, []string{"close:client", "close:pool"}, log.list())
	assert.False(t, f.ContainsSingleton("client"))

	// definitions survive
	_, err = f.GetBean(testCtx, "client")
	require.NoError(t, err)
}

func TestFactory_DependsOn(t *testing.T) {
	t.Run("creates dependencies first", func(t *testing.T) {
		log := &eventLog{}
		f := newTestFactory(t)
		require.NoError(t, f.Provide("first", func() *Repo {
			log.add("first")
			return &Repo{}
		}))
		require.NoError(t, f.Provide("second", func() *Conn {
			log.add("second")
			return &Conn{}
		}, WithDependsOn("first")))

		_, err := f.GetBean(testCtx, "second")
		require.NoError(t, err)
		assert.Equal(t, []string{"first", "second"}, log.list())
	})

	t.Run("cycle", func(t *testing.T) {
		f := newTestFactory(t)
		require.NoError(t, f.Provide("x", NewRepo, WithDependsOn("y")))
		require.NoError(t, f.Provide("y", NewRepo, WithDependsOn("x")))

		_, err := f.GetBean(testCtx, "x")
		var cycle *CircularDependencyError
		require.ErrorAs(t, err, &cycle)
	})

	t.Run("missing", func(t *testing.T) {
		f := newTestFactory(t)
		require.NoError(t, f.Provide("x", NewRepo, WithDependsOn("missing")))

		_, err := f.GetBean(testCtx, "x")
		assert.ErrorIs(t, err, ErrNoSuchBean)
	})
}

func TestFactory_NewChild(t *testing.T) {
	parent := newTestFactory(t)
	require.NoError(t, parent.Provide("repo", NewRepo))

	child := parent.NewChild()
	t.Cleanup(func() { _ = child.Close() })
	require.NoError(t, child.Provide("service", NewService))

	svc, err := Resolve[*Service](testCtx, child)
	require.NoError(t, err)

	repo, err := ResolveNamed[*Repo](testCtx, parent, "repo")
	require.NoError(t, err)
	assert.Same(t, repo, svc.Repo)

	assert.True(t, child.ContainsBean("repo"))
	assert.False(t, child.ContainsLocalBean("repo"))
	assert.False(t, parent.ContainsBean("service"))

	require.NoError(t, child.Close())
	assert.True(t, parent.ContainsSingleton("repo"), "closing a child leaves the parent alone")
}

func TestFactory_WriteDependencyGraph(t *testing.T) {
	f := newTestFactory(t)
	require.NoError(t, f.Provide("repo", NewRepo))
	require.NoError(t, f.Provide("service", NewService))
	_, err := f.GetBean(testCtx, "service")
	require.NoError(t, err)

	var text bytes.Buffer
	require.NoError(t, f.WriteDependencyGraph(&text, false))
	assert.Contains(t, text.String(), "repo")
	assert.Contains(t, text.String(), "service")

	var dot bytes.Buffer
	require.NoError(t, f.WriteDependencyGraph(&dot, true))
	assert.Contains(t, dot.String(), "digraph")
}
