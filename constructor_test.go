package beans

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Multi struct {
	Via string
}

type Builder struct {
	prefix string
}

func (b *Builder) Build(r *Repo) *Conn {
	return &Conn{Host: b.prefix + r.Name}
}

func TestConstructor_GreedySelection(t *testing.T) {
	ctors := []any{
		func() *Multi { return &Multi{Via: "none"} },
		func(*Repo) *Multi { return &Multi{Via: "one"} },
		func(*Repo, *Service) *Multi { return &Multi{Via: "two"} },
	}

	tests := []struct {
		name    string
		service bool
		want    string
	}{
		{name: "all satisfiable", service: true, want: "two"},
		{name: "falls back to fewer params", service: false, want: "one"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFactory(t)
			require.NoError(t, f.Provide("repo", NewRepo))
			if tt.service {
				require.NoError(t, f.Provide("service", NewService))
			}
			require.NoError(t, f.RegisterBeanDefinition("multi", &BeanDefinition{Constructors: ctors}))

			m, err := ResolveNamed[*Multi](testCtx, f, "multi")
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Via)
		})
	}
}

func TestConstructor_IndexedArguments(t *testing.T) {
	newConn := func(host string, port int) *Conn { return &Conn{Host: host, Port: port} }

	t.Run("exact", func(t *testing.T) {
		f := newTestFactory(t)
		require.NoError(t, f.Provide("conn", newConn, WithArgs("localhost", 8080)))

		c, err := ResolveNamed[*Conn](testCtx, f, "conn")
		require.NoError(t, err)
		assert.Equal(t, &Conn{Host: "localhost", Port: 8080}, c)
	})

	t.Run("converted", func(t *testing.T) {
		f := newTestFactory(t)
		require.NoError(t, f.Provide("conn", newConn, WithArgs("db", "5432")))

		c, err := ResolveNamed[*Conn](testCtx, f, "conn")
		require.NoError(t, err)
		assert.Equal(t, 5432, c.Port)
	})
}

func TestConstructor_NamedGenericArguments(t *testing.T) {
	f := newTestFactory(t)
	def := &BeanDefinition{
		Constructors: []any{
			Constructor(func(host string, port int) *Conn { return &Conn{Host: host, Port: port} }, "host", "port"),
		},
	}
	def.ConstructorArgs.AddGenericHolder(&ValueHolder{Name: "port", Value: 9000})
	def.ConstructorArgs.AddGenericHolder(&ValueHolder{Name: "host", Value: "example"})
	require.NoError(t, f.RegisterBeanDefinition("conn", def))

	c, err := ResolveNamed[*Conn](testCtx, f, "conn")
	require.NoError(t, err)
	assert.Equal(t, &Conn{Host: "example", Port: 9000}, c)
}

func TestConstructor_ExplicitArguments(t *testing.T) {
	f := newTestFactory(t)
	require.NoError(t, f.Provide("conn", func(host string, port int) *Conn {
		return &Conn{Host: host, Port: port}
	}, AsPrototype()))

	bean, err := f.GetBean(testCtx, "conn", "h", 1)
	require.NoError(t, err)
	assert.Equal(t, &Conn{Host: "h", Port: 1}, bean)

	_, err = f.GetBean(testCtx, "conn", "h")
	var creationErr BeanCreationError
	require.ErrorAs(t, err, &creationErr)
}

func TestConstructor_Ambiguity(t *testing.T) {
	ctors := []any{
		func(*Repo) *Multi { return &Multi{Via: "repo"} },
		func(*Service) *Multi { return &Multi{Via: "service"} },
	}
	setup := func(t *testing.T, opts ...DefinitionOption) *Factory {
		f := newTestFactory(t)
		require.NoError(t, f.Provide("repo", NewRepo))
		require.NoError(t, f.Provide("service", NewService))
		def := &BeanDefinition{Constructors: ctors}
		for _, opt := range opts {
			opt.applyDefinition(def)
		}
		require.NoError(t, f.RegisterBeanDefinition("multi", def))
		return f
	}

	t.Run("lenient takes the first", func(t *testing.T) {
		f := setup(t)
		m, err := ResolveNamed[*Multi](testCtx, f, "multi")
		require.NoError(t, err)
		assert.Equal(t, "repo", m.Via)
	})

	t.Run("strict fails", func(t *testing.T) {
		f := setup(t, WithStrictConstructorResolution())
		_, err := f.GetBean(testCtx, "multi")
		var ambiguous AmbiguousConstructorError
		require.ErrorAs(t, err, &ambiguous)
	})
}

func TestConstructor_FactoryMethodOnBean(t *testing.T) {
	f := newTestFactory(t)
	require.NoError(t, f.RegisterSingleton("builder", &Builder{prefix: "db-"}))
	require.NoError(t, f.Provide("repo", NewRepo))
	require.NoError(t, f.RegisterBeanDefinition("conn", &BeanDefinition{
		FactoryBeanName:   "builder",
		FactoryMethodName: "Build",
	}))

	typ, err := f.GetType(testCtx, "conn")
	require.NoError(t, err)
	assert.Equal(t, typeOf[*Conn](), typ)

	c, err := Resolve[*Conn](testCtx, f)
	require.NoError(t, err)
	assert.Equal(t, "db-default", c.Host)
}

func TestConstructor_FactoryFunctions(t *testing.T) {
	connType := typeOf[*Conn]()
	register := func(t *testing.T, opts ...DefinitionOption) *Factory {
		f := newTestFactory(t)
		require.NoError(t, f.RegisterFactoryFunctions(connType, "Create",
			func() *Conn { return &Conn{Host: "zero"} },
			func(port int) *Conn { return &Conn{Host: "port", Port: port} },
		))
		def := &BeanDefinition{Type: connType, FactoryMethodName: "Create"}
		for _, opt := range opts {
			opt.applyDefinition(def)
		}
		require.NoError(t, f.RegisterBeanDefinition("conn", def))
		return f
	}

	t.Run("unsatisfiable overload skipped", func(t *testing.T) {
		f := register(t)
		c, err := ResolveNamed[*Conn](testCtx, f, "conn")
		require.NoError(t, err)
		assert.Equal(t, "zero", c.Host)
	})

	t.Run("argument selects overload", func(t *testing.T) {
		f := register(t, WithArgs(7))
		c, err := ResolveNamed[*Conn](testCtx, f, "conn")
		require.NoError(t, err)
		assert.Equal(t, &Conn{Host: "port", Port: 7}, c)
	})
}

func TestConstructor_Errors(t *testing.T) {
	t.Run("constructor error", func(t *testing.T) {
		boom := errors.New("boom")
		f := newTestFactory(t)
		require.NoError(t, f.Provide("bad", func() (*Repo, error) { return nil, boom }))

		_, err := f.GetBean(testCtx, "bad")
		assert.ErrorIs(t, err, boom)
		assert.False(t, f.ContainsSingleton("bad"))
	})

	t.Run("void constructor", func(t *testing.T) {
		f := newTestFactory(t)
		require.NoError(t, f.Provide("void", func() {}))

		_, err := f.GetBean(testCtx, "void")
		var defErr BeanDefinitionError
		assert.ErrorAs(t, err, &defErr)
	})

	t.Run("unsatisfied parameter", func(t *testing.T) {
		f := newTestFactory(t)
		require.NoError(t, f.Provide("service", NewService))

		_, err := f.GetBean(testCtx, "service")
		var unsatisfied UnsatisfiedDependencyError
		require.ErrorAs(t, err, &unsatisfied)
		assert.Equal(t, "service", unsatisfied.Name)
		assert.ErrorIs(t, err, ErrNoSuchBean)
	})

	t.Run("rejected candidates attach to the requested bean", func(t *testing.T) {
		type first struct{}
		type second struct{}
		errFirst := errors.New("first failed")
		errSecond := errors.New("second failed")

		f := newTestFactory(t)
		require.NoError(t, f.Provide("first", func() (*first, error) { return nil, errFirst }))
		require.NoError(t, f.Provide("second", func() (*second, error) { return nil, errSecond }))
		require.NoError(t, f.RegisterBeanDefinition("multi", &BeanDefinition{Constructors: []any{
			func(*first) *Multi { return &Multi{Via: "one"} },
			func(*second, *first) *Multi { return &Multi{Via: "two"} },
		}}))

		_, err := f.GetBean(testCtx, "multi")
		require.Error(t, err)

		unsatisfied, ok := err.(UnsatisfiedDependencyError)
		require.True(t, ok, "got %T", err)
		assert.Equal(t, "multi", unsatisfied.Name)
		assert.ErrorIs(t, err, errFirst)

		require.Len(t, unsatisfied.RelatedCauses, 1)
		var related UnsatisfiedDependencyError
		require.ErrorAs(t, unsatisfied.RelatedCauses[0], &related)
		assert.Equal(t, "multi", related.Name)
		assert.ErrorIs(t, unsatisfied.RelatedCauses[0], errSecond)
		assert.Contains(t, err.Error(), "Related causes")
	})

	t.Run("factory bean is the bean itself", func(t *testing.T) {
		f := newTestFactory(t)
		err := f.RegisterBeanDefinition("self", &BeanDefinition{FactoryBeanName: "self", FactoryMethodName: "Make"})
		var defErr BeanDefinitionError
		require.ErrorAs(t, err, &defErr)
		assert.Equal(t, "self", defErr.Name)
		assert.False(t, f.ContainsBeanDefinition("self"))
	})

	t.Run("factory bean reached through an alias", func(t *testing.T) {
		f := newTestFactory(t)
		require.NoError(t, f.RegisterAlias("self", "me"))
		err := f.RegisterBeanDefinition("self", &BeanDefinition{FactoryBeanName: "me", FactoryMethodName: "Make"})
		assert.ErrorIs(t, err, ErrInvalidDefinition)
	})

	t.Run("factory beans referring to each other", func(t *testing.T) {
		f := newTestFactory(t)
		require.NoError(t, f.RegisterBeanDefinition("a", &BeanDefinition{FactoryBeanName: "b", FactoryMethodName: "Make"}))
		require.NoError(t, f.RegisterBeanDefinition("b", &BeanDefinition{FactoryBeanName: "a", FactoryMethodName: "Make"}))

		typ, err := f.GetType(testCtx, "a")
		require.NoError(t, err)
		assert.Nil(t, typ)

		_, err = f.GetBean(testCtx, "a")
		assert.Error(t, err)
		assert.False(t, f.ContainsSingleton("a"))
		assert.False(t, f.ContainsSingleton("b"))
	})
}

func TestConstructor_PrototypeReusesResolvedConstructor(t *testing.T) {
	calls := 0
	f := newTestFactory(t)
	require.NoError(t, f.Provide("repo", NewRepo))
	require.NoError(t, f.Provide("service", func(r *Repo) *Service {
		calls++
		return &Service{Repo: r}
	}, AsPrototype()))

	a, err := ResolveNamed[*Service](testCtx, f, "service")
	require.NoError(t, err)
	b, err := ResolveNamed[*Service](testCtx, f, "service")
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Same(t, a.Repo, b.Repo)
	assert.Equal(t, 2, calls)

	mbd, err := f.MergedBeanDefinition("service")
	require.NoError(t, err)
	assert.Equal(t, reflect.TypeOf(&Service{}), mbd.ResolvedTargetType())
}

func TestConstructor_CircularConstructorInjection(t *testing.T) {
	f := newTestFactory(t)
	require.NoError(t, f.Provide("ca", NewCA))
	require.NoError(t, f.Provide("cb", NewCB))

	_, err := f.GetBean(testCtx, "ca")
	var inCreation CurrentlyInCreationError
	require.ErrorAs(t, err, &inCreation)
	assert.Equal(t, "ca", inCreation.Name)
	assert.ErrorIs(t, err, ErrCurrentlyInCreation)
	assert.False(t, f.ContainsSingleton("ca"))
	assert.False(t, f.ContainsSingleton("cb"))
}
