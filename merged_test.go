package beans

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registerBaseConn(t *testing.T, f *Factory, host string) {
	t.Helper()
	require.NoError(t, f.RegisterBeanDefinition("base", &BeanDefinition{
		Abstract: true,
		Type:     typeOf[*Conn](),
		Scope:    ScopePrototype,
		Properties: []PropertyValue{
			{Name: "Host", Value: host},
			{Name: "Port", Value: 1},
		},
	}))
}

func TestMerged_ParentDefinition(t *testing.T) {
	f := newTestFactory(t)
	registerBaseConn(t, f, "base-host")
	require.NoError(t, f.RegisterBeanDefinition("child", &BeanDefinition{
		ParentName: "base",
		Properties: []PropertyValue{{Name: "Port", Value: 2}},
	}))

	c, err := ResolveNamed[*Conn](testCtx, f, "child")
	require.NoError(t, err)
	assert.Equal(t, &Conn{Host: "base-host", Port: 2}, c)

	mbd, err := f.MergedBeanDefinition("child")
	require.NoError(t, err)
	assert.True(t, mbd.IsPrototype())
	assert.False(t, mbd.Abstract)

	other, err := ResolveNamed[*Conn](testCtx, f, "child")
	require.NoError(t, err)
	assert.NotSame(t, c, other)

	_, err = f.GetBean(testCtx, "base")
	var abstractErr BeanIsAbstractError
	require.ErrorAs(t, err, &abstractErr)
	assert.ErrorIs(t, err, ErrBeanIsAbstract)
}

func TestMerged_ParentChangeResetsChildren(t *testing.T) {
	f := newTestFactory(t)
	registerBaseConn(t, f, "old")
	require.NoError(t, f.RegisterBeanDefinition("child", &BeanDefinition{ParentName: "base"}))

	c, err := ResolveNamed[*Conn](testCtx, f, "child")
	require.NoError(t, err)
	assert.Equal(t, "old", c.Host)

	registerBaseConn(t, f, "new")
	c, err = ResolveNamed[*Conn](testCtx, f, "child")
	require.NoError(t, err)
	assert.Equal(t, "new", c.Host)
}

func TestMerged_MissingParent(t *testing.T) {
	f := newTestFactory(t)
	require.NoError(t, f.RegisterBeanDefinition("child", &BeanDefinition{ParentName: "nope"}))

	_, err := f.GetBean(testCtx, "child")
	assert.ErrorIs(t, err, ErrNoSuchBean)
}

func TestMerged_DefaultScope(t *testing.T) {
	f := newTestFactory(t)
	require.NoError(t, f.Provide("repo", NewRepo))

	mbd, err := f.MergedBeanDefinition("repo")
	require.NoError(t, err)
	assert.Equal(t, ScopeSingleton, mbd.Scope)
	assert.True(t, mbd.IsSingleton())
}

func TestMerged_BeanReferences(t *testing.T) {
	f := newTestFactory(t)
	require.NoError(t, f.Provide("repo1", func() *Repo { return &Repo{Name: "r1"} }))
	require.NoError(t, f.Provide("repo2", func() *Repo { return &Repo{Name: "r2"} }))
	require.NoError(t, f.Provide("service", NewService, WithArgs(Ref("repo2"))))
	require.NoError(t, f.RegisterBeanDefinition("byProperty", &BeanDefinition{
		Type:       typeOf[*Service](),
		Properties: []PropertyValue{{Name: "Repo", Value: Ref("repo1")}},
	}))

	svc, err := ResolveNamed[*Service](testCtx, f, "service")
	require.NoError(t, err)
	assert.Equal(t, "r2", svc.Repo.Name)
	assert.Contains(t, f.DependentBeans("repo2"), "service")

	byProperty, err := ResolveNamed[*Service](testCtx, f, "byProperty")
	require.NoError(t, err)
	assert.Equal(t, "r1", byProperty.Repo.Name)

	require.NoError(t, f.Provide("broken", NewService, WithArgs(Ref("missing"))))
	_, err = f.GetBean(testCtx, "broken")
	assert.ErrorIs(t, err, ErrNoSuchBean)
}

func TestMerged_InnerBean(t *testing.T) {
	log := &eventLog{}
	f := newTestFactory(t)
	require.NoError(t, f.Provide("client", func(p *Pool) *Client { return &Client{Pool: p, log: log} },
		WithArgs(&BeanDefinition{Constructors: []any{func() *Pool { return &Pool{log: log} }}})))

	c, err := ResolveNamed[*Client](testCtx, f, "client")
	require.NoError(t, err)
	require.NotNil(t, c.Pool)

	// inner beans are not visible by type
	_, err = Resolve[*Pool](testCtx, f)
	assert.ErrorIs(t, err, ErrNoSuchBean)

	require.NoError(t, f.Close())
	assert.Equal(t, []string{"close:client", "close:pool"}, log.list())
}

func TestMerged_PropertyConversion(t *testing.T) {
	f := newTestFactory(t)
	require.NoError(t, f.RegisterBeanDefinition("conn", &BeanDefinition{
		Type:       typeOf[*Conn](),
		Properties: []PropertyValue{{Name: "Port", Value: "8080"}},
	}))

	c, err := ResolveNamed[*Conn](testCtx, f, "conn")
	require.NoError(t, err)
	assert.Equal(t, 8080, c.Port)

	require.NoError(t, f.RegisterBeanDefinition("bad", &BeanDefinition{
		Type:       typeOf[*Conn](),
		Properties: []PropertyValue{{Name: "Nope", Value: 1}},
	}))
	_, err = f.GetBean(testCtx, "bad")
	var creationErr BeanCreationError
	assert.ErrorAs(t, err, &creationErr)
}
