// Package autoproxy wires the aop package into a bean factory: a post
// processor proxying beans matched by advisor beans, and a FactoryBean
// producing configured proxies.
package autoproxy

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"

	"github.com/bzb8/beans"
	"github.com/bzb8/beans/aop"
	"github.com/bzb8/beans/internal/reflection"
)

var advisorType = reflect.TypeOf((*aop.Advisor)(nil)).Elem()

// Infrastructure marks beans that are never proxied.
type Infrastructure interface {
	AopInfrastructure()
}

// Creator is a bean post processor wrapping beans in proxies when advisor
// beans in the factory apply to them.
//
// It hands out the proxy as early reference of beans in a circular
// reference, so every holder gets the same proxy and the bean is wrapped
// only once.
type Creator struct {
	// ProxyTargetClass forces class proxies.
	ProxyTargetClass bool

	// ExposeProxy makes proxies available through aop.CurrentProxy.
	ExposeProxy bool

	// Frozen freezes the configuration of the proxies created.
	Frozen bool

	// BeanNames restricts proxying to beans whose name matches one of these
	// patterns. '*' is a wildcard. Empty means every bean.
	BeanNames []string

	// InterceptorNames name advice or advisor beans applied to every proxy,
	// ahead of the advisors found by type.
	InterceptorNames []string

	factory *beans.Factory
	logger  *zap.Logger
	stubs   *aop.StubRegistry
	proxies *aop.DefaultAopProxyFactory

	mu         sync.Mutex
	earlyRefs  map[string]any
	earlyErrs  map[string]error
	advised    map[string]bool
	proxyTypes map[string]reflect.Type
}

var (
	_ beans.BeanPostProcessor                        = (*Creator)(nil)
	_ beans.SmartInstantiationAwareBeanPostProcessor = (*Creator)(nil)
	_ beans.BeanFactoryAware                         = (*Creator)(nil)
	_ beans.Ordered                                  = (*Creator)(nil)
)

// NewCreator returns a creator for f. Add it with f.AddPostProcessor, or
// register it as a bean and let Refresh pick it up.
func NewCreator(f *beans.Factory) *Creator {
	c := &Creator{}
	if f != nil {
		c.SetBeanFactory(f)
	}
	return c
}

// SetBeanFactory sets the factory advisors are looked up in.
func (c *Creator) SetBeanFactory(f *beans.Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factory = f
	if c.logger == nil {
		c.logger = f.Logger().Named("autoproxy")
	}
	c.init()
}

// SetLogger sets the logger of the creator and its proxies.
func (c *Creator) SetLogger(logger *zap.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = logger
	c.proxies = nil
	c.init()
}

// SetStubRegistry sets the registry typed stubs come from.
func (c *Creator) SetStubRegistry(r *aop.StubRegistry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stubs = r
	c.proxies = nil
	c.init()
}

func (c *Creator) init() {
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.stubs == nil {
		c.stubs = aop.DefaultStubs
	}
	if c.proxies == nil {
		c.proxies = aop.NewDefaultAopProxyFactory(c.logger, c.stubs)
	}
	if c.earlyRefs == nil {
		c.earlyRefs = make(map[string]any)
		c.earlyErrs = make(map[string]error)
		c.advised = make(map[string]bool)
		c.proxyTypes = make(map[string]reflect.Type)
	}
}

// BeanOrder runs the creator after other post processors.
func (c *Creator) BeanOrder() int { return beans.LowestPrecedence }

func (c *Creator) AopInfrastructure() {}

// PredictBeanType returns the proxy type of beans already proxied.
func (c *Creator) PredictBeanType(_ reflect.Type, name string) reflect.Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proxyTypes[name]
}

// EarlyBeanReference proxies a bean handed out while still in creation.
// When proxying fails the raw bean is handed out and the failure is
// returned by AfterInitialization, failing the creation of the bean.
func (c *Creator) EarlyBeanReference(ctx context.Context, bean any, name string) any {
	c.mu.Lock()
	c.init()
	c.earlyRefs[name] = bean
	c.mu.Unlock()

	proxy, err := c.wrapIfNecessary(ctx, bean, name)
	if err != nil {
		c.logger.Debug("Failed to create early proxy", zap.String("bean", name), zap.Error(err))
		c.mu.Lock()
		c.earlyErrs[name] = err
		c.mu.Unlock()
		return bean
	}
	return proxy
}

func (c *Creator) BeforeInitialization(_ context.Context, bean any, _ string) (any, error) {
	return bean, nil
}

// AfterInitialization proxies the bean unless its early reference was
// proxied already.
func (c *Creator) AfterInitialization(ctx context.Context, bean any, name string) (any, error) {
	c.mu.Lock()
	c.init()
	early, ok := c.earlyRefs[name]
	earlyErr := c.earlyErrs[name]
	delete(c.earlyRefs, name)
	delete(c.earlyErrs, name)
	c.mu.Unlock()

	if earlyErr != nil {
		return nil, fmt.Errorf("creating early proxy for bean '%s': %w", name, earlyErr)
	}
	if ok && reflection.SameInstance(early, bean) {
		return bean, nil
	}
	return c.wrapIfNecessary(ctx, bean, name)
}

func (c *Creator) wrapIfNecessary(ctx context.Context, bean any, name string) (any, error) {
	if bean == nil || !c.nameMatches(name) {
		return bean, nil
	}
	c.mu.Lock()
	advised, seen := c.advised[name]
	c.mu.Unlock()
	if seen && !advised {
		return bean, nil
	}
	if isInfrastructure(bean) {
		c.markAdvised(name, false)
		return bean, nil
	}

	targetType := reflect.TypeOf(bean)
	advisors, err := c.advisorsFor(ctx, targetType, name)
	if err != nil {
		return nil, err
	}
	if len(advisors) == 0 {
		c.markAdvised(name, false)
		return bean, nil
	}
	c.markAdvised(name, true)

	c.mu.Lock()
	stubs, proxies, logger := c.stubs, c.proxies, c.logger
	c.mu.Unlock()

	pf := aop.NewProxyFactory(bean)
	pf.SetStubRegistry(stubs)
	pf.SetAopProxyFactory(proxies)
	pf.SetLogger(logger)
	pf.SetProxyTargetClass(c.ProxyTargetClass)
	pf.SetExposeProxy(c.ExposeProxy)
	pf.SetPreFiltered(true)
	if err := pf.AddAdvisors(advisors...); err != nil {
		return nil, err
	}
	pf.SetFrozen(c.Frozen)

	proxy, err := pf.GetProxy()
	if err != nil {
		return nil, fmt.Errorf("creating proxy for bean '%s': %w", name, err)
	}

	c.mu.Lock()
	c.proxyTypes[name] = reflect.TypeOf(proxy)
	c.mu.Unlock()

	logger.Debug("Created proxy for bean",
		zap.String("bean", name),
		zap.Stringer("target", targetType),
		zap.Int("advisors", len(advisors)),
	)
	return proxy, nil
}

func (c *Creator) markAdvised(name string, advised bool) {
	if name == "" {
		return
	}
	c.mu.Lock()
	c.advised[name] = advised
	c.mu.Unlock()
}

func (c *Creator) nameMatches(name string) bool {
	if len(c.BeanNames) == 0 {
		return true
	}
	for _, pattern := range c.BeanNames {
		if aop.SimpleMatch(pattern, name) {
			return true
		}
	}
	return false
}

// advisorsFor returns the common interceptors followed by the advisor
// beans applying to targetType, sorted by order.
func (c *Creator) advisorsFor(ctx context.Context, targetType reflect.Type, name string) ([]aop.Advisor, error) {
	c.mu.Lock()
	f := c.factory
	c.mu.Unlock()
	if f == nil {
		return nil, errors.New("autoproxy: creator has no bean factory")
	}

	var out []aop.Advisor
	for _, n := range c.InterceptorNames {
		bean, err := f.GetBean(ctx, n)
		if err != nil {
			return nil, err
		}
		advisor, err := aop.DefaultAdapterRegistry().Wrap(bean)
		if err != nil {
			return nil, fmt.Errorf("interceptor '%s': %w", n, err)
		}
		out = append(out, advisor)
	}

	candidates, err := c.candidateAdvisors(ctx, f, name)
	if err != nil {
		return nil, err
	}
	eligible := aop.AdvisorsThatCanApply(candidates, targetType)
	aop.SortAdvisors(eligible)
	return append(out, eligible...), nil
}

func (c *Creator) candidateAdvisors(ctx context.Context, f *beans.Factory, beanName string) ([]aop.Advisor, error) {
	names, err := f.BeanNamesForType(ctx, advisorType, true, false)
	if err != nil {
		return nil, err
	}

	var advisors []aop.Advisor
	for _, n := range names {
		if n == beanName || f.IsCurrentlyInCreation(n) {
			c.logger.Debug("Skipping advisor currently in creation", zap.String("advisor", n))
			continue
		}
		bean, err := f.GetBean(ctx, n)
		if err != nil {
			if errors.Is(err, beans.ErrCurrentlyInCreation) {
				continue
			}
			return nil, err
		}
		if advisor, ok := bean.(aop.Advisor); ok {
			advisors = append(advisors, advisor)
		}
	}
	return advisors, nil
}

func isInfrastructure(bean any) bool {
	if aop.IsAopProxy(bean) {
		return true
	}
	switch bean.(type) {
	case aop.Advisor, aop.MethodInterceptor, aop.Pointcut, aop.MethodBeforeAdvice,
		aop.AfterReturningAdvice, aop.ThrowsAdvice, aop.TargetSource, Infrastructure:
		return true
	}
	return false
}
