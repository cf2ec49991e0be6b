package autoproxy

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/bzb8/beans"
	"github.com/bzb8/beans/aop"
)

var (
	proxyType       = reflect.TypeOf((*aop.Proxy)(nil))
	interceptorType = reflect.TypeOf((*aop.MethodInterceptor)(nil)).Elem()
)

// ProxyFactoryBean is a FactoryBean producing a proxy configured from
// other beans.
//
// Example:
//
//	f.Provide("userService", func() *autoproxy.ProxyFactoryBean {
//		pfb := autoproxy.NewProxyFactoryBean()
//		pfb.TargetName = "userServiceTarget"
//		pfb.InterceptorNames = []string{"tracing", "tx*"}
//		return pfb
//	})
type ProxyFactoryBean struct {
	// InterceptorNames name the advice and advisor beans applied, outermost
	// first. A name ending in '*' adds every advisor and interceptor bean
	// with that prefix, sorted by order.
	InterceptorNames []string

	// TargetName names the target bean. A bean implementing
	// aop.TargetSource is used as the target source.
	TargetName string

	// Target is used when TargetName is empty.
	Target any

	// Interfaces to proxy. When empty the registered stub interfaces of the
	// target are proxied.
	Interfaces []reflect.Type

	ProxyTargetClass bool
	ExposeProxy      bool
	Frozen           bool

	// SingletonProxy makes Object return one shared proxy. Otherwise every
	// call returns a new proxy with its own prototype advisors and target.
	SingletonProxy bool

	Stubs *aop.StubRegistry

	factory *beans.Factory
	name    string
	logger  *zap.Logger

	mu          sync.Mutex
	initialized bool
	chain       []chainEntry
	proxies     *aop.DefaultAopProxyFactory
	singleton   any
}

// chainEntry is either a shared advisor or the name of a prototype advice
// bean fetched anew for every proxy.
type chainEntry struct {
	advisor  aop.Advisor
	beanName string
}

var (
	_ beans.FactoryBean      = (*ProxyFactoryBean)(nil)
	_ beans.BeanFactoryAware = (*ProxyFactoryBean)(nil)
	_ beans.BeanNameAware    = (*ProxyFactoryBean)(nil)
)

// NewProxyFactoryBean returns a factory bean producing a singleton proxy.
func NewProxyFactoryBean() *ProxyFactoryBean {
	return &ProxyFactoryBean{SingletonProxy: true}
}

func (p *ProxyFactoryBean) SetBeanFactory(f *beans.Factory) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.factory = f
	p.logger = f.Logger().Named("autoproxy")
}

func (p *ProxyFactoryBean) SetBeanName(name string) {
	p.name = name
}

func (p *ProxyFactoryBean) AopInfrastructure() {}

// Singleton reports whether Object returns a shared proxy.
func (p *ProxyFactoryBean) Singleton() bool { return p.SingletonProxy }

// ObjectType returns the type the proxy is handed out as.
func (p *ProxyFactoryBean) ObjectType() reflect.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.singleton != nil {
		return reflect.TypeOf(p.singleton)
	}
	if len(p.Interfaces) > 0 {
		return p.Interfaces[0]
	}
	if !p.ProxyTargetClass {
		if ifaces := p.stubs().InterfacesOf(p.targetType()); len(ifaces) > 0 {
			return ifaces[0]
		}
	}
	return proxyType
}

func (p *ProxyFactoryBean) targetType() reflect.Type {
	if p.TargetName != "" && p.factory != nil {
		t, err := p.factory.GetType(context.Background(), p.TargetName)
		if err == nil {
			return t
		}
		return nil
	}
	return reflect.TypeOf(p.Target)
}

func (p *ProxyFactoryBean) stubs() *aop.StubRegistry {
	if p.Stubs != nil {
		return p.Stubs
	}
	return aop.DefaultStubs
}

// Object returns the proxy.
func (p *ProxyFactoryBean) Object(ctx context.Context) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.initChain(ctx); err != nil {
		return nil, err
	}
	if !p.SingletonProxy {
		return p.newProxy(ctx)
	}
	if p.singleton == nil {
		proxy, err := p.newProxy(ctx)
		if err != nil {
			return nil, err
		}
		p.singleton = proxy
	}
	return p.singleton, nil
}

func (p *ProxyFactoryBean) initChain(ctx context.Context) error {
	if p.initialized {
		return nil
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	p.proxies = aop.NewDefaultAopProxyFactory(p.logger, p.stubs())

	for _, name := range p.InterceptorNames {
		if prefix, ok := strings.CutSuffix(name, "*"); ok {
			advisors, err := p.globalAdvisors(ctx, prefix)
			if err != nil {
				return err
			}
			for _, a := range advisors {
				p.chain = append(p.chain, chainEntry{advisor: a})
			}
			continue
		}

		if p.factory == nil {
			return fmt.Errorf("interceptor '%s': no bean factory", name)
		}
		shared := p.SingletonProxy
		if !shared {
			singleton, err := p.factory.IsSingleton(ctx, name)
			if err != nil {
				return err
			}
			shared = singleton
		}
		if !shared {
			p.chain = append(p.chain, chainEntry{beanName: name})
			continue
		}
		advisor, err := p.advisorBean(ctx, name)
		if err != nil {
			return err
		}
		p.chain = append(p.chain, chainEntry{advisor: advisor})
	}
	p.initialized = true
	return nil
}

func (p *ProxyFactoryBean) globalAdvisors(ctx context.Context, prefix string) ([]aop.Advisor, error) {
	if p.factory == nil {
		return nil, errors.New("global interceptors need a bean factory")
	}
	seen := make(map[string]bool)
	var advisors []aop.Advisor
	for _, typ := range []reflect.Type{advisorType, interceptorType} {
		names, err := p.factory.BeanNamesForType(ctx, typ, true, false)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			if seen[name] || !strings.HasPrefix(name, prefix) {
				continue
			}
			seen[name] = true
			advisor, err := p.advisorBean(ctx, name)
			if err != nil {
				return nil, err
			}
			advisors = append(advisors, advisor)
		}
	}
	aop.SortAdvisors(advisors)
	return advisors, nil
}

func (p *ProxyFactoryBean) advisorBean(ctx context.Context, name string) (aop.Advisor, error) {
	bean, err := p.factory.GetBean(ctx, name)
	if err != nil {
		return nil, err
	}
	advisor, err := aop.DefaultAdapterRegistry().Wrap(bean)
	if err != nil {
		return nil, fmt.Errorf("interceptor '%s': %w", name, err)
	}
	return advisor, nil
}

// freshAdvisors resolves the chain for one proxy, fetching prototype
// advice beans anew.
func (p *ProxyFactoryBean) freshAdvisors(ctx context.Context) ([]aop.Advisor, error) {
	advisors := make([]aop.Advisor, 0, len(p.chain))
	for _, entry := range p.chain {
		if entry.advisor != nil {
			advisors = append(advisors, entry.advisor)
			continue
		}
		advisor, err := p.advisorBean(ctx, entry.beanName)
		if err != nil {
			return nil, err
		}
		advisors = append(advisors, advisor)
	}
	return advisors, nil
}

func (p *ProxyFactoryBean) targetSource(ctx context.Context) (aop.TargetSource, error) {
	target := p.Target
	if p.TargetName != "" {
		if p.factory == nil {
			return nil, fmt.Errorf("target '%s': no bean factory", p.TargetName)
		}
		bean, err := p.factory.GetBean(ctx, p.TargetName)
		if err != nil {
			return nil, err
		}
		target = bean
	}
	switch t := target.(type) {
	case nil:
		return aop.EmptyTargetSource(nil), nil
	case aop.TargetSource:
		return t, nil
	}
	return aop.NewSingletonTargetSource(target), nil
}

func (p *ProxyFactoryBean) newProxy(ctx context.Context) (any, error) {
	ts, err := p.targetSource(ctx)
	if err != nil {
		return nil, err
	}
	advisors, err := p.freshAdvisors(ctx)
	if err != nil {
		return nil, err
	}

	config := aop.NewAdvisedSupport()
	for _, iface := range p.Interfaces {
		if err := config.AddInterface(iface); err != nil {
			return nil, err
		}
	}
	if len(p.Interfaces) == 0 && !p.ProxyTargetClass {
		for _, iface := range p.stubs().InterfacesOf(ts.TargetType()) {
			if err := config.AddInterface(iface); err != nil {
				return nil, err
			}
		}
	}
	config.SetProxyTargetClass(p.ProxyTargetClass)
	config.SetExposeProxy(p.ExposeProxy)
	config = config.CopyWith(ts, advisors)
	config.SetFrozen(p.Frozen)

	proxy, err := p.proxies.CreateAopProxy(config)
	if err != nil {
		return nil, fmt.Errorf("creating proxy '%s': %w", p.name, err)
	}
	p.logger.Debug("Created proxy from factory bean",
		zap.String("bean", p.name),
		zap.Stringer("kind", proxy.Kind()),
		zap.Int("advisors", len(advisors)),
	)
	return proxy.Object(), nil
}
