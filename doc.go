// Package beans provides a bean container for Go applications: a registry
// of bean definitions that creates, wires, caches and destroys the objects
// they describe.
//
// # Overview
//
// The Factory offers:
//   - Singleton, prototype and custom scopes
//   - Constructor and factory-method injection with overload resolution
//   - Field injection through `inject` struct tags
//   - Autowiring by type or by name, with primary and priority tie-breaking
//   - Circular singleton references resolved through early references
//   - Parent/child definitions and parent factories
//   - FactoryBeans, whose product is exposed instead of themselves
//   - Post processor hooks around instantiation, initialization and destruction
//
// Proxies and interceptors live in package aop; package autoproxy connects
// them to a Factory.
//
// # Basic Usage
//
//	f := beans.New()
//	defer f.Close()
//
//	f.Provide("db", NewDatabase)
//	f.Provide("users", NewUserService)
//
//	if err := f.Refresh(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	users, err := beans.Resolve[*UserService](ctx, f)
//
// # Bean Definitions
//
// Provide covers the common case of one constructor. BeanDefinition exposes
// everything else:
//
//	f.RegisterBeanDefinition("cache", &beans.BeanDefinition{
//	    Type:              reflect.TypeOf(&Cache{}),
//	    Constructors:      []any{NewCache, NewCacheWithSize},
//	    Scope:             beans.ScopePrototype,
//	    InitMethodName:    "Start",
//	    DestroyMethodName: "Stop",
//	})
//
// When several constructors are registered the one whose parameters can be
// satisfied with the most arguments and the closest types is chosen.
// Configured arguments, bean references (Ref) and inner definitions are
// bound before autowiring fills the remaining parameters.
//
// # Dependencies
//
// Constructor parameters and tagged fields are resolved by type:
//
//	type Handler struct {
//	    Users   *UserService `inject:""`
//	    Cache   Cache        `inject:"bean=redisCache"`
//	    Metrics Metrics      `inject:"optional"`
//	}
//
// A slice or map[string]T parameter receives every matching bean. Optional
// and Provider defer or soften a dependency:
//
//	func NewReporter(mail beans.Optional[Mailer], jobs beans.Provider[*Job]) *Reporter
//
// # Lifecycle
//
// After creation a bean is populated, then initialized: BeanNameAware and
// BeanFactoryAware callbacks, BeanPostProcessor.BeforeInitialization,
// InitializingBean.PostConstruct, the init method and
// BeanPostProcessor.AfterInitialization. Singletons implementing
// DisposableBean or Disposable, or naming a destroy method, are destroyed
// by Close, dependents first.
//
// # Errors
//
// Typed errors carry the failing bean and wrap sentinel errors, so callers
// can use errors.Is and errors.As:
//
//	_, err := f.GetBean(ctx, "missing")
//	if errors.Is(err, beans.ErrNoSuchBean) {
//	    // ...
//	}
//
//	var creationErr beans.BeanCreationError
//	if errors.As(err, &creationErr) {
//	    log.Printf("creating %s: %v", creationErr.Name, creationErr.Cause)
//	}
//
// # Modules
//
// Related registrations can be grouped with NewModule and installed
// together:
//
//	var DataModule = beans.NewModule("data",
//	    beans.AddBean("db", NewDatabase),
//	    beans.AddBean("users", NewUserService),
//	)
//
//	err := f.Install(DataModule)
//
// # Thread Safety
//
// A Factory is safe for concurrent use. Concurrent requests for the same
// singleton create it once; a request that would wait on a creation
// already waiting on it receives the early reference instead.
package beans
