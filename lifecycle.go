package beans

import (
	"context"
	"reflect"
)

// InitializingBean is implemented by beans that need to act once all of
// their properties have been set.
type InitializingBean interface {
	PostConstruct() error
}

// BeanNameAware is implemented by beans that want to know their name in the
// factory.
type BeanNameAware interface {
	SetBeanName(name string)
}

// BeanFactoryAware is implemented by beans that want a reference to the
// owning factory.
type BeanFactoryAware interface {
	SetBeanFactory(f *Factory)
}

// FactoryBean is a bean that produces other beans. Looking it up by name
// returns the product; prefix the name with '&' to get the FactoryBean
// itself.
//
// Example:
//
//	type ClientFactory struct{ URL string }
//
//	func (f *ClientFactory) Object(ctx context.Context) (any, error) { return NewClient(f.URL) }
//	func (f *ClientFactory) ObjectType() reflect.Type               { return reflect.TypeOf(&Client{}) }
//	func (f *ClientFactory) Singleton() bool                        { return true }
type FactoryBean interface {
	// Object returns the product.
	Object(ctx context.Context) (any, error)

	// ObjectType returns the product type, or nil when not known in advance.
	ObjectType() reflect.Type

	// Singleton reports whether Object returns a shared instance that the
	// factory may cache.
	Singleton() bool
}

// SmartFactoryBean is a FactoryBean whose product should be created during
// PreInstantiateSingletons.
type SmartFactoryBean interface {
	FactoryBean
	EagerInit() bool
}

// SmartInitializingSingleton is notified once all eager singletons exist.
type SmartInitializingSingleton interface {
	AfterSingletonsInstantiated(ctx context.Context) error
}

// Ordered is implemented by beans and processors with an explicit order.
// Lower values come first.
type Ordered interface {
	BeanOrder() int
}

// PriorityOrdered marks an Ordered processor that runs before all plain
// Ordered ones.
type PriorityOrdered interface {
	Ordered
	PriorityOrdered()
}

// Prioritized is implemented by beans carrying a priority used to pick
// among several autowire candidates. Lower values win.
type Prioritized interface {
	BeanPriority() int
}

// PostProcessor is any value implementing at least one of the bean post
// processor interfaces below.
type PostProcessor any

// BeanPostProcessor may modify or wrap beans around their initialization.
// Returning nil keeps the current bean.
type BeanPostProcessor interface {
	BeforeInitialization(ctx context.Context, bean any, name string) (any, error)
	AfterInitialization(ctx context.Context, bean any, name string) (any, error)
}

// InstantiationAwareBeanPostProcessor hooks into bean instantiation and
// property population.
type InstantiationAwareBeanPostProcessor interface {
	// BeforeInstantiation may return a bean that short-circuits the regular
	// creation. Only AfterInitialization callbacks are applied to it.
	BeforeInstantiation(ctx context.Context, typ reflect.Type, name string) (any, error)

	// AfterInstantiation returns false to skip property population.
	AfterInstantiation(ctx context.Context, bean any, name string) (bool, error)

	// PostProcessProperties may inject into the bean directly and returns
	// the property values to apply.
	PostProcessProperties(ctx context.Context, pvs []PropertyValue, bean any, name string) ([]PropertyValue, error)
}

// SmartInstantiationAwareBeanPostProcessor predicts bean types and supplies
// early references for circular resolution.
type SmartInstantiationAwareBeanPostProcessor interface {
	// PredictBeanType returns the type the bean will be exposed as, or nil.
	PredictBeanType(typ reflect.Type, name string) reflect.Type

	// EarlyBeanReference returns the reference handed out while the bean is
	// still in creation.
	EarlyBeanReference(ctx context.Context, bean any, name string) any
}

// MergedBeanDefinitionPostProcessor is called once per merged definition
// before the bean is populated.
type MergedBeanDefinitionPostProcessor interface {
	PostProcessMergedDefinition(def *RootBeanDefinition, typ reflect.Type, name string)
}

// DestructionAwareBeanPostProcessor is called before a bean is destroyed.
type DestructionAwareBeanPostProcessor interface {
	BeforeDestruction(bean any, name string) error
	RequiresDestruction(bean any) bool
}

// BeanFactoryPostProcessor may modify bean definitions before any bean is
// created. It runs during Refresh.
type BeanFactoryPostProcessor interface {
	PostProcessBeanFactory(ctx context.Context, f *Factory) error
}

var (
	factoryBeanType        = reflect.TypeOf((*FactoryBean)(nil)).Elem()
	beanPostProcessorTypes = []reflect.Type{
		reflect.TypeOf((*BeanPostProcessor)(nil)).Elem(),
		reflect.TypeOf((*InstantiationAwareBeanPostProcessor)(nil)).Elem(),
		reflect.TypeOf((*SmartInstantiationAwareBeanPostProcessor)(nil)).Elem(),
		reflect.TypeOf((*MergedBeanDefinitionPostProcessor)(nil)).Elem(),
		reflect.TypeOf((*DestructionAwareBeanPostProcessor)(nil)).Elem(),
	}
	factoryPostProcessorType = reflect.TypeOf((*BeanFactoryPostProcessor)(nil)).Elem()
)

func isPostProcessor(p any) bool {
	switch p.(type) {
	case BeanPostProcessor, InstantiationAwareBeanPostProcessor, SmartInstantiationAwareBeanPostProcessor,
		MergedBeanDefinitionPostProcessor, DestructionAwareBeanPostProcessor:
		return true
	}
	return false
}
