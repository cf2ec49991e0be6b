package beans

import (
	"reflect"

	"go.uber.org/zap"
)

// Converter converts configured values to parameter, field and property
// types.
type Converter interface {
	Convert(value any, t reflect.Type) (any, error)
}

// Option configures a Factory.
type Option interface {
	apply(*options)
}

type options struct {
	logger                       *zap.Logger
	parent                       *Factory
	converter                    Converter
	serializationID              string
	allowCircularReferences      bool
	allowDefinitionOverriding    bool
	allowRawInjectionDespiteWrap bool
	cacheBeanMetadata            bool
	fieldInjection               bool
}

func defaultOptions() *options {
	return &options{
		allowCircularReferences:   true,
		allowDefinitionOverriding: true,
		cacheBeanMetadata:         true,
		fieldInjection:            true,
	}
}

// optionFunc adapts a function to Option.
type optionFunc func(*options)

func (f optionFunc) apply(opts *options) {
	f(opts)
}

// WithLogger sets the logger. The default discards all output.
func WithLogger(logger *zap.Logger) Option {
	return optionFunc(func(opts *options) {
		opts.logger = logger
	})
}

// WithParent sets the parent factory consulted for beans not defined
// locally.
func WithParent(parent *Factory) Option {
	return optionFunc(func(opts *options) {
		opts.parent = parent
	})
}

// WithConverter replaces the value converter.
func WithConverter(c Converter) Option {
	return optionFunc(func(opts *options) {
		opts.converter = c
	})
}

// WithSerializationID sets the factory id carried by Provider values. A
// random id is generated otherwise.
func WithSerializationID(id string) Option {
	return optionFunc(func(opts *options) {
		opts.serializationID = id
	})
}

// WithAllowCircularReferences controls whether singletons in creation are
// exposed early to break circular references. Enabled by default.
func WithAllowCircularReferences(allow bool) Option {
	return optionFunc(func(opts *options) {
		opts.allowCircularReferences = allow
	})
}

// WithAllowBeanDefinitionOverriding controls whether a definition may be
// replaced by registering another one under the same name. Enabled by
// default.
func WithAllowBeanDefinitionOverriding(allow bool) Option {
	return optionFunc(func(opts *options) {
		opts.allowDefinitionOverriding = allow
	})
}

// WithAllowRawInjectionDespiteWrapping allows beans that received the raw
// early reference of a bean which was later wrapped. Disabled by default.
func WithAllowRawInjectionDespiteWrapping(allow bool) Option {
	return optionFunc(func(opts *options) {
		opts.allowRawInjectionDespiteWrap = allow
	})
}

// WithCacheBeanMetadata controls whether merged definitions are cached
// before a bean is first created. Enabled by default.
func WithCacheBeanMetadata(cache bool) Option {
	return optionFunc(func(opts *options) {
		opts.cacheBeanMetadata = cache
	})
}

// WithoutFieldInjection disables `inject` struct tag processing.
func WithoutFieldInjection() Option {
	return optionFunc(func(opts *options) {
		opts.fieldInjection = false
	})
}

// DefinitionOption configures a definition created by Provide.
type DefinitionOption interface {
	applyDefinition(*BeanDefinition)
}

type definitionOptionFunc func(*BeanDefinition)

func (f definitionOptionFunc) applyDefinition(d *BeanDefinition) {
	f(d)
}

// WithScope sets the bean scope.
func WithScope(scope string) DefinitionOption {
	return definitionOptionFunc(func(d *BeanDefinition) {
		d.Scope = scope
	})
}

// AsPrototype gives the bean prototype scope.
func AsPrototype() DefinitionOption {
	return WithScope(ScopePrototype)
}

// AsPrimary marks the bean as the preferred autowire candidate of its type.
func AsPrimary() DefinitionOption {
	return definitionOptionFunc(func(d *BeanDefinition) {
		d.Primary = true
	})
}

// AsLazy excludes the bean from eager instantiation.
func AsLazy() DefinitionOption {
	return definitionOptionFunc(func(d *BeanDefinition) {
		lazy := true
		d.Lazy = &lazy
	})
}

// NotAutowireCandidate excludes the bean from by-type injection.
func NotAutowireCandidate() DefinitionOption {
	return definitionOptionFunc(func(d *BeanDefinition) {
		candidate := false
		d.AutowireCandidate = &candidate
	})
}

// WithDependsOn names beans that must be created first and destroyed after
// this one.
func WithDependsOn(names ...string) DefinitionOption {
	return definitionOptionFunc(func(d *BeanDefinition) {
		d.DependsOn = append(d.DependsOn, names...)
	})
}

// WithPriority sets the priority used to choose among candidates.
func WithPriority(priority int) DefinitionOption {
	return definitionOptionFunc(func(d *BeanDefinition) {
		d.Priority = &priority
	})
}

// WithOrder sets the position of the bean in injected slices.
func WithOrder(order int) DefinitionOption {
	return definitionOptionFunc(func(d *BeanDefinition) {
		d.Order = &order
	})
}

// WithQualifier sets the qualifier matched by `inject:"bean=..."` tags.
func WithQualifier(q string) DefinitionOption {
	return definitionOptionFunc(func(d *BeanDefinition) {
		d.Qualifier = q
	})
}

// WithInitMethod names a no-arg method called after population.
func WithInitMethod(name string) DefinitionOption {
	return definitionOptionFunc(func(d *BeanDefinition) {
		d.InitMethodName = name
	})
}

// WithDestroyMethod names a no-arg method called on destruction.
func WithDestroyMethod(name string) DefinitionOption {
	return definitionOptionFunc(func(d *BeanDefinition) {
		d.DestroyMethodName = name
	})
}

// WithArgs configures constructor arguments by index.
func WithArgs(values ...any) DefinitionOption {
	return definitionOptionFunc(func(d *BeanDefinition) {
		for i, v := range values {
			d.ConstructorArgs.AddIndexed(i, v)
		}
	})
}

// WithProperty configures a property value.
func WithProperty(name string, value any) DefinitionOption {
	return definitionOptionFunc(func(d *BeanDefinition) {
		d.Properties = mergeProperties(d.Properties, []PropertyValue{{Name: name, Value: value}})
	})
}

// WithAutowire sets the autowire mode.
func WithAutowire(mode AutowireMode) DefinitionOption {
	return definitionOptionFunc(func(d *BeanDefinition) {
		d.Autowire = mode
	})
}

// WithStrictConstructorResolution fails on ambiguous constructor matches.
func WithStrictConstructorResolution() DefinitionOption {
	return definitionOptionFunc(func(d *BeanDefinition) {
		lenient := false
		d.LenientConstructorResolution = &lenient
	})
}

// WithParentDefinition makes the definition inherit from parent.
func WithParentDefinition(parent string) DefinitionOption {
	return definitionOptionFunc(func(d *BeanDefinition) {
		d.ParentName = parent
	})
}
