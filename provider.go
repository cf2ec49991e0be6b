package beans

import (
	"context"
	"errors"
	"fmt"
	"reflect"
)

// DependencyDescriptor describes one dependency to resolve: a constructor or
// factory method parameter, or a struct field.
type DependencyDescriptor struct {
	Type     reflect.Type
	Name     string
	Required bool

	// Eager allows type matching to instantiate FactoryBeans.
	Eager bool

	// Qualifier restricts candidates to the bean with that name, alias or
	// definition qualifier.
	Qualifier string

	// Field is the struct field name for field injection.
	Field string

	// ParamIndex is the parameter position, -1 for fields and properties.
	ParamIndex int

	// Executable is the signature of the constructor or method declaring
	// the parameter.
	Executable string

	multiple bool
}

func (d *DependencyDescriptor) String() string {
	switch {
	case d.Field != "":
		return fmt.Sprintf("field '%s'", d.Field)
	case d.Executable != "":
		return fmt.Sprintf("parameter %d of %s", d.ParamIndex, d.Executable)
	case d.Name != "":
		return fmt.Sprintf("property '%s'", d.Name)
	default:
		return fmt.Sprintf("dependency of type '%s'", formatType(d.Type))
	}
}

// InjectionPoint is the dependency currently being injected. A constructor
// parameter of type *InjectionPoint receives the injection point of the
// dependency that triggered creation of the bean.
type InjectionPoint struct {
	Descriptor DependencyDescriptor

	// Bean is the name of the bean the dependency is injected into.
	Bean string
}

// Optional is a dependency that may be absent. Declaring a parameter or
// tagged field as Optional[T] makes it non-required.
type Optional[T any] struct {
	value   T
	present bool
}

// Of returns a present Optional.
func Of[T any](v T) Optional[T] {
	return Optional[T]{value: v, present: true}
}

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.present
}

// IsPresent reports whether a value is present.
func (o Optional[T]) IsPresent() bool {
	return o.present
}

// OrElse returns the value if present, otherwise def.
func (o Optional[T]) OrElse(def T) T {
	if o.present {
		return o.value
	}
	return def
}

func (Optional[T]) optionalType() reflect.Type {
	return reflect.TypeFor[T]()
}

func (Optional[T]) wrapOptional(v any) any {
	if v == nil {
		return Optional[T]{}
	}
	return Optional[T]{value: v.(T), present: true}
}

type optionalWrapper interface {
	optionalType() reflect.Type
	wrapOptional(v any) any
}

// Provider resolves a dependency lazily, on every call to Get.
type Provider[T any] struct {
	factory    *Factory
	descriptor DependencyDescriptor
	bean       string
}

// Get resolves the dependency. It fails when no unique bean is available.
func (p Provider[T]) Get(ctx context.Context) (T, error) {
	var zero T
	if p.factory == nil {
		return zero, errors.New("provider is not bound to a factory")
	}
	d := p.descriptor
	d.Required = true
	v, err := p.factory.ResolveDependency(ctx, &d, p.bean)
	if err != nil {
		return zero, err
	}
	out, _ := v.(T)
	return out, nil
}

// GetIfAvailable resolves the dependency, returning the zero value when no
// bean is available.
func (p Provider[T]) GetIfAvailable(ctx context.Context) (T, error) {
	var zero T
	if p.factory == nil {
		return zero, errors.New("provider is not bound to a factory")
	}
	d := p.descriptor
	d.Required = false
	v, err := p.factory.ResolveDependency(ctx, &d, p.bean)
	if err != nil || v == nil {
		return zero, err
	}
	return v.(T), nil
}

// GetIfUnique resolves the dependency, returning the zero value when no
// bean or more than one bean is available.
func (p Provider[T]) GetIfUnique(ctx context.Context) (T, error) {
	v, err := p.GetIfAvailable(ctx)
	var nu NoUniqueBeanDefinitionError
	if errors.As(err, &nu) {
		var zero T
		return zero, nil
	}
	return v, err
}

// SerializationID returns the id of the factory the provider is bound to.
func (p Provider[T]) SerializationID() string {
	if p.factory == nil {
		return ""
	}
	return p.factory.SerializationID()
}

func (Provider[T]) providerType() reflect.Type {
	return reflect.TypeFor[T]()
}

func (Provider[T]) bindProvider(f *Factory, d DependencyDescriptor, bean string) any {
	d.Type = reflect.TypeFor[T]()
	return Provider[T]{factory: f, descriptor: d, bean: bean}
}

type providerWrapper interface {
	providerType() reflect.Type
	bindProvider(f *Factory, d DependencyDescriptor, bean string) any
}

var (
	optionalWrapperType = reflect.TypeOf((*optionalWrapper)(nil)).Elem()
	providerWrapperType = reflect.TypeOf((*providerWrapper)(nil)).Elem()
	injectionPointType  = reflect.TypeOf((*InjectionPoint)(nil))
	contextType         = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType           = reflect.TypeOf((*error)(nil)).Elem()
	factoryPointerType  = reflect.TypeOf((*Factory)(nil))
)

func asOptional(t reflect.Type) (optionalWrapper, bool) {
	if t.Kind() != reflect.Struct || !t.Implements(optionalWrapperType) {
		return nil, false
	}
	return reflect.Zero(t).Interface().(optionalWrapper), true
}

func asProvider(t reflect.Type) (providerWrapper, bool) {
	if t.Kind() != reflect.Struct || !t.Implements(providerWrapperType) {
		return nil, false
	}
	return reflect.Zero(t).Interface().(providerWrapper), true
}
