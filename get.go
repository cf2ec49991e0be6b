package beans

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"github.com/bzb8/beans/internal/reflection"
	"github.com/bzb8/beans/internal/singleton"
)

// GetBean returns the bean registered under name, creating it if needed.
// A name prefixed with '&' returns a FactoryBean itself instead of its
// product. args are explicit constructor or factory method arguments; they
// are only allowed for beans created on this call.
func (f *Factory) GetBean(ctx context.Context, name string, args ...any) (any, error) {
	return f.doGetBean(ctx, name, nil, args, false)
}

// GetBeanOfType returns the bean registered under name, checking that it is
// assignable to typ.
func (f *Factory) GetBeanOfType(ctx context.Context, name string, typ reflect.Type) (any, error) {
	return f.doGetBean(ctx, name, typ, nil, false)
}

// Resolve returns the unique bean assignable to T.
//
// Example:
//
//	svc, err := beans.Resolve[*UserService](ctx, f)
func Resolve[T any](ctx context.Context, f *Factory) (T, error) {
	var zero T
	bean, err := f.GetBeanByType(ctx, reflect.TypeFor[T]())
	if err != nil {
		return zero, err
	}
	out, _ := bean.(T)
	return out, nil
}

// ResolveNamed returns the bean registered under name as T.
func ResolveNamed[T any](ctx context.Context, f *Factory, name string) (T, error) {
	var zero T
	bean, err := f.GetBeanOfType(ctx, name, reflect.TypeFor[T]())
	if err != nil {
		return zero, err
	}
	out, _ := bean.(T)
	return out, nil
}

// MustResolve is like Resolve but panics on error.
func MustResolve[T any](ctx context.Context, f *Factory) T {
	bean, err := Resolve[T](ctx, f)
	if err != nil {
		panic(fmt.Sprintf("failed to resolve bean: %v", err))
	}
	return bean
}

// ResolveAll returns every bean assignable to T in dependency order.
func ResolveAll[T any](ctx context.Context, f *Factory) ([]T, error) {
	v, err := f.ResolveDependency(ctx, &DependencyDescriptor{
		Type:       reflect.TypeFor[[]T](),
		ParamIndex: -1,
		Eager:      true,
	}, "")
	if err != nil || v == nil {
		return nil, err
	}
	return v.([]T), nil
}

func (f *Factory) doGetBean(ctx context.Context, name string, requiredType reflect.Type, args []any, typeCheckOnly bool) (any, error) {
	beanName := f.transformedBeanName(name)
	if f.closed.Load() {
		return nil, BeanCreationNotAllowedError{Name: beanName, Cause: ErrFactoryClosed}
	}
	ctx, res := resolutionFrom(ctx)

	var bean any
	shared := f.singletons.Get(beanName, res.token, true)
	if shared != nil && args == nil {
		if f.singletons.IsCurrentlyInCreation(beanName) {
			f.logger.Debug("returning eagerly cached instance of singleton bean that is not fully initialized yet",
				zap.String("bean", beanName))
		}
		var err error
		if bean, err = f.objectForBeanInstance(ctx, shared, name, beanName, nil); err != nil {
			return nil, err
		}
		return f.adaptBeanInstance(beanName, bean, requiredType)
	}

	if res.isPrototypeInCreation(beanName) {
		return nil, CurrentlyInCreationError{Name: beanName}
	}

	if f.parent != nil && !f.ContainsBeanDefinition(beanName) {
		lookup := beanName
		if isFactoryDereference(name) {
			lookup = FactoryBeanPrefix + beanName
		}
		if !f.singletons.IsCurrentlyInCreation(beanName) {
			return f.parent.doGetBean(ctx, lookup, requiredType, args, typeCheckOnly)
		}
	}

	if !typeCheckOnly {
		f.markBeanAsCreated(beanName)
	}

	bean, err := f.createScopedBean(ctx, res, name, beanName, args)
	if err != nil {
		f.cleanupAfterCreationFailure(beanName)
		return nil, err
	}
	return f.adaptBeanInstance(beanName, bean, requiredType)
}

func (f *Factory) createScopedBean(ctx context.Context, res *resolution, name, beanName string, args []any) (any, error) {
	mbd, err := f.mergedLocalBeanDefinition(beanName)
	if err != nil {
		return nil, err
	}
	if mbd.Abstract {
		return nil, BeanIsAbstractError{Name: beanName}
	}

	for _, dep := range mbd.DependsOn {
		if err := f.singletons.Graph().CheckDependsOn(beanName, dep); err != nil {
			return nil, BeanCreationError{
				Name:    beanName,
				Message: fmt.Sprintf("circular depends-on relationship between '%s' and '%s'", beanName, dep),
				Cause:   err,
			}
		}
		f.RegisterDependentBean(dep, beanName)
		if _, err := f.GetBean(ctx, dep); err != nil {
			return nil, BeanCreationError{
				Name:    beanName,
				Message: fmt.Sprintf("'%s' depends on missing bean '%s'", beanName, dep),
				Cause:   err,
			}
		}
	}

	switch {
	case mbd.IsSingleton():
		shared, err := f.singletons.GetOrCreate(beanName, res.token, func() (any, error) {
			return f.createBean(ctx, beanName, mbd, args)
		})
		if err != nil {
			switch {
			case errors.Is(err, singleton.ErrCurrentlyInCreation):
				return nil, CurrentlyInCreationError{Name: beanName}
			case errors.Is(err, singleton.ErrInDestruction):
				return nil, BeanCreationNotAllowedError{Name: beanName, Cause: ErrInDestruction}
			}
			// drop anything eagerly cached for the failed attempt
			f.destroySingleton(beanName)
			return nil, err
		}
		return f.objectForBeanInstance(ctx, shared, name, beanName, mbd)

	case mbd.IsPrototype():
		res.beforePrototypeCreation(beanName)
		created, err := f.createBean(ctx, beanName, mbd, args)
		res.afterPrototypeCreation(beanName)
		if err != nil {
			return nil, err
		}
		return f.objectForBeanInstance(ctx, created, name, beanName, mbd)

	default:
		scope := f.scope(mbd.Scope)
		if scope == nil {
			return nil, BeanCreationError{
				Name:  beanName,
				Cause: fmt.Errorf("%w for scope name '%s'", ErrNoScope, mbd.Scope),
			}
		}
		scoped, err := scope.Get(ctx, beanName, func(ctx context.Context) (any, error) {
			ctx, res := resolutionFrom(ctx)
			res.beforePrototypeCreation(beanName)
			defer res.afterPrototypeCreation(beanName)
			return f.createBean(ctx, beanName, mbd, args)
		})
		if err != nil {
			if errors.Is(err, ErrScopeNotActive) {
				return nil, ScopeNotActiveError{Scope: mbd.Scope, Name: beanName, Cause: err}
			}
			return nil, err
		}
		return f.objectForBeanInstance(ctx, scoped, name, beanName, mbd)
	}
}

// adaptBeanInstance checks bean against requiredType, converting it when
// possible.
func (f *Factory) adaptBeanInstance(name string, bean any, requiredType reflect.Type) (any, error) {
	if requiredType == nil || bean == nil || reflect.TypeOf(bean).AssignableTo(requiredType) {
		return bean, nil
	}
	converted, err := f.converter.Convert(bean, requiredType)
	if err != nil || !reflection.IsAssignableValue(requiredType, converted) {
		if err != nil {
			f.logger.Debug("failed to convert bean to required type",
				zap.String("bean", name), zap.Stringer("type", requiredType), zap.Error(err))
		}
		return nil, BeanNotOfRequiredTypeError{Name: name, Required: requiredType, Actual: reflect.TypeOf(bean)}
	}
	return converted, nil
}

// objectForBeanInstance returns the bean itself, or the product when it is
// a FactoryBean and name is not a dereference.
func (f *Factory) objectForBeanInstance(ctx context.Context, instance any, name, beanName string, mbd *RootBeanDefinition) (any, error) {
	if isFactoryDereference(name) {
		if instance == nil {
			return nil, nil
		}
		if _, ok := instance.(FactoryBean); !ok {
			return nil, BeanIsNotAFactoryError{Name: beanName, Actual: reflect.TypeOf(instance)}
		}
		if mbd != nil {
			mbd.markFactoryBean(true)
		}
		return instance, nil
	}

	fb, ok := instance.(FactoryBean)
	if !ok {
		return instance, nil
	}

	if mbd != nil {
		mbd.markFactoryBean(true)
	} else if cached, ok := f.cachedProduct(beanName); ok {
		return cached, nil
	}
	return f.objectFromFactoryBean(ctx, fb, beanName)
}

func (f *Factory) cachedProduct(name string) (any, bool) {
	f.productsMu.Lock()
	defer f.productsMu.Unlock()
	obj, ok := f.products[name]
	return obj, ok
}

func (f *Factory) objectFromFactoryBean(ctx context.Context, fb FactoryBean, beanName string) (any, error) {
	if !fb.Singleton() || !f.singletons.Contains(beanName) {
		obj, err := f.callFactoryBean(ctx, fb, beanName)
		if err != nil {
			return nil, err
		}
		return f.postProcessProduct(ctx, obj, beanName)
	}

	if cached, ok := f.cachedProduct(beanName); ok {
		return cached, nil
	}
	obj, err := f.callFactoryBean(ctx, fb, beanName)
	if err != nil {
		return nil, err
	}
	if cached, ok := f.cachedProduct(beanName); ok {
		// another caller stored a product first
		return cached, nil
	}
	if obj, err = f.postProcessProduct(ctx, obj, beanName); err != nil {
		return nil, err
	}
	if f.singletons.Contains(beanName) {
		f.productsMu.Lock()
		if cached, ok := f.products[beanName]; ok {
			obj = cached
		} else {
			f.products[beanName] = obj
		}
		f.productsMu.Unlock()
	}
	return obj, nil
}

func (f *Factory) callFactoryBean(ctx context.Context, fb FactoryBean, beanName string) (obj any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = BeanCreationError{Name: beanName, Message: "FactoryBean panicked on object creation", Cause: fmt.Errorf("%v", p)}
		}
	}()
	obj, err = fb.Object(ctx)
	if err != nil {
		return nil, BeanCreationError{Name: beanName, Message: "FactoryBean threw exception on object creation", Cause: err}
	}
	if obj == nil && f.singletons.IsCurrentlyInCreation(beanName) {
		return nil, CurrentlyInCreationError{Name: beanName, Message: "FactoryBean which is currently in creation returned nil from Object"}
	}
	return obj, nil
}

func (f *Factory) postProcessProduct(ctx context.Context, obj any, beanName string) (any, error) {
	if obj == nil {
		return nil, nil
	}
	out, err := f.applyAfterInitialization(ctx, obj, beanName)
	if err != nil {
		return nil, BeanCreationError{Name: beanName, Message: "post-processing of FactoryBean's object failed", Cause: err}
	}
	return out, nil
}

func (r *RootBeanDefinition) markFactoryBean(v bool) {
	r.mu.Lock()
	r.isFactoryBean = &v
	r.mu.Unlock()
}
