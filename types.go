package beans

import (
	"context"
	"errors"
	"reflect"

	"github.com/bzb8/beans/internal/reflection"
	"go.uber.org/zap"
)

// GetBeanByType returns the unique bean assignable to typ. Among several
// candidates the primary bean wins, then the highest priority.
func (f *Factory) GetBeanByType(ctx context.Context, typ reflect.Type) (any, error) {
	ctx, _ = resolutionFrom(ctx)
	names, err := f.BeanNamesForType(ctx, typ, true, true)
	if err != nil {
		return nil, err
	}

	if len(names) > 1 {
		var filtered []string
		for _, name := range names {
			def, err := f.BeanDefinition(name)
			if err != nil || def.IsAutowireCandidate() {
				filtered = append(filtered, name)
			}
		}
		if len(filtered) > 0 {
			names = filtered
		}
	}

	switch len(names) {
	case 0:
		if f.parent != nil {
			return f.parent.GetBeanByType(ctx, typ)
		}
		return nil, NoSuchBeanDefinitionError{Type: typ}
	case 1:
		return f.doGetBean(ctx, names[0], typ, nil, false)
	}

	candidates := make([]candidate, len(names))
	for i, name := range names {
		candidates[i] = candidate{name: name}
	}
	chosen, err := f.determinePrimaryCandidate(candidates, typ)
	if err != nil {
		return nil, err
	}
	if chosen == "" {
		if chosen, err = f.determineHighestPriorityCandidate(candidates, typ); err != nil {
			return nil, err
		}
	}
	if chosen == "" {
		return nil, NoUniqueBeanDefinitionError{Type: typ, Names: names}
	}
	return f.doGetBean(ctx, chosen, typ, nil, false)
}

// GetBeansOfType returns every bean assignable to typ keyed by name.
func (f *Factory) GetBeansOfType(ctx context.Context, typ reflect.Type) (map[string]any, error) {
	ctx, _ = resolutionFrom(ctx)
	names, err := f.BeanNamesForType(ctx, typ, true, true)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(names))
	for _, name := range names {
		bean, err := f.GetBean(ctx, name)
		if err != nil {
			var cic CurrentlyInCreationError
			if errors.As(err, &cic) {
				f.logger.Debug("ignoring match to currently created bean", zap.String("bean", name), zap.Error(err))
				continue
			}
			return nil, err
		}
		if bean != nil {
			out[name] = bean
		}
	}
	return out, nil
}

// BeanNamesForType returns the names of local beans matching typ, judged by
// definitions or by instances for manually registered singletons.
// allowEagerInit permits instantiating FactoryBeans to learn their product
// type.
func (f *Factory) BeanNamesForType(ctx context.Context, typ reflect.Type, includeNonSingletons, allowEagerInit bool) ([]string, error) {
	ctx, _ = resolutionFrom(ctx)
	var result []string
	seen := make(map[string]bool)

	for _, name := range f.BeanDefinitionNames() {
		mbd, err := f.mergedLocalBeanDefinition(name)
		if err != nil {
			f.logger.Debug("ignoring bean definition for type matching", zap.String("bean", name), zap.Error(err))
			continue
		}
		if mbd.Abstract {
			continue
		}

		isFactoryBean := f.isFactoryBeanDefinition(ctx, name, mbd)
		allowFactoryBeanInit := allowEagerInit || f.singletons.Contains(name)
		matched := false
		matchName := name

		if !isFactoryBean {
			if includeNonSingletons || mbd.IsSingleton() {
				matched = f.isTypeMatch(ctx, name, typ, allowFactoryBeanInit)
			}
		} else {
			if includeNonSingletons || !mbd.IsLazy() || allowFactoryBeanInit {
				matched = f.isTypeMatch(ctx, name, typ, allowFactoryBeanInit)
			}
			if !matched && (includeNonSingletons || mbd.IsSingleton()) {
				matchName = FactoryBeanPrefix + name
				matched = f.isTypeMatch(ctx, matchName, typ, allowFactoryBeanInit)
			}
		}
		if matched {
			result = append(result, matchName)
			seen[name] = true
		}
	}

	f.mu.RLock()
	manual := append([]string(nil), f.manualSingletons...)
	f.mu.RUnlock()
	for _, name := range manual {
		if seen[name] {
			continue
		}
		obj := f.singletons.Get(name, 0, false)
		if fb, ok := obj.(FactoryBean); ok {
			if (includeNonSingletons || fb.Singleton()) && assignable(fb.ObjectType(), typ) {
				result = append(result, name)
				continue
			}
			if assignable(reflect.TypeOf(obj), typ) {
				result = append(result, FactoryBeanPrefix+name)
			}
			continue
		}
		if obj != nil && assignable(reflect.TypeOf(obj), typ) {
			result = append(result, name)
		}
	}
	return result, nil
}

func (f *Factory) beanNamesForTypeIncludingAncestors(ctx context.Context, typ reflect.Type, includeNonSingletons, allowEagerInit bool) ([]string, error) {
	result, err := f.BeanNamesForType(ctx, typ, includeNonSingletons, allowEagerInit)
	if err != nil || f.parent == nil {
		return result, err
	}
	parentResult, err := f.parent.beanNamesForTypeIncludingAncestors(ctx, typ, includeNonSingletons, allowEagerInit)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(result))
	for _, n := range result {
		seen[n] = true
	}
	for _, n := range parentResult {
		if !seen[n] && !f.ContainsLocalBean(n) {
			result = append(result, n)
		}
	}
	return result, nil
}

func assignable(from, to reflect.Type) bool {
	return from != nil && from.AssignableTo(to)
}

// IsTypeMatch reports whether the bean named name is assignable to typ.
func (f *Factory) IsTypeMatch(ctx context.Context, name string, typ reflect.Type) (bool, error) {
	ctx, _ = resolutionFrom(ctx)
	beanName := f.transformedBeanName(name)
	if !f.singletons.Contains(beanName) && !f.ContainsBeanDefinition(beanName) {
		if f.parent != nil {
			return f.parent.IsTypeMatch(ctx, name, typ)
		}
		return false, NoSuchBeanDefinitionError{Name: beanName}
	}
	return f.isTypeMatch(ctx, name, typ, true), nil
}

func (f *Factory) isTypeMatch(ctx context.Context, name string, typ reflect.Type, allowFactoryBeanInit bool) bool {
	beanName := f.transformedBeanName(name)
	deref := isFactoryDereference(name)
	_, res := resolutionFrom(ctx)

	if instance := f.singletons.Get(beanName, res.token, false); instance != nil {
		if fb, ok := instance.(FactoryBean); ok {
			if !deref {
				return assignable(fb.ObjectType(), typ)
			}
			return assignable(reflect.TypeOf(instance), typ)
		}
		return !deref && assignable(reflect.TypeOf(instance), typ)
	}

	if f.parent != nil && !f.ContainsBeanDefinition(beanName) {
		return f.parent.isTypeMatch(ctx, name, typ, allowFactoryBeanInit)
	}

	mbd, err := f.mergedLocalBeanDefinition(beanName)
	if err != nil {
		return false
	}
	predicted := f.predictBeanType(ctx, beanName, mbd)
	if predicted == nil {
		return false
	}

	if implementsFactoryBean(predicted) {
		if deref {
			return predicted.AssignableTo(typ)
		}
		return assignable(f.typeForFactoryBean(ctx, beanName, mbd, allowFactoryBeanInit), typ)
	}
	if deref {
		return false
	}
	return predicted.AssignableTo(typ)
}

func implementsFactoryBean(t reflect.Type) bool {
	return t != nil && t.Implements(factoryBeanType)
}

// GetType returns the type the bean named name is exposed as, or nil when
// it cannot be determined without creating it.
func (f *Factory) GetType(ctx context.Context, name string) (reflect.Type, error) {
	ctx, res := resolutionFrom(ctx)
	beanName := f.transformedBeanName(name)
	deref := isFactoryDereference(name)

	if instance := f.singletons.Get(beanName, res.token, false); instance != nil {
		if fb, ok := instance.(FactoryBean); ok && !deref {
			return fb.ObjectType(), nil
		}
		return reflect.TypeOf(instance), nil
	}

	if f.parent != nil && !f.ContainsBeanDefinition(beanName) {
		return f.parent.GetType(ctx, name)
	}

	mbd, err := f.mergedLocalBeanDefinition(beanName)
	if err != nil {
		return nil, err
	}
	predicted := f.predictBeanType(ctx, beanName, mbd)
	if implementsFactoryBean(predicted) && !deref {
		return f.typeForFactoryBean(ctx, beanName, mbd, true), nil
	}
	if deref && !implementsFactoryBean(predicted) {
		return nil, nil
	}
	return predicted, nil
}

// IsSingleton reports whether GetBean always returns the same instance for
// name.
func (f *Factory) IsSingleton(ctx context.Context, name string) (bool, error) {
	ctx, res := resolutionFrom(ctx)
	beanName := f.transformedBeanName(name)
	deref := isFactoryDereference(name)

	if instance := f.singletons.Get(beanName, res.token, false); instance != nil {
		if fb, ok := instance.(FactoryBean); ok {
			return deref || fb.Singleton(), nil
		}
		return !deref, nil
	}

	if f.parent != nil && !f.ContainsBeanDefinition(beanName) {
		return f.parent.IsSingleton(ctx, name)
	}

	mbd, err := f.mergedLocalBeanDefinition(beanName)
	if err != nil {
		return false, err
	}
	if !mbd.IsSingleton() {
		return false, nil
	}
	if f.isFactoryBeanDefinition(ctx, beanName, mbd) {
		if deref {
			return true, nil
		}
		bean, err := f.GetBean(ctx, FactoryBeanPrefix+beanName)
		if err != nil {
			return false, err
		}
		return bean.(FactoryBean).Singleton(), nil
	}
	return !deref, nil
}

// IsPrototype reports whether GetBean returns a new instance for name on
// every call.
func (f *Factory) IsPrototype(ctx context.Context, name string) (bool, error) {
	ctx, _ = resolutionFrom(ctx)
	beanName := f.transformedBeanName(name)
	deref := isFactoryDereference(name)

	if f.parent != nil && !f.ContainsBeanDefinition(beanName) && !f.singletons.Contains(beanName) {
		return f.parent.IsPrototype(ctx, name)
	}
	if !f.ContainsBeanDefinition(beanName) {
		if f.singletons.Contains(beanName) {
			return false, nil
		}
		return false, NoSuchBeanDefinitionError{Name: beanName}
	}

	mbd, err := f.mergedLocalBeanDefinition(beanName)
	if err != nil {
		return false, err
	}
	if mbd.IsPrototype() {
		return !deref || f.isFactoryBeanDefinition(ctx, beanName, mbd), nil
	}
	if deref || !f.isFactoryBeanDefinition(ctx, beanName, mbd) {
		return false, nil
	}
	bean, err := f.GetBean(ctx, FactoryBeanPrefix+beanName)
	if err != nil {
		return false, err
	}
	return !bean.(FactoryBean).Singleton(), nil
}

// isFactoryBeanName reports whether name refers to a FactoryBean.
func (f *Factory) isFactoryBeanName(ctx context.Context, name string) bool {
	beanName := f.transformedBeanName(name)
	if instance := f.singletons.Get(beanName, 0, false); instance != nil {
		_, ok := instance.(FactoryBean)
		return ok
	}
	if !f.ContainsBeanDefinition(beanName) {
		return f.parent != nil && f.parent.isFactoryBeanName(ctx, name)
	}
	mbd, err := f.mergedLocalBeanDefinition(beanName)
	return err == nil && f.isFactoryBeanDefinition(ctx, beanName, mbd)
}

func (f *Factory) isFactoryBeanDefinition(ctx context.Context, name string, mbd *RootBeanDefinition) bool {
	mbd.mu.Lock()
	cached := mbd.isFactoryBean
	mbd.mu.Unlock()
	if cached != nil {
		return *cached
	}
	result := implementsFactoryBean(f.predictBeanType(ctx, name, mbd))
	mbd.markFactoryBean(result)
	return result
}

// predictBeanType returns the type of the bean before it is created,
// letting smart processors adjust the raw target type.
func (f *Factory) predictBeanType(ctx context.Context, name string, mbd *RootBeanDefinition) reflect.Type {
	target := f.determineTargetType(ctx, name, mbd)
	if target == nil {
		return nil
	}
	for _, p := range postProcessorsOf[SmartInstantiationAwareBeanPostProcessor](f) {
		if predicted := p.PredictBeanType(target, name); predicted != nil {
			return predicted
		}
	}
	return target
}

// determineTargetType returns the raw type created by the definition.
func (f *Factory) determineTargetType(ctx context.Context, name string, mbd *RootBeanDefinition) reflect.Type {
	mbd.mu.Lock()
	if mbd.targetType != nil {
		t := mbd.targetType
		mbd.mu.Unlock()
		return t
	}
	if mbd.resolvedTargetType != nil {
		t := mbd.resolvedTargetType
		mbd.mu.Unlock()
		return t
	}
	mbd.mu.Unlock()

	var target reflect.Type
	switch {
	case mbd.FactoryMethodName != "":
		target = f.factoryMethodReturnType(ctx, name, mbd)
	case mbd.Supplier != nil:
		target = mbd.Type
	default:
		target = mbd.Type
		if candidates, err := f.constructorCandidates(name, mbd); err == nil && len(candidates) > 0 {
			target = commonResultType(candidates, mbd.Type)
		}
	}

	if target != nil {
		mbd.mu.Lock()
		mbd.targetType = target
		mbd.mu.Unlock()
	}
	return target
}

// commonResultType returns the result type shared by all candidates, or
// fallback when they differ.
func commonResultType(candidates []*reflection.Executable, fallback reflect.Type) reflect.Type {
	var common reflect.Type
	for _, c := range candidates {
		if c.Result == nil {
			continue
		}
		if common != nil && common != c.Result {
			return fallback
		}
		common = c.Result
	}
	if common == nil {
		return fallback
	}
	return common
}

func (f *Factory) factoryMethodReturnType(ctx context.Context, name string, mbd *RootBeanDefinition) reflect.Type {
	if mbd.FactoryBeanName == "" {
		f.mu.RLock()
		fns := append([]any(nil), f.factoryFuncs[factoryFuncKey{typ: mbd.Type, name: mbd.FactoryMethodName}]...)
		f.mu.RUnlock()
		candidates, err := f.analyzeAll(name, fns)
		if err != nil || len(candidates) == 0 {
			return nil
		}
		return commonResultType(candidates, nil)
	}

	if f.transformedBeanName(mbd.FactoryBeanName) == name {
		return nil
	}
	ctx, res := resolutionFrom(ctx)
	if !res.beginTypePrediction(name) {
		return nil
	}
	defer res.endTypePrediction(name)

	factoryType, err := f.GetType(ctx, mbd.FactoryBeanName)
	if err != nil || factoryType == nil {
		return nil
	}
	m, ok := factoryType.MethodByName(mbd.FactoryMethodName)
	if !ok {
		return nil
	}
	switch m.Type.NumOut() {
	case 1:
		if m.Type.Out(0) != errorType {
			return m.Type.Out(0)
		}
	case 2:
		return m.Type.Out(0)
	}
	return nil
}

// typeForFactoryBean returns the product type of a FactoryBean definition.
// Without allowInit it only uses the declared FactoryBeanObjectType.
func (f *Factory) typeForFactoryBean(ctx context.Context, name string, mbd *RootBeanDefinition, allowInit bool) reflect.Type {
	if mbd.FactoryBeanObjectType != nil {
		return mbd.FactoryBeanObjectType
	}
	if !allowInit || !mbd.IsSingleton() {
		return nil
	}
	if f.singletons.IsCurrentlyInCreation(name) {
		return nil
	}
	bean, err := f.doGetBean(ctx, FactoryBeanPrefix+name, nil, nil, true)
	if err != nil {
		_, res := resolutionFrom(ctx)
		f.singletons.OnSuppressed(res.token, err)
		f.logger.Debug("bean currently not eligible for FactoryBean type check", zap.String("bean", name), zap.Error(err))
		return nil
	}
	fb, ok := bean.(FactoryBean)
	if !ok {
		return nil
	}
	return fb.ObjectType()
}
