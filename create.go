package beans

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/bzb8/beans/internal/reflection"
	"github.com/bzb8/beans/internal/singleton"
)

// createBean runs the full creation pipeline for one bean instance.
func (f *Factory) createBean(ctx context.Context, name string, mbd *RootBeanDefinition, args []any) (any, error) {
	f.logger.Debug("creating instance of bean", zap.String("bean", name))

	bean, err := f.resolveBeforeInstantiation(ctx, name, mbd)
	if err != nil {
		return nil, BeanCreationError{Name: name, Message: "BeforeInstantiation of bean failed", Cause: err}
	}
	if bean != nil {
		return bean, nil
	}

	bean, err = f.doCreateBean(ctx, name, mbd, args)
	if err != nil {
		// the outermost error carries suppressed errors
		if _, ok := err.(singleton.RelatedCauser); ok {
			return nil, err
		}
		var bce BeanCreationError
		var uce UnsatisfiedDependencyError
		var cic CurrentlyInCreationError
		if errors.As(err, &bce) || errors.As(err, &uce) || errors.As(err, &cic) {
			return nil, BeanCreationError{Name: name, Cause: err}
		}
		return nil, BeanCreationError{Name: name, Message: "unexpected failure during bean creation", Cause: err}
	}
	f.logger.Debug("finished creating instance of bean", zap.String("bean", name))
	return bean, nil
}

func (f *Factory) resolveBeforeInstantiation(ctx context.Context, name string, mbd *RootBeanDefinition) (any, error) {
	mbd.mu.Lock()
	skip := mbd.beforeInstantiated != nil && !*mbd.beforeInstantiated
	mbd.mu.Unlock()
	if skip {
		return nil, nil
	}

	processors := postProcessorsOf[InstantiationAwareBeanPostProcessor](f)
	var bean any
	if len(processors) > 0 {
		if typ := f.determineTargetType(ctx, name, mbd); typ != nil {
			for _, p := range processors {
				result, err := p.BeforeInstantiation(ctx, typ, name)
				if err != nil {
					return nil, err
				}
				if result != nil {
					bean = result
					break
				}
			}
			if bean != nil {
				var err error
				if bean, err = f.applyAfterInitialization(ctx, bean, name); err != nil {
					return nil, err
				}
			}
		}
	}

	resolved := bean != nil
	mbd.mu.Lock()
	mbd.beforeInstantiated = &resolved
	mbd.mu.Unlock()
	return bean, nil
}

func (f *Factory) doCreateBean(ctx context.Context, name string, mbd *RootBeanDefinition, args []any) (any, error) {
	bean, err := f.createBeanInstance(ctx, name, mbd, args)
	if err != nil {
		return nil, err
	}
	if bean != nil {
		mbd.setResolvedTargetType(reflect.TypeOf(bean))
	}

	mbd.mu.Lock()
	needsPostProcessing := !mbd.postProcessed
	mbd.postProcessed = true
	mbd.mu.Unlock()
	if needsPostProcessing {
		for _, p := range postProcessorsOf[MergedBeanDefinitionPostProcessor](f) {
			p.PostProcessMergedDefinition(mbd, reflect.TypeOf(bean), name)
		}
	}

	earlyExposure := mbd.IsSingleton() && f.opts.allowCircularReferences && f.singletons.IsCurrentlyInCreation(name)
	if earlyExposure {
		f.logger.Debug("eagerly caching bean to allow for resolving potential circular references",
			zap.String("bean", name))
		raw := bean
		f.singletons.RegisterThunk(name, func() any {
			return f.earlyBeanReference(ctx, name, raw)
		})
	}

	if err := f.populateBean(ctx, name, mbd, bean); err != nil {
		return nil, err
	}
	exposed, err := f.initializeBean(ctx, name, bean, mbd)
	if err != nil {
		return nil, err
	}

	if earlyExposure {
		_, res := resolutionFrom(ctx)
		if early := f.singletons.Get(name, res.token, false); early != nil {
			if reflection.SameInstance(exposed, bean) {
				exposed = early
			} else if !f.opts.allowRawInjectionDespiteWrap && f.singletons.Graph().HasDependents(name) {
				actual := f.singletons.Graph().Dependents(name)
				return nil, CurrentlyInCreationError{
					Name: name,
					Message: fmt.Sprintf("bean with name '%s' has been injected into other beans [%s] in its raw version "+
						"as part of a circular reference, but has eventually been wrapped; those beans do not use the final version of the bean",
						name, strings.Join(actual, ",")),
				}
			}
		}
	}

	if err := f.registerDisposableIfNecessary(ctx, name, bean, mbd); err != nil {
		return nil, BeanCreationError{Name: name, Message: "invalid destruction signature", Cause: err}
	}
	return exposed, nil
}

// earlyBeanReference lets smart processors wrap the raw bean before it is
// handed out to a circular reference.
func (f *Factory) earlyBeanReference(ctx context.Context, name string, bean any) any {
	exposed := bean
	for _, p := range postProcessorsOf[SmartInstantiationAwareBeanPostProcessor](f) {
		exposed = p.EarlyBeanReference(ctx, exposed, name)
	}
	return exposed
}

func (f *Factory) createBeanInstance(ctx context.Context, name string, mbd *RootBeanDefinition, args []any) (any, error) {
	if mbd.Supplier != nil {
		bean, err := mbd.Supplier(ctx)
		if err != nil {
			return nil, BeanCreationError{Name: name, Message: "instance supplier failed", Cause: err}
		}
		return bean, nil
	}

	r := &constructorResolver{f: f}
	if mbd.FactoryMethodName != "" {
		return r.instantiateUsingFactoryMethod(ctx, name, mbd, args)
	}

	if args == nil {
		mbd.mu.Lock()
		resolved := mbd.resolvedExecutable != nil
		autowireNecessary := mbd.constructorArgumentsResolved
		mbd.mu.Unlock()
		if resolved && autowireNecessary {
			return r.autowireConstructor(ctx, name, mbd, nil, nil)
		}
	}

	candidates, err := f.constructorCandidates(name, mbd)
	if err != nil {
		return nil, err
	}
	if len(candidates) > 0 || args != nil || !mbd.ConstructorArgs.IsEmpty() || mbd.Autowire == AutowireConstructor {
		return r.autowireConstructor(ctx, name, mbd, candidates, args)
	}
	return f.instantiateBean(name, mbd)
}

// constructorCandidates returns the constructors of the definition, or the
// ones registered for its type.
func (f *Factory) constructorCandidates(name string, mbd *RootBeanDefinition) ([]*reflection.Executable, error) {
	fns := mbd.Constructors
	if len(fns) == 0 && mbd.Type != nil {
		f.mu.RLock()
		fns = append([]any(nil), f.constructors[mbd.Type]...)
		f.mu.RUnlock()
	}
	return f.analyzeAll(name, fns)
}

func (f *Factory) analyzeAll(name string, fns []any) ([]*reflection.Executable, error) {
	out := make([]*reflection.Executable, 0, len(fns))
	for _, fn := range fns {
		var (
			exec *reflection.Executable
			err  error
		)
		if cf, ok := fn.(ConstructorFunc); ok {
			exec, err = f.analyzer.Analyze(cf.Fn, cf.Names...)
		} else {
			exec, err = f.analyzer.Analyze(fn)
		}
		if err != nil {
			return nil, BeanDefinitionError{Name: name, Message: "invalid constructor", Cause: err}
		}
		out = append(out, exec)
	}
	return out, nil
}

// instantiateBean creates a zero instance of a pointer-to-struct type.
func (f *Factory) instantiateBean(name string, mbd *RootBeanDefinition) (any, error) {
	t := mbd.Type
	if t == nil {
		return nil, BeanDefinitionError{Name: name, Message: "no type and no constructor specified"}
	}
	switch {
	case t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct:
		return reflect.New(t.Elem()).Interface(), nil
	case t.Kind() == reflect.Struct:
		return reflect.New(t).Elem().Interface(), nil
	}
	return nil, BeanCreationError{
		Name:    name,
		Message: fmt.Sprintf("no constructor registered for type '%s'", formatType(t)),
	}
}

// populateBean applies autowiring, post processor injection and configured
// property values.
func (f *Factory) populateBean(ctx context.Context, name string, mbd *RootBeanDefinition, bean any) error {
	if bean == nil {
		if len(mbd.Properties) > 0 {
			return BeanCreationError{Name: name, Message: "cannot apply property values to nil instance"}
		}
		return nil
	}

	processors := postProcessorsOf[InstantiationAwareBeanPostProcessor](f)
	for _, p := range processors {
		proceed, err := p.AfterInstantiation(ctx, bean, name)
		if err != nil {
			return BeanCreationError{Name: name, Message: "AfterInstantiation of bean failed", Cause: err}
		}
		if !proceed {
			return nil
		}
	}

	pvs := append([]PropertyValue(nil), mbd.Properties...)
	switch mbd.Autowire {
	case AutowireByName:
		pvs = f.autowireByName(ctx, name, mbd, bean, pvs)
	case AutowireByType:
		var err error
		if pvs, err = f.autowireByType(ctx, name, bean, pvs); err != nil {
			return err
		}
	}

	for _, p := range processors {
		var err error
		if pvs, err = p.PostProcessProperties(ctx, pvs, bean, name); err != nil {
			var ude UnsatisfiedDependencyError
			if errors.As(err, &ude) {
				return err
			}
			return BeanCreationError{Name: name, Message: "injection of dependencies failed", Cause: err}
		}
	}

	return f.applyPropertyValues(ctx, name, mbd, bean, pvs)
}

// autowireFields returns the nil exported, untagged, non-simple fields of a
// struct pointer that no property value covers.
func autowireFields(bean any, pvs []PropertyValue) []reflect.StructField {
	v := reflect.ValueOf(bean)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return nil
	}
	t := v.Elem().Type()
	var out []reflect.StructField
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() || field.Anonymous || reflection.IsSimpleType(field.Type) {
			continue
		}
		if _, tagged := field.Tag.Lookup("inject"); tagged {
			continue
		}
		if !v.Elem().Field(i).IsZero() || hasProperty(pvs, field.Name) {
			continue
		}
		out = append(out, field)
	}
	return out
}

func hasProperty(pvs []PropertyValue, name string) bool {
	for _, pv := range pvs {
		if strings.EqualFold(pv.Name, name) {
			return true
		}
	}
	return false
}

func (f *Factory) autowireByName(ctx context.Context, name string, mbd *RootBeanDefinition, bean any, pvs []PropertyValue) []PropertyValue {
	for _, field := range autowireFields(bean, pvs) {
		for _, candidate := range []string{lowerFirst(field.Name), field.Name} {
			if !f.ContainsBean(candidate) {
				continue
			}
			pvs = append(pvs, PropertyValue{Name: field.Name, Value: Ref(candidate)})
			f.RegisterDependentBean(candidate, name)
			f.logger.Debug("added autowiring by name",
				zap.String("bean", name), zap.String("property", field.Name), zap.String("target", candidate))
			break
		}
	}
	return pvs
}

func (f *Factory) autowireByType(ctx context.Context, name string, bean any, pvs []PropertyValue) ([]PropertyValue, error) {
	for _, field := range autowireFields(bean, pvs) {
		desc := &DependencyDescriptor{
			Type:       field.Type,
			Name:       lowerFirst(field.Name),
			Field:      field.Name,
			ParamIndex: -1,
			Eager:      true,
		}
		value, err := f.resolveDependency(ctx, desc, name, nil)
		if err != nil {
			return nil, UnsatisfiedDependencyError{Name: name, Dependency: desc.String(), Cause: err}
		}
		if value != nil {
			pvs = append(pvs, PropertyValue{Name: field.Name, Value: value})
		}
	}
	return pvs, nil
}

func (f *Factory) applyPropertyValues(ctx context.Context, name string, mbd *RootBeanDefinition, bean any, pvs []PropertyValue) error {
	if len(pvs) == 0 {
		return nil
	}
	vr := &valueResolver{f: f, beanName: name, mbd: mbd}
	for _, pv := range pvs {
		value, err := vr.resolve(ctx, "property '"+pv.Name+"'", pv.Value)
		if err != nil {
			return BeanCreationError{Name: name, Message: "error setting property values", Cause: err}
		}
		if err := f.setProperty(bean, pv.Name, value); err != nil {
			return BeanCreationError{Name: name, Message: "error setting property values", Cause: err}
		}
	}
	return nil
}

// setProperty sets name through a SetName method or an exported field.
func (f *Factory) setProperty(bean any, name string, value any) error {
	v := reflect.ValueOf(bean)
	exported := upperFirst(name)

	if m := v.MethodByName("Set" + exported); m.IsValid() && m.Type().NumIn() == 1 {
		arg, err := f.convertIfNecessary(value, m.Type().In(0))
		if err != nil {
			return fmt.Errorf("property '%s': %w", name, err)
		}
		if err := callLifecycleMethodWith(m, reflection.ValueFor(m.Type().In(0), arg)); err != nil {
			return fmt.Errorf("property '%s': %w", name, err)
		}
		return nil
	}

	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("property '%s' is not writable on %s", name, v.Type())
	}
	field := v.Elem().FieldByName(exported)
	if !field.IsValid() || !field.CanSet() {
		return fmt.Errorf("property '%s' is not writable on %s", name, v.Type())
	}
	converted, err := f.convertIfNecessary(value, field.Type())
	if err != nil {
		return fmt.Errorf("property '%s': %w", name, err)
	}
	field.Set(reflection.ValueFor(field.Type(), converted))
	return nil
}

func callLifecycleMethodWith(m reflect.Value, arg reflect.Value) error {
	out := m.Call([]reflect.Value{arg})
	if len(out) > 0 {
		if last := out[len(out)-1]; last.Type() == errorType && !last.IsNil() {
			return last.Interface().(error)
		}
	}
	return nil
}

func (f *Factory) convertIfNecessary(value any, t reflect.Type) (any, error) {
	if reflection.IsAssignableValue(t, value) {
		return value, nil
	}
	return f.converter.Convert(value, t)
}

// initializeBean runs aware callbacks, post processors and init methods.
func (f *Factory) initializeBean(ctx context.Context, name string, bean any, mbd *RootBeanDefinition) (any, error) {
	if aware, ok := bean.(BeanNameAware); ok {
		aware.SetBeanName(name)
	}
	if aware, ok := bean.(BeanFactoryAware); ok {
		aware.SetBeanFactory(f)
	}

	wrapped, err := f.applyBeforeInitialization(ctx, bean, name)
	if err != nil {
		return nil, BeanCreationError{Name: name, Message: "BeforeInitialization of bean failed", Cause: err}
	}

	if err := f.invokeInitMethods(name, wrapped, mbd); err != nil {
		return nil, BeanCreationError{Name: name, Message: "invocation of init method failed", Cause: err}
	}

	if wrapped, err = f.applyAfterInitialization(ctx, wrapped, name); err != nil {
		return nil, BeanCreationError{Name: name, Message: "AfterInitialization of bean failed", Cause: err}
	}
	return wrapped, nil
}

func (f *Factory) applyBeforeInitialization(ctx context.Context, bean any, name string) (any, error) {
	result := bean
	for _, p := range postProcessorsOf[BeanPostProcessor](f) {
		current, err := p.BeforeInitialization(ctx, result, name)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return result, nil
		}
		result = current
	}
	return result, nil
}

func (f *Factory) applyAfterInitialization(ctx context.Context, bean any, name string) (any, error) {
	result := bean
	for _, p := range postProcessorsOf[BeanPostProcessor](f) {
		current, err := p.AfterInitialization(ctx, result, name)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return result, nil
		}
		result = current
	}
	return result, nil
}

func (f *Factory) invokeInitMethods(name string, bean any, mbd *RootBeanDefinition) error {
	if bean == nil {
		return nil
	}
	initializing, isInitializing := bean.(InitializingBean)
	if isInitializing {
		f.logger.Debug("invoking PostConstruct on bean", zap.String("bean", name))
		if err := initializing.PostConstruct(); err != nil {
			return err
		}
	}
	method := mbd.InitMethodName
	if method == "" || (isInitializing && method == "PostConstruct") {
		return nil
	}
	m := reflect.ValueOf(bean).MethodByName(method)
	if !m.IsValid() {
		return fmt.Errorf("could not find an init method named '%s' on bean with name '%s'", method, name)
	}
	return callLifecycleMethod(m)
}

func (f *Factory) registerDisposableIfNecessary(ctx context.Context, name string, bean any, mbd *RootBeanDefinition) error {
	if mbd.IsPrototype() {
		return nil
	}
	processors := postProcessorsOf[DestructionAwareBeanPostProcessor](f)
	if !requiresDestruction(bean, mbd, processors) {
		return nil
	}
	if mbd.DestroyMethodName != "" {
		if !reflect.ValueOf(bean).MethodByName(mbd.DestroyMethodName).IsValid() {
			return fmt.Errorf("could not find a destroy method named '%s' on bean with name '%s'", mbd.DestroyMethodName, name)
		}
	}

	adapter := newDisposableAdapter(bean, name, mbd, processors)
	if mbd.IsSingleton() {
		f.singletons.RegisterDisposable(name, adapter)
		return nil
	}
	scope := f.scope(mbd.Scope)
	if scope == nil {
		return fmt.Errorf("%w for scope name '%s'", ErrNoScope, mbd.Scope)
	}
	scope.RegisterDestructionCallback(ctx, name, adapter.Destroy)
	return nil
}

func lowerFirst(s string) string {
	for i, r := range s {
		return string(unicode.ToLower(r)) + s[i+len(string(r)):]
	}
	return s
}

func upperFirst(s string) string {
	for i, r := range s {
		return string(unicode.ToUpper(r)) + s[i+len(string(r)):]
	}
	return s
}
