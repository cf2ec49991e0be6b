package beans

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/bzb8/beans/internal/reflection"
)

// autowiredArgument marks a prepared argument to be re-resolved by
// autowiring on every creation.
type autowiredArgument struct{}

// constructorResolver selects a constructor or factory method and resolves
// its arguments.
type constructorResolver struct {
	f *Factory
}

// argumentsHolder keeps the converted, raw and prepared (cacheable) forms
// of a resolved argument list.
type argumentsHolder struct {
	args             []any
	raw              []any
	prepared         []any
	resolveNecessary bool
}

func newArgumentsHolder(n int) *argumentsHolder {
	return &argumentsHolder{
		args:     make([]any, n),
		raw:      make([]any, n),
		prepared: make([]any, n),
	}
}

func explicitArgumentsHolder(args []any) *argumentsHolder {
	return &argumentsHolder{args: args, raw: args, prepared: args}
}

func (h *argumentsHolder) weight(exec *reflection.Executable, lenient bool) int {
	params := exec.ParamTypes()
	if lenient {
		return reflection.LenientWeight(params, h.args, h.raw)
	}
	return reflection.AssignabilityWeight(params, h.args, h.raw)
}

func (h *argumentsHolder) storeCache(mbd *RootBeanDefinition, exec *reflection.Executable) {
	mbd.mu.Lock()
	defer mbd.mu.Unlock()
	mbd.resolvedExecutable = exec
	mbd.constructorArgumentsResolved = true
	if h.resolveNecessary {
		mbd.preparedArgs = h.prepared
		mbd.resolvedArgs = nil
	} else {
		mbd.resolvedArgs = h.args
		mbd.preparedArgs = nil
	}
}

// selection is the outcome of matching candidates against arguments.
type selection struct {
	exec      *reflection.Executable
	holder    *argumentsHolder
	ambiguous []*reflection.Executable
}

func (r *constructorResolver) autowireConstructor(ctx context.Context, name string, mbd *RootBeanDefinition, chosen []*reflection.Executable, explicitArgs []any) (any, error) {
	var exec *reflection.Executable
	var args []any

	if explicitArgs != nil {
		args = explicitArgs
	} else {
		var err error
		if exec, args, err = r.cachedArguments(ctx, name, mbd, nil); err != nil {
			return nil, err
		}
	}
	if exec != nil && args != nil {
		return r.instantiate(name, mbd, exec, args)
	}

	candidates := chosen
	if candidates == nil {
		var err error
		if candidates, err = r.f.constructorCandidates(name, mbd); err != nil {
			return nil, err
		}
	}
	if len(candidates) == 0 {
		return nil, BeanCreationError{
			Name:    name,
			Message: fmt.Sprintf("no constructor registered for type '%s'", formatType(mbd.Type)),
		}
	}

	if len(candidates) == 1 && explicitArgs == nil && mbd.ConstructorArgs.IsEmpty() && candidates[0].NumParams() == 0 {
		unique := candidates[0]
		newArgumentsHolder(0).storeCache(mbd, unique)
		return r.instantiate(name, mbd, unique, nil)
	}

	sel, err := r.selectCandidate(ctx, name, mbd, candidates, explicitArgs)
	if err != nil {
		return nil, err
	}
	if sel.exec == nil {
		return nil, BeanCreationError{
			Name: name,
			Message: "could not resolve matching constructor on bean type " + formatType(mbd.Type) +
				" (hint: specify index/type/name arguments for simple parameters to avoid type ambiguities)",
		}
	}
	if len(sel.ambiguous) > 0 && !mbd.IsLenient() {
		return nil, AmbiguousConstructorError{Name: name, Candidates: signatures(sel.ambiguous)}
	}
	if explicitArgs == nil {
		sel.holder.storeCache(mbd, sel.exec)
	}
	return r.instantiate(name, mbd, sel.exec, sel.holder.args)
}

// selectCandidate runs the weighted matching shared by constructors and
// factory methods.
func (r *constructorResolver) selectCandidate(ctx context.Context, name string, mbd *RootBeanDefinition, candidates []*reflection.Executable, explicitArgs []any) (selection, error) {
	autowiring := mbd.Autowire != AutowireNo

	var resolved *ConstructorArgumentValues
	minArgs := 0
	if explicitArgs != nil {
		minArgs = len(explicitArgs)
	} else {
		resolved = &ConstructorArgumentValues{}
		var err error
		if minArgs, err = r.resolveConstructorArguments(ctx, name, mbd, resolved); err != nil {
			return selection{}, err
		}
	}

	sorted := append([]*reflection.Executable(nil), candidates...)
	reflection.SortGreedy(sorted)

	var sel selection
	minWeight := math.MaxInt32
	var causes []error

	for _, candidate := range sorted {
		paramCount := candidate.NumParams()
		if sel.exec != nil && len(sel.holder.args) > paramCount {
			// already found a greedy match that can be satisfied
			break
		}
		if paramCount < minArgs {
			continue
		}

		var holder *argumentsHolder
		if resolved != nil {
			var err error
			holder, err = r.createArgumentArray(ctx, name, mbd, resolved, candidate, autowiring, len(candidates) == 1)
			if err != nil {
				r.f.logger.Debug("ignoring constructor candidate",
					zap.String("bean", name), zap.String("candidate", candidate.Signature()), zap.Error(err))
				causes = append(causes, err)
				continue
			}
		} else {
			if paramCount != len(explicitArgs) {
				continue
			}
			holder = explicitArgumentsHolder(explicitArgs)
		}

		weight := holder.weight(candidate, mbd.IsLenient())
		switch {
		case weight < minWeight:
			sel = selection{exec: candidate, holder: holder}
			minWeight = weight
		case sel.exec != nil && weight == minWeight && !sameSignature(candidate, sel.exec):
			if len(sel.ambiguous) == 0 {
				sel.ambiguous = append(sel.ambiguous, sel.exec)
			}
			sel.ambiguous = append(sel.ambiguous, candidate)
		}
	}

	if sel.exec == nil && len(causes) > 0 {
		_, res := resolutionFrom(ctx)
		for _, cause := range causes[:len(causes)-1] {
			r.f.singletons.OnSuppressed(res.token, cause)
		}
		return selection{}, causes[len(causes)-1]
	}
	return sel, nil
}

func sameSignature(a, b *reflection.Executable) bool {
	if a.NumParams() != b.NumParams() {
		return false
	}
	for i := range a.Params {
		if a.Params[i].Type != b.Params[i].Type {
			return false
		}
	}
	return true
}

func signatures(execs []*reflection.Executable) []string {
	out := make([]string, len(execs))
	for i, e := range execs {
		out[i] = e.Signature()
	}
	return out
}

// resolveConstructorArguments resolves configured argument values into
// resolved and returns the minimum number of parameters they require.
func (r *constructorResolver) resolveConstructorArguments(ctx context.Context, name string, mbd *RootBeanDefinition, resolved *ConstructorArgumentValues) (int, error) {
	cargs := &mbd.ConstructorArgs
	vr := &valueResolver{f: r.f, beanName: name, mbd: mbd}
	minArgs := cargs.Len()

	indices := make([]int, 0, len(cargs.Indexed))
	for index := range cargs.Indexed {
		indices = append(indices, index)
	}
	sort.Ints(indices)

	for _, index := range indices {
		holder := cargs.Indexed[index]
		if index < 0 {
			return 0, BeanCreationError{Name: name, Message: fmt.Sprintf("invalid constructor argument index: %d", index)}
		}
		if index+1 > minArgs {
			minArgs = index + 1
		}
		value, err := vr.resolve(ctx, fmt.Sprintf("constructor argument %d", index), holder.Value)
		if err != nil {
			return 0, err
		}
		resolved.AddIndexedHolder(index, &ValueHolder{Value: value, Type: holder.Type, Name: holder.Name, source: holder})
	}

	for _, holder := range cargs.Generic {
		value, err := vr.resolve(ctx, "constructor argument", holder.Value)
		if err != nil {
			return 0, err
		}
		resolved.AddGenericHolder(&ValueHolder{Value: value, Type: holder.Type, Name: holder.Name, source: holder})
	}
	return minArgs, nil
}

// createArgumentArray binds configured values and autowired dependencies to
// the parameters of exec.
func (r *constructorResolver) createArgumentArray(ctx context.Context, name string, mbd *RootBeanDefinition, resolved *ConstructorArgumentValues, exec *reflection.Executable, autowiring, fallback bool) (*argumentsHolder, error) {
	n := exec.NumParams()
	holder := newArgumentsHolder(n)
	used := make(map[*ValueHolder]bool, n)
	autowired := make(map[string]struct{})

	for i, param := range exec.Params {
		vh := resolved.argument(i, param.Type, param.Name, used)
		if vh == nil && (!autowiring || n == resolved.Len()) {
			vh = resolved.generic(nil, "", used)
		}

		if vh != nil {
			used[vh] = true
			converted, err := r.f.convertIfNecessary(vh.Value, param.Type)
			if err != nil {
				return nil, UnsatisfiedDependencyError{
					Name:       name,
					Dependency: parameterDescription(exec, i),
					Cause:      fmt.Errorf("could not convert argument value of type '%T' to required type '%s': %w", vh.Value, formatType(param.Type), err),
				}
			}
			holder.args[i] = converted
			holder.raw[i] = vh.Value
			if vh.source != nil && isConfiguredReference(vh.source.Value) {
				holder.prepared[i] = vh.source.Value
				holder.resolveNecessary = true
			} else {
				holder.prepared[i] = converted
			}
			continue
		}

		if !autowiring {
			return nil, UnsatisfiedDependencyError{
				Name:       name,
				Dependency: parameterDescription(exec, i),
				Cause: fmt.Errorf("ambiguous argument values for parameter of type [%s]: did you specify the correct bean references as arguments?",
					formatType(param.Type)),
			}
		}

		value, err := r.resolveAutowiredArgument(ctx, name, exec, i, autowired, fallback)
		if err != nil {
			return nil, UnsatisfiedDependencyError{Name: name, Dependency: parameterDescription(exec, i), Cause: err}
		}
		holder.args[i] = value
		holder.raw[i] = value
		holder.prepared[i] = autowiredArgument{}
		holder.resolveNecessary = true
	}

	for dep := range autowired {
		r.f.logger.Debug("autowiring by type",
			zap.String("bean", name), zap.String("dependency", dep), zap.String("via", exec.Name))
	}
	return holder, nil
}

func parameterDescription(exec *reflection.Executable, index int) string {
	if p := exec.Params[index]; p.Name != "" {
		return fmt.Sprintf("parameter %d ('%s') of %s", index, p.Name, exec.Signature())
	}
	return fmt.Sprintf("parameter %d of %s", index, exec.Signature())
}

func (r *constructorResolver) resolveAutowiredArgument(ctx context.Context, name string, exec *reflection.Executable, index int, autowired map[string]struct{}, fallback bool) (any, error) {
	param := exec.Params[index]
	desc := &DependencyDescriptor{
		Type:       param.Type,
		Name:       param.Name,
		Required:   true,
		Eager:      true,
		ParamIndex: index,
		Executable: exec.Signature(),
	}
	value, err := r.f.resolveDependency(ctx, desc, name, autowired)
	if err != nil && fallback && errors.Is(err, ErrNoSuchBean) && !errors.Is(err, ErrNoUniqueBean) {
		switch param.Type.Kind() {
		case reflect.Slice:
			return reflect.MakeSlice(param.Type, 0, 0).Interface(), nil
		case reflect.Map:
			return reflect.MakeMap(param.Type).Interface(), nil
		}
	}
	return value, err
}

// cachedArguments returns the executable and arguments cached by a previous
// creation, re-resolving prepared arguments. factoryBean rebinds cached
// methods to the current factory instance.
func (r *constructorResolver) cachedArguments(ctx context.Context, name string, mbd *RootBeanDefinition, factoryBean any) (*reflection.Executable, []any, error) {
	mbd.mu.Lock()
	exec := mbd.resolvedExecutable
	if exec == nil || !mbd.constructorArgumentsResolved {
		mbd.mu.Unlock()
		return nil, nil, nil
	}
	args := mbd.resolvedArgs
	prepared := mbd.preparedArgs
	mbd.mu.Unlock()

	if exec.Method && factoryBean != nil {
		rebound, err := r.f.analyzer.Method(reflect.ValueOf(factoryBean), exec.MethodName)
		if err != nil {
			return nil, nil, nil
		}
		exec = rebound
	}

	if args == nil && prepared != nil {
		var err error
		if args, err = r.resolvePreparedArguments(ctx, name, mbd, exec, prepared); err != nil {
			return nil, nil, err
		}
	}
	if args == nil && exec.NumParams() == 0 {
		args = []any{}
	}
	return exec, args, nil
}

func (r *constructorResolver) resolvePreparedArguments(ctx context.Context, name string, mbd *RootBeanDefinition, exec *reflection.Executable, prepared []any) ([]any, error) {
	vr := &valueResolver{f: r.f, beanName: name, mbd: mbd}
	out := make([]any, len(prepared))
	for i, arg := range prepared {
		param := exec.Params[i]
		var value any
		var err error
		switch {
		case arg == (autowiredArgument{}):
			value, err = r.resolveAutowiredArgument(ctx, name, exec, i, nil, true)
		case isConfiguredReference(arg):
			value, err = vr.resolve(ctx, fmt.Sprintf("constructor argument %d", i), arg)
		default:
			value = arg
		}
		if err != nil {
			return nil, UnsatisfiedDependencyError{Name: name, Dependency: parameterDescription(exec, i), Cause: err}
		}
		if value, err = r.f.convertIfNecessary(value, param.Type); err != nil {
			return nil, UnsatisfiedDependencyError{Name: name, Dependency: parameterDescription(exec, i), Cause: err}
		}
		out[i] = value
	}
	return out, nil
}

// instantiate calls exec with args.
func (r *constructorResolver) instantiate(name string, mbd *RootBeanDefinition, exec *reflection.Executable, args []any) (any, error) {
	if exec.Void() {
		return nil, BeanDefinitionError{
			Name:    name,
			Message: fmt.Sprintf("invalid factory method '%s': needs to have a non-void return type", exec.Name),
		}
	}
	values := make([]reflect.Value, len(args))
	for i, arg := range args {
		values[i] = reflection.ValueFor(exec.Params[i].Type, arg)
	}
	bean, err := exec.Call(values)
	if err != nil {
		return nil, BeanCreationError{Name: name, Message: "instantiation via " + exec.Name + " failed", Cause: err}
	}
	return bean, nil
}

// instantiateUsingFactoryMethod creates the bean through an instance
// factory method on another bean or a registered factory function.
func (r *constructorResolver) instantiateUsingFactoryMethod(ctx context.Context, name string, mbd *RootBeanDefinition, explicitArgs []any) (any, error) {
	var (
		factoryBean any
		factoryType reflect.Type
		candidates  []*reflection.Executable
		err         error
	)

	if fbName := mbd.FactoryBeanName; fbName != "" {
		if r.f.transformedBeanName(fbName) == name {
			return nil, BeanDefinitionError{Name: name, Message: "factory-bean reference points back to the same bean definition"}
		}
		if factoryBean, err = r.f.GetBean(ctx, fbName); err != nil {
			return nil, err
		}
		if factoryBean == nil {
			return nil, BeanCreationError{Name: name, Message: fmt.Sprintf("factory bean '%s' is nil", fbName)}
		}
		if mbd.IsSingleton() && r.f.singletons.Contains(name) {
			return nil, BeanCreationError{Name: name, Message: "singleton appeared implicitly while creating its factory bean"}
		}
		factoryType = reflect.TypeOf(factoryBean)
	} else {
		factoryType = mbd.Type
	}

	if explicitArgs == nil {
		exec, args, err := r.cachedArguments(ctx, name, mbd, factoryBean)
		if err != nil {
			return nil, err
		}
		if exec != nil && args != nil {
			return r.instantiate(name, mbd, exec, args)
		}
	}

	if factoryBean != nil {
		if m, err := r.f.analyzer.Method(reflect.ValueOf(factoryBean), mbd.FactoryMethodName); err == nil {
			candidates = append(candidates, m)
		}
	} else {
		r.f.mu.RLock()
		fns := append([]any(nil), r.f.factoryFuncs[factoryFuncKey{typ: mbd.Type, name: mbd.FactoryMethodName}]...)
		r.f.mu.RUnlock()
		if candidates, err = r.f.analyzeAll(name, fns); err != nil {
			return nil, err
		}
	}

	if len(candidates) == 1 && explicitArgs == nil && mbd.ConstructorArgs.IsEmpty() && candidates[0].NumParams() == 0 {
		unique := candidates[0]
		newArgumentsHolder(0).storeCache(mbd, unique)
		return r.instantiate(name, mbd, unique, nil)
	}

	sel := selection{}
	if len(candidates) > 0 {
		if sel, err = r.selectCandidate(ctx, name, mbd, candidates, explicitArgs); err != nil {
			return nil, err
		}
	}
	if sel.exec == nil {
		var b strings.Builder
		b.WriteString(fmt.Sprintf("no matching factory method found on type [%s]: ", formatType(factoryType)))
		if mbd.FactoryBeanName != "" {
			b.WriteString(fmt.Sprintf("factory bean '%s'; ", mbd.FactoryBeanName))
		}
		b.WriteString(fmt.Sprintf("factory method '%s'", mbd.FactoryMethodName))
		if explicitArgs != nil {
			b.WriteString(fmt.Sprintf(" with %d arguments", len(explicitArgs)))
		}
		b.WriteString(". Check that a method with the specified name and arguments exists")
		return nil, BeanCreationError{Name: name, Message: b.String()}
	}
	if sel.exec.Void() {
		return nil, BeanDefinitionError{
			Name:    name,
			Message: fmt.Sprintf("invalid factory method '%s' on type [%s]: needs to have a non-void return type", mbd.FactoryMethodName, formatType(factoryType)),
		}
	}
	if len(sel.ambiguous) > 0 && !mbd.IsLenient() {
		return nil, AmbiguousConstructorError{Name: name, Candidates: signatures(sel.ambiguous)}
	}
	if explicitArgs == nil {
		sel.holder.storeCache(mbd, sel.exec)
	}
	return r.instantiate(name, mbd, sel.exec, sel.holder.args)
}
