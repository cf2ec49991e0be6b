package beans

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/bzb8/beans/internal/reflection"
)

// candidate is one bean matching a dependency. instance is nil until the
// bean has been obtained.
type candidate struct {
	name       string
	instance   any
	resolved   bool
	resolvable bool
}

// ResolveDependency resolves desc for the bean named requestingBean, which
// may be empty.
func (f *Factory) ResolveDependency(ctx context.Context, desc *DependencyDescriptor, requestingBean string) (any, error) {
	ctx, _ = resolutionFrom(ctx)
	return f.resolveDependency(ctx, desc, requestingBean, nil)
}

func (f *Factory) resolveDependency(ctx context.Context, desc *DependencyDescriptor, beanName string, autowired map[string]struct{}) (any, error) {
	t := desc.Type
	if opt, ok := asOptional(t); ok {
		inner := *desc
		inner.Type = opt.optionalType()
		inner.Required = false
		value, err := f.doResolveDependency(ctx, &inner, beanName, autowired)
		if err != nil {
			return nil, err
		}
		return opt.wrapOptional(value), nil
	}
	if p, ok := asProvider(t); ok {
		return p.bindProvider(f, *desc, beanName), nil
	}

	switch t {
	case injectionPointType:
		ip := CurrentInjectionPoint(ctx)
		if ip == nil && desc.Required {
			return nil, errors.New("no current injection point available")
		}
		return ip, nil
	case contextType:
		return ctx, nil
	}
	return f.doResolveDependency(ctx, desc, beanName, autowired)
}

func (f *Factory) doResolveDependency(ctx context.Context, desc *DependencyDescriptor, beanName string, autowired map[string]struct{}) (any, error) {
	ctx = withInjectionPoint(ctx, &InjectionPoint{Descriptor: *desc, Bean: beanName})

	if multiple, ok, err := f.resolveMultipleBeans(ctx, desc, beanName, autowired); ok || err != nil {
		return multiple, err
	}

	candidates, err := f.findAutowireCandidates(ctx, beanName, desc.Type, desc)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		if desc.Required {
			return nil, f.noMatchingBeanError(ctx, desc)
		}
		return nil, nil
	}

	chosen := candidates[0]
	if len(candidates) > 1 {
		name, err := f.determineAutowireCandidate(candidates, desc)
		if err != nil {
			return nil, err
		}
		if name == "" {
			if desc.Required {
				return nil, NoUniqueBeanDefinitionError{Type: desc.Type, Names: candidateNames(candidates)}
			}
			return nil, nil
		}
		for _, c := range candidates {
			if c.name == name {
				chosen = c
				break
			}
		}
	}

	instance := chosen.instance
	if !chosen.resolved {
		if instance, err = f.doGetBean(ctx, chosen.name, desc.Type, nil, false); err != nil {
			return nil, err
		}
	}
	if !chosen.resolvable {
		f.recordAutowired(chosen.name, beanName, autowired)
	}

	if instance == nil {
		if desc.Required {
			return nil, f.noMatchingBeanError(ctx, desc)
		}
		return nil, nil
	}
	if !reflection.IsAssignableValue(desc.Type, instance) {
		return nil, BeanNotOfRequiredTypeError{Name: chosen.name, Required: desc.Type, Actual: reflect.TypeOf(instance)}
	}
	return instance, nil
}

func (f *Factory) recordAutowired(name, beanName string, autowired map[string]struct{}) {
	if autowired != nil {
		autowired[name] = struct{}{}
	}
	if beanName != "" && f.ContainsBean(name) {
		f.RegisterDependentBean(name, beanName)
	}
}

// isMultipleType reports whether t collects several beans: a slice of
// non-simple elements or a map keyed by bean name.
func isMultipleType(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Slice:
		return !reflection.IsSimpleType(t.Elem())
	case reflect.Map:
		return t.Key().Kind() == reflect.String && !reflection.IsSimpleType(t.Elem())
	}
	return false
}

// resolveMultipleBeans collects all matching beans for slice and map
// dependencies. ok is false when t is not a collection or nothing matched.
func (f *Factory) resolveMultipleBeans(ctx context.Context, desc *DependencyDescriptor, beanName string, autowired map[string]struct{}) (any, bool, error) {
	t := desc.Type
	if !isMultipleType(t) {
		return nil, false, nil
	}

	elemDesc := *desc
	elemDesc.Type = t.Elem()
	elemDesc.multiple = true
	candidates, err := f.findAutowireCandidates(ctx, beanName, t.Elem(), &elemDesc)
	if err != nil {
		return nil, false, err
	}
	if len(candidates) == 0 {
		return nil, false, nil
	}

	for i := range candidates {
		c := &candidates[i]
		if !c.resolved {
			if c.instance, err = f.doGetBean(ctx, c.name, t.Elem(), nil, false); err != nil {
				return nil, false, err
			}
			c.resolved = true
		}
		if !c.resolvable {
			f.recordAutowired(c.name, beanName, autowired)
		}
	}

	if t.Kind() == reflect.Map {
		out := reflect.MakeMapWithSize(t, len(candidates))
		for _, c := range candidates {
			if c.instance != nil {
				out.SetMapIndex(reflect.ValueOf(c.name), reflection.ValueFor(t.Elem(), c.instance))
			}
		}
		return out.Interface(), true, nil
	}

	f.sortCandidates(candidates)
	out := reflect.MakeSlice(t, 0, len(candidates))
	for _, c := range candidates {
		if c.instance != nil {
			out = reflect.Append(out, reflection.ValueFor(t.Elem(), c.instance))
		}
	}
	return out.Interface(), true, nil
}

// findAutowireCandidates returns the beans assignable to requiredType that
// qualify for desc, resolvable dependencies first. Self references are only
// considered when nothing else matches.
func (f *Factory) findAutowireCandidates(ctx context.Context, beanName string, requiredType reflect.Type, desc *DependencyDescriptor) ([]candidate, error) {
	var result []candidate

	f.mu.RLock()
	resolvable := append([]resolvableDependency(nil), f.resolvable...)
	f.mu.RUnlock()
	for _, r := range resolvable {
		if r.value != nil && requiredType.AssignableTo(r.typ) && reflect.TypeOf(r.value).AssignableTo(requiredType) && desc.Qualifier == "" {
			result = append(result, candidate{
				name:       "(resolvable) " + r.typ.String(),
				instance:   r.value,
				resolved:   true,
				resolvable: true,
			})
		}
	}

	names, err := f.beanNamesForTypeIncludingAncestors(ctx, requiredType, true, desc.Eager)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if !f.isSelfReference(beanName, name) && f.isAutowireCandidate(name, desc) {
			result = append(result, candidate{name: name})
		}
	}

	if len(result) == 0 && !desc.multiple {
		for _, name := range names {
			if f.isSelfReference(beanName, name) && f.isAutowireCandidate(name, desc) {
				result = append(result, candidate{name: name})
			}
		}
	}
	return result, nil
}

// isSelfReference reports whether candidate is beanName itself or a bean
// produced by beanName's factory methods.
func (f *Factory) isSelfReference(beanName, candidateName string) bool {
	if beanName == "" {
		return false
	}
	candidateName = strings.TrimLeft(candidateName, FactoryBeanPrefix)
	if candidateName == beanName {
		return true
	}
	if def, err := f.BeanDefinition(candidateName); err == nil {
		return def.FactoryBeanName == beanName
	}
	return false
}

// isAutowireCandidate checks the definition flag and the qualifier of desc.
func (f *Factory) isAutowireCandidate(name string, desc *DependencyDescriptor) bool {
	beanName := f.transformedBeanName(name)
	if f.ContainsBeanDefinition(beanName) {
		mbd, err := f.mergedLocalBeanDefinition(beanName)
		if err != nil || !mbd.IsAutowireCandidate() {
			return false
		}
		return desc.Qualifier == "" || f.matchesQualifier(beanName, mbd.Qualifier, desc.Qualifier)
	}
	if f.singletons.Contains(beanName) {
		return desc.Qualifier == "" || f.matchesQualifier(beanName, "", desc.Qualifier)
	}
	if f.parent != nil {
		return f.parent.isAutowireCandidate(name, desc)
	}
	return true
}

func (f *Factory) matchesQualifier(beanName, defQualifier, qualifier string) bool {
	if beanName == qualifier || defQualifier == qualifier {
		return true
	}
	for _, alias := range f.Aliases(beanName) {
		if alias == qualifier {
			return true
		}
	}
	return false
}

// determineAutowireCandidate picks one of several candidates: the primary
// bean, then the highest priority, then a name match. It returns "" when
// none qualifies.
func (f *Factory) determineAutowireCandidate(candidates []candidate, desc *DependencyDescriptor) (string, error) {
	primary, err := f.determinePrimaryCandidate(candidates, desc.Type)
	if err != nil || primary != "" {
		return primary, err
	}
	highest, err := f.determineHighestPriorityCandidate(candidates, desc.Type)
	if err != nil || highest != "" {
		return highest, err
	}
	for _, c := range candidates {
		if c.resolvable || f.matchesBeanName(c.name, desc.Name) {
			return c.name, nil
		}
	}
	return "", nil
}

func (f *Factory) determinePrimaryCandidate(candidates []candidate, requiredType reflect.Type) (string, error) {
	var primary string
	for _, c := range candidates {
		if c.resolvable || !f.isPrimary(c.name) {
			continue
		}
		if primary == "" {
			primary = c.name
			continue
		}
		candidateLocal := f.ContainsBeanDefinition(c.name)
		primaryLocal := f.ContainsBeanDefinition(primary)
		if candidateLocal && primaryLocal {
			return "", NoUniqueBeanDefinitionError{
				Type:    requiredType,
				Names:   candidateNames(candidates),
				Message: fmt.Sprintf("more than one 'primary' bean found among candidates: %v", candidateNames(candidates)),
			}
		}
		if candidateLocal {
			primary = c.name
		}
	}
	return primary, nil
}

func (f *Factory) isPrimary(name string) bool {
	beanName := f.transformedBeanName(name)
	if f.ContainsBeanDefinition(beanName) {
		mbd, err := f.mergedLocalBeanDefinition(beanName)
		return err == nil && mbd.Primary
	}
	return f.parent != nil && f.parent.isPrimary(beanName)
}

func (f *Factory) determineHighestPriorityCandidate(candidates []candidate, requiredType reflect.Type) (string, error) {
	var highest string
	var highestPriority int
	for _, c := range candidates {
		priority, ok := f.priorityOf(c)
		if !ok {
			continue
		}
		switch {
		case highest == "":
			highest, highestPriority = c.name, priority
		case priority == highestPriority:
			return "", NoUniqueBeanDefinitionError{
				Type:  requiredType,
				Names: candidateNames(candidates),
				Message: fmt.Sprintf("multiple beans found with the same priority ('%d') among candidates: %v",
					priority, candidateNames(candidates)),
			}
		case priority < highestPriority:
			highest, highestPriority = c.name, priority
		}
	}
	return highest, nil
}

func (f *Factory) priorityOf(c candidate) (int, bool) {
	if p, ok := c.instance.(Prioritized); ok {
		return p.BeanPriority(), true
	}
	if c.resolvable {
		return 0, false
	}
	mbd, err := f.MergedBeanDefinition(c.name)
	if err != nil || mbd.Priority == nil {
		return 0, false
	}
	return *mbd.Priority, true
}

func (f *Factory) matchesBeanName(beanName, name string) bool {
	if name == "" {
		return false
	}
	if name == beanName {
		return true
	}
	for _, alias := range f.Aliases(beanName) {
		if alias == name {
			return true
		}
	}
	return false
}

func candidateNames(candidates []candidate) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.name
	}
	return out
}

// noMatchingBeanError reports a missing dependency. When a bean of the
// right raw type exists but is exposed as another type, the more specific
// BeanNotOfRequiredTypeError is returned.
func (f *Factory) noMatchingBeanError(ctx context.Context, desc *DependencyDescriptor) error {
	if err := f.checkBeanNotOfRequiredType(desc); err != nil {
		return err
	}
	msg := "expected at least 1 bean which qualifies as autowire candidate"
	if desc.Qualifier != "" {
		msg += fmt.Sprintf(" with qualifier '%s'", desc.Qualifier)
	}
	return NoSuchBeanDefinitionError{Type: desc.Type, Message: msg + ". Dependency: " + desc.String()}
}

func (f *Factory) checkBeanNotOfRequiredType(desc *DependencyDescriptor) error {
	for _, name := range f.BeanDefinitionNames() {
		mbd, err := f.mergedLocalBeanDefinition(name)
		if err != nil {
			continue
		}
		target := mbd.ResolvedTargetType()
		if target == nil || !target.AssignableTo(desc.Type) || !f.isAutowireCandidate(name, desc) {
			continue
		}
		bean := f.singletons.Get(name, 0, false)
		if bean == nil {
			continue
		}
		if actual := reflect.TypeOf(bean); !actual.AssignableTo(desc.Type) {
			return BeanNotOfRequiredTypeError{Name: name, Required: desc.Type, Actual: actual}
		}
	}
	if f.parent != nil {
		return f.parent.checkBeanNotOfRequiredType(desc)
	}
	return nil
}

// sortCandidates orders resolved candidates by Ordered, then by their
// definition order. Unordered beans keep their position after ordered ones.
func (f *Factory) sortCandidates(candidates []candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return f.orderOf(candidates[i]) < f.orderOf(candidates[j])
	})
}

// LowestPrecedence is the order of beans that declare none.
const LowestPrecedence = int(^uint32(0) >> 1)

func (f *Factory) orderOf(c candidate) int {
	if o, ok := c.instance.(Ordered); ok {
		return o.BeanOrder()
	}
	if c.resolvable {
		return LowestPrecedence
	}
	mbd, err := f.MergedBeanDefinition(c.name)
	if err != nil {
		return LowestPrecedence
	}
	if mbd.Order != nil {
		return *mbd.Order
	}
	if mbd.Priority != nil {
		return *mbd.Priority
	}
	return LowestPrecedence
}
