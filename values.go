package beans

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// valueResolver resolves configured values (references, inner beans, lists
// and maps) for one bean under creation.
type valueResolver struct {
	f        *Factory
	beanName string
	mbd      *RootBeanDefinition
}

func (vr *valueResolver) resolve(ctx context.Context, argName string, value any) (any, error) {
	switch v := value.(type) {
	case BeanRef:
		return vr.resolveReference(ctx, argName, v)
	case *BeanRef:
		return vr.resolveReference(ctx, argName, *v)
	case InnerBean:
		return vr.resolveInnerBean(ctx, argName, v.Name, v.Definition)
	case *InnerBean:
		return vr.resolveInnerBean(ctx, argName, v.Name, v.Definition)
	case *BeanDefinition:
		return vr.resolveInnerBean(ctx, argName, "", v)
	case List:
		out := make([]any, len(v))
		for i, elem := range v {
			resolved, err := vr.resolve(ctx, fmt.Sprintf("%s[%d]", argName, i), elem)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case Map:
		out := make(map[string]any, len(v))
		for key, elem := range v {
			resolved, err := vr.resolve(ctx, fmt.Sprintf("%s[%s]", argName, key), elem)
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

func (vr *valueResolver) resolveReference(ctx context.Context, argName string, ref BeanRef) (any, error) {
	if ref.ToParent {
		if vr.f.parent == nil {
			return nil, BeanCreationError{
				Name:    vr.beanName,
				Message: fmt.Sprintf("cannot resolve reference to bean '%s' in parent factory: no parent factory available", ref.Name),
			}
		}
		return vr.f.parent.GetBean(ctx, ref.Name)
	}

	bean, err := vr.f.GetBean(ctx, ref.Name)
	if err != nil {
		return nil, BeanCreationError{
			Name:    vr.beanName,
			Message: fmt.Sprintf("cannot resolve reference to bean '%s' while setting %s", ref.Name, argName),
			Cause:   err,
		}
	}
	vr.f.RegisterDependentBean(ref.Name, vr.beanName)
	return bean, nil
}

func (vr *valueResolver) resolveInnerBean(ctx context.Context, argName, innerName string, def *BeanDefinition) (any, error) {
	if def == nil {
		return nil, BeanCreationError{Name: vr.beanName, Message: "inner bean definition for " + argName + " is nil"}
	}
	if innerName == "" {
		innerName = "(inner bean)#" + uuid.NewString()[:8]
	}

	mbd, err := vr.f.mergeInner(innerName, def, vr.mbd)
	if err != nil {
		return nil, err
	}
	for _, dep := range mbd.DependsOn {
		vr.f.RegisterDependentBean(dep, innerName)
		if _, err := vr.f.GetBean(ctx, dep); err != nil {
			return nil, BeanCreationError{
				Name:    vr.beanName,
				Message: fmt.Sprintf("cannot create inner bean '%s' while setting %s", innerName, argName),
				Cause:   err,
			}
		}
	}
	vr.f.singletons.Graph().RegisterContained(innerName, vr.beanName)

	inner, err := vr.f.createBean(ctx, innerName, mbd, nil)
	if err != nil {
		return nil, BeanCreationError{
			Name:    vr.beanName,
			Message: fmt.Sprintf("cannot create inner bean '%s' while setting %s", innerName, argName),
			Cause:   err,
		}
	}
	if fb, ok := inner.(FactoryBean); ok {
		return vr.f.objectFromFactoryBean(ctx, fb, innerName)
	}
	return inner, nil
}
