package beans

import (
	"context"
	"reflect"

	"go.uber.org/zap"

	"github.com/bzb8/beans/internal/reflection"
)

// fieldInjector injects struct fields tagged with `inject`:
//
//	type Service struct {
//		Repo    Repository `inject:""`
//		Cache   Cache      `inject:"bean=redisCache"`
//		Metrics Metrics    `inject:"optional"`
//	}
//
// Fields are resolved like constructor parameters. A field already holding
// a non-zero value is left alone, except by explicit property values.
type fieldInjector struct {
	f *Factory
}

var _ InstantiationAwareBeanPostProcessor = (*fieldInjector)(nil)

func (fi *fieldInjector) BeforeInstantiation(context.Context, reflect.Type, string) (any, error) {
	return nil, nil
}

func (fi *fieldInjector) AfterInstantiation(context.Context, any, string) (bool, error) {
	return true, nil
}

func (fi *fieldInjector) PostProcessProperties(ctx context.Context, pvs []PropertyValue, bean any, name string) ([]PropertyValue, error) {
	v := reflect.ValueOf(bean)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return pvs, nil
	}

	fields, err := fi.f.analyzer.InjectFields(v.Type())
	if err != nil {
		return nil, BeanCreationError{Name: name, Message: "invalid injection metadata", Cause: err}
	}

	elem := v.Elem()
	for _, field := range fields {
		if hasProperty(pvs, field.Name) || !elem.Field(field.Index).IsZero() {
			continue
		}

		desc := &DependencyDescriptor{
			Type:       field.Type,
			Name:       lowerFirst(field.Name),
			Required:   !field.Optional,
			Eager:      true,
			Qualifier:  field.Qualifier,
			Field:      field.Name,
			ParamIndex: -1,
		}
		value, err := fi.f.resolveDependency(ctx, desc, name, nil)
		if err != nil {
			return nil, UnsatisfiedDependencyError{Name: name, Dependency: desc.String(), Cause: err}
		}
		if value == nil {
			continue
		}
		if !reflection.IsAssignableValue(field.Type, value) {
			return nil, BeanNotOfRequiredTypeError{Name: desc.Name, Required: field.Type, Actual: reflect.TypeOf(value)}
		}
		elem.Field(field.Index).Set(reflection.ValueFor(field.Type, value))

		fi.f.logger.Debug("injected field",
			zap.String("bean", name),
			zap.String("field", field.Name),
		)
	}
	return pvs, nil
}
