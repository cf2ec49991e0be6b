package beans

import (
	"context"
	"fmt"
	"reflect"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/bzb8/beans/internal/reflection"
)

// ExportTo provides beans of f to a dig container so that dig and fx
// applications can consume them. Every bean is provided under its name
// with dig.Name; a bean whose type no other exported bean shares is also
// provided unnamed. With no names, all singleton definitions and manual
// singletons are exported.
//
// The provided constructors call back into f on first use, so the beans
// keep their factory-managed lifecycle.
//
//	c := dig.New()
//	if err := f.ExportTo(ctx, c); err != nil {
//		return err
//	}
//	err := c.Invoke(func(svc *Service) { ... })
func (f *Factory) ExportTo(ctx context.Context, c *dig.Container, names ...string) error {
	if f.closed.Load() {
		return ErrFactoryClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if len(names) == 0 {
		names = f.exportableNames()
	}

	typed := make(map[string]reflect.Type, len(names))
	counts := make(map[reflect.Type]int)
	for _, name := range names {
		rctx, _ := resolutionFrom(ctx)
		typ, err := f.GetType(rctx, name)
		if err != nil {
			return err
		}
		if typ == nil {
			f.logger.Debug("skipping export of bean with unknown type", zap.String("bean", name))
			continue
		}
		typed[name] = typ
		counts[typ]++
	}

	for _, name := range names {
		typ, ok := typed[name]
		if !ok {
			continue
		}
		if err := c.Provide(f.exportConstructor(ctx, name, typ), dig.Name(name)); err != nil {
			return fmt.Errorf("exporting bean '%s': %w", name, err)
		}
		if counts[typ] == 1 {
			if err := c.Provide(f.exportConstructor(ctx, name, typ)); err != nil {
				return fmt.Errorf("exporting bean '%s' by type: %w", name, err)
			}
		}
	}
	return nil
}

func (f *Factory) exportableNames() []string {
	var names []string
	for _, name := range f.BeanDefinitionNames() {
		mbd, err := f.mergedLocalBeanDefinition(name)
		if err != nil || mbd.Abstract || !mbd.IsSingleton() {
			continue
		}
		names = append(names, name)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, name := range f.manualSingletons {
		if _, ok := f.definitions[name]; !ok {
			names = append(names, name)
		}
	}
	return names
}

// exportConstructor builds a func() (T, error) resolving name from f.
func (f *Factory) exportConstructor(ctx context.Context, name string, typ reflect.Type) any {
	fnType := reflect.FuncOf(nil, []reflect.Type{typ, errorType}, false)
	return reflect.MakeFunc(fnType, func([]reflect.Value) []reflect.Value {
		bean, err := f.GetBeanOfType(ctx, name, typ)
		if err != nil {
			return []reflect.Value{reflect.Zero(typ), reflect.ValueOf(&err).Elem()}
		}
		return []reflect.Value{reflection.ValueFor(typ, bean), reflect.Zero(errorType)}
	}).Interface()
}
