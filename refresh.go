package beans

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Refresh prepares the factory for use. It runs the factory post
// processors, registers post processor beans and creates every non-lazy
// singleton. When any step fails the singletons created so far are
// destroyed.
func (f *Factory) Refresh(ctx context.Context) error {
	if f.closed.Load() {
		return ErrFactoryClosed
	}
	ctx, _ = resolutionFrom(ctx)

	if err := f.invokeFactoryPostProcessors(ctx); err != nil {
		return err
	}
	f.clearMetadataCache()
	if err := f.registerPostProcessorBeans(ctx); err != nil {
		f.DestroySingletons()
		return err
	}
	if err := f.PreInstantiateSingletons(ctx); err != nil {
		f.logger.Warn("refresh failed, destroying created singletons", zap.Error(err))
		f.DestroySingletons()
		return err
	}
	return nil
}

func (f *Factory) invokeFactoryPostProcessors(ctx context.Context) error {
	f.processorsMu.RLock()
	programmatic := append([]BeanFactoryPostProcessor(nil), f.factoryPostProcessors...)
	f.processorsMu.RUnlock()

	for _, p := range programmatic {
		if err := p.PostProcessBeanFactory(ctx, f); err != nil {
			return fmt.Errorf("factory post processor %T: %w", p, err)
		}
	}

	// processors may register further processor definitions
	processed := make(map[string]bool)
	for {
		names, err := f.BeanNamesForType(ctx, factoryPostProcessorType, true, false)
		if err != nil {
			return err
		}
		var pending []BeanFactoryPostProcessor
		for _, name := range names {
			if processed[name] {
				continue
			}
			processed[name] = true
			bean, err := f.GetBean(ctx, name)
			if err != nil {
				return err
			}
			if p, ok := bean.(BeanFactoryPostProcessor); ok {
				pending = append(pending, p)
			}
		}
		if len(pending) == 0 {
			return nil
		}
		for _, p := range sortByPrecedence(pending) {
			if err := p.PostProcessBeanFactory(ctx, f); err != nil {
				return fmt.Errorf("factory post processor %T: %w", p, err)
			}
		}
	}
}

func (f *Factory) registerPostProcessorBeans(ctx context.Context) error {
	seen := make(map[string]bool)
	var names []string
	for _, t := range beanPostProcessorTypes {
		found, err := f.BeanNamesForType(ctx, t, true, false)
		if err != nil {
			return err
		}
		for _, name := range found {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}

	processors := make([]PostProcessor, 0, len(names))
	for _, name := range names {
		bean, err := f.GetBean(ctx, name)
		if err != nil {
			return err
		}
		processors = append(processors, bean)
	}
	for _, p := range sortByPrecedence(processors) {
		if err := f.AddPostProcessor(p); err != nil {
			return err
		}
	}
	f.logger.Debug("registered post processor beans", zap.Int("count", len(processors)))
	return nil
}

// sortByPrecedence stably orders PriorityOrdered items first, then Ordered
// items, each by their order, then everything else.
func sortByPrecedence[T any](items []T) []T {
	rank := func(v T) (int, int) {
		switch o := any(v).(type) {
		case PriorityOrdered:
			return 0, o.BeanOrder()
		case Ordered:
			return 1, o.BeanOrder()
		}
		return 2, 0
	}
	out := append([]T(nil), items...)
	sort.SliceStable(out, func(i, j int) bool {
		gi, oi := rank(out[i])
		gj, oj := rank(out[j])
		if gi != gj {
			return gi < gj
		}
		return oi < oj
	})
	return out
}

// PreInstantiateSingletons creates every non-abstract, non-lazy singleton in
// registration order, then notifies SmartInitializingSingleton beans.
func (f *Factory) PreInstantiateSingletons(ctx context.Context) error {
	ctx, _ = resolutionFrom(ctx)
	names := f.BeanDefinitionNames()

	for _, name := range names {
		mbd, err := f.mergedLocalBeanDefinition(name)
		if err != nil {
			return err
		}
		if mbd.Abstract || !mbd.IsSingleton() || mbd.IsLazy() {
			continue
		}

		if !f.isFactoryBeanDefinition(ctx, name, mbd) {
			if _, err := f.GetBean(ctx, name); err != nil {
				return err
			}
			continue
		}

		bean, err := f.GetBean(ctx, FactoryBeanPrefix+name)
		if err != nil {
			return err
		}
		if sfb, ok := bean.(SmartFactoryBean); ok && sfb.EagerInit() {
			if _, err := f.GetBean(ctx, name); err != nil {
				return err
			}
		}
	}

	for _, name := range names {
		instance := f.singletons.Get(name, 0, false)
		if s, ok := instance.(SmartInitializingSingleton); ok {
			if err := s.AfterSingletonsInstantiated(ctx); err != nil {
				return BeanCreationError{Name: name, Message: "AfterSingletonsInstantiated failed", Cause: err}
			}
		}
	}
	return nil
}
