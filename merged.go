package beans

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/bzb8/beans/internal/reflection"
)

// RootBeanDefinition is a definition merged with its parent chain. It also
// carries the resolution caches filled while creating the bean.
type RootBeanDefinition struct {
	BeanDefinition

	stale atomic.Bool

	// guards the constructor and type caches below
	mu sync.Mutex

	resolvedExecutable           *reflection.Executable
	constructorArgumentsResolved bool
	resolvedArgs                 []any
	preparedArgs                 []any

	targetType         reflect.Type
	resolvedTargetType reflect.Type
	isFactoryBean      *bool
	postProcessed      bool
	beforeInstantiated *bool
}

func newRootBeanDefinition(d *BeanDefinition) *RootBeanDefinition {
	return &RootBeanDefinition{BeanDefinition: *d.Clone()}
}

// IsStale reports whether the definition was invalidated since merging.
func (r *RootBeanDefinition) IsStale() bool {
	return r.stale.Load()
}

// ResolvedTargetType returns the type of the raw bean instance once created.
func (r *RootBeanDefinition) ResolvedTargetType() reflect.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolvedTargetType
}

func (r *RootBeanDefinition) setResolvedTargetType(t reflect.Type) {
	r.mu.Lock()
	r.resolvedTargetType = t
	r.mu.Unlock()
}

// copyCachesFrom keeps type caches of a stale predecessor that still apply.
func (r *RootBeanDefinition) copyCachesFrom(prev *RootBeanDefinition) {
	prev.mu.Lock()
	defer prev.mu.Unlock()
	if prev.Type != r.Type || prev.FactoryBeanName != r.FactoryBeanName || prev.FactoryMethodName != r.FactoryMethodName {
		return
	}
	if len(prev.Constructors) != len(r.Constructors) || prev.Supplier != nil || r.Supplier != nil {
		return
	}
	r.targetType = prev.targetType
	r.isFactoryBean = prev.isFactoryBean
}

// MergedBeanDefinition returns the merged definition for name, consulting
// the parent factory for beans not defined locally.
func (f *Factory) MergedBeanDefinition(name string) (*RootBeanDefinition, error) {
	beanName := f.transformedBeanName(name)
	if f.parent != nil && !f.ContainsBeanDefinition(beanName) {
		return f.parent.MergedBeanDefinition(beanName)
	}
	return f.mergedLocalBeanDefinition(beanName)
}

func (f *Factory) mergedLocalBeanDefinition(name string) (*RootBeanDefinition, error) {
	f.mergedMu.Lock()
	mbd := f.merged[name]
	f.mergedMu.Unlock()
	if mbd != nil && !mbd.IsStale() {
		return mbd, nil
	}

	def, err := f.BeanDefinition(name)
	if err != nil {
		return nil, err
	}

	f.mergedMu.Lock()
	defer f.mergedMu.Unlock()
	return f.mergeLocked(name, def, nil)
}

// mergeLocked must be called with mergedMu held.
func (f *Factory) mergeLocked(name string, def *BeanDefinition, containing *RootBeanDefinition) (*RootBeanDefinition, error) {
	var previous *RootBeanDefinition
	if containing == nil {
		if mbd := f.merged[name]; mbd != nil {
			if !mbd.IsStale() {
				return mbd, nil
			}
			previous = mbd
		}
	}

	var mbd *RootBeanDefinition
	if def.ParentName == "" {
		mbd = newRootBeanDefinition(def)
	} else {
		parentName := f.transformedBeanName(def.ParentName)
		var pbd *RootBeanDefinition
		var err error
		if parentName != name {
			pbd, err = f.mergedParentLocked(parentName)
		} else if f.parent != nil {
			pbd, err = f.parent.MergedBeanDefinition(parentName)
		} else {
			err = fmt.Errorf("parent name '%s' is equal to bean name '%s': cannot be resolved without a parent factory", parentName, name)
		}
		if err != nil {
			return nil, BeanDefinitionError{
				Name:    name,
				Message: fmt.Sprintf("could not resolve parent bean definition '%s'", def.ParentName),
				Cause:   err,
			}
		}
		mbd = newRootBeanDefinition(&pbd.BeanDefinition)
		mbd.overrideFrom(def)
	}

	if mbd.Scope == "" {
		mbd.Scope = ScopeSingleton
	}
	// an inner bean of a non-singleton cannot be a singleton itself
	if containing != nil && !containing.IsSingleton() && mbd.IsSingleton() {
		mbd.Scope = containing.Scope
	}

	if containing == nil && (f.opts.cacheBeanMetadata || f.isAlreadyCreated(name)) {
		f.merged[name] = mbd
	}
	if previous != nil {
		mbd.copyCachesFrom(previous)
	}
	return mbd, nil
}

func (f *Factory) mergedParentLocked(parentName string) (*RootBeanDefinition, error) {
	def, err := f.BeanDefinition(parentName)
	if err == nil {
		return f.mergeLocked(parentName, def, nil)
	}
	if f.parent != nil {
		return f.parent.MergedBeanDefinition(parentName)
	}
	return nil, err
}

// mergeInner merges the definition of an inner bean, which is never cached.
func (f *Factory) mergeInner(name string, def *BeanDefinition, containing *RootBeanDefinition) (*RootBeanDefinition, error) {
	f.mergedMu.Lock()
	defer f.mergedMu.Unlock()
	return f.mergeLocked(name, def, containing)
}

// clearMergedBeanDefinition marks the merged definition for name stale so
// that it is re-merged on next access.
func (f *Factory) clearMergedBeanDefinition(name string) {
	f.mergedMu.Lock()
	defer f.mergedMu.Unlock()
	if mbd := f.merged[name]; mbd != nil {
		mbd.stale.Store(true)
	}
}

// clearMetadataCache marks the merged definitions of beans not yet created
// stale, so that definition changes made by factory post processors apply.
func (f *Factory) clearMetadataCache() {
	f.mergedMu.Lock()
	defer f.mergedMu.Unlock()
	for name, mbd := range f.merged {
		if !f.isAlreadyCreated(name) {
			mbd.stale.Store(true)
		}
	}
}

func (f *Factory) markBeanAsCreated(name string) {
	f.mergedMu.Lock()
	defer f.mergedMu.Unlock()
	f.alreadyCreated[name] = struct{}{}
}

func (f *Factory) cleanupAfterCreationFailure(name string) {
	f.mergedMu.Lock()
	defer f.mergedMu.Unlock()
	delete(f.alreadyCreated, name)
}

// isAlreadyCreated must be called with mergedMu held.
func (f *Factory) isAlreadyCreated(name string) bool {
	_, ok := f.alreadyCreated[name]
	return ok
}
