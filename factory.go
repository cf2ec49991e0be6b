package beans

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bzb8/beans/internal/convert"
	"github.com/bzb8/beans/internal/graph"
	"github.com/bzb8/beans/internal/reflection"
	"github.com/bzb8/beans/internal/singleton"
)

// Factory is a bean factory: a registry of bean definitions that creates,
// wires, caches and destroys the beans they describe.
//
// A Factory is safe for concurrent use.
type Factory struct {
	id        string
	opts      *options
	parent    *Factory
	logger    *zap.Logger
	converter Converter
	analyzer  *reflection.Analyzer

	singletons *singleton.Registry

	// definitions, aliases and manual singletons
	mu               sync.RWMutex
	definitions      map[string]*BeanDefinition
	definitionNames  []string
	manualSingletons []string
	aliases          map[string]string
	resolvable       []resolvableDependency
	constructors     map[reflect.Type][]any
	factoryFuncs     map[factoryFuncKey][]any
	scopes           map[string]Scope

	// merged definitions; lock order is mergedMu before mu
	mergedMu       sync.Mutex
	merged         map[string]*RootBeanDefinition
	alreadyCreated map[string]struct{}

	// FactoryBean products
	productsMu sync.Mutex
	products   map[string]any

	processorsMu          sync.RWMutex
	processors            []PostProcessor
	factoryPostProcessors []BeanFactoryPostProcessor

	closed atomic.Bool
}

type resolvableDependency struct {
	typ   reflect.Type
	value any
}

type factoryFuncKey struct {
	typ  reflect.Type
	name string
}

// New creates a Factory.
//
// Example:
//
//	f := beans.New(beans.WithLogger(logger))
//	defer f.Close()
//
//	f.Provide("repo", NewRepository)
//	f.Provide("service", NewService)
//
//	svc, err := beans.Resolve[*Service](ctx, f)
func New(opts ...Option) *Factory {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt.apply(o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.converter == nil {
		o.converter = convert.Converter{}
	}
	if o.serializationID == "" {
		o.serializationID = uuid.NewString()
	}

	f := &Factory{
		id:             o.serializationID,
		opts:           o,
		parent:         o.parent,
		logger:         o.logger.Named("beans"),
		converter:      o.converter,
		analyzer:       reflection.New(),
		singletons:     singleton.New(o.logger.Named("singletons")),
		definitions:    make(map[string]*BeanDefinition),
		aliases:        make(map[string]string),
		constructors:   make(map[reflect.Type][]any),
		factoryFuncs:   make(map[factoryFuncKey][]any),
		scopes:         make(map[string]Scope),
		merged:         make(map[string]*RootBeanDefinition),
		alreadyCreated: make(map[string]struct{}),
		products:       make(map[string]any),
	}
	f.singletons.OnRemove(f.removeProduct)

	if o.fieldInjection {
		f.processors = append(f.processors, &fieldInjector{f: f})
	}
	f.RegisterResolvableDependency(factoryPointerType, f)
	return f
}

// NewChild creates a factory whose parent is f. Options given here override
// the inherited logger.
func (f *Factory) NewChild(opts ...Option) *Factory {
	return New(append([]Option{WithLogger(f.opts.logger), WithParent(f)}, opts...)...)
}

// SerializationID returns the id of the factory.
func (f *Factory) SerializationID() string {
	return f.id
}

// Parent returns the parent factory, or nil.
func (f *Factory) Parent() *Factory {
	return f.parent
}

// Logger returns the factory logger.
func (f *Factory) Logger() *zap.Logger {
	return f.logger
}

// ========================================
// Definition registration
// ========================================

// RegisterBeanDefinition registers def under name. Replacing an existing
// definition resets the merged definition, the singleton instance and every
// definition inheriting from it.
func (f *Factory) RegisterBeanDefinition(name string, def *BeanDefinition) error {
	if name == "" {
		return BeanDefinitionError{Name: name, Message: "bean name must not be empty"}
	}
	if def == nil {
		return BeanDefinitionError{Name: name, Message: "bean definition must not be nil"}
	}
	if err := f.validateDefinition(name, def); err != nil {
		return err
	}

	f.mu.Lock()
	_, exists := f.definitions[name]
	if exists && !f.opts.allowDefinitionOverriding {
		f.mu.Unlock()
		return BeanDefinitionOverrideError{Name: name}
	}
	f.definitions[name] = def
	if !exists {
		f.definitionNames = append(f.definitionNames, name)
	}
	f.manualSingletons = removeName(f.manualSingletons, name)
	delete(f.aliases, name)
	f.mu.Unlock()

	if exists {
		f.logger.Debug("overriding bean definition", zap.String("bean", name))
	}
	if exists || f.singletons.Contains(name) {
		f.resetBeanDefinition(name)
	}
	return nil
}

func (f *Factory) validateDefinition(name string, def *BeanDefinition) error {
	if def.FactoryBeanName != "" && f.transformedBeanName(def.FactoryBeanName) == name {
		return BeanDefinitionError{Name: name, Message: "factory-bean reference points back to the same bean definition"}
	}
	if def.Abstract || def.ParentName != "" {
		return nil
	}
	if def.Type == nil && len(def.Constructors) == 0 && def.Supplier == nil && def.FactoryMethodName == "" {
		return BeanDefinitionError{Name: name, Message: "definition needs a type, constructor, supplier or factory method"}
	}
	if def.FactoryMethodName != "" && def.FactoryBeanName == "" && def.Type == nil {
		return BeanDefinitionError{Name: name, Message: "factory method without factory bean needs a type"}
	}
	for _, c := range def.Constructors {
		if err := checkConstructor(c); err != nil {
			return BeanDefinitionError{Name: name, Message: "invalid constructor", Cause: err}
		}
	}
	return nil
}

func checkConstructor(c any) error {
	fn := c
	if cf, ok := c.(ConstructorFunc); ok {
		fn = cf.Fn
	}
	if fn == nil || reflect.TypeOf(fn).Kind() != reflect.Func {
		return fmt.Errorf("constructor must be a function, got %T", fn)
	}
	return nil
}

// resetBeanDefinition drops everything derived from the definition of name.
func (f *Factory) resetBeanDefinition(name string) {
	f.clearMergedBeanDefinition(name)
	f.destroySingleton(name)

	f.mu.RLock()
	var children []string
	for _, n := range f.definitionNames {
		if def := f.definitions[n]; def != nil && def.ParentName == name {
			children = append(children, n)
		}
	}
	f.mu.RUnlock()

	for _, child := range children {
		f.resetBeanDefinition(child)
	}
}

// RemoveBeanDefinition removes the definition of name.
func (f *Factory) RemoveBeanDefinition(name string) error {
	f.mu.Lock()
	if _, ok := f.definitions[name]; !ok {
		f.mu.Unlock()
		return NoSuchBeanDefinitionError{Name: name}
	}
	delete(f.definitions, name)
	f.definitionNames = removeName(f.definitionNames, name)
	f.mu.Unlock()

	f.resetBeanDefinition(name)
	return nil
}

// Provide registers constructor under name.
//
// Example:
//
//	f.Provide("userService", NewUserService, beans.AsPrimary())
//	f.Provide("request", NewRequest, beans.AsPrototype())
func (f *Factory) Provide(name string, constructor any, opts ...DefinitionOption) error {
	def := &BeanDefinition{Constructors: []any{constructor}}
	for _, opt := range opts {
		if opt != nil {
			opt.applyDefinition(def)
		}
	}
	return f.RegisterBeanDefinition(name, def)
}

// RegisterConstructors registers constructor functions for typ. They are
// candidates for every definition of typ that lists no constructors itself.
func (f *Factory) RegisterConstructors(typ reflect.Type, constructors ...any) error {
	for _, c := range constructors {
		if err := checkConstructor(c); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[typ] = append(f.constructors[typ], constructors...)
	return nil
}

// RegisterFactoryFunctions registers overloaded factory functions selected
// by definitions with that Type and FactoryMethodName and no
// FactoryBeanName.
func (f *Factory) RegisterFactoryFunctions(typ reflect.Type, name string, fns ...any) error {
	for _, fn := range fns {
		if err := checkConstructor(fn); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := factoryFuncKey{typ: typ, name: name}
	f.factoryFuncs[key] = append(f.factoryFuncs[key], fns...)
	return nil
}

// RegisterSingleton registers an existing object under name.
func (f *Factory) RegisterSingleton(name string, obj any) error {
	if name == "" {
		return BeanDefinitionError{Name: name, Message: "bean name must not be empty"}
	}
	if err := f.singletons.Register(name, obj); err != nil {
		return fmt.Errorf("could not register object under bean name '%s': %w", name, err)
	}
	f.mu.Lock()
	if _, ok := f.definitions[name]; !ok {
		f.manualSingletons = append(removeName(f.manualSingletons, name), name)
	}
	f.mu.Unlock()
	return nil
}

// RegisterResolvableDependency makes value injectable wherever typ is
// required, without registering it as a bean.
func (f *Factory) RegisterResolvableDependency(typ reflect.Type, value any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, r := range f.resolvable {
		if r.typ == typ {
			f.resolvable[i].value = value
			return
		}
	}
	f.resolvable = append(f.resolvable, resolvableDependency{typ: typ, value: value})
}

// RegisterAlias registers alias for name.
func (f *Factory) RegisterAlias(name, alias string) error {
	if name == "" || alias == "" {
		return fmt.Errorf("name and alias must not be empty")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if alias == name {
		delete(f.aliases, alias)
		return nil
	}
	if _, ok := f.definitions[alias]; ok {
		return fmt.Errorf("cannot register alias '%s' for name '%s': it is already used as a bean name", alias, name)
	}
	if existing, ok := f.aliases[alias]; ok && existing != name && !f.opts.allowDefinitionOverriding {
		return fmt.Errorf("cannot register alias '%s' for name '%s': it is already registered for name '%s'", alias, name, existing)
	}
	// reject alias chains that lead back to alias
	for n := name; ; {
		next, ok := f.aliases[n]
		if !ok {
			break
		}
		if next == alias {
			return fmt.Errorf("cannot register alias '%s' for name '%s': circular reference", alias, name)
		}
		n = next
	}
	f.aliases[alias] = name
	return nil
}

// Aliases returns the aliases registered for name, directly or through
// other aliases.
func (f *Factory) Aliases(name string) []string {
	beanName := strings.TrimLeft(name, FactoryBeanPrefix)
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []string
	f.collectAliasesLocked(beanName, &out)
	sort.Strings(out)
	return out
}

func (f *Factory) collectAliasesLocked(name string, out *[]string) {
	for alias, target := range f.aliases {
		if target == name {
			*out = append(*out, alias)
			f.collectAliasesLocked(alias, out)
		}
	}
}

// canonicalName resolves aliases to the bean name.
func (f *Factory) canonicalName(name string) string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for {
		target, ok := f.aliases[name]
		if !ok {
			return name
		}
		name = target
	}
}

// transformedBeanName strips factory dereference prefixes and resolves
// aliases.
func (f *Factory) transformedBeanName(name string) string {
	return f.canonicalName(strings.TrimLeft(name, FactoryBeanPrefix))
}

func isFactoryDereference(name string) bool {
	return strings.HasPrefix(name, FactoryBeanPrefix)
}

// RegisterScope registers a custom scope under name.
func (f *Factory) RegisterScope(name string, scope Scope) error {
	if name == ScopeSingleton || name == ScopePrototype {
		return fmt.Errorf("cannot replace existing scope '%s'", name)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scopes[name] = scope
	return nil
}

func (f *Factory) scope(name string) Scope {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.scopes[name]
}

// AddPostProcessor registers a bean post processor. p must implement at
// least one of the post processor interfaces.
func (f *Factory) AddPostProcessor(p PostProcessor) error {
	if !isPostProcessor(p) {
		return fmt.Errorf("%T does not implement a bean post processor interface", p)
	}
	f.processorsMu.Lock()
	defer f.processorsMu.Unlock()
	for i, existing := range f.processors {
		if existing == p {
			f.processors = append(f.processors[:i], f.processors[i+1:]...)
			break
		}
	}
	f.processors = append(f.processors, p)
	return nil
}

// AddFactoryPostProcessor registers a processor run by Refresh.
func (f *Factory) AddFactoryPostProcessor(p BeanFactoryPostProcessor) {
	f.processorsMu.Lock()
	defer f.processorsMu.Unlock()
	f.factoryPostProcessors = append(f.factoryPostProcessors, p)
}

// PostProcessorCount returns the number of registered bean post processors.
func (f *Factory) PostProcessorCount() int {
	f.processorsMu.RLock()
	defer f.processorsMu.RUnlock()
	return len(f.processors)
}

func postProcessorsOf[T any](f *Factory) []T {
	f.processorsMu.RLock()
	defer f.processorsMu.RUnlock()
	var out []T
	for _, p := range f.processors {
		if t, ok := p.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

// ========================================
// Queries
// ========================================

// BeanDefinition returns the local definition registered under name.
func (f *Factory) BeanDefinition(name string) (*BeanDefinition, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	def, ok := f.definitions[name]
	if !ok {
		return nil, NoSuchBeanDefinitionError{Name: name}
	}
	return def, nil
}

// ContainsBeanDefinition reports whether a local definition exists for name.
func (f *Factory) ContainsBeanDefinition(name string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.definitions[name]
	return ok
}

// BeanDefinitionNames returns the local definition names in registration
// order.
func (f *Factory) BeanDefinitionNames() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]string(nil), f.definitionNames...)
}

// BeanDefinitionCount returns the number of local definitions.
func (f *Factory) BeanDefinitionCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.definitions)
}

// ContainsLocalBean reports whether name is defined or registered in this
// factory, ignoring the parent.
func (f *Factory) ContainsLocalBean(name string) bool {
	beanName := f.transformedBeanName(name)
	return (f.singletons.Contains(beanName) || f.ContainsBeanDefinition(beanName)) &&
		(!isFactoryDereference(name) || f.isFactoryBeanName(context.Background(), beanName))
}

// ContainsBean reports whether name is defined or registered in this
// factory or one of its ancestors.
func (f *Factory) ContainsBean(name string) bool {
	beanName := f.transformedBeanName(name)
	if f.singletons.Contains(beanName) || f.ContainsBeanDefinition(beanName) {
		return !isFactoryDereference(name) || f.isFactoryBeanName(context.Background(), name)
	}
	return f.parent != nil && f.parent.ContainsBean(name)
}

// ContainsSingleton reports whether a finished singleton exists for name.
func (f *Factory) ContainsSingleton(name string) bool {
	return f.singletons.Contains(f.transformedBeanName(name))
}

// SingletonNames returns the names of finished singletons.
func (f *Factory) SingletonNames() []string {
	return f.singletons.Names()
}

// IsCurrentlyInCreation reports whether a singleton is being created.
func (f *Factory) IsCurrentlyInCreation(name string) bool {
	return f.singletons.IsCurrentlyInCreation(f.transformedBeanName(name))
}

// DependentBeans returns the beans depending on name.
func (f *Factory) DependentBeans(name string) []string {
	return f.singletons.Graph().Dependents(f.transformedBeanName(name))
}

// Dependencies returns the beans name depends on.
func (f *Factory) Dependencies(name string) []string {
	return f.singletons.Graph().Dependencies(f.transformedBeanName(name))
}

// RegisterDependentBean records that dependent depends on name. name is
// destroyed after dependent.
func (f *Factory) RegisterDependentBean(name, dependent string) {
	f.singletons.Graph().RegisterDependent(f.canonicalName(name), dependent)
}

// WriteDependencyGraph writes the dependency graph as text, or as DOT when
// dot is set.
func (f *Factory) WriteDependencyGraph(w io.Writer, dot bool) error {
	v := graph.NewVisualizer(f.singletons.Graph())
	if dot {
		return v.WriteDOT(w)
	}
	return v.WriteText(w)
}

// ========================================
// Shutdown
// ========================================

// DestroySingletons destroys all singletons while keeping the definitions.
func (f *Factory) DestroySingletons() {
	f.logger.Debug("destroying singletons")
	f.singletons.DestroyAll()
	f.mu.Lock()
	f.manualSingletons = nil
	f.mu.Unlock()
}

// DestroySingleton destroys the singleton name and every bean depending on
// it.
func (f *Factory) DestroySingleton(name string) {
	f.destroySingleton(f.transformedBeanName(name))
}

func (f *Factory) destroySingleton(name string) {
	f.singletons.DestroySingleton(name)
	f.mu.Lock()
	f.manualSingletons = removeName(f.manualSingletons, name)
	f.mu.Unlock()
}

// DestroyBean runs the destroy callbacks of a bean obtained from a
// non-singleton definition.
func (f *Factory) DestroyBean(name string, bean any) error {
	mbd, err := f.MergedBeanDefinition(name)
	if err != nil {
		return err
	}
	processors := postProcessorsOf[DestructionAwareBeanPostProcessor](f)
	return newDisposableAdapter(bean, name, mbd, processors).Destroy()
}

// Close destroys all singletons and closes registered scopes. It is safe to
// call more than once. Beans cannot be requested after Close.
func (f *Factory) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	f.DestroySingletons()

	f.mu.RLock()
	var scopes []Disposable
	for _, s := range f.scopes {
		if d, ok := s.(Disposable); ok {
			scopes = append(scopes, d)
		}
	}
	f.mu.RUnlock()

	for _, s := range scopes {
		if err := s.Close(); err != nil {
			f.logger.Warn("closing scope failed", zap.Error(err))
		}
	}
	return nil
}

func (f *Factory) removeProduct(name string) {
	f.productsMu.Lock()
	defer f.productsMu.Unlock()
	if name == "" {
		f.products = make(map[string]any)
		return
	}
	delete(f.products, name)
}

func removeName(names []string, name string) []string {
	for i, n := range names {
		if n == name {
			return append(names[:i:i], names[i+1:]...)
		}
	}
	return names
}
