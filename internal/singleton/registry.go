// Package singleton implements the shared-instance store of a bean factory:
// the three-tier cache used to break circular references, creation markers,
// disposable registration and ordered teardown.
package singleton

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/bzb8/beans/internal/graph"
)

var (
	// ErrCurrentlyInCreation is returned when a singleton is requested again
	// while the same resolution is still creating it.
	ErrCurrentlyInCreation = errors.New("bean is currently in creation")

	// ErrInDestruction is returned when a singleton is requested while the
	// registry is being torn down.
	ErrInDestruction = errors.New("singleton creation not allowed while singletons of this factory are in destruction")

	// ErrAlreadyRegistered is returned by Register for an existing name.
	ErrAlreadyRegistered = errors.New("singleton already registered")
)

// MaxSuppressed bounds the number of suppressed errors collected per
// creation attempt. The oldest entries are dropped first.
const MaxSuppressed = 100

// Token identifies one logical resolution (one caller stack). Nested
// requests made on behalf of the same top-level request share a token.
type Token uint64

// Thunk produces the early reference of a singleton on demand.
type Thunk func() any

// Disposable is a destroy callback registered for a singleton.
type Disposable interface {
	Destroy() error
}

// RelatedCauser is implemented by errors that can carry suppressed errors
// collected during a creation attempt.
type RelatedCauser interface {
	WithRelatedCauses(causes []error) error
}

// SuppressedError attaches suppressed errors to a failure that cannot carry
// them itself.
type SuppressedError struct {
	Err        error
	Suppressed []error
}

func (e SuppressedError) Error() string {
	return fmt.Sprintf("%v (%d suppressed)", e.Err, len(e.Suppressed))
}

func (e SuppressedError) Unwrap() error {
	return e.Err
}

type creation struct {
	owner Token
	done  chan struct{}
}

// Registry stores shared bean instances. All cache, marker and wait-state
// mutation is guarded by a single mutex.
type Registry struct {
	mu sync.Mutex

	singletons map[string]any
	early      map[string]any
	thunks     map[string]Thunk
	registered []string

	creating map[string]*creation
	waiting  map[Token]*creation

	// suppressed errors per owner, only recorded while that owner is
	// inside its outermost GetOrCreate
	suppressed map[Token][]error
	depth      map[Token]int

	destroying  bool
	disposables []string
	disposers   map[string]Disposable

	graph    *graph.DependencyGraph
	logger   *zap.Logger
	onRemove func(name string)
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		singletons: make(map[string]any),
		early:      make(map[string]any),
		thunks:     make(map[string]Thunk),
		creating:   make(map[string]*creation),
		waiting:    make(map[Token]*creation),
		suppressed: make(map[Token][]error),
		depth:      make(map[Token]int),
		disposers:  make(map[string]Disposable),
		graph:      graph.NewDependencyGraph(),
		logger:     logger,
	}
}

// Graph returns the dependency graph used for destruction ordering.
func (r *Registry) Graph() *graph.DependencyGraph {
	return r.graph
}

// OnRemove sets a hook called whenever a name is dropped from the caches.
// The hook runs with the registry locked and must not call back into it.
func (r *Registry) OnRemove(hook func(name string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRemove = hook
}

// Register adds an already constructed singleton under name.
func (r *Registry) Register(name string, obj any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.singletons[name]; ok {
		return ErrAlreadyRegistered
	}
	r.addLocked(name, obj)
	return nil
}

func (r *Registry) addLocked(name string, obj any) {
	r.singletons[name] = obj
	delete(r.early, name)
	delete(r.thunks, name)
	r.addRegisteredLocked(name)
}

func (r *Registry) addRegisteredLocked(name string) {
	for _, n := range r.registered {
		if n == name {
			return
		}
	}
	r.registered = append(r.registered, name)
}

// RegisterThunk registers the early-reference provider for name. It is a
// no-op when a finished instance already exists.
func (r *Registry) RegisterThunk(name string, thunk Thunk) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.singletons[name]; ok {
		return
	}
	r.thunks[name] = thunk
	delete(r.early, name)
	r.addRegisteredLocked(name)
}

// Get returns the finished instance for name. When name is being created by
// owner, the early reference is returned instead, and with allowEarly the
// registered thunk is consumed to produce it.
func (r *Registry) Get(name string, owner Token, allowEarly bool) any {
	r.mu.Lock()
	if obj, ok := r.singletons[name]; ok {
		r.mu.Unlock()
		return obj
	}
	rec, inCreation := r.creating[name]
	if !inCreation || rec.owner != owner {
		r.mu.Unlock()
		return nil
	}
	return r.earlyLocked(name, allowEarly)
}

// earlyLocked must be called with the mutex held and releases it.
func (r *Registry) earlyLocked(name string, allowEarly bool) any {
	if obj, ok := r.early[name]; ok {
		r.mu.Unlock()
		return obj
	}
	thunk, ok := r.thunks[name]
	if !allowEarly || !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.thunks, name)
	r.mu.Unlock()

	obj := thunk()

	r.mu.Lock()
	defer r.mu.Unlock()
	if finished, ok := r.singletons[name]; ok {
		return finished
	}
	r.early[name] = obj
	return obj
}

// GetOrCreate returns the finished instance for name, creating it with
// create when absent. Exactly one caller wins the creation race; other
// owners wait for its result. A request by the owner already creating name
// fails with ErrCurrentlyInCreation.
func (r *Registry) GetOrCreate(name string, owner Token, create func() (any, error)) (obj any, err error) {
	r.mu.Lock()
	var rec *creation
	for {
		if obj, ok := r.singletons[name]; ok {
			r.mu.Unlock()
			return obj, nil
		}
		if r.destroying {
			r.mu.Unlock()
			return nil, ErrInDestruction
		}

		current, ok := r.creating[name]
		if !ok {
			rec = &creation{owner: owner, done: make(chan struct{})}
			r.creating[name] = rec
			break
		}
		if current.owner == owner {
			r.mu.Unlock()
			return nil, ErrCurrentlyInCreation
		}
		if r.waitCycleLocked(owner, current) {
			// Waiting would deadlock two resolutions on each other.
			r.logger.Debug("breaking cross-resolution wait cycle with early reference",
				zap.String("bean", name))
			if obj := r.earlyLocked(name, true); obj != nil {
				return obj, nil
			}
			return nil, ErrCurrentlyInCreation
		}

		r.waiting[owner] = current
		r.mu.Unlock()
		<-current.done
		r.mu.Lock()
		delete(r.waiting, owner)
	}
	r.depth[owner]++
	r.mu.Unlock()

	finished := false
	defer func() {
		r.mu.Lock()
		delete(r.creating, name)
		close(rec.done)

		r.depth[owner]--
		outermost := r.depth[owner] == 0
		var suppressed []error
		if outermost {
			suppressed = r.suppressed[owner]
			delete(r.suppressed, owner)
			delete(r.depth, owner)
		}

		if finished && err == nil {
			r.addLocked(name, obj)
		} else {
			r.removeLocked(name)
		}
		r.mu.Unlock()

		if err != nil && len(suppressed) > 0 {
			if rc, ok := err.(RelatedCauser); ok {
				err = rc.WithRelatedCauses(suppressed)
			} else {
				err = SuppressedError{Err: err, Suppressed: suppressed}
			}
		}
	}()

	obj, err = create()
	finished = true
	return obj, err
}

// waitCycleLocked reports whether owner waiting on rec would close a cycle
// in the wait-for chain.
func (r *Registry) waitCycleLocked(owner Token, rec *creation) bool {
	seen := make(map[Token]bool)
	for next := rec; next != nil; {
		if next.owner == owner {
			return true
		}
		if seen[next.owner] {
			return false
		}
		seen[next.owner] = true
		next = r.waiting[next.owner]
	}
	return false
}

// OnSuppressed records a secondary error for the current creation attempt of
// owner. It is ignored when owner is not creating a singleton.
func (r *Registry) OnSuppressed(owner Token, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.depth[owner] == 0 {
		return
	}
	list := append(r.suppressed[owner], err)
	if len(list) > MaxSuppressed {
		list = list[len(list)-MaxSuppressed:]
	}
	r.suppressed[owner] = list
}

// Contains reports whether a finished singleton exists for name.
func (r *Registry) Contains(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.singletons[name]
	return ok
}

// IsCurrentlyInCreation reports whether any resolution is creating name.
func (r *Registry) IsCurrentlyInCreation(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.creating[name]
	return ok
}

// Names returns the names of registered singletons in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.registered))
	for _, n := range r.registered {
		if _, ok := r.singletons[n]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Remove drops name from all cache tiers.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(name)
}

func (r *Registry) removeLocked(name string) {
	delete(r.singletons, name)
	delete(r.early, name)
	delete(r.thunks, name)
	for i, n := range r.registered {
		if n == name {
			r.registered = append(r.registered[:i], r.registered[i+1:]...)
			break
		}
	}
	if r.onRemove != nil {
		r.onRemove(name)
	}
}

// RegisterDisposable registers the destroy callback for name.
func (r *Registry) RegisterDisposable(name string, d Disposable) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.disposers[name]; !ok {
		r.disposables = append(r.disposables, name)
	}
	r.disposers[name] = d
}

func (r *Registry) takeDisposable(name string) Disposable {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.disposers[name]
	if !ok {
		return nil
	}
	delete(r.disposers, name)
	for i, n := range r.disposables {
		if n == name {
			r.disposables = append(r.disposables[:i], r.disposables[i+1:]...)
			break
		}
	}
	return d
}

// IsDestroying reports whether DestroyAll is running.
func (r *Registry) IsDestroying() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.destroying
}

// DestroyAll destroys every disposable singleton in reverse registration
// order, dependents before their dependencies, then clears all caches.
// Destroy errors are logged and never abort the teardown.
func (r *Registry) DestroyAll() {
	r.mu.Lock()
	r.destroying = true
	names := make([]string, len(r.disposables))
	copy(names, r.disposables)
	r.mu.Unlock()

	for i := len(names) - 1; i >= 0; i-- {
		r.DestroySingleton(names[i])
	}

	r.graph.Clear()

	r.mu.Lock()
	r.singletons = make(map[string]any)
	r.early = make(map[string]any)
	r.thunks = make(map[string]Thunk)
	r.registered = nil
	r.destroying = false
	if r.onRemove != nil {
		r.onRemove("")
	}
	r.mu.Unlock()
}

// DestroySingleton removes name from the caches and destroys it together
// with every bean that depends on it.
func (r *Registry) DestroySingleton(name string) {
	r.Remove(name)
	r.destroyBean(name, r.takeDisposable(name))
}

func (r *Registry) destroyBean(name string, d Disposable) {
	for _, dependent := range r.graph.TakeDependents(name) {
		r.DestroySingleton(dependent)
	}

	if d != nil {
		if err := r.runDestroy(d); err != nil {
			r.logger.Warn("destruction of bean failed",
				zap.String("bean", name), zap.Error(err))
		}
	}

	for _, inner := range r.graph.TakeContained(name) {
		r.DestroySingleton(inner)
	}

	r.graph.Remove(name)
}

func (r *Registry) runDestroy(d Disposable) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &DestroyPanicError{Panic: p}
		}
	}()
	return d.Destroy()
}

// DestroyPanicError reports a destroy callback that panicked.
type DestroyPanicError struct {
	Panic any
}

func (e *DestroyPanicError) Error() string {
	return fmt.Sprintf("destroy callback panicked: %v", e.Panic)
}
