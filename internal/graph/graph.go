package graph

import (
	"sync"
)

// DependencyGraph keeps the dependency relationships between named beans.
// Both directions are maintained symmetrically: "X depends on {Y, Z}" and
// "Y is depended on by {X}". Containment (inner beans owned by an outer
// bean) is tracked separately and also registers the container as a
// dependent of the contained bean.
type DependencyGraph struct {
	mu sync.RWMutex

	dependents   map[string]*nameSet // bean -> beans that depend on it
	dependencies map[string]*nameSet // bean -> beans it depends on
	contained    map[string]*nameSet // containing bean -> inner beans
}

// nameSet is an insertion-ordered set of bean names.
type nameSet struct {
	order []string
	index map[string]struct{}
}

func newNameSet() *nameSet {
	return &nameSet{index: make(map[string]struct{})}
}

func (s *nameSet) add(name string) bool {
	if _, ok := s.index[name]; ok {
		return false
	}
	s.index[name] = struct{}{}
	s.order = append(s.order, name)
	return true
}

func (s *nameSet) remove(name string) {
	if _, ok := s.index[name]; !ok {
		return
	}
	delete(s.index, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *nameSet) has(name string) bool {
	_, ok := s.index[name]
	return ok
}

func (s *nameSet) list() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// NewDependencyGraph creates a new dependency graph
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		dependents:   make(map[string]*nameSet),
		dependencies: make(map[string]*nameSet),
		contained:    make(map[string]*nameSet),
	}
}

// RegisterDependent records that dependent needs bean, so dependent must be
// destroyed before bean.
func (g *DependencyGraph) RegisterDependent(bean, dependent string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.registerDependentLocked(bean, dependent)
}

func (g *DependencyGraph) registerDependentLocked(bean, dependent string) {
	set, ok := g.dependents[bean]
	if !ok {
		set = newNameSet()
		g.dependents[bean] = set
	}
	if !set.add(dependent) {
		return
	}

	deps, ok := g.dependencies[dependent]
	if !ok {
		deps = newNameSet()
		g.dependencies[dependent] = deps
	}
	deps.add(bean)
}

// RegisterContained records that containing owns the inner bean contained.
func (g *DependencyGraph) RegisterContained(contained, containing string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	set, ok := g.contained[containing]
	if !ok {
		set = newNameSet()
		g.contained[containing] = set
	}
	if !set.add(contained) {
		return
	}
	g.registerDependentLocked(contained, containing)
}

// IsDependent reports whether dependent depends on bean, directly or
// transitively.
func (g *DependencyGraph) IsDependent(bean, dependent string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.isDependentLocked(bean, dependent, nil)
}

func (g *DependencyGraph) isDependentLocked(bean, dependent string, visited map[string]bool) bool {
	if visited[bean] {
		return false
	}
	set, ok := g.dependents[bean]
	if !ok {
		return false
	}
	if set.has(dependent) {
		return true
	}
	if visited == nil {
		visited = make(map[string]bool)
	}
	visited[bean] = true
	for _, transitive := range set.order {
		if g.isDependentLocked(transitive, dependent, visited) {
			return true
		}
	}
	return false
}

// CheckDependsOn fails with a CircularDependencyError when making bean
// depend on dependency would close a cycle.
func (g *DependencyGraph) CheckDependsOn(bean, dependency string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if bean == dependency {
		return &CircularDependencyError{Node: bean, Path: []string{bean}}
	}
	if !g.isDependentLocked(bean, dependency, nil) {
		return nil
	}
	return &CircularDependencyError{
		Node: bean,
		Path: g.findPathLocked(bean, dependency),
	}
}

// findPathLocked walks dependent edges from bean to target and returns the
// names along the way, bean first.
func (g *DependencyGraph) findPathLocked(bean, target string) []string {
	visited := make(map[string]bool)
	var path []string

	var walk func(current string) bool
	walk = func(current string) bool {
		if visited[current] {
			return false
		}
		visited[current] = true
		path = append(path, current)
		if current == target {
			return true
		}
		if set, ok := g.dependents[current]; ok {
			for _, next := range set.order {
				if walk(next) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		return false
	}

	if walk(bean) {
		return path
	}
	return []string{bean, target}
}

// HasDependents reports whether any bean depends on bean.
func (g *DependencyGraph) HasDependents(bean string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	set, ok := g.dependents[bean]
	return ok && len(set.order) > 0
}

// Dependents returns the beans that depend on bean, in registration order.
func (g *DependencyGraph) Dependents(bean string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if set, ok := g.dependents[bean]; ok {
		return set.list()
	}
	return nil
}

// Dependencies returns the beans that bean depends on, in registration order.
func (g *DependencyGraph) Dependencies(bean string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if set, ok := g.dependencies[bean]; ok {
		return set.list()
	}
	return nil
}

// TakeDependents removes and returns the dependents of bean.
func (g *DependencyGraph) TakeDependents(bean string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	set, ok := g.dependents[bean]
	if !ok {
		return nil
	}
	delete(g.dependents, bean)
	return set.list()
}

// TakeContained removes and returns the inner beans owned by bean.
func (g *DependencyGraph) TakeContained(bean string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	set, ok := g.contained[bean]
	if !ok {
		return nil
	}
	delete(g.contained, bean)
	return set.list()
}

// Remove purges bean from every dependency map.
func (g *DependencyGraph) Remove(bean string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for name, set := range g.dependents {
		set.remove(bean)
		if len(set.order) == 0 {
			delete(g.dependents, name)
		}
	}
	delete(g.dependencies, bean)
}

// Clear removes all edges from the graph
func (g *DependencyGraph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.dependents = make(map[string]*nameSet)
	g.dependencies = make(map[string]*nameSet)
	g.contained = make(map[string]*nameSet)
}

// Size returns the number of beans that take part in at least one edge
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[string]struct{})
	for name, set := range g.dependents {
		seen[name] = struct{}{}
		for _, d := range set.order {
			seen[d] = struct{}{}
		}
	}
	return len(seen)
}
