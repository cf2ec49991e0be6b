package beans

import (
	"context"
	"reflect"

	"github.com/bzb8/beans/internal/reflection"
)

// Standard scope names.
const (
	ScopeSingleton = "singleton"
	ScopePrototype = "prototype"
)

// FactoryBeanPrefix dereferences a FactoryBean: "&name" returns the factory
// itself rather than its product.
const FactoryBeanPrefix = "&"

// AutowireMode controls how dependencies not covered by configured values
// are resolved.
type AutowireMode int

const (
	// AutowireDefault autowires constructor and factory method parameters
	// and leaves untagged fields alone.
	AutowireDefault AutowireMode = iota

	// AutowireNo disables autowiring. Every parameter needs a configured
	// value.
	AutowireNo

	// AutowireByName sets nil exported fields from beans named after them.
	AutowireByName

	// AutowireByType sets nil exported fields from beans of their type.
	AutowireByType

	// AutowireConstructor forces constructor resolution even when no
	// constructor arguments are configured.
	AutowireConstructor
)

func (m AutowireMode) String() string {
	switch m {
	case AutowireNo:
		return "no"
	case AutowireByName:
		return "byName"
	case AutowireByType:
		return "byType"
	case AutowireConstructor:
		return "constructor"
	default:
		return "default"
	}
}

// BeanDefinition is the configuration recipe for a bean. A definition with
// a ParentName inherits every field it leaves unset from its parent.
type BeanDefinition struct {
	// ParentName names the definition this one inherits from.
	ParentName string

	// Type is the bean type. It may be nil when a constructor, supplier or
	// factory method determines it.
	Type reflect.Type

	// Constructors lists candidate constructor functions. Elements are
	// functions or values returned by Constructor.
	Constructors []any

	// Supplier creates the bean directly, bypassing constructor resolution.
	Supplier func(ctx context.Context) (any, error)

	// FactoryBeanName and FactoryMethodName select an instance factory
	// method. Without FactoryBeanName, FactoryMethodName selects a factory
	// function registered for Type with RegisterFactoryFunctions.
	FactoryBeanName   string
	FactoryMethodName string

	// Scope is ScopeSingleton, ScopePrototype or a registered custom scope.
	// Empty means singleton.
	Scope string

	ConstructorArgs ConstructorArgumentValues
	Properties      []PropertyValue

	InitMethodName    string
	DestroyMethodName string

	Lazy              *bool
	Primary           bool
	Abstract          bool
	AutowireCandidate *bool
	DependsOn         []string
	Priority          *int
	Order             *int
	Autowire          AutowireMode

	// LenientConstructorResolution defaults to true. Strict mode fails on
	// ambiguous constructor matches instead of taking the first.
	LenientConstructorResolution *bool

	// FactoryBeanObjectType declares the product type of a FactoryBean
	// so that type lookups need not instantiate it.
	FactoryBeanObjectType reflect.Type

	// Qualifier is matched against `inject:"bean=..."` tags.
	Qualifier   string
	Description string
}

// IsSingleton reports whether the definition has singleton scope.
func (d *BeanDefinition) IsSingleton() bool {
	return d.Scope == "" || d.Scope == ScopeSingleton
}

// IsPrototype reports whether the definition has prototype scope.
func (d *BeanDefinition) IsPrototype() bool {
	return d.Scope == ScopePrototype
}

// IsLazy reports whether the definition is excluded from eager
// instantiation.
func (d *BeanDefinition) IsLazy() bool {
	return d.Lazy != nil && *d.Lazy
}

// IsAutowireCandidate reports whether the bean may be injected by type.
func (d *BeanDefinition) IsAutowireCandidate() bool {
	return d.AutowireCandidate == nil || *d.AutowireCandidate
}

// IsLenient reports whether lenient constructor resolution is enabled.
func (d *BeanDefinition) IsLenient() bool {
	return d.LenientConstructorResolution == nil || *d.LenientConstructorResolution
}

// Clone returns a deep copy of d.
func (d *BeanDefinition) Clone() *BeanDefinition {
	out := *d
	out.Constructors = append([]any(nil), d.Constructors...)
	out.Properties = append([]PropertyValue(nil), d.Properties...)
	out.DependsOn = append([]string(nil), d.DependsOn...)
	out.ConstructorArgs = d.ConstructorArgs.Clone()
	return &out
}

// overrideFrom overlays the explicitly set fields of child onto d.
func (d *BeanDefinition) overrideFrom(child *BeanDefinition) {
	if child.Type != nil {
		d.Type = child.Type
	}
	if len(child.Constructors) > 0 {
		d.Constructors = append([]any(nil), child.Constructors...)
	}
	if child.Supplier != nil {
		d.Supplier = child.Supplier
	}
	if child.Scope != "" {
		d.Scope = child.Scope
	}
	// abstract is never inherited
	d.Abstract = child.Abstract
	if child.FactoryBeanName != "" {
		d.FactoryBeanName = child.FactoryBeanName
	}
	if child.FactoryMethodName != "" {
		d.FactoryMethodName = child.FactoryMethodName
	}
	if child.Lazy != nil {
		d.Lazy = child.Lazy
	}
	if child.Autowire != AutowireDefault {
		d.Autowire = child.Autowire
	}
	if len(child.DependsOn) > 0 {
		d.DependsOn = append([]string(nil), child.DependsOn...)
	}
	if child.AutowireCandidate != nil {
		d.AutowireCandidate = child.AutowireCandidate
	}
	if child.Primary {
		d.Primary = true
	}
	if child.Priority != nil {
		d.Priority = child.Priority
	}
	if child.Order != nil {
		d.Order = child.Order
	}
	if child.LenientConstructorResolution != nil {
		d.LenientConstructorResolution = child.LenientConstructorResolution
	}
	if child.FactoryBeanObjectType != nil {
		d.FactoryBeanObjectType = child.FactoryBeanObjectType
	}
	if child.Qualifier != "" {
		d.Qualifier = child.Qualifier
	}
	if child.Description != "" {
		d.Description = child.Description
	}
	d.ConstructorArgs.merge(&child.ConstructorArgs)
	d.Properties = mergeProperties(d.Properties, child.Properties)
	if child.InitMethodName != "" {
		d.InitMethodName = child.InitMethodName
	}
	if child.DestroyMethodName != "" {
		d.DestroyMethodName = child.DestroyMethodName
	}
}

// PropertyValue is a named value applied to a bean after instantiation,
// through a SetName method or an exported Name field.
type PropertyValue struct {
	Name  string
	Value any
}

func mergeProperties(base, overrides []PropertyValue) []PropertyValue {
	out := append([]PropertyValue(nil), base...)
	for _, pv := range overrides {
		replaced := false
		for i := range out {
			if out[i].Name == pv.Name {
				out[i] = pv
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, pv)
		}
	}
	return out
}

// ValueHolder is one configured constructor argument. Type and Name narrow
// the parameters it may bind to.
type ValueHolder struct {
	Value any
	Type  reflect.Type
	Name  string

	source *ValueHolder
}

// ConstructorArgumentValues holds configured constructor arguments, either
// by index or generic (matched by type and name).
type ConstructorArgumentValues struct {
	Indexed map[int]*ValueHolder
	Generic []*ValueHolder
}

// AddIndexed sets the argument at index.
func (c *ConstructorArgumentValues) AddIndexed(index int, value any) {
	c.AddIndexedHolder(index, &ValueHolder{Value: value})
}

// AddIndexedHolder sets the argument at index.
func (c *ConstructorArgumentValues) AddIndexedHolder(index int, h *ValueHolder) {
	if c.Indexed == nil {
		c.Indexed = make(map[int]*ValueHolder)
	}
	c.Indexed[index] = h
}

// AddGeneric adds an argument matched by type.
func (c *ConstructorArgumentValues) AddGeneric(value any) {
	c.AddGenericHolder(&ValueHolder{Value: value})
}

// AddGenericHolder adds an argument matched by type and name.
func (c *ConstructorArgumentValues) AddGenericHolder(h *ValueHolder) {
	for _, existing := range c.Generic {
		if existing == h {
			return
		}
	}
	c.Generic = append(c.Generic, h)
}

// Len returns the number of configured arguments.
func (c *ConstructorArgumentValues) Len() int {
	return len(c.Indexed) + len(c.Generic)
}

// IsEmpty reports whether no argument is configured.
func (c *ConstructorArgumentValues) IsEmpty() bool {
	return c.Len() == 0
}

// Clone returns a copy sharing the holders.
func (c ConstructorArgumentValues) Clone() ConstructorArgumentValues {
	var out ConstructorArgumentValues
	for i, h := range c.Indexed {
		out.AddIndexedHolder(i, h)
	}
	out.Generic = append([]*ValueHolder(nil), c.Generic...)
	return out
}

func (c *ConstructorArgumentValues) merge(other *ConstructorArgumentValues) {
	for i, h := range other.Indexed {
		c.AddIndexedHolder(i, h)
	}
	for _, h := range other.Generic {
		c.AddGenericHolder(h)
	}
}

// indexed returns the argument at index if it fits the parameter.
func (c *ConstructorArgumentValues) indexed(index int, t reflect.Type, name string) *ValueHolder {
	h, ok := c.Indexed[index]
	if !ok {
		return nil
	}
	if h.Type != nil && (t == nil || h.Type != t) {
		return nil
	}
	if h.Name != "" && name != "" && h.Name != name {
		return nil
	}
	return h
}

// generic returns the first unused generic argument fitting the parameter.
// An empty name matches holders of any name; a nil t matches only untyped
// holders.
func (c *ConstructorArgumentValues) generic(t reflect.Type, name string, used map[*ValueHolder]bool) *ValueHolder {
	for _, h := range c.Generic {
		if used[h] {
			continue
		}
		if h.Name != "" && name != "" && h.Name != name {
			continue
		}
		if h.Type != nil && (t == nil || h.Type != t) {
			continue
		}
		if t != nil && h.Type == nil && h.Name == "" && !reflection.IsAssignableValue(t, h.Value) {
			continue
		}
		return h
	}
	return nil
}

func (c *ConstructorArgumentValues) argument(index int, t reflect.Type, name string, used map[*ValueHolder]bool) *ValueHolder {
	if h := c.indexed(index, t, name); h != nil {
		return h
	}
	return c.generic(t, name, used)
}

// BeanRef is a configured value referring to another bean by name.
type BeanRef struct {
	Name     string
	ToParent bool
}

// Ref returns a reference to the named bean.
func Ref(name string) BeanRef {
	return BeanRef{Name: name}
}

// ParentRef returns a reference resolved in the parent factory.
func ParentRef(name string) BeanRef {
	return BeanRef{Name: name, ToParent: true}
}

// InnerBean is a configured value defining an anonymous bean. It is created
// for its containing bean and destroyed with it.
type InnerBean struct {
	Name       string
	Definition *BeanDefinition
}

// List is a configured list whose elements are resolved individually.
type List []any

// Map is a configured map whose values are resolved individually.
type Map map[string]any

// ConstructorFunc is a constructor with parameter names, used to match
// named argument values.
type ConstructorFunc struct {
	Fn    any
	Names []string
}

// Constructor returns fn with named parameters for Constructors.
func Constructor(fn any, paramNames ...string) ConstructorFunc {
	return ConstructorFunc{Fn: fn, Names: paramNames}
}

func isConfiguredReference(v any) bool {
	switch v.(type) {
	case BeanRef, *BeanRef, InnerBean, *InnerBean, *BeanDefinition, List, Map:
		return true
	}
	return false
}
