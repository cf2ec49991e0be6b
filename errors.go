package beans

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"go.uber.org/multierr"

	"github.com/bzb8/beans/internal/graph"
)

// ========================================
// Core Error Values (Sentinel Errors)
// ========================================
// These are base errors that are wrapped in typed errors when returned.
// Match them with errors.Is.

var (
	// Lookup errors.
	ErrNoSuchBean   = errors.New("no such bean definition")
	ErrNoUniqueBean = errors.New("no unique bean definition")
	ErrNotAFactory  = errors.New("bean is not a factory")

	// Creation errors.
	ErrCurrentlyInCreation = errors.New("bean is currently in creation")
	ErrBeanIsAbstract      = errors.New("bean definition is abstract")
	ErrFactoryClosed       = errors.New("bean factory has been closed")
	ErrInDestruction       = errors.New("singletons are in destruction")

	// Definition errors.
	ErrInvalidDefinition  = errors.New("invalid bean definition")
	ErrDefinitionOverride = errors.New("bean definition overriding is not allowed")

	// Scope errors.
	ErrNoScope        = errors.New("no scope registered")
	ErrScopeNotActive = errors.New("scope is not active")
)

var (
	_ error = NoSuchBeanDefinitionError{}
	_ error = NoUniqueBeanDefinitionError{}
	_ error = BeanNotOfRequiredTypeError{}
	_ error = CurrentlyInCreationError{}
	_ error = BeanCreationError{}
	_ error = UnsatisfiedDependencyError{}
	_ error = AmbiguousConstructorError{}
	_ error = BeanDefinitionError{}
	_ error = BeanDefinitionOverrideError{}
	_ error = BeanIsAbstractError{}
	_ error = BeanIsNotAFactoryError{}
	_ error = BeanCreationNotAllowedError{}
	_ error = ScopeNotActiveError{}
	_ error = CircularDependencyError{}
	_ error = ModuleError{}
)

// maxRelatedCauses bounds the related causes carried by a creation error.
const maxRelatedCauses = 100

// ========================================
// Typed Errors for Rich Context
// ========================================

// CircularDependencyError reports a circular depends-on relationship.
type CircularDependencyError = graph.CircularDependencyError

// NoSuchBeanDefinitionError indicates a bean could not be found by name or
// by type.
type NoSuchBeanDefinitionError struct {
	Name    string
	Type    reflect.Type
	Message string
}

func (e NoSuchBeanDefinitionError) Error() string {
	var b strings.Builder
	if e.Name != "" {
		b.WriteString(fmt.Sprintf("no bean named '%s' available", e.Name))
	} else {
		b.WriteString(fmt.Sprintf("no qualifying bean of type '%s' available", formatType(e.Type)))
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e NoSuchBeanDefinitionError) Unwrap() error {
	return ErrNoSuchBean
}

// NoUniqueBeanDefinitionError indicates several beans matched where one was
// expected. Names lists every candidate.
type NoUniqueBeanDefinitionError struct {
	Type    reflect.Type
	Names   []string
	Message string
}

func (e NoUniqueBeanDefinitionError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = fmt.Sprintf("expected single matching bean but found %d: %s", len(e.Names), strings.Join(e.Names, ","))
	}
	return fmt.Sprintf("no qualifying bean of type '%s' available: %s", formatType(e.Type), msg)
}

func (e NoUniqueBeanDefinitionError) Unwrap() error {
	return ErrNoUniqueBean
}

// Is also matches ErrNoSuchBean: a non-unique lookup is a failed lookup.
func (e NoUniqueBeanDefinitionError) Is(target error) bool {
	return target == ErrNoSuchBean
}

// BeanNotOfRequiredTypeError indicates a bean exists but its exposed type
// does not match, typically because it was wrapped in a proxy.
type BeanNotOfRequiredTypeError struct {
	Name     string
	Required reflect.Type
	Actual   reflect.Type
}

func (e BeanNotOfRequiredTypeError) Error() string {
	return fmt.Sprintf("bean named '%s' is expected to be of type '%s' but was actually of type '%s'",
		e.Name, formatType(e.Required), formatType(e.Actual))
}

// CurrentlyInCreationError indicates an unresolvable circular reference.
type CurrentlyInCreationError struct {
	Name          string
	Message       string
	RelatedCauses []error
}

func (e CurrentlyInCreationError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "requested bean is currently in creation: is there an unresolvable circular reference?"
	}
	return fmt.Sprintf("error creating bean with name '%s': %s", e.Name, msg) + formatRelated(e.RelatedCauses)
}

// WithRelatedCauses returns a copy of e carrying causes.
func (e CurrentlyInCreationError) WithRelatedCauses(causes []error) error {
	e.RelatedCauses = appendRelated(e.RelatedCauses, causes)
	return e
}

func (e CurrentlyInCreationError) Unwrap() error {
	return ErrCurrentlyInCreation
}

// BeanCreationError wraps any failure while creating a bean. RelatedCauses
// holds secondary errors collected during the same creation attempt.
type BeanCreationError struct {
	Name          string
	Message       string
	Cause         error
	RelatedCauses []error
}

func (e BeanCreationError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("error creating bean with name '%s'", e.Name))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	b.WriteString(formatRelated(e.RelatedCauses))
	return b.String()
}

func (e BeanCreationError) Unwrap() error {
	return e.Cause
}

// Related combines the related causes into one error.
func (e BeanCreationError) Related() error {
	return multierr.Combine(e.RelatedCauses...)
}

// WithRelatedCauses returns a copy of e carrying causes.
func (e BeanCreationError) WithRelatedCauses(causes []error) error {
	e.RelatedCauses = appendRelated(e.RelatedCauses, causes)
	return e
}

func appendRelated(related, causes []error) []error {
	related = append(append([]error(nil), related...), causes...)
	if len(related) > maxRelatedCauses {
		related = related[len(related)-maxRelatedCauses:]
	}
	return related
}

func formatRelated(related []error) string {
	if len(related) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\nRelated causes:")
	for i, err := range related {
		b.WriteString(fmt.Sprintf("\n  %d. %v", i+1, err))
	}
	return b.String()
}

// UnsatisfiedDependencyError indicates a constructor argument, field or
// property could not be resolved.
type UnsatisfiedDependencyError struct {
	Name          string
	Dependency    string
	Cause         error
	RelatedCauses []error
}

func (e UnsatisfiedDependencyError) Error() string {
	return fmt.Sprintf("error creating bean with name '%s': unsatisfied dependency expressed through %s: %v",
		e.Name, e.Dependency, e.Cause) + formatRelated(e.RelatedCauses)
}

// WithRelatedCauses returns a copy of e carrying causes.
func (e UnsatisfiedDependencyError) WithRelatedCauses(causes []error) error {
	e.RelatedCauses = appendRelated(e.RelatedCauses, causes)
	return e
}

func (e UnsatisfiedDependencyError) Unwrap() error {
	return e.Cause
}

// AmbiguousConstructorError lists constructors or factory methods that
// matched with the same weight.
type AmbiguousConstructorError struct {
	Name       string
	Candidates []string
}

func (e AmbiguousConstructorError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("error creating bean with name '%s': ambiguous constructor matches found:\n", e.Name))
	for _, c := range e.Candidates {
		b.WriteString(fmt.Sprintf("  • %s\n", c))
	}
	b.WriteString("\nTo resolve this:\n")
	b.WriteString("  • Specify index or type for the configured arguments\n")
	b.WriteString("  • Switch the definition to lenient constructor resolution\n")
	return b.String()
}

// BeanDefinitionError indicates an invalid or unusable bean definition.
type BeanDefinitionError struct {
	Name    string
	Message string
	Cause   error
}

func (e BeanDefinitionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid bean definition with name '%s': %s: %v", e.Name, e.Message, e.Cause)
	}
	return fmt.Sprintf("invalid bean definition with name '%s': %s", e.Name, e.Message)
}

func (e BeanDefinitionError) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	return ErrInvalidDefinition
}

// BeanDefinitionOverrideError indicates a second definition for a name when
// overriding is disabled.
type BeanDefinitionOverrideError struct {
	Name string
}

func (e BeanDefinitionOverrideError) Error() string {
	return fmt.Sprintf("cannot register bean definition for bean '%s': there is already a definition bound", e.Name)
}

func (e BeanDefinitionOverrideError) Unwrap() error {
	return ErrDefinitionOverride
}

// BeanIsAbstractError indicates a request for an abstract definition.
type BeanIsAbstractError struct {
	Name string
}

func (e BeanIsAbstractError) Error() string {
	return fmt.Sprintf("error creating bean with name '%s': bean definition is abstract", e.Name)
}

func (e BeanIsAbstractError) Unwrap() error {
	return ErrBeanIsAbstract
}

// BeanIsNotAFactoryError indicates a '&' lookup for a bean that is not a
// FactoryBean.
type BeanIsNotAFactoryError struct {
	Name   string
	Actual reflect.Type
}

func (e BeanIsNotAFactoryError) Error() string {
	return fmt.Sprintf("bean named '%s' is expected to be a FactoryBean but was actually of type '%s'",
		e.Name, formatType(e.Actual))
}

func (e BeanIsNotAFactoryError) Unwrap() error {
	return ErrNotAFactory
}

// BeanCreationNotAllowedError indicates creation was attempted while the
// factory was closing or closed.
type BeanCreationNotAllowedError struct {
	Name  string
	Cause error
}

func (e BeanCreationNotAllowedError) Error() string {
	return fmt.Sprintf("error creating bean with name '%s': %v (do not request a bean from a factory in a destroy method)", e.Name, e.Cause)
}

func (e BeanCreationNotAllowedError) Unwrap() error {
	return e.Cause
}

// ScopeNotActiveError indicates a scoped bean was requested outside of an
// active scope.
type ScopeNotActiveError struct {
	Scope string
	Name  string
	Cause error
}

func (e ScopeNotActiveError) Error() string {
	return fmt.Sprintf("error creating bean with name '%s': scope '%s' is not active for the current context: %v",
		e.Name, e.Scope, e.Cause)
}

func (e ScopeNotActiveError) Unwrap() error {
	return e.Cause
}

// formatType formats a reflect.Type for error messages.
func formatType(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}

	switch t.Kind() {
	case reflect.Pointer:
		elem := t.Elem()
		if elem.PkgPath() != "" && elem.Name() != "" {
			return "*" + elem.Name()
		}
		return t.String()
	case reflect.Slice:
		elem := t.Elem()
		if elem.PkgPath() != "" && elem.Name() != "" {
			return "[]" + elem.Name()
		}
		return t.String()
	case reflect.Interface, reflect.Struct:
		if t.Name() != "" {
			return t.Name()
		}
		return t.String()
	default:
		if t.Name() != "" {
			return t.Name()
		}
		return t.String()
	}
}

// ModuleError wraps a failure while installing a module.
type ModuleError struct {
	Module string
	Cause  error
}

func (e ModuleError) Error() string {
	return fmt.Sprintf("module %q: %v", e.Module, e.Cause)
}

func (e ModuleError) Unwrap() error {
	return e.Cause
}
