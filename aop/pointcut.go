package aop

import (
	"reflect"
	"strings"
)

// ClassFilter restricts a pointcut to a set of target types.
type ClassFilter interface {
	Matches(t reflect.Type) bool
}

// ClassFilterFunc adapts a function to a ClassFilter.
type ClassFilterFunc func(t reflect.Type) bool

func (fn ClassFilterFunc) Matches(t reflect.Type) bool { return fn(t) }

// MethodMatcher decides whether a method is advised.
//
// Matches is evaluated once per method and target type and cached. A
// matcher whose IsRuntime returns true is additionally asked MatchesArgs on
// every call.
type MethodMatcher interface {
	Matches(m *Method, targetType reflect.Type) bool
	IsRuntime() bool
	MatchesArgs(m *Method, targetType reflect.Type, args []any) bool
}

// Pointcut selects join points by target type and method.
type Pointcut interface {
	ClassFilter() ClassFilter
	MethodMatcher() MethodMatcher
}

type trueFilter struct{}

func (trueFilter) Matches(reflect.Type) bool { return true }

type trueMatcher struct{}

func (trueMatcher) Matches(*Method, reflect.Type) bool            { return true }
func (trueMatcher) IsRuntime() bool                               { return false }
func (trueMatcher) MatchesArgs(*Method, reflect.Type, []any) bool { return true }

type truePointcut struct{}

func (truePointcut) ClassFilter() ClassFilter     { return trueFilter{} }
func (truePointcut) MethodMatcher() MethodMatcher { return trueMatcher{} }

var (
	// TrueClassFilter matches every type.
	TrueClassFilter ClassFilter = trueFilter{}

	// TrueMethodMatcher matches every method.
	TrueMethodMatcher MethodMatcher = trueMatcher{}

	// TruePointcut matches every method of every type.
	TruePointcut Pointcut = truePointcut{}
)

// NameMatchPointcut matches methods by name. Names may use '*' as a
// wildcard, as in "Get*", "*Handler" or "*Cache*".
type NameMatchPointcut struct {
	Names []string
}

// NewNameMatchPointcut returns a pointcut matching any of names.
func NewNameMatchPointcut(names ...string) *NameMatchPointcut {
	return &NameMatchPointcut{Names: names}
}

func (p *NameMatchPointcut) ClassFilter() ClassFilter     { return TrueClassFilter }
func (p *NameMatchPointcut) MethodMatcher() MethodMatcher { return p }
func (p *NameMatchPointcut) IsRuntime() bool              { return false }

func (p *NameMatchPointcut) Matches(m *Method, _ reflect.Type) bool {
	for _, name := range p.Names {
		if name == m.Name || SimpleMatch(name, m.Name) {
			return true
		}
	}
	return false
}

func (p *NameMatchPointcut) MatchesArgs(m *Method, t reflect.Type, _ []any) bool {
	return p.Matches(m, t)
}

// Equal reports whether other matches the same names.
func (p *NameMatchPointcut) Equal(other any) bool {
	o, ok := other.(*NameMatchPointcut)
	if !ok || len(o.Names) != len(p.Names) {
		return false
	}
	for i := range p.Names {
		if p.Names[i] != o.Names[i] {
			return false
		}
	}
	return true
}

// TypePointcut matches every method of targets assignable to Type.
type TypePointcut struct {
	Type reflect.Type
}

// NewTypePointcut returns a pointcut for targets of type T.
func NewTypePointcut[T any]() *TypePointcut {
	return &TypePointcut{Type: reflect.TypeOf((*T)(nil)).Elem()}
}

func (p *TypePointcut) ClassFilter() ClassFilter     { return p }
func (p *TypePointcut) MethodMatcher() MethodMatcher { return TrueMethodMatcher }

func (p *TypePointcut) Matches(t reflect.Type) bool {
	return t != nil && p.Type != nil && t.AssignableTo(p.Type)
}

// Equal reports whether other matches the same type.
func (p *TypePointcut) Equal(other any) bool {
	o, ok := other.(*TypePointcut)
	return ok && o.Type == p.Type
}

// DynamicPointcut matches methods whose arguments satisfy a predicate. It
// is checked on every call.
type DynamicPointcut struct {
	Filter    ClassFilter
	Predicate func(m *Method, args []any) bool
}

func (p *DynamicPointcut) ClassFilter() ClassFilter {
	if p.Filter == nil {
		return TrueClassFilter
	}
	return p.Filter
}

func (p *DynamicPointcut) MethodMatcher() MethodMatcher       { return p }
func (p *DynamicPointcut) Matches(*Method, reflect.Type) bool { return true }
func (p *DynamicPointcut) IsRuntime() bool                    { return true }

func (p *DynamicPointcut) MatchesArgs(m *Method, _ reflect.Type, args []any) bool {
	return p.Predicate == nil || p.Predicate(m, args)
}

// SimpleMatch matches str against pattern, where '*' matches any run of
// characters.
func SimpleMatch(pattern, str string) bool {
	if pattern == "" {
		return str == ""
	}
	first := strings.IndexByte(pattern, '*')
	if first == -1 {
		return pattern == str
	}
	if first == 0 {
		if len(pattern) == 1 {
			return true
		}
		next := strings.IndexByte(pattern[1:], '*')
		if next == -1 {
			return strings.HasSuffix(str, pattern[1:])
		}
		next++
		part := pattern[1:next]
		if part == "" {
			return SimpleMatch(pattern[next:], str)
		}
		for i := strings.Index(str, part); i != -1; {
			if SimpleMatch(pattern[next:], str[i+len(part):]) {
				return true
			}
			j := strings.Index(str[i+1:], part)
			if j == -1 {
				break
			}
			i += j + 1
		}
		return false
	}
	return len(str) >= first && pattern[:first] == str[:first] &&
		SimpleMatch(pattern[first:], str[first:])
}

// CanApply reports whether the advisor could advise any method of t.
func CanApply(advisor Advisor, t reflect.Type) bool {
	switch a := advisor.(type) {
	case IntroductionAdvisor:
		return a.ClassFilter().Matches(t)
	case PointcutAdvisor:
		return canApplyPointcut(a.Pointcut(), t)
	}
	return true
}

func canApplyPointcut(pc Pointcut, t reflect.Type) bool {
	if t == nil || !pc.ClassFilter().Matches(t) {
		return false
	}
	mm := pc.MethodMatcher()
	if mm == TrueMethodMatcher {
		return true
	}
	for _, m := range methodsOf(t) {
		if mm.Matches(m, t) {
			return true
		}
	}
	return false
}

// AdvisorsThatCanApply filters advisors down to those applying to t.
func AdvisorsThatCanApply(advisors []Advisor, t reflect.Type) []Advisor {
	var out []Advisor
	for _, a := range advisors {
		if CanApply(a, t) {
			out = append(out, a)
		}
	}
	return out
}
