package aop

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/bzb8/beans/internal/reflection"
)

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// Method describes a method a proxy exposes.
type Method struct {
	// Name is the exported method name.
	Name string

	// Declaring is the interface or concrete type the method was taken from.
	Declaring reflect.Type

	// Params are the parameter types, without receiver.
	Params []reflect.Type

	// Results are the result types, without a trailing error.
	Results []reflect.Type

	// ReturnsError reports whether the last result is an error.
	ReturnsError bool

	Variadic bool

	sealed bool
}

// newMethod describes m. Methods taken from a concrete type carry their
// receiver as first input, interface methods do not.
func newMethod(declaring reflect.Type, m reflect.Method) *Method {
	ft := m.Type
	first := 0
	if declaring.Kind() != reflect.Interface {
		first = 1
	}

	out := &Method{
		Name:      m.Name,
		Declaring: declaring,
		Variadic:  ft.IsVariadic(),
	}
	for i := first; i < ft.NumIn(); i++ {
		out.Params = append(out.Params, ft.In(i))
	}
	n := ft.NumOut()
	if n > 0 && ft.Out(n-1) == errorType {
		out.ReturnsError = true
		n--
	}
	for i := 0; i < n; i++ {
		out.Results = append(out.Results, ft.Out(i))
	}
	return out
}

// methodsOf returns the exported methods of t keyed by name.
func methodsOf(t reflect.Type) map[string]*Method {
	methods := make(map[string]*Method, t.NumMethod())
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		if !m.IsExported() {
			continue
		}
		methods[m.Name] = newMethod(t, m)
	}
	return methods
}

// TakesContext reports whether the first parameter is a context.Context.
func (m *Method) TakesContext() bool {
	return len(m.Params) > 0 && m.Params[0] == contextType
}

// IsEqualsMethod reports whether m is an Equals(any) bool method.
func (m *Method) IsEqualsMethod() bool {
	return m.Name == "Equals" && len(m.Params) == 1 && len(m.Results) == 1 && m.Results[0].Kind() == reflect.Bool
}

// IsHashCodeMethod reports whether m is a HashCode() method.
func (m *Method) IsHashCodeMethod() bool {
	return m.Name == "HashCode" && len(m.Params) == 0 && len(m.Results) == 1
}

// directDispatch reports whether an unadvised call may skip the invocation
// machinery.
func (m *Method) directDispatch() bool {
	return !m.IsEqualsMethod() && !m.IsHashCodeMethod() && m.Name != "String"
}

func (m *Method) String() string {
	var b strings.Builder
	if m.Declaring != nil {
		b.WriteString(m.Declaring.String())
		b.WriteByte('.')
	}
	b.WriteString(m.Name)
	b.WriteByte('(')
	for i, p := range m.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		if m.Variadic && i == len(m.Params)-1 {
			b.WriteString("..." + p.Elem().String())
			continue
		}
		b.WriteString(p.String())
	}
	b.WriteByte(')')
	return b.String()
}

// checkResults validates advice results against the declared result types.
func (m *Method) checkResults(results []any) error {
	if len(results) != len(m.Results) {
		return AopInvocationError{
			Method:  m,
			Message: fmt.Sprintf("advice returned %d values, method declares %d", len(results), len(m.Results)),
		}
	}
	for i, r := range results {
		t := m.Results[i]
		if r == nil {
			if !reflection.IsNillable(t) {
				return AopInvocationError{
					Method:  m,
					Message: fmt.Sprintf("nil return value from advice does not match non-nillable return type %s", t),
				}
			}
			continue
		}
		if !reflect.TypeOf(r).AssignableTo(t) {
			return AopInvocationError{
				Method:  m,
				Message: fmt.Sprintf("return value of type %T does not match return type %s", r, t),
			}
		}
	}
	return nil
}

type methodKey struct {
	typ  reflect.Type
	name string
}

// methodIndexes caches method indexes per receiver type so repeated calls
// avoid the name lookup.
var methodIndexes sync.Map

func methodValue(v reflect.Value, name string) reflect.Value {
	key := methodKey{typ: v.Type(), name: name}
	if idx, ok := methodIndexes.Load(key); ok {
		if mv := v.Method(idx.(int)); mv.IsValid() {
			return mv
		}
	}
	if m, ok := v.Type().MethodByName(name); ok {
		methodIndexes.Store(key, m.Index)
		return v.Method(m.Index)
	}
	return v.MethodByName(name)
}

// InvokeMethod calls the method m on target with args, using reflection.
// The trailing error result, if any, is split off.
func InvokeMethod(target any, m *Method, args []any) ([]any, error) {
	if target == nil {
		return nil, AopInvocationError{Method: m, Message: "no target available"}
	}
	fn := methodValue(reflect.ValueOf(target), m.Name)
	if !fn.IsValid() {
		return nil, AopInvocationError{
			Method:  m,
			Message: fmt.Sprintf("target of type %T does not implement the method", target),
		}
	}

	ft := fn.Type()
	in, err := callArgs(m, ft, args)
	if err != nil {
		return nil, err
	}
	out := fn.Call(in)

	var callErr error
	if n := len(out); n > 0 && ft.Out(n-1) == errorType {
		if e := out[n-1]; !e.IsNil() {
			callErr = e.Interface().(error)
		}
		out = out[:n-1]
	}
	results := make([]any, len(out))
	for i, v := range out {
		results[i] = v.Interface()
	}
	return results, callErr
}

func callArgs(m *Method, ft reflect.Type, args []any) ([]reflect.Value, error) {
	numIn := ft.NumIn()
	if ft.IsVariadic() {
		if len(args) < numIn-1 {
			return nil, AopInvocationError{
				Method:  m,
				Message: fmt.Sprintf("got %d arguments, want at least %d", len(args), numIn-1),
			}
		}
	} else if len(args) != numIn {
		return nil, AopInvocationError{
			Method:  m,
			Message: fmt.Sprintf("got %d arguments, want %d", len(args), numIn),
		}
	}

	in := make([]reflect.Value, len(args))
	for i, a := range args {
		pt := paramType(ft, i)
		if !reflection.IsAssignableValue(pt, a) {
			return nil, AopInvocationError{
				Method:  m,
				Message: fmt.Sprintf("argument %d of type %T is not assignable to %s", i, a, pt),
			}
		}
		in[i] = reflection.ValueFor(pt, a)
	}
	return in, nil
}

func paramType(ft reflect.Type, i int) reflect.Type {
	if ft.IsVariadic() && i >= ft.NumIn()-1 {
		return ft.In(ft.NumIn() - 1).Elem()
	}
	return ft.In(i)
}
