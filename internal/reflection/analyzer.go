package reflection

import (
	"fmt"
	"reflect"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"unicode"
)

var errType = reflect.TypeOf((*error)(nil)).Elem()

// Analyzer performs reflection-based analysis of constructors, factory
// functions and injectable struct fields. It caches analysis results.
type Analyzer struct {
	mu     sync.RWMutex
	cache  map[uintptr]*Executable
	fields map[reflect.Type][]InjectField
}

// Executable is a constructor function, a factory function or a bound
// factory method.
type Executable struct {
	Name         string
	Fn           reflect.Value
	Type         reflect.Type
	Params       []Parameter
	Result       reflect.Type // nil when the function produces no value
	ReturnsError bool
	Exported     bool
	Method       bool
	MethodName   string // set for bound methods
}

// Parameter describes one parameter of an Executable.
type Parameter struct {
	Index int
	Type  reflect.Type
	Name  string // empty unless supplied at registration
}

// New creates a new Analyzer.
func New() *Analyzer {
	return &Analyzer{
		cache:  make(map[uintptr]*Executable),
		fields: make(map[reflect.Type][]InjectField),
	}
}

// Analyze analyzes a function. Parameter names are optional and are matched
// to parameters by position.
func (a *Analyzer) Analyze(fn any, names ...string) (*Executable, error) {
	if fn == nil {
		return nil, fmt.Errorf("constructor cannot be nil")
	}

	val := reflect.ValueOf(fn)
	if val.Kind() != reflect.Func {
		return nil, fmt.Errorf("constructor must be a function, got %T", fn)
	}
	if val.IsNil() {
		return nil, fmt.Errorf("constructor cannot be nil")
	}

	// Named executables are not cached since names are per registration.
	cacheKey := val.Pointer()
	if len(names) == 0 {
		a.mu.RLock()
		if cached, ok := a.cache[cacheKey]; ok && cached.Type == val.Type() {
			a.mu.RUnlock()
			// closures share code pointers, so only the shape is reused
			exec := *cached
			exec.Fn = val
			return &exec, nil
		}
		a.mu.RUnlock()
	}

	name := funcName(val)
	exec, err := newExecutable(name, val, names, isExportedName(name))
	if err != nil {
		return nil, err
	}

	if len(names) == 0 {
		a.mu.Lock()
		a.cache[cacheKey] = exec
		a.mu.Unlock()
	}
	return exec, nil
}

// Method returns the exported method name bound to recv.
func (a *Analyzer) Method(recv reflect.Value, name string) (*Executable, error) {
	m := recv.MethodByName(name)
	if !m.IsValid() {
		return nil, fmt.Errorf("no exported method %s on %s", name, recv.Type())
	}
	exec, err := newExecutable(fmt.Sprintf("(%s).%s", recv.Type(), name), m, nil, true)
	if err != nil {
		return nil, err
	}
	exec.Method = true
	exec.MethodName = name
	return exec, nil
}

func newExecutable(name string, fn reflect.Value, names []string, exported bool) (*Executable, error) {
	typ := fn.Type()
	exec := &Executable{
		Name:     name,
		Fn:       fn,
		Type:     typ,
		Exported: exported,
		Params:   make([]Parameter, typ.NumIn()),
	}

	for i := 0; i < typ.NumIn(); i++ {
		p := Parameter{Index: i, Type: typ.In(i)}
		if i < len(names) {
			p.Name = names[i]
		}
		exec.Params[i] = p
	}

	switch typ.NumOut() {
	case 0:
	case 1:
		if typ.Out(0) == errType {
			exec.ReturnsError = true
		} else {
			exec.Result = typ.Out(0)
		}
	case 2:
		if typ.Out(1) != errType {
			return nil, fmt.Errorf("%s: second result must be error, got %s", name, typ.Out(1))
		}
		exec.Result = typ.Out(0)
		exec.ReturnsError = true
	default:
		return nil, fmt.Errorf("%s: constructors return (T) or (T, error), got %d results", name, typ.NumOut())
	}

	return exec, nil
}

// NumParams returns the number of parameters.
func (e *Executable) NumParams() int {
	return len(e.Params)
}

// ParamTypes returns the parameter types in order.
func (e *Executable) ParamTypes() []reflect.Type {
	out := make([]reflect.Type, len(e.Params))
	for i, p := range e.Params {
		out[i] = p.Type
	}
	return out
}

// Void reports whether the executable produces no value.
func (e *Executable) Void() bool {
	return e.Result == nil
}

// Signature returns a readable form of the parameter list.
func (e *Executable) Signature() string {
	parts := make([]string, len(e.Params))
	for i, p := range e.Params {
		parts[i] = p.Type.String()
	}
	return e.Name + "(" + strings.Join(parts, ", ") + ")"
}

// Call invokes the executable with args. A panic is recovered and returned
// as a PanicError.
func (e *Executable) Call(args []reflect.Value) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Name: e.Name, Panic: p, Stack: debug.Stack()}
		}
	}()

	var out []reflect.Value
	if e.Type.IsVariadic() {
		out = e.Fn.CallSlice(args)
	} else {
		out = e.Fn.Call(args)
	}

	if e.ReturnsError {
		if last := out[len(out)-1]; !last.IsNil() {
			return nil, last.Interface().(error)
		}
	}
	if e.Result == nil {
		return nil, nil
	}

	v := out[0]
	if IsNillable(v.Type()) && v.IsNil() {
		return nil, nil
	}
	return v.Interface(), nil
}

// PanicError is returned by Call when the executable panicked.
type PanicError struct {
	Name  string
	Panic any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s panicked: %v", e.Name, e.Panic)
}

// Clear clears the analysis caches.
func (a *Analyzer) Clear() {
	a.mu.Lock()
	a.cache = make(map[uintptr]*Executable)
	a.fields = make(map[reflect.Type][]InjectField)
	a.mu.Unlock()
}

// CacheSize returns the number of cached analyses.
func (a *Analyzer) CacheSize() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.cache) + len(a.fields)
}

func funcName(fn reflect.Value) string {
	if f := runtime.FuncForPC(fn.Pointer()); f != nil {
		return f.Name()
	}
	return fn.Type().String()
}

// isExportedName reports whether a runtime function name refers to an
// exported function. Closures count as exported.
func isExportedName(name string) bool {
	name = strings.TrimSuffix(name, "-fm")
	name = strings.ReplaceAll(name, "[...]", "")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	if strings.HasPrefix(name, "func") && strings.TrimLeft(name[4:], "0123456789") == "" {
		return true
	}
	for _, r := range name {
		return unicode.IsUpper(r)
	}
	return false
}

// IsNillable reports whether values of t can be nil.
func IsNillable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return true
	}
	return false
}

// IsAssignableValue reports whether v can be assigned to a variable of type t.
func IsAssignableValue(t reflect.Type, v any) bool {
	if v == nil {
		return IsNillable(t)
	}
	return reflect.TypeOf(v).AssignableTo(t)
}

// ValueFor returns a reflect.Value of type t holding v. A nil v yields the
// zero value of t.
func ValueFor(t reflect.Type, v any) reflect.Value {
	if v == nil {
		return reflect.Zero(t)
	}
	rv := reflect.ValueOf(v)
	if rv.Type() != t && rv.Type().AssignableTo(t) {
		out := reflect.New(t).Elem()
		out.Set(rv)
		return out
	}
	return rv
}

// IsSimpleType reports whether t is a value type that is never autowired as
// a bean.
func IsSimpleType(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128, reflect.String:
		return true
	case reflect.Slice, reflect.Array:
		return IsSimpleType(t.Elem())
	}
	return false
}
