package reflection

import (
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	name string
	size int
}

func NewWidget(name string) *widget { return &widget{name: name} }
func NewSizedWidget(name string, size int) *widget { return &widget{name: name, size: size} }
func newHiddenWidget() *widget { return &widget{} }
func failingWidget() (*widget, error) { return nil, errors.New("no widget") }
func nilWidget() *widget { return nil }
func voidFactory() {}
func errorOnly() error { return nil }
func tooMany() (int, int, error) { return 0, 0, nil }
func badSecond() (int, int) { return 0, 0 }

func (w *widget) Clone(suffix string) *widget { return &widget{name: w.name + suffix} }

func TestAnalyzer_Analyze(t *testing.T) {
	a := New()

	exec, err := a.Analyze(NewSizedWidget, "name", "size")
	require.NoError(t, err)

	assert.Equal(t, 2, exec.NumParams())
	assert.Equal(t, "name", exec.Params[0].Name)
	assert.Equal(t, reflect.TypeOf(0), exec.Params[1].Type)
	assert.Equal(t, reflect.TypeOf(&widget{}), exec.Result)
	assert.False(t, exec.ReturnsError)
	assert.True(t, exec.Exported)
	assert.Contains(t, exec.Signature(), "(string, int)")
}

func TestAnalyzer_Results(t *testing.T) {
	a := New()

	tests := []struct {
		name      string
		fn        any
		void      bool
		returnErr bool
		wantErr   bool
	}{
		{"value", NewWidget, false, false, false},
		{"value and error", failingWidget, false, true, false},
		{"void", voidFactory, true, false, false},
		{"error only", errorOnly, true, true, false},
		{"three results", tooMany, false, false, true},
		{"second not error", badSecond, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec, err := a.Analyze(tt.fn)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.void, exec.Void())
			assert.Equal(t, tt.returnErr, exec.ReturnsError)
		})
	}
}

func TestAnalyzer_InvalidInput(t *testing.T) {
	a := New()

	_, err := a.Analyze(nil)
	assert.Error(t, err)

	_, err = a.Analyze(42)
	assert.Error(t, err)

	var fn func() *widget
	_, err = a.Analyze(fn)
	assert.Error(t, err)
}

func TestAnalyzer_ClosuresKeepTheirCaptures(t *testing.T) {
	a := New()

	var execs []*Executable
	for i := 0; i < 3; i++ {
		n := i
		exec, err := a.Analyze(func() int { return n })
		require.NoError(t, err)
		execs = append(execs, exec)
	}

	for i, exec := range execs {
		got, err := exec.Call(nil)
		require.NoError(t, err)
		assert.Equal(t, i, got)
	}
	assert.Equal(t, 1, a.CacheSize())
}

func TestAnalyzer_Exported(t *testing.T) {
	a := New()

	exec, err := a.Analyze(newHiddenWidget)
	require.NoError(t, err)
	assert.False(t, exec.Exported)

	exec, err = a.Analyze(func() *widget { return nil })
	require.NoError(t, err)
	assert.True(t, exec.Exported)
}

func TestExecutable_Call(t *testing.T) {
	a := New()

	t.Run("value", func(t *testing.T) {
		exec, _ := a.Analyze(NewSizedWidget)
		got, err := exec.Call([]reflect.Value{reflect.ValueOf("w"), reflect.ValueOf(3)})
		require.NoError(t, err)
		assert.Equal(t, &widget{name: "w", size: 3}, got)
	})

	t.Run("error", func(t *testing.T) {
		exec, _ := a.Analyze(failingWidget)
		_, err := exec.Call(nil)
		assert.EqualError(t, err, "no widget")
	})

	t.Run("nil pointer result", func(t *testing.T) {
		exec, _ := a.Analyze(nilWidget)
		got, err := exec.Call(nil)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("panic", func(t *testing.T) {
		exec, _ := a.Analyze(func() *widget { panic("kaboom") })
		_, err := exec.Call(nil)
		var pe *PanicError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, "kaboom", pe.Panic)
		assert.NotEmpty(t, pe.Stack)
	})

	t.Run("variadic", func(t *testing.T) {
		exec, _ := a.Analyze(func(parts ...string) string { return strings.Join(parts, "-") })
		got, err := exec.Call([]reflect.Value{reflect.ValueOf([]string{"a", "b"})})
		require.NoError(t, err)
		assert.Equal(t, "a-b", got)
	})
}

func TestAnalyzer_Method(t *testing.T) {
	a := New()
	w := &widget{name: "base"}

	exec, err := a.Method(reflect.ValueOf(w), "Clone")
	require.NoError(t, err)
	assert.True(t, exec.Method)
	assert.Equal(t, 1, exec.NumParams())

	got, err := exec.Call([]reflect.Value{reflect.ValueOf("-copy")})
	require.NoError(t, err)
	assert.Equal(t, "base-copy", got.(*widget).name)

	_, err = a.Method(reflect.ValueOf(w), "Missing")
	assert.Error(t, err)
}

func TestSortGreedy(t *testing.T) {
	a := New()
	one, _ := a.Analyze(NewWidget)
	two, _ := a.Analyze(NewSizedWidget)
	hidden, _ := a.Analyze(newHiddenWidget)

	candidates := []*Executable{hidden, one, two}
	SortGreedy(candidates)

	assert.Same(t, two, candidates[0])
	assert.Same(t, one, candidates[1])
	assert.Same(t, hidden, candidates[2])
}

func TestWeights(t *testing.T) {
	str := reflect.TypeOf("")
	num := reflect.TypeOf(0)
	writer := reflect.TypeOf((*io.Writer)(nil)).Elem()
	stringer := reflect.TypeOf((*fmt.Stringer)(nil)).Elem()

	t.Run("type difference", func(t *testing.T) {
		assert.Equal(t, 0, TypeDifferenceWeight([]reflect.Type{str, num}, []any{"a", 1}))
		assert.Equal(t, 1, TypeDifferenceWeight([]reflect.Type{writer}, []any{io.Discard}))
		assert.Equal(t, 1, TypeDifferenceWeight([]reflect.Type{stringer}, []any{nil}))
		assert.Equal(t, math.MaxInt32, TypeDifferenceWeight([]reflect.Type{num}, []any{"5"}))
		assert.Equal(t, math.MaxInt32, TypeDifferenceWeight([]reflect.Type{num}, []any{nil}))
	})

	t.Run("lenient prefers raw", func(t *testing.T) {
		params := []reflect.Type{num}
		assert.Equal(t, -RawArgumentBias, LenientWeight(params, []any{5}, []any{5}))
		// "5" converted to 5: raw is not assignable so the converted weight wins
		assert.Equal(t, 0, LenientWeight(params, []any{5}, []any{"5"}))
	})

	t.Run("strict", func(t *testing.T) {
		params := []reflect.Type{num}
		assert.Equal(t, math.MaxInt32-RawArgumentBias, AssignabilityWeight(params, []any{5}, []any{5}))
		assert.Equal(t, math.MaxInt32-512, AssignabilityWeight(params, []any{5}, []any{"5"}))
		assert.Equal(t, math.MaxInt32, AssignabilityWeight(params, []any{"5"}, []any{"5"}))
	})
}

func TestIsSimpleType(t *testing.T) {
	assert.True(t, IsSimpleType(reflect.TypeOf("")))
	assert.True(t, IsSimpleType(reflect.TypeOf([]int{})))
	assert.False(t, IsSimpleType(reflect.TypeOf(&widget{})))
	assert.False(t, IsSimpleType(reflect.TypeOf((*io.Writer)(nil)).Elem()))
}

type injected struct {
	Writer  io.Writer    `inject:""`
	Named   fmt.Stringer `inject:"bean=primary, optional"`
	Skipped io.Reader    `inject:"-"`
	Plain   string
}

type hiddenInjected struct {
	writer io.Writer `inject:""`
}

func TestAnalyzer_InjectFields(t *testing.T) {
	a := New()

	fields, err := a.InjectFields(reflect.TypeOf(&injected{}))
	require.NoError(t, err)
	require.Len(t, fields, 2)

	assert.Equal(t, "Writer", fields[0].Name)
	assert.Empty(t, fields[0].Qualifier)
	assert.False(t, fields[0].Optional)

	assert.Equal(t, "Named", fields[1].Name)
	assert.Equal(t, "primary", fields[1].Qualifier)
	assert.True(t, fields[1].Optional)

	_, err = a.InjectFields(reflect.TypeOf(hiddenInjected{}))
	assert.ErrorContains(t, err, "not public")

	fields, err = a.InjectFields(reflect.TypeOf(""))
	require.NoError(t, err)
	assert.Empty(t, fields)
}
