package reflection

import (
	"math"
	"reflect"
	"sort"
)

// RawArgumentBias is subtracted from the raw-argument weight in lenient
// mode so that a raw match beats an equally weighted converted match.
const RawArgumentBias = 1024

// SortGreedy orders candidates exported first, then by descending
// parameter count. The order among equals is preserved.
func SortGreedy(candidates []*Executable) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Exported != b.Exported {
			return a.Exported
		}
		return a.NumParams() > b.NumParams()
	})
}

// TypeDifferenceWeight scores how well args fit params. Zero is an exact
// match, an interface parameter adds one, and a non-assignable argument
// yields math.MaxInt32.
func TypeDifferenceWeight(params []reflect.Type, args []any) int {
	result := 0
	for i, param := range params {
		arg := args[i]
		if !IsAssignableValue(param, arg) {
			return math.MaxInt32
		}
		if param.Kind() == reflect.Interface {
			result++
		}
	}
	return result
}

// LenientWeight returns the better of the converted and the biased raw
// weight.
func LenientWeight(params []reflect.Type, converted, raw []any) int {
	typeDiff := TypeDifferenceWeight(params, converted)
	rawTypeDiff := TypeDifferenceWeight(params, raw) - RawArgumentBias
	return min(rawTypeDiff, typeDiff)
}

// AssignabilityWeight is the strict-mode weight: any non-assignable
// converted argument disqualifies the candidate, raw assignability is
// preferred.
func AssignabilityWeight(params []reflect.Type, converted, raw []any) int {
	for i, param := range params {
		if !IsAssignableValue(param, converted[i]) {
			return math.MaxInt32
		}
	}
	for i, param := range params {
		if !IsAssignableValue(param, raw[i]) {
			return math.MaxInt32 - 512
		}
	}
	return math.MaxInt32 - RawArgumentBias
}
