package reflection

import "reflect"

// SameInstance reports whether a and b are the same object. Reference kinds
// compare by address. Other values compare with ==, and values holding
// uncomparable dynamic contents are never the same.
func SameInstance(a, b any) (same bool) {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	case reflect.Slice:
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	}
	if !va.Type().Comparable() {
		return false
	}
	// interface fields may hold slices or maps, which panic on ==
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}
