// Package convert is the default value converter used when binding
// configured argument and property values to parameter and field types.
package convert

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var (
	durationType = reflect.TypeOf(time.Duration(0))
	timeType     = reflect.TypeOf(time.Time{})
)

// Converter converts values between types.
type Converter struct {
	// TimeLayout is used for string to time.Time conversion. Defaults to
	// time.RFC3339.
	TimeLayout string
}

// Convert returns value converted to t. Values already assignable to t are
// returned unchanged.
func (c Converter) Convert(value any, t reflect.Type) (any, error) {
	if value == nil {
		switch t.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return nil, nil
		}
		return nil, fmt.Errorf("cannot convert nil to %s", t)
	}

	v := reflect.ValueOf(value)
	if v.Type().AssignableTo(t) {
		return value, nil
	}

	if s, ok := value.(string); ok {
		out, err := c.fromString(s, t)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to %s: %w", s, t, err)
		}
		return out.Interface(), nil
	}

	if t.Kind() == reflect.String {
		if s, ok := value.(fmt.Stringer); ok {
			return reflect.ValueOf(s.String()).Convert(t).Interface(), nil
		}
	}

	if isNumeric(v.Type()) && isNumeric(t) {
		return v.Convert(t).Interface(), nil
	}

	if isList(t) && v.Kind() == reflect.Slice || v.Kind() == reflect.Array && isList(t) {
		out := reflect.MakeSlice(reflect.SliceOf(t.Elem()), 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			elem, err := c.Convert(v.Index(i).Interface(), t.Elem())
			if err != nil {
				return nil, err
			}
			out = reflect.Append(out, valueOf(t.Elem(), elem))
		}
		if t.Kind() == reflect.Array {
			arr := reflect.New(t).Elem()
			reflect.Copy(arr, out)
			return arr.Interface(), nil
		}
		return out.Convert(t).Interface(), nil
	}

	if t.Kind() == reflect.Map && v.Kind() == reflect.Map {
		out := reflect.MakeMapWithSize(t, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			key, err := c.Convert(iter.Key().Interface(), t.Key())
			if err != nil {
				return nil, err
			}
			elem, err := c.Convert(iter.Value().Interface(), t.Elem())
			if err != nil {
				return nil, err
			}
			out.SetMapIndex(valueOf(t.Key(), key), valueOf(t.Elem(), elem))
		}
		return out.Interface(), nil
	}

	if v.Type().ConvertibleTo(t) && v.Kind() == t.Kind() {
		return v.Convert(t).Interface(), nil
	}

	return nil, fmt.Errorf("no conversion from %s to %s", v.Type(), t)
}

func (c Converter) fromString(s string, t reflect.Type) (reflect.Value, error) {
	var (
		v   any
		err error
	)

	switch {
	case isList(t):
		parts := trimSplit(s, ",")
		slice := reflect.MakeSlice(reflect.SliceOf(t.Elem()), 0, len(parts))
		for _, part := range parts {
			elem, err := c.fromString(part, t.Elem())
			if err != nil {
				return reflect.Zero(t), err
			}
			slice = reflect.Append(slice, elem)
		}
		if t.Kind() == reflect.Array {
			arr := reflect.New(t).Elem()
			reflect.Copy(arr, slice)
			return arr, nil
		}
		return slice.Convert(t), nil

	case t == durationType:
		v, err = time.ParseDuration(s)

	case t == timeType:
		layout := c.TimeLayout
		if layout == "" {
			layout = time.RFC3339
		}
		v, err = time.Parse(layout, s)

	case t.Kind() == reflect.Bool:
		v, err = strconv.ParseBool(strings.TrimSpace(s))

	case t.Kind() == reflect.String:
		v = s

	case isFloat(t):
		v, err = strconv.ParseFloat(strings.TrimSpace(s), t.Bits())

	case isInt(t):
		v, err = strconv.ParseInt(strings.TrimSpace(s), 10, t.Bits())

	case isUint(t):
		v, err = strconv.ParseUint(strings.TrimSpace(s), 10, t.Bits())

	default:
		return reflect.Zero(t), fmt.Errorf("unsupported type %s", t)
	}

	if err != nil {
		return reflect.Zero(t), err
	}

	return reflect.ValueOf(v).Convert(t), nil
}

func valueOf(t reflect.Type, v any) reflect.Value {
	if v == nil {
		return reflect.Zero(t)
	}
	return reflect.ValueOf(v).Convert(t)
}

func trimSplit(s, sep string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func isList(t reflect.Type) bool {
	return (t.Kind() == reflect.Slice || t.Kind() == reflect.Array) && t.Elem().Kind() != reflect.Uint8
}

func isNumeric(t reflect.Type) bool {
	return isInt(t) || isUint(t) || isFloat(t)
}

func isFloat(t reflect.Type) bool {
	return t.Kind() == reflect.Float32 || t.Kind() == reflect.Float64
}

func isInt(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUint(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}
