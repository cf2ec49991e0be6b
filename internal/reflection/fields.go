package reflection

import (
	"fmt"
	"reflect"
	"strings"
)

// InjectField describes a struct field tagged for injection:
//
//	Repo    Repository   `inject:""`
//	Primary Repository   `inject:"bean=primaryRepo"`
//	Hooks   []Hook       `inject:"optional"`
type InjectField struct {
	Index     int
	Name      string
	Type      reflect.Type
	Qualifier string
	Optional  bool
}

// InjectFields returns the injectable fields of struct type t. Pointer types
// are dereferenced.
func (a *Analyzer) InjectFields(t reflect.Type) ([]InjectField, error) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, nil
	}

	a.mu.RLock()
	if cached, ok := a.fields[t]; ok {
		a.mu.RUnlock()
		return cached, nil
	}
	a.mu.RUnlock()

	var fields []InjectField
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag, ok := field.Tag.Lookup("inject")
		if !ok && field.Tag != "inject" {
			continue
		}
		if tag == "-" {
			continue
		}
		if field.Anonymous {
			return nil, fmt.Errorf("injection to anonymous field '%s' in '%v' is not allowed", field.Name, t)
		}
		if !field.IsExported() {
			return nil, fmt.Errorf("field '%s' in '%v' is not public", field.Name, t)
		}

		def := InjectField{Index: i, Name: field.Name, Type: field.Type}
		for _, pair := range strings.Split(tag, ",") {
			kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
			switch strings.TrimSpace(kv[0]) {
			case "bean":
				if len(kv) > 1 {
					def.Qualifier = strings.TrimSpace(kv[1])
				}
			case "optional":
				def.Optional = true
			}
		}
		fields = append(fields, def)
	}

	a.mu.Lock()
	a.fields[t] = fields
	a.mu.Unlock()
	return fields, nil
}
