package beans

import (
	"fmt"
	"reflect"

	"go.uber.org/multierr"
)

// Disposable is implemented by beans holding resources that must be released
// when the factory is closed.
//
// Example:
//
//	type DatabaseConnection struct {
//	    conn *sql.DB
//	}
//
//	func (dc *DatabaseConnection) Close() error {
//	    return dc.conn.Close()
//	}
type Disposable interface {
	Close() error
}

// DisposableBean is an alternative to Disposable for beans whose Close
// method means something else.
type DisposableBean interface {
	Destroy() error
}

// disposableAdapter runs every destroy callback of one bean.
type disposableAdapter struct {
	bean       any
	name       string
	method     string
	processors []DestructionAwareBeanPostProcessor
}

func newDisposableAdapter(bean any, name string, mbd *RootBeanDefinition, processors []DestructionAwareBeanPostProcessor) *disposableAdapter {
	var filtered []DestructionAwareBeanPostProcessor
	for _, p := range processors {
		if p.RequiresDestruction(bean) {
			filtered = append(filtered, p)
		}
	}
	return &disposableAdapter{
		bean:       bean,
		name:       name,
		method:     mbd.DestroyMethodName,
		processors: filtered,
	}
}

// requiresDestruction reports whether bean has anything to run on shutdown.
func requiresDestruction(bean any, mbd *RootBeanDefinition, processors []DestructionAwareBeanPostProcessor) bool {
	if bean == nil {
		return false
	}
	switch bean.(type) {
	case DisposableBean, Disposable:
		return true
	}
	if mbd.DestroyMethodName != "" {
		return true
	}
	for _, p := range processors {
		if p.RequiresDestruction(bean) {
			return true
		}
	}
	return false
}

// Destroy implements singleton.Disposable.
func (a *disposableAdapter) Destroy() error {
	var err error
	for _, p := range a.processors {
		err = multierr.Append(err, p.BeforeDestruction(a.bean, a.name))
	}

	switch b := a.bean.(type) {
	case DisposableBean:
		err = multierr.Append(err, b.Destroy())
		if a.method == "Destroy" {
			return err
		}
	case Disposable:
		err = multierr.Append(err, b.Close())
		if a.method == "Close" {
			return err
		}
	}

	if a.method != "" {
		err = multierr.Append(err, a.invokeMethod())
	}
	return err
}

func (a *disposableAdapter) invokeMethod() error {
	m := reflect.ValueOf(a.bean).MethodByName(a.method)
	if !m.IsValid() {
		return fmt.Errorf("destroy method '%s' not found on bean '%s'", a.method, a.name)
	}
	return callLifecycleMethod(m)
}

// callLifecycleMethod calls a no-arg method returning nothing or an error.
func callLifecycleMethod(m reflect.Value) error {
	if m.Type().NumIn() != 0 {
		return fmt.Errorf("lifecycle method must not take parameters, got %s", m.Type())
	}
	out := m.Call(nil)
	if len(out) > 0 {
		if last := out[len(out)-1]; last.Type() == errorType && !last.IsNil() {
			return last.Interface().(error)
		}
	}
	return nil
}
