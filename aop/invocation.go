package aop

import (
	"context"
	"reflect"
)

// MethodInvocation is a call travelling down an interceptor chain.
type MethodInvocation interface {
	// Method returns the invoked method.
	Method() *Method

	// Arguments returns the call arguments. Interceptors may change them
	// in place or replace them with SetArguments.
	Arguments() []any
	SetArguments(args ...any)

	// This returns the target of the call.
	This() any

	// Proxy returns the proxy the call was made on, as handed to callers.
	Proxy() any

	// Proceed calls the next interceptor, or the target after the last one.
	Proceed(ctx context.Context) ([]any, error)

	// Attribute returns a value stored by an earlier interceptor.
	Attribute(key string) any
	SetAttribute(key string, value any)
}

type reflectiveInvocation struct {
	proxy      *Proxy
	target     any
	targetType reflect.Type
	method     *Method
	args       []any
	chain      []any
	index      int
	attrs      map[string]any
}

var _ MethodInvocation = (*reflectiveInvocation)(nil)

func (i *reflectiveInvocation) Method() *Method          { return i.method }
func (i *reflectiveInvocation) Arguments() []any         { return i.args }
func (i *reflectiveInvocation) SetArguments(args ...any) { i.args = args }
func (i *reflectiveInvocation) This() any                { return i.target }
func (i *reflectiveInvocation) Proxy() any               { return i.proxy.object }

func (i *reflectiveInvocation) Proceed(ctx context.Context) ([]any, error) {
	if i.index == len(i.chain) {
		return InvokeMethod(i.target, i.method, i.args)
	}

	next := i.chain[i.index]
	i.index++
	if dm, ok := next.(dynamicInterceptor); ok {
		if dm.matcher.MatchesArgs(i.method, i.targetType, i.args) {
			return dm.interceptor.Invoke(ctx, i)
		}
		// Not matched for these arguments: skip it.
		return i.Proceed(ctx)
	}
	return next.(MethodInterceptor).Invoke(ctx, i)
}

func (i *reflectiveInvocation) Attribute(key string) any {
	return i.attrs[key]
}

func (i *reflectiveInvocation) SetAttribute(key string, value any) {
	if i.attrs == nil {
		i.attrs = make(map[string]any)
	}
	i.attrs[key] = value
}
