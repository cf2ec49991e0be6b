// Package aop intercepts method calls on proxies.
//
// A proxy is built from an AdvisedSupport configuration: a TargetSource
// supplying the object calls run against and an ordered list of advisors.
// Each advisor pairs advice with a rule, usually a Pointcut, deciding which
// methods it applies to. On every call the matching advice forms an
// interceptor chain; the first advisor is the outermost interceptor.
//
// Go has no runtime type generation, so a Proxy is invoked by method name:
//
//	results, err := proxy.Invoke(ctx, "Greet", ctx, "bob")
//
// Register a typed stub for an interface with RegisterStub to hand callers
// a value implementing it. The stub forwards every method to Invoke.
package aop
