package aop

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigFrozen is returned when advice is changed on a frozen
	// configuration.
	ErrConfigFrozen = errors.New("configuration is frozen")

	// ErrNoCurrentProxy is returned by CurrentProxy outside an invocation
	// of a proxy exposing itself.
	ErrNoCurrentProxy = errors.New("cannot find current proxy: set ExposeProxy on the configuration")

	// ErrNoSuchMethod is returned when a proxy is invoked with a method it
	// does not expose.
	ErrNoSuchMethod = errors.New("no such method")

	// ErrPoolExhausted is returned by a pooling target source that cannot
	// hand out a target before its context ends.
	ErrPoolExhausted = errors.New("target pool exhausted")
)

var (
	_ error = AopConfigError{}
	_ error = AopInvocationError{}
	_ error = UndeclaredThrowableError{}
)

// AopConfigError reports an invalid proxy configuration.
type AopConfigError struct {
	Message string
	Cause   error
}

func (e AopConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("aop configuration: %s: %v", e.Message, e.Cause)
	}
	return "aop configuration: " + e.Message
}

func (e AopConfigError) Unwrap() error {
	return e.Cause
}

// AopInvocationError reports a proxy invocation whose outcome does not fit
// the method signature.
type AopInvocationError struct {
	Method  *Method
	Message string
}

func (e AopInvocationError) Error() string {
	if e.Method == nil {
		return "aop invocation: " + e.Message
	}
	return fmt.Sprintf("aop invocation of %s: %s", e.Method, e.Message)
}

// UndeclaredThrowableError wraps an error raised by advice for a method
// whose signature has no error result.
type UndeclaredThrowableError struct {
	Method *Method
	Cause  error
}

func (e UndeclaredThrowableError) Error() string {
	return fmt.Sprintf("undeclared error from %s: %v", e.Method, e.Cause)
}

func (e UndeclaredThrowableError) Unwrap() error {
	return e.Cause
}
