package aop

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap/zaptest"
)

var errBoom = errors.New("boom")

type Service interface {
	Greet(ctx context.Context, name string) (string, error)
	Count() int
	Self() Service
	Fail(ctx context.Context) error
}

type service struct {
	greeting string
	count    int
}

func (s *service) Greet(_ context.Context, name string) (string, error) {
	s.count++
	return s.greeting + " " + name, nil
}

func (s *service) Count() int                 { return s.count }
func (s *service) Self() Service              { return s }
func (s *service) Fail(context.Context) error { return errBoom }

// rawService hands out itself even when proxied.
type rawService struct {
	service
}

func (s *rawService) Self() Service    { return s }
func (s *rawService) RawTargetAccess() {}

type serviceStub struct{ p *Proxy }

func (s serviceStub) Greet(ctx context.Context, name string) (string, error) {
	return Call[string](ctx, s.p, "Greet", ctx, name)
}

func (s serviceStub) Count() int                     { return Must[int](context.Background(), s.p, "Count") }
func (s serviceStub) Self() Service                  { return Must[Service](context.Background(), s.p, "Self") }
func (s serviceStub) Fail(ctx context.Context) error { return Exec(ctx, s.p, "Fail", ctx) }
func (s serviceStub) AopProxy() *Proxy               { return s.p }

type Lockable interface {
	Lock()
	Locked() bool
}

type lockMixin struct {
	locked bool
}

func (l *lockMixin) Lock()        { l.locked = true }
func (l *lockMixin) Locked() bool { return l.locked }

// calc is proxied as a class.
type calc struct {
	base int
}

func newCalc(base int) *calc { return &calc{base: base} }

func (c *calc) Add(a, b int) int        { return c.base + a + b }
func (c *calc) Reset()                  { c.base = 0 }
func (c *calc) SealedMethods() []string { return []string{"Reset"} }

// selfCaller calls back into its own proxy.
type selfCaller struct{}

func (selfCaller) Outer(ctx context.Context) (string, error) {
	current, err := CurrentProxy(ctx)
	if err != nil {
		return "", err
	}
	out, err := current.(*Proxy).Invoke(ctx, "Inner", ctx)
	if err != nil {
		return "", err
	}
	return "outer+" + out[0].(string), nil
}

func (selfCaller) Inner(context.Context) (string, error) { return "inner", nil }

type closer struct {
	closed atomic.Bool
}

func (c *closer) Close() error {
	c.closed.Store(true)
	return nil
}

var (
	serviceType  = reflect.TypeOf((*Service)(nil)).Elem()
	lockableType = reflect.TypeOf((*Lockable)(nil)).Elem()
)

var testStubs = func() *StubRegistry {
	r := NewStubRegistry()
	RegisterStubIn(r, func(p *Proxy) Service { return serviceStub{p} })
	return r
}()

func newServiceFactory(t *testing.T, target any) *ProxyFactory {
	t.Helper()
	pf := NewProxyFactory(target, serviceType)
	pf.SetStubRegistry(testStubs)
	pf.SetLogger(zaptest.NewLogger(t))
	return pf
}

type callLog struct {
	mu     sync.Mutex
	events []string
}

func (l *callLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func recording(log *callLog, name string) InterceptorFunc {
	return func(ctx context.Context, inv MethodInvocation) ([]any, error) {
		log.add(name + ":before")
		results, err := inv.Proceed(ctx)
		log.add(name + ":after")
		return results, err
	}
}

func counting(n *atomic.Int32) InterceptorFunc {
	return func(ctx context.Context, inv MethodInvocation) ([]any, error) {
		n.Add(1)
		return inv.Proceed(ctx)
	}
}
