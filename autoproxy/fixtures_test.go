package autoproxy

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/bzb8/beans"
	"github.com/bzb8/beans/aop"
)

type Greeter interface {
	Greet(ctx context.Context, name string) (string, error)
}

type greeter struct {
	greeting string
}

func newGreeter() *greeter { return &greeter{greeting: "hello"} }

func (g *greeter) Greet(_ context.Context, name string) (string, error) {
	return g.greeting + " " + name, nil
}

type greeterStub struct{ p *aop.Proxy }

func (s greeterStub) Greet(ctx context.Context, name string) (string, error) {
	return aop.Call[string](ctx, s.p, "Greet", ctx, name)
}
func (s greeterStub) AopProxy() *aop.Proxy { return s.p }

type Pinger interface{ Ping() string }
type Ponger interface{ Pong() string }

type pingA struct {
	B Ponger `inject:""`
}

func (a *pingA) Ping() string { return "ping" }

type pongB struct {
	A Pinger `inject:""`
}

func (b *pongB) Pong() string { return "pong" }

type pingerStub struct{ p *aop.Proxy }

func (s pingerStub) Ping() string         { return aop.Must[string](context.Background(), s.p, "Ping") }
func (s pingerStub) AopProxy() *aop.Proxy { return s.p }

type pongerStub struct{ p *aop.Proxy }

func (s pongerStub) Pong() string         { return aop.Must[string](context.Background(), s.p, "Pong") }
func (s pongerStub) AopProxy() *aop.Proxy { return s.p }

type plain struct{}

var (
	greeterType = reflect.TypeOf((*Greeter)(nil)).Elem()

	testStubs = func() *aop.StubRegistry {
		r := aop.NewStubRegistry()
		aop.RegisterStubIn(r, func(p *aop.Proxy) Greeter { return greeterStub{p} })
		aop.RegisterStubIn(r, func(p *aop.Proxy) Pinger { return pingerStub{p} })
		aop.RegisterStubIn(r, func(p *aop.Proxy) Ponger { return pongerStub{p} })
		return r
	}()
)

// counter counts the calls it intercepts.
type counter struct {
	n atomic.Int32
}

func (c *counter) Invoke(ctx context.Context, inv aop.MethodInvocation) ([]any, error) {
	c.n.Add(1)
	return inv.Proceed(ctx)
}

type callLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, s)
}

func (l *callLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

func recording(log *callLog, name string) aop.InterceptorFunc {
	return func(ctx context.Context, inv aop.MethodInvocation) ([]any, error) {
		log.add(name)
		return inv.Proceed(ctx)
	}
}

func newFactory(t *testing.T) *beans.Factory {
	t.Helper()
	return beans.New(beans.WithLogger(zaptest.NewLogger(t)))
}

func newAutoProxyFactory(t *testing.T, configure func(*Creator)) *beans.Factory {
	t.Helper()
	f := newFactory(t)
	c := NewCreator(f)
	c.SetStubRegistry(testStubs)
	if configure != nil {
		configure(c)
	}
	if err := f.AddPostProcessor(c); err != nil {
		t.Fatal(err)
	}
	return f
}

func advisedOf(t *testing.T, v any) *aop.AdvisedSupport {
	t.Helper()
	config, ok := aop.AdvisedOf(v)
	if !ok {
		t.Fatalf("%T is not an aop proxy", v)
	}
	return config
}
