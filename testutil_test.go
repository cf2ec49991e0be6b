package beans

import (
	"context"
	"reflect"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"
)

// ============================================================================
// Shared Test Types
// ============================================================================

type Repo struct {
	Name string
}

func NewRepo() *Repo { return &Repo{Name: "default"} }

type Service struct {
	Repo *Repo
}

func NewService(r *Repo) *Service { return &Service{Repo: r} }

type Greeter interface {
	Greet() string
}

type English struct{}

func (*English) Greet() string { return "hello" }

type French struct{}

func (*French) Greet() string { return "bonjour" }

type Host struct {
	Greeter  Greeter
	Greeters []Greeter
}

type Conn struct {
	Host string
	Port int
}

// eventLog records lifecycle events in order.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type Pool struct {
	log *eventLog
}

func (p *Pool) Close() error {
	p.log.add("close:pool")
	return nil
}

type Client struct {
	Pool *Pool
	log  *eventLog
}

func (c *Client) Close() error {
	c.log.add("close:client")
	return nil
}

// Circular field injection.
type TA struct {
	B *TB `inject:""`
}

type TB struct {
	A *TA `inject:""`
}

// Circular constructor injection.
type CA struct{ B *CB }
type CB struct{ A *CA }

func NewCA(b *CB) *CA { return &CA{B: b} }
func NewCB(a *CA) *CB { return &CB{A: a} }

// ============================================================================
// Helpers
// ============================================================================

func newTestFactory(t *testing.T, opts ...Option) *Factory {
	t.Helper()
	all := append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	f := New(all...)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

var testCtx = context.Background()
