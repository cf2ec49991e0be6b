package beans

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// Scope is a custom bean scope. Beans whose definition names a registered
// scope are created through it and live as long as the scope keeps them.
type Scope interface {
	// Get returns the object for name, calling create when the scope holds
	// none yet.
	Get(ctx context.Context, name string, create func(ctx context.Context) (any, error)) (any, error)

	// Remove drops name from the scope and returns the removed object.
	Remove(ctx context.Context, name string) any

	// RegisterDestructionCallback registers fn to run when the object for
	// name is destroyed by the scope.
	RegisterDestructionCallback(ctx context.Context, name string, fn func() error)

	// ConversationID returns the id of the active conversation in ctx, or
	// "" when none is active.
	ConversationID(ctx context.Context) string
}

// ContextScope is a Scope whose conversations are carried by a context.
// Every conversation started with Begin has its own set of beans, destroyed
// in reverse creation order by End.
//
// Example:
//
//	requests := beans.NewContextScope()
//	f.RegisterScope("request", requests)
//	f.Provide("session", NewSession, beans.WithScope("request"))
//
//	ctx = requests.Begin(ctx)
//	defer requests.End(ctx)
//	session, err := beans.Resolve[*Session](ctx, f)
type ContextScope struct {
	mu            sync.Mutex
	conversations map[string]*conversation
}

type conversation struct {
	id       string
	disposed atomic.Bool

	mu        sync.Mutex
	objects   map[string]any
	order     []string
	callbacks map[string]func() error
	creating  map[string]*sync.Mutex
}

type conversationKey struct {
	scope *ContextScope
}

// NewContextScope creates a ContextScope.
func NewContextScope() *ContextScope {
	return &ContextScope{conversations: make(map[string]*conversation)}
}

// Begin starts a conversation and returns a context carrying it.
func (s *ContextScope) Begin(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	c := &conversation{
		id:        uuid.NewString(),
		objects:   make(map[string]any),
		callbacks: make(map[string]func() error),
		creating:  make(map[string]*sync.Mutex),
	}
	s.mu.Lock()
	s.conversations[c.id] = c
	s.mu.Unlock()
	return context.WithValue(ctx, conversationKey{scope: s}, c)
}

// End destroys the beans of the conversation carried by ctx. Ending a
// conversation twice is a no-op.
func (s *ContextScope) End(ctx context.Context) error {
	c, err := s.conversation(ctx)
	if err != nil {
		return err
	}
	return s.end(c)
}

func (s *ContextScope) end(c *conversation) error {
	if !c.disposed.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	delete(s.conversations, c.id)
	s.mu.Unlock()

	c.mu.Lock()
	order := c.order
	callbacks := c.callbacks
	c.objects = make(map[string]any)
	c.order = nil
	c.callbacks = make(map[string]func() error)
	c.mu.Unlock()

	var errs error
	// LIFO
	for i := len(order) - 1; i >= 0; i-- {
		if cb, ok := callbacks[order[i]]; ok {
			errs = multierr.Append(errs, cb())
		}
	}
	return errs
}

// Close ends every open conversation.
func (s *ContextScope) Close() error {
	s.mu.Lock()
	open := make([]*conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		open = append(open, c)
	}
	s.mu.Unlock()

	var errs error
	for _, c := range open {
		errs = multierr.Append(errs, s.end(c))
	}
	return errs
}

// Active returns the number of open conversations.
func (s *ContextScope) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}

func (s *ContextScope) conversation(ctx context.Context) (*conversation, error) {
	if ctx != nil {
		if c, ok := ctx.Value(conversationKey{scope: s}).(*conversation); ok {
			if c.disposed.Load() {
				return nil, fmt.Errorf("%w: conversation %s has ended", ErrScopeNotActive, c.id)
			}
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: no conversation in context", ErrScopeNotActive)
}

// Get implements Scope.
func (s *ContextScope) Get(ctx context.Context, name string, create func(ctx context.Context) (any, error)) (any, error) {
	c, err := s.conversation(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if obj, ok := c.objects[name]; ok {
		c.mu.Unlock()
		return obj, nil
	}
	lock, ok := c.creating[name]
	if !ok {
		lock = &sync.Mutex{}
		c.creating[name] = lock
	}
	c.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	if obj, ok := c.objects[name]; ok {
		c.mu.Unlock()
		return obj, nil
	}
	c.mu.Unlock()

	obj, err := create(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.objects[name]; !ok {
		c.order = append(c.order, name)
	}
	c.objects[name] = obj
	delete(c.creating, name)
	return obj, nil
}

// Remove implements Scope.
func (s *ContextScope) Remove(ctx context.Context, name string) any {
	c, err := s.conversation(ctx)
	if err != nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	obj, ok := c.objects[name]
	if !ok {
		return nil
	}
	delete(c.objects, name)
	delete(c.callbacks, name)
	c.order = removeName(c.order, name)
	return obj
}

// RegisterDestructionCallback implements Scope.
func (s *ContextScope) RegisterDestructionCallback(ctx context.Context, name string, fn func() error) {
	c, err := s.conversation(ctx)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.callbacks[name] = fn
	c.mu.Unlock()
}

// ConversationID implements Scope.
func (s *ContextScope) ConversationID(ctx context.Context) string {
	c, err := s.conversation(ctx)
	if err != nil {
		return ""
	}
	return c.id
}
