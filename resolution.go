package beans

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/bzb8/beans/internal/singleton"
)

var tokenSeq atomic.Uint64

// resolution is the per-request state carried in the context of one
// top-level lookup and every nested lookup made on its behalf.
type resolution struct {
	token singleton.Token

	mu         sync.Mutex
	prototypes map[string]int
	predicting map[string]struct{}
}

type resolutionKey struct{}

type injectionPointKey struct{}

// resolutionFrom returns the resolution carried by ctx, starting a new one
// when there is none.
func resolutionFrom(ctx context.Context) (context.Context, *resolution) {
	if ctx == nil {
		ctx = context.Background()
	}
	if r, ok := ctx.Value(resolutionKey{}).(*resolution); ok {
		return ctx, r
	}
	r := &resolution{
		token:      singleton.Token(tokenSeq.Add(1)),
		prototypes: make(map[string]int),
		predicting: make(map[string]struct{}),
	}
	return context.WithValue(ctx, resolutionKey{}, r), r
}

func (r *resolution) beforePrototypeCreation(name string) {
	r.mu.Lock()
	r.prototypes[name]++
	r.mu.Unlock()
}

func (r *resolution) afterPrototypeCreation(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.prototypes[name] <= 1 {
		delete(r.prototypes, name)
		return
	}
	r.prototypes[name]--
}

func (r *resolution) isPrototypeInCreation(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prototypes[name] > 0
}

// beginTypePrediction marks the factory-method type of name as being
// predicted. It returns false when that prediction is already under way.
func (r *resolution) beginTypePrediction(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.predicting[name]; ok {
		return false
	}
	r.predicting[name] = struct{}{}
	return true
}

func (r *resolution) endTypePrediction(name string) {
	r.mu.Lock()
	delete(r.predicting, name)
	r.mu.Unlock()
}

func withInjectionPoint(ctx context.Context, ip *InjectionPoint) context.Context {
	return context.WithValue(ctx, injectionPointKey{}, ip)
}

// CurrentInjectionPoint returns the injection point being resolved in ctx,
// or nil.
func CurrentInjectionPoint(ctx context.Context) *InjectionPoint {
	ip, _ := ctx.Value(injectionPointKey{}).(*InjectionPoint)
	return ip
}
