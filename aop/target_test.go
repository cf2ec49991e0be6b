package aop

import (
	"context"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrototypeTargetSource(t *testing.T) {
	var created atomic.Int32
	ts := NewPrototypeTargetSource(serviceType, func(context.Context) (any, error) {
		created.Add(1)
		return &service{greeting: "hi"}, nil
	})
	pf := NewProxyFactoryFor[Service](ts)
	pf.SetStubRegistry(testStubs)

	svc, err := ProxyAs[Service](pf)
	require.NoError(t, err)

	_, err = svc.Greet(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 0, svc.Count(), "every call gets a fresh target")
	assert.Equal(t, int32(2), created.Load())
	assert.False(t, ts.IsStatic())
}

func TestPrototypeTargetSource_ReleaseClosesTarget(t *testing.T) {
	ts := NewPrototypeTargetSource(nil, func(context.Context) (any, error) { return &closer{}, nil })
	target, err := ts.Target(context.Background())
	require.NoError(t, err)

	require.NoError(t, ts.Release(target))
	assert.True(t, target.(*closer).closed.Load())
}

func TestPoolingTargetSource(t *testing.T) {
	var created atomic.Int32
	ts := NewPoolingTargetSource(nil, 1, func(context.Context) (any, error) {
		created.Add(1)
		return &closer{}, nil
	})

	first, err := ts.Target(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, ts.ActiveCount())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = ts.Target(ctx)
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, ts.Release(first))
	assert.Equal(t, 0, ts.ActiveCount())
	assert.Equal(t, 1, ts.IdleCount())

	again, err := ts.Target(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, again, "idle targets are reused")
	assert.Equal(t, int32(1), created.Load())
	require.NoError(t, ts.Release(again))

	require.NoError(t, ts.Close())
	assert.True(t, first.(*closer).closed.Load())
	_, err = ts.Target(context.Background())
	assert.Error(t, err)
}

func TestPoolingTargetSource_WaitsForRelease(t *testing.T) {
	ts := NewPoolingTargetSource(nil, 1, func(context.Context) (any, error) { return &closer{}, nil })
	first, err := ts.Target(context.Background())
	require.NoError(t, err)

	got := make(chan any, 1)
	go func() {
		target, err := ts.Target(context.Background())
		if err == nil {
			got <- target
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, ts.Release(first))

	select {
	case target := <-got:
		assert.Same(t, first, target)
	case <-time.After(time.Second):
		t.Fatal("waiting borrower was not served")
	}
}

func TestPoolingTargetSource_ThroughProxy(t *testing.T) {
	ts := NewPoolingTargetSource(serviceType, 2, func(context.Context) (any, error) {
		return &service{greeting: "pooled"}, nil
	})
	pf := NewProxyFactoryFor[Service](ts)
	pf.SetStubRegistry(testStubs)
	svc, err := ProxyAs[Service](pf)
	require.NoError(t, err)

	got, err := svc.Greet(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "pooled x", got)
	assert.Equal(t, 0, ts.ActiveCount(), "targets are released after each call")
	assert.Equal(t, 1, ts.IdleCount())
}

func TestSingletonTargetSource(t *testing.T) {
	target := &service{}
	ts := NewSingletonTargetSource(target)

	got, err := ts.Target(context.Background())
	require.NoError(t, err)
	assert.Same(t, target, got)
	assert.True(t, ts.IsStatic())
	assert.Equal(t, reflect.TypeOf(target), ts.TargetType())
	assert.True(t, ts.Equal(NewSingletonTargetSource(target)))
	assert.False(t, ts.Equal(NewSingletonTargetSource(&service{})))
}
