// Package pool provides a generic bounded resource pool. Handles are
// created lazily up to a configured maximum, reused when idle, and
// acquisition blocks when the pool is exhausted until a handle is
// released or the context is cancelled.
package pool

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/opendiscourse/legisync/pkg/errors"
)

// Factory creates a new pooled resource.
type Factory[T any] func(ctx context.Context) (T, error)

// Closer releases a resource that is leaving the pool.
type Closer[T any] func(T)

// Config configures a Pool.
type Config[T any] struct {
	// MinSize handles are created eagerly at construction
	MinSize int
	// MaxSize is the hard ceiling on live handles
	MaxSize int
	Factory Factory[T]
	// Close is optional; nil means resources need no teardown
	Close Closer[T]
}

// Pool hands out and reclaims a bounded set of reusable handles.
// Handles are never shared: a handle is owned by exactly one caller
// between Acquire and Release.
type Pool[T any] struct {
	cfg Config[T]

	idle  chan T
	slots chan struct{} // free capacity tokens

	inUse        int64
	totalCreated int64
	totalReused  int64

	closeOnce sync.Once
	closed    chan struct{}
}

// Handle wraps an acquired resource and guarantees paired release.
type Handle[T any] struct {
	Value    T
	pool     *Pool[T]
	returned int32
}

// Stats is a point-in-time view of pool utilization.
type Stats struct {
	InUse        int64 `json:"in_use"`
	Idle         int   `json:"idle"`
	Capacity     int   `json:"capacity"`
	TotalCreated int64 `json:"total_created"`
	TotalReused  int64 `json:"total_reused"`
}

// New creates a pool and warms it with MinSize handles.
func New[T any](ctx context.Context, cfg Config[T]) (*Pool[T], error) {
	if cfg.Factory == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "pool factory is required")
	}
	if cfg.MaxSize < 1 {
		return nil, errors.New(errors.ErrorTypeConfig, "pool max size must be at least 1")
	}
	if cfg.MinSize < 0 || cfg.MinSize > cfg.MaxSize {
		return nil, errors.New(errors.ErrorTypeConfig, "pool min size must be between 0 and max size")
	}

	p := &Pool[T]{
		cfg:    cfg,
		idle:   make(chan T, cfg.MaxSize),
		slots:  make(chan struct{}, cfg.MaxSize),
		closed: make(chan struct{}),
	}
	for i := 0; i < cfg.MaxSize; i++ {
		p.slots <- struct{}{}
	}

	for i := 0; i < cfg.MinSize; i++ {
		v, err := cfg.Factory(ctx)
		if err != nil {
			p.Close()
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to warm pool")
		}
		<-p.slots
		atomic.AddInt64(&p.totalCreated, 1)
		p.idle <- v
	}

	return p, nil
}

// Acquire returns a handle, reusing an idle one when available, creating
// a new one while capacity remains, and otherwise blocking until a
// release or ctx cancellation.
func (p *Pool[T]) Acquire(ctx context.Context) (*Handle[T], error) {
	select {
	case <-p.closed:
		return nil, errors.New(errors.ErrorTypeInternal, "pool is closed")
	default:
	}

	// Prefer an idle handle over growing the pool
	select {
	case v := <-p.idle:
		return p.lease(v, true), nil
	default:
	}

	select {
	case v := <-p.idle:
		return p.lease(v, true), nil
	case <-p.slots:
		v, err := p.cfg.Factory(ctx)
		if err != nil {
			p.slots <- struct{}{}
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create pooled resource")
		}
		atomic.AddInt64(&p.totalCreated, 1)
		return p.lease(v, false), nil
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "pool acquire cancelled")
	case <-p.closed:
		return nil, errors.New(errors.ErrorTypeInternal, "pool is closed")
	}
}

func (p *Pool[T]) lease(v T, reused bool) *Handle[T] {
	atomic.AddInt64(&p.inUse, 1)
	if reused {
		atomic.AddInt64(&p.totalReused, 1)
	}
	return &Handle[T]{Value: v, pool: p}
}

// Release returns the handle to the pool. Releasing twice is a no-op.
// After Close the idle list is already drained, so the handle is torn
// down instead of parked.
func (h *Handle[T]) Release() {
	if !atomic.CompareAndSwapInt32(&h.returned, 0, 1) {
		return
	}
	atomic.AddInt64(&h.pool.inUse, -1)
	select {
	case <-h.pool.closed:
		if h.pool.cfg.Close != nil {
			h.pool.cfg.Close(h.Value)
		}
	default:
		h.pool.idle <- h.Value
	}
}

// Discard drops a broken handle instead of returning it; capacity is
// preserved so a replacement can be created.
func (h *Handle[T]) Discard() {
	if !atomic.CompareAndSwapInt32(&h.returned, 0, 1) {
		return
	}
	atomic.AddInt64(&h.pool.inUse, -1)
	if h.pool.cfg.Close != nil {
		h.pool.cfg.Close(h.Value)
	}
	h.pool.slots <- struct{}{}
}

// Stats returns pool utilization statistics.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		InUse:        atomic.LoadInt64(&p.inUse),
		Idle:         len(p.idle),
		Capacity:     p.cfg.MaxSize,
		TotalCreated: atomic.LoadInt64(&p.totalCreated),
		TotalReused:  atomic.LoadInt64(&p.totalReused),
	}
}

// Close tears down all idle handles. Outstanding handles are closed as
// they are discarded; callers should release before Close for a clean
// shutdown.
func (p *Pool[T]) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
		for {
			select {
			case v := <-p.idle:
				if p.cfg.Close != nil {
					p.cfg.Close(v)
				}
			default:
				return
			}
		}
	})
}
