// Package throttle bounds the number of simultaneous remote fetches. Remote
// endpoints are a scarce resource: a file share has few server-side session
// slots and mobile data budgets are finite.
package throttle

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/previewd/previewd/pkg/metrics"
	"github.com/previewd/previewd/pkg/rlog"
)

// ConnThrottle is a process-wide counting semaphore shared by all pipeline
// runs across all protocols.
type ConnThrottle struct {
	sem   *semaphore.Weighted
	limit int
}

func NewConnThrottle(limit int) *ConnThrottle {
	return &ConnThrottle{
		sem:   semaphore.NewWeighted(int64(limit)),
		limit: limit,
	}
}

// Acquire blocks until a slot is free or ctx is done. The returned token must
// be released exactly once on every exit path - holding it longer than the
// fetch starves other visible items waiting on the same pool.
func (t *ConnThrottle) Acquire(ctx context.Context) (*Token, error) {
	start := time.Now()
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	metrics.ThrottleWaitTime.Observe(time.Since(start).Seconds())
	metrics.ThrottleInUse.Inc()

	return &Token{
		id:  uuid.New(),
		sem: t.sem,
	}, nil
}

func (t *ConnThrottle) Limit() int {
	return t.limit
}

// Token is one acquired concurrency slot.
type Token struct {
	id      uuid.UUID
	sem     *semaphore.Weighted
	release sync.Once
}

// Release returns the slot to the pool. Calling Release twice is a caller
// bug; the second call is ignored and logged instead of corrupting the
// semaphore.
func (t *Token) Release() {
	released := false
	t.release.Do(func() {
		released = true
		t.sem.Release(1)
		metrics.ThrottleInUse.Dec()
	})
	if !released {
		rlog.Warnf("double release of throttle token %s", t.id)
	}
}

// ID identifies the token in logs.
func (t *Token) ID() uuid.UUID {
	return t.id
}
