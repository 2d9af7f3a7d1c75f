package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConnThrottle(t *testing.T) {
	t.Parallel()

	r := require.New(t)

	ctx := context.Background()

	throttle := NewConnThrottle(2)

	token1, err := throttle.Acquire(ctx)
	r.NoError(err)
	token2, err := throttle.Acquire(ctx)
	r.NoError(err)
	r.NotEqual(token1.ID(), token2.ID())

	// No free slots - the next acquire must block until a release.
	acquired := make(chan *Token)
	go func() {
		token, err := throttle.Acquire(ctx)
		r.NoError(err)
		acquired <- token
	}()

	select {
	case <-acquired:
		t.Fatal("acquire must block while all slots are in use")
	case <-time.After(50 * time.Millisecond):
	}

	token1.Release()

	select {
	case token3 := <-acquired:
		token3.Release()
	case <-time.After(time.Second):
		t.Fatal("acquire must succeed after a release")
	}

	token2.Release()
}

func TestConnThrottle_CancelWhileWaiting(t *testing.T) {
	t.Parallel()

	r := require.New(t)

	throttle := NewConnThrottle(1)

	token, err := throttle.Acquire(context.Background())
	r.NoError(err)
	defer token.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = throttle.Acquire(ctx)
	r.ErrorIs(err, context.Canceled)
}

func TestToken_DoubleRelease(t *testing.T) {
	t.Parallel()

	r := require.New(t)

	ctx := context.Background()

	throttle := NewConnThrottle(1)

	token, err := throttle.Acquire(ctx)
	r.NoError(err)

	token.Release()
	// The second release must not free a slot someone else holds.
	token.Release()

	token2, err := throttle.Acquire(ctx)
	r.NoError(err)

	// The pool is of size 1 again: this acquire must block.
	ctx2, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = throttle.Acquire(ctx2)
	r.ErrorIs(err, context.DeadlineExceeded)

	token2.Release()
}
