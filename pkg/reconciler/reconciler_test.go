package reconciler_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/solstice-pim/resourcesync/pkg/reconciler"
)

type fakeSync struct {
	calls int32
	err   error
}

func (f *fakeSync) SynchronizeWithSource(ctx context.Context) <-chan error {
	atomic.AddInt32(&f.calls, 1)
	ch := make(chan error, 1)
	ch <- f.err
	return ch
}

func TestReconcilerPollsOnEveryTick(t *testing.T) {
	fs := &fakeSync{}
	r := reconciler.New(fs, 10*time.Millisecond, zerolog.Nop())
	r.Start(context.Background())
	defer r.Stop()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&fs.calls) >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestReconcilerSurvivesSynchronizeFailure(t *testing.T) {
	fs := &fakeSync{err: errors.New("remote unavailable")}
	r := reconciler.New(fs, 10*time.Millisecond, zerolog.Nop())
	r.Start(context.Background())
	defer r.Stop()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&fs.calls) >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestReconcilerStopsOnContextCancellation(t *testing.T) {
	fs := &fakeSync{}
	ctx, cancel := context.WithCancel(context.Background())
	r := reconciler.New(fs, 5*time.Millisecond, zerolog.Nop())
	r.Start(ctx)
	cancel()

	time.Sleep(20 * time.Millisecond)
	before := atomic.LoadInt32(&fs.calls)
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, before, atomic.LoadInt32(&fs.calls))
}
