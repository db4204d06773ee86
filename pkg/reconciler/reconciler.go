// Package reconciler drives a resource's synchronizer on a fixed ticker:
// an explicit Synchronize command is not the only way a pass gets
// triggered, a background timer keeps remote and local state from
// drifting apart between explicit calls.
package reconciler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Synchronizer is the subset of pkg/sync.Synchronizer the poll loop
// needs, so this package can be tested against a fake without importing
// the sync package (which would otherwise need the stdlib-colliding
// import alias every caller of pkg/sync already carries).
type Synchronizer interface {
	SynchronizeWithSource(ctx context.Context) <-chan error
}

// Reconciler ticks every interval and triggers a synchronization pass,
// logging failures without stopping the loop.
type Reconciler struct {
	sync     Synchronizer
	interval time.Duration
	logger   zerolog.Logger
	stopCh   chan struct{}
}

// New creates a Reconciler that polls sync every interval once started.
func New(sync Synchronizer, interval time.Duration, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		sync:     sync,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the poll loop in a background goroutine.
func (r *Reconciler) Start(ctx context.Context) {
	go r.run(ctx)
}

// Stop stops the poll loop. Safe to call once; a second call panics on
// the closed channel, matching the rest of this tree's one-shot Stop
// convention.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.interval).Msg("reconciler started")

	for {
		select {
		case <-ticker.C:
			if err := r.poll(ctx); err != nil {
				r.logger.Error().Err(err).Msg("poll-triggered synchronization failed")
			}
		case <-r.stopCh:
			r.logger.Info().Msg("reconciler stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reconciler) poll(ctx context.Context) error {
	return <-r.sync.SynchronizeWithSource(ctx)
}
