/*
Package reconciler provides the timer-driven half of synchronize_with_source.

A resource process can trigger a synchronization pass explicitly (a
Synchronize command arriving over the command-frame protocol, see
pkg/commands and pkg/sync), but remote state can also drift in between
those explicit triggers. Reconciler closes that gap with a fixed-interval
ticker:

	┌─────────────────────────────┐
	│   every config.PollInterval │
	└──────────────┬──────────────┘
	               │
	               ▼
	   Synchronizer.SynchronizeWithSource(ctx)
	               │
	               ▼
	   log failure, keep ticking

A failed pass is logged and the loop continues; it does not retry
immediately or back off, since the next tick arrives on its own schedule
and pkg/sync's own re-entrancy guard already coalesces an overlapping
explicit trigger into whichever pass (timer- or command-driven) is
already running.
*/
package reconciler
