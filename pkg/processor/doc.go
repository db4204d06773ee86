// Package processor is the only consumer of pkg/queue's "userqueue" and
// "synchronizerqueue" buckets. Client-facing transports (not built here —
// the local socket is out of this module's scope beyond the frame codec
// in pkg/commands) enqueue onto UserQueue; pkg/sync enqueues onto
// SynchronizerQueue. DrainOne is meant to be called in a loop from the
// resource process's single event-loop thread.
package processor
