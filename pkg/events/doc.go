/*
Package events provides the in-memory signal bus components of one resource
process use to react to each other.

Publish is non-blocking and best-effort: a slow subscriber's full buffer
causes it to miss an event rather than stall the publisher. pkg/pipeline,
pkg/processor and pkg/resource publish; pkg/replay subscribes to start a
replay pass on each revision update. pkg/resource's Flush does not
subscribe to the bus: it waits on the queues, the replayer and the
synchronizer directly.

This is an in-process bus only — it carries no information across resource
processes or machines, unlike the synchronization DB or the command socket.
*/
package events
