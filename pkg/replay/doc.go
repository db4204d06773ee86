// See replay.go for Replayer. lastReplayedRevision lives in the
// synchronization database's "replaystate" bucket, never the main one —
// it is sync-engine bookkeeping, not entity history.
package replay
