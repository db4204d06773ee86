// Package pipeline is the only caller of entitystore.Store's mutating
// methods. pkg/processor decodes a command frame and calls NewEntity/
// ModifiedEntity/DeletedEntity here; pkg/sync's synthetic commands go
// through the same three entry points, just with ReplayToSource forced to
// false, so the same commit-then-notify shape is shared by both the
// user-facing and synchronizer-facing paths.
package pipeline
