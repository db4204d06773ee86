// Package resourceerr defines the error taxonomy shared by every component
// of a resource process: datastore, pipeline, processor, synchronizer and
// replay all classify failures into one of these kinds so that callers can
// decide whether to retry, dead-letter, or exit the process.
package resourceerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purposes of retry/dead-letter/fatal
// handling. It is not a type hierarchy — just a tag carried by Error.
type Kind string

const (
	// KindTransientNetwork marks a remote RPC timeout or connection failure.
	// Retried with backoff; never advances a replay or sync cursor.
	KindTransientNetwork Kind = "transient_network"

	// KindAuthFailure marks bad or expired credentials. No component of
	// this module produces or handles it; the synchronizer does not
	// suspend on it.
	KindAuthFailure Kind = "auth_failure"

	// KindProtocolError marks a malformed server reply. The current sync
	// cycle is aborted and retried on the next scheduled attempt.
	KindProtocolError Kind = "protocol_error"

	// KindInvalidCommand marks an unparseable command frame. The command
	// is dead-lettered and processing continues.
	KindInvalidCommand Kind = "invalid_command"

	// KindPreprocessorReject marks a validator rejecting an entity.
	// Dead-lettered after N consecutive identical failures.
	KindPreprocessorReject Kind = "preprocessor_reject"

	// KindStorageCorruption marks a verifier failure on a stored buffer.
	// Fatal: the resource process exits with code 3.
	KindStorageCorruption Kind = "storage_corruption"

	// KindStorageFull marks disk exhaustion. Fatal: exit code 4.
	KindStorageFull Kind = "storage_full"

	// KindConflict marks an expected-revision mismatch on an optimistic
	// update. Reported to the client; no store mutation occurs.
	KindConflict Kind = "conflict"

	// KindNotFound marks a missing key, uid, or binding.
	KindNotFound Kind = "not_found"

	// KindIOError marks a lower-level disk or environment I/O failure
	// that isn't corruption or exhaustion (e.g. a closed environment).
	KindIOError Kind = "io_error"

	// KindLockTimeout marks a failure to acquire the single-writer
	// transaction within its timeout.
	KindLockTimeout Kind = "lock_timeout"
)

// Error wraps an underlying cause with a Kind and the entity/command
// context that produced it: all recoverable errors are logged with
// entity and command ids and never advance the corresponding cursor.
type Error struct {
	Kind    Kind
	Op      string // component and operation, e.g. "entitystore.Modify"
	Entity  string // uid or command id, when applicable
	Cause   error
}

func (e *Error) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("%s: %s (%s): %v", e.Op, e.Kind, e.Entity, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error.
func New(kind Kind, op string, entity string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Entity: entity, Cause: cause}
}

// KindOf extracts the Kind from err, walking the unwrap chain. Returns
// ("", false) if err carries no Kind.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsFatal reports whether err's kind requires the resource process to
// exit so a supervisor can restart it.
func IsFatal(err error) bool {
	k, ok := KindOf(err)
	if !ok {
		return false
	}
	return k == KindStorageCorruption || k == KindStorageFull
}

// ExitCode maps a fatal Kind to the process exit code a resource process
// should exit with.
func ExitCode(err error) int {
	k, ok := KindOf(err)
	if !ok {
		return 1
	}
	switch k {
	case KindStorageCorruption:
		return 3
	case KindStorageFull:
		return 4
	default:
		return 1
	}
}
