package entitystore

import "errors"

var (
	errUnknownType     = errors.New("entitystore: unknown entity type")
	errNoSuchUID       = errors.New("entitystore: no such uid")
	errModifyTombstone = errors.New("entitystore: cannot modify a deleted entity")
	errBadRevisionKey  = errors.New("entitystore: malformed revision key")
)
