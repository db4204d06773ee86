package sync

import "errors"

var errUnknownType = errors.New("sync: unknown entity type")
