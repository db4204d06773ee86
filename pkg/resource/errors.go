package resource

import "errors"

var errUnknownFlushKind = errors.New("resource: unknown flush kind")
