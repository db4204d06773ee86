package pipeline

import "errors"

var errUnknownType = errors.New("pipeline: unknown entity type")
