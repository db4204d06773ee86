package processor

import "errors"

var errUnrecognizedCommand = errors.New("processor: unrecognized command id")
