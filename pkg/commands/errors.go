package commands

import "errors"

var (
	errShortHeader      = errors.New("commands: buffer shorter than 12-byte frame header")
	errSizeMismatch     = errors.New("commands: frame size field does not match payload length")
	errTruncatedField   = errors.New("commands: truncated tagged field")
	errUnknownFieldType = errors.New("commands: unsupported wire type for tagged field")
)
