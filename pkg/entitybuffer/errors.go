package entitybuffer

import "errors"

var (
	errShortBuffer   = errors.New("entitybuffer: buffer shorter than fixed header")
	errBadMagic      = errors.New("entitybuffer: bad header magic")
	errTruncated     = errors.New("entitybuffer: truncated length-prefixed payload")
	errTrailingBytes = errors.New("entitybuffer: trailing bytes after three payloads")
)
