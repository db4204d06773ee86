package replay

import "errors"

var errNoWriteback = errors.New("replay: no writeback function registered for type")
