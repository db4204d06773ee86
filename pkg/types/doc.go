// Package types' entities are intentionally thin: no behavior, no storage
// knowledge. Encoding to/from the "local" payload buffer is one JSON
// Encode/Decode pair in codec.go shared by every type; codec.go also holds
// each type's Properties function, registered in pkg/entitystore.
package types
