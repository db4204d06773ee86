// Package index adds nothing to datastore's transaction model; it exists
// purely so pkg/entitystore can talk about "the parent index" or "the
// messageid index" instead of raw bucket names and composite-key layout.
package index
