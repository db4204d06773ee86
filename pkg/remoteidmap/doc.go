// Package remoteidmap is scoped to the synchronization database. A resource
// process opens two datastore.Database environments (main, synchronization)
// and only pkg/sync and pkg/replay ever call into this package; pkg/pipeline
// and pkg/entitystore never need to know a remote id exists.
package remoteidmap
