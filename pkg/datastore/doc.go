/*
Package datastore wraps go.etcd.io/bbolt with named buckets created on
demand and ACID transactions, but exposes explicit
BeginRead/BeginWrite/Commit/Abort instead of callback-style transactions,
since pkg/entitystore and pkg/pipeline need to hold one write transaction
open across several sub-database mutations (entity commit + index
updates + maxRevision bump) before committing.

Two Database instances exist per resource process: the main database
(entity revisions, indexes, queues) and the synchronization database
(remote-id mappings, replay cursor).
*/
package datastore
