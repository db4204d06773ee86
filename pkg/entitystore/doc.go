/*
Package entitystore owns the only two key layouts a resource process's main
database has: "<uid>\x00<revision big-endian>" in each "<type>.main" bucket,
and "<revision big-endian>" in "__revlog", the global cross-type sequence
pkg/replay iterates. Every other package that needs to read or write an
entity goes through here rather than touching pkg/datastore buckets
directly.
*/
package entitystore
