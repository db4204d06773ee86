// See sync.go for the Synchronizer type and memsource.go for the
// in-memory Adapter double used throughout this module's tests.
package sync
