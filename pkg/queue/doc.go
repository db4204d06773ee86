// Package queue backs the "userqueue", "synchronizerqueue" and
// "deadletter" sub-databases. Each gets its own Queue value
// but all three live in the same datastore.Database as the entity data, so
// a command's enqueue and its eventual dequeue/dead-letter share ACID
// transactions with the entity writes they accompany.
package queue
