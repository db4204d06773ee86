/*
Package log wraps zerolog with the component/resource/queue/replay-lag
child logger helpers used throughout this module. See log.go for the full
API; call Init once at process startup, then derive child loggers with
WithComponent, WithResource, WithQueueName and WithReplayLag for
everything constructed afterwards.
*/
package log
