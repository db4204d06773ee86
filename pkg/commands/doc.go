/*
Package commands is the only package that knows the wire format clients use
to talk to a resource process's local socket. pkg/processor decodes a Frame,
dispatches on CommandID, and for mutation commands calls DecodeMutation; it
never reaches for protowire itself.
*/
package commands
