/*
Package entitybuffer is the on-disk wire format written under every
"<uid>\x00<revision>" key in a "<type>.main" bucket (pkg/datastore). It has
no notion of entity types itself — pkg/entitystore decides what goes in the
resource/metadata/local payloads and how to decode the local one back into a
pkg/types value.
*/
package entitybuffer
