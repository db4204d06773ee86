package types

import (
	"encoding/json"
	"time"
)

// Encode serializes a domain entity to its canonical "local" payload
// buffer using JSON, the serialization format used throughout this
// module's storage layer.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode deserializes a "local" payload buffer produced by Encode.
func Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// PropertySet holds the declared-indexable property values of an entity
// as name -> encoded-value pairs, used by pkg/entitystore to populate and
// prune secondary indexes. The per-type functions below return every
// indexable property; pkg/entitystore indexes the ones listed in the
// type's TypeSpec.IndexedProperties.
type PropertySet map[string]string

// FolderProperties returns the indexable properties of a Folder.
func FolderProperties(f *Folder) PropertySet {
	return PropertySet{"parent": f.Parent, "name": f.Name}
}

// MailProperties returns the indexable properties of a Mail. Subject is
// indexed as-is so Lookup's prefix scan supports subject-prefix queries.
func MailProperties(m *Mail) PropertySet {
	return PropertySet{"folder": m.Folder, "messageid": m.MessageID, "subject": m.Subject}
}

// EventProperties returns the indexable properties of an Event. Start is
// encoded as UTC RFC3339 so the index's byte-lexicographic ordering
// matches chronological order, supporting range scans.
func EventProperties(e *Event) PropertySet {
	return PropertySet{
		"calendar": e.Calendar,
		"uid":      e.UID,
		"start":    e.Start.UTC().Format(time.RFC3339),
	}
}

// ContactProperties returns the indexable properties of a Contact.
func ContactProperties(c *Contact) PropertySet {
	return PropertySet{"addressbook": c.Addressbook, "uid": c.UID}
}

// AddressbookProperties returns the indexable properties of an
// Addressbook.
func AddressbookProperties(a *Addressbook) PropertySet {
	return PropertySet{"name": a.Name}
}
