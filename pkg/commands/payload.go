package commands

import "google.golang.org/protobuf/encoding/protowire"

// Field numbers for the tagged MutationPayload record: domain type
// string, delta entity buffer, optional expected previous revision.
const (
	fieldType                     = 1
	fieldUID                      = 2
	fieldDelta                    = 3
	fieldExpectedPreviousRevision = 4
	fieldReplayToSource           = 5
)

// MutationPayload is the payload of CreateEntity/ModifyEntity/DeleteEntity/
// FetchEntity commands.
type MutationPayload struct {
	Type                     string
	UID                      string // empty on CreateEntity
	Delta                    []byte // encoded local buffer the client proposes
	ExpectedPreviousRevision uint64 // 0 means "no optimistic check requested"
	ReplayToSource           bool   // true for client commands, false for synchronizer-produced ones
}

// EncodeMutation serializes p as a tagged, schema-evolution-friendly
// binary record: unrecognized future fields are skippable because every
// field carries its own wire tag.
func EncodeMutation(p MutationPayload) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldType, protowire.BytesType)
	buf = protowire.AppendString(buf, p.Type)
	if p.UID != "" {
		buf = protowire.AppendTag(buf, fieldUID, protowire.BytesType)
		buf = protowire.AppendString(buf, p.UID)
	}
	if len(p.Delta) > 0 {
		buf = protowire.AppendTag(buf, fieldDelta, protowire.BytesType)
		buf = protowire.AppendBytes(buf, p.Delta)
	}
	if p.ExpectedPreviousRevision != 0 {
		buf = protowire.AppendTag(buf, fieldExpectedPreviousRevision, protowire.VarintType)
		buf = protowire.AppendVarint(buf, p.ExpectedPreviousRevision)
	}
	if p.ReplayToSource {
		buf = protowire.AppendTag(buf, fieldReplayToSource, protowire.VarintType)
		buf = protowire.AppendVarint(buf, 1)
	}
	return buf
}

// DecodeMutation parses a MutationPayload, skipping any field number it
// does not recognize so older and newer command producers/consumers stay
// wire-compatible.
func DecodeMutation(buf []byte) (MutationPayload, error) {
	var p MutationPayload
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return MutationPayload{}, errTruncatedField
		}
		buf = buf[n:]

		switch num {
		case fieldType:
			s, m := protowire.ConsumeString(buf)
			if m < 0 {
				return MutationPayload{}, errTruncatedField
			}
			p.Type = s
			buf = buf[m:]
		case fieldUID:
			s, m := protowire.ConsumeString(buf)
			if m < 0 {
				return MutationPayload{}, errTruncatedField
			}
			p.UID = s
			buf = buf[m:]
		case fieldDelta:
			b, m := protowire.ConsumeBytes(buf)
			if m < 0 {
				return MutationPayload{}, errTruncatedField
			}
			p.Delta = b
			buf = buf[m:]
		case fieldExpectedPreviousRevision:
			v, m := protowire.ConsumeVarint(buf)
			if m < 0 {
				return MutationPayload{}, errTruncatedField
			}
			p.ExpectedPreviousRevision = v
			buf = buf[m:]
		case fieldReplayToSource:
			v, m := protowire.ConsumeVarint(buf)
			if m < 0 {
				return MutationPayload{}, errTruncatedField
			}
			p.ReplayToSource = v != 0
			buf = buf[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, buf)
			if m < 0 {
				return MutationPayload{}, errTruncatedField
			}
			buf = buf[m:]
		}
	}
	return p, nil
}

// Field numbers for SynchronizePayload.
const (
	fieldSyncResource = 1
	fieldSyncType     = 2
	fieldSyncProperty = 3 // repeated "key=value" entries
)

// SynchronizePayload is the payload of a Synchronize command: which
// resource/type to synchronize and an optional set of property filters.
type SynchronizePayload struct {
	Resource string
	Type     string
	Filters  map[string]string
}

// EncodeSynchronize serializes a SynchronizePayload.
func EncodeSynchronize(p SynchronizePayload) []byte {
	var buf []byte
	if p.Resource != "" {
		buf = protowire.AppendTag(buf, fieldSyncResource, protowire.BytesType)
		buf = protowire.AppendString(buf, p.Resource)
	}
	if p.Type != "" {
		buf = protowire.AppendTag(buf, fieldSyncType, protowire.BytesType)
		buf = protowire.AppendString(buf, p.Type)
	}
	for k, v := range p.Filters {
		buf = protowire.AppendTag(buf, fieldSyncProperty, protowire.BytesType)
		buf = protowire.AppendString(buf, k+"="+v)
	}
	return buf
}

// DecodeSynchronize parses a SynchronizePayload.
func DecodeSynchronize(buf []byte) (SynchronizePayload, error) {
	p := SynchronizePayload{Filters: map[string]string{}}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return SynchronizePayload{}, errTruncatedField
		}
		buf = buf[n:]

		switch num {
		case fieldSyncResource:
			s, m := protowire.ConsumeString(buf)
			if m < 0 {
				return SynchronizePayload{}, errTruncatedField
			}
			p.Resource = s
			buf = buf[m:]
		case fieldSyncType:
			s, m := protowire.ConsumeString(buf)
			if m < 0 {
				return SynchronizePayload{}, errTruncatedField
			}
			p.Type = s
			buf = buf[m:]
		case fieldSyncProperty:
			s, m := protowire.ConsumeString(buf)
			if m < 0 {
				return SynchronizePayload{}, errTruncatedField
			}
			if key, val, ok := splitKV(s); ok {
				p.Filters[key] = val
			}
			buf = buf[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, buf)
			if m < 0 {
				return SynchronizePayload{}, errTruncatedField
			}
			buf = buf[m:]
		}
	}
	return p, nil
}

func splitKV(s string) (key, val string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
