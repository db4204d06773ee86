package entitystore

import "github.com/solstice-pim/resourcesync/pkg/types"

// encodeProps/decodeProps serialize a PropertySet into the entitybuffer
// metadata payload. JSON, matching pkg/types' own encoding convention —
// the metadata payload is small (a handful of short strings) so there is no
// pressure to reach for a denser format.
func encodeProps(props types.PropertySet) []byte {
	if props == nil {
		props = types.PropertySet{}
	}
	buf, err := types.Encode(props)
	if err != nil {
		// PropertySet is a map[string]string; json.Marshal cannot fail on it.
		panic(err)
	}
	return buf
}

func decodeProps(buf []byte) types.PropertySet {
	if len(buf) == 0 {
		return types.PropertySet{}
	}
	var props types.PropertySet
	if err := types.Decode(buf, &props); err != nil {
		return types.PropertySet{}
	}
	return props
}
