package entitybuffer_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/solstice-pim/resourcesync/pkg/entitybuffer"
	"github.com/solstice-pim/resourcesync/pkg/resourceerr"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	r := entitybuffer.Record{
		Revision:    42,
		Operation:   entitybuffer.OpModify,
		ReplayToSrc: true,
		Resource:    []byte("imap-uid-9"),
		Metadata:    []byte(`{"folder":"inbox"}`),
		Local:       []byte(`{"subject":"hi"}`),
	}

	buf := entitybuffer.Encode(r)
	got, err := entitybuffer.Decode(buf)
	require.NoError(t, err)
	require.Equal(t, r, got)
}

func TestEncodeDecodeEmptyPayloads(t *testing.T) {
	r := entitybuffer.Record{Revision: 1, Operation: entitybuffer.OpDelete}
	buf := entitybuffer.Encode(r)
	got, err := entitybuffer.Decode(buf)
	require.NoError(t, err)
	require.True(t, got.IsTombstone())
	require.Empty(t, got.Local)
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	_, err := entitybuffer.Decode([]byte{1, 2, 3})
	require.Error(t, err)
	kind, ok := resourceerr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, resourceerr.KindStorageCorruption, kind)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	buf := entitybuffer.Encode(entitybuffer.Record{Revision: 1})
	buf[0] ^= 0xff
	_, err := entitybuffer.Decode(buf)
	require.Error(t, err)
	kind, _ := resourceerr.KindOf(err)
	require.Equal(t, resourceerr.KindStorageCorruption, kind)
}

func TestDecodeRejectsTruncatedPayload(t *testing.T) {
	buf := entitybuffer.Encode(entitybuffer.Record{Revision: 1, Resource: []byte("abcdef")})
	_, err := entitybuffer.Decode(buf[:len(buf)-3])
	require.Error(t, err)
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	buf := entitybuffer.Encode(entitybuffer.Record{Revision: 1})
	buf = append(buf, 0xAB)
	_, err := entitybuffer.Decode(buf)
	require.Error(t, err)
}
