package commands_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/solstice-pim/resourcesync/pkg/commands"
)

func TestFrameEncodeDecodeRoundTrip(t *testing.T) {
	f := commands.Frame{MessageID: 7, CommandID: commands.IDCreateEntity, Payload: []byte("hello")}
	buf := commands.Encode(f)
	got, err := commands.Decode(buf)
	require.NoError(t, err)
	require.Equal(t, f, got)
}

func TestDecodeRejectsShortHeader(t *testing.T) {
	_, err := commands.Decode([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestDecodeRejectsSizeMismatch(t *testing.T) {
	buf := commands.Encode(commands.Frame{MessageID: 1, CommandID: commands.IDPing, Payload: []byte("abc")})
	buf = buf[:len(buf)-1]
	_, err := commands.Decode(buf)
	require.Error(t, err)
}

func TestCompletionFrame(t *testing.T) {
	f := commands.Completion(42, commands.StatusOK)
	require.Equal(t, commands.IDCommandCompletion, f.CommandID)
	require.Equal(t, int32(42), f.MessageID)
}

func TestMutationPayloadRoundTrip(t *testing.T) {
	p := commands.MutationPayload{
		Type:                     "mail",
		UID:                      "uid-1",
		Delta:                    []byte(`{"subject":"hi"}`),
		ExpectedPreviousRevision: 5,
	}
	buf := commands.EncodeMutation(p)
	got, err := commands.DecodeMutation(buf)
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestMutationPayloadCreateHasNoUID(t *testing.T) {
	p := commands.MutationPayload{Type: "folder", Delta: []byte(`{"name":"INBOX"}`)}
	buf := commands.EncodeMutation(p)
	got, err := commands.DecodeMutation(buf)
	require.NoError(t, err)
	require.Equal(t, "", got.UID)
	require.Equal(t, uint64(0), got.ExpectedPreviousRevision)
}

func TestSynchronizePayloadRoundTrip(t *testing.T) {
	p := commands.SynchronizePayload{
		Resource: "personal",
		Type:     "folder",
		Filters:  map[string]string{"parent": "root-uid"},
	}
	buf := commands.EncodeSynchronize(p)
	got, err := commands.DecodeSynchronize(buf)
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestDecodeMutationSkipsUnknownFields(t *testing.T) {
	// A future producer adds a field number this decoder doesn't know
	// about; DecodeMutation must skip it rather than error.
	p := commands.MutationPayload{Type: "mail"}
	buf := commands.EncodeMutation(p)
	buf = append(buf, 0x98, 0x06, 0x07) // field 99, varint wire type, value 7
	got, err := commands.DecodeMutation(buf)
	require.NoError(t, err)
	require.Equal(t, "mail", got.Type)
}
