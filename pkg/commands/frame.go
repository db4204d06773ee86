// Package commands implements the binary command-frame wire protocol:
// the fixed 12-byte command frame header and the tagged binary payload
// record carried by entity-mutating commands. It uses
// google.golang.org/protobuf/encoding/protowire at the wire-primitive
// level — tag/varint/length-delimited field encoding — without generated
// .pb.go message types, since this tree runs no protoc step.
package commands

import (
	"encoding/binary"

	"github.com/solstice-pim/resourcesync/pkg/resourceerr"
)

// ID enumerates the command ids carried in a frame header.
type ID int32

const (
	IDUnknown ID = iota
	IDCommandCompletion
	IDHandshake
	IDRevisionUpdate
	IDSynchronize
	IDFetchEntity
	IDDeleteEntity
	IDModifyEntity
	IDCreateEntity
	IDSearchSource
	IDShutdown
	IDNotification
	IDPing
	IDRevisionReplayed
	IDInspection
	IDCustom ID = 0xFFFF
)

const headerSize = 12

// Frame is one decoded command-frame header plus its raw payload bytes.
type Frame struct {
	MessageID int32
	CommandID ID
	Payload   []byte
}

// Encode serializes f into the 12-byte-header wire frame.
func Encode(f Frame) []byte {
	buf := make([]byte, headerSize+len(f.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(f.MessageID))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(f.CommandID))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(f.Payload)))
	copy(buf[headerSize:], f.Payload)
	return buf
}

// Decode parses one frame from buf, which must contain exactly one frame's
// worth of bytes (the local-socket transport is expected to have already
// split the byte stream on the size field).
func Decode(buf []byte) (Frame, error) {
	const op = "commands.Decode"
	if len(buf) < headerSize {
		return Frame{}, resourceerr.New(resourceerr.KindInvalidCommand, op, "", errShortHeader)
	}
	messageID := int32(binary.LittleEndian.Uint32(buf[0:4]))
	commandID := ID(binary.LittleEndian.Uint32(buf[4:8]))
	size := binary.LittleEndian.Uint32(buf[8:12])

	if uint32(len(buf)-headerSize) != size {
		return Frame{}, resourceerr.New(resourceerr.KindInvalidCommand, op, "", errSizeMismatch)
	}
	payload := make([]byte, size)
	copy(payload, buf[headerSize:])
	return Frame{MessageID: messageID, CommandID: commandID, Payload: payload}, nil
}

// CompletionStatus is carried in a CommandCompletion frame's payload.
type CompletionStatus int32

const (
	StatusOK CompletionStatus = iota
	StatusError
)

// Completion builds the CommandCompletion frame for messageID.
func Completion(messageID int32, status CompletionStatus) Frame {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, uint32(status))
	return Frame{MessageID: messageID, CommandID: IDCommandCompletion, Payload: payload}
}
