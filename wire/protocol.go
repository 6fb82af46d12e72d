// Package wire defines the network protocol spoken between the query client
// and a document server.
//
// Protocol Format:
//
//	[Header (5 bytes)] + [Body (msgpack)]
//
// Header:
//   - OpCode (1 byte): Operation type (RunQuery, PartitionQuery, replies)
//   - Length (4 bytes): Uint32 Big-Endian size of Body
//
// Body:
//   - msgpack encoded payload corresponding to the OpCode.
//
// A connection carries one RPC at a time. RunQuery is answered by zero or
// more OpQueryEntry frames followed by OpQueryDone or OpError; PartitionQuery
// is answered by a single OpPartitionReply or OpError.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// OpCode defines the operation type for the wire protocol.
type OpCode uint8

const (
	OpRunQuery       OpCode = 1
	OpPartitionQuery OpCode = 2

	// Server Responses
	OpQueryEntry     OpCode = 10
	OpQueryDone      OpCode = 11
	OpPartitionReply OpCode = 12
	OpError          OpCode = 13
)

func (op OpCode) String() string {
	switch op {
	case OpRunQuery:
		return "RunQuery"
	case OpPartitionQuery:
		return "PartitionQuery"
	case OpQueryEntry:
		return "QueryEntry"
	case OpQueryDone:
		return "QueryDone"
	case OpPartitionReply:
		return "PartitionReply"
	case OpError:
		return "Error"
	default:
		return fmt.Sprintf("OpCode(%d)", uint8(op))
	}
}

// Header is the fixed-size message header (5 bytes)
type Header struct {
	OpCode OpCode
	Length uint32 // Length of the msgpack body
}

const (
	HeaderSize   = 5
	MaxFrameSize = 16 * 1024 * 1024
)

// ErrFrameTooLarge is returned when a frame body exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame size exceeds maximum")

// WriteMessage writes a message (OpCode + Body) to the writer.
// Header and body go out in a single Write.
func WriteMessage(w io.Writer, op OpCode, body interface{}) error {
	var bodyBytes []byte
	if body != nil {
		var buf bytes.Buffer
		enc := msgpack.NewEncoder(&buf)
		enc.SetCustomStructTag("json")
		if err := enc.Encode(body); err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyBytes = buf.Bytes()
	}
	if len(bodyBytes) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	frame := make([]byte, HeaderSize+len(bodyBytes))
	frame[0] = byte(op)
	binary.BigEndian.PutUint32(frame[1:HeaderSize], uint32(len(bodyBytes)))
	copy(frame[HeaderSize:], bodyBytes)

	_, err := w.Write(frame)
	return err
}

// ReadHeader reads and decodes the message header
func ReadHeader(r io.Reader) (Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, err
	}

	h := Header{
		OpCode: OpCode(buf[0]),
		Length: binary.BigEndian.Uint32(buf[1:]),
	}
	if h.Length > MaxFrameSize {
		return Header{}, ErrFrameTooLarge
	}
	return h, nil
}

// ReadBody reads exactly length bytes and decodes them into v.
// A nil v discards the body.
func ReadBody(r io.Reader, length uint32, v interface{}) error {
	if length > MaxFrameSize {
		return ErrFrameTooLarge
	}
	if v == nil {
		_, err := io.CopyN(io.Discard, r, int64(length))
		return err
	}
	if length == 0 {
		return nil
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	dec := msgpack.NewDecoder(bytes.NewReader(buf))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}
