package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/SkynetNext/gift-recorder/internal/buffer"
)

const (
	// HeaderSize is the size of the frame header (12 bytes)
	HeaderSize = 4 + 4 + 2 + 2

	// lengthOverhead is the part of the header counted by the length field
	// (second length copy + message type + reserved)
	lengthOverhead = 4 + 2 + 2

	// MessageTypeClient marks frames sent by the client
	MessageTypeClient uint16 = 689

	// MessageTypeServer marks frames sent by the barrage server
	MessageTypeServer uint16 = 690
)

// Frame Header Structure (12 bytes, Little Endian):
//
//	Offset  Size    Type      Description
//	0-3     4       uint32    length - 8 + payload length
//	4-7     4       uint32    length (duplicate of bytes 0-3)
//	8-9     2       uint16    messageType - 689 client->server, 690 server->client
//	10-11   2       uint16    reserved - always 0
//
// Full frame:
//	[Header (12 bytes)] + [SST payload, NUL terminated (length-8 bytes)]
//
// The length field does not count its own 4 bytes, so a frame occupies
// 4 + length bytes on the wire.

var (
	// ErrDecode is returned when a frame or SST payload cannot be decoded.
	// It is never fatal for the session: the offending frame is dropped.
	ErrDecode = errors.New("protocol decode error")

	// ErrMessageTooLarge is returned when a declared frame size exceeds the maximum allowed
	ErrMessageTooLarge = errors.New("message size exceeds maximum allowed")

	// ErrFrameLength is returned when a declared frame length is shorter than the header
	ErrFrameLength = errors.New("invalid frame length")
)

// Frame is one length-prefixed unit of the wire protocol
type Frame struct {
	Length      uint32 // Header length field: 8 + len(Payload)
	Length2     uint32 // Duplicate length field as received
	MessageType uint16
	Reserved    uint16
	Payload     []byte // SST text including the trailing NUL
}

// TotalLength returns the number of bytes the frame occupies on the wire
func (f *Frame) TotalLength() int {
	return HeaderSize + len(f.Payload)
}

// IsServerMessage reports whether the frame carries a server protocol payload
func (f *Frame) IsServerMessage() bool {
	return f.MessageType == MessageTypeServer
}

// Record decodes the frame payload.
// Only the first length field is authoritative; the copy is not checked.
func (f *Frame) Record() (Record, error) {
	return UnmarshalSST(f.Payload)
}

// Encode builds a complete client frame for the record
func Encode(r Record) []byte {
	return EncodeWithType(r, MessageTypeClient)
}

// EncodeWithType builds a complete frame with an explicit message type.
// Servers and test fixtures use MessageTypeServer.
func EncodeWithType(r Record, messageType uint16) []byte {
	payload := MarshalSST(r)
	length := uint32(lengthOverhead + len(payload))

	buf := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], length)
	binary.LittleEndian.PutUint32(buf[4:8], length)
	binary.LittleEndian.PutUint16(buf[8:10], messageType)
	binary.LittleEndian.PutUint16(buf[10:12], 0)
	copy(buf[HeaderSize:], payload)
	return buf
}

// ParseHeader parses a frame header (12 bytes, Little Endian)
func ParseHeader(b []byte) (*Frame, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: header needs %d bytes, got %d", ErrDecode, HeaderSize, len(b))
	}
	return &Frame{
		Length:      binary.LittleEndian.Uint32(b[0:4]),
		Length2:     binary.LittleEndian.Uint32(b[4:8]),
		MessageType: binary.LittleEndian.Uint16(b[8:10]),
		Reserved:    binary.LittleEndian.Uint16(b[10:12]),
	}, nil
}

// Decode decodes a complete frame held in memory into its record.
// The declared length must not exceed the bytes available.
func Decode(frame []byte) (Record, error) {
	f, err := ParseHeader(frame)
	if err != nil {
		return nil, err
	}
	if f.Length < lengthOverhead {
		return nil, fmt.Errorf("%w: declared length %d", ErrDecode, f.Length)
	}
	end := 4 + int(f.Length)
	if end > len(frame) {
		return nil, fmt.Errorf("%w: declared length %d exceeds %d available bytes", ErrDecode, f.Length, len(frame)-4)
	}
	f.Payload = frame[HeaderSize:end]
	return f.Record()
}

// ReadFrame reads one complete frame from r.
// Security: validates the declared size to prevent unbounded allocation.
// A length error leaves the stream desynchronized, so callers must stop reading.
func ReadFrame(r io.Reader, maxMessageSize int) (*Frame, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	f, _ := ParseHeader(header[:])

	if f.Length < lengthOverhead {
		return nil, fmt.Errorf("%w: %d", ErrFrameLength, f.Length)
	}
	payloadLen := int(f.Length) - lengthOverhead
	if maxMessageSize > 0 && payloadLen > maxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes (max: %d)", ErrMessageTooLarge, payloadLen, maxMessageSize)
	}
	if payloadLen == 0 {
		return f, nil
	}

	// Read into a pooled buffer, then copy out so the pool slot is released immediately
	var data []byte
	if payloadLen <= buffer.Size {
		pooled := buffer.Get()
		defer buffer.Put(pooled)
		data = pooled[:payloadLen]
	} else {
		data = make([]byte, payloadLen)
	}
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	f.Payload = append([]byte(nil), data...)
	return f, nil
}

// WriteRecord encodes the record as a client frame and writes it in one call
func WriteRecord(w io.Writer, r Record) error {
	_, err := w.Write(Encode(r))
	return err
}
