package wire

import (
	"bytes"
	"encoding/binary"
)

// Writer builds a single datagram payload (request or response).
type Writer struct {
	buf bytes.Buffer
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Byte appends a single octet.
func (w *Writer) Byte(v byte) {
	w.buf.WriteByte(v)
}

// Uint16 appends a fixed-width little-endian u16.
func (w *Writer) Uint16(v uint16) {
	var b [2]byte
	byteOrder.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

// Int32 appends a fixed-width little-endian signed 32-bit integer.
func (w *Writer) Int32(v int32) {
	var b [4]byte
	byteOrder.PutUint32(b[:], uint32(v))
	w.buf.Write(b[:])
}

// Uint32 appends a fixed-width little-endian u32.
func (w *Writer) Uint32(v uint32) {
	var b [4]byte
	byteOrder.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

// Int64 appends a fixed-width little-endian signed 64-bit integer.
func (w *Writer) Int64(v int64) {
	var b [8]byte
	byteOrder.PutUint64(b[:], uint64(v))
	w.buf.Write(b[:])
}

// String appends s followed by its NUL terminator.
func (w *Writer) String(s string) {
	w.buf.WriteString(s)
	w.buf.WriteByte(0)
}

// Fixed appends the raw bit-pattern of v.
func (w *Writer) Fixed(v interface{}) error {
	return binary.Write(&w.buf, byteOrder, v)
}

// Bytes returns the accumulated payload.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// EncodeExit builds an EXIT{id, status} response frame.
func EncodeExit(id int32, status uint32) []byte {
	w := NewWriter()
	w.Byte(byte(RespExit))
	w.Int32(id)
	w.Uint32(status)
	return w.Bytes()
}

// EncodeCgroupsAvailable builds the single-byte CGROUPS_AVAILABLE frame.
func EncodeCgroupsAvailable() []byte {
	return []byte{byte(RespCgroupsAvailable)}
}
