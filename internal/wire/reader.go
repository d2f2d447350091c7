package wire

import (
	"bytes"
	"encoding/binary"
)

// ReceivedFdList is the sequence of file descriptors that rode in on a
// datagram's ancillary SCM_RIGHTS data. Fds are consumed front-to-back
// by sub-commands that need one (STDIN, STDOUT, STDERR, CONTROL). Any
// fd never consumed is closed by CloseRemaining, which the connection
// calls after every datagram, so a decoding failure partway through a
// payload never leaks a descriptor.
type ReceivedFdList struct {
	fds []int
}

// NewReceivedFdList takes ownership of fds.
func NewReceivedFdList(fds []int) *ReceivedFdList {
	return &ReceivedFdList{fds: fds}
}

// Take pops the next fd, or returns ok=false if none remain.
func (l *ReceivedFdList) Take() (fd int, ok bool) {
	if len(l.fds) == 0 {
		return 0, false
	}
	fd = l.fds[0]
	l.fds = l.fds[1:]
	return fd, true
}

// Len reports how many fds remain unconsumed.
func (l *ReceivedFdList) Len() int {
	return len(l.fds)
}

// CloseRemaining closes every fd still held and empties the list. Safe
// to call more than once.
func (l *ReceivedFdList) CloseRemaining() {
	for _, fd := range l.fds {
		closeFd(fd)
	}
	l.fds = nil
}

// Reader decodes a single datagram payload sequentially from the byte
// slice it wraps. String returns a copy of the bytes it reads.
type Reader struct {
	b   []byte
	off int
}

// NewReader wraps payload for sequential decoding.
func NewReader(payload []byte) *Reader {
	return &Reader{b: payload}
}

// Remaining reports the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.b) - r.off
}

// Byte reads a single octet.
func (r *Reader) Byte() (byte, error) {
	if r.off >= len(r.b) {
		return 0, malformed("truncated payload reading byte")
	}
	v := r.b[r.off]
	r.off++
	return v, nil
}

// Uint16 reads a fixed-width little-endian u16.
func (r *Reader) Uint16() (uint16, error) {
	if r.Remaining() < 2 {
		return 0, malformed("truncated payload reading uint16")
	}
	v := byteOrder.Uint16(r.b[r.off:])
	r.off += 2
	return v, nil
}

// Int32 reads a fixed-width little-endian signed 32-bit integer.
func (r *Reader) Int32() (int32, error) {
	if r.Remaining() < 4 {
		return 0, malformed("truncated payload reading int32")
	}
	v := int32(byteOrder.Uint32(r.b[r.off:]))
	r.off += 4
	return v, nil
}

// Uint32 reads a fixed-width little-endian u32.
func (r *Reader) Uint32() (uint32, error) {
	if r.Remaining() < 4 {
		return 0, malformed("truncated payload reading uint32")
	}
	v := byteOrder.Uint32(r.b[r.off:])
	r.off += 4
	return v, nil
}

// Int64 reads a fixed-width little-endian signed 64-bit integer.
func (r *Reader) Int64() (int64, error) {
	if r.Remaining() < 8 {
		return 0, malformed("truncated payload reading int64")
	}
	v := int64(byteOrder.Uint64(r.b[r.off:]))
	r.off += 8
	return v, nil
}

// String reads a NUL-terminated UTF-8 string, consuming the terminator.
func (r *Reader) String() (string, error) {
	idx := bytes.IndexByte(r.b[r.off:], 0)
	if idx < 0 {
		return "", malformed("unterminated string")
	}
	s := string(r.b[r.off : r.off+idx])
	r.off += idx + 1
	return s, nil
}

// Fixed reads exactly len(v) bytes into v (used for raw bit-pattern
// records such as rlimit values).
func (r *Reader) Fixed(v interface{}) error {
	size := binary.Size(v)
	if size < 0 {
		return malformed("unrepresentable fixed record")
	}
	if r.Remaining() < size {
		return malformed("truncated payload reading fixed record")
	}
	buf := bytes.NewReader(r.b[r.off : r.off+size])
	if err := binary.Read(buf, byteOrder, v); err != nil {
		return malformed("decoding fixed record: %v", err)
	}
	r.off += size
	return nil
}
