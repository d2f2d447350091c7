package wire

import "testing"

func TestReaderPrimitives(t *testing.T) {
	w := NewWriter()
	w.Byte(7)
	w.Uint16(0xBEEF)
	w.Int32(-1234)
	w.String("hello")

	r := NewReader(w.Bytes())

	b, err := r.Byte()
	if err != nil || b != 7 {
		t.Fatalf("Byte() = %v, %v", b, err)
	}
	u, err := r.Uint16()
	if err != nil || u != 0xBEEF {
		t.Fatalf("Uint16() = %v, %v", u, err)
	}
	i, err := r.Int32()
	if err != nil || i != -1234 {
		t.Fatalf("Int32() = %v, %v", i, err)
	}
	s, err := r.String()
	if err != nil || s != "hello" {
		t.Fatalf("String() = %q, %v", s, err)
	}
	if r.Remaining() != 0 {
		t.Fatalf("Remaining() = %d, want 0", r.Remaining())
	}
}

func TestReaderTruncated(t *testing.T) {
	r := NewReader([]byte{1, 2})
	if _, err := r.Uint32(); err == nil {
		t.Fatal("expected truncated-payload error")
	}
}

func TestReaderUnterminatedString(t *testing.T) {
	r := NewReader([]byte{'a', 'b', 'c'})
	if _, err := r.String(); err == nil {
		t.Fatal("expected unterminated-string error")
	}
}

func TestReceivedFdListTakeAndClose(t *testing.T) {
	l := NewReceivedFdList([]int{3, 4, 5})
	fd, ok := l.Take()
	if !ok || fd != 3 {
		t.Fatalf("Take() = %v, %v", fd, ok)
	}
	if l.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", l.Len())
	}
	l.CloseRemaining()
	if l.Len() != 0 {
		t.Fatalf("Len() after CloseRemaining = %d, want 0", l.Len())
	}
	if _, ok := l.Take(); ok {
		t.Fatal("Take() after CloseRemaining should fail")
	}
}
