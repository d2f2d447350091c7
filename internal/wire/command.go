package wire

// KillCommand is the decoded KILL{id, signo} request.
type KillCommand struct {
	ID    int32
	Signo int32
}

// DecodeKill reads a KILL payload (after the request tag byte has
// already been consumed by the caller).
func DecodeKill(r *Reader) (*KillCommand, error) {
	id, err := r.Int32()
	if err != nil {
		return nil, err
	}
	signo, err := r.Int32()
	if err != nil {
		return nil, err
	}
	return &KillCommand{ID: id, Signo: signo}, nil
}

// EncodeKill builds a KILL{id, signo} request frame, used by tests
// and by any in-process client exercising the protocol.
func EncodeKill(id, signo int32) []byte {
	w := NewWriter()
	w.Byte(byte(ReqKill))
	w.Int32(id)
	w.Int32(signo)
	return w.Bytes()
}
