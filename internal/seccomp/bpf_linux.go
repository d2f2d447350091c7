//go:build linux

package seccomp

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// cloneNewUser mirrors unix.CLONE_NEWUSER; named locally so the
// argument-conditional rules in filter.go read without a second
// import alias.
const cloneNewUser = unix.CLONE_NEWUSER

// sockFprogFromBPF reinterprets the raw bytes libseccomp exported
// (an array of eight-byte "sock_filter" records) as a SockFprog
// ready for the SECCOMP_SET_MODE_FILTER syscall.
func sockFprogFromBPF(bin []byte) (*syscall.SockFprog, error) {
	const recordSize = 8
	if len(bin) == 0 || len(bin)%recordSize != 0 {
		return nil, fmt.Errorf("seccomp: exported BPF has unexpected length %d", len(bin))
	}
	return &syscall.SockFprog{
		Len:    uint16(len(bin) / recordSize),
		Filter: (*syscall.SockFilter)(unsafe.Pointer(&bin[0])),
	}, nil
}
