//go:build !linux

package wire

import "syscall"

func closeFd(fd int) {
	_ = syscall.Close(fd)
}
