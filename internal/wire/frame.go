// Package wire implements the spawn server's control protocol: a
// framed, length-free datagram encoding for commands and responses
// exchanged over a UNIX SOCK_SEQPACKET or SOCK_DGRAM control socket.
//
// Integers are encoded little-endian. The wire is process-local IPC
// and host-endian would also work, but little-endian is chosen and
// held explicitly so the encoding is stable regardless of which
// architecture happens to run the server.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MaxPayload is the largest single datagram the codec will read or write.
const MaxPayload = 65536

// MaxRequestFds is the largest number of ancillary file descriptors a
// request datagram (client -> server) may carry.
const MaxRequestFds = 32

// MaxResponseFds is the largest number of ancillary file descriptors a
// response datagram (server -> client) may carry.
const MaxResponseFds = 8

// RequestTag identifies a top-level command sent by a client.
type RequestTag byte

const (
	ReqConnect RequestTag = 1
	ReqExec    RequestTag = 2
	ReqKill    RequestTag = 3
)

// ResponseTag identifies a top-level frame sent by the server.
type ResponseTag byte

const (
	RespExit              ResponseTag = 1
	RespCgroupsAvailable  ResponseTag = 2
)

// SubTag identifies one field-setting sub-command within an EXEC payload.
type SubTag byte

const (
	SubArg            SubTag = 1
	SubSetenv         SubTag = 2
	SubUmask          SubTag = 3
	SubStdin          SubTag = 4
	SubStdout         SubTag = 5
	SubStderr         SubTag = 6
	SubControl        SubTag = 7
	SubStderrPath     SubTag = 8
	SubTTY            SubTag = 9
	SubRefence        SubTag = 10
	SubUserNS         SubTag = 11
	SubPidNS          SubTag = 12
	SubNetworkNS      SubTag = 13
	SubIPCNS          SubTag = 14
	SubMountNS        SubTag = 15
	SubNetworkNSName  SubTag = 16
	SubMountProc      SubTag = 17
	SubWritableProc   SubTag = 18
	SubPivotRoot      SubTag = 19
	SubMountHome      SubTag = 20
	SubMountTmpTmpfs  SubTag = 21
	SubMountTmpfs     SubTag = 22
	SubBindMount      SubTag = 23
	SubHostname       SubTag = 24
	SubRlimit         SubTag = 25
	SubUidGid         SubTag = 26
	SubSchedIdle      SubTag = 27
	SubIOPrioIdle     SubTag = 28
	SubForbidUserNS   SubTag = 29
	SubForbidMulticast SubTag = 30
	SubForbidBind     SubTag = 31
	SubNoNewPrivs     SubTag = 32
	SubCgroup         SubTag = 33
	SubCgroupSet      SubTag = 34
	SubPriority       SubTag = 35
	SubChroot         SubTag = 36
	SubChdir          SubTag = 37
	SubHookInfo       SubTag = 38
)

// ErrMalformedPayload is returned by the decoder for any structurally
// invalid datagram: an unknown sub-tag, a read past the end of the
// payload, an overlong count field, or a request for an fd when none
// remain in the accompanying ReceivedFdList. The connection that
// produced it stays open; only the offending datagram is dropped.
var ErrMalformedPayload = errors.New("wire: malformed payload")

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedPayload, fmt.Sprintf(format, args...))
}

// byteOrder is the single place the wire's endianness choice is named.
var byteOrder = binary.LittleEndian
