package child

import (
	"fmt"

	"github.com/JevatterTod/spawnd/internal/wire"
)

// ExecRequest is the decoded EXEC command header plus the fully built
// PreparedChild that follows it in the datagram.
type ExecRequest struct {
	ID      int32
	Name    string
	Child   *PreparedChild
}

// DecodeExec reads the (id, name) header and then the ordered
// sub-command stream that builds a PreparedChild, consuming fds from
// fds as STDIN/STDOUT/STDERR/CONTROL sub-commands are encountered. On
// any error the partially built PreparedChild's owned fds are closed
// before returning, and fds itself is left for the caller to drain
// (CloseRemaining) since fds not yet reached by a sub-command are not
// this function's to decide about.
func DecodeExec(r *wire.Reader, fds *wire.ReceivedFdList) (*ExecRequest, error) {
	id, err := r.Int32()
	if err != nil {
		return nil, err
	}
	name, err := r.String()
	if err != nil {
		return nil, err
	}

	p := New()
	for r.Remaining() > 0 {
		tagByte, err := r.Byte()
		if err != nil {
			p.CloseOwnedFds()
			return nil, err
		}
		if err := applySubTag(p, wire.SubTag(tagByte), r, fds); err != nil {
			p.CloseOwnedFds()
			return nil, err
		}
	}
	return &ExecRequest{ID: id, Name: name, Child: p}, nil
}

func applySubTag(p *PreparedChild, tag wire.SubTag, r *wire.Reader, fds *wire.ReceivedFdList) error {
	switch tag {
	case wire.SubArg:
		s, err := r.String()
		if err != nil {
			return err
		}
		p.Argv = append(p.Argv, s)

	case wire.SubSetenv:
		s, err := r.String()
		if err != nil {
			return err
		}
		p.Env = append(p.Env, s)

	case wire.SubUmask:
		v, err := r.Uint16()
		if err != nil {
			return err
		}
		p.Umask = int32(v)

	case wire.SubStdin:
		fd, err := takeFd(fds)
		if err != nil {
			return err
		}
		p.Stdin = NewOwnedFD(fd)

	case wire.SubStdout:
		fd, err := takeFd(fds)
		if err != nil {
			return err
		}
		p.Stdout = NewOwnedFD(fd)

	case wire.SubStderr:
		fd, err := takeFd(fds)
		if err != nil {
			return err
		}
		p.Stderr = NewOwnedFD(fd)

	case wire.SubControl:
		fd, err := takeFd(fds)
		if err != nil {
			return err
		}
		p.Control = NewOwnedFD(fd)

	case wire.SubStderrPath:
		s, err := r.String()
		if err != nil {
			return err
		}
		p.StderrPath = s

	case wire.SubTTY:
		p.TTY = true

	case wire.SubRefence:
		s, err := r.String()
		if err != nil {
			return err
		}
		p.Refence = s

	case wire.SubUserNS:
		p.Namespaces.EnableUser = true
	case wire.SubPidNS:
		p.Namespaces.EnablePID = true
	case wire.SubNetworkNS:
		p.Namespaces.EnableNetwork = true
	case wire.SubIPCNS:
		p.Namespaces.EnableIPC = true
	case wire.SubMountNS:
		p.Namespaces.EnableMount = true

	case wire.SubNetworkNSName:
		s, err := r.String()
		if err != nil {
			return err
		}
		p.Namespaces.NetworkNamespaceName = s

	case wire.SubMountProc:
		p.Namespaces.MountProc = true
	case wire.SubWritableProc:
		p.Namespaces.WritableProc = true

	case wire.SubPivotRoot:
		s, err := r.String()
		if err != nil {
			return err
		}
		p.Namespaces.PivotRoot = s

	case wire.SubMountHome:
		src, err := r.String()
		if err != nil {
			return err
		}
		dst, err := r.String()
		if err != nil {
			return err
		}
		p.Namespaces.MountHomeSource = src
		p.Namespaces.MountHomeTarget = dst

	case wire.SubMountTmpTmpfs:
		s, err := r.String()
		if err != nil {
			return err
		}
		p.Namespaces.MountTmpTmpfs = &s

	case wire.SubMountTmpfs:
		s, err := r.String()
		if err != nil {
			return err
		}
		p.Namespaces.MountTmpfs = &s

	case wire.SubBindMount:
		src, err := r.String()
		if err != nil {
			return err
		}
		dst, err := r.String()
		if err != nil {
			return err
		}
		writable, err := r.Byte()
		if err != nil {
			return err
		}
		execFlag, err := r.Byte()
		if err != nil {
			return err
		}
		p.Namespaces.BindMounts = append(p.Namespaces.BindMounts, BindMount{
			Source:   src,
			Target:   dst,
			Writable: writable != 0,
			Exec:     execFlag != 0,
		})

	case wire.SubHostname:
		s, err := r.String()
		if err != nil {
			return err
		}
		p.Namespaces.Hostname = s

	case wire.SubRlimit:
		idx, err := r.Byte()
		if err != nil {
			return err
		}
		if int(idx) >= RlimitCount {
			return fmt.Errorf("%w: rlimit index %d out of range", wire.ErrMalformedPayload, idx)
		}
		var rec ResourceLimit
		if err := r.Fixed(&rec); err != nil {
			return err
		}
		p.RLimits[idx] = &rec

	case wire.SubUidGid:
		uid, err := r.Uint32()
		if err != nil {
			return err
		}
		gid, err := r.Uint32()
		if err != nil {
			return err
		}
		n, err := r.Byte()
		if err != nil {
			return err
		}
		groups := make([]uint32, 0, n)
		for i := byte(0); i < n; i++ {
			g, err := r.Uint32()
			if err != nil {
				return err
			}
			groups = append(groups, g)
		}
		p.Credential = UidGid{Set: true, Uid: uid, Gid: gid, Groups: groups}

	case wire.SubSchedIdle:
		p.SchedIdle = true
	case wire.SubIOPrioIdle:
		p.IOPrioIdle = true
	case wire.SubForbidUserNS:
		p.ForbidUserNS = true
	case wire.SubForbidMulticast:
		p.ForbidMulticast = true
	case wire.SubForbidBind:
		p.ForbidBind = true
	case wire.SubNoNewPrivs:
		p.NoNewPrivs = true

	case wire.SubCgroup:
		s, err := r.String()
		if err != nil {
			return err
		}
		p.Cgroup.Name = s

	case wire.SubCgroupSet:
		k, err := r.String()
		if err != nil {
			return err
		}
		v, err := r.String()
		if err != nil {
			return err
		}
		p.Cgroup.Settings = append(p.Cgroup.Settings, CgroupSetting{Key: k, Value: v})

	case wire.SubPriority:
		v, err := r.Int32()
		if err != nil {
			return err
		}
		p.Priority = v

	case wire.SubChroot:
		s, err := r.String()
		if err != nil {
			return err
		}
		p.Chroot = s

	case wire.SubChdir:
		s, err := r.String()
		if err != nil {
			return err
		}
		p.Chdir = s

	case wire.SubHookInfo:
		s, err := r.String()
		if err != nil {
			return err
		}
		p.HookInfo = s

	default:
		return fmt.Errorf("%w: unknown sub-tag %d", wire.ErrMalformedPayload, tag)
	}
	return nil
}

func takeFd(fds *wire.ReceivedFdList) (int, error) {
	fd, ok := fds.Take()
	if !ok {
		return 0, fmt.Errorf("%w: sub-command requires an attached fd but none remain", wire.ErrMalformedPayload)
	}
	return fd, nil
}
