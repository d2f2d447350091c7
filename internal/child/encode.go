package child

import "github.com/JevatterTod/spawnd/internal/wire"

// EncodeExec serializes the id, name and the representable subset of
// p back into an EXEC sub-command stream, for round-trip testing of
// the decoder. File descriptor fields (stdio/control) are not
// representable without a live fd and are intentionally omitted.
func EncodeExec(id int32, name string, p *PreparedChild) []byte {
	w := wire.NewWriter()
	w.Byte(byte(wire.ReqExec))
	w.Int32(id)
	w.String(name)

	for _, a := range p.Argv {
		w.Byte(byte(wire.SubArg))
		w.String(a)
	}
	for _, e := range p.Env {
		w.Byte(byte(wire.SubSetenv))
		w.String(e)
	}
	if p.Umask >= 0 {
		w.Byte(byte(wire.SubUmask))
		w.Uint16(uint16(p.Umask))
	}
	if p.StderrPath != "" {
		w.Byte(byte(wire.SubStderrPath))
		w.String(p.StderrPath)
	}
	if p.TTY {
		w.Byte(byte(wire.SubTTY))
	}
	if p.Refence != "" {
		w.Byte(byte(wire.SubRefence))
		w.String(p.Refence)
	}
	if p.Namespaces.EnableUser {
		w.Byte(byte(wire.SubUserNS))
	}
	if p.Namespaces.EnablePID {
		w.Byte(byte(wire.SubPidNS))
	}
	if p.Namespaces.EnableNetwork {
		w.Byte(byte(wire.SubNetworkNS))
	}
	if p.Namespaces.EnableIPC {
		w.Byte(byte(wire.SubIPCNS))
	}
	if p.Namespaces.EnableMount {
		w.Byte(byte(wire.SubMountNS))
	}
	if p.Namespaces.NetworkNamespaceName != "" {
		w.Byte(byte(wire.SubNetworkNSName))
		w.String(p.Namespaces.NetworkNamespaceName)
	}
	if p.Namespaces.MountProc {
		w.Byte(byte(wire.SubMountProc))
	}
	if p.Namespaces.WritableProc {
		w.Byte(byte(wire.SubWritableProc))
	}
	if p.Namespaces.PivotRoot != "" {
		w.Byte(byte(wire.SubPivotRoot))
		w.String(p.Namespaces.PivotRoot)
	}
	if p.Namespaces.MountHomeTarget != "" {
		w.Byte(byte(wire.SubMountHome))
		w.String(p.Namespaces.MountHomeSource)
		w.String(p.Namespaces.MountHomeTarget)
	}
	if p.Namespaces.MountTmpTmpfs != nil {
		w.Byte(byte(wire.SubMountTmpTmpfs))
		w.String(*p.Namespaces.MountTmpTmpfs)
	}
	if p.Namespaces.MountTmpfs != nil {
		w.Byte(byte(wire.SubMountTmpfs))
		w.String(*p.Namespaces.MountTmpfs)
	}
	for _, bm := range p.Namespaces.BindMounts {
		w.Byte(byte(wire.SubBindMount))
		w.String(bm.Source)
		w.String(bm.Target)
		if bm.Writable {
			w.Byte(1)
		} else {
			w.Byte(0)
		}
		if bm.Exec {
			w.Byte(1)
		} else {
			w.Byte(0)
		}
	}
	if p.Namespaces.Hostname != "" {
		w.Byte(byte(wire.SubHostname))
		w.String(p.Namespaces.Hostname)
	}
	for idx, rl := range p.RLimits {
		if rl == nil {
			continue
		}
		w.Byte(byte(wire.SubRlimit))
		w.Byte(byte(idx))
		_ = w.Fixed(rl)
	}
	if p.Credential.Set {
		w.Byte(byte(wire.SubUidGid))
		w.Uint32(p.Credential.Uid)
		w.Uint32(p.Credential.Gid)
		w.Byte(byte(len(p.Credential.Groups)))
		for _, g := range p.Credential.Groups {
			w.Uint32(g)
		}
	}
	if p.SchedIdle {
		w.Byte(byte(wire.SubSchedIdle))
	}
	if p.IOPrioIdle {
		w.Byte(byte(wire.SubIOPrioIdle))
	}
	if p.ForbidUserNS {
		w.Byte(byte(wire.SubForbidUserNS))
	}
	if p.ForbidMulticast {
		w.Byte(byte(wire.SubForbidMulticast))
	}
	if p.ForbidBind {
		w.Byte(byte(wire.SubForbidBind))
	}
	if p.NoNewPrivs {
		w.Byte(byte(wire.SubNoNewPrivs))
	}
	if p.Cgroup.Name != "" {
		w.Byte(byte(wire.SubCgroup))
		w.String(p.Cgroup.Name)
	}
	for _, s := range p.Cgroup.Settings {
		w.Byte(byte(wire.SubCgroupSet))
		w.String(s.Key)
		w.String(s.Value)
	}
	if p.Priority != 0 {
		w.Byte(byte(wire.SubPriority))
		w.Int32(p.Priority)
	}
	if p.Chroot != "" {
		w.Byte(byte(wire.SubChroot))
		w.String(p.Chroot)
	}
	if p.Chdir != "" {
		w.Byte(byte(wire.SubChdir))
		w.String(p.Chdir)
	}
	if p.HookInfo != "" {
		w.Byte(byte(wire.SubHookInfo))
		w.String(p.HookInfo)
	}
	return w.Bytes()
}
