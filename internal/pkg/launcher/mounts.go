package launcher

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// bindFlags is the flag set used for every recursive bind mount
// performed by the launcher: MS_BIND|MS_REC mirrors `mount --rbind`.
const bindFlags = unix.MS_BIND | unix.MS_REC

// mountRecursiveBind bind-mounts src at dst, recursively, the idiom
// `/dev` and `/sys` use when devprocsys is requested (§4.6 step 4).
func mountRecursiveBind(src, dst string) error {
	return unix.Mount(src, dst, "", bindFlags, "")
}

// mountDev recursive-binds the host's /dev under newRoot.
func mountDev(newRoot string) error {
	if err := mountRecursiveBind("/dev", newRoot+"/dev"); err != nil {
		return errors.Wrap(err, "bind-mounting /dev")
	}
	return nil
}

// mountSys recursive-binds the host's /sys under newRoot.
func mountSys(newRoot string) error {
	if err := mountRecursiveBind("/sys", newRoot+"/sys"); err != nil {
		return errors.Wrap(err, "bind-mounting /sys")
	}
	return nil
}

// applyBindMounts performs every user-requested -m/-M bind (§6), all as
// plain recursive binds; the -M/Mapped distinction only changes how the
// FUSE front-end's path table treats reads under the target later, not
// how the mount itself is performed.
func applyBindMounts(newRoot string, binds []BindMount) error {
	for _, b := range binds {
		dst := newRoot + b.Target
		if err := mountRecursiveBind(b.Source, dst); err != nil {
			return errors.Wrapf(err, "bind-mounting %s at %s", b.Source, b.Target)
		}
	}
	return nil
}

// mountProcRetry mounts procfs at target, retrying past the transient
// EINVAL the kernel sometimes returns immediately after a PID namespace
// is created (§4.6 "Mount retry policy": up to 3 attempts, 50ms delay).
func mountProcRetry(target string) error {
	op := func() error {
		err := unix.Mount("proc", target, "proc", unix.MS_NOSUID|unix.MS_NODEV|unix.MS_NOEXEC, "")
		if err != nil && errors.Is(err, unix.EINVAL) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(50*time.Millisecond), 2)
	if err := backoff.Retry(op, b); err != nil {
		return errors.Wrap(err, "mounting /proc")
	}
	return nil
}

// mountDevPts mounts a fresh devpts instance at target (§4.6 step 5).
// withGid5 selects `gid=5` (the conventional `tty` group), used only
// when the gid mapping table actually maps inner gid 5, matching the
// spec's "iff a gid mapping for 5 exists" condition.
func mountDevPts(target string, withGid5 bool) error {
	options := "newinstance,ptmxmode=0666,mode=0620"
	if withGid5 {
		options += ",gid=5"
	}
	err := unix.Mount("devpts", target, "devpts", unix.MS_NOSUID|unix.MS_NOEXEC, options)
	if err != nil {
		return errors.Wrap(err, "mounting devpts")
	}
	return unix.Mount(target+"/ptmx", "/dev/ptmx", "", unix.MS_BIND, "")
}
