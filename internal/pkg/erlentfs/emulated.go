package erlentfs

import (
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/erlentgo/uchroot/internal/pkg/protocol"
)

// processEmulated performs req's operation-specific post-processing for
// an Emulated path (§4.4). The type switch plays the role of the
// dynamic_cast chain this logic is grounded on: each arm owns its own
// pre/post sidecar bookkeeping around the underlying syscall.
func (p *Processor) processEmulated(req protocol.Request) *protocol.Reply {
	switch r := req.(type) {
	case *protocol.ChownRequest:
		return p.emuChown(r.Path(), r.GetUID(), r.GetGID())

	case *protocol.ChmodRequest:
		return p.emuChmod(r.Path(), r.GetMode())

	case *protocol.CreatRequest:
		origMode := r.GetMode()
		r.SetMode(fileMode)
		reply := r.PerformLocally()
		if reply.Result == 0 {
			p.emuCreate(reply, r.Path(), false, origMode, uint32(r.GetUID()), uint32(r.GetGID()))
		}
		return reply

	case *protocol.MkdirRequest:
		origMode := r.GetMode()
		r.SetMode(dirMode)
		reply := r.PerformLocally()
		if reply.Result == 0 {
			p.emuCreate(reply, r.Path(), true, origMode, uint32(r.GetUID()), uint32(r.GetGID()))
		}
		return reply

	case *protocol.MknodRequest:
		origMode := r.GetMode()
		r.SetMode((origMode &^ AttrMask) | fileMode)
		reply := r.PerformLocally()
		if reply.Result == 0 {
			p.emuCreate(reply, r.Path(), false, origMode, uint32(r.GetUID()), uint32(r.GetGID()))
		}
		return reply

	case *protocol.SymlinkRequest:
		reply := r.PerformLocally()
		if reply.Result == 0 {
			const symlinkMode = unix.S_IFLNK | unix.S_IRWXU | unix.S_IRWXG | unix.S_IRWXO
			p.emuCreate(reply, r.Path(), false, symlinkMode, uint32(r.GetUID()), uint32(r.GetGID()))
		}
		return reply

	case *protocol.GetattrRequest:
		reply := r.PerformLocally()
		if reply.Result == 0 {
			p.emuGetattr(reply, r.Path())
		}
		return reply

	case *protocol.ReaddirRequest:
		reply := r.PerformLocally()
		if reply.Result == 0 {
			reply.Names = filterEmuNames(reply.Names)
		}
		return reply

	case *protocol.UnlinkRequest:
		reply := r.PerformLocally()
		if reply.Result == 0 {
			unix.Unlink(attrsFileName(r.Path(), false))
		}
		return reply

	case *protocol.RmdirRequest:
		return p.emuRmdir(r.Path())

	case *protocol.LinkRequest:
		reply := r.PerformLocally()
		if reply.Result == 0 {
			if err := unix.Link(attrsFileName(r.Path2(), false), attrsFileName(r.Path(), false)); err != nil {
				reply.Result = -int32(unix.EIO)
			}
		}
		return reply

	case *protocol.RenameRequest:
		reply := r.PerformLocally()
		if reply.Result == 0 {
			if isDir, err := dirFile(r.Path()); err == nil && !isDir {
				unix.Rename(attrsFileName(r.Path2(), false), attrsFileName(r.Path(), false))
			}
		}
		return reply

	default:
		return req.PerformLocally()
	}
}

// emuChown reads the target's sidecar, updates uid and/or gid (ignoring
// the -1 "no change" sentinels), and writes it back.
func (p *Processor) emuChown(pathname string, uid, gid int64) *protocol.Reply {
	isDir, err := dirFile(pathname)
	if err != nil {
		return &protocol.Reply{Result: -int32(unix.EIO)}
	}

	a, err := readAttrsForChown(pathname, isDir, p.chownMissPolicy)
	if err != nil {
		return &protocol.Reply{Result: errnoOf(err)}
	}
	if uid != -1 {
		a.UID = uint32(uid)
	}
	if gid != -1 {
		a.GID = uint32(gid)
	}
	if err := writeAttrs(pathname, isDir, a); err != nil {
		return &protocol.Reply{Result: -int32(unix.EIO)}
	}
	return &protocol.Reply{Result: 0}
}

// readAttrsForChown honors the configurable chown sidecar-miss policy
// (§9 open question): PolicyChownCreatesSidecar reuses readAttrs's own
// lstat-derived defaults; PolicyChownRequiresSidecar demands the sidecar
// already exist.
func readAttrsForChown(pathname string, isDir bool, policy ChownMissPolicy) (Attrs, error) {
	if policy == PolicyChownRequiresSidecar {
		if !sidecarExists(pathname, isDir) {
			return Attrs{}, unix.ENOENT
		}
	}
	return readAttrs(pathname, isDir)
}

func sidecarExists(pathname string, isDir bool) bool {
	var st unix.Stat_t
	return unix.Lstat(attrsFileName(pathname, isDir), &st) == nil
}

// emuChmod overwrites the sidecar's mode with the attribute-mask portion
// of mode.
func (p *Processor) emuChmod(pathname string, mode uint32) *protocol.Reply {
	isDir, err := dirFile(pathname)
	if err != nil {
		return &protocol.Reply{Result: -int32(unix.EIO)}
	}
	a, err := readAttrs(pathname, isDir)
	if err != nil {
		return &protocol.Reply{Result: errnoOf(err)}
	}
	a.Mode = mode & AttrMask
	if err := writeAttrs(pathname, isDir, a); err != nil {
		return &protocol.Reply{Result: -int32(unix.EIO)}
	}
	return &protocol.Reply{Result: 0}
}

// emuCreate writes the sidecar for a newly created entry at pathname:
// uid is the creator's own (already outer-mapped) id, mode is the
// caller's originally requested mode (masked to attribute bits), and gid
// is the parent directory's gid when the parent's sidecar carries the
// setgid bit, otherwise the creator's own gid.
func (p *Processor) emuCreate(reply *protocol.Reply, pathname string, isDir bool, mode uint32, uid, gid uint32) {
	parentDir := filepath.Dir(pathname)
	parentAttrs, err := readAttrs(parentDir, true)
	if err != nil {
		reply.Result = -int32(unix.EIO)
		return
	}

	a := Attrs{UID: uid, Mode: mode & AttrMask}
	if parentAttrs.Mode&unix.S_ISGID != 0 {
		a.GID = parentAttrs.GID
	} else {
		a.GID = gid
	}
	if err := writeAttrs(pathname, isDir, a); err != nil {
		reply.Result = -int32(unix.EIO)
	}
}

// emuGetattr substitutes the sidecar-forged uid/gid/mode-bits into an
// already-successful lstat reply (outer ids translated back to inner).
// If the sidecar read fails despite the default fallback, uid and gid
// are zeroed and group/other permission bits are cleared.
func (p *Processor) emuGetattr(reply *protocol.Reply, pathname string) {
	isDir := reply.Stat.Mode&unix.S_IFMT == unix.S_IFDIR
	a, err := readAttrs(pathname, isDir)
	if err != nil {
		reply.Stat.UID = 0
		reply.Stat.GID = 0
		reply.Stat.Mode &^= unix.S_IRWXG | unix.S_IRWXO
		return
	}
	reply.Stat.UID = p.uids.LookupInverse(a.UID)
	reply.Stat.GID = p.gids.LookupInverse(a.GID)
	reply.Stat.Mode = (reply.Stat.Mode &^ AttrMask) | (a.Mode & AttrMask)
	if isDir {
		reply.Stat.Size = countNonSidecarEntries(pathname)
	}
}

// countNonSidecarEntries recomputes a directory's visible size as the
// count of entries that are not themselves sidecars.
func countNonSidecarEntries(pathname string) int64 {
	req := &protocol.ReaddirRequest{}
	req.SetPath(pathname)
	reply := req.PerformLocally()
	if reply.Result != 0 {
		return 0
	}
	return int64(len(filterEmuNames(reply.Names)))
}

// emuRmdir unlinks the directory's sidecar before attempting rmdir
// (sidecars would otherwise block removal of an "empty" directory), and
// restores it if rmdir fails so the directory's attributes are not lost.
func (p *Processor) emuRmdir(pathname string) *protocol.Reply {
	a, readErr := readAttrs(pathname, true)
	unix.Unlink(attrsFileName(pathname, true))

	req := &protocol.RmdirRequest{}
	req.SetPath(pathname)
	reply := req.PerformLocally()

	if reply.Result != 0 && readErr == nil {
		writeAttrs(pathname, true, a)
	}
	return reply
}

// filterEmuNames drops sidecar names from a directory listing.
func filterEmuNames(names []string) []string {
	out := names[:0]
	for _, n := range names {
		if !isEmuName(n) {
			out = append(out, n)
		}
	}
	return out
}

func errnoOf(err error) int32 {
	if errno, ok := err.(unix.Errno); ok {
		return -int32(errno)
	}
	return -int32(unix.EIO)
}
