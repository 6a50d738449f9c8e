package protocol

import (
	"os"

	"golang.org/x/sys/unix"
)

// errnoResult converts a syscall error into the reply's negated-errno
// convention, or 0 on success (§3 "reply result convention").
func errnoResult(err error) int32 {
	if err == nil {
		return 0
	}
	if errno, ok := err.(unix.Errno); ok {
		return -int32(errno)
	}
	return -int32(unix.EIO)
}

// Timespec mirrors unix.Timespec so that utimens can carry the
// UTIME_NOW/UTIME_OMIT sentinels through the protocol layer untouched;
// converting through time.Time would normalize those sentinel nanosecond
// values away.
type Timespec struct {
	Sec  int64
	Nsec int64
}

func (t Timespec) toUnix() unix.Timespec {
	return unix.Timespec{Sec: t.Sec, Nsec: t.Nsec}
}

// --- getattr ---

type GetattrRequest struct {
	pathMixin
}

func (r *GetattrRequest) Tag() Tag { return TagGetattr }

func (r *GetattrRequest) PerformLocally() *Reply {
	var st unix.Stat_t
	if err := unix.Lstat(r.PathName, &st); err != nil {
		return &Reply{Result: errnoResult(err)}
	}
	return &Reply{Result: 0, Stat: StatFromUnix(&st)}
}

// --- access ---

type AccessRequest struct {
	pathMixin
	valueMixin // Value holds the access mode mask
}

func (r *AccessRequest) Tag() Tag { return TagAccess }

func (r *AccessRequest) PerformLocally() *Reply {
	err := unix.Access(r.PathName, uint32(r.Value))
	return &Reply{Result: errnoResult(err)}
}

// --- readdir ---

type ReaddirRequest struct {
	pathMixin
}

func (r *ReaddirRequest) Tag() Tag { return TagReaddir }

func (r *ReaddirRequest) PerformLocally() *Reply {
	f, err := os.Open(r.PathName)
	if err != nil {
		return &Reply{Result: errnoResult(unwrapErrno(err))}
	}
	defer f.Close()
	names, err := f.Readdirnames(-1)
	if err != nil {
		return &Reply{Result: errnoResult(unwrapErrno(err))}
	}
	return &Reply{Result: 0, Names: names}
}

// unwrapErrno extracts the underlying unix.Errno from an *os.PathError,
// since os-package calls wrap syscall errors rather than returning them
// bare the way the golang.org/x/sys/unix calls below do.
func unwrapErrno(err error) error {
	if perr, ok := err.(*os.PathError); ok {
		return perr.Err
	}
	return err
}

// --- readlink ---

type ReadlinkRequest struct {
	pathMixin
}

func (r *ReadlinkRequest) Tag() Tag { return TagReadlink }

func (r *ReadlinkRequest) PerformLocally() *Reply {
	buf := make([]byte, unix.PathMax)
	n, err := unix.Readlink(r.PathName, buf)
	if err != nil {
		return &Reply{Result: errnoResult(err)}
	}
	return &Reply{Result: 0, Target: string(buf[:n])}
}

// --- read ---

type ReadRequest struct {
	pathMixin
	valueMixin // Value holds size
	Offset     int64
}

func (r *ReadRequest) Tag() Tag { return TagRead }

func (r *ReadRequest) PerformLocally() *Reply {
	fd, err := unix.Open(r.PathName, unix.O_RDONLY, 0)
	if err != nil {
		return &Reply{Result: errnoResult(err)}
	}
	defer unix.Close(fd)

	buf := make([]byte, r.Value)
	n, err := unix.Pread(fd, buf, r.Offset)
	if err != nil {
		return &Reply{Result: errnoResult(err)}
	}
	return &Reply{Result: int32(n), Data: buf[:n]}
}

// --- write ---

type WriteRequest struct {
	pathMixin
	Data   []byte
	Offset int64
}

func (r *WriteRequest) Tag() Tag { return TagWrite }

func (r *WriteRequest) PerformLocally() *Reply {
	fd, err := unix.Open(r.PathName, unix.O_WRONLY, 0)
	if err != nil {
		return &Reply{Result: errnoResult(err)}
	}
	defer unix.Close(fd)

	n, err := unix.Pwrite(fd, r.Data, r.Offset)
	if err != nil {
		return &Reply{Result: errnoResult(err)}
	}
	return &Reply{Result: int32(n)}
}

// --- open ---

// AllowedOpenFlagsMask is the safe subset of open(2) flags the
// attribute-emulating processor permits through (§4.4, §9 resolved per
// original_source/include/erlent/erlent.hh's ALLOWED_OPEN_FLAGS_MASK):
// access-mode plus append/create/truncate/exclusive/nofollow/directory/
// nonblock/sync/cloexec, deliberately excluding O_TMPFILE (which would
// create an unnamed inode bypassing sidecar bookkeeping entirely) and
// O_NOATIME (which requires file-owner or CAP_FOWNER, not meaningful
// under the forged ownership this processor presents).
// Note: O_TMPFILE is encoded on Linux as O_DIRECTORY plus an extra bit;
// since O_DIRECTORY itself is a legitimate flag, masking a caller's
// O_TMPFILE request degrades it to plain O_DIRECTORY rather than to
// nothing, which already prevents the tmpfile-creation bypass this mask
// exists to stop.
const AllowedOpenFlagsMask = unix.O_ACCMODE | unix.O_APPEND | unix.O_CREAT |
	unix.O_EXCL | unix.O_TRUNC | unix.O_NOFOLLOW | unix.O_DIRECTORY |
	unix.O_NONBLOCK | unix.O_SYNC | unix.O_CLOEXEC

type OpenRequest struct {
	pathMixin
	Flags int
	Mode  uint32
}

func (r *OpenRequest) Tag() Tag { return TagOpen }

func (r *OpenRequest) PerformLocally() *Reply {
	fd, err := unix.Open(r.PathName, r.Flags&AllowedOpenFlagsMask, r.Mode)
	if err != nil {
		return &Reply{Result: errnoResult(err)}
	}
	unix.Close(fd)
	return &Reply{Result: 0}
}

// --- creat ---

type CreatRequest struct {
	pathMixin
	ownerMixin
	modeMixin
}

func (r *CreatRequest) Tag() Tag { return TagCreat }

func (r *CreatRequest) PerformLocally() *Reply {
	fd, err := unix.Open(r.PathName, unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC, r.Mode)
	if err != nil {
		return &Reply{Result: errnoResult(err)}
	}
	unix.Close(fd)
	if err := unix.Chmod(r.PathName, r.Mode); err != nil {
		return &Reply{Result: errnoResult(err)}
	}
	return &Reply{Result: 0}
}

// --- mknod ---

type MknodRequest struct {
	pathMixin
	ownerMixin
	modeMixin
	Dev uint64
}

func (r *MknodRequest) Tag() Tag { return TagMknod }

func (r *MknodRequest) PerformLocally() *Reply {
	err := unix.Mknod(r.PathName, r.Mode, int(r.Dev))
	return &Reply{Result: errnoResult(err)}
}

// --- truncate ---

type TruncateRequest struct {
	pathMixin
	valueMixin // Value holds length
}

func (r *TruncateRequest) Tag() Tag { return TagTruncate }

func (r *TruncateRequest) PerformLocally() *Reply {
	err := unix.Truncate(r.PathName, r.Value)
	return &Reply{Result: errnoResult(err)}
}

// --- chmod ---

type ChmodRequest struct {
	pathMixin
	modeMixin
}

func (r *ChmodRequest) Tag() Tag { return TagChmod }

func (r *ChmodRequest) PerformLocally() *Reply {
	err := unix.Chmod(r.PathName, r.Mode)
	return &Reply{Result: errnoResult(err)}
}

// --- chown ---

type ChownRequest struct {
	pathMixin
	ownerMixin
}

func (r *ChownRequest) Tag() Tag { return TagChown }

func (r *ChownRequest) PerformLocally() *Reply {
	err := unix.Chown(r.PathName, int(r.UID), int(r.GID))
	return &Reply{Result: errnoResult(err)}
}

// --- mkdir ---

type MkdirRequest struct {
	pathMixin
	ownerMixin
	modeMixin
}

func (r *MkdirRequest) Tag() Tag { return TagMkdir }

func (r *MkdirRequest) PerformLocally() *Reply {
	err := unix.Mkdir(r.PathName, r.Mode)
	return &Reply{Result: errnoResult(err)}
}

// --- unlink ---

type UnlinkRequest struct {
	pathMixin
}

func (r *UnlinkRequest) Tag() Tag { return TagUnlink }

func (r *UnlinkRequest) PerformLocally() *Reply {
	err := unix.Unlink(r.PathName)
	return &Reply{Result: errnoResult(err)}
}

// --- rmdir ---

type RmdirRequest struct {
	pathMixin
}

func (r *RmdirRequest) Tag() Tag { return TagRmdir }

func (r *RmdirRequest) PerformLocally() *Reply {
	err := unix.Rmdir(r.PathName)
	return &Reply{Result: errnoResult(err)}
}

// --- symlink ---

// SymlinkRequest models symlink(from, to): Path is the link location to
// create (to), Path2 is the literal target string stored in the link
// (from). Linux ignores symlink modes, so there is no modeMixin here.
type SymlinkRequest struct {
	pathMixin
	secondPathMixin
	ownerMixin
}

func (r *SymlinkRequest) Tag() Tag { return TagSymlink }

func (r *SymlinkRequest) PerformLocally() *Reply {
	err := unix.Symlink(r.PathName2, r.PathName)
	return &Reply{Result: errnoResult(err)}
}

// --- link ---

// LinkRequest models link(from, to): Path is the new link (to), Path2 is
// the existing file (from).
type LinkRequest struct {
	pathMixin
	secondPathMixin
}

func (r *LinkRequest) Tag() Tag { return TagLink }

func (r *LinkRequest) PerformLocally() *Reply {
	err := unix.Link(r.PathName2, r.PathName)
	return &Reply{Result: errnoResult(err)}
}

// --- rename ---

// RenameRequest models rename(from, to): Path is the destination (to),
// Path2 is the source (from).
type RenameRequest struct {
	pathMixin
	secondPathMixin
}

func (r *RenameRequest) Tag() Tag { return TagRename }

func (r *RenameRequest) PerformLocally() *Reply {
	err := unix.Rename(r.PathName2, r.PathName)
	return &Reply{Result: errnoResult(err)}
}

// --- utimens ---

type UtimensRequest struct {
	pathMixin
	Atime Timespec
	Mtime Timespec
}

func (r *UtimensRequest) Tag() Tag { return TagUtimens }

func (r *UtimensRequest) PerformLocally() *Reply {
	times := []unix.Timespec{r.Atime.toUnix(), r.Mtime.toUnix()}
	err := unix.UtimesNanoAt(unix.AT_FDCWD, r.PathName, times, unix.AT_SYMLINK_NOFOLLOW)
	return &Reply{Result: errnoResult(err)}
}

// --- statfs ---

type StatfsRequest struct {
	pathMixin
}

func (r *StatfsRequest) Tag() Tag { return TagStatfs }

func (r *StatfsRequest) PerformLocally() *Reply {
	var st unix.Statfs_t
	if err := unix.Statfs(r.PathName, &st); err != nil {
		return &Reply{Result: errnoResult(err)}
	}
	return &Reply{Result: 0, Statfs: StatvfsFromUnix(&st)}
}
