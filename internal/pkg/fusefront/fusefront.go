// Package fusefront adapts the attribute-emulating request processor
// (internal/pkg/erlentfs) to the kernel's userspace-filesystem interface
// (§4.5). It registers one callback per supported operation with
// github.com/hanwen/go-fuse/v2's path-based filesystem API, translating
// each callback into a protocol.Request, running it through
// erlentfs.Processor.Process, and translating the resulting
// protocol.Reply back into the shapes go-fuse expects.
package fusefront

import (
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/fuse/pathfs"
	"golang.org/x/sys/unix"

	"github.com/erlentgo/uchroot/internal/pkg/erlentfs"
	"github.com/erlentgo/uchroot/internal/pkg/protocol"
)

// FS implements pathfs.FileSystem by routing every call through a single
// erlentfs.Processor. Unlisted operations (xattrs and the like) fall
// through to pathfs.FileSystem's embedded ENOSYS defaults.
type FS struct {
	pathfs.FileSystem

	proc *erlentfs.Processor
}

// New returns an FS that processes every request through proc.
func New(proc *erlentfs.Processor) *FS {
	return &FS{
		FileSystem: pathfs.NewDefaultFileSystem(),
		proc:       proc,
	}
}

func (fs *FS) String() string { return "uchroot" }

// callerFrom builds the identity erlentfs.Processor needs for Mapped
// getattr substitution out of a FUSE request context. FUSE only ever
// hands the front-end a single (uid, gid) pair per request, so real and
// effective are reported equal. Groups is left empty, so supplementary
// groups never take part in the gid match.
func callerFrom(ctx *fuse.Context) erlentfs.Caller {
	if ctx == nil {
		return erlentfs.Caller{}
	}
	return erlentfs.Caller{
		RealUID:      ctx.Owner.Uid,
		EffectiveUID: ctx.Owner.Uid,
		RealGID:      ctx.Owner.Gid,
		EffectiveGID: ctx.Owner.Gid,
	}
}

// process runs req with ctx's caller identity and returns its reply.
func (fs *FS) process(req protocol.Request, path string, ctx *fuse.Context) *protocol.Reply {
	req.SetPath(toAbs(path))
	return fs.proc.Process(req, callerFrom(ctx))
}

// toAbs presents pathfs's root-relative names ("", "a/b") as the
// absolute paths the path-mapping table matches against (§4.3 entries
// are always written as absolute paths).
func toAbs(name string) string {
	if name == "" {
		return "/"
	}
	return "/" + name
}

// status converts a reply's negated-errno result (§3) into go-fuse's
// positive-errno fuse.Status.
func status(result int32) fuse.Status {
	if result == 0 {
		return fuse.OK
	}
	return fuse.Status(-result)
}

// toAttr fills a fuse.Attr from a getattr reply's Stat.
func toAttr(st *protocol.Stat) *fuse.Attr {
	a := &fuse.Attr{
		Ino:   st.Ino,
		Size:  uint64(st.Size),
		Mode:  st.Mode,
		Nlink: uint32(st.Nlink),
		Rdev:  uint32(st.Rdev),
		Owner: fuse.Owner{Uid: st.UID, Gid: st.GID},
	}
	setAttrTime(&a.Atime, &a.Atimensec, st.Atime)
	setAttrTime(&a.Mtime, &a.Mtimensec, st.Mtime)
	setAttrTime(&a.Ctime, &a.Ctimensec, st.Ctime)
	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		a.Blocks = (a.Size + 511) / 512
	}
	return a
}

func setAttrTime(sec *uint64, nsec *uint32, t time.Time) {
	*sec = uint64(t.Unix())
	*nsec = uint32(t.Nanosecond())
}

// toDirEntries converts a readdir reply's names into the fuse.DirEntry
// slice OpenDir must return. The filesystem does not track d_type, so
// every entry is reported as DT_Unknown and left to a follow-up getattr.
func toDirEntries(names []string) []fuse.DirEntry {
	entries := make([]fuse.DirEntry, len(names))
	for i, name := range names {
		entries[i] = fuse.DirEntry{Name: name}
	}
	return entries
}

// toTimespec converts a *time.Time utimens argument into the protocol
// Timespec. A nil time becomes UTIME_OMIT, which leaves that timestamp
// unchanged; any other value is passed on as a concrete time, so
// UTIME_NOW is never produced here.
func toTimespec(t *time.Time) protocol.Timespec {
	if t == nil {
		return protocol.Timespec{Sec: 0, Nsec: unixUTIME_OMIT}
	}
	return protocol.Timespec{Sec: t.Unix(), Nsec: int64(t.Nanosecond())}
}

// unixUTIME_OMIT has the value of unix.UTIME_OMIT, the utimensat
// nanosecond value that leaves a timestamp unchanged.
const unixUTIME_OMIT = (1 << 30) - 2
