package fusefront

import (
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/erlentgo/uchroot/internal/pkg/protocol"
)

func (fs *FS) GetAttr(name string, ctx *fuse.Context) (*fuse.Attr, fuse.Status) {
	reply := fs.process(&protocol.GetattrRequest{}, name, ctx)
	if reply.Result != 0 {
		return nil, status(reply.Result)
	}
	return toAttr(reply.Stat), fuse.OK
}

func (fs *FS) Chmod(name string, mode uint32, ctx *fuse.Context) fuse.Status {
	req := &protocol.ChmodRequest{}
	req.SetMode(mode)
	return status(fs.process(req, name, ctx).Result)
}

func (fs *FS) Chown(name string, uid uint32, gid uint32, ctx *fuse.Context) fuse.Status {
	req := &protocol.ChownRequest{}
	req.SetUID(int64(uid))
	req.SetGID(int64(gid))
	return status(fs.process(req, name, ctx).Result)
}

func (fs *FS) Utimens(name string, atime *time.Time, mtime *time.Time, ctx *fuse.Context) fuse.Status {
	req := &protocol.UtimensRequest{Atime: toTimespec(atime), Mtime: toTimespec(mtime)}
	return status(fs.process(req, name, ctx).Result)
}

func (fs *FS) Truncate(name string, size uint64, ctx *fuse.Context) fuse.Status {
	req := &protocol.TruncateRequest{}
	req.Value = int64(size)
	return status(fs.process(req, name, ctx).Result)
}

func (fs *FS) Access(name string, mode uint32, ctx *fuse.Context) fuse.Status {
	req := &protocol.AccessRequest{}
	req.Value = int64(mode)
	return status(fs.process(req, name, ctx).Result)
}

func (fs *FS) Link(oldName string, newName string, ctx *fuse.Context) fuse.Status {
	req := &protocol.LinkRequest{}
	req.SetPath2(toAbs(oldName))
	return status(fs.process(req, newName, ctx).Result)
}

func (fs *FS) Mkdir(name string, mode uint32, ctx *fuse.Context) fuse.Status {
	req := &protocol.MkdirRequest{}
	req.SetMode(mode)
	setOwnerFromCaller(req, ctx)
	return status(fs.process(req, name, ctx).Result)
}

func (fs *FS) Mknod(name string, mode uint32, dev uint32, ctx *fuse.Context) fuse.Status {
	req := &protocol.MknodRequest{Dev: uint64(dev)}
	req.SetMode(mode)
	setOwnerFromCaller(req, ctx)
	return status(fs.process(req, name, ctx).Result)
}

func (fs *FS) Rename(oldName string, newName string, ctx *fuse.Context) fuse.Status {
	req := &protocol.RenameRequest{}
	req.SetPath2(toAbs(oldName))
	return status(fs.process(req, newName, ctx).Result)
}

func (fs *FS) Rmdir(name string, ctx *fuse.Context) fuse.Status {
	return status(fs.process(&protocol.RmdirRequest{}, name, ctx).Result)
}

func (fs *FS) Unlink(name string, ctx *fuse.Context) fuse.Status {
	return status(fs.process(&protocol.UnlinkRequest{}, name, ctx).Result)
}

func (fs *FS) Symlink(value string, linkName string, ctx *fuse.Context) fuse.Status {
	req := &protocol.SymlinkRequest{}
	req.SetPath2(value)
	setOwnerFromCaller(req, ctx)
	return status(fs.process(req, linkName, ctx).Result)
}

func (fs *FS) Readlink(name string, ctx *fuse.Context) (string, fuse.Status) {
	reply := fs.process(&protocol.ReadlinkRequest{}, name, ctx)
	return reply.Target, status(reply.Result)
}

func (fs *FS) OpenDir(name string, ctx *fuse.Context) ([]fuse.DirEntry, fuse.Status) {
	reply := fs.process(&protocol.ReaddirRequest{}, name, ctx)
	if reply.Result != 0 {
		return nil, status(reply.Result)
	}
	return toDirEntries(reply.Names), fuse.OK
}

func (fs *FS) StatFs(name string) *fuse.StatfsOut {
	reply := fs.process(&protocol.StatfsRequest{}, name, nil)
	if reply.Result != 0 || reply.Statfs == nil {
		return nil
	}
	v := reply.Statfs
	return &fuse.StatfsOut{
		Blocks:  v.Blocks,
		Bfree:   v.BlocksFree,
		Bavail:  v.BlocksFree,
		Files:   v.Files,
		Ffree:   v.FilesFree,
		Bsize:   uint32(v.BlockSize),
		NameLen: uint32(v.NameMax),
	}
}

// setOwnerFromCaller records the FUSE caller's identity on req so a
// newly created entry's Emulated sidecar is forged with the actual
// creator's uid/gid rather than a fixed process identity (§4.5 "these
// need the creator's identity, not a fixed process identity").
func setOwnerFromCaller(req protocol.OwnerRequest, ctx *fuse.Context) {
	if ctx == nil {
		return
	}
	req.SetUID(int64(ctx.Owner.Uid))
	req.SetGID(int64(ctx.Owner.Gid))
}
