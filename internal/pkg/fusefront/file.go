package fusefront

import (
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/fuse/nodefs"

	"github.com/erlentgo/uchroot/internal/pkg/protocol"
)

// file is the nodefs.File go-fuse hands back per open/create. The wire
// protocol this processor speaks is entirely path+offset addressed
// (§4.1's ReadRequest/WriteRequest carry no persistent handle), so file
// holds nothing but the root-relative pathfs name needed to keep
// re-issuing those requests; it has no backing host descriptor of its
// own.
type file struct {
	nodefs.File

	fs   *FS
	path string
}

func newFile(fs *FS, path string) nodefs.File {
	return &file{File: nodefs.NewDefaultFile(), fs: fs, path: path}
}

func (f *file) InnerFile() nodefs.File { return nil }

func (f *file) Read(dest []byte, off int64) (fuse.ReadResult, fuse.Status) {
	req := &protocol.ReadRequest{Offset: off}
	req.Value = int64(len(dest))
	reply := f.fs.process(req, f.path, nil)
	if reply.Result < 0 {
		return nil, status(reply.Result)
	}
	return fuse.ReadResultData(reply.Data), fuse.OK
}

func (f *file) Write(data []byte, off int64) (uint32, fuse.Status) {
	req := &protocol.WriteRequest{Data: data, Offset: off}
	reply := f.fs.process(req, f.path, nil)
	if reply.Result < 0 {
		return 0, status(reply.Result)
	}
	return uint32(reply.Result), fuse.OK
}

func (f *file) Truncate(size uint64) fuse.Status {
	req := &protocol.TruncateRequest{}
	req.Value = int64(size)
	return status(f.fs.process(req, f.path, nil).Result)
}

func (f *file) GetAttr(out *fuse.Attr) fuse.Status {
	reply := f.fs.process(&protocol.GetattrRequest{}, f.path, nil)
	if reply.Result != 0 {
		return status(reply.Result)
	}
	*out = *toAttr(reply.Stat)
	return fuse.OK
}

func (f *file) Chmod(mode uint32) fuse.Status {
	req := &protocol.ChmodRequest{}
	req.SetMode(mode)
	return status(f.fs.process(req, f.path, nil).Result)
}

func (f *file) Chown(uid uint32, gid uint32) fuse.Status {
	req := &protocol.ChownRequest{}
	req.SetUID(int64(uid))
	req.SetGID(int64(gid))
	return status(f.fs.process(req, f.path, nil).Result)
}

func (f *file) Utimens(atime *time.Time, mtime *time.Time) fuse.Status {
	req := &protocol.UtimensRequest{Atime: toTimespec(atime), Mtime: toTimespec(mtime)}
	return status(f.fs.process(req, f.path, nil).Result)
}

func (f *file) Flush() fuse.Status   { return fuse.OK }
func (f *file) Release()             {}
func (f *file) Fsync(int) fuse.Status { return fuse.OK }

func (fs *FS) Open(name string, flags uint32, ctx *fuse.Context) (nodefs.File, fuse.Status) {
	req := &protocol.OpenRequest{Flags: int(flags)}
	if reply := fs.process(req, name, ctx); reply.Result != 0 {
		return nil, status(reply.Result)
	}
	return newFile(fs, name), fuse.OK
}

func (fs *FS) Create(name string, flags uint32, mode uint32, ctx *fuse.Context) (nodefs.File, fuse.Status) {
	req := &protocol.CreatRequest{}
	req.SetMode(mode)
	setOwnerFromCaller(req, ctx)
	if reply := fs.process(req, name, ctx); reply.Result != 0 {
		return nil, status(reply.Result)
	}
	return newFile(fs, name), fuse.OK
}
