package fusefront

import (
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/fuse/nodefs"
	"github.com/hanwen/go-fuse/v2/fuse/pathfs"

	"github.com/erlentgo/uchroot/internal/pkg/erlentfs"
)

// Server wraps the mounted FUSE connection so the launcher can wait for
// it to unmount and tear it down on shutdown.
type Server struct {
	server *fuse.Server
}

// Options configures the mount (§4.5 "front-end mount options").
type Options struct {
	// MountPoint is the directory the overlay filesystem is exposed
	// under. Required.
	MountPoint string
	// AllowOther lets users other than the mounting uid access the
	// filesystem; needed since the container's mapped identities
	// differ from the invoking user's.
	AllowOther bool
	// Debug enables go-fuse's request tracing.
	Debug bool
}

// Mount registers proc's operations with the kernel's FUSE connection at
// opts.MountPoint and starts serving requests in the background. Call
// Unmount or Wait on the returned Server to tear it down.
func Mount(proc *erlentfs.Processor, opts Options) (*Server, error) {
	fsys := New(proc)

	pathFs := pathfs.NewPathNodeFs(fsys, &pathfs.PathNodeFsOptions{
		ClientInodes: false,
	})
	conn := nodefs.NewFileSystemConnector(pathFs.Root(), &nodefs.Options{
		// The processor holds its own process-wide mutex (§4.4), so
		// the kernel may dispatch operations concurrently.
		EntryTimeout:    0,
		AttrTimeout:     0,
		NegativeTimeout: 0,
	})

	srv, err := fuse.NewServer(conn.RawFS(), opts.MountPoint, &fuse.MountOptions{
		AllowOther:     opts.AllowOther,
		Debug:          opts.Debug,
		FsName:         "uchroot",
		Name:           "erlentfs",
		SingleThreaded: false,
	})
	if err != nil {
		return nil, err
	}

	go srv.Serve()
	srv.WaitMount()
	return &Server{server: srv}, nil
}

// Wait blocks until the filesystem is unmounted, by the kernel or by a
// call to Unmount.
func (s *Server) Wait() { s.server.Wait() }

// Unmount requests the kernel tear down the mount.
func (s *Server) Unmount() error { return s.server.Unmount() }
