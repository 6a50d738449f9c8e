package fusefront

import (
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/erlentgo/uchroot/internal/pkg/erlentfs"
	"github.com/erlentgo/uchroot/internal/pkg/idmap"
	"github.com/erlentgo/uchroot/internal/pkg/pathmap"
)

func newTestFS(t *testing.T, root string) *FS {
	t.Helper()
	tbl := pathmap.New()
	tbl.AddMapping(pathmap.Emulated, "/", root)
	uids := idmap.New(idmap.DefaultSentinel)
	uids.Add(0, 1000, 1)
	gids := idmap.New(idmap.DefaultSentinel)
	gids.Add(0, 1000, 1)
	return New(erlentfs.New(tbl, uids, gids))
}

func testContext() *fuse.Context {
	return &fuse.Context{Owner: fuse.Owner{Uid: 0, Gid: 0}}
}

func TestMkdirGetAttrRoundTrip(t *testing.T) {
	root := t.TempDir()
	fs := newTestFS(t, root)
	ctx := testContext()

	if code := fs.Mkdir("sub", 0o750, ctx); !code.Ok() {
		t.Fatalf("mkdir: %v", code)
	}

	attr, code := fs.GetAttr("sub", ctx)
	if !code.Ok() {
		t.Fatalf("getattr: %v", code)
	}
	if attr.Mode&0o777 != 0o750 {
		t.Errorf("mode = %o, want 0750", attr.Mode&0o777)
	}
	if attr.Owner.Uid != 0 || attr.Owner.Gid != 0 {
		t.Errorf("uid/gid = %d/%d, want forged 0/0", attr.Owner.Uid, attr.Owner.Gid)
	}
}

func TestOpenDirHidesSidecars(t *testing.T) {
	root := t.TempDir()
	fs := newTestFS(t, root)
	ctx := testContext()

	f, code := fs.Create("file", uint32(0), 0o600, ctx)
	if !code.Ok() {
		t.Fatalf("create: %v", code)
	}
	f.Release()

	entries, code := fs.OpenDir("", ctx)
	if !code.Ok() {
		t.Fatalf("opendir: %v", code)
	}
	found := false
	for _, e := range entries {
		if e.Name == ".erlent" || e.Name == ".erlent.file" {
			t.Errorf("leaked sidecar entry %q", e.Name)
		}
		if e.Name == "file" {
			found = true
		}
	}
	if !found {
		t.Error("expected \"file\" in directory listing")
	}
}

func TestCreateWriteReadRoundTrip(t *testing.T) {
	root := t.TempDir()
	fs := newTestFS(t, root)
	ctx := testContext()

	f, code := fs.Create("file", uint32(0), 0o600, ctx)
	if !code.Ok() {
		t.Fatalf("create: %v", code)
	}

	n, code := f.Write([]byte("hello"), 0)
	if !code.Ok() || n != 5 {
		t.Fatalf("write: n=%d code=%v", n, code)
	}

	buf := make([]byte, 16)
	res, code := f.Read(buf, 0)
	if !code.Ok() {
		t.Fatalf("read: %v", code)
	}
	got, status := res.Bytes(buf)
	if !status.Ok() {
		t.Fatalf("read bytes: %v", status)
	}
	if string(got) != "hello" {
		t.Errorf("read back %q, want \"hello\"", got)
	}
}

func TestSymlinkReadlink(t *testing.T) {
	root := t.TempDir()
	fs := newTestFS(t, root)
	ctx := testContext()

	if code := fs.Symlink("target", "link", ctx); !code.Ok() {
		t.Fatalf("symlink: %v", code)
	}
	target, code := fs.Readlink("link", ctx)
	if !code.Ok() {
		t.Fatalf("readlink: %v", code)
	}
	if target != "target" {
		t.Errorf("readlink = %q, want \"target\"", target)
	}
}

func TestAccessRejectsSidecarPath(t *testing.T) {
	root := t.TempDir()
	fs := newTestFS(t, root)
	ctx := testContext()

	code := fs.Access(".erlent", 0, ctx)
	if code != fuse.EPERM {
		t.Errorf("access on sidecar = %v, want EPERM", code)
	}
}
