package erlentfs

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/erlentgo/uchroot/internal/pkg/idmap"
	"github.com/erlentgo/uchroot/internal/pkg/pathmap"
	"github.com/erlentgo/uchroot/internal/pkg/protocol"
)

func newTestProcessor(t *testing.T, root string) (*Processor, *pathmap.Table) {
	t.Helper()
	tbl := pathmap.New()
	tbl.AddMapping(pathmap.Emulated, "/", root)
	uids := idmap.New(idmap.DefaultSentinel)
	uids.Add(0, 1000, 1)
	gids := idmap.New(idmap.DefaultSentinel)
	gids.Add(0, 1000, 1)

	// seed the root's own sidecar so emuCreate's parent lookup succeeds.
	if err := writeAttrs(root, true, Attrs{UID: 1000, GID: 1000, Mode: 0o755}); err != nil {
		t.Fatal(err)
	}
	return New(tbl, uids, gids), tbl
}

func TestMkdirCreatesSidecarWithCallerIdentity(t *testing.T) {
	root := t.TempDir()
	p, _ := newTestProcessor(t, root)

	req := &protocol.MkdirRequest{}
	req.SetPath("/sub")
	req.SetUID(0)
	req.SetGID(0)
	req.SetMode(0o750)

	reply := p.Process(req, Caller{})
	if reply.Result != 0 {
		t.Fatalf("mkdir failed: %d", reply.Result)
	}

	// mkdir must have been mapped to the sanitized dirMode on disk...
	fi, err := os.Lstat(filepath.Join(root, "sub"))
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm() != 0o700 {
		t.Errorf("on-disk mode = %o, want sanitized 0700", fi.Mode().Perm())
	}

	// ...while the sidecar records the forged mode and outer-mapped uid.
	a, err := readAttrs(filepath.Join(root, "sub"), true)
	if err != nil {
		t.Fatal(err)
	}
	if a.Mode != 0o750 {
		t.Errorf("sidecar mode = %o, want 0750", a.Mode)
	}
	if a.UID != 1000 {
		t.Errorf("sidecar uid = %d, want outer-mapped 1000", a.UID)
	}
}

func TestGetattrReturnsForgedOwnership(t *testing.T) {
	root := t.TempDir()
	p, _ := newTestProcessor(t, root)

	mk := &protocol.MkdirRequest{}
	mk.SetPath("/sub")
	mk.SetUID(0)
	mk.SetGID(0)
	mk.SetMode(0o700)
	if reply := p.Process(mk, Caller{}); reply.Result != 0 {
		t.Fatalf("mkdir failed: %d", reply.Result)
	}

	ga := &protocol.GetattrRequest{}
	ga.SetPath("/sub")
	reply := p.Process(ga, Caller{})
	if reply.Result != 0 {
		t.Fatalf("getattr failed: %d", reply.Result)
	}
	if reply.Stat.UID != 0 || reply.Stat.GID != 0 {
		t.Errorf("got uid=%d gid=%d, want inner identity 0/0", reply.Stat.UID, reply.Stat.GID)
	}
	if reply.Stat.Mode&AttrMask != 0o700 {
		t.Errorf("got mode bits %o, want 0700", reply.Stat.Mode&AttrMask)
	}
}

func TestReaddirHidesSidecars(t *testing.T) {
	root := t.TempDir()
	p, _ := newTestProcessor(t, root)

	creat := &protocol.CreatRequest{}
	creat.SetPath("/file")
	creat.SetUID(0)
	creat.SetGID(0)
	creat.SetMode(0o600)
	if reply := p.Process(creat, Caller{}); reply.Result != 0 {
		t.Fatalf("creat failed: %d", reply.Result)
	}

	rd := &protocol.ReaddirRequest{}
	rd.SetPath("/")
	reply := p.Process(rd, Caller{})
	if reply.Result != 0 {
		t.Fatalf("readdir failed: %d", reply.Result)
	}
	for _, name := range reply.Names {
		if isEmuName(name) {
			t.Errorf("readdir leaked sidecar name %q", name)
		}
	}
	found := false
	for _, name := range reply.Names {
		if name == "file" {
			found = true
		}
	}
	if !found {
		t.Error("expected to find \"file\" in readdir results")
	}
}

func TestGuardRejectsDirectSidecarAccess(t *testing.T) {
	root := t.TempDir()
	p, _ := newTestProcessor(t, root)

	ga := &protocol.GetattrRequest{}
	ga.SetPath("/.erlent")
	reply := p.Process(ga, Caller{})
	if reply.Result != -int32(unix.EPERM) {
		t.Errorf("got result %d, want -EPERM", reply.Result)
	}

	ga2 := &protocol.GetattrRequest{}
	ga2.SetPath("/.erlent.file")
	reply2 := p.Process(ga2, Caller{})
	if reply2.Result != -int32(unix.EPERM) {
		t.Errorf("got result %d, want -EPERM", reply2.Result)
	}
}

func TestRmdirRestoresSidecarOnFailure(t *testing.T) {
	root := t.TempDir()
	p, _ := newTestProcessor(t, root)

	mk := &protocol.MkdirRequest{}
	mk.SetPath("/sub")
	mk.SetUID(0)
	mk.SetGID(0)
	mk.SetMode(0o700)
	if reply := p.Process(mk, Caller{}); reply.Result != 0 {
		t.Fatalf("mkdir failed: %d", reply.Result)
	}
	// Make the directory non-empty so the real rmdir fails.
	if err := os.WriteFile(filepath.Join(root, "sub", "occupant"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	rm := &protocol.RmdirRequest{}
	rm.SetPath("/sub")
	reply := p.Process(rm, Caller{})
	if reply.Result == 0 {
		t.Fatal("expected rmdir of a non-empty directory to fail")
	}

	a, err := readAttrs(filepath.Join(root, "sub"), true)
	if err != nil {
		t.Fatalf("sidecar should have been restored: %v", err)
	}
	if a.Mode != 0o700 {
		t.Errorf("restored sidecar mode = %o, want 0700", a.Mode)
	}
}

func TestChownUpdatesSidecarIgnoringSentinel(t *testing.T) {
	root := t.TempDir()
	p, _ := newTestProcessor(t, root)

	creat := &protocol.CreatRequest{}
	creat.SetPath("/file")
	creat.SetUID(0)
	creat.SetGID(0)
	creat.SetMode(0o600)
	if reply := p.Process(creat, Caller{}); reply.Result != 0 {
		t.Fatalf("creat failed: %d", reply.Result)
	}

	chown := &protocol.ChownRequest{}
	chown.SetPath("/file")
	chown.SetUID(0)
	chown.SetGID(-1) // leave gid unchanged
	reply := p.Process(chown, Caller{})
	if reply.Result != 0 {
		t.Fatalf("chown failed: %d", reply.Result)
	}

	a, err := readAttrs(filepath.Join(root, "file"), false)
	if err != nil {
		t.Fatal(err)
	}
	if a.UID != 1000 {
		t.Errorf("sidecar uid = %d, want outer-mapped 1000", a.UID)
	}
	if a.GID != 1000 {
		t.Errorf("sidecar gid = %d, want unchanged 1000 (from creat)", a.GID)
	}
}

func TestAttrsFileNameDirVsFile(t *testing.T) {
	if got := attrsFileName("/a/b", true); got != "/a/b/.erlent" {
		t.Errorf("dir sidecar: got %q", got)
	}
	if got := attrsFileName("/a/b", false); got != "/a/.erlent.b" {
		t.Errorf("file sidecar: got %q", got)
	}
}

func TestIsEmuName(t *testing.T) {
	cases := map[string]bool{
		".erlent":      true,
		".erlent.foo":  true,
		".erlentxfoo":  false,
		"foo":          false,
		".erlen":       false,
	}
	for name, want := range cases {
		if got := isEmuName(name); got != want {
			t.Errorf("isEmuName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestReadAttrsDefaultsOnMissingSidecar(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "plain")
	if err := os.WriteFile(target, nil, 0o640); err != nil {
		t.Fatal(err)
	}
	a, err := readAttrs(target, false)
	if err != nil {
		t.Fatal(err)
	}
	if a.UID != 0 || a.GID != 0 {
		t.Errorf("got uid=%d gid=%d, want 0/0 defaults", a.UID, a.GID)
	}
	if a.Mode != 0o640 {
		t.Errorf("got mode %o, want 0640 from lstat", a.Mode)
	}
}
