// Package launcher drives the container launcher's process state
// machine (§4.6): SPAWNED → UNSHARED → MAPS-WRITTEN → CHROOT-READY →
// INSIDE-ROOT → IDENTITY-DROPPED → RUNNING → EXITED.
//
// Go cannot fork() safely in a multithreaded runtime, so the clone(2)
// namespace transition is realized as os/exec's clone-then-exec, with
// the program reexecuting itself and dispatching on an environment
// marker instead of the original unshare()-then-continue design. One
// consequence worth calling out: clone(CLONE_NEWPID) makes the newly
// created task itself PID 1 of the fresh namespace, whereas the
// unshare(2) this design was distilled from leaves the calling task in
// its old namespace and only makes its *next* forked child PID 1. The
// reexec'd stage below is therefore already namespace-PID-1 from the
// moment it starts, which removes the original design's need for a
// separate semaphore-gated second fork purely to reach that position —
// see stage_init.go's doc comment for how the remaining process split
// (supervisor vs. running command) is reworked around that.
package launcher

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/erlentgo/uchroot/internal/pkg/erlentfs"
	"github.com/erlentgo/uchroot/internal/pkg/fusefront"
	"github.com/erlentgo/uchroot/internal/pkg/idmap"
	"github.com/erlentgo/uchroot/internal/pkg/pathmap"
	"github.com/erlentgo/uchroot/internal/pkg/sigrelay"
	"github.com/erlentgo/uchroot/internal/pkg/supervisor"
)

// Reserved exit codes for setup-phase failures (§6, §4.6 "mount retry
// policy"), chosen below 126 to stay clear of the shell-reserved 126/127
// range and below 128 so they are never confused with a 128+signum
// signal-exit code.
const (
	ExitGenericMountFailure = 120
	ExitDevMountFailure     = 121
	ExitSysMountFailure     = 122
	ExitProcMountFailure    = 123
	ExitPtsMountFailure     = 124
)

// BindMount is one -m/-M flag occurrence: a host source bound at an
// interior target, either as a plain pass-through bind or as a
// Mapped-attribute pass-through (only owner substitution in getattr
// replies, performed by the FUSE front-end's path table, not here).
type BindMount struct {
	Source string
	Target string
	Mapped bool
}

// Params is the launcher's equivalent of §3's ChildParams: everything
// the CLI front-end (cmd/uchroot) gathers before the state machine
// starts.
type Params struct {
	NewRoot      string
	NewWorkDir   string
	DevProcSys   bool
	UnshareNet   bool
	EmulateAttrs bool
	BindMounts   []BindMount

	UIDMappings *IDMapSpec
	GIDMappings *IDMapSpec

	InitialUID uint32
	InitialGID uint32

	// AttrTable/AttrUIDs/AttrGIDs configure the attribute-emulating
	// processor behind the FUSE overlay mounted at NewRoot when
	// EmulateAttrs is set (§4.3, §4.4); nil/unused otherwise.
	AttrTable *pathmap.Table
	AttrUIDs  *idmap.M
	AttrGIDs  *idmap.M

	Command []string

	Debug bool
}

// Launch runs the full state machine described by §4.6 and returns the
// exit code the uchroot process should report (§6 "Exit codes").
func Launch(p *Params) int {
	if len(p.Command) == 0 {
		fmt.Fprintln(os.Stderr, "uchroot: no command given")
		return 1
	}

	l := &launch{params: p}
	code, err := l.run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "uchroot: %v\n", err)
	}
	return code
}

// launch carries the mutable state threaded through the parent side of
// the state machine: the SPAWNED/UNSHARED/MAPS-WRITTEN transitions
// (§4.6 steps 1-2) and the final wait (step 8).
type launch struct {
	params *Params
	fsSrv  *fusefront.Server
	// root is the directory actually used as the chroot target: either
	// Params.NewRoot as given, or (when EmulateAttrs is set) a
	// freshly-created per-run directory, since the FUSE overlay's root
	// is synthesized state with no meaning before this run and none
	// after it (§3 "Lifecycles": "The temporary root directory is
	// created at launcher startup ... and removed during teardown"),
	// grounded on original_source/erlent/fuse.cc's own
	// mkdtemp("/tmp/erlent.XXXXXX")-per-run behavior in its FUSE launch
	// path.
	root string
}

func (l *launch) run() (int, error) {
	p := l.params

	l.root = p.NewRoot
	if p.EmulateAttrs {
		dir, err := newTempRoot()
		if err != nil {
			return ExitGenericMountFailure, errors.Wrap(err, "creating temporary root")
		}
		l.root = dir

		srv, err := l.mountAttrOverlay()
		if err != nil {
			return ExitGenericMountFailure, errors.Wrap(err, "mounting attribute overlay")
		}
		l.fsSrv = srv
		defer l.teardownOverlay()
	}

	rootSlotFile, rootSlot, err := supervisor.NewRootSlot()
	if err != nil {
		return ExitGenericMountFailure, err
	}
	defer rootSlotFile.Close()
	if err := supervisor.PutRootPath(rootSlot, l.root); err != nil {
		return ExitGenericMountFailure, err
	}

	toChildRead, toChildWrite, err := os.Pipe()
	if err != nil {
		return ExitGenericMountFailure, err
	}
	defer toChildWrite.Close()

	toParentRead, toParentWrite, err := os.Pipe()
	if err != nil {
		return ExitGenericMountFailure, err
	}
	defer toParentRead.Close()

	cfg := &stageConfig{
		NewWorkDir:    p.NewWorkDir,
		DevProcSys:    p.DevProcSys,
		UnshareNet:    p.UnshareNet,
		GidFiveMapped: p.GIDMappings != nil && p.GIDMappings.hasGID(5),
		BindMounts:    p.BindMounts,
		InitialUID:    p.InitialUID,
		InitialGID:    p.InitialGID,
		Command:       p.Command,
		Debug:         p.Debug,
	}
	encoded, err := encodeConfig(cfg)
	if err != nil {
		return ExitGenericMountFailure, err
	}

	cmd, err := reexecCmd(stageInit, []string{configEnvVar + "=" + encoded})
	if err != nil {
		return ExitGenericMountFailure, err
	}
	cmd.ExtraFiles = []*os.File{rootSlotFile, toChildRead, toParentWrite}

	cloneFlags := syscall.CLONE_NEWUSER | syscall.CLONE_NEWPID | syscall.CLONE_NEWNS
	if p.UnshareNet {
		cloneFlags |= syscall.CLONE_NEWNET
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Cloneflags: uintptr(cloneFlags)}

	if err := cmd.Start(); err != nil {
		return ExitGenericMountFailure, errors.Wrap(err, "spawning reexec'd init stage")
	}
	// These ends are only meant to be open in the child; closing them
	// here lets EOF propagate correctly if the child never signals back.
	toChildRead.Close()
	toParentWrite.Close()

	relay := sigrelay.New()
	relay.Install()
	relay.SetTarget(cmd.Process.Pid)
	defer relay.Stop()

	if err := supervisor.ReadToken(toParentRead, supervisor.TokenUnshared); err != nil {
		killChild(cmd)
		return ExitGenericMountFailure, errors.Wrap(err, "waiting for unshared child")
	}

	if err := writeMaps(cmd.Process.Pid, p.UIDMappings, p.GIDMappings); err != nil {
		killChild(cmd)
		return ExitGenericMountFailure, errors.Wrap(err, "installing id maps")
	}

	if err := supervisor.WriteToken(toChildWrite, supervisor.TokenChrootReady); err != nil {
		killChild(cmd)
		return ExitGenericMountFailure, errors.Wrap(err, "releasing child into new root")
	}

	if err := supervisor.ReadToken(toParentRead, supervisor.TokenChrootEntered); err != nil {
		killChild(cmd)
		return ExitGenericMountFailure, errors.Wrap(err, "waiting for chroot confirmation")
	}

	return waitAndMapExit(cmd), nil
}

func (l *launch) mountAttrOverlay() (*fusefront.Server, error) {
	p := l.params
	proc := erlentfs.New(p.AttrTable, p.AttrUIDs, p.AttrGIDs)
	return fusefront.Mount(proc, fusefront.Options{
		MountPoint: l.root,
		Debug:      p.Debug,
	})
}

// newTempRoot creates a fresh, uniquely-named directory under the
// system temp directory to serve as this run's overlay root, the Go
// equivalent of the original's mkdtemp-and-mkdir pair.
func newTempRoot() (string, error) {
	dir := filepath.Join(os.TempDir(), "uchroot."+uuid.NewString())
	if err := os.Mkdir(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// teardownOverlay best-effort unmounts the FUSE overlay once the
// command has exited, per §4.6 "Early cleanup": the temporary root's
// contents are entirely synthetic sidecar-backed state, so discarding
// it here is safe precisely because the interior process has its own
// independent mount namespace view that already persisted the run.
// Once unmounted, the directory itself is removed with PreClean, tying
// off the lifecycle newTempRoot started.
func (l *launch) teardownOverlay() {
	if l.fsSrv == nil {
		return
	}
	if err := l.fsSrv.Unmount(); err != nil {
		fusermountDetach(l.root)
	}
	if err := supervisor.PreClean(l.root); err != nil {
		fmt.Fprintf(os.Stderr, "uchroot: %v\n", err)
	}
}

// fusermountDetach falls back to the documented external helper (§6
// "Helper programs invoked") when the in-process unmount fails, e.g.
// because this process no longer holds the mount.
func fusermountDetach(dir string) {
	cmd := exec.Command("/bin/fusermount", "-u", "-q", dir)
	cmd.Stderr = os.Stderr
	_ = cmd.Run()
}

func killChild(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	_, _ = cmd.Process.Wait()
}

// waitAndMapExit waits for the reexec'd init stage and maps its exit
// status per §4.6 step 8 / §6. Since that stage itself mirrors the
// final command's exit status (see stage_init.go), a plain wait here is
// sufficient; ECHILD is treated as a clean exit per the spec's explicit
// carve-out for a process that finds it has no children left to wait
// for.
func waitAndMapExit(cmd *exec.Cmd) int {
	err := cmd.Wait()
	if err == nil {
		return 0
	}
	if errors.Is(err, syscall.ECHILD) {
		return 0
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return ExitGenericMountFailure
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return ExitGenericMountFailure
	}
	return mapWaitStatus(status)
}

// mapWaitStatus implements §4.6 step 8 / §6's exit code mapping:
// WIFEXITED -> WEXITSTATUS, WIFSIGNALED -> 128+signal, otherwise 255.
func mapWaitStatus(status syscall.WaitStatus) int {
	switch {
	case status.Exited():
		return status.ExitStatus()
	case status.Signaled():
		return 128 + int(status.Signal())
	default:
		return 255
	}
}
