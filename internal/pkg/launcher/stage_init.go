package launcher

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/erlentgo/uchroot/internal/pkg/sigrelay"
	"github.com/erlentgo/uchroot/internal/pkg/supervisor"
)

// File descriptor numbers of the three files launch.run passes via
// exec.Cmd.ExtraFiles: stdio occupies 0-2, so ExtraFiles land at 3, 4, 5
// in the order they were listed.
const (
	fdRootSlot      = 3
	fdToChildRead   = 4
	fdToParentWrite = 5
)

// runStageInit is the body of the reexec'd process created with
// CLONE_NEWUSER|CLONE_NEWPID|CLONE_NEWNS[|CLONE_NEWNET]. Per the package
// doc comment, that clone already makes this process PID 1 of the new
// PID namespace, collapsing what the original design drove with a
// second semaphore-gated fork purely to reach that position. What
// remains genuinely two-process in spirit — a supervisor holding the
// PTY/signal relay versus the process that actually runs the interior
// command — is kept as a single reexec'd process (this one) plus one
// further os/exec-spawned child for the command itself: os/exec's
// Cmd.Start already performs a safe fork+exec from this multithreaded
// runtime, so no further manual clone/reexec step is needed to reach
// that child, and no semaphore is needed either, since the command is
// only started after the PTY/relay setup below runs to completion in
// ordinary sequential code.
func runStageInit() {
	cfg, err := decodeConfig(os.Getenv(configEnvVar))
	if err != nil {
		fatal(ExitGenericMountFailure, errors.Wrap(err, "decoding stage config"))
	}

	toChildRead := os.NewFile(fdToChildRead, "to-child")
	toParentWrite := os.NewFile(fdToParentWrite, "to-parent")

	// SPAWNED -> UNSHARED: the clone that created this process already
	// performed the equivalent of unshare(); signal readiness at once.
	if err := supervisor.WriteToken(toParentWrite, supervisor.TokenUnshared); err != nil {
		fatal(ExitGenericMountFailure, errors.Wrap(err, "signaling unshared"))
	}

	// UNSHARED -> MAPS-WRITTEN -> CHROOT-READY: block until the parent
	// has installed the uid/gid maps and releases us with 'I'. A broken
	// pipe here means the parent died before finishing setup; exit
	// cleanly rather than reporting a communication error (§5).
	if err := supervisor.ReadToken(toChildRead, supervisor.TokenChrootReady); err != nil {
		if errors.Is(err, os.ErrClosed) || errors.Is(err, io.EOF) {
			os.Exit(0)
		}
		fatal(ExitGenericMountFailure, errors.Wrap(err, "waiting for chroot-ready token"))
	}

	rootSlot, err := supervisor.MapRootSlotFd(fdRootSlot)
	if err != nil {
		fatal(ExitGenericMountFailure, errors.Wrap(err, "mapping root-path slot"))
	}
	newRoot := supervisor.RootPath(rootSlot)

	if cfg.DevProcSys {
		if err := mountDev(newRoot); err != nil {
			fatal(ExitDevMountFailure, err)
		}
		if err := mountSys(newRoot); err != nil {
			fatal(ExitSysMountFailure, err)
		}
	}
	if err := applyBindMounts(newRoot, cfg.BindMounts); err != nil {
		fatal(ExitGenericMountFailure, err)
	}

	if err := syscall.Chroot(newRoot); err != nil {
		fatal(ExitGenericMountFailure, errors.Wrapf(err, "chroot to %s", newRoot))
	}
	if err := os.Chdir("/"); err != nil {
		fatal(ExitGenericMountFailure, errors.Wrap(err, "chdir to new root"))
	}

	// CHROOT-READY -> INSIDE-ROOT: let the parent know the new root is
	// in use (it may now start tearing down anything staged outside it).
	if err := supervisor.WriteToken(toParentWrite, supervisor.TokenChrootEntered); err != nil {
		fatal(ExitGenericMountFailure, errors.Wrap(err, "signaling chroot entered"))
	}

	if cfg.DevProcSys {
		if err := mountDevPts("/dev/pts", cfg.GidFiveMapped); err != nil {
			fatal(ExitPtsMountFailure, err)
		}
		if err := mountProcRetry("/proc"); err != nil {
			fatal(ExitProcMountFailure, err)
		}
	}

	if cfg.NewWorkDir != "" {
		if err := os.Chdir(cfg.NewWorkDir); err != nil {
			fatal(ExitGenericMountFailure, errors.Wrapf(err, "chdir to %s", cfg.NewWorkDir))
		}
	}

	if cfg.UnshareNet {
		if err := bringLoopbackUp(); err != nil {
			fatal(ExitGenericMountFailure, err)
		}
	}

	// INSIDE-ROOT -> IDENTITY-DROPPED.
	if err := dropIdentity(cfg.InitialUID, cfg.InitialGID); err != nil {
		fatal(ExitGenericMountFailure, err)
	}

	// This process is itself the new PID namespace's PID 1, which the
	// kernel defaults to ignoring any signal without an explicit
	// handler for. Installing a relay here (forwarding into whatever
	// process actually ends up running the interior command) is what
	// makes the outer launcher's own relay (targeting this process)
	// have any effect at all.
	innerRelay := sigrelay.New()
	innerRelay.Install()

	os.Exit(runCommand(cfg, innerRelay))
}

// runCommand implements §4.6 steps 6-8: starts the interior command
// (through a PTY if one is wanted and available, or plain otherwise),
// retargets the signal relay at it, and waits for it to exit.
func runCommand(cfg *stageConfig, relay *sigrelay.Relay) int {
	usePTY := cfg.DevProcSys && isTerminal(os.Stdin)

	cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
	cmd.Env = pristineEnviron()

	if usePTY {
		return runViaPTY(cmd, relay)
	}

	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "uchroot: starting command: %v\n", err)
		return ExitGenericMountFailure
	}
	relay.SetTarget(cmd.Process.Pid)

	return waitCommand(cmd)
}

func waitCommand(cmd *exec.Cmd) int {
	err := cmd.Wait()
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			return mapWaitStatus(status)
		}
	}
	fmt.Fprintf(os.Stderr, "uchroot: %v\n", err)
	return 255
}

// pristineEnviron returns the inherited environment with this package's
// own reexec-dispatch markers stripped out, so the interior program
// never observes the stage machinery it was launched through (§6
// "Environment: none consumed directly; the invoked program inherits a
// pristine environment").
func pristineEnviron() []string {
	env := os.Environ()
	out := make([]string, 0, len(env))
	for _, kv := range env {
		if strings.HasPrefix(kv, stageEnvVar+"=") || strings.HasPrefix(kv, configEnvVar+"=") {
			continue
		}
		out = append(out, kv)
	}
	return out
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func fatal(code int, err error) {
	fmt.Fprintf(os.Stderr, "uchroot: %v\n", err)
	os.Exit(code)
}
