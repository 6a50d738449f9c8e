package launcher

import (
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/term"

	"github.com/erlentgo/uchroot/internal/pkg/sigrelay"
)

// runViaPTY implements §4.6 step 6's forkpty branch and step 7's proxy
// loop: start cmd attached to a new PTY, put the controlling terminal
// into raw mode, forward bytes and SIGWINCH-driven window-size changes
// until the command exits, then restore the terminal (grounded on the
// teacher's own attach loop in oci_attach_linux.go, reworked from a
// control-socket relay into a direct PTY-to-stdio relay since there is
// no intervening RPC boundary here).
func runViaPTY(cmd *exec.Cmd, relay *sigrelay.Relay) int {
	master, err := pty.Start(cmd)
	if err != nil {
		return ExitGenericMountFailure
	}
	defer master.Close()
	relay.SetTarget(cmd.Process.Pid)

	saved, rawErr := term.MakeRaw(int(os.Stdin.Fd()))
	if rawErr == nil {
		defer term.Restore(int(os.Stdin.Fd()), saved)
	}

	resizePTY(master)
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	go func() {
		for range winch {
			resizePTY(master)
		}
	}()

	go io.Copy(master, os.Stdin)
	copyDone := make(chan struct{})
	go func() {
		io.Copy(os.Stdout, master)
		close(copyDone)
	}()

	code := waitCommand(cmd)
	<-copyDone
	return code
}

func resizePTY(master *os.File) {
	rows, cols, err := pty.Getsize(os.Stdin)
	if err != nil {
		return
	}
	_ = pty.Setsize(master, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}
