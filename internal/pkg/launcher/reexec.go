package launcher

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/pkg/errors"
)

// stageEnvVar names the environment marker a reexec'd process reads to
// find out which state-machine stage it is supposed to resume as,
// replacing the argv[0]-dispatch idiom other self-reexec launchers use:
// argv[0] is left alone here so that /proc/<pid>/comm and `ps` still
// show something recognizable for each stage instead of a state name.
const stageEnvVar = "_UCHROOT_STAGE"

// stageInit is the only reexec stage: the two-fork design §4.6 describes
// collapses to one reexec'd process plus a plain os/exec child for the
// interior command, as explained in the package doc comment.
const stageInit = "init"

// selfExePath resolves the path to the running binary the way a
// self-reexec launcher must: via /proc/self/exe rather than os.Args[0],
// since the latter may be a relative path, a bare name resolved through
// $PATH, or simply wrong if the binary was renamed after exec.
func selfExePath() (string, error) {
	path, err := os.Readlink("/proc/self/exe")
	if err != nil {
		return "", errors.Wrap(err, "resolving self executable")
	}
	return path, nil
}

// reexecCmd builds an *exec.Cmd that reinvokes this binary with the
// given stage marker in its environment, connected to the caller's
// stdio. Callers attach SysProcAttr/ExtraFiles before Start.
func reexecCmd(stage string, extraEnv []string) (*exec.Cmd, error) {
	self, err := selfExePath()
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(self)
	cmd.Args = []string{self}
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(append([]string{}, os.Environ()...), stageEnvVar+"="+stage)
	cmd.Env = append(cmd.Env, extraEnv...)
	return cmd, nil
}

// CurrentStage reports which stage marker, if any, this process was
// reexec'd as. cmd/uchroot's main calls this before treating argv as a
// fresh "uchroot CMD..." invocation.
func CurrentStage() string {
	return os.Getenv(stageEnvVar)
}

// RunStage dispatches to the stage named by CurrentStage. It never
// returns for a recognized stage: each stage function itself calls
// os.Exit once the state machine reaches EXITED, a quirk mirrored from
// faketree.go's own RunAndWait/exit idiom.
func RunStage() {
	switch stage := CurrentStage(); stage {
	case stageInit:
		runStageInit()
	default:
		fmt.Fprintf(os.Stderr, "uchroot: unknown reexec stage %q\n", stage)
		os.Exit(1)
	}
}
