// Command uchroot is the unprivileged change-root launcher (§1, §6): it
// parses the flags below, builds a launcher.Params, and hands off to
// internal/pkg/launcher for the namespace/mount/identity state machine.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/erlentgo/uchroot/internal/pkg/idmap"
	"github.com/erlentgo/uchroot/internal/pkg/launcher"
	"github.com/erlentgo/uchroot/internal/pkg/pathmap"
	"github.com/erlentgo/uchroot/pkg/sylog"
)

const usage = `usage: uchroot [OPTIONS] [--] CMD [ARGS...]
  -r DIR         new root directory (absolute; default /)
  -w DIR         interior working directory (absolute; default = cwd at launch)
  -C             mount /dev, /proc, /sys inside new root; enable PTY emulation
  -M SRC:TGT     Mapped-attribute pass-through of host SRC at interior TGT
  -m SRC:TGT     plain bind mount of host SRC at interior TGT
  -n             unshare network namespace
  -E             enable attribute emulation on the new root (FUSE overlay)
  -u UID         interior UID for the executed process (default 0)
  -g GID         interior GID for the executed process (default 0)
  -U I:O:C       add a UID mapping range
  -G I:O:C       add a GID mapping range
  -A             automatic full 65536-range mapping from /etc/sub{u,g}id
  -d             enable debug logging
  -h             print usage
`

func main() {
	// A reexec'd stage never reaches the flag parser below: it dispatches
	// straight into the launcher's state machine and never returns.
	if launcher.CurrentStage() != "" {
		launcher.RunStage()
		return
	}

	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := pflag.NewFlagSet("uchroot", pflag.ContinueOnError)
	flags.SetOutput(os.Stderr)
	flags.Usage = func() { fmt.Fprint(os.Stderr, usage) }

	newRoot := flags.StringP("root", "r", "/", "new root directory")
	newWorkDir := flags.StringP("workdir", "w", "", "interior working directory")
	devProcSys := flags.BoolP("devprocsys", "C", false, "mount /dev, /proc, /sys; enable PTY emulation")
	mappedMounts := flags.StringArrayP("mapped-bind", "M", nil, "Mapped-attribute pass-through SRC:TGT")
	plainMounts := flags.StringArrayP("bind", "m", nil, "plain bind mount SRC:TGT")
	unshareNet := flags.BoolP("net", "n", false, "unshare network namespace")
	emulateAttrs := flags.BoolP("emulate", "E", false, "enable attribute emulation on the new root")
	interiorUID := flags.Uint32P("uid", "u", 0, "interior UID")
	interiorGID := flags.Uint32P("gid", "g", 0, "interior GID")
	uidRanges := flags.StringArrayP("uid-map", "U", nil, "add a UID mapping range I:O:C")
	gidRanges := flags.StringArrayP("gid-map", "G", nil, "add a GID mapping range I:O:C")
	autoMap := flags.BoolP("auto-map", "A", false, "automatic full 65536-range mapping from /etc/sub{u,g}id")
	debug := flags.BoolP("debug", "d", false, "enable debug logging")
	help := flags.BoolP("help", "h", false, "print usage")

	if err := flags.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		flags.Usage()
		return 1
	}
	if *help {
		flags.Usage()
		return 0
	}

	command := flags.Args()
	if len(command) == 0 {
		fmt.Fprintln(os.Stderr, "uchroot: no command given")
		flags.Usage()
		return 1
	}

	if *debug {
		sylog.SetLevel(int(sylog.DebugLevel), true)
	}

	if !strings.HasPrefix(*newRoot, "/") {
		fmt.Fprintln(os.Stderr, "uchroot: -r must be an absolute path")
		return 1
	}
	workDir := *newWorkDir
	if workDir == "" {
		if cwd, err := os.Getwd(); err == nil {
			workDir = cwd
		}
	}
	if workDir != "" && !strings.HasPrefix(workDir, "/") {
		fmt.Fprintln(os.Stderr, "uchroot: -w must be an absolute path")
		return 1
	}

	var binds []launcher.BindMount
	attrTable := pathmap.New()
	if *emulateAttrs {
		attrTable.AddMapping(pathmap.Emulated, "/", *newRoot)
	}

	for _, spec := range *mappedMounts {
		src, tgt, err := splitBindSpec(spec)
		if err != nil {
			fmt.Fprintf(os.Stderr, "uchroot: -M %v\n", err)
			flags.Usage()
			return 1
		}
		binds = append(binds, launcher.BindMount{Source: src, Target: tgt, Mapped: true})
		attrTable.AddMapping(pathmap.Mapped, tgt, src)
	}
	for _, spec := range *plainMounts {
		src, tgt, err := splitBindSpec(spec)
		if err != nil {
			fmt.Fprintf(os.Stderr, "uchroot: -m %v\n", err)
			flags.Usage()
			return 1
		}
		binds = append(binds, launcher.BindMount{Source: src, Target: tgt})
	}

	uidMap, err := buildIDMap(*uidRanges, "/etc/subuid", *autoMap, *interiorUID, uint32(os.Geteuid()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "uchroot: building uid map: %v\n", err)
		flags.Usage()
		return 1
	}
	gidMap, err := buildIDMap(*gidRanges, "/etc/subgid", *autoMap, *interiorGID, uint32(os.Getegid()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "uchroot: building gid map: %v\n", err)
		flags.Usage()
		return 1
	}

	params := &launcher.Params{
		NewRoot:      *newRoot,
		NewWorkDir:   workDir,
		DevProcSys:   *devProcSys,
		UnshareNet:   *unshareNet,
		EmulateAttrs: *emulateAttrs,
		BindMounts:   binds,
		UIDMappings:  launcher.NewIDMapSpec(uidMap, uint32(os.Geteuid())),
		GIDMappings:  launcher.NewIDMapSpec(gidMap, uint32(os.Getegid())),
		InitialUID:   *interiorUID,
		InitialGID:   *interiorGID,
		AttrTable:    attrTable,
		AttrUIDs:     uidMap,
		AttrGIDs:     gidMap,
		Command:      command,
		Debug:        *debug,
	}

	return launcher.Launch(params)
}

// splitBindSpec parses a SRC:TGT bind specification (§6 "-M"/"-m"),
// requiring both halves to be absolute per §3's invariant that both sides
// of every bind entry begin with "/".
func splitBindSpec(spec string) (src, tgt string, err error) {
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("malformed bind spec %q, want SRC:TGT", spec)
	}
	src, tgt = parts[0], parts[1]
	if !strings.HasPrefix(src, "/") || !strings.HasPrefix(tgt, "/") {
		return "", "", fmt.Errorf("bind spec %q: both SRC and TGT must be absolute", spec)
	}
	return src, tgt, nil
}

// buildIDMap assembles a uid or gid mapping table from explicit -U/-G
// ranges and/or -A auto-discovery, falling back to the single-identity
// default the spec requires when neither is given (§6 "Flag defaults").
func buildIDMap(ranges []string, subIDFile string, auto bool, interiorID, effectiveID uint32) (*idmap.M, error) {
	m := idmap.New(idmap.DefaultSentinel)

	for _, spec := range ranges {
		inner, outer, count, err := splitIDRange(spec)
		if err != nil {
			return nil, err
		}
		m.Add(inner, outer, count)
	}

	if auto {
		entry, err := idmap.AutoMapRange(subIDFile, os.Getuid(), os.Geteuid(), idmap.FullRangeCount)
		if err != nil {
			return nil, err
		}
		m.Add(0, entry.Start, idmap.FullRangeCount)
	}

	if len(ranges) == 0 && !auto {
		m.Add(interiorID, effectiveID, 1)
	}
	return m, nil
}

func splitIDRange(spec string) (inner, outer, count uint32, err error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("malformed id-map range %q, want I:O:C", spec)
	}
	vals := make([]uint32, 3)
	for i, p := range parts {
		n, perr := strconv.ParseUint(p, 10, 32)
		if perr != nil {
			return 0, 0, 0, fmt.Errorf("malformed id-map range %q: %w", spec, perr)
		}
		vals[i] = uint32(n)
	}
	return vals[0], vals[1], vals[2], nil
}
