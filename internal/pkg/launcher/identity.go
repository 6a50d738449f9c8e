package launcher

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/pkg/errors"

	"github.com/erlentgo/uchroot/internal/pkg/idmap"
)

// IDMapSpec pairs a resolved identity mapping with the effective
// outer id it was built against, since §4.6 step 2's direct-write
// fast path depends on comparing the mapping against "the effective
// id" at map-install time, not at CLI-parse time.
type IDMapSpec struct {
	m           *idmap.M
	effectiveID uint32
}

// NewIDMapSpec wraps a parsed mapping for installation against the
// given effective id (euid for uid maps, egid for gid maps).
func NewIDMapSpec(m *idmap.M, effectiveID uint32) *IDMapSpec {
	return &IDMapSpec{m: m, effectiveID: effectiveID}
}

// hasGID reports whether m maps the given inner gid to anything, used
// by the devpts gid=5 decision (§4.6 step 5).
func (s *IDMapSpec) hasGID(inner uint32) bool {
	return s.m.Lookup(inner) != idmap.DefaultSentinel
}

// writeMaps installs pid's uid_map/gid_map per §4.6 step 2: a
// single-identity mapping is written directly (along with
// `setgroups=deny` when the gid map is the one written directly, since
// the kernel requires it before an unprivileged gid_map write, per its
// CVE-2014-8989 mitigation); anything wider is delegated to
// newuidmap/newgidmap, since only those setuid helpers may install
// multi-range mappings for a user lacking CAP_SETUID in the target
// namespace.
func writeMaps(pid int, uid, gid *IDMapSpec) error {
	if gid.m.IsSingleIdentity(gid.effectiveID) {
		if err := os.WriteFile(procPath(pid, "setgroups"), []byte("deny"), 0); err != nil {
			return errors.Wrap(err, "writing setgroups=deny")
		}
	}

	if err := writeOneMap(pid, "uid_map", "/usr/bin/newuidmap", uid); err != nil {
		return errors.Wrap(err, "writing uid_map")
	}
	if err := writeOneMap(pid, "gid_map", "/usr/bin/newgidmap", gid); err != nil {
		return errors.Wrap(err, "writing gid_map")
	}
	return nil
}

func writeOneMap(pid int, mapFile, helper string, spec *IDMapSpec) error {
	if spec.m.IsSingleIdentity(spec.effectiveID) {
		r := spec.m.Ranges()[0]
		line := fmt.Sprintf("%d %d %d\n", r.ContainerID, r.HostID, r.Size)
		return os.WriteFile(procPath(pid, mapFile), []byte(line), 0)
	}
	return runMapHelper(helper, pid, spec.m)
}

// runMapHelper invokes newuidmap/newgidmap with the documented argument
// vector `<pid> <inner> <outer> <count> ...` (§6 "Helper programs
// invoked"), one triple per mapping range.
func runMapHelper(helper string, pid int, m *idmap.M) error {
	args := []string{strconv.Itoa(pid)}
	for _, r := range m.Ranges() {
		args = append(args,
			strconv.Itoa(int(r.ContainerID)),
			strconv.Itoa(int(r.HostID)),
			strconv.Itoa(int(r.Size)),
		)
	}
	cmd := exec.Command(helper, args...)
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "%s exited with failure", helper)
	}
	return nil
}

func procPath(pid int, file string) string {
	return fmt.Sprintf("/proc/%d/%s", pid, file)
}

// dropIdentity implements §4.6 step 5's final moves inside the new
// root, in the order it specifies: setreuid, then setregid, then clear
// the supplementary group list. Real and effective ids are set equal so
// no later setuid(0)-style call could recover privilege. The process
// still holds full capabilities within its own user namespace at this
// point regardless of order, since it is namespace-root throughout.
func dropIdentity(uid, gid uint32) error {
	if err := setreuid(uid, uid); err != nil {
		return errors.Wrap(err, "setreuid")
	}
	if err := setregid(gid, gid); err != nil {
		return errors.Wrap(err, "setregid")
	}
	if err := setgroupsEmpty(); err != nil {
		return errors.Wrap(err, "setgroups")
	}
	return nil
}
