// Package idmap implements the identity-mapping data model (§3 `M`) and
// the subordinate-id discovery logic behind the `-A` flag (§6): parsing
// /etc/subuid and /etc/subgid and choosing a mapping range wide enough
// for a full 65536-id container.
package idmap

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/user"
	"strconv"
	"strings"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// DefaultSentinel is the nobody/nogroup id returned on a mapping miss,
// per §3.
const DefaultSentinel = 65534

// M is an ordered identity mapping: a partial function from
// [innerID, innerID+count) to [outerID, outerID+count) and its inverse.
// Ranges reuse specs.LinuxIDMapping, the same shape the runtime-spec
// package already uses to describe user/group namespace mappings.
type M struct {
	ranges   []specs.LinuxIDMapping
	sentinel uint32
}

// New returns an empty mapping that reports sentinel on every miss.
func New(sentinel uint32) *M {
	return &M{sentinel: sentinel}
}

// Add appends a mapping range (innerID, outerID, count). It is the
// caller's responsibility to keep ranges for a given inner id disjoint,
// per §3's invariant "for any inner ID x there is at most one mapping
// range containing x".
func (m *M) Add(innerID, outerID, count uint32) {
	m.ranges = append(m.ranges, specs.LinuxIDMapping{
		ContainerID: innerID,
		HostID:      outerID,
		Size:        count,
	})
}

// Ranges returns the mapping ranges in insertion order, the shape needed
// to build newuidmap/newgidmap argument vectors or /proc uid_map content.
func (m *M) Ranges() []specs.LinuxIDMapping {
	return m.ranges
}

// Lookup translates an inner id to its outer id, or returns the sentinel
// on a miss.
func (m *M) Lookup(innerID uint32) uint32 {
	for _, r := range m.ranges {
		if innerID >= r.ContainerID && innerID < r.ContainerID+r.Size {
			return r.HostID + (innerID - r.ContainerID)
		}
	}
	return m.sentinel
}

// LookupInverse translates an outer id back to its inner id, or returns
// the sentinel on a miss.
func (m *M) LookupInverse(outerID uint32) uint32 {
	for _, r := range m.ranges {
		if outerID >= r.HostID && outerID < r.HostID+r.Size {
			return r.ContainerID + (outerID - r.HostID)
		}
	}
	return m.sentinel
}

// IsSingleIdentity reports whether m is exactly the single-entry,
// count-1 mapping described by §3's direct-write invariant: "a single
// entry mapping has count == 1 and outerID equals the invoker's
// effective ID". effectiveID is compared against that entry's outerID.
func (m *M) IsSingleIdentity(effectiveID uint32) bool {
	if len(m.ranges) != 1 {
		return false
	}
	r := m.ranges[0]
	return r.Size == 1 && r.HostID == effectiveID
}

// SubEntry is one parsed line of /etc/subuid or /etc/subgid: a name (a
// login name or a literal numeric uid/gid), a starting id, and a count.
type SubEntry struct {
	Name  string
	Start uint32
	Count uint32
}

// ParseSubIDFile parses the colon-separated name:start:count lines of an
// /etc/subuid or /etc/subgid file, skipping blank lines and comments.
func ParseSubIDFile(r io.Reader) ([]SubEntry, error) {
	var entries []SubEntry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("idmap: malformed subid line %q", line)
		}
		start, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("idmap: malformed subid start in %q: %w", line, err)
		}
		count, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("idmap: malformed subid count in %q: %w", line, err)
		}
		entries = append(entries, SubEntry{
			Name:  fields[0],
			Start: uint32(start),
			Count: uint32(count),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// entryMatchesUser reports whether e's Name field resolves, via the
// passwd database or a literal numeric id, to uid.
func entryMatchesUser(e SubEntry, uid int) bool {
	if n, err := strconv.Atoi(e.Name); err == nil {
		return n == uid
	}
	u, err := user.Lookup(e.Name)
	if err != nil {
		return false
	}
	return u.Uid == strconv.Itoa(uid)
}

// AutoMapRange implements the `-A` flag's selection rule: parse the given
// subid file, find entries whose name resolves to the real or effective
// id of the invoker, and return the first with count >= minCount. When
// no entry qualifies it returns an error naming the file, both ids and
// minCount.
func AutoMapRange(path string, realID, effectiveID int, minCount uint32) (SubEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return SubEntry{}, err
	}
	defer f.Close()

	entries, err := ParseSubIDFile(f)
	if err != nil {
		return SubEntry{}, err
	}
	for _, e := range entries {
		if e.Count < minCount {
			continue
		}
		if entryMatchesUser(e, realID) || entryMatchesUser(e, effectiveID) {
			return e, nil
		}
	}
	return SubEntry{}, fmt.Errorf("idmap: no entry in %s for uid %d/%d with count >= %d", path, realID, effectiveID, minCount)
}

// FullRangeCount is the width of the full subordinate-id range requested
// by `-A`, per §6: "the first line with count >= 65536 yields a mapping
// (0, outer, 65536)".
const FullRangeCount = 65536
