package erlentfs

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// emuPrefix names the sidecar family: a directory's sidecar is
// "<dir>/.erlent"; a non-directory entry "<dir>/name" has sidecar
// "<dir>/.erlent.name" (§3 "sidecar file format").
const emuPrefix = ".erlent"

// AttrMask is the mode bitmask that is significant to a sidecar: setuid,
// setgid, sticky, and the nine rwx bits. File-type bits (S_IFDIR, etc.)
// are never stored.
const AttrMask = unix.S_ISUID | unix.S_ISGID | unix.S_ISVTX |
	unix.S_IRWXU | unix.S_IRWXG | unix.S_IRWXO

// Attrs is the sidecar payload: the forged owner and the attribute bits
// of mode, serialized as three big-endian uint32 fields in exactly this
// order (§3, §6 "persisted state").
type Attrs struct {
	UID  uint32
	GID  uint32
	Mode uint32
}

// attrsFileName returns the sidecar path for pathname, which names a
// directory when isDir is true and a non-directory entry otherwise.
func attrsFileName(pathname string, isDir bool) string {
	if isDir {
		return filepath.Join(pathname, emuPrefix)
	}
	dir, base := filepath.Split(pathname)
	return filepath.Join(dir, emuPrefix+"."+base)
}

// isEmuName reports whether basename names a sidecar file itself: either
// exactly ".erlent" or anything beginning with ".erlent." (§4.4's global
// guard rejects requests whose translated path component matches this).
func isEmuName(basename string) bool {
	return basename == emuPrefix || strings.HasPrefix(basename, emuPrefix+".")
}

// readAttrs reads pathname's sidecar. A missing sidecar is not an error:
// it yields the default attrs derived from the underlying lstat (uid=0,
// gid=0, mode = st_mode & AttrMask), matching §3's "a missing sidecar is
// not an error" rule.
func readAttrs(pathname string, isDir bool) (Attrs, error) {
	f, err := os.Open(attrsFileName(pathname, isDir))
	if err != nil {
		if os.IsNotExist(err) {
			var st unix.Stat_t
			if err := unix.Lstat(pathname, &st); err != nil {
				return Attrs{}, err
			}
			return Attrs{UID: 0, GID: 0, Mode: st.Mode & AttrMask}, nil
		}
		return Attrs{}, err
	}
	defer f.Close()

	var buf [12]byte
	if _, err := readFull(f, buf[:]); err != nil {
		return Attrs{}, err
	}
	return Attrs{
		UID:  binary.BigEndian.Uint32(buf[0:4]),
		GID:  binary.BigEndian.Uint32(buf[4:8]),
		Mode: binary.BigEndian.Uint32(buf[8:12]),
	}, nil
}

// writeAttrs (re)writes pathname's sidecar in full, creating it if
// absent.
func writeAttrs(pathname string, isDir bool, a Attrs) error {
	f, err := os.OpenFile(attrsFileName(pathname, isDir), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	var buf [12]byte
	binary.BigEndian.PutUint32(buf[0:4], a.UID)
	binary.BigEndian.PutUint32(buf[4:8], a.GID)
	binary.BigEndian.PutUint32(buf[8:12], a.Mode)
	_, err = f.Write(buf[:])
	return err
}

// readFull fills buf completely or returns an error, since a short
// sidecar (truncated by a crash mid-write) must not be silently accepted
// as valid attrs.
func readFull(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, os.ErrClosed
		}
	}
	return total, nil
}

// dirFile reports whether pathname currently denotes a directory on
// disk, used to pick between the two sidecar naming schemes.
func dirFile(pathname string) (bool, error) {
	var st unix.Stat_t
	if err := unix.Lstat(pathname, &st); err != nil {
		return false, err
	}
	return st.Mode&unix.S_IFMT == unix.S_IFDIR, nil
}
