// Package supervisor implements the launcher's low-level process
// plumbing (§4.6 steps 1-3, §4.6 "early cleanup", §5 "ordering
// guarantees"): the single-byte pipe-token handshake between the
// launcher and its reexec'd stages, and the best-effort teardown of the
// temporary root directory.
package supervisor

import (
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/moby/sys/mountinfo"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Token is one of the single-byte handshake markers exchanged over the
// state-machine's pipes (§4.6): 'U' unshared, 'I' chroot-ready-to-enter,
// 'C' chroot-entered.
type Token byte

const (
	TokenUnshared      Token = 'U'
	TokenChrootReady   Token = 'I'
	TokenChrootEntered Token = 'C'
)

// WriteToken writes a single handshake byte to w.
func WriteToken(w *os.File, t Token) error {
	_, err := w.Write([]byte{byte(t)})
	return err
}

// ReadToken reads and validates a single handshake byte from r. EOF is
// reported as-is so callers can distinguish a clean parent-side close
// (§7 "pipe handshake mismatch ... except when EOF is observed") from a
// genuine protocol violation.
func ReadToken(r *os.File, want Token) error {
	var buf [1]byte
	n, err := r.Read(buf[:])
	if err != nil {
		return err
	}
	if n != 1 || Token(buf[0]) != want {
		return fmt.Errorf("supervisor: expected token %q, got %q", want, buf[:n])
	}
	return nil
}

// RootSlotSize is the width of the anonymous shared-memory slot used to
// hand the new-root path from the launcher to its unshared child (§4.6
// step 3, "shared via an anonymous memory region — a 256-byte slot").
const RootSlotSize = 256

// NewRootSlot creates the 256-byte shared region used to hand the
// new-root path from the launcher to its reexec'd child (§4.6 step 3,
// "shared via an anonymous memory region"). A plain MAP_ANONYMOUS
// mapping does not survive the execve that Go's clone-then-exec
// namespace setup requires in place of a raw fork(), so the region is
// backed by a memfd instead: it is anonymous in the sense of never
// appearing in the filesystem, but its descriptor can be passed to the
// reexec'd process (via exec.Cmd.ExtraFiles) and mapped again there with
// MapRootSlotFd to reach the identical shared pages.
func NewRootSlot() (*os.File, []byte, error) {
	fd, err := unix.MemfdCreate("uchroot-newroot", 0)
	if err != nil {
		return nil, nil, errors.Wrap(err, "supervisor: creating root-path slot")
	}
	f := os.NewFile(uintptr(fd), "uchroot-newroot")
	if err := f.Truncate(RootSlotSize); err != nil {
		f.Close()
		return nil, nil, errors.Wrap(err, "supervisor: sizing root-path slot")
	}
	slot, err := MapRootSlotFd(int(f.Fd()))
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, slot, nil
}

// MapRootSlotFd maps the shared region backing a root-slot file
// descriptor inherited across a reexec.
func MapRootSlotFd(fd int) ([]byte, error) {
	return unix.Mmap(fd, 0, RootSlotSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

// PutRootPath writes path into slot, NUL-terminated.
func PutRootPath(slot []byte, path string) error {
	if len(path)+1 > len(slot) {
		return fmt.Errorf("supervisor: root path %q too long for %d-byte slot", path, len(slot))
	}
	clear(slot)
	copy(slot, path)
	return nil
}

// RootPath reads a NUL-terminated path back out of slot.
func RootPath(slot []byte) string {
	n := 0
	for n < len(slot) && slot[n] != 0 {
		n++
	}
	return string(slot[:n])
}

// PreClean best-effort-removes root, retrying past EBUSY while a mount
// underneath it is still being torn down by the kernel asynchronously
// (§4.6 "early cleanup"). It consults /proc/self/mountinfo so it only
// retries while root is genuinely still mounted over, rather than
// looping on an unrelated EBUSY.
func PreClean(root string) error {
	op := func() error {
		err := os.RemoveAll(root)
		if err == nil {
			return nil
		}
		if !errors.Is(err, unix.EBUSY) {
			return backoff.Permanent(err)
		}
		mounted, mErr := mountinfo.Mounted(root)
		if mErr == nil && !mounted {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(50*time.Millisecond), 5)
	if err := backoff.Retry(op, b); err != nil {
		return errors.Wrapf(err, "supervisor: removing temporary root %s", root)
	}
	return nil
}
