// Package erlentfs implements the attribute-emulating request processor
// (§4.4): given a request already routed through the path-mapping table,
// it either passes the request straight to the host (Untranslated),
// substitutes ownership on getattr results (Mapped), or forges
// ownership and mode entirely via sidecar files (Emulated).
package erlentfs

import (
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/erlentgo/uchroot/internal/pkg/idmap"
	"github.com/erlentgo/uchroot/internal/pkg/pathmap"
	"github.com/erlentgo/uchroot/internal/pkg/protocol"
)

// fileMode and dirMode are the on-disk modes an Emulated creat/mkdir
// actually uses; the caller's requested mode is instead recorded in the
// sidecar (§4.4 "sanitized mode").
const (
	fileMode = unix.S_IRUSR | unix.S_IWUSR // 0600
	dirMode  = unix.S_IRWXU                // 0700
)

// ChownMissPolicy resolves the open question of what an Emulated chown
// does when its target has no sidecar yet.
type ChownMissPolicy int

const (
	// PolicyChownCreatesSidecar falls back to the lstat-derived default
	// attrs and writes a sidecar regardless of whether one existed. This
	// is the default, matching readAttrs's own ENOENT fallback.
	PolicyChownCreatesSidecar ChownMissPolicy = iota
	// PolicyChownRequiresSidecar fails with -ENOENT instead of
	// synthesizing defaults.
	PolicyChownRequiresSidecar
)

// Caller is the identity the front-end observed for this request (§4.4
// Mapped getattr substitution needs the invoker's real/effective ids and
// supplementary groups). A FUSE front-end typically only exposes a
// single uid/gid per request; Real and Effective may be set equal in
// that case.
type Caller struct {
	RealUID, EffectiveUID uint32
	RealGID, EffectiveGID uint32
	Groups                []uint32
}

func (c Caller) uidMatches(uid uint32) bool {
	return uid == c.RealUID || uid == c.EffectiveUID
}

func (c Caller) gidMatches(gid uint32) bool {
	if gid == c.RealGID || gid == c.EffectiveGID {
		return true
	}
	for _, g := range c.Groups {
		if g == gid {
			return true
		}
	}
	return false
}

// exemptFromLock is the set of operations the single process-wide lock
// does not cover, because they never mutate sidecars (§4.4 "concurrency
// discipline").
var exemptFromLock = map[protocol.Tag]bool{
	protocol.TagOpen:     true,
	protocol.TagRead:     true,
	protocol.TagReaddir:  true,
	protocol.TagReadlink: true,
	protocol.TagStatfs:   true,
	protocol.TagTruncate: true,
	protocol.TagWrite:    true,
}

// Option configures a Processor.
type Option func(*Processor)

// WithChownMissPolicy overrides the default chown sidecar-miss policy.
func WithChownMissPolicy(p ChownMissPolicy) Option {
	return func(proc *Processor) { proc.chownMissPolicy = p }
}

// Processor is the attribute-emulating request processor.
type Processor struct {
	table *pathmap.Table
	uids  *idmap.M
	gids  *idmap.M

	mu              sync.Mutex
	chownMissPolicy ChownMissPolicy
}

// New returns a Processor routing through table and inverse-mapping
// owner fields through uids/gids.
func New(table *pathmap.Table, uids, gids *idmap.M, opts ...Option) *Processor {
	p := &Processor{table: table, uids: uids, gids: gids}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs req through the path-mapping table and, depending on the
// resulting attrType, the Untranslated/Mapped/Emulated handling of
// §4.4, returning the populated reply. caller identifies the requester
// for Mapped getattr owner substitution.
func (p *Processor) Process(req protocol.Request, caller Caller) *protocol.Reply {
	attrType := p.table.Classify(req.Path())
	req.SetPath(p.table.Translate(req.Path()))
	if two, ok := req.(protocol.TwoPathRequest); ok {
		two.SetPath2(p.table.Translate(two.Path2()))
	}

	if attrType == pathmap.Emulated {
		if reply := p.rejectSidecarAccess(req); reply != nil {
			return reply
		}
		if owned, ok := req.(protocol.OwnerRequest); ok {
			owned.SetUID(asSentinel(owned.GetUID(), func(id int64) int64 {
				return int64(p.uids.Lookup(uint32(id)))
			}))
			owned.SetGID(asSentinel(owned.GetGID(), func(id int64) int64 {
				return int64(p.gids.Lookup(uint32(id)))
			}))
		}
	}

	if !exemptFromLock[req.Tag()] {
		p.mu.Lock()
		defer p.mu.Unlock()
	}

	switch attrType {
	case pathmap.Emulated:
		return p.processEmulated(req)
	case pathmap.Mapped:
		return p.processMapped(req, caller)
	default:
		return req.PerformLocally()
	}
}

// asSentinel leaves the POSIX (uid_t)-1/(gid_t)-1 "no change" sentinel
// alone and maps every other value through convert.
func asSentinel(id int64, convert func(int64) int64) int64 {
	if id == -1 {
		return id
	}
	return convert(id)
}

// rejectSidecarAccess implements §4.4's global guard: any request whose
// translated path component names a sidecar is rejected with EPERM, so
// container programs can never observe or mutate them directly.
func (p *Processor) rejectSidecarAccess(req protocol.Request) *protocol.Reply {
	if isEmuName(filepath.Base(req.Path())) {
		return &protocol.Reply{Result: -int32(unix.EPERM)}
	}
	if two, ok := req.(protocol.TwoPathRequest); ok {
		if isEmuName(filepath.Base(two.Path2())) {
			return &protocol.Reply{Result: -int32(unix.EPERM)}
		}
	}
	return nil
}

func (p *Processor) processMapped(req protocol.Request, caller Caller) *protocol.Reply {
	reply := req.PerformLocally()
	_, ok := req.(*protocol.GetattrRequest)
	if !ok || reply.Result != 0 || reply.Stat == nil {
		return reply
	}
	if caller.uidMatches(reply.Stat.UID) {
		reply.Stat.UID = p.uids.LookupInverse(reply.Stat.UID)
	}
	if caller.gidMatches(reply.Stat.GID) {
		reply.Stat.GID = p.gids.LookupInverse(reply.Stat.GID)
	}
	return reply
}
