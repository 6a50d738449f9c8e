// Package protocol implements the request/reply model between the
// filesystem front-end and the request processor (§4.2): a numeric tag
// identifies an operation, each operation's arguments are a composition
// of shared payload mixins rather than a multiple-inheritance hierarchy,
// and every request knows how to perform itself against the (already
// path-translated) host filesystem.
package protocol

import "fmt"

// Tag identifies a request's operation. Tags are stable across the
// lifetime of the wire protocol; an unrecognized tag must abort the
// receiver (§7 "unknown message tag").
type Tag int32

const (
	TagGetattr Tag = iota + 1
	TagAccess
	TagReaddir
	TagReadlink
	TagRead
	TagWrite
	TagOpen
	TagCreat
	TagMknod
	TagTruncate
	TagChmod
	TagChown
	TagMkdir
	TagUnlink
	TagRmdir
	TagSymlink
	TagLink
	TagRename
	TagUtimens
	TagStatfs
)

func (t Tag) String() string {
	switch t {
	case TagGetattr:
		return "getattr"
	case TagAccess:
		return "access"
	case TagReaddir:
		return "readdir"
	case TagReadlink:
		return "readlink"
	case TagRead:
		return "read"
	case TagWrite:
		return "write"
	case TagOpen:
		return "open"
	case TagCreat:
		return "creat"
	case TagMknod:
		return "mknod"
	case TagTruncate:
		return "truncate"
	case TagChmod:
		return "chmod"
	case TagChown:
		return "chown"
	case TagMkdir:
		return "mkdir"
	case TagUnlink:
		return "unlink"
	case TagRmdir:
		return "rmdir"
	case TagSymlink:
		return "symlink"
	case TagLink:
		return "link"
	case TagRename:
		return "rename"
	case TagUtimens:
		return "utimens"
	case TagStatfs:
		return "statfs"
	default:
		return fmt.Sprintf("tag(%d)", int32(t))
	}
}

// ErrUnknownTag is returned by the dispatcher factory when asked to shell
// out a request for a tag it does not recognize.
type ErrUnknownTag Tag

func (e ErrUnknownTag) Error() string {
	return fmt.Sprintf("protocol: unknown message tag %d", int32(e))
}

// Request is the common interface every operation satisfies. PerformLocally
// executes the corresponding system call against Path (and, for two-path
// operations, a second path carried by the concrete type) and returns a
// populated Reply.
type Request interface {
	Tag() Tag
	Path() string
	SetPath(string)
	PerformLocally() *Reply
}

// TwoPathRequest is implemented by operations carrying a second pathname
// (symlink, link, rename) so callers can translate it through the same
// path-mapping entry as the primary path, per §4.4's pre-translation step.
type TwoPathRequest interface {
	Request
	Path2() string
	SetPath2(string)
}

// New constructs the zero-valued concrete request shell for tag, ready to
// be populated by a deserializer or directly by a front-end callback.
// Returns ErrUnknownTag for any tag outside the fixed operation set.
func New(tag Tag) (Request, error) {
	switch tag {
	case TagGetattr:
		return &GetattrRequest{}, nil
	case TagAccess:
		return &AccessRequest{}, nil
	case TagReaddir:
		return &ReaddirRequest{}, nil
	case TagReadlink:
		return &ReadlinkRequest{}, nil
	case TagRead:
		return &ReadRequest{}, nil
	case TagWrite:
		return &WriteRequest{}, nil
	case TagOpen:
		return &OpenRequest{}, nil
	case TagCreat:
		return &CreatRequest{}, nil
	case TagMknod:
		return &MknodRequest{}, nil
	case TagTruncate:
		return &TruncateRequest{}, nil
	case TagChmod:
		return &ChmodRequest{}, nil
	case TagChown:
		return &ChownRequest{}, nil
	case TagMkdir:
		return &MkdirRequest{}, nil
	case TagUnlink:
		return &UnlinkRequest{}, nil
	case TagRmdir:
		return &RmdirRequest{}, nil
	case TagSymlink:
		return &SymlinkRequest{}, nil
	case TagLink:
		return &LinkRequest{}, nil
	case TagRename:
		return &RenameRequest{}, nil
	case TagUtimens:
		return &UtimensRequest{}, nil
	case TagStatfs:
		return &StatfsRequest{}, nil
	default:
		return nil, ErrUnknownTag(tag)
	}
}

// Reply is the result of performing a Request. Result follows §3's
// convention: 0 on success, a positive count where applicable (read's
// byte count), or a negated errno on failure. Only the fields relevant
// to the originating tag are populated.
type Reply struct {
	Result int32
	Stat   *Stat
	Names  []string
	Target string
	Data   []byte
	Statfs *Statvfs
}

// pathMixin is the common payload shared by every operation: the
// (already path-translated) primary path.
type pathMixin struct {
	PathName string
}

func (p *pathMixin) Path() string     { return p.PathName }
func (p *pathMixin) SetPath(s string) { p.PathName = s }

// secondPathMixin carries a second pathname, used by symlink (its link
// target), link, and rename.
type secondPathMixin struct {
	PathName2 string
}

func (p *secondPathMixin) Path2() string     { return p.PathName2 }
func (p *secondPathMixin) SetPath2(s string) { p.PathName2 = s }

// ownerMixin carries a uid/gid pair. Chown represents "leave unchanged"
// with the POSIX (uid_t)-1 / (gid_t)-1 sentinel, hence the signed type.
type ownerMixin struct {
	UID int64
	GID int64
}

// GetUID and GetGID expose the owner fields to callers that only hold a
// Request and need to inverse-map them (§4.4's global guard for
// interior uid/gid fields), without knowing the concrete request type.
func (o *ownerMixin) GetUID() int64 { return o.UID }
func (o *ownerMixin) GetGID() int64 { return o.GID }

// SetUID and SetGID overwrite the owner fields in place, used by the
// attribute-emulating processor to rewrite interior ids to outer ids
// before the request reaches performLocally.
func (o *ownerMixin) SetUID(uid int64) { o.UID = uid }
func (o *ownerMixin) SetGID(gid int64) { o.GID = gid }

// OwnerRequest is implemented by every request carrying a uid/gid pair
// (chown, creat, mkdir, mknod, symlink).
type OwnerRequest interface {
	GetUID() int64
	GetGID() int64
	SetUID(int64)
	SetGID(int64)
}

// modeMixin carries a permission/type mode value.
type modeMixin struct {
	Mode uint32
}

func (m *modeMixin) GetMode() uint32  { return m.Mode }
func (m *modeMixin) SetMode(v uint32) { m.Mode = v }

// valueMixin carries a single generic numeric argument (an access mask,
// a truncate length, and so on).
type valueMixin struct {
	Value int64
}
