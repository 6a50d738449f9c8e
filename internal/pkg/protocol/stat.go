package protocol

import (
	"time"

	"golang.org/x/sys/unix"
)

// Stat is the getattr reply body: a host-independent subset of struct
// stat, wide enough for the attribute-emulating processor to rewrite
// uid/gid/mode before handing it back to the kernel.
type Stat struct {
	Mode  uint32
	UID   uint32
	GID   uint32
	Size  int64
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
	Rdev  uint64
	Nlink uint64
	Ino   uint64
}

// StatFromUnix converts a unix.Stat_t (as returned by Lstat) into a Stat.
func StatFromUnix(st *unix.Stat_t) *Stat {
	return &Stat{
		Mode:  st.Mode,
		UID:   st.Uid,
		GID:   st.Gid,
		Size:  st.Size,
		Atime: time.Unix(st.Atim.Sec, st.Atim.Nsec).UTC(),
		Mtime: time.Unix(st.Mtim.Sec, st.Mtim.Nsec).UTC(),
		Ctime: time.Unix(st.Ctim.Sec, st.Ctim.Nsec).UTC(),
		Rdev:  uint64(st.Rdev),
		Nlink: uint64(st.Nlink),
		Ino:   st.Ino,
	}
}

// Statvfs is the statfs reply body.
type Statvfs struct {
	BlockSize  uint64
	Blocks     uint64
	BlocksFree uint64
	Files      uint64
	FilesFree  uint64
	NameMax    uint64
}

// StatvfsFromUnix converts a unix.Statfs_t into a Statvfs.
func StatvfsFromUnix(st *unix.Statfs_t) *Statvfs {
	return &Statvfs{
		BlockSize:  uint64(st.Bsize),
		Blocks:     st.Blocks,
		BlocksFree: st.Bfree,
		Files:      st.Files,
		FilesFree:  st.Ffree,
		NameMax:    uint64(st.Namelen),
	}
}
