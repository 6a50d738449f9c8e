package launcher

import "golang.org/x/sys/unix"

func setreuid(ruid, euid uint32) error {
	return unix.Setreuid(int(ruid), int(euid))
}

func setregid(rgid, egid uint32) error {
	return unix.Setregid(int(rgid), int(egid))
}

func setgroupsEmpty() error {
	return unix.Setgroups(nil)
}
