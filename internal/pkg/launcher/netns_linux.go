package launcher

import (
	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"
)

// bringLoopbackUp brings the loopback interface up after -n unshares
// the network namespace, since a fresh net namespace starts with `lo`
// administratively down and nothing else configured. The clone that
// created this process already placed it in the new namespace (unlike
// the unshare(2) + setns(2) dance `netns.Set` exists for), so a direct
// netlink call against the calling thread's current namespace is
// sufficient; no `netns` namespace-switch is needed here.
func bringLoopbackUp() error {
	link, err := netlink.LinkByName("lo")
	if err != nil {
		return errors.Wrap(err, "finding loopback interface")
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return errors.Wrap(err, "bringing loopback interface up")
	}
	return nil
}
