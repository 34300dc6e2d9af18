//go:build linux

package network

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"

	"github.com/vishvananda/netlink"

	"github.com/openclaw/carapace/types"
	"github.com/openclaw/carapace/utils"
)

// Bridge attaches the guest to an existing host bridge through a per-boot
// tap device. The bridge itself is never created or deleted here; it is host
// infrastructure the operator owns.
type Bridge struct {
	Name string
}

// Build creates the tap, enslaves it to the bridge, brings it up, and
// returns the QEMU arguments referencing it. A partially created tap is
// removed before an error is returned.
func (b *Bridge) Build(_ context.Context, runID string) (types.Netdev, []string, error) {
	bridge, err := netlink.LinkByName(b.Name)
	if err != nil {
		return types.Netdev{}, nil, fmt.Errorf("bridge %s not present: %w", b.Name, err)
	}
	if bridge.Attrs().Flags&net.FlagUp == 0 {
		if err := netlink.LinkSetUp(bridge); err != nil {
			return types.Netdev{}, nil, fmt.Errorf("bring bridge %s up: %w", b.Name, err)
		}
	}

	mac, err := randomMAC()
	if err != nil {
		return types.Netdev{}, nil, err
	}

	// IFNAMSIZ caps interface names at 15 bytes; "claw" + 8 hex fits.
	tapName := "claw" + utils.ShortID(runID)

	// A leftover tap from an aborted boot is replaced, not reused.
	if old, err := netlink.LinkByName(tapName); err == nil {
		_ = netlink.LinkSetDown(old)
		_ = netlink.LinkDel(old)
	}

	la := netlink.NewLinkAttrs()
	la.Name = tapName
	tap := &netlink.Tuntap{
		LinkAttrs: la,
		Mode:      netlink.TUNTAP_MODE_TAP,
		Flags:     netlink.TUNTAP_DEFAULTS | netlink.TUNTAP_VNET_HDR,
	}
	if err := netlink.LinkAdd(tap); err != nil {
		return types.Netdev{}, nil, fmt.Errorf("create tap %s: %w", tapName, err)
	}
	if err := netlink.LinkSetMaster(tap, bridge); err != nil {
		_ = netlink.LinkDel(tap)
		return types.Netdev{}, nil, fmt.Errorf("attach tap %s to %s: %w", tapName, b.Name, err)
	}
	if err := netlink.LinkSetUp(tap); err != nil {
		_ = netlink.LinkDel(tap)
		return types.Netdev{}, nil, fmt.Errorf("bring tap %s up: %w", tapName, err)
	}

	nd := types.Netdev{
		Mode:   types.NetdevBridge,
		MAC:    mac,
		Tap:    tapName,
		Bridge: b.Name,
	}
	return nd, []string{
		"-netdev", fmt.Sprintf("tap,id=%s,ifname=%s,script=no,downscript=no", netdevID, tapName),
		"-device", fmt.Sprintf("virtio-net-pci,netdev=%s,mac=%s", netdevID, mac),
	}, nil
}

// Teardown deletes the tap. A tap that is already gone is success.
func (b *Bridge) Teardown(_ context.Context, nd types.Netdev) error {
	if nd.Tap == "" {
		return nil
	}
	link, err := netlink.LinkByName(nd.Tap)
	if err != nil {
		return nil
	}
	_ = netlink.LinkSetDown(link)
	if err := netlink.LinkDel(link); err != nil {
		return fmt.Errorf("delete tap %s: %w", nd.Tap, err)
	}
	return nil
}

// randomMAC returns a unicast address under the QEMU/KVM OUI 52:54:00, the
// convention guests and switches already expect for virtual NICs.
func randomMAC() (string, error) {
	var buf [3]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate MAC: %w", err)
	}
	return fmt.Sprintf("52:54:00:%02x:%02x:%02x", buf[0], buf[1], buf[2]), nil
}
