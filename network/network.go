// Package network realizes the guest NIC for one boot. The default user-mode
// backend needs no privileges and forwards a fixed set of host ports into the
// guest; the bridge backend (Linux only) creates a tap device on an existing
// host bridge for guests that need a routable address.
package network

import (
	"context"
	"fmt"

	"github.com/openclaw/carapace/config"
	"github.com/openclaw/carapace/types"
)

// netdevID is the QEMU-internal id linking -netdev to its -device.
const netdevID = "net0"

// Manager builds the QEMU argument pair for one guest network device and
// tears down whatever host-side state the build created.
type Manager interface {
	// Build provisions host-side resources (if any) and returns the realized
	// device description plus the QEMU arguments that attach it. runID seeds
	// names that must be unique per boot.
	Build(ctx context.Context, runID string) (types.Netdev, []string, error)
	// Teardown removes the host-side resources described by nd. Safe to call
	// with a device that is already gone.
	Teardown(ctx context.Context, nd types.Netdev) error
}

// New selects the backend for the requested boot options: a bridge name
// selects tap networking, everything else gets user-mode with the fixed
// forwards from conf.
func New(conf *config.Config, opts *types.VMOptions) Manager {
	if opts != nil && opts.Bridge != "" {
		return &Bridge{Name: opts.Bridge}
	}
	return &UserMode{
		Forwards: []types.PortForward{
			{HostPort: conf.SSHPort, GuestPort: 22},
			{HostPort: conf.GatewayPort, GuestPort: conf.GatewayPort},
		},
	}
}

// Teardown releases the host-side resources of a recorded device without
// requiring the Manager that built it. Used when a later invocation cleans
// up after a process the current one did not spawn.
func Teardown(ctx context.Context, nd types.Netdev) error {
	switch nd.Mode {
	case types.NetdevBridge:
		return (&Bridge{Name: nd.Bridge}).Teardown(ctx, nd)
	default:
		return nil // user mode holds no host-side state
	}
}

// UserMode is slirp networking. The guest sits behind QEMU's builtin NAT;
// the listed TCP ports are forwarded from the host loopback so the gateway
// service and SSH stay reachable without exposing the guest to the LAN.
type UserMode struct {
	Forwards []types.PortForward
}

// Build returns the -netdev/-device pair. No host-side state is created.
func (u *UserMode) Build(_ context.Context, _ string) (types.Netdev, []string, error) {
	netdev := fmt.Sprintf("user,id=%s", netdevID)
	for _, fwd := range u.Forwards {
		netdev += fmt.Sprintf(",hostfwd=tcp:127.0.0.1:%d-:%d", fwd.HostPort, fwd.GuestPort)
	}
	nd := types.Netdev{Mode: types.NetdevUser, Forwards: u.Forwards}
	return nd, []string{
		"-netdev", netdev,
		"-device", "virtio-net-pci,netdev=" + netdevID,
	}, nil
}

// Teardown is a no-op: user mode lives entirely inside the QEMU process.
func (u *UserMode) Teardown(context.Context, types.Netdev) error { return nil }
