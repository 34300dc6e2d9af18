package types

// NetdevMode selects how the guest NIC reaches the host network.
type NetdevMode string

const (
	// NetdevUser is slirp user-mode networking with fixed host port forwards.
	// Needs no privileges and works on every platform; the default.
	NetdevUser NetdevMode = "user"
	// NetdevBridge is a host tap device enslaved to an existing bridge.
	// Linux only; requires CAP_NET_ADMIN.
	NetdevBridge NetdevMode = "bridge"
)

// PortForward is one fixed host→guest TCP forward on a user-mode netdev.
type PortForward struct {
	HostPort  int `json:"host_port"`
	GuestPort int `json:"guest_port"`
}

// Netdev describes the realized guest network device of one boot. It is
// persisted in the run record so a later invocation can tear down host-side
// resources (the tap) after the process has exited.
type Netdev struct {
	Mode     NetdevMode    `json:"mode"`
	MAC      string        `json:"mac,omitempty"`
	Tap      string        `json:"tap,omitempty"`      // bridge mode only
	Bridge   string        `json:"bridge,omitempty"`   // bridge mode only
	Forwards []PortForward `json:"forwards,omitempty"` // user mode only
}
