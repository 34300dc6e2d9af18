package types

import "time"

// VMState represents the lifecycle state of the guest VM from the
// supervisor's perspective.
type VMState string

const (
	VMStateStopped        VMState = "stopped"        // no hypervisor process
	VMStateStarting       VMState = "starting"       // process spawned, boot grace running
	VMStateConnecting     VMState = "connecting"     // dialing control/console channels
	VMStateAuthenticating VMState = "authenticating" // console login automation running
	VMStateRunning        VMState = "running"        // channels up, guest logged in
	VMStateStopping       VMState = "stopping"       // shutdown escalation in progress
)

// VMOptions describes the resources requested for a boot. It is persisted
// verbatim so a restart reuses the exact previous configuration.
type VMOptions struct {
	Memory    int64  `json:"memory"` // bytes
	CPU       int    `json:"cpu"`
	SharedDir string `json:"shared_dir,omitempty"` // host dir exported to the guest, empty disables
	Bridge    string `json:"bridge,omitempty"`     // host bridge for tap networking, empty selects user mode
}

// VMRecord is the on-disk runtime record for a booted VM. It lets a later
// invocation reattach to the process the previous one spawned: stop it, show
// its status, follow its log, or tear down its network device.
type VMRecord struct {
	RunID        string    `json:"run_id"`
	PID          int       `json:"pid"`
	ConsolePort  int       `json:"console_port"`
	ControlPort  int       `json:"control_port"`
	ImageVersion string    `json:"image_version,omitempty"`
	LogPath      string    `json:"log_path,omitempty"`
	Network      Netdev    `json:"network"`
	Options      VMOptions `json:"options"`
	StartedAt    time.Time `json:"started_at"`
}

// VMStatus is the point-in-time snapshot returned to callers. All fields are
// copies; mutating a status never touches supervisor state.
type VMStatus struct {
	State        VMState   `json:"state"`
	Running      bool      `json:"running"`
	PID          int       `json:"pid,omitempty"`
	RunID        string    `json:"run_id,omitempty"`
	ConsolePort  int       `json:"console_port,omitempty"`
	ControlPort  int       `json:"control_port,omitempty"`
	ConsoleReady bool      `json:"console_ready"`
	ImageVersion string    `json:"image_version,omitempty"`
	StartedAt    time.Time `json:"started_at"`
}
