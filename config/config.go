package config

import (
	coretypes "github.com/projecteru2/core/types"
)

// ImageFileName is the canonical name of the installed guest disk image.
// Release assets may carry versioned or split names; after acquisition the
// image always lands under this name so boot configuration never changes.
const ImageFileName = "openclaw-headless.qcow2"

// Config holds global Carapace configuration.
type Config struct {
	// RootDir is the base directory for persistent data (disk image, DB).
	// Env: CARAPACE_ROOT_DIR. Default: /var/lib/carapace.
	RootDir string `json:"root_dir" mapstructure:"root_dir"`
	// RunDir is the base directory for runtime state (VM record, locks).
	// Contents are ephemeral and may not survive reboots.
	// Env: CARAPACE_RUN_DIR. Default: /var/lib/carapace/run.
	RunDir string `json:"run_dir" mapstructure:"run_dir"`
	// LogDir is the base directory for per-boot hypervisor logs.
	// Env: CARAPACE_LOG_DIR. Default: /var/log/carapace.
	LogDir string `json:"log_dir" mapstructure:"log_dir"`
	// QEMUBinary is the path or name of the qemu-system executable.
	// Default: "qemu-system-x86_64".
	QEMUBinary string `json:"qemu_binary" mapstructure:"qemu_binary"`
	// Memory is the default guest memory size in bytes when a boot request
	// does not specify one. Default: 4 GiB.
	Memory int64 `json:"memory" mapstructure:"memory"`
	// CPU is the default guest vCPU count. Default: 2.
	CPU int `json:"cpu" mapstructure:"cpu"`
	// GuestUser and GuestPassword are the serial-console login credentials
	// baked into the headless image.
	GuestUser     string `json:"guest_user" mapstructure:"guest_user"`
	GuestPassword string `json:"guest_password" mapstructure:"guest_password"`
	// ConsolePortBase is where the free-port scan for the serial console
	// socket starts. The control channel scan starts one above whatever the
	// console got, so the two never collide. Default: 5700.
	ConsolePortBase int `json:"console_port_base" mapstructure:"console_port_base"`
	// GatewayPort is the fixed guest service port, forwarded host:guest on
	// the same number. The health endpoint lives behind it. Default: 18789.
	GatewayPort int `json:"gateway_port" mapstructure:"gateway_port"`
	// SSHPort is the host port forwarded to guest port 22. Default: 2222.
	SSHPort int `json:"ssh_port" mapstructure:"ssh_port"`
	// HealthPath is the HTTP path polled on the gateway port to decide the
	// guest service is up. Default: /health.
	HealthPath string `json:"health_path" mapstructure:"health_path"`
	// ReleaseOwner/ReleaseRepo locate the GitHub repository whose releases
	// publish the disk image. Defaults: openclaw/openclaw.
	ReleaseOwner string `json:"release_owner" mapstructure:"release_owner"`
	ReleaseRepo  string `json:"release_repo" mapstructure:"release_repo"`
	// ImageTagPrefix selects image releases among all releases of the
	// repository. Default: "vm-".
	ImageTagPrefix string `json:"image_tag_prefix" mapstructure:"image_tag_prefix"`
	// StopTimeoutSeconds is how long to wait for a guest to respond to the
	// graceful powerdown request before falling back to SIGTERM. Default: 15.
	StopTimeoutSeconds int `json:"stop_timeout_seconds" mapstructure:"stop_timeout_seconds"`
	// LogKeep is how many per-boot hypervisor logs gc retains. Default: 10.
	LogKeep int `json:"log_keep" mapstructure:"log_keep"`
	// Log configuration, uses eru core's ServerLogConfig.
	Log coretypes.ServerLogConfig `json:"log" mapstructure:"log"`
}

// DefaultConfig returns a Config populated with every default. Viper
// unmarshals file/env/flag values over it.
func DefaultConfig() *Config {
	return &Config{
		RootDir:            "/var/lib/carapace",
		RunDir:             "/var/lib/carapace/run",
		LogDir:             "/var/log/carapace",
		QEMUBinary:         "qemu-system-x86_64",
		Memory:             4 << 30,
		CPU:                2,
		GuestUser:          "openclaw",
		GuestPassword:      "openclaw",
		ConsolePortBase:    5700,
		GatewayPort:        18789,
		SSHPort:            2222,
		HealthPath:         "/health",
		ReleaseOwner:       "openclaw",
		ReleaseRepo:        "openclaw",
		ImageTagPrefix:     "vm-",
		StopTimeoutSeconds: 15,
		LogKeep:            10,
		Log: coretypes.ServerLogConfig{
			Level: "info",
		},
	}
}
