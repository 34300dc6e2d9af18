package config

import (
	"fmt"
	"path/filepath"

	"github.com/openclaw/carapace/utils"
)

// EnsureDirs creates all static directories the supervisor and the image
// pipeline need. Called once per invocation before any backend work.
func (c *Config) EnsureDirs() error {
	return utils.EnsureDirs(
		c.ImageDir(),
		c.dbDir(),
		c.RunDir,
		c.VMLogDir(),
	)
}

// Derived path helpers. Persistent data lives under {RootDir}, runtime state
// under {RunDir}, per-boot logs under {LogDir}/qemu.

func (c *Config) dbDir() string { return filepath.Join(c.RootDir, "db") }

// ImageDir holds the installed disk image plus in-flight download scratch
// directories (".download-*", swept by gc).
func (c *Config) ImageDir() string  { return filepath.Join(c.RootDir, "images") }
func (c *Config) ImagePath() string { return filepath.Join(c.ImageDir(), ImageFileName) }
func (c *Config) ImageLock() string { return filepath.Join(c.ImageDir(), ".image.lock") }

// ImageIndexFile and ImageIndexLock are the installed-image record paths.
func (c *Config) ImageIndexFile() string { return filepath.Join(c.dbDir(), "image.json") }
func (c *Config) ImageIndexLock() string { return filepath.Join(c.dbDir(), "image.lock") }

// OptionsFile and OptionsLock persist the last boot options, so restart and
// an option-less start reuse the previous resources.
func (c *Config) OptionsFile() string { return filepath.Join(c.dbDir(), "options.json") }
func (c *Config) OptionsLock() string { return filepath.Join(c.dbDir(), "options.lock") }

// VMRecordFile and VMRecordLock are the runtime VM record paths. The record
// exists only while a boot is believed alive.
func (c *Config) VMRecordFile() string { return filepath.Join(c.RunDir, "vm.json") }
func (c *Config) VMRecordLock() string { return filepath.Join(c.RunDir, "vm.lock") }

// VMLogDir holds one combined stdout+stderr log per boot.
// Namespaced under "qemu" so future backends scan their own subdirectory.
func (c *Config) VMLogDir() string { return filepath.Join(c.LogDir, "qemu") }

// LogSweepLock guards the log retention sweep. It is distinct from
// VMRecordLock because the sweep reads the run record under that lock.
func (c *Config) LogSweepLock() string { return filepath.Join(c.RunDir, "logs.lock") }

// HealthURL is the guest service health endpoint, reachable through the
// fixed gateway port forward.
func (c *Config) HealthURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", c.GatewayPort, c.HealthPath)
}
