package qemu

import (
	"fmt"
	"runtime"
	"strconv"

	"github.com/openclaw/carapace/config"
	"github.com/openclaw/carapace/types"
)

// accelChain returns the -machine accel list for this host: hardware
// acceleration first, plain emulation as the always-available fallback.
// QEMU tries the entries in order, so a host without KVM/HVF still boots.
func accelChain() string {
	switch runtime.GOOS {
	case "linux":
		return "kvm:tcg"
	case "darwin":
		return "hvf:tcg"
	default:
		return "tcg"
	}
}

// buildArgs assembles the QEMU command line. The output is deterministic for
// a given input set: flag order is fixed and every value is derived from the
// arguments, so a recorded cmdline can be compared across invocations.
func buildArgs(conf *config.Config, opts types.VMOptions, netArgs []string, consolePort, controlPort int) []string {
	args := []string{
		"-name", "carapace",
		"-machine", "q35,accel=" + accelChain(),
		"-smp", strconv.Itoa(opts.CPU),
		"-m", fmt.Sprintf("%dM", opts.Memory>>20),
		"-display", "none",
		"-drive", fmt.Sprintf("file=%s,format=qcow2,if=virtio", conf.ImagePath()),
		"-chardev", fmt.Sprintf("socket,id=console0,host=127.0.0.1,port=%d,server=on,wait=off", consolePort),
		"-serial", "chardev:console0",
		"-chardev", fmt.Sprintf("socket,id=monitor0,host=127.0.0.1,port=%d,server=on,wait=off", controlPort),
		"-qmp", "chardev:monitor0",
	}
	if opts.SharedDir != "" {
		args = append(args, "-virtfs",
			fmt.Sprintf("local,path=%s,mount_tag=shared,security_model=mapped-xattr,id=shared", opts.SharedDir))
	}
	return append(args, netArgs...)
}
