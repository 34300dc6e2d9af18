//go:build linux

package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// verifyProcessCmdline checks argv for the expected binary and argument.
// /proc cmdline entries are NUL separated; argv[0] may be a bare name or a
// full path, and the expected argument may be embedded in a composite option
// (the disk image path sits inside a -drive file=... value).
func verifyProcessCmdline(pid int, binaryName, expectArg string) (matched, available bool) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		return false, false
	}
	argv := strings.Split(strings.TrimRight(string(data), "\x00"), "\x00")
	if len(argv) == 0 || filepath.Base(argv[0]) != binaryName {
		return false, true
	}
	for _, arg := range argv[1:] {
		if strings.Contains(arg, expectArg) {
			return true, true
		}
	}
	return false, true
}
