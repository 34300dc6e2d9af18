package utils

import "syscall"

// IsProcessAlive reports whether a process with pid currently exists.
// Uses kill(pid, 0): no signal is sent, only existence is checked.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// VerifyProcessCmdline reports whether pid runs binaryName with expectArg
// somewhere in its command line. Guards record adoption against PIDs
// recycled by unrelated processes. Platforms that cannot inspect the
// command line fall back to plain liveness.
func VerifyProcessCmdline(pid int, binaryName, expectArg string) bool {
	if pid <= 0 {
		return false
	}
	if matched, available := verifyProcessCmdline(pid, binaryName, expectArg); available {
		return matched
	}
	return IsProcessAlive(pid)
}
