package utils

import (
	"errors"
	"fmt"
	"net"
)

// PortScanSpan is how many consecutive ports FindFreePort probes.
const PortScanSpan = 100

// ErrNoFreePort is returned when every candidate port in the scan range is taken.
var ErrNoFreePort = errors.New("no free port in scan range")

// FindFreePort scans [start, start+PortScanSpan) for a TCP port that can be
// bound on loopback and returns the first hit. The probe listener is closed
// before returning so the port is free for the caller to hand to a child
// process. That window is unavoidable; the child rebinding is what actually
// claims the port.
func FindFreePort(start int) (int, error) {
	for port := start; port < start+PortScanSpan; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			continue
		}
		_ = ln.Close()
		return port, nil
	}
	return 0, fmt.Errorf("ports %d-%d: %w", start, start+PortScanSpan-1, ErrNoFreePort)
}
