//go:build !linux

package network

import (
	"context"
	"errors"

	"github.com/openclaw/carapace/types"
)

// ErrBridgeUnsupported rejects tap networking on platforms without netlink.
var ErrBridgeUnsupported = errors.New("bridge networking requires Linux")

// Bridge is a stub on non-Linux platforms; user mode is the only backend.
type Bridge struct {
	Name string
}

func (b *Bridge) Build(context.Context, string) (types.Netdev, []string, error) {
	return types.Netdev{}, nil, ErrBridgeUnsupported
}

func (b *Bridge) Teardown(context.Context, types.Netdev) error { return nil }
