package vm

import "github.com/openclaw/carapace/types"

// Event describes one lifecycle transition of the supervised VM. Login is
// meaningful only while State is authenticating; elsewhere it stays at the
// zero value.
type Event struct {
	RunID string
	State types.VMState
	Login types.LoginState
}
