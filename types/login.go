package types

// LoginState tracks the console login automation. The set is closed: every
// consumer switches over exactly these values.
type LoginState int

const (
	LoginIdle            LoginState = iota // no automation in progress
	LoginWaitingLogin                      // waiting for the login: prompt
	LoginWaitingPassword                   // username sent, waiting for the password prompt
	LoginWaitingShell                      // password sent, waiting for a shell prompt
	LoginConfiguring                       // shell reached, terminal setup commands running
	LoginReady                             // session usable
)

func (s LoginState) String() string {
	switch s {
	case LoginIdle:
		return "idle"
	case LoginWaitingLogin:
		return "waiting-login"
	case LoginWaitingPassword:
		return "waiting-password"
	case LoginWaitingShell:
		return "waiting-shell"
	case LoginConfiguring:
		return "configuring"
	case LoginReady:
		return "ready"
	default:
		return "unknown"
	}
}
