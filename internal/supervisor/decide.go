package supervisor

import "github.com/leandrotocalini/wagateway/internal/protocol"

// Action is what the supervisor does after a connection closes.
type Action int

const (
	// ActionRetry restarts the connection after the retry delay.
	ActionRetry Action = iota
	// ActionPurge deletes stored credentials and drops the account.
	ActionPurge
)

func (a Action) String() string {
	if a == ActionPurge {
		return "purge"
	}
	return "retry"
}

// Decide maps a disconnect reason to exactly one action. Only a logout is
// terminal; every other reason, including unrecognized ones, is retried.
func Decide(reason protocol.DisconnectReason) Action {
	switch reason {
	case protocol.ReasonLoggedOut:
		return ActionPurge
	case protocol.ReasonRestartRequired,
		protocol.ReasonConnectionReplaced,
		protocol.ReasonServiceUnavailable:
		return ActionRetry
	default:
		return ActionRetry
	}
}
