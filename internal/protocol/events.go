package protocol

// Event is one item on a connection's event stream. The set is closed:
// PairingCode, Connected, Disconnected, PresenceUpdate and MessagesUpsert.
type Event interface {
	event()
}

// PairingCode carries a fresh scannable code. Codes rotate while unscanned.
type PairingCode struct {
	Code string
}

// Connected reports a completed handshake.
type Connected struct {
	Phone string
}

// Disconnected reports that the connection attempt ended.
type Disconnected struct {
	Reason DisconnectReason
	Detail string
}

// PresenceUpdate is a peer presence change. Presence is empty when the
// client could not resolve a value.
type PresenceUpdate struct {
	Chat     string
	IsGroup  bool
	Presence string
}

// UpsertKind classifies a batch of message upserts.
type UpsertKind int

const (
	UpsertNotify UpsertKind = iota
	UpsertAppend
)

func (k UpsertKind) String() string {
	switch k {
	case UpsertNotify:
		return "notify"
	case UpsertAppend:
		return "append"
	default:
		return "unknown"
	}
}

// MessagesUpsert is a batch of messages delivered together.
type MessagesUpsert struct {
	Kind     UpsertKind
	Messages []*Message
}

func (PairingCode) event()    {}
func (Connected) event()      {}
func (Disconnected) event()   {}
func (PresenceUpdate) event() {}
func (MessagesUpsert) event() {}

// DisconnectReason is the coded cause accompanying a closed connection.
type DisconnectReason int

const (
	ReasonUnknown DisconnectReason = iota
	ReasonLoggedOut
	ReasonRestartRequired
	ReasonConnectionReplaced
	ReasonServiceUnavailable
	ReasonConnectionLost
	ReasonTimedOut
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonLoggedOut:
		return "logged_out"
	case ReasonRestartRequired:
		return "restart_required"
	case ReasonConnectionReplaced:
		return "connection_replaced"
	case ReasonServiceUnavailable:
		return "service_unavailable"
	case ReasonConnectionLost:
		return "connection_lost"
	case ReasonTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}
