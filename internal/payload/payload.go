// Package payload defines the canonical, backend-facing event envelope.
// Every constructor returns a fresh value; nothing is shared between events.
package payload

import "encoding/json"

// Type tags the envelope.
type Type string

const (
	TypeConnection      Type = "connection"
	TypePresenceUpdate  Type = "presence_update"
	TypeIncomingMessage Type = "incoming_message"
	TypeOutgoingMessage Type = "outgoing_message"
)

// Payload is the envelope forwarded to the backend. Data's concrete type is
// determined by Type: ConnectionData, PresenceData or MessageData.
type Payload struct {
	Type Type `json:"type"`
	Data any  `json:"data"`
}

// ConnectionData reports a lifecycle transition.
type ConnectionData struct {
	Status  string `json:"status"`
	Phone   string `json:"phone,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Account string `json:"uuid"`
}

// PresenceData reports a peer's presence.
type PresenceData struct {
	Type     string `json:"type"`
	Number   string `json:"number"`
	Account  string `json:"uuid"`
	Presence string `json:"presence"`
}

// Transfer directions.
const (
	TransferSent     = "sent"
	TransferReceived = "received"
)

// MessageData is a normalized message.
type MessageData struct {
	TransferType string  `json:"transfer_type"`
	OtherParty   Party   `json:"other_party"`
	Message      Message `json:"message"`
}

// Party describes the counterpart. Unresolved fields encode as null.
type Party struct {
	Number                string  `json:"number"`
	Name                  *string `json:"name"`
	ProfilePictureHD      *string `json:"profile_picture_hd"`
	IsGroup               bool    `json:"is_group"`
	Group                 *string `json:"group"`
	GroupName             *string `json:"group_name"`
	GroupProfilePictureHD *string `json:"group_profile_picture_hd"`
}

// Connected builds a connection payload for an established session.
func Connected(account, phone string) Payload {
	return Payload{
		Type: TypeConnection,
		Data: ConnectionData{Status: "connected", Phone: phone, Account: account},
	}
}

// Disconnected builds a terminal connection payload.
func Disconnected(account, reason string) Payload {
	return Payload{
		Type: TypeConnection,
		Data: ConnectionData{Status: "disconnected", Reason: reason, Account: account},
	}
}

// Presence builds a presence payload.
func Presence(account, number, presence string) Payload {
	return Payload{
		Type: TypePresenceUpdate,
		Data: PresenceData{Type: "presence", Number: number, Account: account, Presence: presence},
	}
}

// NewMessage wraps normalized message data, tagging it by direction.
func NewMessage(data MessageData) Payload {
	t := TypeIncomingMessage
	if data.TransferType == TransferSent {
		t = TypeOutgoingMessage
	}
	return Payload{Type: t, Data: data}
}

// Optional returns nil for the empty string.
func Optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Encode marshals the payload.
func (p Payload) Encode() ([]byte, error) {
	return json.Marshal(p)
}
