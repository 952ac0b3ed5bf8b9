// Package protocol defines the capability surface the gateway consumes from
// a messaging-network client: a per-account connection handle that emits
// typed events and accepts send and query operations.
package protocol

import (
	"context"
	"errors"
	"time"
)

// ErrNotPaired is returned by operations that need an authenticated device.
var ErrNotPaired = errors.New("device not paired")

// Dialer opens a connection handle for an account using its stored auth state.
type Dialer interface {
	Dial(ctx context.Context, account string) (Conn, error)
}

// Conn is a live connection handle for one account.
//
// Events delivers lifecycle and content events in order. The channel stays
// open until Close is called; a Disconnected event is always the last
// lifecycle event of a connection attempt.
type Conn interface {
	Events() <-chan Event

	// Connect starts the handshake. With no stored credentials the handle
	// emits PairingCode events until a scan completes.
	Connect(ctx context.Context) error
	// Close tears the socket down without invalidating credentials.
	Close()
	// Logout invalidates the device link on the network side.
	Logout(ctx context.Context) error

	OwnNumber() string
	GenerateMessageID() string

	IsOnWhatsApp(ctx context.Context, number string) (Registration, error)
	ProfilePicture(ctx context.Context, jid string) (string, error)
	GroupInfo(ctx context.Context, jid string) (*GroupInfo, error)
	JoinedGroups(ctx context.Context) ([]GroupInfo, error)

	Send(ctx context.Context, to string, id string, msg Outbound) (time.Time, error)
	Download(ctx context.Context, ref MediaRef) ([]byte, error)

	MarkRead(ctx context.Context, chat string, ids []string) error
	SendPresence(ctx context.Context, to string, presence string) error
	SubscribePresence(ctx context.Context, to string) error
}

// Registration is the result of a registered-number lookup.
type Registration struct {
	Query      string
	JID        string
	Registered bool
}

// GroupInfo is group metadata with participant numbers resolved when known.
type GroupInfo struct {
	JID          string        `json:"id"`
	Name         string        `json:"subject"`
	Topic        string        `json:"description,omitempty"`
	Owner        string        `json:"owner,omitempty"`
	Created      time.Time     `json:"created"`
	Announce     bool          `json:"announce"`
	Locked       bool          `json:"restrict"`
	Community    bool          `json:"-"`
	DefaultSub   bool          `json:"-"`
	Participants []Participant `json:"participants,omitempty"`
}

// Participant is one member of a group.
type Participant struct {
	JID          string `json:"id"`
	Number       string `json:"number,omitempty"`
	IsAdmin      bool   `json:"admin"`
	IsSuperAdmin bool   `json:"super_admin"`
}
