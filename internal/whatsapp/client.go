// Package whatsapp implements the protocol client on top of whatsmeow.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/leandrotocalini/wagateway/internal/protocol"
)

const eventBuffer = 256

// ErrUnknownPresence is returned for presence values the network does not
// accept.
var ErrUnknownPresence = errors.New("unknown presence")

func init() {
	// Reconnect after 30s of keepalive failures instead of the default 3 minutes.
	whatsmeow.KeepAliveMaxFailTime = 30 * time.Second
}

// SetDeviceName sets the name that appears in WhatsApp > Linked Devices.
// Must be called before the first Dial.
func SetDeviceName(name string) {
	store.SetOSInfo(name, [3]uint32{1, 0, 0})
}

// DeviceStore loads and binds per-account device state.
type DeviceStore interface {
	// Device returns the account's stored device, or a fresh unpaired one.
	Device(ctx context.Context, account string) (*store.Device, error)
	// Bind records that account is now paired as id.
	Bind(ctx context.Context, account string, id types.JID) error
}

// Dialer creates whatsmeow clients per account.
type Dialer struct {
	devices   DeviceStore
	logger    *slog.Logger
	clientLog func(account string) waLog.Logger
}

// DialerOption configures a Dialer.
type DialerOption func(*Dialer)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) DialerOption {
	return func(d *Dialer) {
		d.logger = l
	}
}

// WithClientLog sets the logger factory handed to whatsmeow clients.
func WithClientLog(fn func(account string) waLog.Logger) DialerOption {
	return func(d *Dialer) {
		d.clientLog = fn
	}
}

// NewDialer creates a dialer backed by devices.
func NewDialer(devices DeviceStore, opts ...DialerOption) *Dialer {
	d := &Dialer{
		devices:   devices,
		logger:    slog.Default(),
		clientLog: func(string) waLog.Logger { return waLog.Noop },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dial builds a client for account. Nothing touches the network until
// Connect.
func (d *Dialer) Dial(ctx context.Context, account string) (protocol.Conn, error) {
	device, err := d.devices.Device(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}

	cli := whatsmeow.NewClient(device, d.clientLog(account))
	// The supervisor owns reconnection.
	cli.EnableAutoReconnect = false

	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cli:     cli,
		account: account,
		devices: d.devices,
		logger:  d.logger.With("account", account),
		events:  make(chan protocol.Event, eventBuffer),
		done:    make(chan struct{}),
		ctx:     cctx,
		cancel:  cancel,
	}
	c.handlerID = cli.AddEventHandler(c.handle)
	return c, nil
}

// Client is one account's whatsmeow connection.
type Client struct {
	cli       *whatsmeow.Client
	account   string
	devices   DeviceStore
	logger    *slog.Logger
	handlerID uint32

	events chan protocol.Event
	done   chan struct{}
	ended  atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func (c *Client) Events() <-chan protocol.Event { return c.events }

// Connect opens the socket. An unpaired device starts emitting pairing
// codes.
func (c *Client) Connect(ctx context.Context) error {
	if c.cli.Store.ID == nil {
		qr, err := c.cli.GetQRChannel(c.ctx)
		if err != nil {
			return fmt.Errorf("get QR channel: %w", err)
		}
		go c.pumpQR(qr)
	}
	if err := c.cli.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// Close disconnects without logging out. Safe to call more than once.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		c.cancel()
		c.cli.RemoveEventHandler(c.handlerID)
		c.cli.Disconnect()
	})
}

// Logout unlinks the device on the network side.
func (c *Client) Logout(ctx context.Context) error {
	if c.cli.Store.ID == nil {
		return protocol.ErrNotPaired
	}
	if err := c.cli.Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// OwnNumber returns the paired phone number, or "" before pairing.
func (c *Client) OwnNumber() string {
	if c.cli.Store.ID == nil {
		return ""
	}
	return c.cli.Store.ID.User
}

func (c *Client) GenerateMessageID() string {
	return string(c.cli.GenerateMessageID())
}

// IsOnWhatsApp looks up a bare phone number.
func (c *Client) IsOnWhatsApp(ctx context.Context, number string) (protocol.Registration, error) {
	resp, err := c.cli.IsOnWhatsApp(ctx, []string{"+" + number})
	if err != nil {
		return protocol.Registration{}, fmt.Errorf("lookup %s: %w", number, err)
	}
	reg := protocol.Registration{Query: number}
	if len(resp) > 0 && resp[0].IsIn {
		reg.Registered = true
		reg.JID = resp[0].JID.String()
	}
	return reg, nil
}

// ProfilePicture returns the full-size picture URL, or "" when none is set.
func (c *Client) ProfilePicture(ctx context.Context, jid string) (string, error) {
	target, err := types.ParseJID(jid)
	if err != nil {
		return "", fmt.Errorf("invalid JID: %w", err)
	}
	info, err := c.cli.GetProfilePictureInfo(ctx, target, &whatsmeow.GetProfilePictureParams{Preview: false})
	if errors.Is(err, whatsmeow.ErrProfilePictureNotSet) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("profile picture: %w", err)
	}
	if info == nil {
		return "", nil
	}
	return info.URL, nil
}

// Send builds the wire message for msg and sends it under id.
func (c *Client) Send(ctx context.Context, to string, id string, msg protocol.Outbound) (time.Time, error) {
	jid, err := types.ParseJID(to)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid JID: %w", err)
	}

	var body *waE2E.Message
	switch m := msg.(type) {
	case protocol.OutText:
		body = textMessage(m.Body)
	case protocol.OutLocation:
		body = locationMessage(m)
	case protocol.OutContacts:
		body = contactsMessage(m)
	case protocol.OutMedia:
		body, err = c.upload(ctx, m.MediaKind, m.Data, m.Mimetype, m.Caption, "")
	case protocol.OutDocument:
		body, err = c.upload(ctx, protocol.KindDocument, m.Data, m.Mimetype, m.Caption, m.FileName)
	default:
		return time.Time{}, fmt.Errorf("unsupported outbound message %T", msg)
	}
	if err != nil {
		return time.Time{}, err
	}

	resp, err := c.cli.SendMessage(ctx, jid, body, whatsmeow.SendRequestExtra{ID: types.MessageID(id)})
	if err != nil {
		return time.Time{}, fmt.Errorf("send: %w", err)
	}
	return resp.Timestamp, nil
}

func (c *Client) upload(ctx context.Context, kind protocol.MessageKind, data []byte, mimetype, caption, fileName string) (*waE2E.Message, error) {
	mt, err := mediaType(kind)
	if err != nil {
		return nil, err
	}
	up, err := c.cli.Upload(ctx, data, mt)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", kind, err)
	}
	return uploadedMessage(kind, up, mimetype, caption, fileName), nil
}

// Download fetches and decrypts a stored attachment.
func (c *Client) Download(ctx context.Context, ref protocol.MediaRef) ([]byte, error) {
	msg, err := decodeRef(ref)
	if err != nil {
		return nil, err
	}
	data, err := c.cli.Download(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", ref.Kind, err)
	}
	return data, nil
}

// MarkRead sends read receipts for ids in chat.
func (c *Client) MarkRead(ctx context.Context, chat string, ids []string) error {
	jid, err := types.ParseJID(chat)
	if err != nil {
		return fmt.Errorf("invalid chat JID: %w", err)
	}
	msgIDs := make([]types.MessageID, len(ids))
	for i, id := range ids {
		msgIDs[i] = types.MessageID(id)
	}
	if err := c.cli.MarkRead(ctx, msgIDs, time.Now(), jid, types.EmptyJID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// SendPresence sends available/unavailable globally, or a chat state
// (composing, recording, paused) to one chat.
func (c *Client) SendPresence(ctx context.Context, to string, presence string) error {
	switch presence {
	case "available":
		return c.cli.SendPresence(ctx, types.PresenceAvailable)
	case "unavailable":
		return c.cli.SendPresence(ctx, types.PresenceUnavailable)
	}

	jid, err := types.ParseJID(to)
	if err != nil {
		return fmt.Errorf("invalid JID: %w", err)
	}
	switch presence {
	case "composing":
		return c.cli.SendChatPresence(ctx, jid, types.ChatPresenceComposing, "")
	case "recording":
		return c.cli.SendChatPresence(ctx, jid, types.ChatPresenceComposing, types.ChatPresenceMediaAudio)
	case "paused":
		return c.cli.SendChatPresence(ctx, jid, types.ChatPresencePaused, "")
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPresence, presence)
	}
}

// SubscribePresence asks the network for the peer's presence updates.
func (c *Client) SubscribePresence(ctx context.Context, to string) error {
	jid, err := types.ParseJID(to)
	if err != nil {
		return fmt.Errorf("invalid JID: %w", err)
	}
	return c.cli.SubscribePresence(ctx, jid)
}
