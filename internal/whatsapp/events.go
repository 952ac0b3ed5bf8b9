package whatsapp

import (
	"context"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/leandrotocalini/wagateway/internal/protocol"
)

// handle translates whatsmeow events into the protocol event stream. It
// runs on whatsmeow's dispatch goroutine.
func (c *Client) handle(evt any) {
	switch v := evt.(type) {
	case *events.Connected:
		// Without an available presence the linked device is treated as
		// offline and chat presence and read receipts are ignored.
		go func() {
			if err := c.cli.SendPresence(c.ctx, types.PresenceAvailable); err != nil {
				c.logger.Debug("failed to announce presence", "error", err)
			}
		}()
		c.lifecycle(protocol.Connected{Phone: c.OwnNumber()})

	case *events.PairSuccess:
		if err := c.devices.Bind(c.ctx, c.account, v.ID); err != nil {
			c.logger.Error("failed to bind paired device", "jid", v.ID.String(), "error", err)
		}
		c.logger.Info("device paired", "jid", v.ID.String(), "platform", v.Platform)

	case *events.LoggedOut:
		c.end(protocol.ReasonLoggedOut, v.Reason.String())
	case *events.StreamReplaced:
		c.end(protocol.ReasonConnectionReplaced, "stream replaced")
	case *events.ConnectFailure:
		c.end(connectFailureReason(v.Reason), v.Message)
	case *events.TemporaryBan:
		c.end(protocol.ReasonServiceUnavailable, v.String())
	case *events.ClientOutdated:
		c.end(protocol.ReasonUnknown, "client outdated")
	case *events.StreamError:
		c.end(streamErrorReason(v.Code), "stream error "+v.Code)
	case *events.Disconnected:
		c.end(protocol.ReasonConnectionLost, "socket closed")
	case *events.KeepAliveTimeout:
		if time.Since(v.LastSuccess) > whatsmeow.KeepAliveMaxFailTime {
			c.end(protocol.ReasonConnectionLost, "keepalive timeout")
		}

	case *events.Presence:
		presence := "available"
		if v.Unavailable {
			presence = "unavailable"
		}
		c.content(protocol.PresenceUpdate{Chat: c.phoneJID(v.From).String(), Presence: presence})
	case *events.ChatPresence:
		c.content(protocol.PresenceUpdate{
			Chat:     c.phoneJID(phoneChat(v.MessageSource)).String(),
			IsGroup:  v.IsGroup,
			Presence: chatPresence(v.State, v.Media),
		})

	case *events.Message:
		c.content(protocol.MessagesUpsert{
			Kind:     protocol.UpsertNotify,
			Messages: []*protocol.Message{convertMessage(v.Info, v.Message)},
		})
	case *events.HistorySync:
		c.historySync(v)
	}
}

func (c *Client) historySync(v *events.HistorySync) {
	var msgs []*protocol.Message
	for _, conv := range v.Data.GetConversations() {
		chat, err := types.ParseJID(conv.GetID())
		if err != nil {
			continue
		}
		for _, hm := range conv.GetMessages() {
			evt, err := c.cli.ParseWebMessage(chat, hm.GetMessage())
			if err != nil {
				continue
			}
			msgs = append(msgs, convertMessage(evt.Info, evt.Message))
		}
	}
	if len(msgs) == 0 {
		return
	}
	c.content(protocol.MessagesUpsert{Kind: protocol.UpsertAppend, Messages: msgs})
}

// pumpQR forwards pairing codes until the QR channel closes.
func (c *Client) pumpQR(qr <-chan whatsmeow.QRChannelItem) {
	for item := range qr {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			c.lifecycle(protocol.PairingCode{Code: item.Code})
		case "success":
		case "timeout":
			c.end(protocol.ReasonTimedOut, "pairing code expired")
		case whatsmeow.QRChannelEventError:
			c.end(protocol.ReasonUnknown, "pairing failed: "+errString(item.Error))
		default:
			c.end(protocol.ReasonUnknown, "pairing failed: "+item.Event)
		}
	}
}

// lifecycle delivers an event the supervisor must see. It blocks until the
// event is read or the handle is closed.
func (c *Client) lifecycle(ev protocol.Event) {
	if c.ended.Load() {
		return
	}
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// end reports the single terminal event of this handle.
func (c *Client) end(reason protocol.DisconnectReason, detail string) {
	if !c.ended.CompareAndSwap(false, true) {
		return
	}
	select {
	case c.events <- protocol.Disconnected{Reason: reason, Detail: detail}:
	case <-c.done:
	}
}

// content delivers a content event without blocking whatsmeow's dispatcher.
func (c *Client) content(ev protocol.Event) {
	if c.ended.Load() {
		return
	}
	select {
	case c.events <- ev:
	case <-c.done:
	default:
		c.logger.Warn("event buffer full, dropping event", "event", eventName(ev))
	}
}

// phoneJID maps a LID to its phone-number JID when the mapping is known.
func (c *Client) phoneJID(jid types.JID) types.JID {
	jid = jid.ToNonAD()
	if jid.Server != types.HiddenUserServer || c.cli.Store.LIDs == nil {
		return jid
	}
	ctx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
	defer cancel()
	pn, err := c.cli.Store.LIDs.GetPNForLID(ctx, jid)
	if err != nil || pn.IsEmpty() {
		return jid
	}
	return pn
}

func connectFailureReason(r events.ConnectFailureReason) protocol.DisconnectReason {
	switch {
	case r.IsLoggedOut():
		return protocol.ReasonLoggedOut
	case r == events.ConnectFailureServiceUnavailable, r == events.ConnectFailureInternalServerError:
		return protocol.ReasonServiceUnavailable
	default:
		return protocol.ReasonUnknown
	}
}

func streamErrorReason(code string) protocol.DisconnectReason {
	switch code {
	case "515":
		return protocol.ReasonRestartRequired
	case "503":
		return protocol.ReasonServiceUnavailable
	default:
		return protocol.ReasonUnknown
	}
}

func chatPresence(state types.ChatPresence, media types.ChatPresenceMedia) string {
	switch state {
	case types.ChatPresenceComposing:
		if media == types.ChatPresenceMediaAudio {
			return "recording"
		}
		return "composing"
	case types.ChatPresencePaused:
		return "paused"
	default:
		return ""
	}
}

func eventName(ev protocol.Event) string {
	switch ev.(type) {
	case protocol.PresenceUpdate:
		return "presence"
	case protocol.MessagesUpsert:
		return "messages"
	default:
		return "other"
	}
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
