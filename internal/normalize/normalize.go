// Package normalize converts protocol events into canonical payloads and
// hands them to a sink.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leandrotocalini/wagateway/internal/dedup"
	"github.com/leandrotocalini/wagateway/internal/media"
	"github.com/leandrotocalini/wagateway/internal/notify"
	"github.com/leandrotocalini/wagateway/internal/payload"
	"github.com/leandrotocalini/wagateway/internal/protocol"
)

// Reasons a message is dropped without delivery.
var (
	ErrNoContent   = errors.New("message has no content")
	ErrBroadcast   = errors.New("broadcast counterpart")
	ErrUnsupported = errors.New("unsupported message kind")
	ErrDuplicate   = errors.New("duplicate message")
)

// Resolver is the slice of a connection the normalizer needs.
type Resolver interface {
	ProfilePicture(ctx context.Context, jid string) (string, error)
	GroupInfo(ctx context.Context, jid string) (*protocol.GroupInfo, error)
	Download(ctx context.Context, ref protocol.MediaRef) ([]byte, error)
}

// MediaFetcher retrieves attachments to local files.
type MediaFetcher interface {
	Fetch(ctx context.Context, account string, kind protocol.MessageKind, mimetype string, download media.DownloadFunc) (string, error)
	Release(path string)
}

// MediaIndex records attachments so they can be downloaded again later.
type MediaIndex interface {
	Remember(ctx context.Context, account, messageID string, m protocol.Media) error
}

// Normalizer builds canonical payloads for one process. It holds no
// per-event state; every payload is constructed from scratch.
type Normalizer struct {
	sink          notify.Sink
	media         MediaFetcher
	index         MediaIndex
	seen          *dedup.Set
	processAppend bool
	logger        *slog.Logger
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Normalizer) {
		n.logger = l
	}
}

// WithMediaIndex records every normalized attachment in idx.
func WithMediaIndex(idx MediaIndex) Option {
	return func(n *Normalizer) {
		n.index = idx
	}
}

// WithDedup sets the set used to skip redelivered message ids.
func WithDedup(s *dedup.Set) Option {
	return func(n *Normalizer) {
		n.seen = s
	}
}

// WithAppendBatches makes append-class batches eligible for processing.
func WithAppendBatches(enabled bool) Option {
	return func(n *Normalizer) {
		n.processAppend = enabled
	}
}

// New creates a normalizer delivering to sink.
func New(sink notify.Sink, fetcher MediaFetcher, opts ...Option) *Normalizer {
	n := &Normalizer{
		sink:   sink,
		media:  fetcher,
		seen:   dedup.New(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// HandlePresence forwards a direct-chat presence change. It reports whether
// a payload was delivered.
func (n *Normalizer) HandlePresence(ctx context.Context, account string, ev protocol.PresenceUpdate) bool {
	if ev.IsGroup || protocol.IsGroupJID(ev.Chat) {
		return false
	}
	if ev.Presence == "" {
		return false
	}
	n.sink.Notify(ctx, account, payload.Presence(account, protocol.NumberFromJID(ev.Chat), ev.Presence))
	return true
}

// HandleUpsert processes the first message of an eligible batch.
func (n *Normalizer) HandleUpsert(ctx context.Context, account string, r Resolver, ev protocol.MessagesUpsert) {
	eligible := ev.Kind == protocol.UpsertNotify || (ev.Kind == protocol.UpsertAppend && n.processAppend)
	if !eligible {
		n.logger.Debug("ignoring message batch", "account", account, "kind", ev.Kind.String(), "count", len(ev.Messages))
		return
	}
	if len(ev.Messages) == 0 || ev.Messages[0] == nil {
		return
	}

	err := n.Process(ctx, account, r, ev.Messages[0])
	switch {
	case err == nil:
	case errors.Is(err, ErrNoContent), errors.Is(err, ErrBroadcast), errors.Is(err, ErrUnsupported), errors.Is(err, ErrDuplicate):
		n.logger.Debug("message skipped", "account", account, "id", ev.Messages[0].ID, "reason", err.Error())
	default:
		n.logger.Warn("message dropped", "account", account, "id", ev.Messages[0].ID, "error", err)
	}
}

// Process normalizes one message and delivers it. A retrieved media file is
// removed once delivery has been attempted, whatever its outcome.
func (n *Normalizer) Process(ctx context.Context, account string, r Resolver, msg *protocol.Message) error {
	if msg.Content == nil {
		return ErrNoContent
	}
	group := msg.IsGroup || protocol.IsGroupJID(msg.Chat)
	counterpart := msg.Chat
	if group {
		counterpart = msg.Sender
	}
	if protocol.IsBroadcastJID(msg.Chat) || protocol.IsBroadcastJID(counterpart) {
		return ErrBroadcast
	}
	if u, ok := msg.Content.(protocol.Unsupported); ok && u.Of != protocol.KindUnknown {
		return fmt.Errorf("%w: %s", ErrUnsupported, u.Of)
	}
	if n.seen != nil && !n.seen.First(account+"/"+msg.ID) {
		return ErrDuplicate
	}

	party := n.resolveParty(ctx, r, msg, group, counterpart)

	body, file, err := n.buildBody(ctx, account, r, msg)
	if err != nil {
		return err
	}
	if file != "" {
		defer n.media.Release(file)
	}

	direction := payload.TransferReceived
	if msg.FromMe {
		direction = payload.TransferSent
	}
	p := payload.NewMessage(payload.MessageData{
		TransferType: direction,
		OtherParty:   party,
		Message: payload.Message{
			ID:        msg.ID,
			Timestamp: msg.Timestamp.Unix(),
			Body:      body,
		},
	})

	n.sink.Notify(ctx, account, p)
	return nil
}

func (n *Normalizer) resolveParty(ctx context.Context, r Resolver, msg *protocol.Message, group bool, counterpart string) payload.Party {
	name := msg.PushName
	if name == "" {
		name = msg.VerifiedName
	}
	party := payload.Party{
		Number:  protocol.NumberFromJID(counterpart),
		Name:    payload.Optional(name),
		IsGroup: group,
	}

	if group {
		party.Group = payload.Optional(msg.Chat)
		info, err := r.GroupInfo(ctx, msg.Chat)
		if err != nil {
			n.logger.Debug("group metadata unavailable", "group", msg.Chat, "error", err)
		} else if info != nil {
			party.GroupName = payload.Optional(info.Name)
		}
		party.GroupProfilePictureHD = n.picture(ctx, r, msg.Chat)
	}
	party.ProfilePictureHD = n.picture(ctx, r, counterpart)
	return party
}

// picture returns the HD profile picture URL, or nil when there is none.
func (n *Normalizer) picture(ctx context.Context, r Resolver, jid string) *string {
	url, err := r.ProfilePicture(ctx, jid)
	if err != nil {
		n.logger.Debug("profile picture unavailable", "jid", jid, "error", err)
		return nil
	}
	return payload.Optional(url)
}

func (n *Normalizer) buildBody(ctx context.Context, account string, r Resolver, msg *protocol.Message) (payload.Body, string, error) {
	switch c := msg.Content.(type) {
	case protocol.Text:
		return payload.TextBody{Caption: c.Body}, "", nil

	case protocol.Media:
		path, err := n.media.Fetch(ctx, account, c.MediaKind, c.Mimetype, func(ctx context.Context) ([]byte, error) {
			return r.Download(ctx, c.Ref)
		})
		if err != nil {
			return nil, "", fmt.Errorf("retrieve media: %w", err)
		}
		if n.index != nil {
			if err := n.index.Remember(ctx, account, msg.ID, c); err != nil {
				n.logger.Warn("failed to index media", "account", account, "id", msg.ID, "error", err)
			}
		}
		return payload.MediaBody{
			Kind:     c.MediaKind.String(),
			File:     path,
			Mimetype: c.Mimetype,
			Caption:  c.Caption,
			Filename: c.FileName,
		}, path, nil

	case protocol.Contacts:
		return contactBody(c), "", nil

	case protocol.Location:
		return payload.LocationBody{Lat: c.Lat, Long: c.Long}, "", nil

	default:
		return payload.UnsupportedBody{}, "", nil
	}
}
