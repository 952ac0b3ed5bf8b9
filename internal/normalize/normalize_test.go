package normalize

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/leandrotocalini/wagateway/internal/dedup"
	"github.com/leandrotocalini/wagateway/internal/media"
	"github.com/leandrotocalini/wagateway/internal/notify"
	"github.com/leandrotocalini/wagateway/internal/payload"
	"github.com/leandrotocalini/wagateway/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

type recordingSink struct {
	mu       sync.Mutex
	payloads []payload.Payload
	onNotify func(p payload.Payload)
}

func (s *recordingSink) Notify(_ context.Context, _ string, p payload.Payload) error {
	if s.onNotify != nil {
		s.onNotify(p)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, p)
	return nil
}

func (s *recordingSink) all() []payload.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]payload.Payload(nil), s.payloads...)
}

type fakeResolver struct {
	pictures  map[string]string
	groups    map[string]*protocol.GroupInfo
	download  []byte
	dlErr     error
	downloads int
}

func (f *fakeResolver) ProfilePicture(_ context.Context, jid string) (string, error) {
	if url, ok := f.pictures[jid]; ok {
		return url, nil
	}
	return "", errors.New("not set")
}

func (f *fakeResolver) GroupInfo(_ context.Context, jid string) (*protocol.GroupInfo, error) {
	if g, ok := f.groups[jid]; ok {
		return g, nil
	}
	return nil, errors.New("not a participant")
}

func (f *fakeResolver) Download(context.Context, protocol.MediaRef) ([]byte, error) {
	f.downloads++
	return f.download, f.dlErr
}

func newNormalizer(t *testing.T, sink notify.Sink, opts ...Option) (*Normalizer, string) {
	t.Helper()
	root := t.TempDir()
	opts = append([]Option{WithLogger(testLogger())}, opts...)
	return New(sink, media.New(root, media.WithLogger(testLogger())), opts...), root
}

func directMessage(id string, content protocol.Content) *protocol.Message {
	return &protocol.Message{
		ID:        id,
		Timestamp: time.Unix(1700000000, 0),
		Chat:      "15551234567@s.whatsapp.net",
		Sender:    "15551234567@s.whatsapp.net",
		PushName:  "Ann",
		Content:   content,
	}
}

func messageData(t *testing.T, p payload.Payload) payload.MessageData {
	t.Helper()
	data, ok := p.Data.(payload.MessageData)
	if !ok {
		t.Fatalf("payload data is %T, want MessageData", p.Data)
	}
	return data
}

func TestProcess_TextBodyVerbatim(t *testing.T) {
	sink := &recordingSink{}
	n, _ := newNormalizer(t, sink)
	r := &fakeResolver{pictures: map[string]string{"15551234567@s.whatsapp.net": "https://pps.example/ann.jpg"}}

	if err := n.Process(context.Background(), "acct-1", r, directMessage("M1", protocol.Text{Body: "hello *there*\n"})); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	got := sink.all()
	if len(got) != 1 {
		t.Fatalf("expected 1 payload, got %d", len(got))
	}
	if got[0].Type != payload.TypeIncomingMessage {
		t.Errorf("Type = %s, want incoming_message", got[0].Type)
	}
	data := messageData(t, got[0])
	body, ok := data.Message.Body.(payload.TextBody)
	if !ok || body.Caption != "hello *there*\n" {
		t.Errorf("body = %#v, want verbatim text", data.Message.Body)
	}
	if data.TransferType != payload.TransferReceived {
		t.Errorf("TransferType = %s", data.TransferType)
	}
	if data.OtherParty.Number != "15551234567" || *data.OtherParty.Name != "Ann" {
		t.Errorf("party = %+v", data.OtherParty)
	}
	if data.OtherParty.ProfilePictureHD == nil || *data.OtherParty.ProfilePictureHD != "https://pps.example/ann.jpg" {
		t.Errorf("profile picture not resolved: %+v", data.OtherParty.ProfilePictureHD)
	}
	if data.Message.Timestamp != 1700000000 {
		t.Errorf("Timestamp = %d", data.Message.Timestamp)
	}
}

func TestProcess_SelfSentIsOutgoing(t *testing.T) {
	sink := &recordingSink{}
	n, _ := newNormalizer(t, sink)
	msg := directMessage("M1", protocol.Text{Body: "hi"})
	msg.FromMe = true

	n.Process(context.Background(), "acct-1", &fakeResolver{}, msg)

	got := sink.all()
	if len(got) != 1 || got[0].Type != payload.TypeOutgoingMessage {
		t.Fatalf("expected one outgoing_message, got %+v", got)
	}
	if messageData(t, got[0]).TransferType != payload.TransferSent {
		t.Error("expected transfer_type sent")
	}
}

func TestProcess_GroupResolvesParticipant(t *testing.T) {
	sink := &recordingSink{}
	n, _ := newNormalizer(t, sink)
	r := &fakeResolver{
		groups:   map[string]*protocol.GroupInfo{"120363@g.us": {JID: "120363@g.us", Name: "Team"}},
		pictures: map[string]string{"120363@g.us": "https://pps.example/team.jpg"},
	}
	msg := &protocol.Message{
		ID:      "G1",
		IsGroup: true,
		Chat:    "120363@g.us",
		Sender:  "15550001111@s.whatsapp.net",
		Content: protocol.Text{Body: "hey all"},
	}

	if err := n.Process(context.Background(), "acct-1", r, msg); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	party := messageData(t, sink.all()[0]).OtherParty
	if !party.IsGroup || party.Number != "15550001111" {
		t.Errorf("party = %+v", party)
	}
	if party.Group == nil || *party.Group != "120363@g.us" {
		t.Errorf("Group = %v", party.Group)
	}
	if party.GroupName == nil || *party.GroupName != "Team" {
		t.Errorf("GroupName = %v", party.GroupName)
	}
	if party.GroupProfilePictureHD == nil {
		t.Error("expected group picture")
	}
	if party.ProfilePictureHD != nil {
		t.Error("participant has no picture, want nil")
	}
	if party.Name != nil {
		t.Error("no push name, want nil")
	}
}

func TestProcess_Rejections(t *testing.T) {
	tests := []struct {
		name string
		msg  *protocol.Message
		want error
	}{
		{"no content", directMessage("R1", nil), ErrNoContent},
		{"status broadcast", &protocol.Message{ID: "R2", Chat: protocol.StatusBroadcast, Sender: "1555@s.whatsapp.net", Content: protocol.Text{Body: "x"}}, ErrBroadcast},
		{"sticker", directMessage("R3", protocol.Unsupported{Of: protocol.KindSticker}), ErrUnsupported},
		{"live location", directMessage("R4", protocol.Unsupported{Of: protocol.KindLiveLocation}), ErrUnsupported},
		{"vcard", directMessage("R5", protocol.Unsupported{Of: protocol.KindVCard}), ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			n, _ := newNormalizer(t, sink)
			err := n.Process(context.Background(), "acct-1", &fakeResolver{}, tt.msg)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			if len(sink.all()) != 0 {
				t.Error("rejected message was delivered")
			}
		})
	}
}

func TestProcess_UnknownKindDeliveredAsUnsupported(t *testing.T) {
	sink := &recordingSink{}
	n, _ := newNormalizer(t, sink)

	if err := n.Process(context.Background(), "acct-1", &fakeResolver{}, directMessage("U1", protocol.Unsupported{Of: protocol.KindUnknown})); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	got := sink.all()
	if len(got) != 1 {
		t.Fatalf("expected 1 payload, got %d", len(got))
	}
	if _, ok := messageData(t, got[0]).Message.Body.(payload.UnsupportedBody); !ok {
		t.Errorf("body = %#v, want UnsupportedBody", messageData(t, got[0]).Message.Body)
	}
}

func TestProcess_DuplicateSkipped(t *testing.T) {
	sink := &recordingSink{}
	n, _ := newNormalizer(t, sink, WithDedup(dedup.New()))
	msg := directMessage("D1", protocol.Text{Body: "once"})

	n.Process(context.Background(), "acct-1", &fakeResolver{}, msg)
	if err := n.Process(context.Background(), "acct-1", &fakeResolver{}, msg); !errors.Is(err, ErrDuplicate) {
		t.Errorf("second Process error = %v, want ErrDuplicate", err)
	}
	// Same id on a different account is a different message.
	if err := n.Process(context.Background(), "acct-2", &fakeResolver{}, msg); err != nil {
		t.Errorf("other account error = %v", err)
	}
	if len(sink.all()) != 2 {
		t.Errorf("expected 2 deliveries, got %d", len(sink.all()))
	}
}

func TestProcess_ContactNumbersStripped(t *testing.T) {
	sink := &recordingSink{}
	n, _ := newNormalizer(t, sink)
	vcard := "BEGIN:VCARD\nVERSION:3.0\nFN:Bob\nTEL;TYPE=CELL:+1 555-123 4567\nEND:VCARD"

	n.Process(context.Background(), "acct-1", &fakeResolver{}, directMessage("C1", protocol.Contacts{
		DisplayName: "Bob",
		Cards:       []protocol.ContactCard{{DisplayName: "Bob", VCard: vcard}},
	}))

	body, ok := messageData(t, sink.all()[0]).Message.Body.(payload.ContactBody)
	if !ok {
		t.Fatal("expected ContactBody")
	}
	if body.Name != "Bob" || len(body.Numbers) != 1 || *body.Numbers[0] != "+15551234567" {
		t.Errorf("contact body = %+v", body)
	}
}

func TestProcess_LocationBody(t *testing.T) {
	sink := &recordingSink{}
	n, _ := newNormalizer(t, sink)

	n.Process(context.Background(), "acct-1", &fakeResolver{}, directMessage("L1", protocol.Location{Lat: 40.4, Long: -3.7}))

	body, ok := messageData(t, sink.all()[0]).Message.Body.(payload.LocationBody)
	if !ok || body.Lat != 40.4 || body.Long != -3.7 {
		t.Errorf("body = %#v", messageData(t, sink.all()[0]).Message.Body)
	}
}

type recordingIndex struct {
	ids []string
}

func (r *recordingIndex) Remember(_ context.Context, account, id string, _ protocol.Media) error {
	r.ids = append(r.ids, account+"/"+id)
	return nil
}

func TestProcess_MediaFileRemovedAfterDelivery(t *testing.T) {
	var seenPath string
	sink := &recordingSink{}
	sink.onNotify = func(p payload.Payload) {
		body := p.Data.(payload.MessageData).Message.Body.(payload.MediaBody)
		seenPath = body.File
		if _, err := os.Stat(body.File); err != nil {
			t.Errorf("media file missing during delivery: %v", err)
		}
	}
	idx := &recordingIndex{}
	n, _ := newNormalizer(t, sink, WithMediaIndex(idx))
	r := &fakeResolver{download: []byte("imagebytes")}

	err := n.Process(context.Background(), "acct-1", r, directMessage("P1", protocol.Media{
		MediaKind: protocol.KindImage,
		Mimetype:  "image/jpeg",
		Caption:   "look",
	}))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if seenPath == "" {
		t.Fatal("sink never saw a media path")
	}
	if _, err := os.Stat(seenPath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("media file still exists after delivery: %v", err)
	}
	if len(idx.ids) != 1 || idx.ids[0] != "acct-1/P1" {
		t.Errorf("index = %v", idx.ids)
	}
}

func TestProcess_MediaFileRemovedWhenDeliveryPanics(t *testing.T) {
	var seenPath string
	sink := notify.SinkFunc(func(_ context.Context, _ string, p payload.Payload) error {
		seenPath = p.Data.(payload.MessageData).Message.Body.(payload.MediaBody).File
		panic("backend client blew up")
	})
	n, _ := newNormalizer(t, sink)

	func() {
		defer func() { recover() }()
		n.Process(context.Background(), "acct-1", &fakeResolver{download: []byte("pdf")}, directMessage("P2", protocol.Media{
			MediaKind: protocol.KindDocument,
			Mimetype:  "application/pdf",
			FileName:  "invoice.pdf",
		}))
	}()

	if seenPath == "" {
		t.Fatal("sink never saw a media path")
	}
	if _, err := os.Stat(seenPath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("media file survived a failed delivery: %v", err)
	}
}

func TestProcess_MediaDownloadFailureDropsEvent(t *testing.T) {
	sink := &recordingSink{}
	n, root := newNormalizer(t, sink)

	err := n.Process(context.Background(), "acct-1", &fakeResolver{dlErr: errors.New("410 gone")}, directMessage("P3", protocol.Media{
		MediaKind: protocol.KindAudio,
		Mimetype:  "audio/ogg",
	}))
	if err == nil {
		t.Fatal("expected error")
	}
	if len(sink.all()) != 0 {
		t.Error("event with failed media retrieval was delivered")
	}
	entries, _ := os.ReadDir(root + "/acct-1/audio")
	if len(entries) != 0 {
		t.Errorf("found %d leftover files", len(entries))
	}
}

func TestHandleUpsert_OnlyFirstOfNotifyBatch(t *testing.T) {
	sink := &recordingSink{}
	n, _ := newNormalizer(t, sink)

	n.HandleUpsert(context.Background(), "acct-1", &fakeResolver{}, protocol.MessagesUpsert{
		Kind: protocol.UpsertNotify,
		Messages: []*protocol.Message{
			directMessage("B1", protocol.Text{Body: "first"}),
			directMessage("B2", protocol.Text{Body: "second"}),
		},
	})
	n.HandleUpsert(context.Background(), "acct-1", &fakeResolver{}, protocol.MessagesUpsert{
		Kind:     protocol.UpsertAppend,
		Messages: []*protocol.Message{directMessage("B3", protocol.Text{Body: "history"})},
	})

	got := sink.all()
	if len(got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(got))
	}
	if messageData(t, got[0]).Message.ID != "B1" {
		t.Errorf("delivered %s, want B1", messageData(t, got[0]).Message.ID)
	}
}

func TestHandleUpsert_AppendWhenEnabled(t *testing.T) {
	sink := &recordingSink{}
	n, _ := newNormalizer(t, sink, WithAppendBatches(true))

	n.HandleUpsert(context.Background(), "acct-1", &fakeResolver{}, protocol.MessagesUpsert{
		Kind:     protocol.UpsertAppend,
		Messages: []*protocol.Message{directMessage("A1", protocol.Text{Body: "history"})},
	})
	if len(sink.all()) != 1 {
		t.Errorf("expected append batch to be processed, got %d deliveries", len(sink.all()))
	}
}

func TestHandlePresence(t *testing.T) {
	sink := &recordingSink{}
	n, _ := newNormalizer(t, sink)
	ctx := context.Background()

	if n.HandlePresence(ctx, "acct-1", protocol.PresenceUpdate{Chat: "120363@g.us", IsGroup: true, Presence: "composing"}) {
		t.Error("group presence should be dropped")
	}
	if n.HandlePresence(ctx, "acct-1", protocol.PresenceUpdate{Chat: "1555@s.whatsapp.net"}) {
		t.Error("presence without a value should be dropped")
	}
	if !n.HandlePresence(ctx, "acct-1", protocol.PresenceUpdate{Chat: "1555@s.whatsapp.net", Presence: "available"}) {
		t.Fatal("direct presence should be forwarded")
	}

	got := sink.all()
	if len(got) != 1 {
		t.Fatalf("expected 1 payload, got %d", len(got))
	}
	data := got[0].Data.(payload.PresenceData)
	if got[0].Type != payload.TypePresenceUpdate || data.Number != "1555" || data.Presence != "available" || data.Account != "acct-1" {
		t.Errorf("presence payload = %+v", got[0])
	}
}
