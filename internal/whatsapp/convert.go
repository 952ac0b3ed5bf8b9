package whatsapp

import (
	"fmt"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"github.com/leandrotocalini/wagateway/internal/protocol"
)

// convertMessage classifies a whatsmeow message once, at the boundary.
func convertMessage(info types.MessageInfo, msg *waE2E.Message) *protocol.Message {
	out := &protocol.Message{
		ID:        info.ID,
		Timestamp: info.Timestamp,
		FromMe:    info.IsFromMe,
		IsGroup:   info.IsGroup,
		Chat:      phoneChat(info.MessageSource).ToNonAD().String(),
		Sender:    phoneSender(info.MessageSource).ToNonAD().String(),
		PushName:  info.PushName,
		Content:   convertContent(msg),
	}
	if info.VerifiedName != nil && info.VerifiedName.Details != nil {
		out.VerifiedName = info.VerifiedName.Details.GetVerifiedName()
	}
	return out
}

// phoneSender prefers the phone-number address of the author when the
// message was addressed by LID.
func phoneSender(src types.MessageSource) types.JID {
	if src.Sender.Server == types.HiddenUserServer && src.SenderAlt.Server == types.DefaultUserServer {
		return src.SenderAlt
	}
	return src.Sender
}

// phoneChat does the same for direct conversations keyed by LID.
func phoneChat(src types.MessageSource) types.JID {
	if src.IsGroup || src.Chat.Server != types.HiddenUserServer {
		return src.Chat
	}
	alt := src.SenderAlt
	if src.IsFromMe {
		alt = src.RecipientAlt
	}
	if alt.Server == types.DefaultUserServer {
		return alt
	}
	return src.Chat
}

// convertContent maps a raw message body onto the closed content set.
// Control messages carry no content and yield nil.
func convertContent(m *waE2E.Message) protocol.Content {
	if m == nil {
		return nil
	}
	switch {
	case m.Conversation != nil:
		return protocol.Text{Body: m.GetConversation()}
	case m.ExtendedTextMessage != nil:
		return protocol.Text{Body: m.GetExtendedTextMessage().GetText()}

	case m.ImageMessage != nil:
		img := m.GetImageMessage()
		return mediaContent(protocol.KindImage, img, img.GetMimetype(), img.GetCaption(), "")
	case m.VideoMessage != nil:
		vid := m.GetVideoMessage()
		kind := protocol.KindVideo
		if vid.GetGifPlayback() {
			kind = protocol.KindGIF
		}
		return mediaContent(kind, vid, vid.GetMimetype(), vid.GetCaption(), "")
	case m.AudioMessage != nil:
		aud := m.GetAudioMessage()
		return mediaContent(protocol.KindAudio, aud, aud.GetMimetype(), "", "")
	case m.DocumentMessage != nil:
		return documentContent(m.GetDocumentMessage())
	case m.GetDocumentWithCaptionMessage().GetMessage().GetDocumentMessage() != nil:
		return documentContent(m.GetDocumentWithCaptionMessage().GetMessage().GetDocumentMessage())

	case m.StickerMessage != nil:
		return protocol.Unsupported{Of: protocol.KindSticker}
	case m.LiveLocationMessage != nil:
		return protocol.Unsupported{Of: protocol.KindLiveLocation}

	case m.ContactMessage != nil:
		c := m.GetContactMessage()
		return protocol.Contacts{
			DisplayName: c.GetDisplayName(),
			Cards:       []protocol.ContactCard{{DisplayName: c.GetDisplayName(), VCard: c.GetVcard()}},
		}
	case m.ContactsArrayMessage != nil:
		arr := m.GetContactsArrayMessage()
		cards := make([]protocol.ContactCard, 0, len(arr.GetContacts()))
		for _, c := range arr.GetContacts() {
			cards = append(cards, protocol.ContactCard{DisplayName: c.GetDisplayName(), VCard: c.GetVcard()})
		}
		return protocol.Contacts{DisplayName: arr.GetDisplayName(), Cards: cards}

	case m.LocationMessage != nil:
		loc := m.GetLocationMessage()
		return protocol.Location{Lat: loc.GetDegreesLatitude(), Long: loc.GetDegreesLongitude()}

	case m.ProtocolMessage != nil, m.SenderKeyDistributionMessage != nil:
		return nil
	default:
		return protocol.Unsupported{Of: protocol.KindUnknown}
	}
}

func documentContent(doc *waE2E.DocumentMessage) protocol.Content {
	name := doc.GetFileName()
	if name == "" {
		name = doc.GetTitle()
	}
	return mediaContent(protocol.KindDocument, doc, doc.GetMimetype(), doc.GetCaption(), name)
}

func mediaContent(kind protocol.MessageKind, sub proto.Message, mimetype, caption, fileName string) protocol.Content {
	raw, err := proto.Marshal(sub)
	if err != nil {
		return protocol.Unsupported{Of: protocol.KindUnknown}
	}
	return protocol.Media{
		MediaKind: kind,
		Mimetype:  mimetype,
		Caption:   caption,
		FileName:  fileName,
		Ref:       protocol.MediaRef{Kind: kind, Raw: raw},
	}
}

// decodeRef rebuilds the downloadable sub-message stored in a MediaRef.
func decodeRef(ref protocol.MediaRef) (whatsmeow.DownloadableMessage, error) {
	var msg interface {
		proto.Message
		whatsmeow.DownloadableMessage
	}
	switch ref.Kind {
	case protocol.KindImage:
		msg = &waE2E.ImageMessage{}
	case protocol.KindVideo, protocol.KindGIF:
		msg = &waE2E.VideoMessage{}
	case protocol.KindAudio:
		msg = &waE2E.AudioMessage{}
	case protocol.KindDocument:
		msg = &waE2E.DocumentMessage{}
	default:
		return nil, fmt.Errorf("media kind %s is not downloadable", ref.Kind)
	}
	if err := proto.Unmarshal(ref.Raw, msg); err != nil {
		return nil, fmt.Errorf("decode media reference: %w", err)
	}
	return msg, nil
}

// textMessage and the other builders below produce the waE2E body for
// outbound shapes that need no upload.
func textMessage(body string) *waE2E.Message {
	return &waE2E.Message{Conversation: proto.String(body)}
}

func locationMessage(loc protocol.OutLocation) *waE2E.Message {
	return &waE2E.Message{
		LocationMessage: &waE2E.LocationMessage{
			DegreesLatitude:  proto.Float64(loc.Lat),
			DegreesLongitude: proto.Float64(loc.Long),
		},
	}
}

func contactsMessage(c protocol.OutContacts) *waE2E.Message {
	if len(c.VCards) == 1 {
		return &waE2E.Message{
			ContactMessage: &waE2E.ContactMessage{
				DisplayName: proto.String(c.DisplayName),
				Vcard:       proto.String(c.VCards[0]),
			},
		}
	}
	contacts := make([]*waE2E.ContactMessage, 0, len(c.VCards))
	for _, card := range c.VCards {
		contacts = append(contacts, &waE2E.ContactMessage{
			DisplayName: proto.String(c.DisplayName),
			Vcard:       proto.String(card),
		})
	}
	return &waE2E.Message{
		ContactsArrayMessage: &waE2E.ContactsArrayMessage{
			DisplayName: proto.String(c.DisplayName),
			Contacts:    contacts,
		},
	}
}

func mediaType(kind protocol.MessageKind) (whatsmeow.MediaType, error) {
	switch kind {
	case protocol.KindImage:
		return whatsmeow.MediaImage, nil
	case protocol.KindVideo, protocol.KindGIF:
		return whatsmeow.MediaVideo, nil
	case protocol.KindAudio:
		return whatsmeow.MediaAudio, nil
	case protocol.KindDocument:
		return whatsmeow.MediaDocument, nil
	default:
		return "", fmt.Errorf("cannot upload media kind %s", kind)
	}
}

// uploadedMessage wraps an upload result into the body for kind.
func uploadedMessage(kind protocol.MessageKind, up whatsmeow.UploadResponse, mimetype, caption, fileName string) *waE2E.Message {
	fileLen := up.FileLength
	switch kind {
	case protocol.KindImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			Mimetype:      proto.String(mimetype),
			Caption:       optionalString(caption),
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    &fileLen,
		}}
	case protocol.KindVideo, protocol.KindGIF:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			Mimetype:      proto.String(mimetype),
			Caption:       optionalString(caption),
			GifPlayback:   proto.Bool(kind == protocol.KindGIF),
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    &fileLen,
		}}
	case protocol.KindAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			Mimetype:      proto.String(mimetype),
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    &fileLen,
		}}
	default:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			Mimetype:      proto.String(mimetype),
			Title:         proto.String(fileName),
			FileName:      proto.String(fileName),
			Caption:       optionalString(caption),
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    &fileLen,
		}}
	}
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return proto.String(s)
}
