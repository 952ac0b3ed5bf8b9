package protocol

import "time"

// Message is one inbound or self-sent message, classified at the client
// boundary. Content is nil when the raw message carried no body.
type Message struct {
	ID        string
	Timestamp time.Time
	FromMe    bool
	IsGroup   bool

	// Chat is the conversation JID; Sender is the author within it
	// (equal to Chat for direct conversations).
	Chat     string
	Sender   string
	PushName string
	// VerifiedName is the business display name, when the sender has one.
	VerifiedName string

	Content Content
}

// MessageKind enumerates the content kinds the gateway understands.
type MessageKind int

const (
	KindUnknown MessageKind = iota
	KindText
	KindImage
	KindVideo
	KindGIF
	KindAudio
	KindDocument
	KindContact
	KindLocation
	KindSticker
	KindLiveLocation
	KindVCard
)

func (k MessageKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	case KindGIF:
		return "gif"
	case KindAudio:
		return "audio"
	case KindDocument:
		return "document"
	case KindContact:
		return "contact"
	case KindLocation:
		return "location"
	case KindSticker:
		return "sticker"
	case KindLiveLocation:
		return "live_location"
	case KindVCard:
		return "vcard"
	default:
		return "unknown"
	}
}

// IsMedia reports whether the kind carries a downloadable attachment.
func (k MessageKind) IsMedia() bool {
	switch k {
	case KindImage, KindVideo, KindGIF, KindAudio, KindDocument:
		return true
	}
	return false
}

// Content is the closed set of message bodies.
type Content interface {
	Kind() MessageKind
}

// Text is a plain or extended text body.
type Text struct {
	Body string
}

// Media is an image, video, gif, audio or document attachment.
type Media struct {
	MediaKind MessageKind
	Mimetype  string
	Caption   string
	FileName  string
	Ref       MediaRef
}

// ContactCard is one shared contact.
type ContactCard struct {
	DisplayName string
	VCard       string
}

// Contacts is a single contact or a contact array.
type Contacts struct {
	DisplayName string
	Cards       []ContactCard
}

// Location is a static pin.
type Location struct {
	Lat  float64
	Long float64
}

// Unsupported marks kinds the gateway recognizes but does not forward,
// and anything it does not recognize at all (KindUnknown).
type Unsupported struct {
	Of MessageKind
}

func (Text) Kind() MessageKind          { return KindText }
func (m Media) Kind() MessageKind       { return m.MediaKind }
func (Contacts) Kind() MessageKind      { return KindContact }
func (Location) Kind() MessageKind      { return KindLocation }
func (u Unsupported) Kind() MessageKind { return u.Of }

// MediaRef is a serialized, client-specific pointer to an attachment.
// It can be stored and handed back to Conn.Download later.
type MediaRef struct {
	Kind MessageKind
	Raw  []byte
}
