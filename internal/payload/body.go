package payload

import "encoding/json"

// Body is the typed message body. The set is closed: TextBody, MediaBody,
// ContactBody, LocationBody and UnsupportedBody.
type Body interface {
	BodyType() string
}

// TextBody carries the original text verbatim.
type TextBody struct {
	Caption string
}

// MediaBody references a locally retrieved attachment.
type MediaBody struct {
	Kind     string // image, video, gif, audio, document
	File     string
	Mimetype string
	Caption  string
	Filename string
}

// ContactBody lists the numbers found in the shared vCards, aligned with
// the contact entries. A nil entry means no number was found for it.
type ContactBody struct {
	Name    string    `json:"name"`
	Numbers []*string `json:"number"`
}

// LocationBody is a static pin.
type LocationBody struct {
	Lat  float64 `json:"lat"`
	Long float64 `json:"long"`
}

// UnsupportedBody marks a kind the gateway forwards without content.
type UnsupportedBody struct{}

func (TextBody) BodyType() string        { return "text" }
func (b MediaBody) BodyType() string     { return b.Kind }
func (ContactBody) BodyType() string     { return "contact" }
func (LocationBody) BodyType() string    { return "location" }
func (UnsupportedBody) BodyType() string { return "unsupported" }

// Message is the message part of MessageData.
type Message struct {
	ID        string
	Timestamp int64
	Body      Body
}

type wireMessage struct {
	ID        string        `json:"id"`
	Timestamp int64         `json:"timestamp"`
	Type      string        `json:"type"`
	Caption   *string       `json:"caption,omitempty"`
	File      string        `json:"file,omitempty"`
	Mimetype  string        `json:"mimetype,omitempty"`
	Filename  *string       `json:"filename,omitempty"`
	Contact   *ContactBody  `json:"contact,omitempty"`
	Location  *LocationBody `json:"location,omitempty"`
}

// MarshalJSON flattens the body into the message object.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{ID: m.ID, Timestamp: m.Timestamp}
	if m.Body == nil {
		w.Type = UnsupportedBody{}.BodyType()
		return json.Marshal(w)
	}
	w.Type = m.Body.BodyType()

	switch b := m.Body.(type) {
	case TextBody:
		caption := b.Caption
		w.Caption = &caption
	case MediaBody:
		w.File = b.File
		w.Mimetype = b.Mimetype
		w.Caption = Optional(b.Caption)
		w.Filename = Optional(b.Filename)
	case ContactBody:
		w.Contact = &b
	case LocationBody:
		w.Location = &b
	}
	return json.Marshal(w)
}
