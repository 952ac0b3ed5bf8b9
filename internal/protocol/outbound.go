package protocol

// Outbound is exactly one of the send body shapes.
type Outbound interface {
	outbound()
}

// OutText is a plain text message.
type OutText struct {
	Body string
}

// OutMedia is an image, video, gif or audio message.
type OutMedia struct {
	MediaKind MessageKind
	Data      []byte
	Mimetype  string
	Caption   string
}

// OutDocument is a file attachment.
type OutDocument struct {
	Data     []byte
	FileName string
	Mimetype string
	Caption  string
}

// OutLocation is a static location pin.
type OutLocation struct {
	Lat  float64
	Long float64
}

// OutContacts is one or more vCards sent under a display name.
type OutContacts struct {
	DisplayName string
	VCards      []string
}

func (OutText) outbound()     {}
func (OutMedia) outbound()    {}
func (OutDocument) outbound() {}
func (OutLocation) outbound() {}
func (OutContacts) outbound() {}
