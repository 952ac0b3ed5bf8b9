// Package send turns validated send requests into exactly one outbound
// message shape and submits it through the account's connection.
package send

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/leandrotocalini/wagateway/internal/protocol"
)

const (
	defaultFetchTimeout = 60 * time.Second
	defaultMaxMedia     = 64 << 20
)

// ErrNotReachable is returned when the receiver is not registered on the
// network. No send is attempted in that case.
var ErrNotReachable = errors.New("receiver is not on WhatsApp")

var mediaKinds = map[string]protocol.MessageKind{
	"image": protocol.KindImage,
	"video": protocol.KindVideo,
	"gif":   protocol.KindGIF,
	"audio": protocol.KindAudio,
}

// fallback mimetypes when neither the URL response nor content sniffing
// yields one of the right family.
var defaultMimetypes = map[protocol.MessageKind]string{
	protocol.KindImage: "image/jpeg",
	protocol.KindVideo: "video/mp4",
	protocol.KindGIF:   "video/mp4",
	protocol.KindAudio: "audio/ogg; codecs=opus",
}

// Connections looks up an account's live connection.
type Connections interface {
	Conn(account string) (protocol.Conn, error)
}

// Receipt identifies a submitted message.
type Receipt struct {
	ID        string
	Type      string
	To        string
	Timestamp time.Time
}

// Adapter validates, builds and submits outbound messages.
type Adapter struct {
	conns      Connections
	httpClient *http.Client
	maxMedia   int64
	logger     *slog.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithHTTPClient sets the client used to fetch media and documents by URL.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) {
		a.httpClient = c
	}
}

// WithMaxMedia caps the size of a fetched or decoded attachment.
func WithMaxMedia(n int64) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.maxMedia = n
		}
	}
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = l
	}
}

// NewAdapter creates a send adapter.
func NewAdapter(conns Connections, opts ...Option) *Adapter {
	a := &Adapter{
		conns:      conns,
		httpClient: &http.Client{Timeout: defaultFetchTimeout},
		maxMedia:   defaultMaxMedia,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Send validates req, checks that the receiver is registered and submits
// the message under a freshly generated id.
func (a *Adapter) Send(ctx context.Context, req Request) (Receipt, error) {
	if verr := req.Validate(); verr != nil {
		return Receipt{}, verr
	}
	inline, verr := a.inlineAttachment(req)
	if verr != nil {
		return Receipt{}, verr
	}

	conn, err := a.conns.Conn(req.Account)
	if err != nil {
		return Receipt{}, err
	}

	number := strings.ReplaceAll(req.To, "+", "")
	reg, err := conn.IsOnWhatsApp(ctx, number)
	if err != nil {
		return Receipt{}, fmt.Errorf("check receiver: %w", err)
	}
	if !reg.Registered {
		return Receipt{}, ErrNotReachable
	}
	to := reg.JID
	if to == "" {
		to = protocol.UserJID(number)
	}

	out, err := a.build(ctx, req, inline)
	if err != nil {
		return Receipt{}, err
	}

	id := conn.GenerateMessageID()
	ts, err := conn.Send(ctx, to, id, out)
	if err != nil {
		return Receipt{}, fmt.Errorf("send message: %w", err)
	}
	a.logger.Info("message sent", "account", req.Account, "type", req.Type, "id", id)
	return Receipt{ID: id, Type: req.Type, To: to, Timestamp: ts}, nil
}

// build constructs the single outbound shape for req.Type.
func (a *Adapter) build(ctx context.Context, req Request, inline []byte) (protocol.Outbound, error) {
	switch req.Type {
	case TypeMedia:
		kind := mediaKinds[req.MediaType]
		data, mimetype, err := a.attachment(ctx, inline, req.MediaURL)
		if err != nil {
			return nil, err
		}
		out := protocol.OutMedia{
			MediaKind: kind,
			Data:      data,
			Mimetype:  mediaMimetype(kind, mimetype, data),
		}
		// audio messages carry no caption
		if kind != protocol.KindAudio {
			out.Caption = req.Message
		}
		return out, nil

	case TypeDocument:
		data, _, err := a.attachment(ctx, inline, req.DocumentURL)
		if err != nil {
			return nil, err
		}
		name := req.DocumentName
		if name == "" {
			name = "document." + req.DocumentType
		}
		return protocol.OutDocument{
			Data:     data,
			FileName: name,
			Mimetype: "application/" + req.DocumentType,
			Caption:  req.Message,
		}, nil

	case TypeLocation:
		return protocol.OutLocation{Lat: req.Lat.Value, Long: req.Long.Value}, nil

	case TypeContact:
		cards := make([]string, 0, len(req.ContactNumbers))
		for _, n := range req.ContactNumbers {
			cards = append(cards, VCard(req.ContactName, n))
		}
		return protocol.OutContacts{DisplayName: req.ContactName, VCards: cards}, nil

	default:
		return protocol.OutText{Body: req.Message}, nil
	}
}

// inlineAttachment decodes media_file or document_file. It runs before the
// connection is looked up so malformed files never reach it.
func (a *Adapter) inlineAttachment(req Request) ([]byte, *ValidationError) {
	var field, raw string
	switch req.Type {
	case TypeMedia:
		field, raw = "media_file", req.MediaFile
	case TypeDocument:
		field, raw = "document_file", req.DocumentFile
	}
	if raw == "" {
		return nil, nil
	}
	data, err := decodeBase64(raw)
	if err != nil {
		return nil, invalid(field, "File must be base64 encoded")
	}
	if int64(len(data)) > a.maxMedia {
		return nil, invalid(field, "File is too large")
	}
	return data, nil
}

// attachment returns the decoded inline bytes when given, otherwise fetches url.
func (a *Adapter) attachment(ctx context.Context, inline []byte, url string) ([]byte, string, error) {
	if inline != nil {
		return inline, "", nil
	}
	return a.fetch(ctx, url)
}

func (a *Adapter) fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", url, err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, a.maxMedia+1))
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", url, err)
	}
	if int64(len(data)) > a.maxMedia {
		return nil, "", fmt.Errorf("fetch %s: body exceeds %d bytes", url, a.maxMedia)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// decodeBase64 accepts standard base64, optionally wrapped in a data URL.
func decodeBase64(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if _, rest, ok := strings.Cut(s, ","); ok {
			s = rest
		}
	}
	s = strings.TrimSpace(s)
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

func mediaMimetype(kind protocol.MessageKind, declared string, data []byte) string {
	family := "image/"
	switch kind {
	case protocol.KindVideo, protocol.KindGIF:
		family = "video/"
	case protocol.KindAudio:
		family = "audio/"
	}
	for _, candidate := range []string{declared, http.DetectContentType(data)} {
		mt, _, err := mime.ParseMediaType(candidate)
		if err == nil && strings.HasPrefix(mt, family) {
			if kind == protocol.KindAudio && mt == "audio/ogg" {
				return defaultMimetypes[kind]
			}
			return mt
		}
	}
	return defaultMimetypes[kind]
}

// VCard renders the single-number contact card sent for contact messages.
func VCard(name, number string) string {
	waid := strings.TrimPrefix(number, "+")
	return fmt.Sprintf("BEGIN:VCARD\nVERSION:3.0\nFN:%s\nTEL;type=CELL;type=VOICE;waid=%s:%s\nEND:VCARD", name, waid, number)
}
