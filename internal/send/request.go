package send

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Body kinds accepted in Request.Type.
const (
	TypeText     = "text"
	TypeMedia    = "media"
	TypeDocument = "document"
	TypeLocation = "location"
	TypeContact  = "contact"
)

// Request is the body of a send call.
type Request struct {
	Account string `json:"account"`
	To      string `json:"to"`
	Type    string `json:"type"`
	Message string `json:"message"`

	MediaType string `json:"media_type"`
	MediaFile string `json:"media_file"`
	MediaURL  string `json:"media_url"`

	DocumentType string `json:"document_type"`
	DocumentFile string `json:"document_file"`
	DocumentURL  string `json:"document_url"`
	DocumentName string `json:"document_name"`

	Lat  Coordinate `json:"lat"`
	Long Coordinate `json:"long"`

	ContactName    string  `json:"con_name"`
	ContactNumbers Numbers `json:"con_numbers"`
}

// ValidationError names the request field that was missing or malformed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// Validate checks that the fields required by the declared body kind are
// present. It returns nil for a well-formed request.
func (r Request) Validate() *ValidationError {
	switch {
	case r.Account == "":
		return invalid("account", "Account ID required")
	case r.To == "":
		return invalid("to", "Receiver number required")
	case r.Type == "":
		return invalid("type", "Message type required")
	}

	switch r.Type {
	case TypeText:
		if r.Message == "" {
			return invalid("message", "Message required")
		}
	case TypeMedia:
		if r.MediaType == "" {
			return invalid("media_type", "Media type required for media messages")
		}
		if _, ok := mediaKinds[r.MediaType]; !ok {
			return invalid("media_type", "Media type must be one of image, video, gif, audio")
		}
		if r.MediaFile == "" && r.MediaURL == "" {
			return invalid("media_file or media_url", "Media file or URL required for media messages")
		}
	case TypeDocument:
		if r.DocumentType == "" {
			return invalid("document_type", "Document type required for document messages")
		}
		if r.DocumentFile == "" && r.DocumentURL == "" {
			return invalid("document_file or document_url", "Document file or URL required for document messages")
		}
		if r.DocumentURL != "" && r.DocumentFile == "" && r.DocumentName == "" {
			return invalid("document_name", "Document name required when passing document URL")
		}
	case TypeLocation:
		if !r.Lat.Set {
			return invalid("lat", "Latitude required for location messages")
		}
		if !r.Long.Set {
			return invalid("long", "Longitude required for location messages")
		}
		if r.Lat.Value < -90 || r.Lat.Value > 90 {
			return invalid("lat", "Latitude must be between -90 and 90")
		}
		if r.Long.Value < -180 || r.Long.Value > 180 {
			return invalid("long", "Longitude must be between -180 and 180")
		}
	case TypeContact:
		if r.ContactName == "" {
			return invalid("con_name", "Contact name required for contact messages")
		}
		if len(r.ContactNumbers) == 0 {
			return invalid("con_numbers", "At least one contact number required for contact messages")
		}
	default:
		return invalid("type", fmt.Sprintf("Unsupported message type %q", r.Type))
	}
	return nil
}

// Coordinate is a latitude or longitude sent either as a JSON number or as
// a numeric string.
type Coordinate struct {
	Value float64
	Set   bool
}

func (c *Coordinate) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*c = Coordinate{}
		return nil
	}
	s := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*c = Coordinate{}
			return nil
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid coordinate %s", b)
	}
	*c = Coordinate{Value: v, Set: true}
	return nil
}

func (c Coordinate) MarshalJSON() ([]byte, error) {
	if !c.Set {
		return []byte("null"), nil
	}
	return json.Marshal(c.Value)
}

// Numbers is a list of phone numbers that also accepts a single string or
// number in place of an array.
type Numbers []string

func (n *Numbers) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*n = nil
		return nil
	}
	if len(b) > 0 && b[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		out := make(Numbers, 0, len(raw))
		for _, item := range raw {
			s, err := scalar(item)
			if err != nil {
				return err
			}
			if s != "" {
				out = append(out, s)
			}
		}
		*n = out
		return nil
	}
	s, err := scalar(b)
	if err != nil {
		return err
	}
	if s == "" {
		*n = nil
		return nil
	}
	*n = Numbers{s}
	return nil
}

// scalar reads a JSON string or number as trimmed text.
func scalar(b []byte) (string, error) {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return "", fmt.Errorf("expected string or number, got %s", b)
	}
	return num.String(), nil
}
