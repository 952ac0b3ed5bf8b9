package payload

import (
	"encoding/json"
	"strings"
	"testing"
)

func decode(t *testing.T, p Payload) map[string]any {
	t.Helper()
	raw, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestNewMessage_DirectionSetsType(t *testing.T) {
	in := NewMessage(MessageData{TransferType: TransferReceived})
	if in.Type != TypeIncomingMessage {
		t.Errorf("received -> %s, want incoming_message", in.Type)
	}
	out := NewMessage(MessageData{TransferType: TransferSent})
	if out.Type != TypeOutgoingMessage {
		t.Errorf("sent -> %s, want outgoing_message", out.Type)
	}
}

func TestMessage_TextBodyEncoding(t *testing.T) {
	p := NewMessage(MessageData{
		TransferType: TransferReceived,
		OtherParty:   Party{Number: "15551234567"},
		Message:      Message{ID: "ABC", Timestamp: 1700000000, Body: TextBody{Caption: "  hello  "}},
	})
	out := decode(t, p)
	msg := out["data"].(map[string]any)["message"].(map[string]any)

	if msg["type"] != "text" {
		t.Errorf("type = %v, want text", msg["type"])
	}
	if msg["caption"] != "  hello  " {
		t.Errorf("caption = %q, want verbatim text", msg["caption"])
	}
	if _, ok := msg["file"]; ok {
		t.Error("text body should not carry a file field")
	}
}

func TestMessage_EmptyTextCaptionKept(t *testing.T) {
	raw, _ := json.Marshal(Message{ID: "1", Body: TextBody{}})
	if !strings.Contains(string(raw), `"caption":""`) {
		t.Errorf("expected empty caption to be present: %s", raw)
	}
}

func TestMessage_MediaOmitsEmptyCaption(t *testing.T) {
	raw, err := json.Marshal(Message{ID: "1", Body: MediaBody{Kind: "image", File: "/tmp/x.jpg", Mimetype: "image/jpeg"}})
	if err != nil {
		t.Fatal(err)
	}
	s := string(raw)
	if strings.Contains(s, "caption") || strings.Contains(s, "filename") {
		t.Errorf("unexpected optional fields: %s", s)
	}
	if !strings.Contains(s, `"type":"image"`) || !strings.Contains(s, `"file":"/tmp/x.jpg"`) {
		t.Errorf("missing media fields: %s", s)
	}
}

func TestMessage_ContactAndLocation(t *testing.T) {
	n := "+15551234567"
	raw, _ := json.Marshal(Message{ID: "1", Body: ContactBody{Name: "Ann", Numbers: []*string{&n, nil}}})
	if !strings.Contains(string(raw), `"contact":{"name":"Ann","number":["+15551234567",null]}`) {
		t.Errorf("contact encoding: %s", raw)
	}

	raw, _ = json.Marshal(Message{ID: "1", Body: LocationBody{Lat: 1.5, Long: -2.25}})
	if !strings.Contains(string(raw), `"location":{"lat":1.5,"long":-2.25}`) {
		t.Errorf("location encoding: %s", raw)
	}
}

func TestParty_UnresolvedFieldsAreNull(t *testing.T) {
	out := decode(t, NewMessage(MessageData{
		TransferType: TransferReceived,
		OtherParty:   Party{Number: "1555"},
		Message:      Message{Body: UnsupportedBody{}},
	}))
	party := out["data"].(map[string]any)["other_party"].(map[string]any)
	for _, key := range []string{"name", "profile_picture_hd", "group", "group_name", "group_profile_picture_hd"} {
		v, ok := party[key]
		if !ok || v != nil {
			t.Errorf("%s = %v (present=%v), want null", key, v, ok)
		}
	}
}

func TestConnectionPayloads(t *testing.T) {
	out := decode(t, Disconnected("acct-1", "logged_out"))
	data := out["data"].(map[string]any)
	if out["type"] != "connection" || data["status"] != "disconnected" || data["reason"] != "logged_out" || data["uuid"] != "acct-1" {
		t.Errorf("unexpected disconnected payload: %v", out)
	}

	out = decode(t, Connected("acct-1", "15551234567"))
	data = out["data"].(map[string]any)
	if data["phone"] != "15551234567" {
		t.Errorf("phone = %v", data["phone"])
	}
}
