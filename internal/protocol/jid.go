package protocol

import "strings"

const (
	UserServer      = "s.whatsapp.net"
	GroupServer     = "g.us"
	BroadcastServer = "broadcast"
	LIDServer       = "lid"

	StatusBroadcast = "status@broadcast"
)

// NumberFromJID returns the user part of a JID without server or device
// suffix: "15551234567:3@s.whatsapp.net" -> "15551234567".
func NumberFromJID(jid string) string {
	user, _, _ := strings.Cut(jid, "@")
	user, _, _ = strings.Cut(user, ":")
	return user
}

// IsGroupJID reports whether jid addresses a group conversation.
func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, "@"+GroupServer)
}

// IsBroadcastJID reports whether jid is the status pseudo-account or a
// broadcast list.
func IsBroadcastJID(jid string) bool {
	return jid == StatusBroadcast || strings.HasSuffix(jid, "@"+BroadcastServer)
}

// UserJID builds a user JID from a bare phone number, leaving full JIDs
// untouched. A leading "+" is dropped.
func UserJID(number string) string {
	if strings.Contains(number, "@") {
		return number
	}
	return strings.TrimPrefix(number, "+") + "@" + UserServer
}

// ValidAccountID reports whether id is safe to use as a directory name.
func ValidAccountID(id string) bool {
	if id == "" || id == "." || id == ".." || len(id) > 128 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}
