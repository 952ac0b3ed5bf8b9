package api

import (
	"net/http"
	"strings"

	"github.com/leandrotocalini/wagateway/internal/protocol"
)

type checkNumberRequest struct {
	Account string `json:"account"`
	Number  string `json:"number"`
}

func (s *Server) handleCheckNumber(w http.ResponseWriter, r *http.Request) {
	var req checkNumberRequest
	if !decode(w, r, &req) {
		return
	}
	switch {
	case req.Account == "":
		reject(w, "account", "Account ID required")
		return
	case req.Number == "":
		reject(w, "number", "Number required")
		return
	}

	conn, err := s.sessions.Conn(req.Account)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	reg, err := conn.IsOnWhatsApp(r.Context(), strings.ReplaceAll(req.Number, "+", ""))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{
		"success":    true,
		"registered": reg.Registered,
		"exists":     reg.Registered, // older clients read this name
		"jid":        reg.JID,
	})
}

type markReadRequest struct {
	Account    string   `json:"account"`
	Number     string   `json:"number"`
	MessageIDs []string `json:"message_ids"`
}

// handleMarkRead briefly goes online so the receipts are delivered, then
// returns to unavailable.
func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var req markReadRequest
	if !decode(w, r, &req) {
		return
	}
	switch {
	case req.Account == "":
		reject(w, "account", "Account ID required")
		return
	case req.Number == "":
		reject(w, "number", "Number required")
		return
	case len(req.MessageIDs) == 0:
		reject(w, "message_ids", "Message ID required")
		return
	}

	conn, err := s.sessions.Conn(req.Account)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ctx := r.Context()
	chat := chatJID(req.Number)

	if err := conn.SendPresence(ctx, chat, "available"); err != nil {
		s.logger.Warn("presence before read receipt failed", "account", req.Account, "error", err)
	}
	if err := conn.MarkRead(ctx, chat, req.MessageIDs); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := conn.SendPresence(ctx, chat, "unavailable"); err != nil {
		s.logger.Warn("presence after read receipt failed", "account", req.Account, "error", err)
	}
	writeJSON(w, http.StatusOK, response{"success": true, "message": "Message marked as read"})
}

type presenceRequest struct {
	Account  string `json:"account"`
	To       string `json:"to"`
	Presence string `json:"presence"`
	Event    string `json:"event"` // older clients
}

func (s *Server) handleUpdatePresence(w http.ResponseWriter, r *http.Request) {
	var req presenceRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Presence == "" {
		req.Presence = req.Event
	}
	switch {
	case req.Account == "":
		reject(w, "account", "Account ID required")
		return
	case req.To == "":
		reject(w, "to", "Number required")
		return
	case req.Presence == "":
		reject(w, "presence", "Event required")
		return
	}

	conn, err := s.sessions.Conn(req.Account)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	chat := chatJID(req.To)
	if req.Presence == "subscribe" {
		err = conn.SubscribePresence(r.Context(), chat)
	} else {
		err = conn.SendPresence(r.Context(), chat, req.Presence)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{"success": true})
}

type groupRequest struct {
	Account string `json:"account"`
	GroupID string `json:"group_id"`
}

type groupSummary struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Account == "" {
		reject(w, "account", "Account ID required")
		return
	}

	conn, err := s.sessions.Conn(req.Account)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	groups, err := conn.JoinedGroups(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	list := make([]groupSummary, 0, len(groups))
	for _, g := range groups {
		// Communities and their announcement groups are not chats.
		if g.Community || g.DefaultSub {
			continue
		}
		list = append(list, groupSummary{ID: g.JID, Subject: g.Name})
	}
	writeJSON(w, http.StatusOK, response{"success": true, "groups": list})
}

func (s *Server) handleGroupInfo(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if !decode(w, r, &req) {
		return
	}
	switch {
	case req.Account == "":
		reject(w, "account", "Account ID required")
		return
	case req.GroupID == "":
		reject(w, "group_id", "Group ID required")
		return
	}

	conn, err := s.sessions.Conn(req.Account)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	info, err := conn.GroupInfo(r.Context(), req.GroupID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	numbers := make([]string, 0, len(info.Participants))
	for _, p := range info.Participants {
		n := p.Number
		if n == "" {
			n = protocol.NumberFromJID(p.JID)
		}
		numbers = append(numbers, n)
	}
	writeJSON(w, http.StatusOK, response{"success": true, "group": info, "participants": numbers})
}

// chatJID accepts a bare number, with or without "+", or a full JID.
func chatJID(to string) string {
	return protocol.UserJID(strings.ReplaceAll(to, "+", ""))
}
