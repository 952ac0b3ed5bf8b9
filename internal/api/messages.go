package api

import (
	"net/http"
	"strconv"

	"github.com/leandrotocalini/wagateway/internal/media"
	"github.com/leandrotocalini/wagateway/internal/send"
)

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req send.Request
	if !decode(w, r, &req) {
		return
	}

	receipt, err := s.sender.Send(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{
		"success": true,
		"message": "Message is being sent!",
		"type":    receipt.Type,
		"id":      receipt.ID,
	})
}

type downloadRequest struct {
	Account   string `json:"account"`
	MessageID string `json:"message_id"`
}

// handleDownload re-fetches an indexed attachment through the account's
// connection and streams the decrypted bytes.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if !decode(w, r, &req) {
		return
	}
	switch {
	case req.Account == "":
		reject(w, "account", "Account ID required")
		return
	case req.MessageID == "":
		reject(w, "message_id", "Message ID required")
		return
	}

	conn, err := s.sessions.Conn(req.Account)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	att, err := s.attachments.Get(r.Context(), req.Account, req.MessageID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	data, err := conn.Download(r.Context(), att.Ref)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	mimetype := att.Mimetype
	if mimetype == "" {
		mimetype = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mimetype)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", "attachment; filename=media"+media.Extension(mimetype))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
