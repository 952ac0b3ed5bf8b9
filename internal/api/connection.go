package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/leandrotocalini/wagateway/internal/registry"
	"github.com/leandrotocalini/wagateway/internal/supervisor"
)

type accountRequest struct {
	Account string `json:"account"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Account == "" {
		reject(w, "account", "Account ID required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.connectWait)
	defer cancel()

	res, err := s.sessions.GetOrCreate(ctx, req.Account)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		s.fail(w, r, err)
		return
	}

	switch res.Status {
	case supervisor.StatusConnected:
		writeJSON(w, http.StatusOK, response{
			"success": true,
			"status":  res.Status.String(),
			"message": "connected",
			"phone":   res.Phone,
		})
	case supervisor.StatusScanRequired:
		png, err := qrDataURL(res.Code)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		svg, err := qrSVG(res.Code, qrSVGSize)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, response{
			"success": true,
			"status":  res.Status.String(),
			"message": "Scan the QR code to connect",
			"qr":      png,
			"qr_svg":  svg,
		})
	default:
		writeJSON(w, http.StatusAccepted, response{
			"success": true,
			"status":  res.Status.String(),
			"message": "Connection in progress, try again shortly",
		})
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Account == "" {
		reject(w, "account", "Account ID required")
		return
	}

	st := s.sessions.Status(req.Account)
	body := response{
		"success":   true,
		"status":    "disconnected",
		"state":     st.State.String(),
		"timestamp": st.CheckedAt.UTC().Format(time.RFC3339),
	}
	if st.State == registry.StateConnected {
		body["status"] = "connected"
		body["phone"] = st.Phone
		body["since"] = st.Since.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Account == "" {
		reject(w, "account", "Account ID required")
		return
	}

	if err := s.sessions.Disconnect(r.Context(), req.Account); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{"success": true, "message": "Disconnected"})
}
