package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, response{"ok": true})
}

type accountView struct {
	Account string `json:"account"`
	State   string `json:"state"`
	Phone   string `json:"phone,omitempty"`
	Since   string `json:"since"`
}

func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	accounts := s.sessions.Accounts()
	views := make([]accountView, len(accounts))
	for i, a := range accounts {
		views[i] = accountView{
			Account: a.Account,
			State:   a.State.String(),
			Phone:   a.Phone,
			Since:   a.Since.UTC().Format(time.RFC3339),
		}
	}

	subscribers := 0
	if s.hub != nil {
		subscribers = s.hub.Len()
	}
	writeJSON(w, http.StatusOK, response{
		"success":     true,
		"uptime":      s.now().Sub(s.started).Round(time.Second).String(),
		"accounts":    views,
		"subscribers": subscribers,
	})
}

type logView struct {
	Time    string `json:"time"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

func (s *Server) handleAPILogs(w http.ResponseWriter, r *http.Request) {
	entries := s.ring.Entries()
	out := make([]logView, len(entries))
	for i, e := range entries {
		out[i] = logView{Time: e.Time.Format(time.RFC3339), Level: e.Level, Message: e.Message}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleAPILogsStream sends new log entries as Server-Sent Events.
func (s *Server) handleAPILogsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.ring.Subscribe()
	defer s.ring.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-ch:
			data, _ := json.Marshal(logView{
				Time:    entry.Time.Format(time.RFC3339),
				Level:   entry.Level,
				Message: entry.Message,
			})
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
