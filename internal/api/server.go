// Package api exposes the gateway over HTTP: the account, message and chat
// routes, a WebSocket mirror of canonical events, and the log endpoints.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/leandrotocalini/wagateway/internal/logging"
	"github.com/leandrotocalini/wagateway/internal/protocol"
	"github.com/leandrotocalini/wagateway/internal/send"
	"github.com/leandrotocalini/wagateway/internal/store"
	"github.com/leandrotocalini/wagateway/internal/supervisor"
)

const (
	defaultConnectWait = 30 * time.Second
	maxBodyBytes       = 32 << 20
)

// Sessions is the supervisor as seen by the routes.
type Sessions interface {
	GetOrCreate(ctx context.Context, account string) (supervisor.Result, error)
	Status(account string) supervisor.AccountStatus
	Accounts() []supervisor.AccountStatus
	Disconnect(ctx context.Context, account string) error
	Conn(account string) (protocol.Conn, error)
}

// Sender submits outbound messages.
type Sender interface {
	Send(ctx context.Context, req send.Request) (send.Receipt, error)
}

// Attachments looks up indexed media messages.
type Attachments interface {
	Get(ctx context.Context, account, messageID string) (store.Attachment, error)
}

// Server holds the route dependencies.
type Server struct {
	secret      string
	sessions    Sessions
	sender      Sender
	attachments Attachments
	hub         *Hub
	ring        *logging.Ring
	logger      *slog.Logger
	connectWait time.Duration
	now         func() time.Time
	started     time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithHub enables GET /api/events/stream.
func WithHub(h *Hub) Option {
	return func(s *Server) {
		s.hub = h
	}
}

// WithLogRing enables the /api/logs endpoints.
func WithLogRing(r *logging.Ring) Option {
	return func(s *Server) {
		s.ring = r
	}
}

// WithConnectWait bounds how long connect waits for a pairing code.
func WithConnectWait(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.connectWait = d
		}
	}
}

// WithClock sets a custom time function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(s *Server) {
		s.now = fn
	}
}

// New creates a Server. secret is compared verbatim against the
// Authorization header of every /api route.
func New(secret string, sessions Sessions, sender Sender, attachments Attachments, opts ...Option) *Server {
	s := &Server{
		secret:      secret,
		sessions:    sessions,
		sender:      sender,
		attachments: attachments,
		logger:      slog.Default(),
		connectWait: defaultConnectWait,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.started = s.now()
	return s
}

// Handler returns the routed, authenticated handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)

	api := http.NewServeMux()
	api.HandleFunc("POST /api/connection/connect", s.handleConnect)
	api.HandleFunc("POST /api/connection/status", s.handleStatus)
	api.HandleFunc("POST /api/connection/disconnect", s.handleDisconnect)
	api.HandleFunc("POST /api/messages/send", s.handleSend)
	api.HandleFunc("POST /api/messages/download", s.handleDownload)
	api.HandleFunc("POST /api/chats/check-number", s.handleCheckNumber)
	api.HandleFunc("POST /api/chats/mark-read", s.handleMarkRead)
	api.HandleFunc("POST /api/chats/update-presence", s.handleUpdatePresence)
	api.HandleFunc("POST /api/groups/list", s.handleListGroups)
	api.HandleFunc("POST /api/groups/info", s.handleGroupInfo)
	api.HandleFunc("GET /api/status", s.handleAPIStatus)
	if s.hub != nil {
		api.HandleFunc("GET /api/events/stream", s.hub.ServeHTTP)
	}
	if s.ring != nil {
		api.HandleFunc("GET /api/logs", s.handleAPILogs)
		api.HandleFunc("GET /api/logs/stream", s.handleAPILogsStream)
	}
	mux.Handle("/api/", s.authenticate(api))

	return s.requestID(mux)
}

// authenticate rejects requests whose Authorization header does not carry
// the shared secret.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("Authorization")
		if got == "" {
			writeJSON(w, http.StatusBadRequest, failure("Secret is required"))
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.secret)) != 1 {
			writeJSON(w, http.StatusUnauthorized, failure("Unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		start := s.now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "request_id", id, "elapsed", s.now().Sub(start))
	})
}

type response map[string]any

func failure(message string) response {
	return response{"success": false, "message": message}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// decode reads a JSON body into dst. An empty body leaves dst untouched.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, failure("Invalid JSON body: "+err.Error()))
		return false
	}
	return true
}

// reject answers a missing or malformed field.
func reject(w http.ResponseWriter, field, message string) {
	writeJSON(w, http.StatusBadRequest, response{"success": false, "message": message, "parameter": field})
}

// fail maps an operation error onto a status code and message.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *send.ValidationError
	switch {
	case errors.As(err, &verr):
		reject(w, verr.Field, verr.Reason)
	case errors.Is(err, supervisor.ErrInvalidAccount):
		reject(w, "account", "Invalid account ID")
	case errors.Is(err, supervisor.ErrNotConnected):
		writeJSON(w, http.StatusNotFound, failure("Account not connected"))
	case errors.Is(err, supervisor.ErrNotFound):
		writeJSON(w, http.StatusNotFound, failure("Session not found"))
	case errors.Is(err, send.ErrNotReachable):
		writeJSON(w, http.StatusNotFound, failure("Receiver is not on WhatsApp"))
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, failure("Attachment not found"))
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, failure(err.Error()))
	}
}
