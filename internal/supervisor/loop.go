package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/leandrotocalini/wagateway/internal/payload"
	"github.com/leandrotocalini/wagateway/internal/protocol"
)

// run owns one connection attempt: it dials, then receives events until
// the connection closes or ctx is cancelled.
func (s *Supervisor) run(ctx context.Context, account string, attempt uint64, w *waiter) {
	log := s.logger.With("account", account, "attempt", attempt)

	conn, err := s.dialer.Dial(ctx, account)
	if err != nil {
		s.fail(account, attempt, w, log, fmt.Errorf("dial: %w", err))
		return
	}
	defer conn.Close()

	if err := conn.Connect(ctx); err != nil {
		// With no waiting caller a failed connect is retried like an
		// unexplained disconnect.
		if w == nil && ctx.Err() == nil {
			s.onDisconnect(ctx, account, attempt, protocol.Disconnected{Reason: protocol.ReasonUnknown, Detail: err.Error()}, nil, log)
			return
		}
		s.fail(account, attempt, w, log, fmt.Errorf("connect: %w", err))
		return
	}
	log.Debug("connection attempt started")

	events := conn.Events()
	for {
		select {
		case <-ctx.Done():
			w.deliver(outcome{err: ctx.Err()})
			log.Debug("connection attempt stopped")
			return
		case ev, ok := <-events:
			if !ok {
				s.onDisconnect(ctx, account, attempt, protocol.Disconnected{Reason: protocol.ReasonUnknown, Detail: "event stream closed"}, w, log)
				return
			}
			if done := s.dispatch(ctx, account, attempt, conn, ev, w, log); done {
				return
			}
		}
	}
}

// dispatch handles one event. A panic in a handler is contained to that
// event so the account keeps running.
func (s *Supervisor) dispatch(ctx context.Context, account string, attempt uint64, conn protocol.Conn, ev protocol.Event, w *waiter, log *slog.Logger) (done bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while handling event", "event", fmt.Sprintf("%T", ev), "panic", r)
		}
	}()

	switch e := ev.(type) {
	case protocol.PairingCode:
		if s.reg.SetPairingCode(account, attempt, e.Code) {
			log.Info("pairing code issued")
			w.deliver(outcome{result: Result{Status: StatusScanRequired, Code: e.Code}})
		}

	case protocol.Connected:
		phone := e.Phone
		if phone == "" {
			phone = conn.OwnNumber()
		}
		if !s.reg.Put(account, attempt, conn, phone) {
			log.Info("connection superseded, closing")
			return true
		}
		log.Info("account connected", "phone", phone)
		s.sink.Notify(ctx, account, payload.Connected(account, phone))
		w.deliver(outcome{result: Result{Status: StatusConnected, Phone: phone}})

	case protocol.Disconnected:
		s.onDisconnect(ctx, account, attempt, e, w, log)
		return true

	case protocol.PresenceUpdate:
		s.events.HandlePresence(ctx, account, e)

	case protocol.MessagesUpsert:
		s.events.HandleUpsert(ctx, account, conn, e)

	default:
		log.Debug("ignoring event", "event", fmt.Sprintf("%T", ev))
	}
	return false
}

// onDisconnect applies the single action chosen by Decide. If the entry no
// longer belongs to this attempt (explicit disconnect, shutdown) nothing
// happens.
func (s *Supervisor) onDisconnect(ctx context.Context, account string, attempt uint64, e protocol.Disconnected, w *waiter, log *slog.Logger) {
	action := Decide(e.Reason)
	log.Info("connection closed", "reason", e.Reason.String(), "detail", e.Detail, "action", action.String())

	switch action {
	case ActionPurge:
		if !s.reg.RemoveAttempt(account, attempt) {
			return
		}
		s.purge(ctx, account)
		s.sink.Notify(ctx, account, payload.Disconnected(account, protocol.ReasonLoggedOut.String()))
		s.alert(ctx, account, fmt.Sprintf("WhatsApp account %s was logged out; stored credentials were removed.", account))
		w.deliver(outcome{err: ErrLoggedOut})

	case ActionRetry:
		if !s.reg.MarkReconnecting(account, attempt) {
			return
		}
		s.scheduleRetry(account, attempt)
		w.deliver(outcome{result: Result{Status: StatusPending}})
	}
}

// fail ends an attempt that could not be established.
func (s *Supervisor) fail(account string, attempt uint64, w *waiter, log *slog.Logger, err error) {
	s.reg.RemoveAttempt(account, attempt)
	log.Error("connection attempt failed", "error", err)
	w.deliver(outcome{err: err})
}

type outcome struct {
	result Result
	err    error
}

// waiter hands the first outcome of an attempt to a blocked GetOrCreate
// caller. Later outcomes are dropped. A nil waiter ignores everything.
type waiter struct {
	once sync.Once
	ch   chan outcome
}

func newWaiter() *waiter {
	return &waiter{ch: make(chan outcome, 1)}
}

func (w *waiter) deliver(o outcome) {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.ch <- o
	})
}
