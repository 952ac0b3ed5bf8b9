// Package supervisor owns the per-account connection state machine:
// starting connection attempts, tracking pairing, classifying disconnects
// and scheduling reconnects.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leandrotocalini/wagateway/internal/normalize"
	"github.com/leandrotocalini/wagateway/internal/notify"
	"github.com/leandrotocalini/wagateway/internal/payload"
	"github.com/leandrotocalini/wagateway/internal/protocol"
	"github.com/leandrotocalini/wagateway/internal/registry"
)

const (
	defaultRetryDelay         = 3 * time.Second
	defaultRestoreParallelism = 4
)

var (
	ErrNotConnected   = errors.New("account not connected")
	ErrNotFound       = errors.New("session not found")
	ErrLoggedOut      = errors.New("account logged out")
	ErrInvalidAccount = errors.New("invalid account id")
)

// Credentials is the auth state store as seen by the supervisor.
type Credentials interface {
	Accounts(ctx context.Context) ([]string, error)
	HasCredentials(ctx context.Context, account string) (bool, error)
	Purge(ctx context.Context, account string) error
}

// EventHandler consumes content events from an account's stream.
type EventHandler interface {
	HandlePresence(ctx context.Context, account string, ev protocol.PresenceUpdate) bool
	HandleUpsert(ctx context.Context, account string, r normalize.Resolver, ev protocol.MessagesUpsert)
}

// Alerter notifies operators about terminal account events.
type Alerter interface {
	Alert(ctx context.Context, account, text string) error
}

// Status is the outcome of GetOrCreate.
type Status int

const (
	StatusPending Status = iota
	StatusScanRequired
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusScanRequired:
		return "scan_required"
	case StatusConnected:
		return "connected"
	default:
		return "pending"
	}
}

// Result reports where an account stands after GetOrCreate.
type Result struct {
	Status Status
	Code   string
	Phone  string
}

// Supervisor runs one goroutine per account connection.
type Supervisor struct {
	reg     *registry.Registry
	dialer  protocol.Dialer
	creds   Credentials
	events  EventHandler
	sink    notify.Sink
	alerter Alerter
	onPurge func(ctx context.Context, account string)
	logger  *slog.Logger

	retryDelay         time.Duration
	restoreParallelism int
	afterFunc          func(time.Duration, func())

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		s.logger = l
	}
}

// WithRetryDelay sets the reconnect back-off. Non-positive values are
// ignored so a reconnect is never immediate.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.retryDelay = d
		}
	}
}

// WithAfterFunc overrides timer scheduling (for testing).
func WithAfterFunc(fn func(time.Duration, func())) Option {
	return func(s *Supervisor) {
		s.afterFunc = fn
	}
}

// WithAlerter sets an operator alert channel.
func WithAlerter(a Alerter) Option {
	return func(s *Supervisor) {
		s.alerter = a
	}
}

// WithOnPurge registers a hook run after an account's credentials are purged.
func WithOnPurge(fn func(ctx context.Context, account string)) Option {
	return func(s *Supervisor) {
		s.onPurge = fn
	}
}

// WithRestoreParallelism bounds concurrent restorations at startup.
func WithRestoreParallelism(n int) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.restoreParallelism = n
		}
	}
}

// New creates a supervisor.
func New(reg *registry.Registry, dialer protocol.Dialer, creds Credentials, events EventHandler, sink notify.Sink, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		reg:                reg,
		dialer:             dialer,
		creds:              creds,
		events:             events,
		sink:               sink,
		logger:             slog.Default(),
		retryDelay:         defaultRetryDelay,
		restoreParallelism: defaultRestoreParallelism,
		afterFunc:          func(d time.Duration, f func()) { time.AfterFunc(d, f) },
		baseCtx:            ctx,
		cancel:             cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RestoreAll starts a connection for every account with valid stored
// credentials and discards the rest. A failure for one account never
// stops the others. It returns the accounts that were started.
func (s *Supervisor) RestoreAll(ctx context.Context) ([]string, error) {
	accounts, err := s.creds.Accounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stored accounts: %w", err)
	}

	var (
		mu       sync.Mutex
		restored []string
	)
	g := new(errgroup.Group)
	g.SetLimit(s.restoreParallelism)

	for _, account := range accounts {
		g.Go(func() error {
			ok, err := s.creds.HasCredentials(ctx, account)
			if err != nil {
				s.logger.Warn("cannot read stored credentials", "account", account, "error", err)
				s.alert(ctx, account, fmt.Sprintf("WhatsApp account %s could not be restored: %v", account, err))
				return nil
			}
			if !ok {
				s.logger.Info("discarding stale session", "account", account)
				s.purge(ctx, account)
				return nil
			}
			if _, started := s.start(account, nil); !started {
				return nil
			}
			mu.Lock()
			restored = append(restored, account)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	sort.Strings(restored)
	s.logger.Info("sessions restored", "count", len(restored), "stored", len(accounts))
	return restored, nil
}

// GetOrCreate returns the account's current state, starting a connection
// attempt when none exists. A new attempt blocks until the first pairing
// code, a connected state, an error, or ctx expiry.
func (s *Supervisor) GetOrCreate(ctx context.Context, account string) (Result, error) {
	if !protocol.ValidAccountID(account) {
		return Result{}, ErrInvalidAccount
	}
	if sess, ok := s.reg.Get(account); ok {
		return resultOf(sess), nil
	}

	w := newWaiter()
	sess, started := s.start(account, w)
	if !started {
		return resultOf(sess), nil
	}

	select {
	case out := <-w.ch:
		return out.result, out.err
	case <-ctx.Done():
		return Result{Status: StatusPending}, ctx.Err()
	}
}

// Disconnect logs the account out (when connected), removes it from the
// registry and deletes its credentials. Any pending reconnect is cancelled.
func (s *Supervisor) Disconnect(ctx context.Context, account string) error {
	sess, ok := s.reg.Remove(account)
	if !ok {
		return ErrNotFound
	}
	if sess.Conn != nil {
		if err := sess.Conn.Logout(ctx); err != nil {
			s.logger.Warn("protocol logout failed", "account", account, "error", err)
		}
	}
	sess.Stop()
	s.purge(ctx, account)
	s.sink.Notify(ctx, account, payload.Disconnected(account, protocol.ReasonLoggedOut.String()))
	s.logger.Info("account disconnected on request", "account", account)
	return nil
}

// IsConnected reports whether the account has a live connection.
func (s *Supervisor) IsConnected(account string) bool {
	sess, ok := s.reg.Get(account)
	return ok && sess.Conn != nil
}

// Conn returns the account's live connection.
func (s *Supervisor) Conn(account string) (protocol.Conn, error) {
	sess, ok := s.reg.Get(account)
	if !ok || sess.Conn == nil {
		return nil, ErrNotConnected
	}
	return sess.Conn, nil
}

// AccountStatus is a point-in-time view of one account.
type AccountStatus struct {
	Account   string
	State     registry.State
	Phone     string
	Since     time.Time
	CheckedAt time.Time
}

// Status reports the account's state; absent accounts are disconnected.
func (s *Supervisor) Status(account string) AccountStatus {
	now := time.Now()
	sess, ok := s.reg.Get(account)
	if !ok {
		return AccountStatus{Account: account, State: registry.StateAbsent, CheckedAt: now}
	}
	return AccountStatus{Account: account, State: sess.State, Phone: sess.Phone, Since: sess.Since, CheckedAt: now}
}

// Accounts reports every account currently in the registry, sorted by id.
func (s *Supervisor) Accounts() []AccountStatus {
	now := time.Now()
	snap := s.reg.Snapshot()
	out := make([]AccountStatus, 0, len(snap))
	for _, sess := range snap {
		out = append(out, AccountStatus{Account: sess.Account, State: sess.State, Phone: sess.Phone, Since: sess.Since, CheckedAt: now})
	}
	return out
}

// Close stops every account loop without logging out and waits for them
// to exit or ctx to expire.
func (s *Supervisor) Close(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// start claims the account and launches its loop. When the account is
// already claimed the existing session is returned with started=false.
func (s *Supervisor) start(account string, w *waiter) (registry.Session, bool) {
	ctx, cancel := context.WithCancel(s.baseCtx)
	sess, ok := s.reg.Claim(account, cancel)
	if !ok {
		cancel()
		return sess, false
	}
	s.launch(ctx, cancel, account, sess.Attempt, w)
	return sess, true
}

func (s *Supervisor) launch(ctx context.Context, cancel context.CancelFunc, account string, attempt uint64, w *waiter) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.run(ctx, account, attempt, w)
	}()
}

// scheduleRetry arms the per-account reconnect timer. When it fires the
// account is resumed only if it is still parked under the same attempt.
func (s *Supervisor) scheduleRetry(account string, attempt uint64) {
	s.logger.Info("reconnect scheduled", "account", account, "delay", s.retryDelay)
	s.afterFunc(s.retryDelay, func() {
		if s.baseCtx.Err() != nil {
			return
		}
		ctx, cancel := context.WithCancel(s.baseCtx)
		sess, ok := s.reg.Resume(account, attempt, cancel)
		if !ok {
			cancel()
			s.logger.Debug("reconnect cancelled", "account", account)
			return
		}
		s.launch(ctx, cancel, account, sess.Attempt, nil)
	})
}

func (s *Supervisor) purge(ctx context.Context, account string) {
	if err := s.creds.Purge(ctx, account); err != nil {
		s.logger.Error("failed to purge credentials", "account", account, "error", err)
	}
	if s.onPurge != nil {
		s.onPurge(ctx, account)
	}
}

func (s *Supervisor) alert(ctx context.Context, account, text string) {
	if s.alerter == nil {
		return
	}
	if err := s.alerter.Alert(ctx, account, text); err != nil {
		s.logger.Warn("operator alert failed", "account", account, "error", err)
	}
}

func resultOf(sess registry.Session) Result {
	switch {
	case sess.Conn != nil:
		return Result{Status: StatusConnected, Phone: sess.Phone}
	case sess.Code != "":
		return Result{Status: StatusScanRequired, Code: sess.Code}
	default:
		return Result{Status: StatusPending}
	}
}
