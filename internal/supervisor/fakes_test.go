package supervisor

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leandrotocalini/wagateway/internal/normalize"
	"github.com/leandrotocalini/wagateway/internal/payload"
	"github.com/leandrotocalini/wagateway/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type fakeConn struct {
	events     chan protocol.Event
	onConnect  []protocol.Event
	phone      string
	connectErr error

	loggedOut atomic.Bool
	closed    atomic.Bool
}

func newFakeConn(onConnect ...protocol.Event) *fakeConn {
	return &fakeConn{events: make(chan protocol.Event, 16), onConnect: onConnect, phone: "15551234567"}
}

func (c *fakeConn) Events() <-chan protocol.Event { return c.events }

func (c *fakeConn) Connect(context.Context) error {
	if c.connectErr != nil {
		return c.connectErr
	}
	for _, ev := range c.onConnect {
		c.events <- ev
	}
	return nil
}

func (c *fakeConn) Close()                       { c.closed.Store(true) }
func (c *fakeConn) Logout(context.Context) error { c.loggedOut.Store(true); return nil }
func (c *fakeConn) OwnNumber() string            { return c.phone }
func (c *fakeConn) GenerateMessageID() string    { return "3EB0TEST" }
func (c *fakeConn) emit(ev protocol.Event)       { c.events <- ev }

func (c *fakeConn) JoinedGroups(context.Context) ([]protocol.GroupInfo, error) { return nil, nil }

func (c *fakeConn) IsOnWhatsApp(_ context.Context, number string) (protocol.Registration, error) {
	return protocol.Registration{Query: number, Registered: true}, nil
}

func (c *fakeConn) ProfilePicture(context.Context, string) (string, error) { return "", nil }

func (c *fakeConn) GroupInfo(context.Context, string) (*protocol.GroupInfo, error) {
	return nil, errors.New("not implemented")
}

func (c *fakeConn) Send(context.Context, string, string, protocol.Outbound) (time.Time, error) {
	return time.Now(), nil
}

func (c *fakeConn) Download(context.Context, protocol.MediaRef) ([]byte, error) { return nil, nil }

func (c *fakeConn) MarkRead(context.Context, string, []string) error   { return nil }
func (c *fakeConn) SendPresence(context.Context, string, string) error { return nil }
func (c *fakeConn) SubscribePresence(context.Context, string) error    { return nil }

// fakeDialer hands out connections produced by next, in order.
type fakeDialer struct {
	mu    sync.Mutex
	next  func(account string) *fakeConn
	err   error
	conns []*fakeConn
	dials atomic.Int32
	gate  chan struct{} // when set, Dial blocks until closed
}

func (d *fakeDialer) Dial(_ context.Context, account string) (protocol.Conn, error) {
	if d.gate != nil {
		<-d.gate
	}
	d.dials.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	c := d.next(account)
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

type fakeCreds struct {
	mu     sync.Mutex
	valid  map[string]bool
	broken map[string]error
	purged []string
}

func (f *fakeCreds) Accounts(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for a := range f.valid {
		out = append(out, a)
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeCreds) HasCredentials(_ context.Context, account string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.broken[account]; err != nil {
		return false, err
	}
	return f.valid[account], nil
}

func (f *fakeCreds) Purge(_ context.Context, account string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.valid, account)
	f.purged = append(f.purged, account)
	return nil
}

func (f *fakeCreds) purgedList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.purged...)
}

type countingHandler struct {
	presence atomic.Int32
	upserts  atomic.Int32
}

func (h *countingHandler) HandlePresence(context.Context, string, protocol.PresenceUpdate) bool {
	h.presence.Add(1)
	return true
}

func (h *countingHandler) HandleUpsert(context.Context, string, normalize.Resolver, protocol.MessagesUpsert) {
	h.upserts.Add(1)
}

type recordingSink struct {
	mu       sync.Mutex
	payloads []payload.Payload
}

func (s *recordingSink) Notify(_ context.Context, _ string, p payload.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, p)
	return nil
}

func (s *recordingSink) statuses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, p := range s.payloads {
		if d, ok := p.Data.(payload.ConnectionData); ok {
			out = append(out, d.Status+":"+d.Reason)
		}
	}
	return out
}

// manualTimers records scheduled callbacks instead of running them.
type manualTimers struct {
	mu     sync.Mutex
	delays []time.Duration
	fns    []func()
}

func (m *manualTimers) afterFunc(d time.Duration, f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays = append(m.delays, d)
	m.fns = append(m.fns, f)
}

func (m *manualTimers) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fns)
}

func (m *manualTimers) fire(i int) {
	m.mu.Lock()
	f := m.fns[i]
	m.mu.Unlock()
	f()
}

type recordingAlerter struct {
	mu    sync.Mutex
	texts []string
}

func (a *recordingAlerter) Alert(_ context.Context, _, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.texts = append(a.texts, text)
	return nil
}

func (a *recordingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.texts)
}
