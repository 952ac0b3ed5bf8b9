package api

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/leandrotocalini/wagateway/internal/protocol"
	"github.com/leandrotocalini/wagateway/internal/registry"
	"github.com/leandrotocalini/wagateway/internal/send"
	"github.com/leandrotocalini/wagateway/internal/store"
	"github.com/leandrotocalini/wagateway/internal/supervisor"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type fakeSessions struct {
	result        supervisor.Result
	resultErr     error
	status        supervisor.AccountStatus
	accounts      []supervisor.AccountStatus
	disconnected  []string
	disconnectErr error
	conn          protocol.Conn
}

func (f *fakeSessions) GetOrCreate(context.Context, string) (supervisor.Result, error) {
	return f.result, f.resultErr
}

func (f *fakeSessions) Status(account string) supervisor.AccountStatus {
	st := f.status
	st.Account = account
	return st
}

func (f *fakeSessions) Accounts() []supervisor.AccountStatus { return f.accounts }

func (f *fakeSessions) Disconnect(_ context.Context, account string) error {
	if f.disconnectErr != nil {
		return f.disconnectErr
	}
	f.disconnected = append(f.disconnected, account)
	return nil
}

func (f *fakeSessions) Conn(string) (protocol.Conn, error) {
	if f.conn == nil {
		return nil, supervisor.ErrNotConnected
	}
	return f.conn, nil
}

type fakeSender struct {
	got     send.Request
	receipt send.Receipt
	err     error
}

func (f *fakeSender) Send(_ context.Context, req send.Request) (send.Receipt, error) {
	f.got = req
	return f.receipt, f.err
}

type fakeAttachments map[string]store.Attachment

func (f fakeAttachments) Get(_ context.Context, account, id string) (store.Attachment, error) {
	a, ok := f[account+"/"+id]
	if !ok {
		return store.Attachment{}, store.ErrNotFound
	}
	return a, nil
}

// stubConn implements only what the routes call; anything else panics
// through the nil embedded interface.
type stubConn struct {
	protocol.Conn

	mu       sync.Mutex
	calls    []string
	reg      protocol.Registration
	groups   []protocol.GroupInfo
	group    *protocol.GroupInfo
	download []byte
}

func (c *stubConn) record(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

func (c *stubConn) IsOnWhatsApp(_ context.Context, number string) (protocol.Registration, error) {
	c.record("check:" + number)
	return c.reg, nil
}

func (c *stubConn) MarkRead(_ context.Context, chat string, ids []string) error {
	c.record("read:" + chat + ":" + ids[0])
	return nil
}

func (c *stubConn) SendPresence(_ context.Context, to, presence string) error {
	c.record("presence:" + presence + ":" + to)
	return nil
}

func (c *stubConn) SubscribePresence(_ context.Context, to string) error {
	c.record("subscribe:" + to)
	return nil
}

func (c *stubConn) JoinedGroups(context.Context) ([]protocol.GroupInfo, error) {
	return c.groups, nil
}

func (c *stubConn) GroupInfo(context.Context, string) (*protocol.GroupInfo, error) {
	return c.group, nil
}

func (c *stubConn) Download(_ context.Context, ref protocol.MediaRef) ([]byte, error) {
	c.record("download:" + string(ref.Raw))
	return c.download, nil
}

var connectedStatus = supervisor.AccountStatus{
	State: registry.StateConnected,
	Phone: "15551234567",
	Since: time.Unix(1700000000, 0),
}
