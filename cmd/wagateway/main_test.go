package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/leandrotocalini/wagateway/internal/protocol"
)

func TestSubcommand(t *testing.T) {
	tests := []struct {
		args     []string
		wantCmd  string
		wantRest int
	}{
		{nil, "serve", 0},
		{[]string{"-config", "x.json"}, "serve", 2},
		{[]string{"serve", "-config", "x.json"}, "serve", 2},
		{[]string{"pair", "sales"}, "pair", 1},
		{[]string{"--help"}, "help", 0},
	}
	for _, tt := range tests {
		cmd, rest := subcommand(tt.args)
		if cmd != tt.wantCmd || len(rest) != tt.wantRest {
			t.Errorf("subcommand(%v) = %q, %v", tt.args, cmd, rest)
		}
	}
}

func TestRun_UsageErrors(t *testing.T) {
	var stderr bytes.Buffer
	if code := run([]string{"frobnicate"}, &stderr); code != 2 {
		t.Errorf("unknown command exit = %d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "usage:") {
		t.Errorf("stderr = %q", stderr.String())
	}

	stderr.Reset()
	if code := run([]string{"pair"}, &stderr); code != 2 {
		t.Errorf("pair without account exit = %d, want 2", code)
	}

	stderr.Reset()
	if code := run([]string{"serve", "-nope"}, &stderr); code != 2 {
		t.Errorf("bad flag exit = %d, want 2", code)
	}
}

type scriptedConn struct {
	protocol.Conn
	events chan protocol.Event
	script []protocol.Event
	closed bool
}

func (c *scriptedConn) Events() <-chan protocol.Event { return c.events }

func (c *scriptedConn) Connect(context.Context) error {
	for _, ev := range c.script {
		c.events <- ev
	}
	return nil
}

func (c *scriptedConn) Close() { c.closed = true }

type scriptedDialer struct {
	conns []*scriptedConn
	dials int
}

func (d *scriptedDialer) Dial(context.Context, string) (protocol.Conn, error) {
	c := d.conns[d.dials]
	d.dials++
	return c, nil
}

func newScripted(events ...protocol.Event) *scriptedConn {
	return &scriptedConn{events: make(chan protocol.Event, len(events)), script: events}
}

func TestPairWith_RestartAfterScan(t *testing.T) {
	first := newScripted(
		protocol.PairingCode{Code: "2@abc"},
		protocol.Disconnected{Reason: protocol.ReasonRestartRequired},
	)
	second := newScripted(protocol.Connected{Phone: "15551234567"})
	dialer := &scriptedDialer{conns: []*scriptedConn{first, second}}

	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := pairWith(ctx, dialer, "sales", &out); err != nil {
		t.Fatalf("pairWith: %v", err)
	}

	if dialer.dials != 2 || !first.closed || !second.closed {
		t.Errorf("dials = %d, closed = %v/%v", dialer.dials, first.closed, second.closed)
	}
	if !strings.Contains(out.String(), "Linked devices") || !strings.Contains(out.String(), "Paired as +15551234567") {
		t.Errorf("output = %q", out.String())
	}
}

func TestPairWith_TerminalDisconnect(t *testing.T) {
	dialer := &scriptedDialer{conns: []*scriptedConn{
		newScripted(protocol.Disconnected{Reason: protocol.ReasonTimedOut}),
	}}

	err := pairWith(context.Background(), dialer, "sales", &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), protocol.ReasonTimedOut.String()) {
		t.Errorf("err = %v", err)
	}
}

func TestPairWith_Timeout(t *testing.T) {
	dialer := &scriptedDialer{conns: []*scriptedConn{newScripted()}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := pairWith(ctx, dialer, "sales", &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "timeout") {
		t.Errorf("err = %v", err)
	}
}
