package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mdp/qrterminal/v3"

	"github.com/leandrotocalini/wagateway/internal/config"
	"github.com/leandrotocalini/wagateway/internal/protocol"
)

const defaultPairTimeout = 3 * time.Minute

// pair links one account interactively: pairing codes are drawn on out and
// the command returns once the phone confirms the link.
func pair(ctx context.Context, cfg *config.Config, logger *slog.Logger, account string, timeout time.Duration, out io.Writer) error {
	if !protocol.ValidAccountID(account) {
		return fmt.Errorf("invalid account id %q", account)
	}

	creds, err := openCredentials(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer creds.Close()

	paired, err := creds.HasCredentials(ctx, account)
	if err != nil {
		return err
	}
	if paired {
		fmt.Fprintf(out, "Account %s is already paired. Disconnect it first to pair again.\n", account)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return pairWith(ctx, newDialer(cfg, creds, logger), account, out)
}

// pairWith drives one connection through the pairing handshake. A restart
// request right after the scan is followed by one fresh dial.
func pairWith(ctx context.Context, dialer protocol.Dialer, account string, out io.Writer) error {
	restarted := false
	for {
		conn, err := dialer.Dial(ctx, account)
		if err != nil {
			return fmt.Errorf("dial: %w", err)
		}
		res, err := awaitPairing(ctx, conn, out)
		conn.Close()
		switch {
		case err != nil:
			return err
		case res.paired:
			return nil
		case res.reason == protocol.ReasonRestartRequired && !restarted:
			restarted = true
		default:
			return fmt.Errorf("pairing ended: %s", res.reason)
		}
	}
}

type pairResult struct {
	paired bool
	reason protocol.DisconnectReason
}

func awaitPairing(ctx context.Context, conn protocol.Conn, out io.Writer) (pairResult, error) {
	if err := conn.Connect(ctx); err != nil {
		return pairResult{}, fmt.Errorf("connect: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return pairResult{}, errors.New("no scan before the timeout")
			}
			return pairResult{}, ctx.Err()
		case ev, ok := <-conn.Events():
			if !ok {
				return pairResult{}, errors.New("connection closed before pairing completed")
			}
			switch e := ev.(type) {
			case protocol.PairingCode:
				fmt.Fprintln(out, "Scan with WhatsApp > Settings > Linked devices:")
				qrterminal.GenerateHalfBlock(e.Code, qrterminal.L, out)
			case protocol.Connected:
				fmt.Fprintf(out, "Paired as +%s\n", e.Phone)
				return pairResult{paired: true}, nil
			case protocol.Disconnected:
				return pairResult{reason: e.Reason}, nil
			}
		}
	}
}
