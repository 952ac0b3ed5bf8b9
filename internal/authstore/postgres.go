package authstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
)

// Postgres keeps every account's device in one shared whatsmeow container
// and maps accounts to device JIDs in gateway_accounts.
type Postgres struct {
	db        *sql.DB
	container *sqlstore.Container
	opts      options
}

// OpenPostgres connects, upgrades the whatsmeow schema and creates the
// account table.
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*Postgres, error) {
	o := buildOptions(opts)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	container := sqlstore.NewWithDB(db, "postgres", o.dbLog(""))
	if err := container.Upgrade(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("upgrade whatsmeow schema: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS gateway_accounts (
			account   TEXT PRIMARY KEY,
			jid       TEXT NOT NULL,
			paired_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create gateway_accounts table: %w", err)
	}

	return &Postgres{db: db, container: container, opts: o}, nil
}

// Accounts lists every bound account.
func (p *Postgres) Accounts(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT account FROM gateway_accounts ORDER BY account`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// HasCredentials reports whether the account's bound device still exists.
func (p *Postgres) HasCredentials(ctx context.Context, account string) (bool, error) {
	device, err := p.boundDevice(ctx, account)
	if err != nil {
		return false, err
	}
	return device != nil, nil
}

// Device returns the bound device, or a fresh unpaired one.
func (p *Postgres) Device(ctx context.Context, account string) (*store.Device, error) {
	device, err := p.boundDevice(ctx, account)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return p.container.NewDevice(), nil
	}
	return device, nil
}

// Bind maps account to a newly paired device.
func (p *Postgres) Bind(ctx context.Context, account string, id types.JID) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO gateway_accounts (account, jid) VALUES ($1, $2)
		 ON CONFLICT (account) DO UPDATE SET jid = EXCLUDED.jid, paired_at = now()`,
		account, id.String(),
	)
	if err != nil {
		return fmt.Errorf("bind account: %w", err)
	}
	return nil
}

// Purge deletes the bound device and the account row.
func (p *Postgres) Purge(ctx context.Context, account string) error {
	device, err := p.boundDevice(ctx, account)
	if err != nil {
		return err
	}
	if device != nil {
		if err := p.container.DeleteDevice(ctx, device); err != nil {
			return fmt.Errorf("delete device: %w", err)
		}
	}
	if _, err := p.db.ExecContext(ctx, `DELETE FROM gateway_accounts WHERE account = $1`, account); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	p.opts.logger.Info("session purged", "account", account)
	return nil
}

func (p *Postgres) Close() error {
	return p.container.Close()
}

// boundDevice returns nil when the account is unbound or its device is gone.
func (p *Postgres) boundDevice(ctx context.Context, account string) (*store.Device, error) {
	var raw string
	err := p.db.QueryRowContext(ctx, `SELECT jid FROM gateway_accounts WHERE account = $1`, account).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	jid, err := types.ParseJID(raw)
	if err != nil {
		return nil, fmt.Errorf("stored jid %q: %w", raw, err)
	}
	device, err := p.container.GetDevice(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}
	return device, nil
}
