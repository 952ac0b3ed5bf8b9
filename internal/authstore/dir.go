// Package authstore persists protocol credentials per account.
package authstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/leandrotocalini/wagateway/internal/protocol"
)

const sessionFile = "session.db"

// Option configures a store.
type Option func(*options)

type options struct {
	logger *slog.Logger
	dbLog  func(account string) waLog.Logger
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithDBLog sets the logger factory handed to whatsmeow's sqlstore.
func WithDBLog(fn func(account string) waLog.Logger) Option {
	return func(o *options) {
		o.dbLog = fn
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger: slog.Default(),
		dbLog:  func(string) waLog.Logger { return waLog.Noop },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Dir keeps one sqlite database per account under root/<account>/.
type Dir struct {
	root string
	opts options

	mu         sync.Mutex
	containers map[string]*sqlstore.Container
}

// NewDir creates the root directory if needed.
func NewDir(root string, opts ...Option) (*Dir, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &Dir{
		root:       root,
		opts:       buildOptions(opts),
		containers: make(map[string]*sqlstore.Container),
	}, nil
}

// Accounts lists every account directory, paired or not.
func (d *Dir) Accounts(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("read session directory: %w", err)
	}
	var accounts []string
	for _, e := range entries {
		if e.IsDir() && protocol.ValidAccountID(e.Name()) {
			accounts = append(accounts, e.Name())
		}
	}
	sort.Strings(accounts)
	return accounts, nil
}

// HasCredentials reports whether the account's database exists and holds a
// paired device. A missing database is not created.
func (d *Dir) HasCredentials(ctx context.Context, account string) (bool, error) {
	if !protocol.ValidAccountID(account) {
		return false, nil
	}
	if _, err := os.Stat(d.dbPath(account)); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	device, err := d.Device(ctx, account)
	if err != nil {
		return false, err
	}
	return device.ID != nil, nil
}

// Device returns the account's first stored device, or a new unpaired one.
func (d *Dir) Device(ctx context.Context, account string) (*store.Device, error) {
	container, err := d.container(ctx, account)
	if err != nil {
		return nil, err
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return device, nil
}

// Bind is a no-op: the database file is the binding.
func (d *Dir) Bind(context.Context, string, types.JID) error {
	return nil
}

// Purge closes the account's database and removes its directory.
func (d *Dir) Purge(ctx context.Context, account string) error {
	if !protocol.ValidAccountID(account) {
		return fmt.Errorf("invalid account id %q", account)
	}
	d.mu.Lock()
	if c, ok := d.containers[account]; ok {
		if err := c.Close(); err != nil {
			d.opts.logger.Warn("failed to close session database", "account", account, "error", err)
		}
		delete(d.containers, account)
	}
	d.mu.Unlock()

	if err := os.RemoveAll(filepath.Join(d.root, account)); err != nil {
		return fmt.Errorf("remove session directory: %w", err)
	}
	d.opts.logger.Info("session purged", "account", account)
	return nil
}

// Close closes every open database.
func (d *Dir) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs []error
	for account, c := range d.containers {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", account, err))
		}
		delete(d.containers, account)
	}
	return errors.Join(errs...)
}

func (d *Dir) dbPath(account string) string {
	return filepath.Join(d.root, account, sessionFile)
}

func (d *Dir) container(ctx context.Context, account string) (*sqlstore.Container, error) {
	if !protocol.ValidAccountID(account) {
		return nil, fmt.Errorf("invalid account id %q", account)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.containers[account]; ok {
		return c, nil
	}

	if err := os.MkdirAll(filepath.Join(d.root, account), 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	c, err := sqlstore.New(ctx, "sqlite3", "file:"+d.dbPath(account)+"?_foreign_keys=on", d.opts.dbLog(account))
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlstore: %w", err)
	}
	d.containers[account] = c
	return c, nil
}
