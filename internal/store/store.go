// Package store keeps the media index: enough of every normalized
// attachment to download it again on request.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/leandrotocalini/wagateway/internal/protocol"
)

// ErrNotFound is returned when no attachment is indexed under a message id.
var ErrNotFound = errors.New("attachment not found")

// Attachment is one indexed media message.
type Attachment struct {
	Account   string
	MessageID string
	Kind      protocol.MessageKind
	Mimetype  string
	FileName  string
	Ref       protocol.MediaRef
	CreatedAt time.Time
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source (for testing).
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		s.now = fn
	}
}

// New opens (or creates) a SQLite store at the given path.
func New(dbPath string, opts ...Option) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS attachments (
			account    TEXT NOT NULL,
			message_id TEXT NOT NULL,
			kind       INTEGER NOT NULL,
			mimetype   TEXT NOT NULL DEFAULT '',
			file_name  TEXT NOT NULL DEFAULT '',
			ref        BLOB,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (account, message_id)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create attachments table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS attachments_created ON attachments (created_at)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create attachments index: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Remember indexes a media message. A redelivered id overwrites the row.
func (s *Store) Remember(ctx context.Context, account, messageID string, m protocol.Media) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attachments (account, message_id, kind, mimetype, file_name, ref, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(account, message_id) DO UPDATE SET kind = excluded.kind, mimetype = excluded.mimetype,
		 file_name = excluded.file_name, ref = excluded.ref, created_at = excluded.created_at`,
		account, messageID, int(m.MediaKind), m.Mimetype, m.FileName, m.Ref.Raw, s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("index attachment: %w", err)
	}
	return nil
}

// Get returns the attachment indexed for account and messageID.
func (s *Store) Get(ctx context.Context, account, messageID string) (Attachment, error) {
	a := Attachment{Account: account, MessageID: messageID}
	var kind int
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT kind, mimetype, file_name, ref, created_at FROM attachments WHERE account = ? AND message_id = ?`,
		account, messageID,
	).Scan(&kind, &a.Mimetype, &a.FileName, &a.Ref.Raw, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Attachment{}, ErrNotFound
	}
	if err != nil {
		return Attachment{}, fmt.Errorf("load attachment: %w", err)
	}
	a.Kind = protocol.MessageKind(kind)
	a.Ref.Kind = a.Kind
	a.CreatedAt = time.Unix(created, 0)
	return a, nil
}

// DeleteAccount drops every row of account.
func (s *Store) DeleteAccount(ctx context.Context, account string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM attachments WHERE account = ?`, account)
	if err != nil {
		return 0, fmt.Errorf("delete attachments: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Prune drops rows older than maxAge.
func (s *Store) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := s.now().Add(-maxAge).Unix()
	res, err := s.db.ExecContext(ctx, `DELETE FROM attachments WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune attachments: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
