// Package media downloads message attachments into short-lived local files.
//
// Files live under <root>/<account>/<category>/ and are named by retrieval
// time. Callers must Release every path they receive from Fetch.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/leandrotocalini/wagateway/internal/protocol"
)

// DownloadFunc retrieves the attachment bytes.
type DownloadFunc func(ctx context.Context) ([]byte, error)

// Pipeline writes attachments under a root directory.
type Pipeline struct {
	root   string
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithClock sets a custom time function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = fn
	}
}

// New creates a pipeline rooted at dir.
func New(dir string, opts ...Option) *Pipeline {
	p := &Pipeline{
		root:   dir,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Root returns the pipeline's base directory.
func (p *Pipeline) Root() string {
	return p.root
}

// Fetch downloads an attachment and returns the local path. On any failure
// no file is left behind.
func (p *Pipeline) Fetch(ctx context.Context, account string, kind protocol.MessageKind, mimetype string, download DownloadFunc) (string, error) {
	if !protocol.ValidAccountID(account) {
		return "", fmt.Errorf("invalid account id %q", account)
	}
	if !kind.IsMedia() {
		return "", fmt.Errorf("%s is not a media kind", kind)
	}

	dir := filepath.Join(p.root, account, kind.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}

	data, err := download(ctx)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", kind, err)
	}

	name := strconv.FormatInt(p.now().UnixNano(), 10) + "-" + uuid.NewString()[:8] + Extension(mimetype)
	final := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write media: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close media: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("commit media: %w", err)
	}

	p.logger.Debug("media retrieved", "account", account, "kind", kind.String(), "path", final, "bytes", len(data))
	return final, nil
}

// Release deletes a file returned by Fetch.
func (p *Pipeline) Release(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Warn("failed to remove media file", "path", path, "error", err)
	}
}

// Sweep removes everything under the root, e.g. files orphaned by a crash.
func (p *Pipeline) Sweep() error {
	entries, err := os.ReadDir(p.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read media root: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(p.root, e.Name())); err != nil {
			return fmt.Errorf("remove %s: %w", e.Name(), err)
		}
	}
	return nil
}

var knownExtensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"image/gif":       ".gif",
	"video/mp4":       ".mp4",
	"video/3gpp":      ".3gp",
	"audio/ogg":       ".ogg",
	"audio/mpeg":      ".mp3",
	"audio/mp4":       ".m4a",
	"audio/aac":       ".aac",
	"application/pdf": ".pdf",
}

// Extension maps a MIME type (parameters allowed) to a file extension,
// falling back to ".bin".
func Extension(mimetype string) string {
	base, _, err := mime.ParseMediaType(mimetype)
	if err != nil {
		base = strings.TrimSpace(strings.ToLower(mimetype))
	}
	if ext, ok := knownExtensions[base]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(base); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
