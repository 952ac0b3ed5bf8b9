package store

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/leandrotocalini/wagateway/internal/protocol"
)

type mockClock struct {
	now time.Time
}

func (c *mockClock) Now() time.Time { return c.now }

func newTestStore(t *testing.T, clock *mockClock) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "nested", "index.db"), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func image(raw string) protocol.Media {
	return protocol.Media{
		MediaKind: protocol.KindImage,
		Mimetype:  "image/jpeg",
		Ref:       protocol.MediaRef{Kind: protocol.KindImage, Raw: []byte(raw)},
	}
}

func TestRememberAndGet(t *testing.T) {
	clock := &mockClock{now: time.Unix(1700000000, 0)}
	s := newTestStore(t, clock)
	ctx := context.Background()

	doc := protocol.Media{
		MediaKind: protocol.KindDocument,
		Mimetype:  "application/pdf",
		FileName:  "q3.pdf",
		Ref:       protocol.MediaRef{Kind: protocol.KindDocument, Raw: []byte{1, 2, 3}},
	}
	if err := s.Remember(ctx, "acct", "MSG1", doc); err != nil {
		t.Fatalf("Remember: %v", err)
	}

	got, err := s.Get(ctx, "acct", "MSG1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Kind != protocol.KindDocument || got.Ref.Kind != protocol.KindDocument {
		t.Errorf("kind = %v / %v", got.Kind, got.Ref.Kind)
	}
	if got.Mimetype != "application/pdf" || got.FileName != "q3.pdf" || !bytes.Equal(got.Ref.Raw, []byte{1, 2, 3}) {
		t.Errorf("attachment = %+v", got)
	}
	if !got.CreatedAt.Equal(clock.now) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, clock.now)
	}

	if _, err := s.Get(ctx, "other", "MSG1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get other account err = %v, want ErrNotFound", err)
	}
}

func TestRemember_OverwritesRedelivery(t *testing.T) {
	s := newTestStore(t, &mockClock{now: time.Unix(1700000000, 0)})
	ctx := context.Background()

	s.Remember(ctx, "acct", "MSG1", image("old"))
	if err := s.Remember(ctx, "acct", "MSG1", image("new")); err != nil {
		t.Fatalf("second Remember: %v", err)
	}
	got, err := s.Get(ctx, "acct", "MSG1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Ref.Raw) != "new" {
		t.Errorf("ref = %q, want new", got.Ref.Raw)
	}
}

func TestDeleteAccount(t *testing.T) {
	s := newTestStore(t, &mockClock{now: time.Unix(1700000000, 0)})
	ctx := context.Background()

	s.Remember(ctx, "a", "1", image("x"))
	s.Remember(ctx, "a", "2", image("y"))
	s.Remember(ctx, "b", "1", image("z"))

	n, err := s.DeleteAccount(ctx, "a")
	if err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d rows, want 2", n)
	}
	if _, err := s.Get(ctx, "b", "1"); err != nil {
		t.Errorf("other account lost its row: %v", err)
	}
}

func TestPrune(t *testing.T) {
	clock := &mockClock{now: time.Unix(1700000000, 0)}
	s := newTestStore(t, clock)
	ctx := context.Background()

	s.Remember(ctx, "a", "old", image("x"))
	clock.now = clock.now.Add(6 * 24 * time.Hour)
	s.Remember(ctx, "a", "recent", image("y"))
	clock.now = clock.now.Add(2 * 24 * time.Hour)

	n, err := s.Prune(ctx, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d rows, want 1", n)
	}
	if _, err := s.Get(ctx, "a", "old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old row still present: %v", err)
	}
	if _, err := s.Get(ctx, "a", "recent"); err != nil {
		t.Errorf("recent row pruned: %v", err)
	}
}
