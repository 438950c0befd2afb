package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func newStore(t *testing.T, max int64, types ...string) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(t.TempDir(), max, types)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestUploadIsContentAddressed(t *testing.T) {
	s := newStore(t, 1024, "image/png", "application/pdf")
	ctx := context.Background()

	k1, err := s.Upload(ctx, "Receipt.PNG", "image/png", strings.NewReader("proof-of-transfer"))
	if err != nil {
		t.Fatal(err)
	}
	k2, err := s.Upload(ctx, "again.png", "image/png", strings.NewReader("proof-of-transfer"))
	if err != nil {
		t.Fatal(err)
	}
	if k1 != k2 {
		t.Fatalf("same content produced keys %s and %s", k1, k2)
	}
	if !strings.HasSuffix(k1, ".png") || len(k1) != 64+len(".png") {
		t.Errorf("unexpected key %q", k1)
	}

	rc, ct, err := s.Open(k1)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "proof-of-transfer" || ct != "image/png" {
		t.Errorf("read back %q as %s", body, ct)
	}
}

func TestUploadLimits(t *testing.T) {
	s := newStore(t, 4, "image/png")
	ctx := context.Background()

	if _, err := s.Upload(ctx, "a.png", "image/png", strings.NewReader("12345")); !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
	if _, err := s.Upload(ctx, "a.exe", "application/x-msdownload", strings.NewReader("1")); !errors.Is(err, ErrContentType) {
		t.Errorf("expected ErrContentType, got %v", err)
	}
	if _, err := s.Upload(ctx, "a.png", "image/png", strings.NewReader("")); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
	if _, err := s.Upload(ctx, "a.png", "image/png; charset=binary", strings.NewReader("1234")); err != nil {
		t.Errorf("upload at the limit: %v", err)
	}
}

func TestOpenRejectsTraversal(t *testing.T) {
	s := newStore(t, 0)
	for _, key := range []string{"../etc/passwd", "abc", strings.Repeat("a", 64) + "/x"} {
		if _, _, err := s.Open(key); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Open(%q): expected ErrInvalidKey, got %v", key, err)
		}
	}
	if _, _, err := s.Open(strings.Repeat("b", 64)); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}
