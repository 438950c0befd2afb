// Package storage keeps uploaded payment evidence on local disk under
// content-addressed keys.
package storage

import (
    "context"
    "encoding/hex"
    "errors"
    "fmt"
    "io"
    "mime"
    "os"
    "path/filepath"
    "regexp"
    "strings"

    "github.com/google/uuid"
    "golang.org/x/crypto/blake2b"
)

var (
    ErrTooLarge       = errors.New("evidence exceeds the size limit")
    ErrContentType    = errors.New("evidence content type not allowed")
    ErrEmpty          = errors.New("evidence is empty")
    ErrInvalidKey     = errors.New("invalid evidence key")
    ErrObjectNotFound = errors.New("evidence not found")
)

// keyPattern matches the keys Upload hands out: a blake2b-256 hex digest
// and an optional short extension.
var keyPattern = regexp.MustCompile(`^[0-9a-f]{64}(\.[a-z0-9]{1,8})?$`)

// LocalStore writes evidence files below Dir.  Identical uploads map to
// the same key, so a retried upload never duplicates data.
type LocalStore struct {
    Dir          string
    MaxBytes     int64
    ContentTypes map[string]bool
}

// NewLocalStore creates dir if needed.  An empty contentTypes list allows
// any type.
func NewLocalStore(dir string, maxBytes int64, contentTypes []string) (*LocalStore, error) {
    if err := os.MkdirAll(dir, 0o755); err != nil {
        return nil, fmt.Errorf("mkdir evidence dir: %w", err)
    }
    allowed := make(map[string]bool, len(contentTypes))
    for _, ct := range contentTypes {
        if ct = strings.ToLower(strings.TrimSpace(ct)); ct != "" {
            allowed[ct] = true
        }
    }
    return &LocalStore{Dir: dir, MaxBytes: maxBytes, ContentTypes: allowed}, nil
}

// Upload streams r into a temporary file while hashing it, then moves it
// to its content address and returns the key.
func (s *LocalStore) Upload(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
    ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
    if len(s.ContentTypes) > 0 && !s.ContentTypes[ct] {
        return "", fmt.Errorf("%w: %q", ErrContentType, ct)
    }
    if err := ctx.Err(); err != nil {
        return "", err
    }

    tmp, err := os.Create(filepath.Join(s.Dir, ".upload-"+uuid.NewString()))
    if err != nil {
        return "", fmt.Errorf("create temp file: %w", err)
    }
    tmpName := tmp.Name()
    defer os.Remove(tmpName)

    h, err := blake2b.New256(nil)
    if err != nil {
        tmp.Close()
        return "", err
    }
    src := r
    if s.MaxBytes > 0 {
        src = io.LimitReader(r, s.MaxBytes+1)
    }
    n, err := io.Copy(io.MultiWriter(tmp, h), src)
    if cerr := tmp.Close(); err == nil {
        err = cerr
    }
    if err != nil {
        return "", fmt.Errorf("write evidence: %w", err)
    }
    if n == 0 {
        return "", ErrEmpty
    }
    if s.MaxBytes > 0 && n > s.MaxBytes {
        return "", fmt.Errorf("%w: limit %d bytes", ErrTooLarge, s.MaxBytes)
    }

    key := hex.EncodeToString(h.Sum(nil)) + extension(name, ct)
    if err := os.Rename(tmpName, s.path(key)); err != nil {
        return "", fmt.Errorf("store evidence: %w", err)
    }
    return key, nil
}

// Open returns the stored evidence and its content type.
func (s *LocalStore) Open(key string) (io.ReadCloser, string, error) {
    if !keyPattern.MatchString(key) {
        return nil, "", ErrInvalidKey
    }
    f, err := os.Open(s.path(key))
    if errors.Is(err, os.ErrNotExist) {
        return nil, "", ErrObjectNotFound
    }
    if err != nil {
        return nil, "", err
    }
    ct := mime.TypeByExtension(filepath.Ext(key))
    if ct == "" {
        ct = "application/octet-stream"
    }
    return f, ct, nil
}

func (s *LocalStore) path(key string) string {
    return filepath.Join(s.Dir, key)
}

func extension(name, contentType string) string {
    ext := strings.ToLower(filepath.Ext(name))
    if ext == "" || len(ext) > 9 {
        if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
            ext = exts[0]
        }
    }
    if !keyPattern.MatchString(strings.Repeat("0", 64) + ext) {
        return ""
    }
    return ext
}
