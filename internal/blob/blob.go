package blob

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Object: то, что легло в хранилище.
type Object struct {
	Key         string `json:"key"`
	Size        int64  `json:"size"`
	SHA256      string `json:"sha256"`
	ContentType string `json:"content_type,omitempty"`
}

type Store interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) (Object, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

type LocalStore struct {
	Root string // например, "./uploads"
}

func NewLocalStore(root string) *LocalStore { return &LocalStore{Root: root} }

// path не выпускает ключ за пределы Root.
func (s *LocalStore) path(key string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(key))
	if clean == string(filepath.Separator) {
		return "", errors.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(s.Root, clean), nil
}

func (s *LocalStore) Put(_ context.Context, key string, r io.Reader, contentType string) (Object, error) {
	if key == "" {
		key = DatedKey()
	}
	full, err := s.path(key)
	if err != nil {
		return Object{}, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return Object{}, errors.Wrap(err, "mkdir blob dir")
	}
	f, err := os.Create(full)
	if err != nil {
		return Object{}, errors.Wrap(err, "create blob")
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), r)
	if err != nil {
		return Object{}, errors.Wrap(err, "write blob")
	}
	return Object{Key: key, Size: n, SHA256: hex.EncodeToString(h.Sum(nil)), ContentType: contentType}, nil
}

func (s *LocalStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	full, err := s.path(key)
	if err != nil {
		return nil, err
	}
	return os.Open(full)
}

func (s *LocalStore) Delete(_ context.Context, key string) error {
	full, err := s.path(key)
	if err != nil {
		return err
	}
	return os.Remove(full)
}

// DatedKey: "YYYY/MM/<random hex>".
func DatedKey() string {
	now := time.Now().UTC()
	return fmt.Sprintf("%04d/%02d/%s", now.Year(), int(now.Month()), randomHex(16))
}

// UniqueKey: "<prefix>/<random hex>/<name>"; одинаковые имена не перетирают друг друга.
func UniqueKey(prefix, name string) string {
	return strings.Trim(prefix, "/") + "/" + randomHex(6) + "/" + name
}

// randomHex возвращает hex длиной 2*n байт
func randomHex(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

var (
	unsafeRe     = regexp.MustCompile(`[^a-z0-9._-]+`)
	underscoreRe = regexp.MustCompile(`_{2,}`)
)

// Slug приводит произвольную строку к безопасному фрагменту ключа.
func Slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = unsafeRe.ReplaceAllString(s, "_")
	s = underscoreRe.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_.")
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}
