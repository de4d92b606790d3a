package mediacache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/goccy/go-json"

	"surfacesync/pkg/models"
)

var ErrNotCached = errors.New("media not cached")

// BlobStore holds transformed media. An entry becomes visible only after its
// blob and metadata are fully written.
type BlobStore interface {
	Put(ctx context.Context, entry models.CachedMediaEntry, data []byte) (models.CachedMediaEntry, error)
	Lookup(ctx context.Context, key string) (models.CachedMediaEntry, error)
	Open(ctx context.Context, key string) ([]byte, models.CachedMediaEntry, error)
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// FileBlobStore keeps one blob file and one metadata file per key in dir.
// Both are published by rename, so readers see either the old or the new
// file and never a partial one.
type FileBlobStore struct {
	dir string
}

func NewFileBlobStore(dir string) (*FileBlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &FileBlobStore{dir: abs}, nil
}

func (s *FileBlobStore) Dir() string {
	return s.dir
}

func (s *FileBlobStore) Put(ctx context.Context, entry models.CachedMediaEntry, data []byte) (models.CachedMediaEntry, error) {
	if err := ctx.Err(); err != nil {
		return models.CachedMediaEntry{}, err
	}

	name := fileName(entry.Key)
	blobPath := filepath.Join(s.dir, name+".blob")
	if err := writeFileAtomic(s.dir, blobPath, data); err != nil {
		return models.CachedMediaEntry{}, fmt.Errorf("write blob %s: %w", entry.Key, err)
	}

	entry.LocalBlobRef = blobPath
	entry.ByteSize = int64(len(data))

	meta, err := json.Marshal(entry)
	if err != nil {
		return models.CachedMediaEntry{}, fmt.Errorf("encode media entry: %w", err)
	}
	if err := writeFileAtomic(s.dir, filepath.Join(s.dir, name+".json"), meta); err != nil {
		return models.CachedMediaEntry{}, fmt.Errorf("write media entry %s: %w", entry.Key, err)
	}

	return entry, nil
}

func (s *FileBlobStore) Lookup(ctx context.Context, key string) (models.CachedMediaEntry, error) {
	name := fileName(key)
	raw, err := os.ReadFile(filepath.Join(s.dir, name+".json"))
	if errors.Is(err, fs.ErrNotExist) {
		return models.CachedMediaEntry{}, ErrNotCached
	}
	if err != nil {
		return models.CachedMediaEntry{}, err
	}

	var entry models.CachedMediaEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return models.CachedMediaEntry{}, fmt.Errorf("decode media entry %s: %w", key, err)
	}

	if _, err := os.Stat(entry.LocalBlobRef); err != nil {
		return models.CachedMediaEntry{}, ErrNotCached
	}
	return entry, nil
}

func (s *FileBlobStore) Open(ctx context.Context, key string) ([]byte, models.CachedMediaEntry, error) {
	entry, err := s.Lookup(ctx, key)
	if err != nil {
		return nil, models.CachedMediaEntry{}, err
	}
	data, err := os.ReadFile(entry.LocalBlobRef)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, models.CachedMediaEntry{}, ErrNotCached
	}
	if err != nil {
		return nil, models.CachedMediaEntry{}, err
	}
	return data, entry, nil
}

// Delete removes the metadata first so the entry stops being visible before
// its blob goes away.
func (s *FileBlobStore) Delete(ctx context.Context, key string) error {
	name := fileName(key)
	for _, suffix := range []string{".json", ".blob"} {
		if err := os.Remove(filepath.Join(s.dir, name+suffix)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}
	return nil
}

func (s *FileBlobStore) Clear(ctx context.Context) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("list media dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("clear media dir: %w", err)
		}
	}
	return nil
}

func writeFileAtomic(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// fileName maps a cache key to a flat file name. Keys that needed escaping
// get a hash suffix so distinct keys never collide.
func fileName(key string) string {
	safe := unsafeKeyChars.ReplaceAllString(key, "_")
	safe = strings.TrimLeft(safe, ".")
	if safe == key && safe != "" {
		return safe
	}
	sum := sha256.Sum256([]byte(key))
	return safe + "-" + hex.EncodeToString(sum[:4])
}
