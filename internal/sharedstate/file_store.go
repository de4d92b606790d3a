package sharedstate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
)

const scopeFileSuffix = ".state.json"

type scopeDocument struct {
	Scope  string `json:"scope"`
	Fields Fields `json:"fields"`
}

// FileStore keeps one JSON document per scope in a directory shared with the
// surface processes. Each publish is a single rename.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(scope string) string {
	return filepath.Join(s.dir, scope+scopeFileSuffix)
}

func (s *FileStore) Publish(ctx context.Context, scope string, fields Fields) error {
	if err := validateScope(scope); err != nil {
		return err
	}
	if err := validateFields(fields); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return storeWriteError(scope, err)
	}

	data, err := json.Marshal(scopeDocument{Scope: scope, Fields: fields})
	if err != nil {
		return storeWriteError(scope, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-"+scope+"-*")
	if err != nil {
		return storeWriteError(scope, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return storeWriteError(scope, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return storeWriteError(scope, err)
	}
	if err := tmp.Close(); err != nil {
		return storeWriteError(scope, err)
	}
	if err := os.Rename(tmpName, s.path(scope)); err != nil {
		return storeWriteError(scope, err)
	}
	return nil
}

// ReadAll returns an empty map for a scope that was never published.
func (s *FileStore) ReadAll(ctx context.Context, scope string) (Fields, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(s.path(scope))
	if errors.Is(err, fs.ErrNotExist) {
		return Fields{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read scope %s: %w", scope, err)
	}

	var doc scopeDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode scope %s: %w", scope, err)
	}
	if doc.Fields == nil {
		doc.Fields = Fields{}
	}
	return doc.Fields, nil
}

func (s *FileStore) Clear(ctx context.Context, scope string) error {
	if err := validateScope(scope); err != nil {
		return err
	}
	if err := os.Remove(s.path(scope)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return storeWriteError(scope, err)
	}
	return nil
}

func (s *FileStore) Scopes(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list state dir: %w", err)
	}
	var scopes []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, scopeFileSuffix) {
			continue
		}
		scopes = append(scopes, strings.TrimSuffix(name, scopeFileSuffix))
	}
	return scopes, nil
}
