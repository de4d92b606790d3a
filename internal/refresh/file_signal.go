package refresh

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-json"

	"surfacesync/internal/logger"
	"surfacesync/pkg/models"
)

const signalSuffix = ".redraw.json"

// FileSignal writes one signal file per surface. Surface processes watch
// the directory and re-read their scope when their file changes.
type FileSignal struct {
	dir string
}

func NewFileSignal(dir string) (*FileSignal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create signal dir %s: %w", dir, err)
	}
	return &FileSignal{dir: dir}, nil
}

func (s *FileSignal) Name() string { return "file" }

func (s *FileSignal) Notify(ctx context.Context, event models.RedrawEvent) error {
	for _, surface := range event.Surfaces {
		if err := ctx.Err(); err != nil {
			return err
		}
		body, err := json.Marshal(models.RedrawEvent{
			Surfaces:   []string{surface},
			Generation: event.Generation,
			Timestamp:  event.Timestamp,
		})
		if err != nil {
			return fmt.Errorf("encode redraw signal: %w", err)
		}
		if err := s.write(surface, body); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileSignal) write(surface string, body []byte) error {
	tmp, err := os.CreateTemp(s.dir, "."+surface+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create signal temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return fmt.Errorf("write signal: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close signal: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, surface+signalSuffix)); err != nil {
		return fmt.Errorf("publish signal: %w", err)
	}
	return nil
}

// Watcher is the surface side of FileSignal.
type Watcher struct {
	dir    string
	logger logger.Logger
}

func NewWatcher(dir string, log logger.Logger) *Watcher {
	return &Watcher{dir: dir, logger: log}
}

// Watch calls fn for every signal written to the directory until ctx ends.
func (w *Watcher) Watch(ctx context.Context, fn func(models.RedrawEvent)) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create signal dir %s: %w", w.dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			name := filepath.Base(ev.Name)
			if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, signalSuffix) {
				continue
			}
			event, err := readSignal(ev.Name)
			if err != nil {
				w.logger.DebugwCtx(ctx, "Skipping unreadable redraw signal", "file", ev.Name, "error", err)
				continue
			}
			fn(event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WarnwCtx(ctx, "Signal watcher error", "dir", w.dir, "error", err)
		}
	}
}

func readSignal(path string) (models.RedrawEvent, error) {
	var event models.RedrawEvent
	data, err := os.ReadFile(path)
	if err != nil {
		return event, err
	}
	err = json.Unmarshal(data, &event)
	return event, err
}
