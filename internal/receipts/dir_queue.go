package receipts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"surfacesync/internal/logger"
	apperrors "surfacesync/pkg/errors"
	"surfacesync/pkg/metrics"
	"surfacesync/pkg/models"
)

const recordSuffix = ".receipt.json"

// DirQueue stores one immutable file per receipt. A record is written to a
// hidden temp file and renamed into place, so drains never see partial
// records.
type DirQueue struct {
	dir           string
	corruptMaxAge time.Duration
	logger        logger.Logger
	now           func() time.Time
}

func NewDirQueue(dir string, corruptMaxAge time.Duration, log logger.Logger) (*DirQueue, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create receipts dir: %w", err)
	}
	return &DirQueue{
		dir:           dir,
		corruptMaxAge: corruptMaxAge,
		logger:        log,
		now:           time.Now,
	}, nil
}

func (q *DirQueue) Append(ctx context.Context, record models.ReceiptRecord) error {
	if err := models.ValidateReceiptRecord(&record); err != nil {
		return apperrors.ErrValidation.WithCause(err)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode receipt: %w", err)
	}

	name := fmt.Sprintf("%013d-%s%s", record.ConsumedAtMillis, uuid.NewString(), recordSuffix)

	tmp, err := os.CreateTemp(q.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create receipt: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write receipt: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync receipt: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close receipt: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(q.dir, name)); err != nil {
		return fmt.Errorf("publish receipt: %w", err)
	}

	metrics.ReceiptsAppendedTotal.Inc()
	return nil
}

type dirEntry struct {
	name   string
	record models.ReceiptRecord
}

func (q *DirQueue) SnapshotAndDrain(ctx context.Context) (*Snapshot, error) {
	names, err := q.recordNames()
	if err != nil {
		return nil, err
	}

	entries := make([]dirEntry, 0, len(names))
	corrupt := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		record, err := q.readRecord(name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			corrupt++
			q.handleCorrupt(ctx, name, err)
			continue
		}
		entries = append(entries, dirEntry{name: name, record: record})
	}

	records := make([]models.ReceiptRecord, len(entries))
	for i, e := range entries {
		records[i] = e.record
	}
	metrics.SetReceiptQueueDepth(len(entries))

	return &Snapshot{
		Records: records,
		Corrupt: corrupt,
		cleanup: func(ctx context.Context, committed map[string]struct{}) (int, error) {
			return q.remove(entries, committed)
		},
	}, nil
}

func (q *DirQueue) Len(ctx context.Context) (int, error) {
	names, err := q.recordNames()
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

func (q *DirQueue) recordNames() ([]string, error) {
	dirEntries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, fmt.Errorf("list receipts dir: %w", err)
	}
	names := make([]string, 0, len(dirEntries))
	for _, e := range dirEntries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, recordSuffix) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (q *DirQueue) readRecord(name string) (models.ReceiptRecord, error) {
	raw, err := os.ReadFile(filepath.Join(q.dir, name))
	if err != nil {
		return models.ReceiptRecord{}, err
	}
	var record models.ReceiptRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return models.ReceiptRecord{}, apperrors.ErrCorruptRecord.WithCause(err).WithDetail("record", name)
	}
	if err := models.ValidateReceiptRecord(&record); err != nil {
		return models.ReceiptRecord{}, apperrors.ErrCorruptRecord.WithCause(err).WithDetail("record", name)
	}
	return record, nil
}

// handleCorrupt leaves a bad record for inspection until it is older than
// corruptMaxAge, then deletes it.
func (q *DirQueue) handleCorrupt(ctx context.Context, name string, cause error) {
	path := filepath.Join(q.dir, name)
	info, err := os.Stat(path)
	if err == nil && q.corruptMaxAge > 0 && q.now().Sub(info.ModTime()) > q.corruptMaxAge {
		if err := os.Remove(path); err == nil || errors.Is(err, fs.ErrNotExist) {
			metrics.ReceiptsCorruptTotal.WithLabelValues("aged_out").Inc()
			q.logger.WarnwCtx(ctx, "Aged out corrupt receipt record",
				"record", name,
				"age", q.now().Sub(info.ModTime()).String(),
				"error", cause,
			)
			return
		}
	}

	metrics.ReceiptsCorruptTotal.WithLabelValues("skipped").Inc()
	q.logger.WarnwCtx(ctx, "Skipping corrupt receipt record",
		"record", name,
		"error", cause,
	)
}

func (q *DirQueue) remove(entries []dirEntry, committed map[string]struct{}) (int, error) {
	removed := 0
	var errs []error
	for _, e := range entries {
		if _, ok := committed[e.record.MessageID]; !ok {
			continue
		}
		err := os.Remove(filepath.Join(q.dir, e.name))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if len(errs) > 0 {
		return removed, fmt.Errorf("remove committed receipts: %w", errors.Join(errs...))
	}
	return removed, nil
}
