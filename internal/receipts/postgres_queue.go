package receipts

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"surfacesync/internal/constants"
	"surfacesync/internal/logger"
	apperrors "surfacesync/pkg/errors"
	"surfacesync/pkg/metrics"
	"surfacesync/pkg/models"
)

// PostgresQueue keeps one row per receipt, for surfaces on other hosts.
// Rows are keyed by a random id, so concurrent appends never conflict.
type PostgresQueue struct {
	db            *sql.DB
	table         string
	corruptMaxAge time.Duration
	logger        logger.Logger
}

func NewPostgresQueue(db *sql.DB, table string, corruptMaxAge time.Duration, log logger.Logger) *PostgresQueue {
	if table == "" {
		table = constants.DefaultReceiptsTable
	}
	return &PostgresQueue{
		db:            db,
		table:         pq.QuoteIdentifier(table),
		corruptMaxAge: corruptMaxAge,
		logger:        log,
	}
}

func (q *PostgresQueue) Append(ctx context.Context, record models.ReceiptRecord) error {
	if err := models.ValidateReceiptRecord(&record); err != nil {
		return apperrors.ErrValidation.WithCause(err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, message_id, consumed_at_millis) VALUES ($1, $2, $3)`, q.table)
	if _, err := q.db.ExecContext(ctx, query, uuid.New(), record.MessageID, record.ConsumedAtMillis); err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}

	metrics.ReceiptsAppendedTotal.Inc()
	return nil
}

type rowEntry struct {
	id     string
	record models.ReceiptRecord
}

func (q *PostgresQueue) SnapshotAndDrain(ctx context.Context) (*Snapshot, error) {
	query := fmt.Sprintf(`SELECT id, message_id, consumed_at_millis, created_at FROM %s ORDER BY created_at, id`, q.table)
	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select receipts: %w", err)
	}
	defer rows.Close()

	var (
		entries    []rowEntry
		corruptIDs []string
		corrupt    int
	)
	for rows.Next() {
		var (
			e         rowEntry
			createdAt time.Time
		)
		if err := rows.Scan(&e.id, &e.record.MessageID, &e.record.ConsumedAtMillis, &createdAt); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		if err := models.ValidateReceiptRecord(&e.record); err != nil {
			corrupt++
			if q.corruptMaxAge > 0 && time.Since(createdAt) > q.corruptMaxAge {
				corruptIDs = append(corruptIDs, e.id)
			} else {
				metrics.ReceiptsCorruptTotal.WithLabelValues("skipped").Inc()
				q.logger.WarnwCtx(ctx, "Skipping corrupt receipt record", "record", e.id, "error", err)
			}
			continue
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate receipts: %w", err)
	}

	if len(corruptIDs) > 0 {
		if err := q.deleteIDs(ctx, corruptIDs); err != nil {
			q.logger.WarnwCtx(ctx, "Failed to age out corrupt receipts", "count", len(corruptIDs), "error", err)
		} else {
			metrics.ReceiptsCorruptTotal.WithLabelValues("aged_out").Add(float64(len(corruptIDs)))
		}
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
			ids := make([]string, 0, len(entries))
			for _, e := range entries {
				if _, ok := committed[e.record.MessageID]; ok {
					ids = append(ids, e.id)
				}
			}
			if len(ids) == 0 {
				return 0, nil
			}
			if err := q.deleteIDs(ctx, ids); err != nil {
				return 0, err
			}
			return len(ids), nil
		},
	}, nil
}

// deleteIDs removes rows by primary key only, never by message id, so a
// receipt for the same message appended after the snapshot is kept.
func (q *PostgresQueue) deleteIDs(ctx context.Context, ids []string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1::uuid[])`, q.table)
	if _, err := q.db.ExecContext(ctx, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("delete receipts: %w", err)
	}
	return nil
}

func (q *PostgresQueue) Len(ctx context.Context) (int, error) {
	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, q.table)
	if err := q.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count receipts: %w", err)
	}
	return n, nil
}

// Ping is used by the health registry.
func (q *PostgresQueue) Ping(ctx context.Context) error {
	return q.db.PingContext(ctx)
}
