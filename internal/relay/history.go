package relay

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	// Fixed width so timestamps compare correctly as text.
	historyTimeFormat = "2006-01-02T15:04:05.000000000Z"
)

// History source values.
const (
	HistorySourceSample = "sample"
)

// HistoryEntry is one recorded status change.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	Number    int       `json:"number"`
	Status    Status    `json:"status"`
	Previous  Status    `json:"previous"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryRepository stores and retrieves status change history.
type HistoryRepository interface {
	// Record stores a status change for a relay.
	Record(ctx context.Context, number int, status, previous Status, source string, at time.Time) error

	// History returns recent changes for a relay, newest first.
	// limit <= 0 selects the default; larger limits are clamped.
	History(ctx context.Context, number int, limit int) ([]HistoryEntry, error)
}

// SQLiteHistoryRepository implements HistoryRepository using the
// status_history table.
type SQLiteHistoryRepository struct {
	db *sql.DB
}

// NewSQLiteHistoryRepository creates a new SQLite history repository.
func NewSQLiteHistoryRepository(db *sql.DB) *SQLiteHistoryRepository {
	return &SQLiteHistoryRepository{db: db}
}

// Record inserts a history row.
func (r *SQLiteHistoryRepository) Record(ctx context.Context, number int, status, previous Status, source string, at time.Time) error {
	if source == "" {
		source = HistorySourceSample
	}
	if at.IsZero() {
		at = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO status_history (relay_number, status, previous, source, created_at) VALUES (?, ?, ?, ?, ?)",
		number,
		status.String(),
		previous.String(),
		source,
		at.UTC().Format(historyTimeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting status history: %w", err)
	}
	return nil
}

// History returns recent entries for a relay ordered newest first.
func (r *SQLiteHistoryRepository) History(ctx context.Context, number int, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, relay_number, status, previous, source, created_at
		 FROM status_history
		 WHERE relay_number = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		number,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying status history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var (
			entry            HistoryEntry
			status, previous string
			createdAt        string
		)
		if err := rows.Scan(&entry.ID, &entry.Number, &status, &previous, &entry.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning status history: %w", err)
		}
		if entry.Status, err = ParseStatus(status); err != nil {
			return nil, err
		}
		if entry.Previous, err = ParseStatus(previous); err != nil {
			return nil, err
		}
		if entry.CreatedAt, err = time.Parse(historyTimeFormat, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating status history: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than olderThan and returns how many went.
func (r *SQLiteHistoryRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(historyTimeFormat)
	result, err := r.db.ExecContext(ctx, "DELETE FROM status_history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting status history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// RecordTo returns a Listener that writes every status change to repo.
func RecordTo(repo HistoryRepository, logger Logger, timeout time.Duration) Listener {
	if logger == nil {
		logger = noopLogger{}
	}
	return func(ev Event) {
		if ev.Kind != EventStatus {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := repo.Record(ctx, ev.Relay.Number(), ev.Relay.Status(), ev.Previous, HistorySourceSample, ev.Time); err != nil {
			logger.Error("recording status history failed", "number", ev.Relay.Number(), "error", err)
		}
	}
}
