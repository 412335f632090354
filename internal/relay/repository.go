package relay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository persists relay definitions. Status is never persisted; it is
// only known from live IO samples.
type Repository interface {
	// List returns all stored relays ordered by number.
	List(ctx context.Context) ([]*Relay, error)

	// Save inserts or replaces the definition for r.Number().
	Save(ctx context.Context, r Relay) error

	// Delete removes the definition. Deleting an unknown number is not an error.
	Delete(ctx context.Context, number int) error
}

// SQLiteRepository implements Repository using the relays table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// List returns all stored relays ordered by number.
func (r *SQLiteRepository) List(ctx context.Context) ([]*Relay, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT number, pin, channel, label FROM relays ORDER BY number")
	if err != nil {
		return nil, fmt.Errorf("querying relays: %w", err)
	}
	defer rows.Close()

	var relays []*Relay
	for rows.Next() {
		var (
			number, pin int
			channel     string
			label       string
		)
		if err := rows.Scan(&number, &pin, &channel, &label); err != nil {
			return nil, fmt.Errorf("scanning relay: %w", err)
		}

		ch, err := ParseMonitorChannel(channel)
		if err != nil {
			return nil, fmt.Errorf("relay %d: %w", number, err)
		}
		rel, err := New(number, pin, ch, label)
		if err != nil {
			return nil, fmt.Errorf("relay %d: %w", number, err)
		}
		relays = append(relays, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating relays: %w", err)
	}
	return relays, nil
}

// Save inserts or replaces the definition for rel.
func (r *SQLiteRepository) Save(ctx context.Context, rel Relay) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO relays (number, pin, channel, label, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(number) DO UPDATE SET
			pin = excluded.pin,
			channel = excluded.channel,
			label = excluded.label,
			updated_at = excluded.updated_at`,
		rel.Number(), rel.Pin(), rel.Channel().String(), rel.Label(), now, now,
	)
	if err != nil {
		return fmt.Errorf("saving relay %d: %w", rel.Number(), err)
	}
	return nil
}

// Delete removes the definition for number.
func (r *SQLiteRepository) Delete(ctx context.Context, number int) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM relays WHERE number = ?", number); err != nil {
		return fmt.Errorf("deleting relay %d: %w", number, err)
	}
	return nil
}

// Load adds every stored relay to the registry. Relays whose number is
// already registered are skipped. It returns how many were added.
func (r *Registry) Load(ctx context.Context, repo Repository) (int, error) {
	relays, err := repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading relays: %w", err)
	}

	added := 0
	for _, rel := range relays {
		if err := r.Add(rel); err != nil {
			if errors.Is(err, ErrAlreadyRegistered) {
				continue
			}
			return added, err
		}
		added++
	}
	r.logger.Info("relays loaded", "count", added)
	return added, nil
}

// PersistTo returns a Listener that mirrors definition changes (add,
// update, remove) into repo. Status events are ignored. Failures are
// logged; the in-memory registry stays authoritative.
func PersistTo(repo Repository, logger Logger, timeout time.Duration) Listener {
	if logger == nil {
		logger = noopLogger{}
	}
	return func(ev Event) {
		if ev.Kind == EventStatus {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var err error
		switch ev.Kind {
		case EventAdded, EventUpdated:
			err = repo.Save(ctx, ev.Relay)
		case EventRemoved:
			err = repo.Delete(ctx, ev.Relay.Number())
		}
		if err != nil {
			logger.Error("persisting relay failed", "number", ev.Relay.Number(), "event", ev.Kind.String(), "error", err)
		}
	}
}
