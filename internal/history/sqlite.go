package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200

	// timestampLayout is fixed-width so created_at sorts correctly as text.
	timestampLayout = "2006-01-02T15:04:05.000000000Z"
)

// SQLiteRepository implements Repository over the parameter_history table.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a repository on an open, migrated database.
//
// Parameters:
//   - db: Open SQLite connection used for queries
//
// Returns:
//   - *SQLiteRepository: Repository instance ready for use
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Record inserts an entry, filling in ID and CreatedAt when empty.
func (r *SQLiteRepository) Record(ctx context.Context, e Entry) error {
	if e.Address == "" || e.Parameter == "" {
		return fmt.Errorf("%w: address and parameter are required", ErrInvalidEntry)
	}
	if e.Outcome != OutcomeAccepted && e.Outcome != OutcomeFailed {
		return fmt.Errorf("%w: outcome %q", ErrInvalidEntry, e.Outcome)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Source == "" {
		e.Source = SourceAPI
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO parameter_history
		 (id, address, parameter, requested, accepted, outcome, error, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.Address,
		e.Parameter,
		e.Requested,
		nullIfEmpty(e.Accepted),
		e.Outcome,
		nullIfEmpty(e.Error),
		e.Source,
		e.CreatedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting parameter history: %w", err)
	}
	return nil
}

// List returns recent entries for a device, newest first.
func (r *SQLiteRepository) List(ctx context.Context, address string, limit int) ([]Entry, error) {
	if address == "" {
		return nil, fmt.Errorf("%w: address is required", ErrInvalidEntry)
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, address, parameter, requested, accepted, outcome, error, source, created_at
		 FROM parameter_history
		 WHERE address = ?
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ?`,
		address,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying parameter history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e         Entry
			accepted  sql.NullString
			errText   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.Address, &e.Parameter, &e.Requested, &accepted,
			&e.Outcome, &errText, &e.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning parameter history: %w", err)
		}
		e.Accepted = accepted.String
		e.Error = errText.String

		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at %q: %w", createdAt, err)
		}
		e.CreatedAt = ts.UTC()

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating parameter history: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than now-olderThan.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := r.now().UTC().Add(-olderThan).Format(timestampLayout)
	result, err := r.db.ExecContext(ctx, "DELETE FROM parameter_history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning parameter history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned rows: %w", err)
	}
	return n, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
