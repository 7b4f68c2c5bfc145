package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicate is returned when a page revision is already logged.
var ErrDuplicate = errors.New("revert already logged")

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// InsertRevertLog appends entry and returns its id and creation time.
func (s *PostgresStore) InsertRevertLog(ctx context.Context, entry RevertLogEntry) (RevertLogEntry, error) {
	notes := entry.Notes
	if notes == nil {
		notes = []string{}
	}
	encodedNotes, err := json.Marshal(notes)
	if err != nil {
		return RevertLogEntry{}, fmt.Errorf("marshal revert notes: %w", err)
	}
	operation := entry.Operation
	if operation == "" {
		operation = OperationRevert
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO revert_log (
			page, operation, kind, actor, contributor, skipped_bot,
			base_revision_id, target_revision_id, new_revision_id, discarded_count,
			summary, notes, notified, reviewed, backend
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb, $13, $14, $15)
		RETURNING id, created_at
	`,
		entry.Page, operation, entry.Kind, entry.Actor, entry.Contributor, entry.SkippedBot,
		entry.BaseRevisionID, entry.TargetRevisionID, entry.NewRevisionID, entry.DiscardedCount,
		entry.Summary, string(encodedNotes), entry.Notified, entry.Reviewed, entry.Backend,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return RevertLogEntry{}, fmt.Errorf("insert revert log for %q revision %d: %w", entry.Page, entry.NewRevisionID, ErrDuplicate)
		}
		return RevertLogEntry{}, fmt.Errorf("insert revert log: %w", err)
	}
	entry.Operation = operation
	entry.Notes = notes
	return entry, nil
}

// ListRevertLog returns matching entries, newest first.
func (s *PostgresStore) ListRevertLog(ctx context.Context, filter RevertLogFilter) ([]RevertLogEntry, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, page, operation, kind, actor, contributor, skipped_bot,
			base_revision_id, target_revision_id, new_revision_id, discarded_count,
			summary, notes, notified, reviewed, backend, created_at
		FROM revert_log
		WHERE ($1='' OR page=$1)
		  AND ($2='' OR actor=$2)
		  AND ($3='' OR contributor=$3)
		  AND ($4='' OR kind=$4)
		ORDER BY created_at DESC, id DESC
		LIMIT $5
	`, filter.Page, filter.Actor, filter.Contributor, filter.Kind, limit)
	if err != nil {
		return nil, fmt.Errorf("list revert log: %w", err)
	}
	defer rows.Close()

	items := make([]RevertLogEntry, 0)
	for rows.Next() {
		var item RevertLogEntry
		var notesRaw []byte
		if err := rows.Scan(
			&item.ID,
			&item.Page,
			&item.Operation,
			&item.Kind,
			&item.Actor,
			&item.Contributor,
			&item.SkippedBot,
			&item.BaseRevisionID,
			&item.TargetRevisionID,
			&item.NewRevisionID,
			&item.DiscardedCount,
			&item.Summary,
			&notesRaw,
			&item.Notified,
			&item.Reviewed,
			&item.Backend,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan revert log: %w", err)
		}
		_ = json.Unmarshal(notesRaw, &item.Notes)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revert log: %w", err)
	}
	return items, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
