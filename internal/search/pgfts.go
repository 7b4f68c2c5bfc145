package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// PgFTS implements Searcher using PostgreSQL full-text search over revert_log.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; the service does not start without Postgres.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search ranks revert_log rows with plainto_tsquery and ts_rank and builds
// snippets from the edit summary with ts_headline.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where, args := ftsWhere(q)

	countSQL := "SELECT count(*) FROM revert_log rl WHERE " + where
	dataSQL := fmt.Sprintf(`
		SELECT rl.id, rl.page, rl.kind, rl.operation, rl.actor, rl.contributor,
			ts_headline('english', rl.summary, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			rl.new_revision_id, rl.created_at
		FROM revert_log rl
		WHERE %s
		ORDER BY ts_rank(rl.fts, plainto_tsquery('english', $1)) DESC, rl.id DESC
		LIMIT %d OFFSET %d`, where, limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var id int64
		if err := rows.Scan(&id, &r.Page, &r.Kind, &r.Operation, &r.Actor, &r.Contributor, &r.Snippet, &r.NewRevisionID, &r.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.ID = RecordID(id)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

func ftsWhere(q Query) (string, []any) {
	where := "rl.fts @@ plainto_tsquery('english', $1)"
	args := []any{q.Text}
	if q.Page != "" {
		args = append(args, q.Page)
		where += fmt.Sprintf(" AND rl.page = $%d", len(args))
	}
	if q.Kind != "" {
		args = append(args, q.Kind)
		where += fmt.Sprintf(" AND rl.kind = $%d", len(args))
	}
	return where, args
}

// LoadAllRecords returns every logged revert for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]RevertRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, page, kind, operation, actor, contributor, summary,
			target_revision_id, new_revision_id, created_at
		FROM revert_log
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("load reverts: %w", err)
	}
	defer rows.Close()

	records := make([]RevertRecord, 0)
	for rows.Next() {
		var r RevertRecord
		var id int64
		var created time.Time
		if err := rows.Scan(&id, &r.Page, &r.Kind, &r.Operation, &r.Actor, &r.Contributor, &r.Summary, &r.TargetRevisionID, &r.NewRevisionID, &created); err != nil {
			return nil, fmt.Errorf("scan revert: %w", err)
		}
		r.ID = RecordID(id)
		r.CreatedAt = created.Unix()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reverts: %w", err)
	}
	return records, nil
}
