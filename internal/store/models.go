package store

import "time"

const (
	OperationRevert  = "revert"
	OperationRestore = "restore"
)

// RevertLogEntry is one executed revert or restore. Rows are append-only.
type RevertLogEntry struct {
	ID               int64
	Page             string
	Operation        string
	Kind             string
	Actor            string
	Contributor      string
	SkippedBot       string
	BaseRevisionID   int64
	TargetRevisionID int64
	NewRevisionID    int64
	DiscardedCount   int
	Summary          string
	Notes            []string
	Notified         bool
	Reviewed         bool
	Backend          string
	CreatedAt        time.Time
}

// RevertLogFilter narrows ListRevertLog. Empty fields match everything.
type RevertLogFilter struct {
	Page        string
	Actor       string
	Contributor string
	Kind        string
	Limit       int
}
