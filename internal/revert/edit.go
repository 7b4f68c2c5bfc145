package revert

// EditRequest is the restoring write handed to a platform backend. The
// backend replaces the page content with TargetRevisionID's content,
// failing with ErrEditConflict when the page moved past BaseRevisionID.
type EditRequest struct {
	Page             string   `json:"page"`
	BaseRevisionID   int64    `json:"baseRevisionId"`
	TargetRevisionID int64    `json:"targetRevisionId"`
	Summary          string   `json:"summary"`
	Actor            string   `json:"actor"`
	Tags             []string `json:"tags,omitempty"`
	Watch            string   `json:"watch,omitempty"`
	Minor            bool     `json:"minor,omitempty"`
}

// EditResult reports the revision created by a restoring write. Added and
// Removed are line counts when the backend computes them.
type EditResult struct {
	NewRevisionID int64 `json:"newRevisionId"`
	NoChange      bool  `json:"noChange,omitempty"`
	Added         int   `json:"added,omitempty"`
	Removed       int   `json:"removed,omitempty"`
}

// NewEditRequest builds the write for a resolved decision.
func NewEditRequest(d Decision, summary, actor string) EditRequest {
	return EditRequest{
		Page:             d.Page,
		BaseRevisionID:   d.TopRevisionID,
		TargetRevisionID: d.TargetRevisionID,
		Summary:          summary,
		Actor:            actor,
	}
}
