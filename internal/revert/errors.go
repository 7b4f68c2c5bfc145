package revert

import (
	"errors"
	"fmt"
)

type AbortReason string

const (
	ReasonCannotEdit          AbortReason = "cannot-edit"
	ReasonNoRevisions         AbortReason = "no-revisions"
	ReasonInconsistentState   AbortReason = "inconsistent-state"
	ReasonOvertaken           AbortReason = "overtaken-by-other-editor"
	ReasonTrustedBot          AbortReason = "bot-is-trusted"
	ReasonNoEarlierRevision   AbortReason = "no-earlier-revision-by-different-author"
	ReasonUserDeclined        AbortReason = "user-declined"
	ReasonInvalidContinuation AbortReason = "invalid-continuation"
	ReasonRevisionNotFound    AbortReason = "revision-not-in-window"
	ReasonAlreadyCurrent      AbortReason = "revision-already-current"
)

var (
	ErrPermissionDenied  = errors.New("permission denied")
	ErrNoRevisions       = errors.New("no revisions")
	ErrInconsistentState = errors.New("inconsistent state")
	ErrStaleWindow       = errors.New("stale revision window")
	ErrTrustedBot        = errors.New("trusted bot edit")
	ErrExhausted         = errors.New("no earlier revision by a different author")
	ErrUserDeclined      = errors.New("declined by user")
	ErrRevisionNotFound  = errors.New("revision not found")
	ErrAlreadyCurrent    = errors.New("revision is already current")

	// Collaborator failures. Callers decide whether to retry.
	ErrNetwork      = errors.New("network error")
	ErrPageNotFound = errors.New("page not found")
	ErrEditConflict = errors.New("edit conflict")
	// ErrEditRejected means the platform refused the write for a reason
	// re-resolving cannot fix, such as a captcha or an abuse filter.
	ErrEditRejected = errors.New("edit rejected")
)

var reasonSentinels = map[AbortReason]error{
	ReasonCannotEdit:          ErrPermissionDenied,
	ReasonNoRevisions:         ErrNoRevisions,
	ReasonInconsistentState:   ErrInconsistentState,
	ReasonOvertaken:           ErrStaleWindow,
	ReasonTrustedBot:          ErrTrustedBot,
	ReasonNoEarlierRevision:   ErrExhausted,
	ReasonUserDeclined:        ErrUserDeclined,
	ReasonInvalidContinuation: ErrInconsistentState,
	ReasonRevisionNotFound:    ErrRevisionNotFound,
	ReasonAlreadyCurrent:      ErrAlreadyCurrent,
}

// AbortError is a terminal outcome with enough detail to render a precise
// message: the conflicting author, the revision ids involved, and counts.
type AbortError struct {
	Reason      AbortReason `json:"reason"`
	Message     string      `json:"message"`
	Author      string      `json:"author,omitempty"`
	Count       int         `json:"count,omitempty"`
	RevisionIDs []int64     `json:"revisionIds,omitempty"`
}

func (e *AbortError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *AbortError) Is(target error) bool {
	if e == nil {
		return false
	}
	sentinel, ok := reasonSentinels[e.Reason]
	return ok && sentinel == target
}

func abortf(reason AbortReason, format string, args ...any) *AbortError {
	return &AbortError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}
