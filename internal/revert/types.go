// Package revert resolves "undo this contribution" requests against a
// page's revision history and builds the edit summary for the restoring
// write. Nothing in this package performs I/O.
package revert

import (
	"strings"
	"time"
)

type Kind string

const (
	KindVandalism Kind = "vandalism"
	KindGoodFaith Kind = "goodfaith"
	KindNormal    Kind = "normal"
)

// ParseKind maps user input to a Kind. Unknown values are rejected.
func ParseKind(value string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case KindVandalism, "vand":
		return KindVandalism, true
	case KindGoodFaith, "agf":
		return KindGoodFaith, true
	case KindNormal, "norm", "":
		return KindNormal, true
	default:
		return "", false
	}
}

type Revision struct {
	ID             int64     `json:"id"`
	User           string    `json:"user,omitempty"`
	UserHidden     bool      `json:"userHidden,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	FlaggedPending bool      `json:"flaggedPending,omitempty"`
}

// Author returns the contributor name, or "" when it is redacted.
func (r Revision) Author() string {
	if r.UserHidden {
		return ""
	}
	return r.User
}

// FlaggedState is the pending-changes status of a page.
type FlaggedState struct {
	StableRevisionID int64      `json:"stableRevisionId"`
	PendingSince     *time.Time `json:"pendingSince,omitempty"`
}

// History is a freshly fetched revision window for one page.
type History struct {
	Page          string        `json:"page"`
	TopRevisionID int64         `json:"topRevisionId"`
	Revisions     []Revision    `json:"revisions"`
	Editable      bool          `json:"editable"`
	Flagged       *FlaggedState `json:"flagged,omitempty"`
}

// Settings is the session-wide configuration shared by every request.
type Settings struct {
	MaxWindow   int      `json:"maxWindow"`
	TrustedBots []string `json:"trustedBots"`
}

// DefaultMaxWindow is the lookback used when Settings.MaxWindow is unset.
const DefaultMaxWindow = 50

func (s Settings) window() int {
	if s.MaxWindow <= 0 {
		return DefaultMaxWindow
	}
	return s.MaxWindow
}

func (s Settings) isTrustedBot(name string) bool {
	if name == "" {
		return false
	}
	for _, bot := range s.TrustedBots {
		if bot == name {
			return true
		}
	}
	return false
}

type Request struct {
	Kind                  Kind     `json:"kind"`
	Page                  string   `json:"page"`
	ExpectedTopRevisionID int64    `json:"expectedTopRevisionId"`
	TriggeringAuthor      string   `json:"triggeringAuthor,omitempty"`
	Settings              Settings `json:"settings"`
}

type NoteCode string

const (
	NoteRaceSameAuthor NoteCode = "race-same-author"
	NoteBotSkip        NoteCode = "bot-skip"
	NoteAddressBlock   NoteCode = "address-block-equivalence"
	NoteConfirmed      NoteCode = "confirmed"
)

// Note is an informational tag for display. It never drives control flow.
type Note struct {
	Code    NoteCode `json:"code"`
	Message string   `json:"message"`
}

type Decision struct {
	Page                      string `json:"page"`
	TopRevisionID             int64  `json:"topRevisionId"`
	TargetRevisionID          int64  `json:"targetRevisionId"`
	TargetAuthor              string `json:"targetAuthor,omitempty"`
	TargetHidden              bool   `json:"targetHidden,omitempty"`
	DiscardedCount            int    `json:"discardedCount"`
	EffectiveTriggeringAuthor string `json:"effectiveTriggeringAuthor,omitempty"`
	SkippedBot                string `json:"skippedBot,omitempty"`
	RequiresUserConfirmation  bool   `json:"requiresUserConfirmation"`
	ReviewEligible            bool   `json:"reviewEligible"`
	Notes                     []Note `json:"notes"`
}

// HasNote reports whether a note with the given code was recorded.
func (d Decision) HasNote(code NoteCode) bool {
	for _, note := range d.Notes {
		if note.Code == code {
			return true
		}
	}
	return false
}

type Status string

const (
	StatusResolved          Status = "resolved"
	StatusAborted           Status = "aborted"
	StatusNeedsConfirmation Status = "needs-confirmation"
)

type PromptKind string

const (
	PromptSkipTrustedBot  PromptKind = "skip-trusted-bot"
	PromptDiscardMultiple PromptKind = "discard-multiple"
)

type Prompt struct {
	Kind    PromptKind `json:"kind"`
	Message string     `json:"message"`
	Count   int        `json:"count,omitempty"`
	Author  string     `json:"author,omitempty"`
}

// Continuation captures everything needed to resume a resolution after
// the user answers a Prompt. It is plain data so it can be stored.
type Continuation struct {
	Stage     PromptKind `json:"stage"`
	Request   Request    `json:"request"`
	History   History    `json:"history"`
	Index     int        `json:"index"`
	Effective string     `json:"effective,omitempty"`
	Skipped   string     `json:"skipped,omitempty"`
	Notes     []Note     `json:"notes,omitempty"`
	Pending   *Decision  `json:"pending,omitempty"`
}

// Outcome is exactly one of a Decision, an abort, or a prompt awaiting an
// answer, selected by Status.
type Outcome struct {
	Status       Status        `json:"status"`
	Decision     *Decision     `json:"decision,omitempty"`
	Abort        *AbortError   `json:"abort,omitempty"`
	Prompt       *Prompt       `json:"prompt,omitempty"`
	Continuation *Continuation `json:"-"`
}

func resolved(d Decision) Outcome {
	return Outcome{Status: StatusResolved, Decision: &d}
}

func aborted(err *AbortError) Outcome {
	return Outcome{Status: StatusAborted, Abort: err}
}

func needsConfirmation(prompt Prompt, cont Continuation) Outcome {
	return Outcome{Status: StatusNeedsConfirmation, Prompt: &prompt, Continuation: &cont}
}
