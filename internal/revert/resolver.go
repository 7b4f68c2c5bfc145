package revert

import (
	"fmt"

	"revertd/api/internal/identity"
)

// Resolve runs the revert decision procedure for req against a freshly
// fetched history. It is deterministic: the same inputs always produce the
// same Outcome.
func Resolve(req Request, hist History) Outcome {
	if !hist.Editable {
		return aborted(abortf(ReasonCannotEdit, "you cannot edit %q", req.Page))
	}
	revs := hist.Revisions
	if len(revs) == 0 {
		return aborted(abortf(ReasonNoRevisions, "no revisions found for %q", req.Page))
	}
	top := revs[0]

	if top.ID < req.ExpectedTopRevisionID || (hist.TopRevisionID != 0 && hist.TopRevisionID != top.ID) {
		err := abortf(ReasonInconsistentState,
			"latest fetched revision %d does not match the expected revision %d", top.ID, req.ExpectedTopRevisionID)
		err.RevisionIDs = []int64{top.ID, req.ExpectedTopRevisionID}
		return aborted(err)
	}

	index := 1
	effective := req.TriggeringAuthor
	skipped := ""
	var notes []Note

	if top.ID != req.ExpectedTopRevisionID {
		switch {
		case identity.Same(top.Author(), req.TriggeringAuthor):
			notes = append(notes, Note{
				Code:    NoteRaceSameAuthor,
				Message: fmt.Sprintf("latest revision %d was also made by %s; continuing", top.ID, top.Author()),
			})
		case req.Kind == KindGoodFaith:
			return aborted(overtaken(req, top))
		case req.Kind == KindVandalism && req.Settings.isTrustedBot(top.Author()) &&
			len(revs) > 1 && revs[1].ID == req.ExpectedTopRevisionID:
			notes = append(notes, Note{
				Code:    NoteBotSkip,
				Message: fmt.Sprintf("skipping revision %d by trusted bot %s", top.ID, top.Author()),
			})
			index = 2
			skipped = top.Author()
		default:
			return aborted(overtaken(req, top))
		}
	} else if effective == "" {
		effective = top.Author()
	}

	if bot := top.Author(); skipped == "" && req.Settings.isTrustedBot(bot) {
		switch req.Kind {
		case KindVandalism:
			if len(revs) < 2 {
				return aborted(exhausted(req, len(revs)))
			}
			notes = append(notes, botSkipNote(top, revs[1]))
			index = 2
			skipped = bot
			effective = revs[1].Author()
		case KindGoodFaith:
			err := abortf(ReasonTrustedBot, "%s is a trusted bot; good faith revert will not proceed", bot)
			err.Author = bot
			err.RevisionIDs = []int64{top.ID}
			return aborted(err)
		default:
			return needsConfirmation(Prompt{
				Kind:    PromptSkipTrustedBot,
				Message: fmt.Sprintf("The most recent edit was made by the trusted bot %s. Revert the revision before it instead?", bot),
				Author:  bot,
			}, Continuation{
				Stage:     PromptSkipTrustedBot,
				Request:   req,
				History:   hist,
				Index:     index,
				Effective: bot,
				Notes:     notes,
			})
		}
	}

	return walk(req, hist, index, effective, skipped, notes)
}

// Continue resumes an Outcome that needs confirmation. Declining always
// ends in a terminal abort; nothing has been written at that point.
func Continue(outcome Outcome, accepted bool) Outcome {
	if outcome.Status != StatusNeedsConfirmation || outcome.Continuation == nil {
		return aborted(abortf(ReasonInvalidContinuation, "outcome is not awaiting confirmation"))
	}
	cont := *outcome.Continuation
	if !accepted {
		err := abortf(ReasonUserDeclined, "revert cancelled")
		if outcome.Prompt != nil {
			err.Author = outcome.Prompt.Author
			err.Count = outcome.Prompt.Count
		}
		return aborted(err)
	}

	switch cont.Stage {
	case PromptSkipTrustedBot:
		revs := cont.History.Revisions
		if len(revs) < 2 {
			return aborted(exhausted(cont.Request, len(revs)))
		}
		notes := append(cloneNotes(cont.Notes), botSkipNote(revs[0], revs[1]))
		return walk(cont.Request, cont.History, 2, revs[1].Author(), cont.Effective, notes)
	case PromptDiscardMultiple:
		if cont.Pending == nil {
			return aborted(abortf(ReasonInvalidContinuation, "missing pending decision"))
		}
		decision := *cont.Pending
		decision.Notes = append(cloneNotes(decision.Notes), Note{
			Code:    NoteConfirmed,
			Message: fmt.Sprintf("confirmed discarding %d edits", decision.DiscardedCount),
		})
		return resolved(decision)
	default:
		return aborted(abortf(ReasonInvalidContinuation, "unknown confirmation stage %q", cont.Stage))
	}
}

func walk(req Request, hist History, index int, effective, skipped string, notes []Note) Outcome {
	revs := hist.Revisions
	limit := req.Settings.window()
	if len(revs) < limit {
		limit = len(revs)
	}

	target := -1
	blockNoted := false
	// the block note compares each discarded entry with the one counted
	// just before it, starting from the entry above the walk
	previous := ""
	if index > 0 && index <= len(revs) {
		previous = revs[index-1].Author()
	}
	for i := index; i < limit; i++ {
		author := revs[i].Author()
		if identity.Same(author, effective) {
			if !blockNoted && identity.SameBlockOnly(author, previous) {
				notes = append(notes, Note{
					Code:    NoteAddressBlock,
					Message: fmt.Sprintf("treating %s and %s in the same /64 block as one contributor", previous, author),
				})
				blockNoted = true
			}
			previous = author
			continue
		}
		target = i
		break
	}
	if target < 0 {
		return aborted(exhausted(req, limit))
	}

	candidate := revs[target]
	decision := Decision{
		Page:                      req.Page,
		TopRevisionID:             revs[0].ID,
		TargetRevisionID:          candidate.ID,
		TargetAuthor:              candidate.Author(),
		TargetHidden:              candidate.Author() == "",
		DiscardedCount:            target - index + 1,
		EffectiveTriggeringAuthor: effective,
		SkippedBot:                skipped,
		ReviewEligible:            reviewEligible(hist.Flagged, candidate.ID),
		Notes:                     notes,
	}
	if decision.Notes == nil {
		decision.Notes = []Note{}
	}

	if req.Kind != KindVandalism && decision.DiscardedCount > 1 {
		decision.RequiresUserConfirmation = true
		return needsConfirmation(Prompt{
			Kind:    PromptDiscardMultiple,
			Message: fmt.Sprintf("This will discard %d edits by %s. Proceed?", decision.DiscardedCount, displayName(effective)),
			Count:   decision.DiscardedCount,
			Author:  effective,
		}, Continuation{
			Stage:     PromptDiscardMultiple,
			Request:   req,
			History:   hist,
			Index:     index,
			Effective: effective,
			Skipped:   skipped,
			Notes:     notes,
			Pending:   &decision,
		})
	}
	return resolved(decision)
}

func reviewEligible(flagged *FlaggedState, target int64) bool {
	return flagged != nil && flagged.PendingSince != nil && flagged.StableRevisionID >= target
}

func overtaken(req Request, top Revision) *AbortError {
	err := abortf(ReasonOvertaken, "revision %d by %s was made after revision %d",
		top.ID, displayName(top.Author()), req.ExpectedTopRevisionID)
	err.Author = top.Author()
	err.RevisionIDs = []int64{top.ID, req.ExpectedTopRevisionID}
	return err
}

func exhausted(req Request, scanned int) *AbortError {
	err := abortf(ReasonNoEarlierRevision, "no edit was made by another user in the last %d revisions", scanned)
	err.Author = req.TriggeringAuthor
	err.Count = scanned
	return err
}

func botSkipNote(bot, previous Revision) Note {
	return Note{
		Code: NoteBotSkip,
		Message: fmt.Sprintf("revision %d is by trusted bot %s; reverting %s instead",
			bot.ID, bot.Author(), displayName(previous.Author())),
	}
}

func displayName(name string) string {
	if name == "" {
		return "a hidden user"
	}
	return name
}

func cloneNotes(notes []Note) []Note {
	out := make([]Note, len(notes), len(notes)+1)
	copy(out, notes)
	return out
}
