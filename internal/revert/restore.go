package revert

// ResolveRestore builds the decision for restoring an explicit revision.
// There is no author walk: every revision newer than revisionID is
// discarded. When expectedTop is non-zero the page must still be at that
// revision.
func ResolveRestore(page string, expectedTop, revisionID int64, hist History) Outcome {
	if !hist.Editable {
		return aborted(abortf(ReasonCannotEdit, "you cannot edit %q", page))
	}
	revs := hist.Revisions
	if len(revs) == 0 {
		return aborted(abortf(ReasonNoRevisions, "no revisions found for %q", page))
	}
	top := revs[0]

	if expectedTop != 0 && top.ID != expectedTop {
		if top.ID < expectedTop {
			err := abortf(ReasonInconsistentState,
				"latest fetched revision %d does not match the expected revision %d", top.ID, expectedTop)
			err.RevisionIDs = []int64{top.ID, expectedTop}
			return aborted(err)
		}
		return aborted(overtaken(Request{ExpectedTopRevisionID: expectedTop}, top))
	}
	if top.ID == revisionID {
		err := abortf(ReasonAlreadyCurrent, "revision %d is already the latest revision of %q", revisionID, page)
		err.RevisionIDs = []int64{revisionID}
		return aborted(err)
	}

	for i := 1; i < len(revs); i++ {
		if revs[i].ID != revisionID {
			continue
		}
		return resolved(Decision{
			Page:                      page,
			TopRevisionID:             top.ID,
			TargetRevisionID:          revisionID,
			TargetAuthor:              revs[i].Author(),
			TargetHidden:              revs[i].UserHidden,
			DiscardedCount:            i,
			EffectiveTriggeringAuthor: top.Author(),
			ReviewEligible:            reviewEligible(hist.Flagged, revisionID),
			Notes:                     []Note{},
		})
	}

	err := abortf(ReasonRevisionNotFound, "revision %d is not among the last %d revisions of %q", revisionID, len(revs), page)
	err.RevisionIDs = []int64{revisionID}
	err.Count = len(revs)
	return aborted(err)
}
