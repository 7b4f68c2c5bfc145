package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"revertd/api/internal/email"
	"revertd/api/internal/identity"
	"revertd/api/internal/rbac"
	"revertd/api/internal/revert"
	"revertd/api/internal/search"
	"revertd/api/internal/store"

	"golang.org/x/sync/errgroup"
)

// execute writes the decision through the platform, then runs the
// follow-up steps. Only the write itself can fail the call; notification,
// review, audit logging and indexing are logged and skipped on error.
func (s *Service) execute(ctx context.Context, actor Session, kind revert.Kind, operation string, d revert.Decision, summary string, result *RevertResult) error {
	req := revert.NewEditRequest(d, summary, actor.Operator)
	req.Tags = append([]string(nil), s.cfg.ChangeTags...)
	req.Watch = s.cfg.Watch
	req.Minor = operation == store.OperationRevert && kind == revert.KindVandalism

	edit, err := s.platform.ApplyRevert(ctx, req)
	if err != nil {
		if isConflict(err) {
			log.Printf("revert: %q moved past revision %d before the write", d.Page, d.TopRevisionID)
		}
		return fmt.Errorf("apply %s to %q: %w", operation, d.Page, err)
	}
	result.Executed = true
	result.Edit = &edit
	log.Printf("revert: %s of %q by %s target=%d new=%d discarded=%d",
		operation, d.Page, actor.Operator, d.TargetRevisionID, edit.NewRevisionID, d.DiscardedCount)

	if !edit.NoChange {
		result.Notified, result.Reviewed = s.followUp(ctx, actor, kind, operation, d, edit, summary)
	}
	s.record(ctx, actor, kind, operation, d, edit, summary, result)
	return nil
}

func (s *Service) followUp(ctx context.Context, actor Session, kind revert.Kind, operation string, d revert.Decision, edit revert.EditResult, summary string) (notified, reviewed bool) {
	var g errgroup.Group

	contributor := d.EffectiveTriggeringAuthor
	if operation == store.OperationRevert && contributor != "" && !identity.Same(contributor, actor.Operator) && s.cfg.ShouldNotify(kind) {
		notice := strings.ReplaceAll(s.cfg.NotifyNotice, "$PAGE", d.Page)
		g.Go(func() error {
			if err := s.platform.Notify(ctx, contributor, d.Page, notice); err != nil {
				log.Printf("notify: %s about %q: %v", contributor, d.Page, err)
				return nil
			}
			notified = true
			return nil
		})
	}
	if d.ReviewEligible && s.Can(actor.Role, rbac.ActionReview) {
		g.Go(func() error {
			if err := s.platform.SubmitReview(ctx, d.Page, edit.NewRevisionID, summary); err != nil {
				log.Printf("review: revision %d of %q: %v", edit.NewRevisionID, d.Page, err)
				return nil
			}
			reviewed = true
			return nil
		})
	}
	if s.alerts != nil && operation == store.OperationRevert && s.cfg.ShouldAlert(kind) {
		alert := email.RevertAlert{
			Page:             d.Page,
			Kind:             string(kind),
			Operator:         actor.Operator,
			Contributor:      contributor,
			TargetRevisionID: d.TargetRevisionID,
			NewRevisionID:    edit.NewRevisionID,
			DiscardedCount:   d.DiscardedCount,
			Summary:          summary,
			At:               s.now(),
		}
		g.Go(func() error {
			if err := s.alerts.SendRevertAlert(s.cfg.AlertEmails, alert); err != nil {
				log.Printf("notify: alert for %q: %v", d.Page, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return notified, reviewed
}

func (s *Service) record(ctx context.Context, actor Session, kind revert.Kind, operation string, d revert.Decision, edit revert.EditResult, summary string, result *RevertResult) {
	notes := make([]string, 0, len(d.Notes))
	for _, note := range d.Notes {
		notes = append(notes, string(note.Code))
	}
	newRevision := edit.NewRevisionID
	if edit.NoChange {
		newRevision = 0
	}

	entry, err := s.store.InsertRevertLog(ctx, store.RevertLogEntry{
		Page:             d.Page,
		Operation:        operation,
		Kind:             string(kind),
		Actor:            actor.Operator,
		Contributor:      d.EffectiveTriggeringAuthor,
		SkippedBot:       d.SkippedBot,
		BaseRevisionID:   d.TopRevisionID,
		TargetRevisionID: d.TargetRevisionID,
		NewRevisionID:    newRevision,
		DiscardedCount:   d.DiscardedCount,
		Summary:          summary,
		Notes:            notes,
		Notified:         result.Notified,
		Reviewed:         result.Reviewed,
		Backend:          s.cfg.Backend,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			log.Printf("store: revision %d of %q already logged", newRevision, d.Page)
		} else {
			log.Printf("store: log %s of %q: %v", operation, d.Page, err)
		}
		return
	}
	result.LogID = entry.ID

	s.search.IndexRevert(search.RevertRecord{
		ID:               search.RecordID(entry.ID),
		Page:             entry.Page,
		Kind:             entry.Kind,
		Operation:        entry.Operation,
		Actor:            entry.Actor,
		Contributor:      entry.Contributor,
		Summary:          entry.Summary,
		TargetRevisionID: entry.TargetRevisionID,
		NewRevisionID:    entry.NewRevisionID,
		CreatedAt:        entry.CreatedAt.Unix(),
	})
}

// forEachLimit calls fn for every index in [0, n) with at most limit calls
// in flight.
func forEachLimit(n, limit int, fn func(i int)) {
	if limit <= 0 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			fn(i)
			return nil
		})
	}
	_ = g.Wait()
}
