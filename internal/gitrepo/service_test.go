package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"revertd/api/internal/revert"
)

// seedPage creates a page and commits one revision per author, so the
// revision with ID n+1 was written by authors[n-1].
func seedPage(t *testing.T, svc *Service, page string, authors ...string) {
	t.Helper()
	if err := svc.EnsurePage(page, "line 0\n", "Creator"); err != nil {
		t.Fatalf("EnsurePage() error = %v", err)
	}
	for i, author := range authors {
		content := fmt.Sprintf("line 0\nline %d by %s\n", i+1, author)
		if _, err := svc.CommitContent(page, content, author, fmt.Sprintf("edit %d", i+1)); err != nil {
			t.Fatalf("CommitContent(%d) error = %v", i+1, err)
		}
	}
}

func TestPageRepoLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsurePage("Main Page", "hello\n", "Avery"); err != nil {
		t.Fatalf("EnsurePage() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "Main%20Page")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}
	if err := svc.EnsurePage("Main Page", "ignored\n", "Avery"); err != nil {
		t.Fatalf("EnsurePage() second call error = %v", err)
	}

	commit, err := svc.CommitContent("Main Page", "hello\nworld\n", "Blake", "Add world")
	if err != nil {
		t.Fatalf("CommitContent() error = %v", err)
	}
	if commit.ID != 2 || commit.Hash == "" {
		t.Fatalf("unexpected commit: %+v", commit)
	}
	if commit.Added != 1 || commit.Removed != 0 {
		t.Fatalf("line changes = +%d -%d", commit.Added, commit.Removed)
	}

	history, err := svc.History("Main Page", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 || history[0].ID != 2 || history[1].ID != 1 {
		t.Fatalf("unexpected history: %+v", history)
	}
	if history[0].Author != "Blake" || history[1].Author != "Avery" {
		t.Fatalf("unexpected authors: %+v", history)
	}

	content, err := svc.Content("Main Page", 1)
	if err != nil {
		t.Fatalf("Content() error = %v", err)
	}
	if content != "hello\n" {
		t.Fatalf("Content() = %q", content)
	}
}

func TestFetchHistoryWindow(t *testing.T) {
	svc := New(t.TempDir())
	seedPage(t, svc, "Page", "Y", "X", "X")

	hist, err := svc.FetchHistory(context.Background(), "Page", 3)
	if err != nil {
		t.Fatalf("FetchHistory() error = %v", err)
	}
	if !hist.Editable || hist.Flagged != nil {
		t.Fatalf("unexpected page state: %+v", hist)
	}
	if hist.TopRevisionID != 4 || len(hist.Revisions) != 3 {
		t.Fatalf("unexpected window: %+v", hist)
	}
	wantAuthors := []string{"X", "X", "Y"}
	for i, rev := range hist.Revisions {
		if rev.ID != int64(4-i) || rev.User != wantAuthors[i] {
			t.Fatalf("revision %d = %+v", i, rev)
		}
	}
}

func TestFetchHistoryMissingPage(t *testing.T) {
	svc := New(t.TempDir())
	_, err := svc.FetchHistory(context.Background(), "Nowhere", 10)
	if !errors.Is(err, revert.ErrPageNotFound) {
		t.Fatalf("expected ErrPageNotFound, got %v", err)
	}
}

func TestInvalidPageName(t *testing.T) {
	svc := New(t.TempDir())
	for _, page := range []string{"", "  ", "..", "."} {
		if err := svc.EnsurePage(page, "x", "A"); !errors.Is(err, ErrInvalidPage) {
			t.Fatalf("EnsurePage(%q) error = %v", page, err)
		}
	}
}

func TestApplyRevertRestoresTarget(t *testing.T) {
	ctx := context.Background()
	svc := New(t.TempDir())
	seedPage(t, svc, "Page", "Y", "X", "X")

	hist, err := svc.FetchHistory(ctx, "Page", 50)
	if err != nil {
		t.Fatalf("FetchHistory() error = %v", err)
	}
	outcome := revert.Resolve(revert.Request{
		Kind:                  revert.KindVandalism,
		Page:                  "Page",
		ExpectedTopRevisionID: 4,
		TriggeringAuthor:      "X",
	}, hist)
	if outcome.Status != revert.StatusResolved {
		t.Fatalf("Resolve() = %+v", outcome)
	}
	decision := *outcome.Decision
	if decision.TargetRevisionID != 2 || decision.DiscardedCount != 2 {
		t.Fatalf("unexpected decision: %+v", decision)
	}

	req := revert.NewEditRequest(decision, "Reverted 2 edits by X", "Patroller")
	req.Tags = []string{"revertd"}
	result, err := svc.ApplyRevert(ctx, req)
	if err != nil {
		t.Fatalf("ApplyRevert() error = %v", err)
	}
	if result.NewRevisionID != 5 || result.NoChange {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Added != 1 || result.Removed != 1 {
		t.Fatalf("line changes = +%d -%d", result.Added, result.Removed)
	}

	restored, err := svc.Content("Page", 5)
	if err != nil {
		t.Fatalf("Content() error = %v", err)
	}
	target, err := svc.Content("Page", 2)
	if err != nil {
		t.Fatalf("Content() error = %v", err)
	}
	if restored != target {
		t.Fatalf("restored content %q, want %q", restored, target)
	}

	history, err := svc.History("Page", 1)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if history[0].Author != "Patroller" || !strings.Contains(history[0].Message, "Tags: revertd") {
		t.Fatalf("unexpected revert commit: %+v", history[0])
	}
}

func TestApplyRevertConflictsWhenPageMoved(t *testing.T) {
	ctx := context.Background()
	svc := New(t.TempDir())
	seedPage(t, svc, "Page", "Y", "X")

	_, err := svc.ApplyRevert(ctx, revert.EditRequest{
		Page:             "Page",
		BaseRevisionID:   2,
		TargetRevisionID: 1,
		Actor:            "Patroller",
	})
	if !errors.Is(err, revert.ErrEditConflict) {
		t.Fatalf("expected ErrEditConflict, got %v", err)
	}

	history, err := svc.History("Page", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("conflicting revert must not write, history has %d entries", len(history))
	}
}

func TestApplyRevertNoChange(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsurePage("Page", "same\n", "A"); err != nil {
		t.Fatalf("EnsurePage() error = %v", err)
	}
	if _, err := svc.CommitContent("Page", "same\n", "B", "touch"); err != nil {
		t.Fatalf("CommitContent() error = %v", err)
	}

	result, err := svc.ApplyRevert(context.Background(), revert.EditRequest{
		Page:             "Page",
		BaseRevisionID:   2,
		TargetRevisionID: 1,
		Actor:            "Patroller",
	})
	if err != nil {
		t.Fatalf("ApplyRevert() error = %v", err)
	}
	if !result.NoChange || result.NewRevisionID != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestLineChanges(t *testing.T) {
	cases := []struct {
		name    string
		before  string
		after   string
		added   int
		removed int
	}{
		{name: "identical", before: "a\nb\n", after: "a\nb\n"},
		{name: "append", before: "a\n", after: "a\nb\nc\n", added: 2},
		{name: "delete", before: "a\nb\nc\n", after: "a\n", removed: 2},
		{name: "replace", before: "a\nb\n", after: "a\nc\n", added: 1, removed: 1},
		{name: "no trailing newline", before: "", after: "x", added: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			added, removed := LineChanges(tc.before, tc.after)
			if added != tc.added || removed != tc.removed {
				t.Fatalf("LineChanges() = +%d -%d, want +%d -%d", added, removed, tc.added, tc.removed)
			}
		})
	}
}

func TestConcurrentCommitsKeepLinearHistory(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsurePage("Busy", "start\n", "A"); err != nil {
		t.Fatalf("EnsurePage() error = %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.CommitContent("Busy", fmt.Sprintf("start\nedit %d\n", i), fmt.Sprintf("user-%d", i), "edit")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("CommitContent() error = %v", err)
		}
	}

	history, err := svc.History("Busy", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 9 || history[0].ID != 9 {
		t.Fatalf("unexpected history length %d", len(history))
	}
}

func TestSavePageCreatesThenEdits(t *testing.T) {
	svc := New(t.TempDir())
	ctx := context.Background()

	created, err := svc.SavePage(ctx, "Sandbox", "one\ntwo\n", "Avery", "Start page")
	if err != nil {
		t.Fatalf("SavePage(create) error = %v", err)
	}
	if created.ID != 1 || created.Author != "Avery" || created.Added != 2 {
		t.Fatalf("unexpected created revision: %+v", created)
	}

	edited, err := svc.SavePage(ctx, "Sandbox", "one\nthree\n", "Blake", "Tweak")
	if err != nil {
		t.Fatalf("SavePage(edit) error = %v", err)
	}
	if edited.ID != 2 || edited.Message != "Tweak" || edited.Added != 1 || edited.Removed != 1 {
		t.Fatalf("unexpected edited revision: %+v", edited)
	}

	if _, err := svc.SavePage(ctx, "..", "x", "Avery", ""); !errors.Is(err, ErrInvalidPage) {
		t.Fatalf("expected ErrInvalidPage, got %v", err)
	}
}
