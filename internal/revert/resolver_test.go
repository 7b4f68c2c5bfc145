package revert

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

var testSettings = Settings{MaxWindow: 50, TrustedBots: []string{"AnomieBOT", "SineBot"}}

func rev(id int64, user string) Revision {
	return Revision{ID: id, User: user, Timestamp: time.Unix(id*60, 0).UTC()}
}

func hist(revs ...Revision) History {
	h := History{Page: "Example", Editable: true, Revisions: revs}
	if len(revs) > 0 {
		h.TopRevisionID = revs[0].ID
	}
	return h
}

func request(kind Kind, expected int64, author string) Request {
	return Request{Kind: kind, Page: "Example", ExpectedTopRevisionID: expected, TriggeringAuthor: author, Settings: testSettings}
}

func TestResolveNormalMultipleEditsNeedsConfirmation(t *testing.T) {
	h := hist(rev(105, "X"), rev(104, "X"), rev(103, "Y"))
	out := Resolve(request(KindNormal, 105, "X"), h)

	if out.Status != StatusNeedsConfirmation {
		t.Fatalf("status = %s, want %s", out.Status, StatusNeedsConfirmation)
	}
	if out.Prompt == nil || out.Prompt.Kind != PromptDiscardMultiple || out.Prompt.Count != 2 {
		t.Fatalf("unexpected prompt: %+v", out.Prompt)
	}

	final := Continue(out, true)
	if final.Status != StatusResolved {
		t.Fatalf("status after accept = %s", final.Status)
	}
	d := final.Decision
	if d.TargetRevisionID != 103 || d.TargetAuthor != "Y" {
		t.Fatalf("target = %d/%s, want 103/Y", d.TargetRevisionID, d.TargetAuthor)
	}
	if d.DiscardedCount != 2 {
		t.Fatalf("DiscardedCount = %d, want 2", d.DiscardedCount)
	}
	if !d.RequiresUserConfirmation {
		t.Fatal("expected RequiresUserConfirmation")
	}
	if !d.HasNote(NoteConfirmed) {
		t.Fatalf("expected confirmed note, got %+v", d.Notes)
	}
}

func TestResolveNormalDeclineAborts(t *testing.T) {
	h := hist(rev(105, "X"), rev(104, "X"), rev(103, "Y"))
	out := Continue(Resolve(request(KindNormal, 105, "X"), h), false)
	if out.Status != StatusAborted {
		t.Fatalf("status = %s", out.Status)
	}
	if !errors.Is(out.Abort, ErrUserDeclined) {
		t.Fatalf("abort = %v, want user declined", out.Abort)
	}
	if out.Abort.Count != 2 || out.Abort.Author != "X" {
		t.Fatalf("abort details = %+v", out.Abort)
	}
}

func TestResolveVandalismSkipsConfirmation(t *testing.T) {
	h := hist(rev(105, "X"), rev(104, "X"), rev(103, "Y"))
	out := Resolve(request(KindVandalism, 105, "X"), h)
	if out.Status != StatusResolved {
		t.Fatalf("status = %s", out.Status)
	}
	if out.Decision.DiscardedCount != 2 || out.Decision.RequiresUserConfirmation {
		t.Fatalf("unexpected decision %+v", out.Decision)
	}
}

func TestResolveSingleEditResolvesDirectly(t *testing.T) {
	h := hist(rev(105, "X"), rev(104, "Y"))
	for _, kind := range []Kind{KindNormal, KindGoodFaith, KindVandalism} {
		out := Resolve(request(kind, 105, "X"), h)
		if out.Status != StatusResolved {
			t.Fatalf("%s: status = %s", kind, out.Status)
		}
		if out.Decision.DiscardedCount != 1 || out.Decision.TargetRevisionID != 104 {
			t.Fatalf("%s: decision = %+v", kind, out.Decision)
		}
	}
}

func TestResolveRaceTrustedBotPassThrough(t *testing.T) {
	h := hist(rev(106, "AnomieBOT"), rev(105, "X"), rev(104, "X"), rev(103, "Y"))
	out := Resolve(request(KindVandalism, 105, "X"), h)
	if out.Status != StatusResolved {
		t.Fatalf("status = %s (%v)", out.Status, out.Abort)
	}
	d := out.Decision
	if !d.HasNote(NoteBotSkip) {
		t.Fatalf("expected bot-skip note, got %+v", d.Notes)
	}
	if d.SkippedBot != "AnomieBOT" || d.EffectiveTriggeringAuthor != "X" {
		t.Fatalf("skipped=%q effective=%q", d.SkippedBot, d.EffectiveTriggeringAuthor)
	}
	if d.TargetRevisionID != 103 || d.DiscardedCount != 2 {
		t.Fatalf("target=%d count=%d, want 103/2", d.TargetRevisionID, d.DiscardedCount)
	}
	if d.TopRevisionID != 106 {
		t.Fatalf("TopRevisionID = %d", d.TopRevisionID)
	}
}

func TestResolveRaceOutcomes(t *testing.T) {
	cases := []struct {
		name   string
		kind   Kind
		author string
		revs   []Revision
		status Status
		target error
	}{
		{
			name:   "same author continued",
			kind:   KindGoodFaith,
			revs:   []Revision{rev(106, "X"), rev(105, "X"), rev(104, "Y")},
			status: StatusNeedsConfirmation,
		},
		{
			name:   "good faith overtaken",
			kind:   KindGoodFaith,
			revs:   []Revision{rev(106, "Z"), rev(105, "X"), rev(104, "Y")},
			status: StatusAborted,
			target: ErrStaleWindow,
		},
		{
			name:   "good faith never passes a bot",
			kind:   KindGoodFaith,
			revs:   []Revision{rev(106, "AnomieBOT"), rev(105, "X"), rev(104, "Y")},
			status: StatusAborted,
			target: ErrStaleWindow,
		},
		{
			name:   "normal overtaken by bot",
			kind:   KindNormal,
			revs:   []Revision{rev(106, "AnomieBOT"), rev(105, "X"), rev(104, "Y")},
			status: StatusAborted,
			target: ErrStaleWindow,
		},
		{
			name:   "vandalism bot but gap in history",
			kind:   KindVandalism,
			revs:   []Revision{rev(107, "AnomieBOT"), rev(106, "Z"), rev(105, "X"), rev(104, "Y")},
			status: StatusAborted,
			target: ErrStaleWindow,
		},
		{
			name:   "vandalism untrusted editor",
			kind:   KindVandalism,
			revs:   []Revision{rev(106, "Z"), rev(105, "X"), rev(104, "Y")},
			status: StatusAborted,
			target: ErrStaleWindow,
		},
		{
			name:   "same ipv6 block continued",
			kind:   KindVandalism,
			author: "2001:db8:1:2::1",
			revs:   []Revision{rev(106, "2001:db8:1:2::9"), rev(105, "2001:db8:1:2::1"), rev(104, "Y")},
			status: StatusResolved,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			author := tc.author
			if author == "" {
				author = "X"
			}
			out := Resolve(request(tc.kind, 105, author), hist(tc.revs...))
			if out.Status != tc.status {
				t.Fatalf("status = %s, want %s (abort=%v)", out.Status, tc.status, out.Abort)
			}
			if tc.target != nil && !errors.Is(out.Abort, tc.target) {
				t.Fatalf("abort = %v, want %v", out.Abort, tc.target)
			}
		})
	}
}

func TestResolveOvertakenCarriesDetails(t *testing.T) {
	out := Resolve(request(KindNormal, 105, "X"), hist(rev(106, "Z"), rev(105, "X")))
	if out.Abort == nil {
		t.Fatal("expected abort")
	}
	if out.Abort.Author != "Z" || !reflect.DeepEqual(out.Abort.RevisionIDs, []int64{106, 105}) {
		t.Fatalf("abort details = %+v", out.Abort)
	}
}

func TestResolveTrustedBotOnTop(t *testing.T) {
	h := hist(rev(105, "SineBot"), rev(104, "X"), rev(103, "X"), rev(102, "Y"))

	t.Run("vandalism skips the bot", func(t *testing.T) {
		out := Resolve(request(KindVandalism, 105, "SineBot"), h)
		if out.Status != StatusResolved {
			t.Fatalf("status = %s", out.Status)
		}
		d := out.Decision
		if d.EffectiveTriggeringAuthor != "X" || d.SkippedBot != "SineBot" {
			t.Fatalf("effective=%q skipped=%q", d.EffectiveTriggeringAuthor, d.SkippedBot)
		}
		if d.TargetRevisionID != 102 || d.DiscardedCount != 2 || !d.HasNote(NoteBotSkip) {
			t.Fatalf("decision = %+v", d)
		}
	})

	t.Run("good faith refuses", func(t *testing.T) {
		out := Resolve(request(KindGoodFaith, 105, "SineBot"), h)
		if !errors.Is(out.Abort, ErrTrustedBot) {
			t.Fatalf("abort = %v", out.Abort)
		}
	})

	t.Run("normal asks first", func(t *testing.T) {
		out := Resolve(request(KindNormal, 105, ""), h)
		if out.Status != StatusNeedsConfirmation || out.Prompt.Kind != PromptSkipTrustedBot {
			t.Fatalf("outcome = %+v", out)
		}
		declined := Continue(out, false)
		if !errors.Is(declined.Abort, ErrUserDeclined) {
			t.Fatalf("decline = %+v", declined)
		}

		accepted := Continue(out, true)
		if accepted.Status != StatusNeedsConfirmation || accepted.Prompt.Kind != PromptDiscardMultiple {
			t.Fatalf("accept should lead to the multi-discard prompt, got %+v", accepted)
		}
		final := Continue(accepted, true)
		if final.Status != StatusResolved || final.Decision.TargetRevisionID != 102 {
			t.Fatalf("final = %+v", final)
		}
		if final.Decision.SkippedBot != "SineBot" || !final.Decision.HasNote(NoteBotSkip) {
			t.Fatalf("final decision = %+v", final.Decision)
		}
	})

	t.Run("vandalism with only the bot edit", func(t *testing.T) {
		out := Resolve(request(KindVandalism, 105, "SineBot"), hist(rev(105, "SineBot")))
		if !errors.Is(out.Abort, ErrExhausted) {
			t.Fatalf("abort = %v", out.Abort)
		}
	})
}

func TestResolveTrustedBotOnTopWithOtherAuthor(t *testing.T) {
	h := hist(rev(106, "AnomieBOT"), rev(105, "X"), rev(104, "Y"))

	cases := []struct {
		name   string
		kind   Kind
		status Status
		prompt PromptKind
		target error
	}{
		{name: "vandalism skips the bot", kind: KindVandalism, status: StatusResolved},
		{name: "good faith refuses", kind: KindGoodFaith, status: StatusAborted, target: ErrTrustedBot},
		{name: "normal asks to skip the bot", kind: KindNormal, status: StatusNeedsConfirmation, prompt: PromptSkipTrustedBot},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := Resolve(request(tc.kind, 106, "X"), h)
			if out.Status != tc.status {
				t.Fatalf("status = %s, want %s (outcome=%+v)", out.Status, tc.status, out)
			}
			if tc.target != nil && !errors.Is(out.Abort, tc.target) {
				t.Fatalf("abort = %v, want %v", out.Abort, tc.target)
			}
			if tc.prompt != "" && out.Prompt.Kind != tc.prompt {
				t.Fatalf("prompt = %s, want %s", out.Prompt.Kind, tc.prompt)
			}
			if tc.status == StatusResolved {
				d := out.Decision
				if !d.HasNote(NoteBotSkip) || d.SkippedBot != "AnomieBOT" || d.EffectiveTriggeringAuthor != "X" {
					t.Fatalf("decision = %+v", d)
				}
				if d.TargetRevisionID != 104 {
					t.Fatalf("target = %d, want 104", d.TargetRevisionID)
				}
			}
		})
	}

	out := Resolve(request(KindNormal, 106, "X"), h)
	accepted := Continue(out, true)
	if accepted.Status != StatusResolved || accepted.Decision.TargetRevisionID != 104 || accepted.Decision.SkippedBot != "AnomieBOT" {
		t.Fatalf("accepted = %+v", accepted)
	}
}

func TestResolveAddressBlockNoteComparesWithPreviousEntry(t *testing.T) {
	// race with the same author: the first walked entry repeats the top address
	h := hist(
		rev(106, "2001:db8:1:2::2"),
		rev(105, "2001:db8:1:2::2"),
		rev(104, "Y"),
	)
	out := Resolve(request(KindVandalism, 105, "2001:db8:1:2::1"), h)
	if out.Status != StatusResolved {
		t.Fatalf("status = %s (abort=%v)", out.Status, out.Abort)
	}
	if out.Decision.HasNote(NoteAddressBlock) {
		t.Fatalf("identical neighbours must not be noted: %+v", out.Decision.Notes)
	}
	if out.Decision.TargetRevisionID != 104 || out.Decision.DiscardedCount != 2 {
		t.Fatalf("decision = %+v", out.Decision)
	}

	h = hist(
		rev(106, "2001:db8:1:2::2"),
		rev(105, "2001:db8:1:2::2"),
		rev(104, "2001:db8:1:2::1"),
		rev(103, "Y"),
	)
	out = Resolve(request(KindVandalism, 105, "2001:db8:1:2::1"), h)
	if out.Status != StatusResolved || !out.Decision.HasNote(NoteAddressBlock) {
		t.Fatalf("expected block note when neighbours differ: %+v", out)
	}
}

func TestResolveExhaustion(t *testing.T) {
	revs := make([]Revision, 0, 10)
	for id := int64(110); id > 100; id-- {
		revs = append(revs, rev(id, "X"))
	}
	req := request(KindVandalism, 110, "X")
	req.Settings.MaxWindow = 10
	out := Resolve(req, hist(revs...))
	if !errors.Is(out.Abort, ErrExhausted) {
		t.Fatalf("abort = %v", out.Abort)
	}
	if out.Abort.Count != 10 {
		t.Fatalf("Count = %d, want 10", out.Abort.Count)
	}
}

func TestResolveWindowBoundedByMaxWindow(t *testing.T) {
	h := hist(rev(105, "X"), rev(104, "X"), rev(103, "X"), rev(102, "Y"))
	req := request(KindVandalism, 105, "X")
	req.Settings.MaxWindow = 3
	out := Resolve(req, h)
	if !errors.Is(out.Abort, ErrExhausted) {
		t.Fatalf("divergent author beyond the lookback must not be used, got %+v", out)
	}
}

func TestResolveGuards(t *testing.T) {
	cases := []struct {
		name   string
		h      History
		target error
	}{
		{name: "not editable", h: History{Editable: false, Revisions: []Revision{rev(105, "X")}}, target: ErrPermissionDenied},
		{name: "empty window", h: History{Editable: true}, target: ErrNoRevisions},
		{name: "window older than expected", h: hist(rev(104, "X"), rev(103, "Y")), target: ErrInconsistentState},
		{name: "top id mismatch", h: History{Editable: true, TopRevisionID: 107, Revisions: []Revision{rev(105, "X"), rev(104, "Y")}}, target: ErrInconsistentState},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := Resolve(request(KindNormal, 105, "X"), tc.h)
			if out.Status != StatusAborted || !errors.Is(out.Abort, tc.target) {
				t.Fatalf("outcome = %+v, want abort %v", out, tc.target)
			}
		})
	}
}

func TestResolveAddressBlockNote(t *testing.T) {
	h := hist(
		rev(105, "2001:db8:1:2::1"),
		rev(104, "2001:db8:1:2::5"),
		rev(103, "2001:db8:1:2::7"),
		rev(102, "Y"),
	)
	out := Resolve(request(KindVandalism, 105, "2001:db8:1:2::1"), h)
	if out.Status != StatusResolved {
		t.Fatalf("status = %s", out.Status)
	}
	d := out.Decision
	if d.DiscardedCount != 3 || d.TargetRevisionID != 102 {
		t.Fatalf("decision = %+v", d)
	}
	count := 0
	for _, note := range d.Notes {
		if note.Code == NoteAddressBlock {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("address-block note emitted %d times, want 1", count)
	}
}

func TestResolveHiddenAuthors(t *testing.T) {
	hidden := Revision{ID: 104, User: "X", UserHidden: true}
	out := Resolve(request(KindVandalism, 105, "X"), hist(rev(105, "X"), hidden, rev(103, "Y")))
	if out.Status != StatusResolved {
		t.Fatalf("status = %s", out.Status)
	}
	if out.Decision.TargetRevisionID != 104 || !out.Decision.TargetHidden {
		t.Fatalf("a redacted author never matches; decision = %+v", out.Decision)
	}
}

func TestResolveDefaultsEffectiveAuthorToTop(t *testing.T) {
	out := Resolve(request(KindVandalism, 105, ""), hist(rev(105, "X"), rev(104, "Y")))
	if out.Status != StatusResolved || out.Decision.EffectiveTriggeringAuthor != "X" {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestResolveReviewEligible(t *testing.T) {
	pending := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	h := hist(rev(105, "X"), rev(104, "Y"))

	h.Flagged = &FlaggedState{StableRevisionID: 104, PendingSince: &pending}
	if out := Resolve(request(KindVandalism, 105, "X"), h); !out.Decision.ReviewEligible {
		t.Fatal("expected review eligibility when the target is already stable")
	}
	h.Flagged = &FlaggedState{StableRevisionID: 103, PendingSince: &pending}
	if out := Resolve(request(KindVandalism, 105, "X"), h); out.Decision.ReviewEligible {
		t.Fatal("target newer than the stable revision must not be auto-reviewed")
	}
	h.Flagged = &FlaggedState{StableRevisionID: 104}
	if out := Resolve(request(KindVandalism, 105, "X"), h); out.Decision.ReviewEligible {
		t.Fatal("no pending changes means nothing to review")
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	h := hist(rev(106, "AnomieBOT"), rev(105, "2001:db8::1"), rev(104, "2001:db8::2"), rev(103, "Y"))
	req := request(KindVandalism, 105, "2001:db8::1")
	first := Resolve(req, h)
	for i := 0; i < 20; i++ {
		if again := Resolve(req, h); !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs:\n%+v\n%+v", i, first, again)
		}
	}
}

func TestDiscardCountMatchesConsumedRange(t *testing.T) {
	for n := 1; n <= 4; n++ {
		revs := make([]Revision, 0, n+1)
		for i := 0; i < n; i++ {
			revs = append(revs, rev(int64(200-i), "X"))
		}
		revs = append(revs, rev(int64(200-n), "Y"))
		out := Resolve(request(KindVandalism, 200, "X"), hist(revs...))
		if out.Status != StatusResolved {
			t.Fatalf("n=%d: status %s", n, out.Status)
		}
		if out.Decision.DiscardedCount != n || out.Decision.DiscardedCount < 1 {
			t.Fatalf("n=%d: DiscardedCount = %d", n, out.Decision.DiscardedCount)
		}
	}
}

func TestContinueRejectsTerminalOutcomes(t *testing.T) {
	out := Continue(Outcome{Status: StatusResolved, Decision: &Decision{}}, true)
	if out.Status != StatusAborted || out.Abort.Reason != ReasonInvalidContinuation {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestParseKind(t *testing.T) {
	cases := map[string]Kind{"vand": KindVandalism, "AGF": KindGoodFaith, "": KindNormal, "normal": KindNormal}
	for input, want := range cases {
		got, ok := ParseKind(input)
		if !ok || got != want {
			t.Fatalf("ParseKind(%q) = %q, %v", input, got, ok)
		}
	}
	if _, ok := ParseKind("rollback"); ok {
		t.Fatal("expected unknown kind to be rejected")
	}
}
