package revert

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// SummaryLimit is the platform's hard ceiling on edit summaries, in bytes.
const SummaryLimit = 499

type Field string

const (
	FieldRevert  Field = "revert"
	FieldRestore Field = "restore"
)

type TemplateKey struct {
	Kind  Kind
	Field Field
}

// Templates holds the summary texts. Template strings may contain $USER
// (the acting contributor, sized to fit), $EDITS ("1 edit" / "N edits"),
// $COUNT, $TARGET (author of the restored revision) and $REVID.
type Templates struct {
	Entries    map[TemplateKey]string
	HiddenName string
	Suffix     string
}

func DefaultTemplates() Templates {
	return Templates{
		Entries: map[TemplateKey]string{
			{KindVandalism, FieldRevert}:  "Reverted $EDITS by $USER identified as vandalism to last revision by $TARGET",
			{KindGoodFaith, FieldRevert}:  "Reverted good faith $EDITS by $USER",
			{KindNormal, FieldRevert}:     "Reverted $EDITS by $USER",
			{KindVandalism, FieldRestore}: "Restored revision $REVID by $USER",
			{KindGoodFaith, FieldRestore}: "Restored revision $REVID by $USER",
			{KindNormal, FieldRestore}:    "Restored revision $REVID by $USER",
		},
		HiddenName: "an unknown user",
	}
}

// WithSuffix returns a copy of t that appends suffix to every summary.
func (t Templates) WithSuffix(suffix string) Templates {
	t.Suffix = suffix
	return t
}

func (t Templates) lookup(kind Kind, field Field) string {
	if text, ok := t.Entries[TemplateKey{kind, field}]; ok {
		return text
	}
	if text, ok := t.Entries[TemplateKey{KindNormal, field}]; ok {
		return text
	}
	return DefaultTemplates().Entries[TemplateKey{KindNormal, field}]
}

func (t Templates) hiddenName() string {
	if t.HiddenName == "" {
		return "an unknown user"
	}
	return t.HiddenName
}

// FormatSummary builds the summary for a revert decision. The result never
// exceeds SummaryLimit bytes; within that budget it prefers a contributions
// link with a talk link, then the contributions link alone, then the bare
// name. A supplied reason is kept, truncated only when nothing else fits.
func FormatSummary(d Decision, kind Kind, reason string, t Templates) string {
	return compose(t.lookup(kind, FieldRevert), d.EffectiveTriggeringAuthor, d, reason, t)
}

// FormatRestoreSummary builds the summary for restoring an explicit
// revision; $USER is the author of the restored revision.
func FormatRestoreSummary(d Decision, reason string, t Templates) string {
	return compose(t.lookup(KindNormal, FieldRestore), d.TargetAuthor, d, reason, t)
}

func compose(template, user string, d Decision, reason string, t Templates) string {
	target := d.TargetAuthor
	if target == "" {
		target = t.hiddenName()
	}
	expand := strings.NewReplacer(
		"$EDITS", editsLabel(d.DiscardedCount),
		"$COUNT", strconv.Itoa(d.DiscardedCount),
		"$TARGET", target,
		"$REVID", strconv.FormatInt(d.TargetRevisionID, 10),
	)

	reason = strings.TrimSpace(reason)
	tail := t.Suffix
	if reason != "" {
		tail = ": " + upperFirst(reason) + t.Suffix
	}

	parts := strings.Split(template, "$USER")
	if len(parts) == 1 {
		return clamp(expand.Replace(template) + tail)
	}
	base := 0
	for i, part := range parts {
		parts[i] = expand.Replace(part)
		base += len(parts[i])
	}
	uses := len(parts) - 1

	var choices []string
	if user == "" {
		choices = []string{t.hiddenName()}
	} else {
		link := "[[Special:Contributions/" + user + "|" + user + "]]"
		talk := " ([[User talk:" + user + "|talk]])"
		choices = []string{link + talk, link, user}
	}
	for _, choice := range choices {
		if base+uses*len(choice)+len(tail) <= SummaryLimit {
			return strings.Join(parts, choice) + tail
		}
	}

	// Nothing fits whole: keep the plainest identity and shorten the reason.
	plain := choices[len(choices)-1]
	body := strings.Join(parts, plain)
	if reason != "" {
		room := SummaryLimit - len(body) - len(": ") - len(t.Suffix)
		if room > 0 {
			return clamp(body + ": " + truncateBytes(upperFirst(reason), room) + t.Suffix)
		}
	}
	return clamp(body + t.Suffix)
}

func editsLabel(count int) string {
	if count == 1 {
		return "1 edit"
	}
	return strconv.Itoa(count) + " edits"
}

func upperFirst(value string) string {
	r, size := utf8.DecodeRuneInString(value)
	if r == utf8.RuneError {
		return value
	}
	return string(unicode.ToUpper(r)) + value[size:]
}

func clamp(value string) string {
	return truncateBytes(value, SummaryLimit)
}

// truncateBytes cuts value to at most limit bytes without splitting a rune.
func truncateBytes(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	if limit <= 0 {
		return ""
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
