package consolidate

import (
	"sort"
	"strings"
	"time"

	"github.com/writerr/changepipeline/internal/change"
	"github.com/writerr/changepipeline/internal/position"
)

// mergeable reports whether incoming and every conflict can be folded into
// one AutoMerge change: pairwise category compatibility and, when a semantic context is supplied, a scope narrow
// enough to be mergeable (Word/Sentence, never Section/Document).
func mergeable(incoming *change.Change, conflicts []*change.Change, semantic *SemanticContext) bool {
	if semantic != nil {
		if semantic.PreserveContent {
			return false
		}
		if semantic.Scope != "" && !isNarrowScope(semantic.Scope) {
			return false
		}
	}
	for _, c := range conflicts {
		if !change.MergeCompatible(incoming.Category, c.Category) {
			return false
		}
	}
	return true
}

// mergeChanges folds incoming and conflicts into a single new Replace change
// spanning their positional hull. Content.Before is the hull-spanning
// pre-text: the union of every contributor's before-text over the merged
// range. Content.After is built the same way from each contributor's
// after-text, which amounts to applying every input to before in
// left-to-right position order; where two contributors' spans overlap,
// the highest-priority (lowest Priority value) contributor's text wins and
// the other's is dropped entirely for that span, rather than spliced
// byte-for-byte (After text need not be the same length as its span).
func mergeChanges(incoming *change.Change, conflicts []*change.Change, newID string) *change.Change {
	all := append([]*change.Change{incoming}, conflicts...)

	positions := make([]position.Position, 0, len(all))
	for _, c := range all {
		positions = append(positions, c.Position)
	}
	hull := position.HullAll(positions)

	avgConfidence := 0.0
	for _, c := range all {
		avgConfidence += c.Confidence
	}
	avgConfidence /= float64(len(all))

	sources := make([]string, 0, len(all))
	for _, c := range all {
		sources = append(sources, c.Source)
	}

	return &change.Change{
		ID:        newID,
		SessionID: incoming.SessionID,
		Type:      change.TypeReplace,
		Position:  hull,
		Content: change.Content{
			Before: mergeHullText(all, hull, func(c *change.Change) string { return c.Content.Before }),
			After:  mergeHullText(all, hull, func(c *change.Change) string { return c.Content.After }),
		},
		Category:   incoming.Category,
		Source:     "consolidate.AutoMerge(" + joinSources(sources) + ")",
		Confidence: avgConfidence,
		Timestamp:  time.Now(),
		Status:     change.StatusPending,
		Priority:   incoming.Priority,
		Audit: []change.AuditEntry{{
			Actor:  "consolidate.AutoMerge",
			Action: "merge",
			At:     time.Now(),
			Reason: "merged " + joinSources(sources),
		}},
	}
}

// mergeHullText builds the hull-relative text for one side of Content
// (before or after, picked by field) by claiming each contributor's span in
// priority order — best priority first — and dropping any later contributor
// whose span overlaps one already claimed. The surviving claims are then
// written out left to right; any byte range the hull spans but no
// contributor covers is left empty, since no input carries text for it.
func mergeHullText(all []*change.Change, hull position.Position, field func(*change.Change) string) string {
	type span struct {
		start, end int
		priority   int
		text       string
	}

	spans := make([]span, 0, len(all))
	for _, c := range all {
		spans = append(spans, span{
			start:    c.Position.Start - hull.Start,
			end:      c.Position.End - hull.Start,
			priority: c.Priority,
			text:     field(c),
		})
	}

	sort.SliceStable(spans, func(i, j int) bool { return spans[i].priority < spans[j].priority })
	claimed := make([]span, 0, len(spans))
	for _, s := range spans {
		overlaps := false
		for _, k := range claimed {
			if s.start < k.end && k.start < s.end {
				overlaps = true
				break
			}
		}
		if !overlaps {
			claimed = append(claimed, s)
		}
	}
	sort.Slice(claimed, func(i, j int) bool { return claimed[i].start < claimed[j].start })

	var b strings.Builder
	cursor := 0
	for _, s := range claimed {
		if s.start > cursor {
			cursor = s.start
		}
		b.WriteString(s.text)
		cursor = s.end
	}
	return b.String()
}

func joinSources(sources []string) string {
	out := ""
	for i, s := range sources {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}
