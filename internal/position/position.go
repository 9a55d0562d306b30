// Package position implements document coordinate arithmetic over a single
// logical character stream. Offsets are UTF-8 byte offsets into the
// pre-edit document, matching Go's native string indexing, so positions
// can be used directly as string slice bounds.
package position

import "fmt"

// Position is a half-open byte interval [Start, End) into a document.
// End == Start for a pure insertion point.
type Position struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// New constructs a Position, returning an error if the interval is malformed.
func New(start, end int) (Position, error) {
	p := Position{Start: start, End: end}
	if err := p.Validate(); err != nil {
		return Position{}, err
	}
	return p, nil
}

// Validate reports whether the interval is well-formed.
func (p Position) Validate() error {
	if p.Start < 0 {
		return fmt.Errorf("position: start %d is negative", p.Start)
	}
	if p.End < p.Start {
		return fmt.Errorf("position: end %d precedes start %d", p.End, p.Start)
	}
	return nil
}

// Len returns the length of the interval in bytes.
func (p Position) Len() int {
	return p.End - p.Start
}

// Empty reports whether the interval is a pure insertion point.
func (p Position) Empty() bool {
	return p.Start == p.End
}

// Overlaps reports whether a and b share at least one byte, or whether an
// empty interval lies strictly inside the other.
func Overlaps(a, b Position) bool {
	return a.Start < b.End && b.Start < a.End
}

// Contains reports whether a fully contains b.
func Contains(a, b Position) bool {
	return a.Start <= b.Start && b.End <= a.End
}

// Gap returns the number of characters strictly between a and b, or 0 if
// they overlap or are adjacent. It is the basis for Distance and Adjacent.
func Gap(a, b Position) int {
	if Overlaps(a, b) {
		return 0
	}
	if a.End <= b.Start {
		return b.Start - a.End
	}
	return a.Start - b.End
}

// Distance is the number of characters separating a and b; zero when they
// overlap.
func Distance(a, b Position) int {
	return Gap(a, b)
}

// Adjacent reports whether a and b are within tolerance characters of each
// other without overlapping requirement — overlapping positions are always
// adjacent for tolerance >= 0.
func Adjacent(a, b Position, tolerance int) bool {
	return Gap(a, b) <= tolerance
}

// Hull returns the smallest Position spanning both a and b.
func Hull(a, b Position) Position {
	start := a.Start
	if b.Start < start {
		start = b.Start
	}
	end := a.End
	if b.End > end {
		end = b.End
	}
	return Position{Start: start, End: end}
}

// HullAll returns the smallest Position spanning every element of ps.
// It panics if ps is empty; callers must guard on len(ps) == 0.
func HullAll(ps []Position) Position {
	h := ps[0]
	for _, p := range ps[1:] {
		h = Hull(h, p)
	}
	return h
}

// Shift translates p by delta characters, used when an edit earlier in the
// document changes the document's length.
func Shift(p Position, delta int) Position {
	return Position{Start: p.Start + delta, End: p.End + delta}
}

// AppliedEdit describes an edit that has already been committed to the
// document, for the purposes of translating later positions across it.
type AppliedEdit struct {
	Range    Position
	Inserted int // length in bytes of the text that replaced Range
}

// TranslateResult is the outcome of translating a position across one
// applied edit.
type TranslateResult struct {
	Position Position
	Valid    bool // false if p fell strictly inside the edited range
}

// Translate moves p across a single already-applied edit:
// positions at or after the edit's end shift by (inserted - removed);
// positions strictly inside the edited range are invalidated and must be
// re-anchored or dropped by the caller.
func Translate(p Position, edit AppliedEdit) TranslateResult {
	delta := edit.Inserted - edit.Range.Len()

	switch {
	case p.Start >= edit.Range.End:
		return TranslateResult{Position: Shift(p, delta), Valid: true}
	case p.End <= edit.Range.Start:
		return TranslateResult{Position: p, Valid: true}
	default:
		return TranslateResult{Valid: false}
	}
}

// TranslateAll translates p across a sequence of edits applied in order,
// stopping (and returning Valid: false) the moment any edit invalidates it.
func TranslateAll(p Position, edits []AppliedEdit) TranslateResult {
	cur := TranslateResult{Position: p, Valid: true}
	for _, e := range edits {
		if !cur.Valid {
			return cur
		}
		cur = Translate(cur.Position, e)
	}
	return cur
}
