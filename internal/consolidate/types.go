// Package consolidate implements the multi-producer consolidation engine,
// the hardest subsystem in the pipeline: conflict detection and
// deterministic, auditable resolution across concurrent producers.
// Generalized from a single-writer optimistic-concurrency check
// (stale-tick -> ConflictInfo) into the full priority/semantic resolution
// pipeline.
package consolidate

import "github.com/writerr/changepipeline/internal/change"

// Strategy is the conflict-resolution policy a submission declares.
type Strategy string

const (
	StrategyAutoMerge    Strategy = "AutoMerge"
	StrategyPriorityWins Strategy = "PriorityWins"
	StrategyUserChoice   Strategy = "UserChoice"
	StrategySequential   Strategy = "Sequential"
)

// Policy is the per-submission conflict_resolution block.
type Policy struct {
	Strategy            Strategy
	AllowSemanticMerge   bool
	OverlapToleranceChars int
	AutoDefer            bool
}

// DefaultPolicy is PriorityWins with no merge/defer behavior, a
// conservative default, favoring determinism over
// silent merging.
func DefaultPolicy() Policy {
	return Policy{Strategy: StrategyPriorityWins}
}

// Intention is the semantic intent of a change.
type Intention string

const (
	IntentionCorrection     Intention = "Correction"
	IntentionEnhancement    Intention = "Enhancement"
	IntentionFormatting     Intention = "Formatting"
	IntentionContentAddition Intention = "ContentAddition"
	IntentionRestructuring  Intention = "Restructuring"
)

// Scope is the textual scope a change claims to operate at.
type Scope string

const (
	ScopeWord     Scope = "Word"
	ScopeSentence Scope = "Sentence"
	ScopeParagraph Scope = "Paragraph"
	ScopeSection  Scope = "Section"
	ScopeDocument Scope = "Document"
)

// scopeRank orders scopes from narrowest to broadest for the AutoMerge
// compatibility check.
var scopeRank = map[Scope]int{
	ScopeWord:      0,
	ScopeSentence:  1,
	ScopeParagraph: 2,
	ScopeSection:   3,
	ScopeDocument:  4,
}

// isNarrowScope reports whether s is narrow enough (Word or Sentence) to be
// eligible for AutoMerge; Paragraph/Section/Document scopes never merge.
func isNarrowScope(s Scope) bool {
	rank, ok := scopeRank[s]
	if !ok {
		return false
	}
	const narrowMax = 1 // Word, Sentence
	return rank <= narrowMax
}

// SemanticContext is the optional per-submission semantic annotation (spec
// §4.D).
type SemanticContext struct {
	Intention          Intention
	Scope              Scope
	Confidence         float64
	PreserveFormatting bool
	PreserveContent    bool
}

// Submission is everything the engine needs about one incoming change to
// run the resolution pipeline.
type Submission struct {
	SubmissionID string // idempotency key
	Change       *change.Change
	Policy       Policy
	Semantic     *SemanticContext
	TimeoutMs    int // default 250ms
	MaxRetries   int // default 3
}

// Reason codes surfaced on rejected/deferred changes.
const (
	ReasonDeferredToHigherPriority = "DeferredToHigherPriority"
	ReasonOrderingViolation        = "OrderingViolation"
)

// Outcome is the result of consolidating one submission.
type Outcome struct {
	// Admitted is the change that ended up in the store as Pending: the
	// incoming change unchanged, the new merged change under AutoMerge, or,
	// when the incoming change loses under PriorityWins, the existing
	// winner.
	Admitted *change.Change
	// SupersededIDs names changes (including possibly the incoming one)
	// that became Superseded as part of this resolution.
	SupersededIDs []string
	// Rejected is set (with Reason) when the incoming change was rejected
	// outright rather than admitted (auto-defer, sequential ordering
	// violation).
	Rejected bool
	Reason   string
	// ConflictGroupID is set under UserChoice: all conflicting changes,
	// including the incoming one, share this id and remain Pending.
	ConflictGroupID string
	// DegradedFromTimeout records that the consolidation budget was
	// exceeded and the engine fell back to PriorityWins.
	DegradedFromTimeout bool
	// Warnings are non-fatal notes for SubmissionResult.warnings.
	Warnings []string
}
