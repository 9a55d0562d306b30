package consolidate

import (
	"time"

	"github.com/google/uuid"

	"github.com/writerr/changepipeline/internal/change"
	"github.com/writerr/changepipeline/internal/eventbus"
	"github.com/writerr/changepipeline/internal/position"
)

// Clock abstracts time.Now for deterministic tests of the consolidation
// timeout path, matching the governor package's Clock idiom.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// IDGenerator produces new change/conflict-group ids; swappable in tests for
// deterministic assertions.
type IDGenerator func() string

func defaultIDGenerator() string { return uuid.NewString() }

// Engine runs the consolidation pipeline against a change.Store, emitting
// events on admission, merge, and conflict. Generalized from a single
// optimistic-concurrency "stale tick -> ConflictInfo{CurrentTick,
// ConflictingActor}" branch into the full conflict-detection ->
// strategy-dispatch -> resolution pipeline.
type Engine struct {
	store *change.Store
	bus   *eventbus.Bus
	clock Clock
	newID IDGenerator

	// DefaultTimeout is the consolidation budget after which the engine
	// degrades to PriorityWins.
	DefaultTimeout time.Duration
	// OverlapTolerance is the default slack (in bytes) used to treat two
	// near-adjacent edits as conflicting, when a submission's policy does
	// not specify its own tolerance.
	OverlapTolerance int

	// seen de-duplicates retried submissions by SubmissionID.
	seen map[string]*Outcome
}

// New constructs an Engine bound to store and bus.
func New(store *change.Store, bus *eventbus.Bus) *Engine {
	return &Engine{
		store:            store,
		bus:              bus,
		clock:            realClock{},
		newID:            defaultIDGenerator,
		DefaultTimeout:   250 * time.Millisecond,
		OverlapTolerance: 0,
		seen:             make(map[string]*Outcome),
	}
}

// WithClock overrides the time source, for tests.
func (e *Engine) WithClock(c Clock) *Engine {
	e.clock = c
	return e
}

// WithIDGenerator overrides id generation, for deterministic tests.
func (e *Engine) WithIDGenerator(f IDGenerator) *Engine {
	e.newID = f
	return e
}

// Consolidate runs sub against the current Pending changes in sub.Change's
// session, resolving any conflicts per sub.Policy, and leaves the store in
// its post-resolution state. It is idempotent across retries sharing the
// same SubmissionID.
func (e *Engine) Consolidate(sub Submission) (*Outcome, error) {
	if sub.SubmissionID != "" {
		if prior, ok := e.seen[sub.SubmissionID]; ok {
			return prior, nil
		}
	}

	start := e.clock.Now()
	budget := sub.TimeoutMs
	if budget <= 0 {
		budget = int(e.DefaultTimeout / time.Millisecond)
	}

	incoming := sub.Change
	if incoming.ID == "" {
		incoming.ID = e.newID()
	}
	if incoming.Status == "" {
		incoming.Status = change.StatusPending
	}

	pending := e.store.PendingInSession(incoming.SessionID)
	detectPolicy := sub.Policy
	if detectPolicy.OverlapToleranceChars == 0 {
		detectPolicy.OverlapToleranceChars = e.OverlapTolerance
	}
	conflicts := detectConflicts(incoming, pending, detectPolicy)

	policy := sub.Policy
	degraded := false
	if e.clock.Now().Sub(start) > time.Duration(budget)*time.Millisecond {
		// Already over budget before resolution even starts (a pathological
		// clock in tests, or an overloaded caller) — degrade immediately.
		policy = Policy{Strategy: StrategyPriorityWins}
		degraded = true
	}

	var outcome *Outcome
	var err error

	if len(conflicts) == 0 {
		if insErr := e.store.Insert(incoming); insErr != nil {
			return nil, insErr
		}
		e.bus.Publish(eventbus.TopicChangeAdmitted, incoming.ID)
		outcome = &Outcome{Admitted: incoming}
	} else {
		outcome, err = e.resolve(incoming, conflicts, policy, sub.Semantic)
		if err != nil {
			return nil, err
		}
		if degraded {
			outcome.DegradedFromTimeout = true
			outcome.Warnings = append(outcome.Warnings, "consolidation exceeded its timeout budget; degraded to PriorityWins")
		}
	}

	e.bus.Drain()

	if sub.SubmissionID != "" {
		e.seen[sub.SubmissionID] = outcome
	}
	return outcome, nil
}

// detectConflicts returns the subset of pending that conflict with incoming:
// overlapping or tolerance-adjacent positions in mergeable/incompatible
// categories.
func detectConflicts(incoming *change.Change, pending []*change.Change, policy Policy) []*change.Change {
	tolerance := policy.OverlapToleranceChars
	var conflicts []*change.Change
	for _, p := range pending {
		if p.ID == incoming.ID {
			continue
		}
		if position.Overlaps(incoming.Position, p.Position) {
			conflicts = append(conflicts, p)
			continue
		}
		if tolerance > 0 && position.Adjacent(incoming.Position, p.Position, tolerance) {
			conflicts = append(conflicts, p)
		}
	}
	return conflicts
}

// resolve dispatches to the strategy-specific resolution function.
func (e *Engine) resolve(incoming *change.Change, conflicts []*change.Change, policy Policy, semantic *SemanticContext) (*Outcome, error) {
	if policy.AutoDefer {
		if deferred, ok := e.tryAutoDefer(incoming, conflicts); ok {
			return deferred, nil
		}
	}

	switch policy.Strategy {
	case StrategyAutoMerge:
		return e.resolveAutoMerge(incoming, conflicts, policy, semantic)
	case StrategySequential:
		return e.resolveSequential(incoming, conflicts)
	case StrategyUserChoice:
		return e.resolveUserChoice(incoming, conflicts)
	default:
		return e.resolvePriorityWins(incoming, conflicts)
	}
}

// tryAutoDefer rejects the incoming change outright when every conflicting
// change already pending outranks it in priority.
func (e *Engine) tryAutoDefer(incoming *change.Change, conflicts []*change.Change) (*Outcome, bool) {
	for _, c := range conflicts {
		if c.Priority >= incoming.Priority {
			return nil, false
		}
	}
	return &Outcome{Rejected: true, Reason: ReasonDeferredToHigherPriority}, true
}

// resolvePriorityWins keeps the highest-priority change (lowest numeric
// Priority; ties broken toward the human-initiated, then toward the earlier
// timestamp) and supersedes the rest.
func (e *Engine) resolvePriorityWins(incoming *change.Change, conflicts []*change.Change) (*Outcome, error) {
	winner := incoming
	for _, c := range conflicts {
		if outranks(c, winner) {
			winner = c
		}
	}

	var superseded []string
	if winner.ID != incoming.ID {
		// incoming loses: insert it already Superseded so the audit trail
		// records the submission, then supersede by the existing winner and
		// record the absorption on the winner's own audit trail too.
		incoming.Status = change.StatusSuperseded
		supersededBy := winner.ID
		incoming.SupersededBy = &supersededBy
		if err := e.store.Insert(incoming); err != nil {
			return nil, err
		}
		updatedWinner, err := e.store.AppendAudit(winner.ID, "consolidate.PriorityWins", "absorbed_contributor",
			"absorbed "+incoming.ID+" by priority")
		if err != nil {
			return nil, err
		}
		superseded = append(superseded, incoming.ID)
		e.bus.Publish(eventbus.TopicChangeSuperseded, incoming.ID)
		return &Outcome{Admitted: updatedWinner, SupersededIDs: superseded}, nil
	}

	// incoming wins: admit it, supersede every conflicting change and record
	// each absorption on incoming's own audit trail, then publish Superseded
	// for every conflict before Admitted for incoming so subscribers observe
	// the conflicts resolving before the winner is announced.
	if err := e.store.Insert(incoming); err != nil {
		return nil, err
	}
	admitted := incoming
	for _, c := range conflicts {
		if err := e.store.Supersede(c.ID, incoming.ID, "consolidate.PriorityWins"); err != nil {
			return nil, err
		}
		updated, err := e.store.AppendAudit(incoming.ID, "consolidate.PriorityWins", "absorbed_contributor",
			"absorbed "+c.ID+" by priority")
		if err != nil {
			return nil, err
		}
		admitted = updated
		superseded = append(superseded, c.ID)
		e.bus.Publish(eventbus.TopicChangeSuperseded, c.ID)
	}
	e.bus.Publish(eventbus.TopicChangeAdmitted, incoming.ID)
	return &Outcome{Admitted: admitted, SupersededIDs: superseded}, nil
}

// outranks reports whether a should win over b under PriorityWins ordering:
// lower Priority number first, then human-initiated over automated, then
// earlier Timestamp, then smaller ID for full determinism.
func outranks(a, b *change.Change) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if a.Automated != b.Automated {
		return !a.Automated
	}
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.ID < b.ID
}

// resolveSequential enforces ordering: incoming is admitted as Pending but
// recorded as depending on every still-unresolved conflicting change,
// rejected outright only if one of those conflicts is itself already
// terminal in a way that makes the dependency unsatisfiable.
func (e *Engine) resolveSequential(incoming *change.Change, conflicts []*change.Change) (*Outcome, error) {
	var dependsOn []string
	for _, c := range conflicts {
		if c.Status.Terminal() {
			return &Outcome{Rejected: true, Reason: ReasonOrderingViolation}, nil
		}
		dependsOn = append(dependsOn, c.ID)
	}
	incoming.DependsOn = dependsOn
	if err := e.store.Insert(incoming); err != nil {
		return nil, err
	}
	e.bus.Publish(eventbus.TopicChangeAdmitted, incoming.ID)
	return &Outcome{Admitted: incoming}, nil
}

// resolveUserChoice leaves every conflicting change (including incoming)
// Pending, tagged with a shared ConflictGroupID for the caller to surface as
// a user decision.
func (e *Engine) resolveUserChoice(incoming *change.Change, conflicts []*change.Change) (*Outcome, error) {
	groupID := e.newID()
	incoming.ConflictGroupID = &groupID
	if err := e.store.Insert(incoming); err != nil {
		return nil, err
	}
	for _, c := range conflicts {
		gid := groupID
		if err := e.store.SetConflictGroup(c.ID, &gid); err != nil {
			return nil, err
		}
	}
	e.bus.Publish(eventbus.TopicChangeSubmitted, incoming.ID)
	return &Outcome{Admitted: incoming, ConflictGroupID: groupID}, nil
}

// resolveAutoMerge combines incoming with every conflicting change into a
// single replacement change spanning their union, when every pair is
// MergeCompatible and semantic scope allows it. When
// merge is infeasible it falls back to PriorityWins rather than failing the
// whole submission, since every submission must reach a
// terminal admission/rejection outcome.
func (e *Engine) resolveAutoMerge(incoming *change.Change, conflicts []*change.Change, policy Policy, semantic *SemanticContext) (*Outcome, error) {
	if !policy.AllowSemanticMerge || !mergeable(incoming, conflicts, semantic) {
		return e.resolvePriorityWins(incoming, conflicts)
	}

	merged := mergeChanges(incoming, conflicts, e.newID())
	if err := e.store.Insert(merged); err != nil {
		return nil, err
	}
	e.bus.Publish(eventbus.TopicChangeAdmitted, merged.ID)

	superseded := []string{incoming.ID}
	incoming.Status = change.StatusSuperseded
	supersededBy := merged.ID
	incoming.SupersededBy = &supersededBy
	if err := e.store.Insert(incoming); err != nil {
		return nil, err
	}
	e.bus.Publish(eventbus.TopicChangeSuperseded, incoming.ID)

	for _, c := range conflicts {
		if err := e.store.Supersede(c.ID, merged.ID, "consolidate.AutoMerge"); err != nil {
			return nil, err
		}
		superseded = append(superseded, c.ID)
		e.bus.Publish(eventbus.TopicChangeSuperseded, c.ID)
	}

	return &Outcome{Admitted: merged, SupersededIDs: superseded}, nil
}
