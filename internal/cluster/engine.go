package cluster

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/writerr/changepipeline/internal/change"
	"github.com/writerr/changepipeline/internal/eventbus"
)

// Clock abstracts time.Now, matching the governor/consolidate packages'
// Clock idiom.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Engine runs clustering strategies over a change.Store and maintains the
// debounced dynamic-update queue described for the Clustering Engine:
// per-change add/remove events are absorbed and only affected clusters are
// recomputed.
type Engine struct {
	store *change.Store
	bus   *eventbus.Bus
	clock Clock

	// DebounceWindow is the delay before a queued update is applied
	// (default 500ms).
	DebounceWindow time.Duration

	cached []Cluster // last computed clusters, kept for single-change admission

	queued     map[string]*change.Change
	lastQueued time.Time
}

// New constructs an Engine bound to store and bus.
func New(store *change.Store, bus *eventbus.Bus) *Engine {
	return &Engine{
		store:          store,
		bus:            bus,
		clock:          realClock{},
		DebounceWindow: 500 * time.Millisecond,
		queued:         make(map[string]*change.Change),
	}
}

// WithClock overrides the time source, for tests.
func (e *Engine) WithClock(c Clock) *Engine {
	e.clock = c
	return e
}

// Cluster runs strategy over universe (typically a session's pending
// changes) and returns fresh Cluster views. Clusters are never persisted —
// callers recompute or incrementally update via Admit.
func Cluster(universe []*change.Change, strategy Strategy, cfg Config) []Cluster {
	if len(universe) == 0 {
		return nil
	}

	var groups []memberGroup
	switch strategy {
	case StrategyCategory:
		groups = clusterCategory(universe, cfg)
	case StrategyConfidence:
		groups = clusterConfidence(universe, cfg)
	case StrategyProximity:
		groups = clusterProximity(universe, cfg)
	case StrategySource:
		groups = clusterSource(universe, cfg)
	case StrategyHybrid:
		groups = clusterHybrid(universe, cfg)
	case StrategyKMeans:
		groups = clusterKMeans(universe, cfg)
	default:
		return nil
	}

	now := time.Now()
	out := make([]Cluster, 0, len(groups))
	for _, g := range groups {
		out = append(out, buildCluster(g, strategy, universe, now))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func buildCluster(g memberGroup, strategy Strategy, universe []*change.Change, now time.Time) Cluster {
	ids := make([]string, 0, len(g.members))
	for _, m := range g.members {
		ids = append(ids, m.ID)
	}
	sort.Strings(ids)
	return Cluster{
		ID:          uuid.NewString(),
		Strategy:    strategy,
		MemberIDs:   ids,
		Centroid:    computeCentroid(g.members),
		Metrics:     computeMetrics(g.members, universe),
		Title:       g.title,
		Description: describeCluster(g),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func describeCluster(g memberGroup) string {
	if len(g.members) == 0 {
		return ""
	}
	return g.title + " (" + itoa(len(g.members)) + " changes)"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

// Run executes strategy against every Pending change in sessionID via the
// bound store, publishing ClusterUpdated, and caches the result for Admit.
func (e *Engine) Run(sessionID string, strategy Strategy, cfg Config) []Cluster {
	universe := e.store.PendingInSession(sessionID)
	clusters := Cluster(universe, strategy, cfg)
	e.cached = clusters
	e.bus.Publish(eventbus.TopicClusterUpdated, sessionID)
	return clusters
}

// Admit evaluates a single new or changed change against the last computed
// clusters (spec: "single-change admission to existing clusters uses
// similarity > 0.6 against cluster centroid; otherwise a singleton cluster
// is created"). It mutates and returns the cached cluster set.
func (e *Engine) Admit(c *change.Change, cfg Config) []Cluster {
	for i, existing := range e.cached {
		if centroidSimilarity(c, existing.Centroid, cfg) > 0.6 {
			e.cached[i].MemberIDs = append(e.cached[i].MemberIDs, c.ID)
			sort.Strings(e.cached[i].MemberIDs)
			e.cached[i].UpdatedAt = time.Now()
			return e.cached
		}
	}

	singleton := Cluster{
		ID:        uuid.NewString(),
		Strategy:  StrategyHybrid,
		MemberIDs: []string{c.ID},
		Centroid:  computeCentroid([]*change.Change{c}),
		Metrics:   computeMetrics([]*change.Change{c}, []*change.Change{c}),
		Title:     "singleton",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	e.cached = append(e.cached, singleton)
	e.bus.Publish(eventbus.TopicClusterUpdated, c.SessionID)
	return e.cached
}

// Enqueue records a change that was added or modified since the last Run,
// for debounced absorption (spec: "a debounced update queue (default 500ms)
// absorbs per-change add/remove and recomputes only affected clusters").
func (e *Engine) Enqueue(c *change.Change) {
	if e.queued == nil {
		e.queued = make(map[string]*change.Change)
	}
	e.queued[c.ID] = c
	e.lastQueued = e.clock.Now()
}

// Remove drops id from the cached clusters, so a deleted change no longer
// appears in any member list.
func (e *Engine) Remove(id string, universe []*change.Change) {
	for i := range e.cached {
		kept := e.cached[i].MemberIDs[:0]
		for _, m := range e.cached[i].MemberIDs {
			if m != id {
				kept = append(kept, m)
			}
		}
		e.cached[i].MemberIDs = kept
	}
	e.recomputeMetrics(universe)
}

func (e *Engine) recomputeMetrics(universe []*change.Change) {
	byID := make(map[string]*change.Change, len(universe))
	for _, c := range universe {
		byID[c.ID] = c
	}
	for i := range e.cached {
		var members []*change.Change
		for _, id := range e.cached[i].MemberIDs {
			if c, ok := byID[id]; ok {
				members = append(members, c)
			}
		}
		e.cached[i].Centroid = computeCentroid(members)
		e.cached[i].Metrics = computeMetrics(members, universe)
		e.cached[i].UpdatedAt = time.Now()
	}
}

// Flush applies every queued change (if the debounce window has elapsed
// since the most recent Enqueue) via Admit, then clears the queue. It is a
// no-op, returning false, if the window has not yet elapsed.
func (e *Engine) Flush(cfg Config) (applied bool) {
	if len(e.queued) == 0 {
		return false
	}
	if e.clock.Now().Sub(e.lastQueued) < e.DebounceWindow {
		return false
	}
	ids := make([]string, 0, len(e.queued))
	for id := range e.queued {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		e.Admit(e.queued[id], cfg)
	}
	e.queued = make(map[string]*change.Change)
	return true
}

// centroidSimilarity adapts the Hybrid pairwise score to compare a single
// change against a cluster centroid summary.
func centroidSimilarity(c *change.Change, centroid Centroid, cfg Config) float64 {
	var weighted, totalWeight float64
	add := func(weight, score float64) {
		weighted += weight * score
		totalWeight += weight
	}
	add(cfg.WeightCategory, boolScore(c.Category == centroid.Category))
	add(cfg.WeightSource, boolScore(c.Source == centroid.Source))
	add(cfg.WeightConfidence, 1-absF(c.Confidence-centroid.MeanConfidence))
	threshold := float64(cfg.ProximityThreshold)
	if threshold <= 0 {
		threshold = 1
	}
	pos := float64((c.Position.Start + c.Position.End)) / 2
	add(cfg.WeightPosition, maxF(0, 1-absF(pos-centroid.MeanPosition)/threshold))
	if totalWeight == 0 {
		return 0
	}
	return weighted / totalWeight
}
