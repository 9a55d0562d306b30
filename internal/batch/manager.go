package batch

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/writerr/changepipeline/internal/change"
	"github.com/writerr/changepipeline/internal/eventbus"
	"github.com/writerr/changepipeline/internal/pipelineerr"
	"github.com/writerr/changepipeline/internal/position"
)

// IDGenerator produces new group ids; swappable in tests.
type IDGenerator func() string

func defaultIDGenerator() string { return uuid.NewString() }

// Manager owns the batch hierarchy and runs lifecycle operations against a
// change.Store.
type Manager struct {
	store *change.Store
	bus   *eventbus.Bus
	newID IDGenerator

	groups map[string]*Group
}

// New constructs a Manager bound to store and bus.
func New(store *change.Store, bus *eventbus.Bus) *Manager {
	return &Manager{
		store:  store,
		bus:    bus,
		newID:  defaultIDGenerator,
		groups: make(map[string]*Group),
	}
}

// WithIDGenerator overrides id generation, for deterministic tests.
func (m *Manager) WithIDGenerator(f IDGenerator) *Manager {
	m.newID = f
	return m
}

// Get returns a batch by id.
func (m *Manager) Get(groupID string) (*Group, bool) {
	g, ok := m.groups[groupID]
	return g, ok
}

// Fold computes the derived batch status from its members' change statuses
//: all-Accepted -> Accepted; all-Rejected -> Rejected; any-Pending
// with any-terminal -> Mixed; else Pending.
func Fold(statuses []change.Status) Status {
	if len(statuses) == 0 {
		return StatusPending
	}
	var pending, accepted, rejected, otherTerminal int
	for _, s := range statuses {
		switch s {
		case change.StatusPending:
			pending++
		case change.StatusAccepted:
			accepted++
		case change.StatusRejected:
			rejected++
		default:
			otherTerminal++
		}
	}
	switch {
	case accepted == len(statuses):
		return StatusAccepted
	case rejected == len(statuses):
		return StatusRejected
	case pending > 0 && (accepted > 0 || rejected > 0 || otherTerminal > 0):
		return StatusMixed
	case pending == len(statuses):
		return StatusPending
	default:
		return StatusMixed
	}
}

// recomputeStatus folds the leaf member statuses (recursing into children
// for parent batches) and stores the result on g.
func (m *Manager) recomputeStatus(g *Group) {
	statuses := m.leafStatuses(g)
	g.Status = Fold(statuses)
	g.UpdatedAt = time.Now()
}

func (m *Manager) leafStatuses(g *Group) []change.Status {
	var out []change.Status
	for _, id := range g.MemberIDs {
		if c, err := m.store.Get(id); err == nil {
			out = append(out, c.Status)
		}
	}
	for _, childID := range g.ChildGroupIDs {
		if child, ok := m.groups[childID]; ok {
			out = append(out, m.leafStatuses(child)...)
		}
	}
	return out
}

// newGroup constructs and registers a leaf batch over members.
func (m *Manager) newGroup(members []*change.Change, opType OperationType, strategy GroupingStrategy) *Group {
	ids := make([]string, 0, len(members))
	positions := make([]position.Position, 0, len(members))
	for _, c := range members {
		ids = append(ids, c.ID)
		positions = append(positions, c.Position)
	}
	sort.Strings(ids)
	now := time.Now()
	g := &Group{
		GroupID:          m.newID(),
		OperationType:    opType,
		GroupingStrategy: strategy,
		PositionRange:    position.HullAll(positions),
		Priority:         PriorityMedium,
		Status:           StatusPending,
		MemberIDs:        ids,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	m.groups[g.GroupID] = g
	for _, id := range ids {
		gid := g.GroupID
		_ = m.store.SetGroup(id, &gid)
	}
	m.bus.Publish(eventbus.TopicBatchCreated, g.GroupID)
	return g
}

// AutoGroup partitions changes into one or more batches of opType under
// strategy, splitting into a parent/children hierarchy whenever the result
// would exceed cfg.MaxChangesPerGroup.
func (m *Manager) AutoGroup(changes []*change.Change, opType OperationType, strategy GroupingStrategy, cfg Config) *Group {
	if len(changes) == 0 {
		return nil
	}
	if len(changes) <= cfg.MaxChangesPerGroup {
		return m.newGroup(changes, opType, strategy)
	}

	sorted := append([]*change.Change(nil), changes...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Position.Start < sorted[j].Position.Start })

	var children []*Group
	for start := 0; start < len(sorted); start += cfg.MaxChangesPerGroup {
		end := start + cfg.MaxChangesPerGroup
		if end > len(sorted) {
			end = len(sorted)
		}
		children = append(children, m.newGroup(sorted[start:end], opType, strategy))
	}

	childIDs := make([]string, 0, len(children))
	positions := make([]position.Position, 0, len(children))
	for _, c := range children {
		childIDs = append(childIDs, c.GroupID)
		positions = append(positions, c.PositionRange)
	}

	now := time.Now()
	parent := &Group{
		GroupID:          m.newID(),
		OperationType:    opType,
		GroupingStrategy: strategy,
		PositionRange:    position.HullAll(positions),
		Priority:         PriorityMedium,
		Status:           StatusPending,
		ChildGroupIDs:    childIDs,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	m.groups[parent.GroupID] = parent
	for _, c := range children {
		parentID := parent.GroupID
		c.ParentGroupID = &parentID
	}
	m.bus.Publish(eventbus.TopicBatchCreated, parent.GroupID)
	return parent
}

// AcceptBatch transitions every Pending member (recursing depth-first into
// children) to Accepted. A member that fails its transition reverts only
// itself; siblings still proceed.
func (m *Manager) AcceptBatch(groupID, actor, reason string) error {
	return m.bulkTransition(groupID, change.StatusAccepted, actor, reason)
}

// RejectBatch transitions every Pending member to Rejected.
func (m *Manager) RejectBatch(groupID, actor, reason string) error {
	return m.bulkTransition(groupID, change.StatusRejected, actor, reason)
}

func (m *Manager) bulkTransition(groupID string, target change.Status, actor, reason string) error {
	g, ok := m.groups[groupID]
	if !ok {
		return pipelineerr.New(pipelineerr.CodeUnknownID, "no such batch")
	}

	for _, childID := range g.ChildGroupIDs {
		_ = m.bulkTransition(childID, target, actor, reason)
	}

	for _, id := range g.MemberIDs {
		c, err := m.store.Get(id)
		if err != nil || c.Status != change.StatusPending {
			continue
		}
		if _, _, err := m.store.UpdateStatus(id, target, actor, reason); err != nil {
			// this member's transition failed; it keeps its prior status,
			// siblings still proceed.
			continue
		}
		if target == change.StatusAccepted {
			m.bus.Publish(eventbus.TopicChangeAccepted, id)
		} else {
			m.bus.Publish(eventbus.TopicChangeRejected, id)
		}
	}

	m.recomputeStatus(g)
	if g.Status.Terminal() {
		m.bus.Publish(eventbus.TopicBatchFinalized, g.GroupID)
	}
	m.bus.Drain()
	return nil
}

// Terminal reports whether s is a terminal batch status.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// PartialReview applies individual per-change decisions within groupID,
// leaving the batch's derived status as whatever Fold computes afterward
//.
func (m *Manager) PartialReview(groupID string, decisions []PerChangeDecision) error {
	g, ok := m.groups[groupID]
	if !ok {
		return pipelineerr.New(pipelineerr.CodeUnknownID, "no such batch")
	}

	for _, d := range decisions {
		target := change.StatusRejected
		if d.Accept {
			target = change.StatusAccepted
		}
		c, err := m.store.Get(d.ChangeID)
		if err != nil || c.Status != change.StatusPending {
			continue
		}
		if _, _, err := m.store.UpdateStatus(d.ChangeID, target, d.Actor, d.Reason); err != nil {
			continue
		}
		if target == change.StatusAccepted {
			m.bus.Publish(eventbus.TopicChangeAccepted, d.ChangeID)
		} else {
			m.bus.Publish(eventbus.TopicChangeRejected, d.ChangeID)
		}
	}

	m.recomputeStatus(g)
	if g.Status.Terminal() {
		m.bus.Publish(eventbus.TopicBatchFinalized, g.GroupID)
	}
	m.bus.Drain()
	return nil
}
