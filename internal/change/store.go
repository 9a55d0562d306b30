package change

import (
	"sort"
	"sync"
	"time"

	"github.com/writerr/changepipeline/internal/pipelineerr"
)

// TimeBucket buckets a timestamp to the minute, the store's secondary index
// granularity; finer-grained range queries scan within the matched buckets.
func TimeBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04")
}

// Store is the typed, indexed, content-addressed repository of Change
// records. All mutations are single-writer serialized via mu;
// Snapshot-returning reads hand back Clone()s so callers never observe
// partial mutation. Its get/update-with-guard/list-by-filter access
// pattern is generalized into the multi-index shape this domain requires,
// with a plain status DAG in place of a single tick-based
// optimistic-concurrency field.
type Store struct {
	mu sync.Mutex

	byID map[string]*Change

	bySession  map[string][]string
	bySource   map[string][]string
	byModel    map[string][]string
	byProvider map[string][]string
	byMode     map[string][]string
	byCategory map[Category][]string
	byStatus   map[Status][]string
	byBucket   map[string][]string
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		byID:       make(map[string]*Change),
		bySession:  make(map[string][]string),
		bySource:   make(map[string][]string),
		byModel:    make(map[string][]string),
		byProvider: make(map[string][]string),
		byMode:     make(map[string][]string),
		byCategory: make(map[Category][]string),
		byStatus:   make(map[Status][]string),
		byBucket:   make(map[string][]string),
	}
}

func (s *Store) index(c *Change) {
	s.bySession[c.SessionID] = append(s.bySession[c.SessionID], c.ID)
	s.bySource[c.Source] = append(s.bySource[c.Source], c.ID)
	s.byCategory[c.Category] = append(s.byCategory[c.Category], c.ID)
	s.byStatus[c.Status] = append(s.byStatus[c.Status], c.ID)
	s.byBucket[TimeBucket(c.Timestamp)] = append(s.byBucket[TimeBucket(c.Timestamp)], c.ID)
	if c.Attribution != nil {
		if c.Attribution.Model != "" {
			s.byModel[c.Attribution.Model] = append(s.byModel[c.Attribution.Model], c.ID)
		}
		if c.Attribution.Provider != "" {
			s.byProvider[c.Attribution.Provider] = append(s.byProvider[c.Attribution.Provider], c.ID)
		}
		if c.Attribution.Mode != "" {
			s.byMode[c.Attribution.Mode] = append(s.byMode[c.Attribution.Mode], c.ID)
		}
	}
}

func removeFromIndex(idx map[string][]string, key, id string) {
	ids := idx[key]
	for i, existing := range ids {
		if existing == id {
			idx[key] = append(ids[:i], ids[i+1:]...)
			return
		}
	}
}

func (s *Store) removeStatusEntry(status Status, id string) {
	ids := s.byStatus[status]
	for i, existing := range ids {
		if existing == id {
			s.byStatus[status] = append(ids[:i], ids[i+1:]...)
			return
		}
	}
}

// Insert adds a new Change. Returns CodeDuplicateId if the id already exists.
func (s *Store) Insert(c *Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[c.ID]; exists {
		return pipelineerr.New(pipelineerr.CodeDuplicateID, "change id already exists").WithChangeIDs(c.ID)
	}

	stored := c.Clone()
	s.byID[c.ID] = stored
	s.index(stored)
	return nil
}

// Get returns a clone of the change with id, or CodeUnknownId.
func (s *Store) Get(id string) (*Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return nil, pipelineerr.New(pipelineerr.CodeUnknownID, "no such change").WithChangeIDs(id)
	}
	return c.Clone(), nil
}

// UpdateStatus transitions a change's status, appending an audit entry.
// Transitioning into the change's current status is a no-op: it returns the
// current change with changed=false and appends no audit entry, rather than
// erroring, so a repeated Accept/Reject on an already-decided change is
// idempotent. The caller (core.Core.transition) turns changed=false into
// Outcome.Unchanged and skips publishing an event for it.
func (s *Store) UpdateStatus(id string, newStatus Status, actor, reason string) (*Change, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return nil, false, pipelineerr.New(pipelineerr.CodeUnknownID, "no such change").WithChangeIDs(id)
	}

	if c.Status == newStatus {
		return c.Clone(), false, nil
	}

	if !CanTransition(c.Status, newStatus) {
		return nil, false, pipelineerr.New(pipelineerr.CodeIllegalTransition, "illegal status transition").
			WithChangeIDs(id).
			WithHint("status " + string(c.Status) + " cannot move to " + string(newStatus))
	}

	old := c.Status
	c.Status = newStatus
	c.Audit = append(c.Audit, AuditEntry{Actor: actor, Action: "transition:" + string(newStatus), At: time.Now(), Reason: reason})
	s.removeStatusEntry(old, id)
	s.byStatus[newStatus] = append(s.byStatus[newStatus], id)

	return c.Clone(), true, nil
}

// Supersede marks oldID as Superseded by newID, appending an audit entry
// naming the contributors. newID must already exist in the store.
func (s *Store) Supersede(oldID, newID string, actor string, contributors ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.byID[oldID]
	if !ok {
		return pipelineerr.New(pipelineerr.CodeUnknownID, "no such change").WithChangeIDs(oldID)
	}
	if _, ok := s.byID[newID]; !ok {
		return pipelineerr.New(pipelineerr.CodeUnknownID, "surviving change does not exist").WithChangeIDs(newID)
	}
	if old.Status.Terminal() {
		return pipelineerr.New(pipelineerr.CodeIllegalTransition, "cannot supersede a terminal change").WithChangeIDs(oldID)
	}

	oldStatus := old.Status
	old.Status = StatusSuperseded
	id := newID
	old.SupersededBy = &id
	reason := "superseded by " + newID
	if len(contributors) > 0 {
		reason += " among contributors"
		for _, contributor := range contributors {
			reason += " " + contributor
		}
	}
	old.Audit = append(old.Audit, AuditEntry{Actor: actor, Action: "superseded", At: time.Now(), Reason: reason})
	s.removeStatusEntry(oldStatus, oldID)
	s.byStatus[StatusSuperseded] = append(s.byStatus[StatusSuperseded], oldID)

	return nil
}

// AppendAudit adds an audit entry to id without changing its status, used
// to record a surviving change's absorption of a contributor it superseded.
// Returns a clone of the updated change so callers can keep their own
// in-memory copy in sync with what was persisted.
func (s *Store) AppendAudit(id, actor, action, reason string) (*Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return nil, pipelineerr.New(pipelineerr.CodeUnknownID, "no such change").WithChangeIDs(id)
	}
	c.Audit = append(c.Audit, AuditEntry{Actor: actor, Action: action, At: time.Now(), Reason: reason})
	return c.Clone(), nil
}

// SetGroup assigns a batch group id to a change.
func (s *Store) SetGroup(id string, groupID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return pipelineerr.New(pipelineerr.CodeUnknownID, "no such change").WithChangeIDs(id)
	}
	c.GroupID = groupID
	return nil
}

// SetConflictGroup assigns a conflict-group id to a change left Pending
// under the UserChoice consolidation strategy.
func (s *Store) SetConflictGroup(id string, groupID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return pipelineerr.New(pipelineerr.CodeUnknownID, "no such change").WithChangeIDs(id)
	}
	c.ConflictGroupID = groupID
	return nil
}

// SetDependsOn records the Sequential-strategy ordering dependency.
func (s *Store) SetDependsOn(id string, dependsOn []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return pipelineerr.New(pipelineerr.CodeUnknownID, "no such change").WithChangeIDs(id)
	}
	c.DependsOn = append([]string(nil), dependsOn...)
	return nil
}

// Delete removes a change entirely. It does not check the change's status;
// keeping Pending changes out of eviction is left to callers.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return pipelineerr.New(pipelineerr.CodeUnknownID, "no such change").WithChangeIDs(id)
	}
	delete(s.byID, id)
	removeFromIndex(s.bySession, c.SessionID, id)
	removeFromIndex(s.bySource, c.Source, id)
	s.removeStatusEntry(c.Status, id)
	cat := s.byCategory[c.Category]
	for i, existing := range cat {
		if existing == id {
			s.byCategory[c.Category] = append(cat[:i], cat[i+1:]...)
			break
		}
	}
	removeFromIndex(s.byBucket, TimeBucket(c.Timestamp), id)
	return nil
}

// BySession returns clones of every change in a session, ordered by
// (timestamp, id) for a stable ordering guarantee.
func (s *Store) BySession(sessionID string) []*Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.bySession[sessionID]
	out := make([]*Change, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.byID[id]; ok {
			out = append(out, c.Clone())
		}
	}
	sortByTimestampThenID(out)
	return out
}

// ByStatus returns clones of every change with the given status.
func (s *Store) ByStatus(status Status) []*Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byStatus[status]
	out := make([]*Change, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.byID[id]; ok {
			out = append(out, c.Clone())
		}
	}
	sortByTimestampThenID(out)
	return out
}

// PendingInSession returns pending changes for a session ordered by
// (timestamp, id).
func (s *Store) PendingInSession(sessionID string) []*Change {
	all := s.BySession(sessionID)
	out := make([]*Change, 0, len(all))
	for _, c := range all {
		if c.Status == StatusPending {
			out = append(out, c)
		}
	}
	return out
}

// All returns a clone of every change in the store, ordered by
// (timestamp, id). Used by the Query subsystem to mirror the store into its
// index and by the State Manager to build a session snapshot.
func (s *Store) All() []*Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Change, 0, len(s.byID))
	for _, c := range s.byID {
		out = append(out, c.Clone())
	}
	sortByTimestampThenID(out)
	return out
}

// Count returns the number of changes currently in the store.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// Load replaces the store's contents wholesale with changes (used by the
// State Manager on session restore; bypasses Insert's duplicate check since
// this is a fresh load, not a live submission).
func (s *Store) Load(changes []*Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]*Change, len(changes))
	s.bySession = make(map[string][]string)
	s.bySource = make(map[string][]string)
	s.byModel = make(map[string][]string)
	s.byProvider = make(map[string][]string)
	s.byMode = make(map[string][]string)
	s.byCategory = make(map[Category][]string)
	s.byStatus = make(map[Status][]string)
	s.byBucket = make(map[string][]string)
	for _, c := range changes {
		stored := c.Clone()
		s.byID[stored.ID] = stored
		s.index(stored)
	}
}

func sortByTimestampThenID(cs []*Change) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Timestamp.Equal(cs[j].Timestamp) {
			return cs[i].ID < cs[j].ID
		}
		return cs[i].Timestamp.Before(cs[j].Timestamp)
	})
}
