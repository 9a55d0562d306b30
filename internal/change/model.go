// Package change defines the Change record and the in-memory, indexed
// change store that owns it. The model shape — immutable body, mutable
// status/group/audit, optimistic-concurrency-style transition guards — is
// generalized from a single tick-based "OPEN" workflow into a four-type,
// status-DAG change model.
package change

import (
	"time"

	"github.com/writerr/changepipeline/internal/position"
)

// Type is the kind of edit a Change proposes.
type Type string

const (
	TypeInsert  Type = "Insert"
	TypeDelete  Type = "Delete"
	TypeReplace Type = "Replace"
	TypeMove    Type = "Move"
)

// Category classifies the editorial intent of a Change.
type Category string

const (
	CategoryGrammar    Category = "grammar"
	CategoryStyle      Category = "style"
	CategoryClarity    Category = "clarity"
	CategoryStructure  Category = "structure"
	CategoryFormatting Category = "formatting"
	CategorySpelling   Category = "spelling"
	CategoryContent    Category = "content"
	CategoryOther      Category = "other"
)

// Status is the lifecycle state of a Change. Pending is the only
// non-terminal state; Accepted/Rejected/Superseded never revert.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusAccepted   Status = "Accepted"
	StatusRejected   Status = "Rejected"
	StatusSuperseded Status = "Superseded"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected || s == StatusSuperseded
}

// validTransitions encodes the status DAG: Pending may move to
// any terminal state; terminal states never revert.
var validTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusAccepted:   true,
		StatusRejected:   true,
		StatusSuperseded: true,
	},
}

// CanTransition reports whether from -> to is a legal status transition.
func CanTransition(from, to Status) bool {
	if from == to {
		return true // idempotent no-op transitions are allowed by the caller, not by CanTransition itself
	}
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// Content holds the literal before/after text of an edit. Exactly one of
// Before/After may be empty for Insert/Delete.
type Content struct {
	Before string `json:"before"`
	After  string `json:"after"`
}

// Attribution records the producer-side context of an AI-authored change.
type Attribution struct {
	Provider       string `json:"provider,omitempty"`
	Model          string `json:"model,omitempty"`
	Mode           string `json:"mode,omitempty"`
	Instructions   string `json:"instructions,omitempty"`
	Constraints    string `json:"constraints,omitempty"`
	UserPrompt     string `json:"user_prompt,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
}

// AuditEntry is one append-only record of an action taken against a Change.
type AuditEntry struct {
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// Change is an atomic, immutable (except Status/GroupID/Audit) edit
// proposal.
type Change struct {
	ID        string   `json:"id"`
	SessionID string   `json:"session_id"`
	Type      Type     `json:"type"`
	Position  position.Position `json:"position"`
	Content   Content  `json:"content"`
	Category  Category `json:"category"`
	Source    string   `json:"source"`

	Confidence float64 `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
	Status     Status    `json:"status"`

	Attribution *Attribution `json:"attribution,omitempty"`
	GroupID     *string      `json:"group_id,omitempty"`

	// SupersededBy names the surviving change when Status == Superseded.
	SupersededBy *string `json:"superseded_by,omitempty"`
	// DependsOn names changes that must be resolved first under the
	// Sequential consolidation strategy.
	DependsOn []string `json:"depends_on,omitempty"`
	// ConflictGroupID groups mutually-conflicting Pending changes left
	// unresolved under the UserChoice strategy.
	ConflictGroupID *string `json:"conflict_group_id,omitempty"`

	// Priority is the submitting producer's priority, 1 (highest) to 5
	// (lowest); used by PriorityWins conflict resolution and resource pool
	// preemption.
	Priority int `json:"priority"`
	// Automated marks a change produced without direct user initiation,
	// consulted by PriorityWins tie-breaking.
	Automated bool `json:"automated"`
	// CompatiblePlugins restricts which editorial-function plugins may act
	// on this change further, if non-empty.
	CompatiblePlugins []string `json:"compatible_plugins,omitempty"`

	Audit []AuditEntry `json:"audit"`
}

// Clone returns a deep-enough copy safe for a reader to retain across
// mutations to the store.
func (c *Change) Clone() *Change {
	cp := *c
	if c.Attribution != nil {
		attr := *c.Attribution
		cp.Attribution = &attr
	}
	if c.GroupID != nil {
		g := *c.GroupID
		cp.GroupID = &g
	}
	if c.SupersededBy != nil {
		s := *c.SupersededBy
		cp.SupersededBy = &s
	}
	if c.ConflictGroupID != nil {
		g := *c.ConflictGroupID
		cp.ConflictGroupID = &g
	}
	cp.DependsOn = append([]string(nil), c.DependsOn...)
	cp.CompatiblePlugins = append([]string(nil), c.CompatiblePlugins...)
	cp.Audit = append([]AuditEntry(nil), c.Audit...)
	return &cp
}

// MergeCompatible reports whether two categories can be absorbed into a
// single merged change under AutoMerge:
// grammar-like fixes merge freely with each other, but never with a
// structural rewrite.
func MergeCompatible(a, b Category) bool {
	structural := func(c Category) bool {
		return c == CategoryStructure || c == CategoryContent
	}
	if structural(a) != structural(b) {
		return false
	}
	return true
}
