// Package batch implements the batch manager: semantic grouping of
// changes into hierarchical batches with transactional bulk lifecycle
// operations, generalized from a single parent/child activation tree into
// a ChangeGroup hierarchy.
package batch

import (
	"time"

	"github.com/writerr/changepipeline/internal/position"
)

// OperationType is the closed set of batch operation kinds.
type OperationType string

const (
	OperationCopyEditPass          OperationType = "CopyEditPass"
	OperationProofreading          OperationType = "Proofreading"
	OperationDevelopmentalFeedback OperationType = "DevelopmentalFeedback"
	OperationStyleRefinement       OperationType = "StyleRefinement"
	OperationFactChecking          OperationType = "FactChecking"
	OperationFormatting            OperationType = "Formatting"
	OperationContentExpansion      OperationType = "ContentExpansion"
	OperationContentReduction      OperationType = "ContentReduction"
	OperationRewriting             OperationType = "Rewriting"
	OperationCustom                OperationType = "Custom"
)

// GroupingStrategy selects how changes are auto-grouped into batches.
type GroupingStrategy string

const (
	GroupingProximity     GroupingStrategy = "Proximity"
	GroupingOperationType GroupingStrategy = "OperationType"
	GroupingSemantic      GroupingStrategy = "Semantic"
	GroupingTimeWindow    GroupingStrategy = "TimeWindow"
	GroupingMixed         GroupingStrategy = "Mixed"
	GroupingNone          GroupingStrategy = "None"
)

// Scope is the textual extent a batch claims to cover.
type Scope string

const (
	ScopeParagraph Scope = "paragraph"
	ScopeSection   Scope = "section"
	ScopeDocument  Scope = "document"
	ScopeSelection Scope = "selection"
)

// Priority is the batch's editorial priority.
type Priority string

const (
	PriorityHigh   Priority = "High"
	PriorityMedium Priority = "Medium"
	PriorityLow    Priority = "Low"
)

// Status is the derived lifecycle status of a batch.
type Status string

const (
	StatusPending  Status = "Pending"
	StatusAccepted Status = "Accepted"
	StatusRejected Status = "Rejected"
	StatusMixed    Status = "Mixed"
)

// Group is the ChangeGroup (Batch) record.
type Group struct {
	GroupID              string
	OperationType        OperationType
	OperationDescription string
	GroupingStrategy     GroupingStrategy
	Scope                Scope
	PositionRange        position.Position
	Priority             Priority
	Status               Status
	ParentGroupID        *string
	ChildGroupIDs        []string
	WriterNotes          string
	ConfidenceLevel      float64

	MemberIDs []string // direct change members (leaf batches only)
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Config bounds auto-grouping.
type Config struct {
	MaxChangesPerGroup int
	ProximityThreshold int // bytes, shared with cluster.Config's meaning
	TimeWindow         time.Duration
}

// DefaultConfig matches the magnitudes implied elsewhere in the pipeline.
func DefaultConfig() Config {
	return Config{
		MaxChangesPerGroup: 25,
		ProximityThreshold: 200,
		TimeWindow:         5 * time.Minute,
	}
}

// PerChangeDecision is one entry of a partial_review call.
type PerChangeDecision struct {
	ChangeID string
	Accept   bool
	Actor    string
	Reason   string
}
