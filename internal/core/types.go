package core

import (
	"time"

	"github.com/writerr/changepipeline/internal/batch"
	"github.com/writerr/changepipeline/internal/change"
	"github.com/writerr/changepipeline/internal/consolidate"
	"github.com/writerr/changepipeline/internal/position"
)

// ChangeInput is one caller-supplied edit proposal, carrying everything a
// producer knows about an edit before Core assigns it an id and admits it
// to validation.
type ChangeInput struct {
	Type        change.Type
	Position    position.Position
	Content     change.Content
	Category    change.Category
	Source      string
	Confidence  float64
	Attribution *change.Attribution
	Priority    int // 1 (highest) .. 5 (lowest); 0 defaults to 3
	Automated   bool
}

// SubmitOptions controls how Submit admits, validates, and groups a batch
// of incoming changes.
type SubmitOptions struct {
	SessionID                  string
	CreateSession              bool
	StrictValidation           bool // not read by Submit; validation runs unless BypassValidation is set
	BypassValidation           bool
	GroupChanges               bool
	GroupingConfig             *batch.Config
	GroupingStrategy           batch.GroupingStrategy
	EditorialOperation         batch.OperationType
	CustomOperationDescription string
	ConversationContext        string
	ConsolidationTimeoutMs     int
	EnableConsolidation        bool
	CompatiblePlugins          []string
	ConflictResolution         *consolidate.Policy
	SemanticContext            *consolidate.SemanticContext
	MaxRetries                 int
	SubmissionID               string // idempotency key for retried submissions
}

// ValidationMode distinguishes the editorial-function registry's stricter
// checks from a plain producer submission.
type ValidationMode string

const (
	ValidationModeStandard       ValidationMode = "Standard"
	ValidationModeEditorialEngine ValidationMode = "EditorialEngine"
)

// ValidationSummary reports what validation ran against a submission.
type ValidationSummary struct {
	Total                 int            `json:"total"`
	Provider               string         `json:"provider,omitempty"`
	Model                  string         `json:"model,omitempty"`
	ValidationMode         ValidationMode `json:"validation_mode"`
	SecurityChecksEnabled  bool           `json:"security_checks_enabled"`
}

// SubmissionResult is Submit's return value.
type SubmissionResult struct {
	Success           bool              `json:"success"`
	SessionID         string            `json:"session_id,omitempty"`
	ChangeIDs         []string          `json:"change_ids"`
	Errors            []string          `json:"errors,omitempty"`
	Warnings          []string          `json:"warnings,omitempty"`
	ChangeGroupID     string            `json:"change_group_id,omitempty"`
	GroupingResult    *batch.Group      `json:"grouping_result,omitempty"`
	ValidationSummary ValidationSummary `json:"validation_summary"`
}

// Outcome is Accept's and Reject's return value. Unchanged reports that the
// targeted change(s) were already at the requested status: the call
// succeeded but was a no-op, and no event was published for it — callers
// that need to distinguish a real transition from a repeat of one already
// applied should check this rather than assume Success alone means new work
// happened.
type Outcome struct {
	Success   bool          `json:"success"`
	ChangeIDs []string      `json:"change_ids"`
	Status    change.Status `json:"status"`
	Unchanged bool          `json:"unchanged,omitempty"`
	At        time.Time     `json:"at"`
}
