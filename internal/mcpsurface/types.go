// Package mcpsurface exposes internal/core's submit/accept/reject/query/
// export/register_producer operations as MCP tools. The request/response
// shapes below are the tool catalog's wire-level input/output types.
package mcpsurface

import (
	"time"

	"github.com/writerr/changepipeline/internal/core"
)

// SubmitChangeInput is the wire shape of one proposed edit.
type SubmitChangeInput struct {
	Type        string  `json:"type" jsonschema:"Insert, Delete, Replace, or Move"`
	Start       int     `json:"start" jsonschema:"byte offset where the edit begins"`
	End         int     `json:"end" jsonschema:"byte offset where the edit ends (exclusive)"`
	Before      string  `json:"before,omitempty" jsonschema:"literal text being replaced or removed"`
	After       string  `json:"after,omitempty" jsonschema:"literal replacement or inserted text"`
	Category    string  `json:"category" jsonschema:"grammar, style, clarity, structure, formatting, spelling, content, or other"`
	Source      string  `json:"source" jsonschema:"identifier of the producer proposing this change"`
	Confidence  float64 `json:"confidence" jsonschema:"producer-declared confidence in [0,1]"`
	Priority    int     `json:"priority,omitempty" jsonschema:"1 (highest) through 5 (lowest); defaults to 3"`
	Provider    string  `json:"provider,omitempty"`
	Model       string  `json:"model,omitempty"`
	Mode        string  `json:"mode,omitempty"`
	UserPrompt  string  `json:"user_prompt,omitempty"`
}

// SubmitParams is the submit tool's input.
type SubmitParams struct {
	Changes            []SubmitChangeInput `json:"changes"`
	SessionID           string              `json:"session_id,omitempty"`
	CreateSession       bool                `json:"create_session,omitempty"`
	BypassValidation    bool                `json:"bypass_validation,omitempty"`
	GroupChanges        bool                `json:"group_changes,omitempty"`
	GroupingStrategy    string              `json:"grouping_strategy,omitempty" jsonschema:"Proximity, OperationType, Semantic, TimeWindow, Mixed, or None; defaults to Proximity"`
	EditorialOperation  string              `json:"editorial_operation,omitempty"`
	PluginID            string              `json:"plugin_id,omitempty" jsonschema:"registered producer id, if any, from register_producer"`
}

// SubmitResult is the submit tool's output, matching core.SubmissionResult.
type SubmitResult struct {
	Success           bool                   `json:"success"`
	SessionID         string                 `json:"session_id,omitempty"`
	ChangeIDs         []string               `json:"change_ids"`
	Errors            []string               `json:"errors,omitempty"`
	Warnings          []string               `json:"warnings,omitempty"`
	ChangeGroupID     string                 `json:"change_group_id,omitempty"`
	ValidationSummary core.ValidationSummary `json:"validation_summary"`
}

// DecisionParams is the shared accept/reject tool input.
type DecisionParams struct {
	ChangeOrBatchID string `json:"change_or_batch_id" jsonschema:"a change id or a batch group id"`
	Actor           string `json:"actor"`
	Reason          string `json:"reason,omitempty"`
}

// DecisionResult is the accept/reject tool output.
type DecisionResult struct {
	Success   bool      `json:"success"`
	ChangeIDs []string  `json:"change_ids"`
	Status    string    `json:"status"`
	Unchanged bool      `json:"unchanged,omitempty"`
	At        time.Time `json:"at"`
}

// QueryParams is the query tool's input: a flat predicate set rather than
// the in-process fluent Builder, since MCP tool arguments are a flat JSON
// object.
type QueryParams struct {
	SessionID          string   `json:"session_id,omitempty"`
	Category            string   `json:"category,omitempty"`
	Source               string   `json:"source,omitempty"`
	Status                string   `json:"status,omitempty"`
	MinConfidence         float64  `json:"min_confidence,omitempty"`
	WithValidationWarnings bool     `json:"with_validation_warnings,omitempty"`
	WithSecurityThreats    bool     `json:"with_security_threats,omitempty"`
	TextContains           string   `json:"text_contains,omitempty"`
	Fuzzy                  bool     `json:"fuzzy,omitempty"`
	SortBy                 string   `json:"sort_by,omitempty"`
	Descending             bool     `json:"descending,omitempty"`
	Limit                  int      `json:"limit,omitempty"`
}

// QueryResult is the query tool's output.
type QueryResult struct {
	ChangeIDs []string `json:"change_ids"`
}

// ExportParams is the export tool's input.
type ExportParams struct {
	QueryParams
	Format string `json:"format" jsonschema:"Json, Csv, or Markdown"`
}

// ExportResult is the export tool's output: the rendered bytes as a string,
// since MCP tool results are JSON.
type ExportResult struct {
	Format  string `json:"format"`
	Content string `json:"content"`
}

// RegisterProducerParams is a registered plugin's capability manifest.
type RegisterProducerParams struct {
	PluginID         string   `json:"plugin_id"`
	Name             string   `json:"name"`
	Version          string   `json:"version"`
	SecurityHash     string   `json:"security_hash"`
	Operations       []string `json:"operations,omitempty"`
	Providers        []string `json:"providers,omitempty"`
	MaxBatchSize     int      `json:"max_batch_size,omitempty"`
	SupportsRealtime bool     `json:"supports_realtime,omitempty"`
	FileTypes        []string `json:"file_types,omitempty"`
	Permissions      []string `json:"permissions,omitempty"`
}

// RegisterProducerResult mirrors core.AuthContext.
type RegisterProducerResult struct {
	PluginID string    `json:"plugin_id"`
	Status   string    `json:"status"`
	IssuedAt time.Time `json:"issued_at"`
}
