package mcpsurface

import (
	"github.com/writerr/changepipeline/internal/batch"
	"github.com/writerr/changepipeline/internal/change"
	"github.com/writerr/changepipeline/internal/core"
	"github.com/writerr/changepipeline/internal/position"
	"github.com/writerr/changepipeline/internal/query"
)

func toChangeInput(in SubmitChangeInput) core.ChangeInput {
	ci := core.ChangeInput{
		Type:       change.Type(in.Type),
		Position:   position.Position{Start: in.Start, End: in.End},
		Content:    change.Content{Before: in.Before, After: in.After},
		Category:   change.Category(in.Category),
		Source:     in.Source,
		Confidence: in.Confidence,
		Priority:   in.Priority,
	}
	if in.Provider != "" || in.Model != "" || in.Mode != "" || in.UserPrompt != "" {
		ci.Attribution = &change.Attribution{
			Provider:   in.Provider,
			Model:      in.Model,
			Mode:       in.Mode,
			UserPrompt: in.UserPrompt,
		}
	}
	return ci
}

func toSubmitResult(r core.SubmissionResult) SubmitResult {
	return SubmitResult{
		Success:           r.Success,
		SessionID:         r.SessionID,
		ChangeIDs:         r.ChangeIDs,
		Errors:            r.Errors,
		Warnings:          r.Warnings,
		ChangeGroupID:     r.ChangeGroupID,
		ValidationSummary: r.ValidationSummary,
	}
}

func toDecisionResult(o core.Outcome) DecisionResult {
	return DecisionResult{
		Success:   o.Success,
		ChangeIDs: o.ChangeIDs,
		Status:    string(o.Status),
		Unchanged: o.Unchanged,
		At:        o.At,
	}
}

// buildQuery translates a flat QueryParams into the fluent Builder, chained
// the same way internal/query's own callers chain it in-process.
func buildQuery(c *core.Core, p QueryParams) *query.Builder {
	b := c.Query()
	if p.Category != "" {
		b = b.ByCategory(p.Category)
	}
	if p.Source != "" {
		b = b.BySource(p.Source)
	}
	if p.Status != "" {
		b = b.ByStatus(p.Status)
	}
	if p.SessionID != "" {
		b = b.BySession(p.SessionID)
	}
	if p.MinConfidence > 0 {
		b = b.MinConfidence(p.MinConfidence)
	}
	if p.WithValidationWarnings {
		b = b.WithValidationWarnings()
	}
	if p.WithSecurityThreats {
		b = b.WithSecurityThreats()
	}
	if p.TextContains != "" {
		b = b.TextContains(query.TextSearch{Query: p.TextContains, Fuzzy: p.Fuzzy})
	}
	if p.SortBy != "" {
		dir := query.SortAscending
		if p.Descending {
			dir = query.SortDescending
		}
		b = b.SortBy(p.SortBy, dir)
	}
	if p.Limit > 0 {
		b = b.Limit(p.Limit)
	}
	return b
}

func groupingStrategyFor(s string) batch.GroupingStrategy {
	if s == "" {
		return batch.GroupingProximity
	}
	return batch.GroupingStrategy(s)
}
