// Package validate implements typed validation and sanitization of
// incoming change proposals ahead of consolidation. Pure and idempotent:
// the same proposal set and options always produce the same
// ValidationReport. Structural/required-field checks run independently,
// each contributing its own reason code, and are collected into a
// per-change, partial-success report rather than failing the whole batch
// on the first violation.
package validate

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/writerr/changepipeline/internal/change"
	"github.com/writerr/changepipeline/internal/pipelineerr"
	"github.com/writerr/changepipeline/internal/position"
)

// Proposal is the raw, not-yet-admitted shape of one change in a submission.
type Proposal struct {
	ID          string
	SessionID   string
	Type        change.Type
	Position    position.Position
	Content     change.Content
	Category    change.Category
	Source      string
	Confidence  float64
	Attribution *change.Attribution
}

// PolicyViolation reason codes.
const (
	ReasonForbiddenPhrase = "forbidden_phrase"
	ReasonForbiddenAction = "forbidden_action"
)

// Policy configures per-producer validation rules.
type Policy struct {
	// ConfidenceFloor: changes below this are dropped with a warning, not
	// an error.
	ConfidenceFloor float64
	// MaxAttributionFieldBytes caps Instructions/UserPrompt length
	// (default 4 KiB).
	MaxAttributionFieldBytes int
	// RedactSensitiveData: true redacts matches with "[REDACTED]"; false
	// rejects the change outright.
	RedactSensitiveData bool
	// ForbiddenPhrases are case-insensitive substrings of Content.After
	// that cause outright rejection.
	ForbiddenPhrases []string
	// ForbiddenActions are producer-declared action names disallowed for
	// this producer (checked against Attribution.Mode).
	ForbiddenActions []string
}

// DefaultMaxAttributionFieldBytes is the default attribution field cap.
const DefaultMaxAttributionFieldBytes = 4 * 1024

// DefaultPolicy returns a permissive policy matching the stated
// defaults.
func DefaultPolicy() Policy {
	return Policy{
		ConfidenceFloor:          0,
		MaxAttributionFieldBytes: DefaultMaxAttributionFieldBytes,
		RedactSensitiveData:      true,
	}
}

// Warning is a non-fatal observation attached to a proposal that was still
// accepted (or dropped without being a policy violation).
type Warning struct {
	ProposalIndex int
	Code          string
	Message       string
}

// Violation is a fatal, per-change rejection.
type Violation struct {
	ProposalIndex int
	Code          pipelineerr.Code
	Message       string
}

// Redaction records a sensitive-data match that was redacted rather than
// rejected.
type Redaction struct {
	ProposalIndex int
	Field         string
	Count         int
}

// AcceptedChange is a Proposal that passed validation, with any redactions
// already applied and any missing id/timestamp left for the caller
// (consolidation engine) to fill in, since validation does not own id
// generation or the clock.
type AcceptedChange struct {
	Proposal Proposal
}

// Report is the output of Validate: a "ValidationReport
// enumerating accepted changes, warnings, violations, and any redactions."
type Report struct {
	Accepted   []AcceptedChange
	Warnings   []Warning
	Violations []Violation
	Redactions []Redaction
}

// sensitivePatterns are heuristic matchers for common secret/PII shapes.
// Grounded on no single pack dependency — no library in the retrieval pack
// implements secret scanning, so this is hand-rolled
// and documented here as the stdlib-justified exception.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),                                   // API-key-shaped tokens
	regexp.MustCompile(`(?i)bearer\s+[a-z0-9._-]{20,}`),                         // bearer tokens
	regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),      // email addresses
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),                                 // US SSN shape
	regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`),                               // credit-card-shaped digit runs
}

// Validate runs structural checks, confidence clamping, attribution
// constraints, sensitive-data scanning, and forbidden-content policy over
// proposals, returning a Report. Validate never mutates proposals; Content
// in AcceptedChange.Proposal reflects any redactions as a new value.
func Validate(proposals []Proposal, policy Policy) Report {
	report := Report{}
	if policy.MaxAttributionFieldBytes <= 0 {
		policy.MaxAttributionFieldBytes = DefaultMaxAttributionFieldBytes
	}

	for i, p := range proposals {
		if v, ok := structuralViolation(i, p); ok {
			report.Violations = append(report.Violations, v)
			continue
		}

		conf := p.Confidence
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}
		if conf != p.Confidence {
			report.Warnings = append(report.Warnings, Warning{ProposalIndex: i, Code: "ConfidenceClamped", Message: "confidence clamped into [0,1]"})
			p.Confidence = conf
		}
		if p.Confidence < policy.ConfidenceFloor {
			report.Warnings = append(report.Warnings, Warning{ProposalIndex: i, Code: "BelowConfidenceFloor", Message: "confidence below producer floor, dropped"})
			continue
		}

		if p.Attribution != nil {
			if v, ok := attributionViolation(i, p, policy); ok {
				report.Violations = append(report.Violations, v)
				continue
			}
		}

		if v, ok := forbiddenContentViolation(i, p, policy); ok {
			report.Violations = append(report.Violations, v)
			continue
		}

		after, redactions := scanAndRedact(p.Content.After, policy.RedactSensitiveData)
		if redactions > 0 && !policy.RedactSensitiveData {
			report.Violations = append(report.Violations, Violation{
				ProposalIndex: i,
				Code:          pipelineerr.CodeSensitiveDataRejected,
				Message:       "content contains sensitive data and producer policy rejects rather than redacts",
			})
			continue
		}
		if redactions > 0 {
			p.Content.After = after
			report.Redactions = append(report.Redactions, Redaction{ProposalIndex: i, Field: "content.after", Count: redactions})
		}

		if p.Attribution != nil {
			instr, instrRedactions := scanAndRedact(p.Attribution.Instructions, policy.RedactSensitiveData)
			prompt, promptRedactions := scanAndRedact(p.Attribution.UserPrompt, policy.RedactSensitiveData)
			if (instrRedactions > 0 || promptRedactions > 0) && !policy.RedactSensitiveData {
				report.Violations = append(report.Violations, Violation{
					ProposalIndex: i,
					Code:          pipelineerr.CodeSensitiveDataRejected,
					Message:       "attribution contains sensitive data and producer policy rejects rather than redacts",
				})
				continue
			}
			if instrRedactions > 0 || promptRedactions > 0 {
				attr := *p.Attribution
				attr.Instructions = instr
				attr.UserPrompt = prompt
				p.Attribution = &attr
				report.Redactions = append(report.Redactions, Redaction{ProposalIndex: i, Field: "attribution", Count: instrRedactions + promptRedactions})
			}
		}

		// Replace with before == after is a no-op; boundary
		// behavior: "dropped with warning NoOp".
		if p.Type == change.TypeReplace && p.Content.Before == p.Content.After {
			report.Warnings = append(report.Warnings, Warning{ProposalIndex: i, Code: "NoOp", Message: "replace with identical before/after dropped"})
			continue
		}

		report.Accepted = append(report.Accepted, AcceptedChange{Proposal: p})
	}

	return report
}

func structuralViolation(i int, p Proposal) (Violation, bool) {
	if err := p.Position.Validate(); err != nil {
		return Violation{ProposalIndex: i, Code: pipelineerr.CodeSchemaInvalid, Message: err.Error()}, true
	}
	switch p.Type {
	case change.TypeInsert:
		if p.Content.Before != "" {
			return Violation{ProposalIndex: i, Code: pipelineerr.CodeSchemaInvalid, Message: "insert must have empty content.before"}, true
		}
	case change.TypeDelete:
		if p.Content.After != "" {
			return Violation{ProposalIndex: i, Code: pipelineerr.CodeSchemaInvalid, Message: "delete must have empty content.after"}, true
		}
	case change.TypeReplace, change.TypeMove:
		// both before and after may be populated
	default:
		return Violation{ProposalIndex: i, Code: pipelineerr.CodeSchemaInvalid, Message: "unknown change type " + string(p.Type)}, true
	}
	if p.Category == "" {
		return Violation{ProposalIndex: i, Code: pipelineerr.CodeSchemaInvalid, Message: "category is required"}, true
	}
	if strings.TrimSpace(p.Source) == "" {
		return Violation{ProposalIndex: i, Code: pipelineerr.CodeSchemaInvalid, Message: "source is required"}, true
	}
	return Violation{}, false
}

func attributionViolation(i int, p Proposal, policy Policy) (Violation, bool) {
	a := p.Attribution
	if !isPrintableToken(a.Provider) || !isPrintableToken(a.Model) || !isPrintableToken(a.Mode) {
		return Violation{ProposalIndex: i, Code: pipelineerr.CodeSchemaInvalid, Message: "attribution provider/model/mode must be printable tokens"}, true
	}
	if len(a.Instructions) > policy.MaxAttributionFieldBytes {
		return Violation{ProposalIndex: i, Code: pipelineerr.CodeSchemaInvalid, Message: "attribution.instructions exceeds max length"}, true
	}
	if len(a.UserPrompt) > policy.MaxAttributionFieldBytes {
		return Violation{ProposalIndex: i, Code: pipelineerr.CodeSchemaInvalid, Message: "attribution.user_prompt exceeds max length"}, true
	}
	return Violation{}, false
}

func isPrintableToken(s string) bool {
	if s == "" {
		return true // optional fields
	}
	for _, r := range s {
		if r < 0x20 || r == utf8.RuneError {
			return false
		}
	}
	return true
}

func forbiddenContentViolation(i int, p Proposal, policy Policy) (Violation, bool) {
	lower := strings.ToLower(p.Content.After)
	for _, phrase := range policy.ForbiddenPhrases {
		if phrase == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(phrase)) {
			return Violation{ProposalIndex: i, Code: pipelineerr.CodePolicyViolation, Message: "content matches forbidden phrase: " + phrase}, true
		}
	}
	if p.Attribution != nil {
		for _, action := range policy.ForbiddenActions {
			if action != "" && strings.EqualFold(p.Attribution.Mode, action) {
				return Violation{ProposalIndex: i, Code: pipelineerr.CodePolicyViolation, Message: "mode matches forbidden action: " + action}, true
			}
		}
	}
	return Violation{}, false
}

func scanAndRedact(text string, redact bool) (string, int) {
	if text == "" {
		return text, 0
	}
	count := 0
	out := text
	for _, re := range sensitivePatterns {
		matches := re.FindAllStringIndex(out, -1)
		if len(matches) == 0 {
			continue
		}
		count += len(matches)
		if redact {
			out = re.ReplaceAllString(out, "[REDACTED]")
		}
	}
	return out, count
}
