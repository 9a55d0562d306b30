package query

import (
	"fmt"
	"strings"
	"time"
)

// SortDirection orders a sort_by clause.
type SortDirection string

const (
	SortAscending  SortDirection = "asc"
	SortDescending SortDirection = "desc"
)

// TimeUnit bounds an in_last(n, unit) predicate.
type TimeUnit string

const (
	UnitMinute TimeUnit = "minute"
	UnitHour   TimeUnit = "hour"
	UnitDay    TimeUnit = "day"
	UnitWeek   TimeUnit = "week"
)

func (u TimeUnit) duration(n int) time.Duration {
	switch u {
	case UnitMinute:
		return time.Duration(n) * time.Minute
	case UnitHour:
		return time.Duration(n) * time.Hour
	case UnitDay:
		return time.Duration(n) * 24 * time.Hour
	case UnitWeek:
		return time.Duration(n) * 7 * 24 * time.Hour
	default:
		return time.Duration(n) * time.Hour
	}
}

// TextSearch configures text_contains.
type TextSearch struct {
	Query         string
	CaseSensitive bool
	Fuzzy         bool
	MaxEditDist   int
	Fields        []string // subset of "before_text","after_text","provider","constraints"; empty = all
}

// Builder composes predicates fluently, compiled to an index.Plan by
// Compile.
type Builder struct {
	idx *Index

	conds []string
	args  []any

	text      *TextSearch
	sortField string
	sortDir   SortDirection
	limit     int
	offset    int
}

// NewBuilder opens a query against idx.
func NewBuilder(idx *Index) *Builder {
	return &Builder{idx: idx, sortField: "timestamp_unix", sortDir: SortAscending}
}

func (b *Builder) where(clause string, arg any) *Builder {
	b.conds = append(b.conds, clause)
	b.args = append(b.args, arg)
	return b
}

func (b *Builder) ByProvider(provider string) *Builder { return b.where("provider = ?", provider) }
func (b *Builder) ByModel(model string) *Builder       { return b.where("model = ?", model) }
func (b *Builder) ByMode(mode string) *Builder         { return b.where("mode = ?", mode) }
func (b *Builder) BySource(source string) *Builder     { return b.where("source = ?", source) }
func (b *Builder) ByCategory(category string) *Builder { return b.where("category = ?", category) }
func (b *Builder) ByStatus(status string) *Builder     { return b.where("status = ?", status) }
func (b *Builder) BySession(sessionID string) *Builder { return b.where("session_id = ?", sessionID) }

func (b *Builder) MinConfidence(min float64) *Builder {
	return b.where("confidence >= ?", min)
}

func (b *Builder) WithAttribution() *Builder {
	return b.where("(provider != '' OR model != '')", nil)
}

func (b *Builder) HasConstraint() *Builder {
	return b.where("constraints != ''", nil)
}

func (b *Builder) WithValidationWarnings() *Builder {
	return b.where("has_warnings = 1", nil)
}

func (b *Builder) WithSecurityThreats() *Builder {
	return b.where("has_threats = 1", nil)
}

func (b *Builder) InTimeRange(from, to time.Time) *Builder {
	b.conds = append(b.conds, "timestamp_unix >= ? AND timestamp_unix <= ?")
	b.args = append(b.args, from.Unix(), to.Unix())
	return b
}

func (b *Builder) InLast(n int, unit TimeUnit) *Builder {
	cutoff := time.Now().Add(-unit.duration(n))
	return b.where("timestamp_unix >= ?", cutoff.Unix())
}

func (b *Builder) TextContains(ts TextSearch) *Builder {
	b.text = &ts
	return b
}

func (b *Builder) SortBy(field string, dir SortDirection) *Builder {
	b.sortField = field
	b.sortDir = dir
	return b
}

func (b *Builder) Limit(n int) *Builder  { b.limit = n; return b }
func (b *Builder) Offset(n int) *Builder { b.offset = n; return b }

// Fingerprint returns a stable string identifying this builder's compiled
// query, used as the result-cache key.
func (b *Builder) Fingerprint() string {
	var sb strings.Builder
	for i, c := range b.conds {
		fmt.Fprintf(&sb, "%s=%v;", c, b.args[i])
	}
	if b.text != nil {
		fmt.Fprintf(&sb, "text=%+v;", *b.text)
	}
	fmt.Fprintf(&sb, "sort=%s:%s;limit=%d;offset=%d", b.sortField, b.sortDir, b.limit, b.offset)
	return sb.String()
}

var allowedSortFields = map[string]bool{
	"timestamp_unix": true, "confidence": true, "id": true, "status": true, "category": true, "source": true,
}

func (b *Builder) compileSQL() (string, []any, error) {
	where := append([]string(nil), b.conds...)
	args := append([]any(nil), b.args...)

	base := "SELECT id FROM changes"
	if b.text != nil {
		matchQuery := b.text.Query
		if len(b.text.Fields) > 0 {
			parts := make([]string, len(b.text.Fields))
			for i, f := range b.text.Fields {
				parts[i] = f + ":" + b.text.Query
			}
			matchQuery = strings.Join(parts, " OR ")
		}
		base = "SELECT changes.id FROM changes JOIN changes_fts ON changes.rowid = changes_fts.rowid"
		where = append([]string{"changes_fts MATCH ?"}, where...)
		args = append([]any{matchQuery}, args...)
	}

	if len(where) > 0 {
		base += " WHERE " + strings.Join(where, " AND ")
	}

	field := b.sortField
	if !allowedSortFields[field] {
		field = "timestamp_unix"
	}
	dir := "ASC"
	if b.sortDir == SortDescending {
		dir = "DESC"
	}
	base += fmt.Sprintf(" ORDER BY %s %s", field, dir)

	if b.limit > 0 {
		base += fmt.Sprintf(" LIMIT %d", b.limit)
		if b.offset > 0 {
			base += fmt.Sprintf(" OFFSET %d", b.offset)
		}
	}
	return base, args, nil
}

// IDs executes the compiled plan and returns matching change ids in order.
// If a fuzzy TextSearch is configured, results are additionally
// post-filtered by edit distance against the indexed before/after text.
func (b *Builder) IDs() ([]string, error) {
	sqlStr, args, err := b.compileSQL()
	if err != nil {
		return nil, err
	}
	rows, err := b.idx.db.Query(sqlStr, args...)
	if err != nil {
		return nil, err
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if b.text == nil || !b.text.Fuzzy {
		return ids, nil
	}
	return b.idx.filterFuzzy(ids, b.text)
}

// filterFuzzy re-checks each candidate id's before/after text against
// ts.Query within ts.MaxEditDist (0 meaning exact containment only).
func (idx *Index) filterFuzzy(ids []string, ts *TextSearch) ([]string, error) {
	maxDist := ts.MaxEditDist
	var kept []string
	for _, id := range ids {
		var before, after string
		if err := idx.db.QueryRow(`SELECT before_text, after_text FROM changes WHERE id = ?`, id).Scan(&before, &after); err != nil {
			continue
		}
		if containsFuzzy(before, ts.Query, maxDist) || containsFuzzy(after, ts.Query, maxDist) {
			kept = append(kept, id)
		}
	}
	return kept, nil
}
