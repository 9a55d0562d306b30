// Package query implements the query subsystem: a fluent predicate builder
// compiled to an index plan, executed against an in-memory SQLite mirror
// of the change store so its FTS5 substring/fuzzy engine can be exercised
// here too, while internal/session remains the JSON-file source of truth.
package query

import (
	"database/sql"

	_ "modernc.org/sqlite"

	"github.com/writerr/changepipeline/internal/change"
	"github.com/writerr/changepipeline/internal/pipelineerr"
)

const schema = `
CREATE TABLE changes (
	id TEXT PRIMARY KEY,
	session_id TEXT,
	type TEXT,
	category TEXT,
	source TEXT,
	status TEXT,
	confidence REAL,
	timestamp_unix INTEGER,
	before_text TEXT,
	after_text TEXT,
	provider TEXT,
	model TEXT,
	mode TEXT,
	constraints TEXT,
	has_warnings INTEGER,
	has_threats INTEGER
);
CREATE INDEX idx_changes_session ON changes(session_id);
CREATE INDEX idx_changes_status ON changes(status);
CREATE INDEX idx_changes_category ON changes(category);
CREATE INDEX idx_changes_source ON changes(source);
CREATE INDEX idx_changes_confidence ON changes(confidence);
CREATE INDEX idx_changes_timestamp ON changes(timestamp_unix);
CREATE INDEX idx_changes_provider ON changes(provider);
CREATE INDEX idx_changes_model ON changes(model);

CREATE VIRTUAL TABLE changes_fts USING fts5(id UNINDEXED, before_text, after_text, provider, constraints, content='changes', content_rowid='rowid');
`

// IndexedChange pairs a change with the submission-time validation flags
// the Query Subsystem filters on (`with_validation_warnings`,
// `with_security_threats`); those flags live on the validation Report at
// submission time, not on change.Change itself, so callers (internal/core)
// thread them through here when indexing.
type IndexedChange struct {
	Change      *change.Change
	HasWarnings bool
	HasThreats  bool
}

// Index is an in-memory SQLite mirror of a change.Store, rebuilt or
// incrementally updated by the caller on store mutation events, and
// queried via Builder-compiled plans.
type Index struct {
	db *sql.DB
}

// NewIndex opens a fresh, in-process SQLite database (":memory:") and
// creates its schema.
func NewIndex() (*Index, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.CodeInvalidPredicate, "opening query index", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, pipelineerr.Wrap(pipelineerr.CodeInvalidPredicate, "creating query index schema", err)
	}
	return &Index{db: db}, nil
}

// Close releases the underlying SQLite connection.
func (idx *Index) Close() error { return idx.db.Close() }

// Upsert indexes or re-indexes a single change.
func (idx *Index) Upsert(ic IndexedChange) error {
	c := ic.Change
	var provider, model, mode, constraints string
	if c.Attribution != nil {
		provider = c.Attribution.Provider
		model = c.Attribution.Model
		mode = c.Attribution.Mode
		constraints = c.Attribution.Constraints
	}

	_, err := idx.db.Exec(`
		INSERT INTO changes (id, session_id, type, category, source, status, confidence, timestamp_unix, before_text, after_text, provider, model, mode, constraints, has_warnings, has_threats)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id=excluded.session_id, type=excluded.type, category=excluded.category,
			source=excluded.source, status=excluded.status, confidence=excluded.confidence,
			timestamp_unix=excluded.timestamp_unix, before_text=excluded.before_text,
			after_text=excluded.after_text, provider=excluded.provider, model=excluded.model,
			mode=excluded.mode, constraints=excluded.constraints,
			has_warnings=excluded.has_warnings, has_threats=excluded.has_threats
	`, c.ID, c.SessionID, string(c.Type), string(c.Category), c.Source, string(c.Status),
		c.Confidence, c.Timestamp.Unix(), c.Content.Before, c.Content.After,
		provider, model, mode, constraints, boolToInt(ic.HasWarnings), boolToInt(ic.HasThreats))
	if err != nil {
		return pipelineerr.Wrap(pipelineerr.CodeInvalidPredicate, "indexing change", err)
	}

	_, err = idx.db.Exec(`DELETE FROM changes_fts WHERE id = ?`, c.ID)
	if err != nil {
		return err
	}
	_, err = idx.db.Exec(`INSERT INTO changes_fts(rowid, id, before_text, after_text, provider, constraints)
		SELECT rowid, id, before_text, after_text, provider, constraints FROM changes WHERE id = ?`, c.ID)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Remove drops a change from the index (store mutation invalidation).
func (idx *Index) Remove(id string) error {
	if _, err := idx.db.Exec(`DELETE FROM changes_fts WHERE id = ?`, id); err != nil {
		return err
	}
	_, err := idx.db.Exec(`DELETE FROM changes WHERE id = ?`, id)
	return err
}

// Rebuild clears and reloads the index from universe, used after any bulk
// store mutation the caller doesn't want to replay incrementally.
func (idx *Index) Rebuild(universe []IndexedChange) error {
	if _, err := idx.db.Exec(`DELETE FROM changes_fts`); err != nil {
		return err
	}
	if _, err := idx.db.Exec(`DELETE FROM changes`); err != nil {
		return err
	}
	for _, ic := range universe {
		if err := idx.Upsert(ic); err != nil {
			return err
		}
	}
	return nil
}
