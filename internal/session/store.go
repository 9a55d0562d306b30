package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/writerr/changepipeline/internal/pipelineerr"
)

// Store owns on-disk persistence for one namespace root.
type Store struct {
	cfg Config
}

// NewStore creates the root's directory layout if absent and returns a
// bound Store.
func NewStore(cfg Config) (*Store, error) {
	for _, dir := range []string{"sessions", "documents", "backups", "audit"} {
		if err := os.MkdirAll(filepath.Join(cfg.Root, dir), 0o755); err != nil {
			return nil, pipelineerr.Wrap(pipelineerr.CodeWriteFailed, "creating namespace layout", err)
		}
	}
	return &Store{cfg: cfg}, nil
}

func (s *Store) sessionPath(id string) string {
	return filepath.Join(s.cfg.Root, "sessions", id+".json")
}

func (s *Store) backupsDir(id string) string {
	return filepath.Join(s.cfg.Root, "backups", id)
}

func (s *Store) auditDir(id string) string {
	return filepath.Join(s.cfg.Root, "audit", id)
}

// Read loads a session body from sessions/<id>.json.
func (s *Store) Read(id string) (Body, error) {
	raw, err := os.ReadFile(s.sessionPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return Body{}, pipelineerr.New(pipelineerr.CodeUnknownID, "no such session")
		}
		return Body{}, pipelineerr.Wrap(pipelineerr.CodeWriteFailed, "reading session", err)
	}
	var body Body
	if err := json.Unmarshal(raw, &body); err != nil {
		return Body{}, pipelineerr.Wrap(pipelineerr.CodeCorrupt, "parsing session body", err)
	}
	return body, nil
}

// writeAtomic writes data to path by writing to a temp file in the same
// directory then renaming, so readers never observe a partial write.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// persist stamps body's checksum and writes it atomically to its session
// file.
func (s *Store) persist(body Body) (Body, error) {
	sum, err := checksum(body)
	if err != nil {
		return Body{}, pipelineerr.Wrap(pipelineerr.CodeWriteFailed, "computing checksum", err)
	}
	body.Checksum = sum
	raw, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return Body{}, pipelineerr.Wrap(pipelineerr.CodeWriteFailed, "encoding session body", err)
	}
	if err := writeAtomic(s.sessionPath(body.SessionID), raw); err != nil {
		return Body{}, pipelineerr.Wrap(pipelineerr.CodeWriteFailed, "writing session", err)
	}
	return body, nil
}

// Snapshot writes an atomic checkpoint to backups/<session_id>/<snapshot_id>.json
// and prunes old snapshots beyond MaxSnapshotsPerSession.
func (s *Store) Snapshot(body Body, now time.Time) (SnapshotMeta, error) {
	sum, err := checksum(body)
	if err != nil {
		return SnapshotMeta{}, pipelineerr.Wrap(pipelineerr.CodeWriteFailed, "computing checksum", err)
	}
	body.Checksum = sum
	snapshotID := fmt.Sprintf("%d", now.UnixNano())

	dir := s.backupsDir(body.SessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return SnapshotMeta{}, pipelineerr.Wrap(pipelineerr.CodeWriteFailed, "creating backups dir", err)
	}
	raw, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return SnapshotMeta{}, pipelineerr.Wrap(pipelineerr.CodeWriteFailed, "encoding snapshot", err)
	}
	path := filepath.Join(dir, snapshotID+".json")
	if err := writeAtomic(path, raw); err != nil {
		return SnapshotMeta{}, pipelineerr.Wrap(pipelineerr.CodeWriteFailed, "writing snapshot", err)
	}

	s.pruneSnapshots(body.SessionID)

	return SnapshotMeta{SnapshotID: snapshotID, Version: body.Version, Checksum: sum, WrittenAt: now}, nil
}

func (s *Store) pruneSnapshots(sessionID string) {
	metas := s.listSnapshots(sessionID)
	if len(metas) <= s.cfg.MaxSnapshotsPerSession {
		return
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].SnapshotID > metas[j].SnapshotID })
	for _, m := range metas[s.cfg.MaxSnapshotsPerSession:] {
		_ = os.Remove(filepath.Join(s.backupsDir(sessionID), m.SnapshotID+".json"))
	}
}

func (s *Store) listSnapshots(sessionID string) []SnapshotMeta {
	entries, err := os.ReadDir(s.backupsDir(sessionID))
	if err != nil {
		return nil
	}
	var metas []SnapshotMeta
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id := e.Name()
		const ext = ".json"
		if len(id) > len(ext) && id[len(id)-len(ext):] == ext {
			id = id[:len(id)-len(ext)]
		}
		metas = append(metas, SnapshotMeta{SnapshotID: id})
	}
	return metas
}

// Recover scans backups/<session_id> for the newest verifiably-intact
// snapshot, falling back to older ones on checksum mismatch, then replays
// any audit entries newer than the snapshot.
func (s *Store) Recover(sessionID string) (Body, Status, error) {
	metas := s.listSnapshots(sessionID)
	if len(metas) == 0 {
		return Body{}, StatusQuarantined, pipelineerr.New(pipelineerr.CodeCorrupt, "no recoverable snapshot")
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].SnapshotID > metas[j].SnapshotID })

	for _, m := range metas {
		raw, err := os.ReadFile(filepath.Join(s.backupsDir(sessionID), m.SnapshotID+".json"))
		if err != nil {
			continue
		}
		var body Body
		if err := json.Unmarshal(raw, &body); err != nil {
			continue
		}
		want := body.Checksum
		got, err := checksum(body)
		if err != nil || got != want {
			continue
		}
		entries, err := s.ReplayAuditSince(sessionID, snapshotTime(m.SnapshotID))
		if err == nil {
			body = applyAudit(body, entries)
		}
		return body, StatusOK, nil
	}
	return Body{}, StatusQuarantined, pipelineerr.New(pipelineerr.CodeCorrupt, "all snapshots failed checksum verification")
}

func snapshotTime(snapshotID string) time.Time {
	var nanos int64
	fmt.Sscanf(snapshotID, "%d", &nanos)
	return time.Unix(0, nanos)
}

// applyAudit is a hook for replaying post-snapshot audit entries onto a
// recovered body; this module's audit entries are informational (crash
// recovery's guarantee is "never snapshotted = absent")
// so replay is a no-op by default — callers needing mutation replay can
// reconstruct from AuditEntry.Detail.
func applyAudit(body Body, _ []AuditEntry) Body { return body }

// AppendAudit appends one entry to audit/<session_id>/<day>.log.
func (s *Store) AppendAudit(entry AuditEntry) error {
	dir := s.auditDir(entry.SessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return pipelineerr.Wrap(pipelineerr.CodeWriteFailed, "creating audit dir", err)
	}
	day := entry.Timestamp.UTC().Format("2006-01-02")
	f, err := os.OpenFile(filepath.Join(dir, day+".log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return pipelineerr.Wrap(pipelineerr.CodeWriteFailed, "opening audit log", err)
	}
	defer f.Close()
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = f.Write(append(raw, '\n'))
	return err
}

// ReplayAuditSince reads every audit entry for sessionID with a timestamp
// strictly after since, across all daily log files.
func (s *Store) ReplayAuditSince(sessionID string, since time.Time) ([]AuditEntry, error) {
	entries, err := os.ReadDir(s.auditDir(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []AuditEntry
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		f, err := os.Open(filepath.Join(s.auditDir(sessionID), e.Name()))
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			var entry AuditEntry
			if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
				continue
			}
			if entry.Timestamp.After(since) {
				out = append(out, entry)
			}
		}
		f.Close()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// MapDocument records which session currently owns documentKey.
func (s *Store) MapDocument(documentKey, sessionID string) error {
	path := filepath.Join(s.cfg.Root, "documents", documentKey+".json")
	raw, err := json.Marshal(map[string]string{"session_id": sessionID})
	if err != nil {
		return err
	}
	return writeAtomic(path, raw)
}

// DocumentSession resolves the active session for documentKey.
func (s *Store) DocumentSession(documentKey string) (string, error) {
	path := filepath.Join(s.cfg.Root, "documents", documentKey+".json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", pipelineerr.New(pipelineerr.CodeUnknownID, "no session mapped for document")
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", pipelineerr.Wrap(pipelineerr.CodeCorrupt, "parsing document mapping", err)
	}
	return m["session_id"], nil
}
