// Package session implements the session/state manager: versioned JSON
// persistence, transactions with rollback, periodic snapshots, crash
// recovery, schema migrations, and a bounded in-memory cache. The
// migration runner follows a pending-migration registry shape, and the
// audit log is a typed, append-only event stream.
package session

import (
	"time"

	"github.com/writerr/changepipeline/internal/change"
)

// CacheStrategy selects the eviction policy for the in-memory change cache.
type CacheStrategy string

const (
	CacheLRU      CacheStrategy = "LRU"
	CacheLFU      CacheStrategy = "LFU"
	CacheTTL      CacheStrategy = "TTL"
	CachePriority CacheStrategy = "Priority"
)

// MemoryPressure levels drive eviction behavior.
type MemoryPressure string

const (
	PressureNormal   MemoryPressure = "Normal"
	PressureHigh     MemoryPressure = "High"
	PressureCritical MemoryPressure = "Critical"
)

// Status is the health of a persisted session.
type Status string

const (
	StatusOK          Status = "OK"
	StatusCorrupt     Status = "Corrupt"
	StatusQuarantined Status = "Quarantined"
)

// Config bounds snapshotting, migrations, and the in-memory cache.
type Config struct {
	Root                      string
	SnapshotInterval          time.Duration
	MaxSnapshotsPerSession    int
	CompressionThresholdBytes int
	MaxCacheBytes             int64
	CacheStrategy             CacheStrategy
	LowMemoryThresholdBytes   int64
}

// DefaultConfig returns the session manager's baseline configuration.
func DefaultConfig(root string) Config {
	return Config{
		Root:                   root,
		SnapshotInterval:       60 * time.Second,
		MaxSnapshotsPerSession: 5,
		CompressionThresholdBytes: 4096,
		MaxCacheBytes:          64 << 20,
		CacheStrategy:          CacheLRU,
		LowMemoryThresholdBytes: 8 << 20,
	}
}

// Body is the JSON document persisted per session.
type Body struct {
	Version   int               `json:"version"`
	SessionID string            `json:"session"`
	Changes   []*change.Change  `json:"changes"`
	Batches   []BatchSnapshot   `json:"batches"`
	Metadata  map[string]string `json:"metadata"`
	Checksum  string            `json:"checksum"`
}

// BatchSnapshot is the serialized projection of a batch.Group embedded in a
// session body; kept independent of the batch package's in-memory Manager
// so the session document is a pure value type.
type BatchSnapshot struct {
	GroupID       string   `json:"group_id"`
	OperationType string   `json:"operation_type"`
	Status        string   `json:"status"`
	ParentGroupID *string  `json:"parent_group_id,omitempty"`
	ChildGroupIDs []string `json:"child_group_ids,omitempty"`
	MemberIDs     []string `json:"member_ids,omitempty"`
}

// AuditEntry is one append-only record in audit/<session_id>/<day>.log.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	Actor     string    `json:"actor"`
	Detail    string    `json:"detail"`
}

// SnapshotMeta describes one backups/<session_id>/<snapshot_id>.json file.
type SnapshotMeta struct {
	SnapshotID string
	Version    int
	Checksum   string
	WrittenAt  time.Time
}
