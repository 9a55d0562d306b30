package session

import (
	"time"

	"github.com/writerr/changepipeline/internal/eventbus"
	"github.com/writerr/changepipeline/internal/pipelineerr"
)

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Manager is the State Manager's external surface: session lifecycle,
// transactions, periodic snapshots, and crash recovery, composed from
// Store/Migrator/Cache.
type Manager struct {
	store    *Store
	bus      *eventbus.Bus
	migrator *Migrator
	cache    *Cache
	clock    Clock

	lastSnapshot map[string]time.Time
}

// New constructs a Manager rooted at cfg.Root.
func New(cfg Config, bus *eventbus.Bus) (*Manager, error) {
	store, err := NewStore(cfg)
	if err != nil {
		return nil, err
	}
	return &Manager{
		store:        store,
		bus:          bus,
		migrator:     NewMigrator(store, bus),
		cache:        NewCache(cfg),
		clock:        realClock{},
		lastSnapshot: make(map[string]time.Time),
	}, nil
}

// WithClock overrides the time source, for tests.
func (m *Manager) WithClock(c Clock) *Manager {
	m.clock = c
	return m
}

// Migrator exposes the bound migration registry for callers that need to
// Register steps.
func (m *Manager) Migrator() *Migrator { return m.migrator }

// Cache exposes the bound in-memory cache.
func (m *Manager) Cache() *Cache { return m.cache }

// StartSession creates a new, empty session body at schema version 1 and
// persists it, emitting SessionStarted.
func (m *Manager) StartSession(sessionID string) (Body, error) {
	body := Body{
		Version:   1,
		SessionID: sessionID,
		Metadata:  make(map[string]string),
	}
	persisted, err := m.store.persist(body)
	if err != nil {
		return Body{}, err
	}
	m.lastSnapshot[sessionID] = m.clock.Now()
	m.bus.Publish(eventbus.TopicSessionStarted, sessionID)
	m.bus.Drain()
	return persisted, nil
}

// EndSession emits SessionEnded; the session body itself remains on disk
// (ending a session is a lifecycle event, not a deletion).
func (m *Manager) EndSession(sessionID string) {
	m.bus.Publish(eventbus.TopicSessionEnded, sessionID)
	m.bus.Drain()
}

// Begin opens a Transaction against sessionID's current persisted body.
func (m *Manager) Begin(sessionID string) (*Transaction, error) {
	return m.store.Begin(sessionID)
}

// Checkpoint runs the periodic/explicit snapshot task for sessionID: reads
// the current persisted body and writes a backup, regardless of how long
// it has been since the last one.
func (m *Manager) Checkpoint(sessionID string) (SnapshotMeta, error) {
	body, err := m.store.Read(sessionID)
	if err != nil {
		return SnapshotMeta{}, err
	}
	meta, err := m.store.Snapshot(body, m.clock.Now())
	if err == nil {
		m.lastSnapshot[sessionID] = m.clock.Now()
	}
	return meta, err
}

// MaybeCheckpoint runs Checkpoint only if interval has elapsed since the
// last one for sessionID; callers invoke this from their main
// loop's periodic tick.
func (m *Manager) MaybeCheckpoint(sessionID string, interval time.Duration) (bool, SnapshotMeta, error) {
	last, ok := m.lastSnapshot[sessionID]
	if ok && m.clock.Now().Sub(last) < interval {
		return false, SnapshotMeta{}, nil
	}
	meta, err := m.Checkpoint(sessionID)
	return err == nil, meta, err
}

// Recover restores sessionID from its newest intact snapshot, persisting
// the recovered body as the session's current state. If no snapshot is
// recoverable, the session is quarantined and an error is returned.
func (m *Manager) Recover(sessionID string) (Body, Status, error) {
	body, status, err := m.store.Recover(sessionID)
	if err != nil {
		return Body{}, status, err
	}
	if _, err := m.store.persist(body); err != nil {
		return Body{}, StatusCorrupt, pipelineerr.Wrap(pipelineerr.CodeCorrupt, "persisting recovered body", err)
	}
	return body, status, nil
}

// Migrate runs the registered migration path for sessionID to vTo.
func (m *Manager) Migrate(sessionID string, vTo int) (Body, error) {
	body, err := m.store.Read(sessionID)
	if err != nil {
		return Body{}, err
	}
	return m.migrator.Migrate(body, vTo, m.clock.Now())
}
