package session

import (
	"sort"
	"time"

	"github.com/writerr/changepipeline/internal/eventbus"
	"github.com/writerr/changepipeline/internal/pipelineerr"
)

// Migration is one registered schema step.
type Migration struct {
	From int
	To   int
	Up   func(Body) (Body, error)
	Down func(Body) (Body, error)
}

// Migrator holds the registered migration graph and applies paths through
// it, grounded on theRebelliousNerd-codenerd's pendingMigrations registry
// shape, generalized here from a strictly linear chain to a graph since
// a schema migration requires a longest strictly-increasing path search.
type Migrator struct {
	store      *Store
	bus        *eventbus.Bus
	migrations []Migration
}

// NewMigrator constructs a Migrator bound to store and bus.
func NewMigrator(store *Store, bus *eventbus.Bus) *Migrator {
	return &Migrator{store: store, bus: bus}
}

// Register adds one migration step to the graph.
func (m *Migrator) Register(mig Migration) {
	m.migrations = append(m.migrations, mig)
}

// path computes the longest strictly-increasing sequence of steps from
// vFrom to at most vTo — fails if no path exists").
func (m *Migrator) path(vFrom, vTo int) ([]Migration, error) {
	byFrom := make(map[int][]Migration)
	for _, mig := range m.migrations {
		byFrom[mig.From] = append(byFrom[mig.From], mig)
	}
	for from := range byFrom {
		sort.Slice(byFrom[from], func(i, j int) bool { return byFrom[from][i].To > byFrom[from][j].To })
	}

	var best []Migration
	var search func(cur int, acc []Migration)
	search = func(cur int, acc []Migration) {
		if len(acc) > len(best) {
			best = append([]Migration(nil), acc...)
		}
		for _, mig := range byFrom[cur] {
			if mig.To <= vTo && mig.To > cur {
				search(mig.To, append(acc, mig))
			}
		}
	}
	search(vFrom, nil)

	if len(best) == 0 && vFrom != vTo {
		return nil, pipelineerr.New(pipelineerr.CodeMigrationFailed, "no migration path found")
	}
	return best, nil
}

// Migrate runs every step of the longest path from body.Version to vTo,
// backing up before starting and rolling every applied step back in
// reverse on any failure.
func (m *Migrator) Migrate(body Body, vTo int, now time.Time) (Body, error) {
	if body.Version == vTo {
		return body, nil
	}

	steps, err := m.path(body.Version, vTo)
	if err != nil {
		return Body{}, err
	}

	if _, err := m.store.Snapshot(body, now); err != nil {
		return Body{}, pipelineerr.Wrap(pipelineerr.CodeMigrationFailed, "pre-migration backup failed", err)
	}

	m.bus.Publish(eventbus.TopicMigrationStarted, body.SessionID)

	cur := body
	applied := 0
	for _, step := range steps {
		next, err := step.Up(cur)
		if err != nil {
			m.rollback(steps[:applied], cur, body.SessionID)
			m.bus.Publish(eventbus.TopicMigrationFailed, body.SessionID)
			m.bus.Drain()
			return Body{}, pipelineerr.Wrap(pipelineerr.CodeMigrationFailed, "migration step failed", err)
		}
		next.Version = step.To
		cur = next
		applied++
	}

	persisted, err := m.store.persist(cur)
	if err != nil {
		m.rollback(steps[:applied], body, body.SessionID)
		m.bus.Publish(eventbus.TopicMigrationFailed, body.SessionID)
		m.bus.Drain()
		return Body{}, err
	}

	m.bus.Publish(eventbus.TopicMigrationCompleted, body.SessionID)
	m.bus.Drain()
	return persisted, nil
}

// rollback walks applied steps in reverse, calling each Down function, and
// persists the pre-migration body as the final state (spec: "Migration
// failures leave the session at its pre-migration version via rollback").
func (m *Migrator) rollback(applied []Migration, cur Body, sessionID string) {
	for i := len(applied) - 1; i >= 0; i-- {
		reverted, err := applied[i].Down(cur)
		if err != nil {
			continue
		}
		cur = reverted
		cur.Version = applied[i].From
	}
	_, _ = m.store.persist(cur)
	m.bus.Publish(eventbus.TopicMigrationRolledBack, sessionID)
}
