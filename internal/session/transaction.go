package session

import (
	"time"

	"github.com/writerr/changepipeline/internal/pipelineerr"
)

// undoFunc restores the working body to its pre-op state.
type undoFunc func(Body) Body

// applyFunc stages one mutation of the working body; both apply and its
// matching undo are captured at Write/Delete/Mutate time, following the
// "pre-images captured at write/delete time" rule.
type applyFunc func(Body) Body

type pendingOp struct {
	apply applyFunc
	undo  undoFunc
}

// Transaction buffers mutations against a working copy of a session body
// and commits them sequentially; on failure, applied mutations are undone
// in reverse order using pre-images captured when they were staged (spec
// §4.G: "commit applies writes sequentially; on any failure, writes are
// undone in reverse order using pre-images captured at write/delete time").
type Transaction struct {
	store *Store
	body  Body
	ops   []pendingOp
	done  bool
}

// Begin opens a transaction against the currently persisted body for id.
func (s *Store) Begin(id string) (*Transaction, error) {
	body, err := s.Read(id)
	if err != nil {
		return nil, err
	}
	return &Transaction{store: s, body: body}, nil
}

// Read returns the working copy's metadata value for key.
func (t *Transaction) Read(key string) (string, bool) {
	v, ok := t.body.Metadata[key]
	return v, ok
}

// Write stages body.Metadata[key] = value.
func (t *Transaction) Write(key, value string) {
	prior, hadPrior := t.body.Metadata[key]
	t.stage(
		func(b Body) Body {
			if b.Metadata == nil {
				b.Metadata = make(map[string]string)
			}
			b.Metadata[key] = value
			return b
		},
		func(b Body) Body {
			if hadPrior {
				b.Metadata[key] = prior
			} else {
				delete(b.Metadata, key)
			}
			return b
		},
	)
}

// Delete stages removal of body.Metadata[key].
func (t *Transaction) Delete(key string) {
	prior, hadPrior := t.body.Metadata[key]
	t.stage(
		func(b Body) Body {
			delete(b.Metadata, key)
			return b
		},
		func(b Body) Body {
			if hadPrior {
				if b.Metadata == nil {
					b.Metadata = make(map[string]string)
				}
				b.Metadata[key] = prior
			}
			return b
		},
	)
}

// Mutate stages an arbitrary whole-body transform (used for the Changes[]
// and Batches[] collections, which are not flat key/value pairs); the
// pre-image is the body as it stood immediately before this op.
func (t *Transaction) Mutate(f func(Body) Body) {
	pre := t.body
	t.stage(f, func(Body) Body { return pre })
}

func (t *Transaction) stage(apply applyFunc, undo undoFunc) {
	t.ops = append(t.ops, pendingOp{apply: apply, undo: undo})
	t.body = apply(t.body)
}

// Commit persists the working body atomically, leaving its Version as is. Because
// every staged op has already been applied to the in-memory working copy
// (so later ops can read earlier ones' effects), a commit failure rolls the
// working copy back by replaying undo in reverse order; nothing is ever
// written to disk for a transaction that fails.
func (t *Transaction) Commit() (Body, error) {
	if t.done {
		return Body{}, pipelineerr.New(pipelineerr.CodeWriteFailed, "transaction already finalized")
	}
	t.done = true

	persisted, err := t.store.persist(t.body)
	if err != nil {
		t.rollbackWorkingCopy()
		return Body{}, err
	}
	return persisted, nil
}

func (t *Transaction) rollbackWorkingCopy() {
	for i := len(t.ops) - 1; i >= 0; i-- {
		t.body = t.ops[i].undo(t.body)
	}
}

// Rollback discards every staged op, restoring the working copy to what it
// was at Begin, without touching the persisted body.
func (t *Transaction) Rollback() {
	t.done = true
	t.rollbackWorkingCopy()
	t.ops = nil
}

// Checkpoint is a convenience used by the snapshot scheduler: it commits
// the transaction then immediately writes a backup snapshot stamped at now.
func (t *Transaction) Checkpoint(now time.Time) (Body, SnapshotMeta, error) {
	body, err := t.Commit()
	if err != nil {
		return Body{}, SnapshotMeta{}, err
	}
	meta, err := t.store.Snapshot(body, now)
	return body, meta, err
}
