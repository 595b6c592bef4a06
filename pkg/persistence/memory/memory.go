// Package memory provides an in-memory persistence implementation used by
// unit tests and local development. It mirrors the semantics of the SQL
// backend, including the storage-boundary immutability guard, tenant scoping
// and transactional rollback (implemented as a snapshot restore).
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/veridianhq/veridian/pkg/models"
	"github.com/veridianhq/veridian/pkg/persistence"
)

type state struct {
	definitions map[string]*models.WorkflowDefinition // keyed tenant/id
	instances   map[string]*models.Instance
	outbox      []*models.OutboxRecord // insertion-ordered
}

func newState() *state {
	return &state{
		definitions: make(map[string]*models.WorkflowDefinition),
		instances:   make(map[string]*models.Instance),
		outbox:      []*models.OutboxRecord{},
	}
}

func (s *state) clone() *state {
	snapshot := newState()

	for key, definition := range s.definitions {
		snapshot.definitions[key] = definition.Clone()
	}

	for key, instance := range s.instances {
		snapshot.instances[key] = instance.Clone()
	}

	snapshot.outbox = make([]*models.OutboxRecord, 0, len(s.outbox))
	for _, record := range s.outbox {
		snapshot.outbox = append(snapshot.outbox, record.Clone())
	}

	return snapshot
}

func scopedKey(tenantID, id string) string {
	return tenantID + "/" + id
}

// Persistence implements persistence.Persistence in memory. A single mutex
// serializes all access, which also gives WithinTx the same isolation the SQL
// backend gets from row locks.
type Persistence struct {
	mu    sync.Mutex
	state *state
}

// NewPersistence creates an empty in-memory store.
func NewPersistence() *Persistence {
	return &Persistence{state: newState()}
}

func (p *Persistence) Definitions() persistence.DefinitionRepository {
	return &definitionRepository{p: p}
}

func (p *Persistence) Instances() persistence.InstanceRepository {
	return &instanceRepository{p: p}
}

func (p *Persistence) Outbox() persistence.OutboxRepository {
	return &outboxRepository{p: p}
}

// WithinTx snapshots the store, runs fn, and restores the snapshot when fn
// fails: either every write in fn is visible afterwards or none is.
func (p *Persistence) WithinTx(ctx context.Context, fn func(ctx context.Context, tx persistence.TxStore) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	snapshot := p.state.clone()

	tx := &txStore{p: p}

	if err := fn(ctx, tx); err != nil {
		p.state = snapshot

		return err
	}

	return nil
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// txStore exposes repositories that skip locking: the transaction already
// holds the store mutex for its whole lifetime.
type txStore struct {
	p *Persistence
}

func (t *txStore) Definitions() persistence.DefinitionRepository {
	return &definitionRepository{p: t.p, inTx: true}
}

func (t *txStore) Instances() persistence.InstanceRepository {
	return &instanceRepository{p: t.p, inTx: true}
}

func (t *txStore) Outbox() persistence.OutboxRepository {
	return &outboxRepository{p: t.p, inTx: true}
}

// lock acquires the store mutex unless the caller is already inside a
// transaction. It returns the matching unlock.
func lock(p *Persistence, inTx bool) func() {
	if inTx {
		return func() {}
	}

	p.mu.Lock()

	return p.mu.Unlock
}

func validateTenant(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("tenant id is required")
	}

	return nil
}
