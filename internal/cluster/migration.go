package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/synapdb/synap/internal/typederr"
)

// MigrationState is a slot migration's position in the state machine (spec
// §4.6.3): Pending -> InProgress -> Complete, or ... -> Failed on
// cancel/error.
type MigrationState int

const (
	MigrationPending MigrationState = iota
	MigrationInProgress
	MigrationComplete
	MigrationFailed
)

// Migration tracks one slot's move from one node to another.
type Migration struct {
	Slot  int
	From  string
	To    string
	State MigrationState
}

// KeyMover moves one slot's keys in batches. ListSlotKeys returns up to
// limit keys belonging to slot that have not yet been migrated (an empty
// result means the slot is drained); MoveKey copies/deletes a single key
// from the source to the destination node. Supplied by the caller so this
// package stays independent of the engine and keymanager packages, the
// same seam replication.SnapshotFunc uses for the engine boundary.
type KeyMover interface {
	ListSlotKeys(slot int, limit int) []string
	MoveKey(slot int, key string) error
}

// Manager runs the migration state machine for a Topology.
type Manager struct {
	topology  *Topology
	mover     KeyMover
	batchSize int
	batchWait time.Duration

	mu         sync.Mutex
	migrations map[int]*Migration
}

// NewManager builds a Manager. batchSize and batchWait default to 100 and
// 10ms respectively when given as zero.
func NewManager(topology *Topology, mover KeyMover, batchSize int, batchWait time.Duration) *Manager {
	if batchSize <= 0 {
		batchSize = 100
	}
	if batchWait <= 0 {
		batchWait = 10 * time.Millisecond
	}
	return &Manager{
		topology:   topology,
		mover:      mover,
		batchSize:  batchSize,
		batchWait:  batchWait,
		migrations: make(map[int]*Migration),
	}
}

// StartMigration inserts a Pending entry for slot and starts a background
// worker that transitions it to InProgress and streams keys in batches,
// sleeping briefly between batches to cap CPU (spec §4.6.3). Keys remain
// readable on both from and to while the migration runs; that zero-downtime
// property is the caller's responsibility via KeyMover, not enforced here.
// A concurrent StartMigration on a slot already migrating fails with
// typederr.SlotMigrating.
func (m *Manager) StartMigration(ctx context.Context, slot int, from, to string) error {
	m.mu.Lock()
	if existing, ok := m.migrations[slot]; ok && (existing.State == MigrationPending || existing.State == MigrationInProgress) {
		m.mu.Unlock()
		return typederr.Newf(typederr.SlotMigrating, "slot %d is already migrating", slot)
	}
	mig := &Migration{Slot: slot, From: from, To: to, State: MigrationPending}
	m.migrations[slot] = mig
	m.mu.Unlock()

	go m.run(ctx, mig)
	return nil
}

func (m *Manager) run(ctx context.Context, mig *Migration) {
	m.mu.Lock()
	if mig.State == MigrationPending {
		mig.State = MigrationInProgress
	}
	m.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			mig.State = MigrationFailed
			m.mu.Unlock()
			return
		default:
		}

		m.mu.Lock()
		cancelled := mig.State == MigrationFailed
		m.mu.Unlock()
		if cancelled {
			return
		}

		keys := m.mover.ListSlotKeys(mig.Slot, m.batchSize)
		if len(keys) == 0 {
			break
		}
		failed := false
		for _, key := range keys {
			if err := m.mover.MoveKey(mig.Slot, key); err != nil {
				failed = true
				break
			}
		}
		if failed {
			m.mu.Lock()
			mig.State = MigrationFailed
			m.mu.Unlock()
			return
		}

		select {
		case <-ctx.Done():
			m.mu.Lock()
			mig.State = MigrationFailed
			m.mu.Unlock()
			return
		case <-time.After(m.batchWait):
		}
	}

	m.completeMigration(mig)
}

// completeMigration transitions mig to Complete and hands slot ownership to
// the destination node in the topology.
func (m *Manager) completeMigration(mig *Migration) {
	m.mu.Lock()
	if mig.State == MigrationFailed {
		m.mu.Unlock()
		return
	}
	mig.State = MigrationComplete
	m.mu.Unlock()

	_ = m.topology.AssignSlots(mig.To, SlotRange{Start: mig.Slot, End: mig.Slot})
}

// Status returns a copy of slot's migration record, if any is tracked.
func (m *Manager) Status(slot int) (Migration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mig, ok := m.migrations[slot]
	if !ok {
		return Migration{}, false
	}
	return *mig, true
}

// CancelMigration fails an in-flight migration. A Complete migration cannot
// be cancelled (spec §4.6.3).
func (m *Manager) CancelMigration(slot int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mig, ok := m.migrations[slot]
	if !ok {
		return typederr.Newf(typederr.InvalidValue, "no migration tracked for slot %d", slot)
	}
	if mig.State == MigrationComplete {
		return typederr.Newf(typederr.InvalidValue, "slot %d migration already complete, cannot cancel", slot)
	}
	mig.State = MigrationFailed
	return nil
}
