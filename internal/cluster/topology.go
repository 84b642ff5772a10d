// Package cluster implements Synap's slot map, node topology, migration
// state machine, and Raft-lite leader election for topology decisions
// (spec §4.6). It never touches engine data directly: slot ownership and
// migration are modeled here, while the actual key movement is driven by
// caller-supplied callbacks (see KeyMover in migration.go) so this package
// has no dependency on the engine or keymanager packages.
//
// © 2025 Synap authors. MIT License.
package cluster

import (
	"sync"

	"github.com/synapdb/synap/internal/typederr"
)

// NodeRole distinguishes a node acting as a replication primary from one
// acting as a replica within the cluster, independent of its Raft-lite
// election role.
type NodeRole int

const (
	RolePrimary NodeRole = iota
	RoleReplica
)

// NodeState is a node's liveness as tracked by the cluster topology.
type NodeState int

const (
	NodeOnline NodeState = iota
	NodeSuspect
	NodeOffline
)

// Node is one roster entry (spec §4.6.2's "node_id → (address, state,
// slot_ranges, role, master_id, replica_ids, flags)").
type Node struct {
	ID         string
	Address    string
	State      NodeState
	SlotRanges []SlotRange
	Role       NodeRole
	MasterID   string // set when Role == RoleReplica
	ReplicaIDs []string
	Flags      map[string]bool
}

// SlotRange is an inclusive [Start, End] range of slots owned by one node.
type SlotRange struct {
	Start, End int
}

func (r SlotRange) contains(slot int) bool { return slot >= r.Start && slot <= r.End }

// Topology holds the node roster and the slot-to-owner index, mutated only
// under a single lock (spec §4.6.2's "a single topology lock").
type Topology struct {
	mu     sync.RWMutex
	nodes  map[string]*Node
	owners [slotCount]string // node ID owning each slot, "" if unassigned
}

// NewTopology returns an empty topology with no nodes and no slot
// assignments.
func NewTopology() *Topology {
	return &Topology{nodes: make(map[string]*Node)}
}

// InitializeCluster partitions all 16384 slots into len(nodeIDs) contiguous
// ranges assigned round-robin across the given node IDs, matching spec
// §4.6.2's "initialize_cluster(n) partitions 16384 into n contiguous ranges
// assigned round-robin". Every named node must already have been added via
// AddNode.
func (t *Topology) InitializeCluster(nodeIDs []string) error {
	if len(nodeIDs) == 0 {
		return typederr.New(typederr.InvalidValue, "initialize_cluster requires at least one node")
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range nodeIDs {
		if _, ok := t.nodes[id]; !ok {
			return typederr.Newf(typederr.InvalidValue, "unknown node %q", id)
		}
	}

	n := len(nodeIDs)
	base := slotCount / n
	extra := slotCount % n
	start := 0
	for i, id := range nodeIDs {
		size := base
		if i < extra {
			size++
		}
		end := start + size - 1
		rng := SlotRange{Start: start, End: end}
		t.nodes[id].SlotRanges = append(t.nodes[id].SlotRanges, rng)
		for s := start; s <= end; s++ {
			t.owners[s] = id
		}
		start = end + 1
	}
	return nil
}

// AddNode inserts node into the roster. It owns no slots until AssignSlots
// or InitializeCluster is called.
func (t *Topology) AddNode(node Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	node.SlotRanges = append([]SlotRange(nil), node.SlotRanges...)
	t.nodes[node.ID] = &node
}

// RemoveNode drops nodeID from the roster and clears its slot ownership,
// leaving those slots unassigned.
func (t *Topology) RemoveNode(nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	node, ok := t.nodes[nodeID]
	if !ok {
		return
	}
	for _, rng := range node.SlotRanges {
		for s := rng.Start; s <= rng.End; s++ {
			if t.owners[s] == nodeID {
				t.owners[s] = ""
			}
		}
	}
	delete(t.nodes, nodeID)
}

// AssignSlots grants nodeID ownership of rng, stealing any slots in that
// range from their previous owner.
func (t *Topology) AssignSlots(nodeID string, rng SlotRange) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	node, ok := t.nodes[nodeID]
	if !ok {
		return typederr.Newf(typederr.InvalidValue, "unknown node %q", nodeID)
	}
	for s := rng.Start; s <= rng.End; s++ {
		if prev := t.owners[s]; prev != "" && prev != nodeID {
			if prevNode, ok := t.nodes[prev]; ok {
				prevNode.SlotRanges = removeSlotFromRanges(prevNode.SlotRanges, s)
			}
		}
		t.owners[s] = nodeID
	}
	node.SlotRanges = append(node.SlotRanges, rng)
	return nil
}

func removeSlotFromRanges(ranges []SlotRange, slot int) []SlotRange {
	var out []SlotRange
	for _, r := range ranges {
		if !r.contains(slot) {
			out = append(out, r)
			continue
		}
		if r.Start < slot {
			out = append(out, SlotRange{Start: r.Start, End: slot - 1})
		}
		if r.End > slot {
			out = append(out, SlotRange{Start: slot + 1, End: r.End})
		}
	}
	return out
}

// UpdateNodeState sets nodeID's liveness state.
func (t *Topology) UpdateNodeState(nodeID string, state NodeState) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	node, ok := t.nodes[nodeID]
	if !ok {
		return typederr.Newf(typederr.InvalidValue, "unknown node %q", nodeID)
	}
	node.State = state
	return nil
}

// HasFullCoverage reports whether every one of the 16384 slots has an
// owner.
func (t *Topology) HasFullCoverage() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, owner := range t.owners {
		if owner == "" {
			return false
		}
	}
	return true
}

// OwnerOf returns the node ID owning slot, or "" if unassigned.
func (t *Topology) OwnerOf(slot int) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.owners[slot]
}

// Node returns a copy of nodeID's roster entry.
func (t *Topology) Node(nodeID string) (Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[nodeID]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Nodes returns a snapshot of every roster entry.
func (t *Topology) Nodes() []Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, *n)
	}
	return out
}
